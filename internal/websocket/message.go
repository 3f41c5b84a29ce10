package websocket

import (
	"encoding/json"
	"time"

	"fieldsync-agent/internal/domain"
)

type MessageType string

const (
	TypeMilestoneUpdate     MessageType = "milestone_update"
	TypeBulkMilestoneUpdate MessageType = "bulk_milestone_update"
	TypeConflictResolved    MessageType = "conflict_resolved"
	TypeBulkUndo            MessageType = "bulk_operation_undone"
	TypePing                MessageType = "ping"
	TypePong                MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type MilestoneUpdatePayload struct {
	Milestone *domain.Milestone `json:"milestone"`
	UserID    string            `json:"user_id"`
}

type BulkMilestoneUpdatePayload struct {
	Milestones    []*domain.Milestone `json:"milestones"`
	TransactionID string              `json:"transaction_id"`
	UserID        string              `json:"user_id"`
}

type ConflictResolvedPayload struct {
	MilestoneID string            `json:"milestone_id"`
	Milestone   *domain.Milestone `json:"milestone"`
	UserID      string            `json:"user_id"`
}

type BulkUndoPayload struct {
	MilestoneIDs  []string            `json:"milestone_ids"`
	Milestones    []*domain.Milestone `json:"milestones"`
	TransactionID string              `json:"transaction_id"`
	UserID        string              `json:"user_id"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
