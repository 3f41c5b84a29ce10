package domain

import "time"

type OperationStatus string

const (
	OperationPending OperationStatus = "pending"
	OperationSuccess OperationStatus = "success"
	OperationError   OperationStatus = "error"
)

// MilestoneUpdate is the intent to change one milestone's value. The
// operation id is client-generated and identifies the operation through
// optimistic application, offline queueing and replay confirmation.
type MilestoneUpdate struct {
	OperationID   string       `json:"operation_id"`
	MilestoneID   string       `json:"milestone_id"`
	ComponentID   string       `json:"component_id"`
	MilestoneName string       `json:"milestone_name"`
	WorkflowMode  WorkflowMode `json:"workflow_mode"`
	Completed     *bool        `json:"completed,omitempty"`
	Value         *float64     `json:"value,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// PersistedState is the durable snapshot of the not-yet-submitted queues.
// It survives agent restarts; every queued entry already has its optimistic
// state applied, so replay never re-applies it locally.
type PersistedState struct {
	OfflineQueue  []*MilestoneUpdate `json:"offline_queue"`
	RollbackQueue []*MilestoneUpdate `json:"rollback_queue"`
}

// Conflict pairs a pending optimistic snapshot with a newer authoritative
// snapshot that disagrees with it. It is reported, never auto-resolved.
type Conflict struct {
	MilestoneID string     `json:"milestone_id"`
	Local       *Milestone `json:"local"`
	Remote      *Milestone `json:"remote"`
	DetectedAt  time.Time  `json:"detected_at"`
}

type BulkUpdateResult struct {
	Successful    int              `json:"successful"`
	Failed        int              `json:"failed"`
	TransactionID string           `json:"transaction_id"`
	Results       []BulkItemResult `json:"results"`
}

type BulkItemResult struct {
	ComponentID   string     `json:"component_id"`
	MilestoneName string     `json:"milestone_name"`
	Success       bool       `json:"success"`
	Milestone     *Milestone `json:"milestone,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type SyncResult struct {
	SyncTimestamp       time.Time             `json:"sync_timestamp"`
	OperationsProcessed int                   `json:"operations_processed"`
	Successful          int                   `json:"successful"`
	Failed              int                   `json:"failed"`
	Results             []SyncOperationResult `json:"results"`
}

type SyncOperationResult struct {
	OperationID string     `json:"operation_id"`
	Success     bool       `json:"success"`
	Result      *Milestone `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}
