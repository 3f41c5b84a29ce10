package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fieldsync-agent/internal/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StateReceiver is the slice of the optimistic engine the listener feeds:
// authoritative merges plus dropping overrides a remote resolution made
// stale.
type StateReceiver interface {
	UpdateServerState(milestones []*domain.Milestone)
	DiscardOptimistic(milestoneIDs ...string)
}

// RemoteUpdateFunc is invoked for changes originating from another user's
// session, so the caller can surface a notification.
type RemoteUpdateFunc func(milestones []*domain.Milestone, userID string)

// Listener bridges the central server's realtime fan-out into the
// optimistic engine. It dials out, reconnects with a fixed wait on any
// failure, and dispatches inbound messages until its context is cancelled.
type Listener struct {
	url            string
	authToken      string
	localUserID    string
	receiver       StateReceiver
	onRemoteUpdate RemoteUpdateFunc
	pongWait       time.Duration
	reconnectWait  time.Duration
	logger         *zap.Logger
}

func NewListener(
	url, authToken, localUserID string,
	receiver StateReceiver,
	onRemoteUpdate RemoteUpdateFunc,
	pongWait, reconnectWait time.Duration,
	logger *zap.Logger,
) *Listener {
	return &Listener{
		url:            url,
		authToken:      authToken,
		localUserID:    localUserID,
		receiver:       receiver,
		onRemoteUpdate: onRemoteUpdate,
		pongWait:       pongWait,
		reconnectWait:  reconnectWait,
		logger:         logger,
	}
}

func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.connectAndRead(ctx); err != nil {
			l.logger.Warn("realtime connection lost", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.reconnectWait):
		}
	}
}

func (l *Listener) connectAndRead(ctx context.Context) error {
	header := http.Header{}
	if l.authToken != "" {
		header.Set("Authorization", "Bearer "+l.authToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.url, err)
	}
	defer conn.Close()

	l.logger.Info("realtime connection established", zap.String("url", l.url))

	// Unblock the read loop when the context goes away.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(l.pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(l.pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(l.pongWait))

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			l.logger.Warn("discarding malformed realtime message", zap.Error(err))
			continue
		}

		if err := l.handle(&msg); err != nil {
			l.logger.Warn("error handling realtime message",
				zap.String("type", string(msg.Type)),
				zap.Error(err),
			)
		}
	}
}

func (l *Listener) handle(msg *Message) error {
	switch msg.Type {
	case TypeMilestoneUpdate:
		var p MilestoneUpdatePayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if p.Milestone == nil {
			return fmt.Errorf("milestone_update without milestone")
		}
		milestones := []*domain.Milestone{p.Milestone}
		l.receiver.UpdateServerState(milestones)
		l.notifyRemote(milestones, p.UserID)

	case TypeBulkMilestoneUpdate:
		var p BulkMilestoneUpdatePayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if len(p.Milestones) == 0 {
			return nil
		}
		l.receiver.UpdateServerState(p.Milestones)
		l.notifyRemote(p.Milestones, p.UserID)

	case TypeConflictResolved:
		var p ConflictResolvedPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if p.MilestoneID != "" {
			l.receiver.DiscardOptimistic(p.MilestoneID)
		}
		if p.Milestone != nil {
			l.receiver.UpdateServerState([]*domain.Milestone{p.Milestone})
		}

	case TypeBulkUndo:
		var p BulkUndoPayload
		if err := msg.UnmarshalPayload(&p); err != nil {
			return err
		}
		if len(p.MilestoneIDs) > 0 {
			l.receiver.DiscardOptimistic(p.MilestoneIDs...)
		}
		if len(p.Milestones) > 0 {
			l.receiver.UpdateServerState(p.Milestones)
		}

	case TypePing, TypePong:
		// Control chatter at the message level; nothing to do.

	default:
		l.logger.Debug("ignoring unknown realtime message", zap.String("type", string(msg.Type)))
	}

	return nil
}

func (l *Listener) notifyRemote(milestones []*domain.Milestone, userID string) {
	if userID == "" || userID == l.localUserID {
		return
	}
	if l.onRemoteUpdate != nil {
		l.onRemoteUpdate(milestones, userID)
	}
}
