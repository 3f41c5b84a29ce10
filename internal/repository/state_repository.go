package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"fieldsync-agent/internal/domain"

	"github.com/go-kivik/kivik/v4"
	"go.uber.org/zap"
)

// stateDocID is the fixed document the agent owns in its local store. One
// agent per store; concurrent writers are out of scope.
const stateDocID = "agent:milestone_offline_state"

// StateRepository persists the offline and rollback queues across agent
// restarts.
type StateRepository interface {
	Load(ctx context.Context) (*domain.PersistedState, error)
	Save(ctx context.Context, state *domain.PersistedState) error
}

type stateRepository struct {
	client *kivik.Client
	dbName string
	logger *zap.Logger
}

func NewStateRepository(client *kivik.Client, dbName string, logger *zap.Logger) StateRepository {
	return &stateRepository{
		client: client,
		dbName: dbName,
		logger: logger,
	}
}

type stateDocument struct {
	ID            string                    `json:"_id"`
	Rev           string                    `json:"_rev,omitempty"`
	OfflineQueue  []*domain.MilestoneUpdate `json:"offline_queue"`
	RollbackQueue []*domain.MilestoneUpdate `json:"rollback_queue"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

func (r *stateRepository) Load(ctx context.Context) (*domain.PersistedState, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, stateDocID)

	var doc stateDocument
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return &domain.PersistedState{}, nil
		}
		return nil, fmt.Errorf("failed to load offline state: %w", err)
	}

	return &domain.PersistedState{
		OfflineQueue:  doc.OfflineQueue,
		RollbackQueue: doc.RollbackQueue,
	}, nil
}

func (r *stateRepository) Save(ctx context.Context, state *domain.PersistedState) error {
	db := r.client.DB(r.dbName)

	doc := stateDocument{
		ID:            stateDocID,
		OfflineQueue:  state.OfflineQueue,
		RollbackQueue: state.RollbackQueue,
		UpdatedAt:     time.Now(),
	}

	var existing stateDocument
	row := db.Get(ctx, stateDocID)
	if err := row.ScanDoc(&existing); err == nil {
		doc.Rev = existing.Rev
	} else if kivik.HTTPStatus(err) != http.StatusNotFound {
		return fmt.Errorf("failed to fetch offline state for update: %w", err)
	}

	if _, err := db.Put(ctx, stateDocID, doc); err != nil {
		return fmt.Errorf("failed to save offline state: %w", err)
	}

	return nil
}
