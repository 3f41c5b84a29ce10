package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"fieldsync-agent/internal/client"
	"fieldsync-agent/internal/domain"
	"fieldsync-agent/internal/repository"

	"go.uber.org/zap"
)

const (
	// maxSubmitAttempts bounds every network submission: one initial try
	// plus two retries.
	maxSubmitAttempts = 3

	defaultRetryDelay = 150 * time.Millisecond
)

// Callbacks are the optional caller-supplied hooks. A nil hook means the
// outcome is handled silently.
type Callbacks struct {
	OnSuccess  func(update *domain.MilestoneUpdate, confirmed *domain.Milestone)
	OnError    func(update *domain.MilestoneUpdate, err error)
	OnConflict func(update *domain.MilestoneUpdate, conflict *domain.Conflict)
}

type optimisticEntry struct {
	snapshot  *domain.Milestone
	update    *domain.MilestoneUpdate
	appliedAt time.Time
	gen       uint64
}

// OptimisticManager owns the milestone sync state: the authoritative
// last-known server snapshots, the optimistic overrides pending
// confirmation, per-milestone operation status, and the durable offline
// queue. Updates become visible to readers immediately; the network
// exchange happens on a background goroutine and reconciles through the
// confirmation, retry and rollback paths.
//
// A per-milestone generation counter makes a superseding update win: the
// confirmation or rollback of an older in-flight operation for the same
// milestone is ignored instead of clobbering newer optimistic state.
type OptimisticManager struct {
	api        client.API
	states     repository.StateRepository
	userID     string
	callbacks  Callbacks
	retryDelay time.Duration
	logger     *zap.Logger

	mu          sync.RWMutex
	serverState map[string]*domain.Milestone
	optimistic  map[string]*optimisticEntry
	status      map[string]domain.OperationStatus
	generations map[string]uint64

	offlineQueue  []*domain.MilestoneUpdate
	rollbackQueue []*domain.MilestoneUpdate
	online        bool

	// Wakes the single drain worker. Buffered so an online transition
	// during an active drain is not lost.
	wake chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewOptimisticManager constructs the manager and best-effort restores the
// offline queue from the durable store. The manager starts online; the
// connectivity monitor flips it as the environment changes. A zero
// retryDelay selects the default.
func NewOptimisticManager(
	api client.API,
	states repository.StateRepository,
	userID string,
	callbacks Callbacks,
	retryDelay time.Duration,
	logger *zap.Logger,
) *OptimisticManager {
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &OptimisticManager{
		api:         api,
		states:      states,
		userID:      userID,
		callbacks:   callbacks,
		retryDelay:  retryDelay,
		logger:      logger,
		serverState: make(map[string]*domain.Milestone),
		optimistic:  make(map[string]*optimisticEntry),
		status:      make(map[string]domain.OperationStatus),
		generations: make(map[string]uint64),
		online:      true,
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	m.restorePersistedState()

	m.wg.Add(1)
	go m.drainLoop()

	return m
}

func (m *OptimisticManager) restorePersistedState() {
	state, err := m.states.Load(m.ctx)
	if err != nil {
		m.logger.Warn("could not restore offline state, starting empty", zap.Error(err))
		return
	}

	// Entries stranded in the rollback queue were mid-replay when the
	// previous process died; put them back behind the offline queue so
	// they get another pass.
	m.offlineQueue = append(state.OfflineQueue, state.RollbackQueue...)
	if len(m.offlineQueue) > 0 {
		m.logger.Info("restored offline queue", zap.Int("entries", len(m.offlineQueue)))
	}
}

// UpdateServerState merges authoritative snapshots into the server-state
// map. A snapshot that disagrees with a pending optimistic override and
// carries an updated_at newer than the override's apply time raises the
// conflict callback; the override stays in place either way. Never fails
// and never blocks on the network.
func (m *OptimisticManager) UpdateServerState(milestones []*domain.Milestone) {
	type pendingConflict struct {
		update   *domain.MilestoneUpdate
		conflict *domain.Conflict
	}
	var conflicts []pendingConflict

	m.mu.Lock()
	for _, incoming := range milestones {
		if incoming == nil || incoming.ID == "" {
			continue
		}

		if entry, ok := m.optimistic[incoming.ID]; ok {
			if !domain.ValuesEqual(entry.snapshot, incoming) && incoming.UpdatedAt.After(entry.appliedAt) {
				conflicts = append(conflicts, pendingConflict{
					update: entry.update,
					conflict: &domain.Conflict{
						MilestoneID: incoming.ID,
						Local:       entry.snapshot.Clone(),
						Remote:      incoming.Clone(),
						DetectedAt:  time.Now(),
					},
				})
			}
		}

		m.serverState[incoming.ID] = incoming.Clone()
	}
	m.mu.Unlock()

	if m.callbacks.OnConflict == nil {
		return
	}
	for _, c := range conflicts {
		m.logger.Warn("milestone conflict detected",
			zap.String("milestone_id", c.conflict.MilestoneID),
			zap.Time("remote_updated_at", c.conflict.Remote.UpdatedAt),
		)
		m.callbacks.OnConflict(c.update, c.conflict)
	}
}

// ApplyOptimisticUpdate applies the update to the local view and returns the
// new snapshot synchronously. Online, the network submission is dispatched
// in the background; offline, the update joins the durable queue instead.
func (m *OptimisticManager) ApplyOptimisticUpdate(update *domain.MilestoneUpdate) (*domain.Milestone, error) {
	m.mu.Lock()

	current := m.lookupLocked(update.MilestoneID)
	if current == nil {
		m.mu.Unlock()
		return nil, &NotFoundError{MilestoneID: update.MilestoneID}
	}
	if !update.WorkflowMode.Valid() {
		m.mu.Unlock()
		return nil, &UnsupportedWorkflowError{Mode: update.WorkflowMode}
	}

	now := time.Now()
	next, err := domain.ApplyValue(current, update.WorkflowMode, update.Completed, update.Value, m.userID, now)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	m.generations[update.MilestoneID]++
	gen := m.generations[update.MilestoneID]
	m.optimistic[update.MilestoneID] = &optimisticEntry{
		snapshot:  next,
		update:    update,
		appliedAt: now,
		gen:       gen,
	}
	m.status[update.MilestoneID] = domain.OperationPending

	if !m.online {
		m.offlineQueue = append(m.offlineQueue, update)
		m.persistLocked()
		m.mu.Unlock()
		return next.Clone(), nil
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.submit(update, gen)

	return next.Clone(), nil
}

func (m *OptimisticManager) lookupLocked(milestoneID string) *domain.Milestone {
	if entry, ok := m.optimistic[milestoneID]; ok {
		return entry.snapshot
	}
	return m.serverState[milestoneID]
}

// submit performs one milestone PATCH with bounded retries, then either
// confirms the optimistic state or rolls it back. It never reports errors
// to the original caller, only through the error callback.
func (m *OptimisticManager) submit(update *domain.MilestoneUpdate, gen uint64) {
	defer m.wg.Done()

	path := "/milestones/" + update.MilestoneID
	payload := updatePayload(update)

	var lastErr error
	for attempt := 1; attempt <= maxSubmitAttempts; attempt++ {
		data, err := m.api.Patch(m.ctx, path, payload)
		if err == nil {
			var confirmed domain.Milestone
			if uerr := json.Unmarshal(data, &confirmed); uerr != nil {
				lastErr = fmt.Errorf("decode milestone response: %w", uerr)
			} else {
				m.confirm(update, gen, &confirmed)
				return
			}
		} else {
			lastErr = err
			if !client.IsTransient(err) {
				// The server rejected the operation outright; more
				// attempts cannot change its mind.
				break
			}
		}

		if attempt < maxSubmitAttempts {
			select {
			case <-time.After(m.retryDelay):
			case <-m.ctx.Done():
				return
			}
		}
	}

	m.rollback(update, gen, lastErr)
}

// updatePayload builds the per-mode request body the central API expects.
func updatePayload(u *domain.MilestoneUpdate) map[string]interface{} {
	switch u.WorkflowMode {
	case domain.WorkflowPercentage:
		var v float64
		if u.Value != nil {
			v = *u.Value
		}
		return map[string]interface{}{"percentageValue": v}
	case domain.WorkflowQuantity:
		var v int
		if u.Value != nil {
			v = int(*u.Value)
		}
		return map[string]interface{}{"quantityValue": v}
	default:
		return map[string]interface{}{"isCompleted": u.Completed != nil && *u.Completed}
	}
}

func (m *OptimisticManager) confirm(update *domain.MilestoneUpdate, gen uint64, confirmed *domain.Milestone) {
	m.mu.Lock()
	if m.generations[update.MilestoneID] != gen {
		m.mu.Unlock()
		m.logger.Debug("ignoring confirmation of superseded operation",
			zap.String("operation_id", update.OperationID),
			zap.String("milestone_id", update.MilestoneID),
		)
		return
	}

	if confirmed == nil {
		if entry, ok := m.optimistic[update.MilestoneID]; ok {
			confirmed = entry.snapshot
		} else {
			// A disk-restored operation for a milestone the manager no
			// longer tracks can confirm with no snapshot at all.
			confirmed = m.serverState[update.MilestoneID]
		}
	}
	if confirmed != nil {
		m.serverState[update.MilestoneID] = confirmed.Clone()
	}
	delete(m.optimistic, update.MilestoneID)
	m.status[update.MilestoneID] = domain.OperationSuccess
	m.mu.Unlock()

	m.logger.Debug("milestone update confirmed",
		zap.String("operation_id", update.OperationID),
		zap.String("milestone_id", update.MilestoneID),
	)
	if m.callbacks.OnSuccess != nil && confirmed != nil {
		m.callbacks.OnSuccess(update, confirmed.Clone())
	}
}

func (m *OptimisticManager) rollback(update *domain.MilestoneUpdate, gen uint64, cause error) {
	m.mu.Lock()
	if m.generations[update.MilestoneID] != gen {
		m.mu.Unlock()
		m.logger.Debug("ignoring rollback of superseded operation",
			zap.String("operation_id", update.OperationID),
			zap.String("milestone_id", update.MilestoneID),
		)
		return
	}

	delete(m.optimistic, update.MilestoneID)
	m.status[update.MilestoneID] = domain.OperationError
	m.mu.Unlock()

	m.logger.Warn("milestone update rolled back",
		zap.String("operation_id", update.OperationID),
		zap.String("milestone_id", update.MilestoneID),
		zap.Error(cause),
	)
	if m.callbacks.OnError != nil {
		m.callbacks.OnError(update, cause)
	}
}

// SetOnline records the current connectivity state. Whenever the agent is
// online with entries queued, the drain worker is woken; this covers both
// a live offline-to-online transition and a queue restored from disk before
// the first connectivity report.
func (m *OptimisticManager) SetOnline(online bool) {
	m.mu.Lock()
	m.online = online
	queued := len(m.offlineQueue)
	m.mu.Unlock()

	if online && queued > 0 {
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}

func (m *OptimisticManager) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// drainLoop is the only goroutine that replays the offline queue, so
// queued entries can never be submitted concurrently or out of order no
// matter how connectivity flaps while a drain is running.
func (m *OptimisticManager) drainLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
			m.flushOfflineQueue()
		}
	}
}

// flushOfflineQueue replays queued operations in FIFO order, one network
// submission per entry. An entry whose replay keeps failing at the
// transport level goes back to the front of the queue and the drain stops
// until the next wake; a rejected entry is dropped after the retry bound
// with the error callback.
func (m *OptimisticManager) flushOfflineQueue() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.mu.Lock()
		if len(m.offlineQueue) == 0 || !m.online {
			m.mu.Unlock()
			return
		}
		update := m.offlineQueue[0]
		m.offlineQueue = m.offlineQueue[1:]
		m.rollbackQueue = append(m.rollbackQueue, update)
		gen := m.replayGenerationLocked(update)
		m.persistLocked()
		m.mu.Unlock()

		err := m.replay(update, gen)

		m.mu.Lock()
		m.removeFromRollbackLocked(update.OperationID)
		if err != nil {
			// Connectivity failed again: keep the entry for the next
			// online transition.
			m.offlineQueue = append([]*domain.MilestoneUpdate{update}, m.offlineQueue...)
			m.persistLocked()
			m.mu.Unlock()
			m.logger.Warn("offline queue drain interrupted", zap.Error(err))
			return
		}
		m.persistLocked()
		m.mu.Unlock()
	}
}

// replayGenerationLocked resolves which generation a queued operation
// belongs to. An operation superseded by a newer pending override gets a
// stale generation so its replay outcome cannot clobber that override; an
// operation with no pending override (restored from disk, or cleared)
// replays against the current generation and only merges server state.
func (m *OptimisticManager) replayGenerationLocked(update *domain.MilestoneUpdate) uint64 {
	entry, ok := m.optimistic[update.MilestoneID]
	if !ok {
		return m.generations[update.MilestoneID]
	}
	if entry.update.OperationID == update.OperationID {
		return entry.gen
	}
	return entry.gen - 1
}

// replay submits one queued operation through the sync endpoint with the
// same bounded-retry policy as the direct path. A transport failure after
// all attempts is returned for re-queueing; a rejection rolls the
// operation back and is consumed here.
func (m *OptimisticManager) replay(update *domain.MilestoneUpdate, gen uint64) error {
	body := map[string]interface{}{
		"operations": []*domain.MilestoneUpdate{update},
	}

	var lastErr error
	for attempt := 1; attempt <= maxSubmitAttempts; attempt++ {
		data, err := m.api.Post(m.ctx, "/milestones/sync", body)
		if err == nil {
			var result domain.SyncResult
			if uerr := json.Unmarshal(data, &result); uerr != nil {
				lastErr = fmt.Errorf("decode sync response: %w", uerr)
			} else {
				m.finishReplay(update, gen, &result)
				return nil
			}
		} else {
			lastErr = err
			if !client.IsTransient(err) {
				break
			}
		}

		if attempt < maxSubmitAttempts {
			select {
			case <-time.After(m.retryDelay):
			case <-m.ctx.Done():
				return m.ctx.Err()
			}
		}
	}

	if client.IsTransient(lastErr) {
		return lastErr
	}
	m.rollback(update, gen, lastErr)
	return nil
}

func (m *OptimisticManager) finishReplay(update *domain.MilestoneUpdate, gen uint64, result *domain.SyncResult) {
	for _, op := range result.Results {
		if op.OperationID != update.OperationID {
			continue
		}
		if op.Success {
			m.confirm(update, gen, op.Result)
		} else {
			m.rollback(update, gen, errors.New(op.Error))
		}
		return
	}
	// The server processed the batch without reporting this operation;
	// treat it as confirmed with the optimistic snapshot.
	m.confirm(update, gen, nil)
}

func (m *OptimisticManager) removeFromRollbackLocked(operationID string) {
	for i, u := range m.rollbackQueue {
		if u.OperationID == operationID {
			m.rollbackQueue = append(m.rollbackQueue[:i], m.rollbackQueue[i+1:]...)
			return
		}
	}
}

// persistLocked serializes both queues to the durable store. Storage
// failures are logged and swallowed: persistence is best effort and must
// never break the optimistic update path.
func (m *OptimisticManager) persistLocked() {
	state := &domain.PersistedState{
		OfflineQueue:  append([]*domain.MilestoneUpdate(nil), m.offlineQueue...),
		RollbackQueue: append([]*domain.MilestoneUpdate(nil), m.rollbackQueue...),
	}
	if err := m.states.Save(m.ctx, state); err != nil {
		m.logger.Warn("failed to persist offline state", zap.Error(err))
	}
}

// GetMilestoneState returns the optimistic override when present, the
// server snapshot otherwise, or nil for an unknown id.
func (m *OptimisticManager) GetMilestoneState(milestoneID string) *domain.Milestone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(milestoneID).Clone()
}

// GetAllMilestoneStates returns the server-state map with optimistic
// overrides applied on top.
func (m *OptimisticManager) GetAllMilestoneStates() map[string]*domain.Milestone {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*domain.Milestone, len(m.serverState))
	for id, ms := range m.serverState {
		out[id] = ms.Clone()
	}
	for id, entry := range m.optimistic {
		out[id] = entry.snapshot.Clone()
	}
	return out
}

func (m *OptimisticManager) HasPendingUpdates(milestoneID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.optimistic[milestoneID]
	return ok
}

func (m *OptimisticManager) GetOperationStatus(milestoneID string) (domain.OperationStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.status[milestoneID]
	return status, ok
}

func (m *OptimisticManager) GetOfflineQueue() []*domain.MilestoneUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.MilestoneUpdate(nil), m.offlineQueue...)
}

func (m *OptimisticManager) ClearOfflineQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offlineQueue = nil
	m.rollbackQueue = nil
	m.persistLocked()
}

// ClearOptimisticState discards every pending override, reverting each
// tracked milestone to its last server snapshot. The offline queue is left
// alone. Calling it again is a no-op.
func (m *OptimisticManager) ClearOptimisticState() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.optimistic {
		// Invalidate in-flight operations so their eventual outcome
		// cannot resurrect the discarded override.
		m.generations[id]++
		delete(m.status, id)
	}
	m.optimistic = make(map[string]*optimisticEntry)
}

// DiscardOptimistic drops the pending overrides for specific milestones,
// typically after a remote conflict resolution or bulk undo made them
// stale.
func (m *OptimisticManager) DiscardOptimistic(milestoneIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range milestoneIDs {
		if _, ok := m.optimistic[id]; !ok {
			continue
		}
		m.generations[id]++
		delete(m.optimistic, id)
		delete(m.status, id)
	}
}

// Close stops background submissions and retry timers. Idempotent.
func (m *OptimisticManager) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}
