package service

import (
	"fmt"
	"sort"
	"time"

	"fieldsync-agent/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ComponentUpdateFunc receives the recomputed aggregate whenever a
// component's milestone set changes, keeping parent-level progress displays
// consistent without a server round trip.
type ComponentUpdateFunc func(componentID string, progress float64, status domain.ComponentStatus)

// MilestoneService translates UI-level intents into optimistic engine calls
// and keeps component aggregates in sync.
type MilestoneService struct {
	manager           *OptimisticManager
	onComponentUpdate ComponentUpdateFunc
	logger            *zap.Logger
}

func NewMilestoneService(manager *OptimisticManager, onComponentUpdate ComponentUpdateFunc, logger *zap.Logger) *MilestoneService {
	return &MilestoneService{
		manager:           manager,
		onComponentUpdate: onComponentUpdate,
		logger:            logger,
	}
}

// UpdateMilestone builds the operation record for a single milestone change,
// applies it optimistically and recomputes the owning component's aggregate.
func (s *MilestoneService) UpdateMilestone(milestoneID, componentID, milestoneName string, mode domain.WorkflowMode, completed *bool, value *float64) (*domain.Milestone, error) {
	update := &domain.MilestoneUpdate{
		OperationID:   fmt.Sprintf("%s_%d", milestoneID, time.Now().UnixMilli()),
		MilestoneID:   milestoneID,
		ComponentID:   componentID,
		MilestoneName: milestoneName,
		WorkflowMode:  mode,
		Completed:     completed,
		Value:         value,
		Timestamp:     time.Now(),
	}

	milestone, err := s.manager.ApplyOptimisticUpdate(update)
	if err != nil {
		return nil, err
	}

	s.notifyComponent(componentID)
	return milestone, nil
}

// BulkUpdateMilestones applies each item as an independent optimistic
// update under a shared batch timestamp. There is no atomicity across the
// batch: items succeed and fail on their own.
func (s *MilestoneService) BulkUpdateMilestones(items []domain.BulkUpdateItem) *domain.BulkUpdateResult {
	batch := time.Now().UnixMilli()
	result := &domain.BulkUpdateResult{
		TransactionID: uuid.New().String(),
		Results:       make([]domain.BulkItemResult, 0, len(items)),
	}

	touched := make(map[string]bool)
	for i, item := range items {
		update := &domain.MilestoneUpdate{
			OperationID:   fmt.Sprintf("bulk_%d_%d", batch, i),
			MilestoneID:   item.MilestoneID,
			ComponentID:   item.ComponentID,
			MilestoneName: item.MilestoneName,
			WorkflowMode:  item.WorkflowMode,
			Completed:     item.Completed,
			Value:         item.Value,
			Timestamp:     time.Now(),
		}

		milestone, err := s.manager.ApplyOptimisticUpdate(update)
		if err != nil {
			result.Failed++
			result.Results = append(result.Results, domain.BulkItemResult{
				ComponentID:   item.ComponentID,
				MilestoneName: item.MilestoneName,
				Error:         err.Error(),
			})
			continue
		}

		result.Successful++
		result.Results = append(result.Results, domain.BulkItemResult{
			ComponentID:   item.ComponentID,
			MilestoneName: item.MilestoneName,
			Success:       true,
			Milestone:     milestone,
		})
		touched[item.ComponentID] = true
	}

	for componentID := range touched {
		s.notifyComponent(componentID)
	}

	s.logger.Info("bulk update applied",
		zap.String("transaction_id", result.TransactionID),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
	)
	return result
}

func (s *MilestoneService) notifyComponent(componentID string) {
	if s.onComponentUpdate == nil {
		return
	}
	progress, status := s.ComponentProgress(componentID)
	s.onComponentUpdate(componentID, progress, status)
}

// ComponentMilestones returns the component's milestones in display order,
// optimistic overrides included.
func (s *MilestoneService) ComponentMilestones(componentID string) []*domain.Milestone {
	all := s.manager.GetAllMilestoneStates()

	var milestones []*domain.Milestone
	for _, m := range all {
		if m.ComponentID == componentID {
			milestones = append(milestones, m)
		}
	}
	sort.Slice(milestones, func(i, j int) bool {
		return milestones[i].OrderIndex < milestones[j].OrderIndex
	})
	return milestones
}

// ComponentProgress recomputes the weighted aggregate and derived status
// from the component's current milestone set.
func (s *MilestoneService) ComponentProgress(componentID string) (float64, domain.ComponentStatus) {
	milestones := s.ComponentMilestones(componentID)
	if len(milestones) == 0 {
		return 0, domain.ComponentNotStarted
	}
	mode := milestones[0].WorkflowMode
	return domain.AggregateComponentProgress(milestones, mode), domain.DeriveComponentStatus(milestones)
}

func (s *MilestoneService) MilestoneState(milestoneID string) *domain.Milestone {
	return s.manager.GetMilestoneState(milestoneID)
}

func (s *MilestoneService) AllMilestoneStates() map[string]*domain.Milestone {
	return s.manager.GetAllMilestoneStates()
}

func (s *MilestoneService) OperationStatus(milestoneID string) (domain.OperationStatus, bool) {
	return s.manager.GetOperationStatus(milestoneID)
}

func (s *MilestoneService) HasPendingUpdates(milestoneID string) bool {
	return s.manager.HasPendingUpdates(milestoneID)
}

func (s *MilestoneService) OfflineQueue() []*domain.MilestoneUpdate {
	return s.manager.GetOfflineQueue()
}

func (s *MilestoneService) ClearOfflineQueue() {
	s.manager.ClearOfflineQueue()
}

func (s *MilestoneService) ClearOptimisticState() {
	s.manager.ClearOptimisticState()
}
