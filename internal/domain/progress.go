package domain

import (
	"errors"
	"time"
)

// ErrMissingValue reports an update whose mode-specific field is absent:
// a discrete update without the completed flag, or a numeric update
// without a value.
var ErrMissingValue = errors.New("update value is required for workflow mode")

// ErrUnknownWorkflowMode reports a workflow mode outside the closed set.
var ErrUnknownWorkflowMode = errors.New("unknown workflow mode")

// ApplyValue computes the next milestone snapshot for a raw value under the
// given workflow mode. Numeric input passes through as given; range
// validation is a caller concern and out-of-range percentages are accepted
// rather than silently clamped. The completion timestamp and actor are set
// when IsCompleted transitions to true and cleared when it transitions to
// false.
func ApplyValue(m *Milestone, mode WorkflowMode, completed *bool, value *float64, actor string, now time.Time) (*Milestone, error) {
	next := m.Clone()

	switch mode {
	case WorkflowDiscrete:
		if completed == nil {
			return nil, ErrMissingValue
		}
		next.IsCompleted = *completed

	case WorkflowPercentage:
		if value == nil {
			return nil, ErrMissingValue
		}
		next.PercentageValue = *value
		next.IsCompleted = *value >= 100

	case WorkflowQuantity:
		if value == nil {
			return nil, ErrMissingValue
		}
		next.QuantityValue = int(*value)
		next.IsCompleted = next.QuantityTotal > 0 && next.QuantityValue >= next.QuantityTotal

	default:
		return nil, ErrUnknownWorkflowMode
	}

	if next.IsCompleted && !m.IsCompleted {
		t := now
		next.CompletedAt = &t
		next.CompletedBy = actor
	} else if !next.IsCompleted && m.IsCompleted {
		next.CompletedAt = nil
		next.CompletedBy = ""
	}

	next.UpdatedAt = now
	return next, nil
}

// ValuesEqual compares two snapshots of the same milestone on the field the
// workflow mode tracks, ignoring everything else.
func ValuesEqual(a, b *Milestone) bool {
	switch a.WorkflowMode {
	case WorkflowPercentage:
		return a.PercentageValue == b.PercentageValue
	case WorkflowQuantity:
		return a.QuantityValue == b.QuantityValue
	default:
		return a.IsCompleted == b.IsCompleted
	}
}

// AggregateComponentProgress returns the weighted average completion
// percentage across a component's milestones. A quantity milestone with a
// zero total contributes 0%. An empty set is 0%.
func AggregateComponentProgress(milestones []*Milestone, mode WorkflowMode) float64 {
	if len(milestones) == 0 {
		return 0
	}

	var weightSum, progressSum float64
	for _, m := range milestones {
		w := m.EffectiveWeight()
		weightSum += w

		var p float64
		switch mode {
		case WorkflowDiscrete:
			if m.IsCompleted {
				p = 100
			}
		case WorkflowPercentage:
			p = m.PercentageValue
		case WorkflowQuantity:
			if m.QuantityTotal > 0 {
				p = float64(m.QuantityValue) / float64(m.QuantityTotal) * 100
			}
		}
		progressSum += p * w
	}

	if weightSum == 0 {
		return 0
	}
	return progressSum / weightSum
}

// DeriveComponentStatus reduces a component's milestone set to a workflow
// status: COMPLETED when every milestone is complete, NOT_STARTED when none
// shows any progress, otherwise IN_PROGRESS.
func DeriveComponentStatus(milestones []*Milestone) ComponentStatus {
	if len(milestones) == 0 {
		return ComponentNotStarted
	}

	allComplete := true
	anyProgress := false
	for _, m := range milestones {
		if m.IsCompleted {
			anyProgress = true
		} else {
			allComplete = false
		}
		if m.PercentageValue > 0 || m.QuantityValue > 0 {
			anyProgress = true
		}
	}

	if allComplete {
		return ComponentCompleted
	}
	if !anyProgress {
		return ComponentNotStarted
	}
	return ComponentInProgress
}
