package domain

import "time"

type WorkflowMode string

const (
	WorkflowDiscrete   WorkflowMode = "discrete"
	WorkflowPercentage WorkflowMode = "percentage"
	WorkflowQuantity   WorkflowMode = "quantity"
)

func (m WorkflowMode) Valid() bool {
	switch m {
	case WorkflowDiscrete, WorkflowPercentage, WorkflowQuantity:
		return true
	}
	return false
}

type ComponentStatus string

const (
	ComponentNotStarted ComponentStatus = "NOT_STARTED"
	ComponentInProgress ComponentStatus = "IN_PROGRESS"
	ComponentCompleted  ComponentStatus = "COMPLETED"
)

// Milestone is one unit of installation progress tracked against a parent
// component. Exactly one workflow mode applies per milestone, selected when
// the component is created.
type Milestone struct {
	ID           string       `json:"id"`
	ComponentID  string       `json:"component_id"`
	Name         string       `json:"name"`
	OrderIndex   int          `json:"order_index"`
	WorkflowMode WorkflowMode `json:"workflow_mode"`

	IsCompleted     bool    `json:"is_completed"`
	PercentageValue float64 `json:"percentage_value,omitempty"`
	QuantityValue   int     `json:"quantity_value,omitempty"`
	QuantityTotal   int     `json:"quantity_total,omitempty"`

	// Weight only affects the parent component's aggregate percentage.
	// Zero means unset and counts as 1.
	Weight float64 `json:"weight,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	c := *m
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (m *Milestone) EffectiveWeight() float64 {
	if m.Weight <= 0 {
		return 1
	}
	return m.Weight
}

type UpdateProgressRequest struct {
	ComponentID   string       `json:"component_id" validate:"required"`
	MilestoneName string       `json:"milestone_name" validate:"required"`
	WorkflowMode  WorkflowMode `json:"workflow_mode" validate:"required,oneof=discrete percentage quantity"`
	Completed     *bool        `json:"completed"`
	Value         *float64     `json:"value"`
}

type BulkUpdateRequest struct {
	Updates []BulkUpdateItem `json:"updates" validate:"required,min=1,dive"`
}

type BulkUpdateItem struct {
	MilestoneID   string       `json:"milestone_id" validate:"required"`
	ComponentID   string       `json:"component_id" validate:"required"`
	MilestoneName string       `json:"milestone_name"`
	WorkflowMode  WorkflowMode `json:"workflow_mode" validate:"required,oneof=discrete percentage quantity"`
	Completed     *bool        `json:"completed"`
	Value         *float64     `json:"value"`
}
