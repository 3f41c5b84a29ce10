package service

import (
	"fmt"

	"fieldsync-agent/internal/domain"
)

// NotFoundError reports an update targeting a milestone id the engine has
// never seen from the server. It is returned synchronously and never
// retried.
type NotFoundError struct {
	MilestoneID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("milestone not found: %s", e.MilestoneID)
}

// UnsupportedWorkflowError reports a workflow mode outside the closed
// discrete/percentage/quantity set. Returned synchronously, never retried.
type UnsupportedWorkflowError struct {
	Mode domain.WorkflowMode
}

func (e *UnsupportedWorkflowError) Error() string {
	return fmt.Sprintf("unsupported workflow mode: %q", e.Mode)
}
