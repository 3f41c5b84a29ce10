package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"fieldsync-agent/internal/domain"
	"fieldsync-agent/internal/service"
	"fieldsync-agent/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// MilestoneHandler exposes the optimistic engine to the field UI over the
// agent's local HTTP API.
type MilestoneHandler struct {
	service  *service.MilestoneService
	validate *validator.Validate
}

func NewMilestoneHandler(service *service.MilestoneService) *MilestoneHandler {
	return &MilestoneHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *MilestoneHandler) List(w http.ResponseWriter, r *http.Request) {
	if componentID := r.URL.Query().Get("component_id"); componentID != "" {
		response.JSON(w, http.StatusOK, h.service.ComponentMilestones(componentID))
		return
	}
	response.JSON(w, http.StatusOK, h.service.AllMilestoneStates())
}

func (h *MilestoneHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	milestoneID := vars["id"]

	milestone := h.service.MilestoneState(milestoneID)
	if milestone == nil {
		response.NotFound(w, "Milestone not found")
		return
	}

	response.JSON(w, http.StatusOK, milestone)
}

func (h *MilestoneHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	milestoneID := vars["id"]

	status, ok := h.service.OperationStatus(milestoneID)
	if !ok {
		response.JSON(w, http.StatusOK, map[string]interface{}{
			"milestone_id": milestoneID,
			"status":       nil,
			"pending":      false,
		})
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"milestone_id": milestoneID,
		"status":       status,
		"pending":      h.service.HasPendingUpdates(milestoneID),
	})
}

func (h *MilestoneHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	milestoneID := vars["id"]

	var req domain.UpdateProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	milestone, err := h.service.UpdateMilestone(milestoneID, req.ComponentID, req.MilestoneName, req.WorkflowMode, req.Completed, req.Value)
	if err != nil {
		writeUpdateError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, milestone)
}

func (h *MilestoneHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	result := h.service.BulkUpdateMilestones(req.Updates)
	response.JSON(w, http.StatusOK, result)
}

func (h *MilestoneHandler) ComponentProgress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	componentID := vars["id"]

	progress, status := h.service.ComponentProgress(componentID)
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"component_id": componentID,
		"progress":     progress,
		"status":       status,
	})
}

func writeUpdateError(w http.ResponseWriter, err error) {
	var notFound *service.NotFoundError
	if errors.As(err, &notFound) {
		response.NotFound(w, err.Error())
		return
	}

	var unsupported *service.UnsupportedWorkflowError
	if errors.As(err, &unsupported) || errors.Is(err, domain.ErrMissingValue) || errors.Is(err, domain.ErrUnknownWorkflowMode) {
		response.BadRequest(w, err.Error())
		return
	}

	response.InternalError(w, "Failed to update milestone")
}
