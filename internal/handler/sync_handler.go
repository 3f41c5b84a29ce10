package handler

import (
	"net/http"

	"fieldsync-agent/internal/service"
	"fieldsync-agent/pkg/response"
)

// SyncHandler exposes the offline queue and the optimistic reset controls.
type SyncHandler struct {
	service *service.MilestoneService
	manager *service.OptimisticManager
}

func NewSyncHandler(service *service.MilestoneService, manager *service.OptimisticManager) *SyncHandler {
	return &SyncHandler{
		service: service,
		manager: manager,
	}
}

func (h *SyncHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	queue := h.service.OfflineQueue()
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"online":  h.manager.Online(),
		"entries": len(queue),
		"queue":   queue,
	})
}

func (h *SyncHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	h.service.ClearOfflineQueue()
	response.JSON(w, http.StatusOK, map[string]string{"message": "Offline queue cleared"})
}

// Reset discards every pending optimistic override, reverting the local
// view to the last known server state. The offline queue is untouched.
func (h *SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.service.ClearOptimisticState()
	response.JSON(w, http.StatusOK, map[string]string{"message": "Optimistic state cleared"})
}
