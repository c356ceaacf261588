// backend/src/handlers/sync_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/username/tradevault/backend/src/config"
	"github.com/username/tradevault/backend/src/logger"
	"github.com/username/tradevault/backend/src/models"
	"github.com/username/tradevault/backend/src/security"
	"github.com/username/tradevault/backend/src/services"
	"github.com/username/tradevault/backend/src/utils"
)

// SyncHandler receives already-normalized fills from broker-sync workers.
// Workers authenticate with the shared channel key, not a user token.
type SyncHandler struct {
	journalService services.JournalService
}

func NewSyncHandler(service services.JournalService) *SyncHandler {
	return &SyncHandler{
		journalService: service,
	}
}

type syncIngestRequest struct {
	UserID int64           `json:"user_id"`
	Orders []*models.Order `json:"orders"`
}

func (h *SyncHandler) HandleSyncOrders(w http.ResponseWriter, r *http.Request) {
	if config.Cfg.SyncChannelKeyHash == "" {
		utils.SendJSONError(w, "broker-sync ingestion is disabled", http.StatusServiceUnavailable)
		return
	}

	channelKey := r.Header.Get("X-Sync-Key")
	if channelKey == "" {
		utils.SendJSONError(w, "X-Sync-Key header required", http.StatusUnauthorized)
		return
	}
	if err := security.VerifyChannelKey(config.Cfg.SyncChannelKeyHash, channelKey); err != nil {
		logger.L.Warn("Sync channel key mismatch", "remoteAddr", r.RemoteAddr)
		utils.SendJSONError(w, "invalid sync channel key", http.StatusUnauthorized)
		return
	}

	var req syncIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 || len(req.Orders) == 0 {
		utils.SendJSONError(w, "user_id and a non-empty orders array are required", http.StatusBadRequest)
		return
	}

	logger.L.Info("Processing broker-sync batch", "userID", req.UserID, "orders", len(req.Orders))
	result, err := h.journalService.IngestSyncedOrders(r.Context(), req.UserID, req.Orders)
	if err != nil {
		if errors.Is(err, services.ErrSyncDisabled) {
			utils.SendJSONError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		logger.L.Error("Internal error processing sync batch", "userID", req.UserID, "error", err)
		utils.SendJSONError(w, "An internal error occurred while processing the sync batch.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.L.Error("Error encoding JSON response for sync result", "userID", req.UserID, "error", err)
	}
}
