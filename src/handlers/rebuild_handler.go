// backend/src/handlers/rebuild_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/username/tradevault/backend/src/config"
	"github.com/username/tradevault/backend/src/engine"
	"github.com/username/tradevault/backend/src/logger"
	"github.com/username/tradevault/backend/src/services"
	"github.com/username/tradevault/backend/src/utils"
)

type RebuildHandler struct {
	journalService services.JournalService
}

func NewRebuildHandler(service services.JournalService) *RebuildHandler {
	return &RebuildHandler{
		journalService: service,
	}
}

// HandleRebuild replays the user's entire order history and replaces their
// trade set. With wait=false the request fails fast with 409 instead of
// queueing behind an in-flight rebuild.
func (h *RebuildHandler) HandleRebuild(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	wait := r.URL.Query().Get("wait") != "false"
	logger.L.Info("Handling trade rebuild request", "userID", userID, "wait", wait)

	ctx := r.Context()
	if config.Cfg.RebuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Cfg.RebuildTimeout)
		defer cancel()
	}

	summary, err := h.journalService.RebuildTrades(ctx, userID, wait)
	if err != nil {
		if errors.Is(err, engine.ErrRebuildConflict) {
			utils.SendJSONError(w, "a rebuild is already in progress for this user", http.StatusConflict)
			return
		}
		logger.L.Error("Error rebuilding trades", "userID", userID, "error", err)
		utils.SendJSONError(w, "An internal error occurred while rebuilding trades.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		logger.L.Error("Error encoding JSON response for rebuild summary", "userID", userID, "error", err)
	}
}
