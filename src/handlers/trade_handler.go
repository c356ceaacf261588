// backend/src/handlers/trade_handler.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/username/tradevault/backend/src/logger"
	"github.com/username/tradevault/backend/src/models"
	"github.com/username/tradevault/backend/src/services"
	"github.com/username/tradevault/backend/src/utils"
)

type TradeHandler struct {
	journalService services.JournalService
}

func NewTradeHandler(service services.JournalService) *TradeHandler {
	return &TradeHandler{
		journalService: service,
	}
}

// HandleGetTrades returns the user's full trade history with ETag support so
// the frontend can skip re-downloading an unchanged journal.
func (h *TradeHandler) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	logger.L.Debug("Handling GetTrades request with ETag support", "userID", userID)

	trades, err := h.journalService.GetTrades(r.Context(), userID)
	if err != nil {
		logger.L.Error("Error retrieving trades from service", "userID", userID, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Error retrieving trades for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}

	currentETag, etagErr := utils.GenerateETag(trades)
	if etagErr != nil {
		logger.L.Error("Failed to generate ETag for trades", "userID", userID, "error", etagErr)
	}

	w.Header().Set("Cache-Control", "no-cache, private")

	if etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("\"%s\"", currentETag)
		w.Header().Set("ETag", quotedETag)
		clientETag := r.Header.Get("If-None-Match")
		for _, cETag := range strings.Split(clientETag, ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				logger.L.Debug("ETag match for trades", "userID", userID, "etag", currentETag)
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(trades); err != nil {
		logger.L.Error("Error generating JSON response for trades", "userID", userID, "error", err)
	}
}

// HandleGetPositions returns only the currently open trades.
func (h *TradeHandler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	positions, err := h.journalService.GetOpenPositions(r.Context(), userID)
	if err != nil {
		logger.L.Error("Error retrieving open positions from service", "userID", userID, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Error retrieving open positions for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []*models.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(positions); err != nil {
		logger.L.Error("Error generating JSON response for open positions", "userID", userID, "error", err)
	}
}

func (h *TradeHandler) HandleGetTradeSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	summary, err := h.journalService.GetTradeSummary(r.Context(), userID)
	if err != nil {
		logger.L.Error("Error retrieving trade summary from service", "userID", userID, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Error retrieving trade summary for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		logger.L.Error("Error generating JSON response for trade summary", "userID", userID, "error", err)
	}
}

type annotationRequest struct {
	Notes string   `json:"notes"`
	Tags  []string `json:"tags"`
}

// HandleSaveAnnotation attaches user notes and tags to a trade. Annotations
// are keyed by the trade's content key so they survive full rebuilds.
func (h *TradeHandler) HandleSaveAnnotation(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	tradeKey := r.PathValue("tradeKey")
	if tradeKey == "" {
		utils.SendJSONError(w, "trade key is required", http.StatusBadRequest)
		return
	}

	var req annotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}

	annotation := &models.TradeAnnotation{
		TradeKey: tradeKey,
		Notes:    req.Notes,
		Tags:     req.Tags,
	}
	if err := h.journalService.SaveTradeAnnotation(r.Context(), userID, annotation); err != nil {
		logger.L.Error("Error saving trade annotation", "userID", userID, "tradeKey", tradeKey, "error", err)
		utils.SendJSONError(w, "An internal error occurred while saving the annotation.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"message": "Annotation saved successfully"}); err != nil {
		logger.L.Error("Error encoding JSON response for annotation save", "userID", userID, "error", err)
	}
}
