package services

import (
	"context"
	"errors"
	"io"

	"github.com/shopspring/decimal"
	"github.com/username/tradevault/backend/src/engine"
	"github.com/username/tradevault/backend/src/models"
)

var (
	ErrParsingFailed = errors.New("parsing failed")
	ErrSyncDisabled  = errors.New("broker-sync ingestion is disabled")
)

// UploadSummary is returned to import callers: how much of the batch made it
// into the order store and what the resulting rebuild produced.
type UploadSummary struct {
	BatchID           string                `json:"batch_id"`
	Source            string                `json:"source"`
	OrdersAccepted    int                   `json:"orders_accepted"`
	DuplicatesSkipped int                   `json:"duplicates_skipped"`
	Errors            []engine.OrderError   `json:"errors"`
	Rebuild           engine.RebuildSummary `json:"rebuild"`
}

// TradeSummary is the dashboard aggregate over the user's derived trades.
type TradeSummary struct {
	TotalTrades      int             `json:"total_trades"`
	OpenTrades       int             `json:"open_trades"`
	ClosedTrades     int             `json:"closed_trades"`
	TotalRealizedPnL decimal.Decimal `json:"total_realized_pnl"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	TotalFees        decimal.Decimal `json:"total_fees"`
}

// JournalService is the application surface over the trade construction
// engine: uploads, broker sync, recalculation, and cached reads.
type JournalService interface {
	ProcessUpload(ctx context.Context, fileReader io.Reader, userID int64, source string) (*UploadSummary, error)
	IngestSyncedOrders(ctx context.Context, userID int64, orders []*models.Order) (*UploadSummary, error)
	RebuildTrades(ctx context.Context, userID int64, wait bool) (*engine.RebuildSummary, error)
	GetTrades(ctx context.Context, userID int64) ([]*models.Trade, error)
	GetOpenPositions(ctx context.Context, userID int64) ([]*models.Trade, error)
	GetTradeSummary(ctx context.Context, userID int64) (*TradeSummary, error)
	SaveTradeAnnotation(ctx context.Context, userID int64, a *models.TradeAnnotation) error
	InvalidateUserCache(userID int64)
}
