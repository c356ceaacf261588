// backend/src/services/journal_service.go
package services

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/username/tradevault/backend/src/engine"
	"github.com/username/tradevault/backend/src/logger"
	"github.com/username/tradevault/backend/src/models"
	"github.com/username/tradevault/backend/src/parsers"
)

const (
	ckTrades       = "res_trades_user_%d"
	ckTradeSummary = "agg_trade_summary_user_%d"

	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

type journalServiceImpl struct {
	engine      *engine.Engine
	trades      engine.TradeStore
	syncKeyHash string
	reportCache *cache.Cache
}

func NewJournalService(eng *engine.Engine, trades engine.TradeStore, syncKeyHash string, reportCache *cache.Cache) JournalService {
	return &journalServiceImpl{
		engine:      eng,
		trades:      trades,
		syncKeyHash: syncKeyHash,
		reportCache: reportCache,
	}
}

func (s *journalServiceImpl) ProcessUpload(ctx context.Context, fileReader io.Reader, userID int64, source string) (*UploadSummary, error) {
	overallStartTime := time.Now()
	logger.L.Info("ProcessUpload START", "userID", userID, "source", source)

	parser, err := parsers.GetParser(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	orders, err := parser.Parse(fileReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	summary, err := s.ingestBatch(ctx, userID, orders, source)
	if err != nil {
		return nil, err
	}

	logger.L.Info("ProcessUpload END", "userID", userID, "batchID", summary.BatchID, "duration", time.Since(overallStartTime))
	return summary, nil
}

func (s *journalServiceImpl) IngestSyncedOrders(ctx context.Context, userID int64, orders []*models.Order) (*UploadSummary, error) {
	if s.syncKeyHash == "" {
		return nil, ErrSyncDisabled
	}
	for _, o := range orders {
		if o.SourceID == "" {
			o.SourceID = "sync:broker"
		}
	}
	return s.ingestBatch(ctx, userID, orders, "sync")
}

func (s *journalServiceImpl) ingestBatch(ctx context.Context, userID int64, orders []*models.Order, source string) (*UploadSummary, error) {
	batch, err := s.engine.IngestBatch(ctx, userID, orders)
	if err != nil {
		return nil, fmt.Errorf("ingesting batch for user %d: %w", userID, err)
	}

	s.InvalidateUserCache(userID)

	return &UploadSummary{
		BatchID:           uuid.NewString(),
		Source:            source,
		OrdersAccepted:    batch.Accepted,
		DuplicatesSkipped: batch.DuplicatesSkipped,
		Errors:            batch.Errors,
		Rebuild:           batch.Rebuild,
	}, nil
}

func (s *journalServiceImpl) RebuildTrades(ctx context.Context, userID int64, wait bool) (*engine.RebuildSummary, error) {
	var summary *engine.RebuildSummary
	var err error
	if wait {
		summary, err = s.engine.RebuildTrades(ctx, userID)
	} else {
		summary, err = s.engine.TryRebuildTrades(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	s.InvalidateUserCache(userID)
	return summary, nil
}

// InvalidateUserCache clears all cached report data for a user, forcing a
// fresh read of the derived state on the next request.
func (s *journalServiceImpl) InvalidateUserCache(userID int64) {
	keysToDelete := []string{
		fmt.Sprintf(ckTrades, userID),
		fmt.Sprintf(ckTradeSummary, userID),
	}
	for _, key := range keysToDelete {
		s.reportCache.Delete(key)
	}
	logger.L.Debug("Invalidated report caches for user", "userID", userID)
}

func (s *journalServiceImpl) GetTrades(ctx context.Context, userID int64) ([]*models.Trade, error) {
	cacheKey := fmt.Sprintf(ckTrades, userID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		logger.L.Debug("Cache hit for trades", "userID", userID)
		return cached.([]*models.Trade), nil
	}

	trades, err := s.trades.TradesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.reportCache.Set(cacheKey, trades, DefaultCacheExpiration)
	return trades, nil
}

func (s *journalServiceImpl) GetOpenPositions(ctx context.Context, userID int64) ([]*models.Trade, error) {
	trades, err := s.GetTrades(ctx, userID)
	if err != nil {
		return nil, err
	}
	var open []*models.Trade
	for _, t := range trades {
		if t.Status == models.TradeOpen {
			open = append(open, t)
		}
	}
	return open, nil
}

func (s *journalServiceImpl) GetTradeSummary(ctx context.Context, userID int64) (*TradeSummary, error) {
	cacheKey := fmt.Sprintf(ckTradeSummary, userID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		return cached.(*TradeSummary), nil
	}

	trades, err := s.GetTrades(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &TradeSummary{}
	for _, t := range trades {
		summary.TotalTrades++
		if t.Status == models.TradeOpen {
			summary.OpenTrades++
		} else {
			summary.ClosedTrades++
		}
		summary.TotalRealizedPnL = summary.TotalRealizedPnL.Add(t.RealizedPnL)
		summary.TotalCommission = summary.TotalCommission.Add(t.Commission)
		summary.TotalFees = summary.TotalFees.Add(t.Fees)
	}
	s.reportCache.Set(cacheKey, summary, DefaultCacheExpiration)
	return summary, nil
}

func (s *journalServiceImpl) SaveTradeAnnotation(ctx context.Context, userID int64, a *models.TradeAnnotation) error {
	a.UserID = userID
	if err := s.trades.SaveAnnotation(ctx, a); err != nil {
		return err
	}
	s.InvalidateUserCache(userID)
	return nil
}
