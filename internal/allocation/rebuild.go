package allocation

import (
	"context"
	"fmt"

	"schwab-discord-notifier/internal/ledger"
	"schwab-discord-notifier/internal/lots"
	"schwab-discord-notifier/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RebuildStats counts what a rebuild replayed.
type RebuildStats struct {
	Replayed  int
	Opened    int
	Matched   int
	Unmatched int
}

// Rebuild discards every lot, lot match and ledger entry, then replays the
// stored trade records in fill order under cfg. Records keep their posted
// state, so nothing is announced again. It runs as one transaction and must
// not overlap a running poll loop.
func Rebuild(ctx context.Context, db *gorm.DB, cfg Config, logger *zap.Logger) (RebuildStats, error) {
	var stats RebuildStats
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lots.NewStore(tx).Reset(ctx); err != nil {
			return err
		}
		if err := ledger.New(tx).Reset(ctx); err != nil {
			return err
		}

		var records []models.TradeRecord
		if err := tx.Order("filled_at, id").Find(&records).Error; err != nil {
			return fmt.Errorf("failed to load trade records: %w", err)
		}

		e := NewEngine(tx, cfg, logger)
		for _, rec := range records {
			res, err := e.Process(ctx, TradeFromRecord(rec))
			if err != nil {
				return fmt.Errorf("replay %s: %w", rec.OrderID, err)
			}
			stats.Replayed++
			switch {
			case res.Kind == OpenRecorded:
				stats.Opened++
			case res.Kind == Matched && res.FullyAllocated:
				stats.Matched++
			case res.Kind == Matched:
				stats.Unmatched++
			}
		}
		return nil
	})
	if err != nil {
		return RebuildStats{}, err
	}
	return stats, nil
}
