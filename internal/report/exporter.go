package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"schwab-discord-notifier/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Exporter periodically writes a CSV of recent lot matches. It only reads
// committed state.
type Exporter struct {
	db       *gorm.DB
	dir      string
	interval time.Duration
	lookback time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewExporter creates an Exporter from the report settings.
func NewExporter(db *gorm.DB, cfg *config.Report, logger *zap.Logger) *Exporter {
	return &Exporter{
		db:       db,
		dir:      cfg.ExportDir,
		interval: cfg.ExportInterval,
		lookback: time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		logger:   logger.Named("exporter"),
		now:      time.Now,
	}
}

// Run exports on every tick until ctx is cancelled.
func (x *Exporter) Run(ctx context.Context) {
	if x.interval <= 0 {
		x.logger.Info("Scheduled export disabled")
		return
	}

	ticker := time.NewTicker(x.interval)
	defer ticker.Stop()

	x.logger.Info("Starting scheduled export", zap.Duration("interval", x.interval), zap.String("dir", x.dir))
	for {
		select {
		case <-ctx.Done():
			x.logger.Info("Stopping scheduled export...")
			return
		case <-ticker.C:
			if _, err := x.ExportOnce(ctx); err != nil {
				x.logger.Error("Export failed", zap.Error(err))
			}
		}
	}
}

// ExportOnce writes the lookback window to a new CSV file and returns its path.
func (x *Exporter) ExportOnce(ctx context.Context) (string, error) {
	to := x.now().UTC()
	from := to.Add(-x.lookback)

	rows, err := Query(ctx, x.db, from, to)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}

	name := fmt.Sprintf("trades_%s_%s.csv", to.Format("20060102"), uuid.NewString()[:8])
	path := filepath.Join(x.dir, name)

	f, err := os.CreateTemp(x.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if err := WriteCSV(f, rows); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to publish export file: %w", err)
	}

	summary := Summarize(ByOrder(rows))
	x.logger.Info("Export written",
		zap.String("path", path),
		zap.Int("matches", len(rows)),
		zap.Int("trades", summary.TotalTrades),
		zap.Int("wins", summary.Wins),
		zap.Int("losses", summary.Losses),
		zap.String("total_profit", summary.TotalProfit.StringFixed(2)),
	)
	return path, nil
}
