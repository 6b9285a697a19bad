package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lampyd/internal/config"
	"github.com/dokzlo13/lampyd/internal/ledger"
)

// HistoryService prunes the sync history on an interval.
type HistoryService struct {
	cfg    config.LedgerConfig
	ledger *ledger.Ledger
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(cfg config.LedgerConfig, l *ledger.Ledger) *HistoryService {
	return &HistoryService{cfg: cfg, ledger: l}
}

// Start runs one cleanup immediately and then every cleanup interval.
func (s *HistoryService) Start(ctx context.Context) {
	if s.cfg.RetentionDays <= 0 {
		return
	}
	go s.run(ctx)
}

func (s *HistoryService) run(ctx context.Context) {
	interval := s.cfg.CleanupInterval.Duration()
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.cleanup()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *HistoryService) cleanup() {
	retention := time.Duration(s.cfg.RetentionDays) * 24 * time.Hour
	n, err := s.ledger.DeleteOlderThan(retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune sync history")
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Int("retention_days", s.cfg.RetentionDays).Msg("Pruned sync history")
	}
}
