package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/recovery"
)

// Run consumes recovery alerts until ctx ends, pausing every target that
// crosses the alert threshold.
func (s *Service) Run(ctx context.Context) {
	alerts := s.deps.Recovery.Alerts()
	for {
		select {
		case <-ctx.Done():
			return
		case alert, ok := <-alerts:
			if !ok {
				return
			}
			s.handleAlert(ctx, alert)
		}
	}
}

func (s *Service) handleAlert(ctx context.Context, alert recovery.Alert) {
	reason := fmt.Sprintf("%d unresolved errors", alert.Unresolved)
	_, err := s.PauseTarget(ctx, alert.TargetID, reason)
	switch {
	case errors.Is(err, crawler.ErrTargetNotFound):
		s.logger.Info("alert for deleted target ignored", zap.String("target_id", alert.TargetID))
	case err != nil:
		s.logger.Error("pause target on alert",
			zap.String("target_id", alert.TargetID),
			zap.Int("unresolved", alert.Unresolved),
			zap.Error(err),
		)
	}
}
