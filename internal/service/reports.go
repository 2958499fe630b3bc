package service

import (
	"context"

	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/store"
)

const dashboardKey = "reports:dashboard"

// Dashboard returns the workshop summary, served from cache while fresh.
func (s *Service) Dashboard(ctx context.Context) (domain.DashboardMetrics, error) {
	var cached domain.DashboardMetrics
	if hit, err := s.cache.Get(ctx, dashboardKey, &cached); err != nil {
		s.logger.WithError(err).Warn("dashboard cache read failed")
	} else if hit {
		return cached, nil
	}

	start, end := store.MonthRange(s.now())
	metrics, err := s.repo.DashboardMetrics(ctx, start, end)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	if metrics.OrdersByStatus == nil {
		metrics.OrdersByStatus = map[string]int{}
	}
	metrics.GeneratedAt = s.now()

	if err := s.cache.Set(ctx, dashboardKey, metrics, s.reportTTL); err != nil {
		s.logger.WithError(err).Warn("dashboard cache write failed")
	}
	return metrics, nil
}
