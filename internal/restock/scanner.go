// Package restock finds parts at or below their minimum stock, suggests
// reorder quantities and raises part.low_stock events on a schedule.
package restock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"tallernegreira/backend/internal/cache"
	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/events"
	"tallernegreira/backend/internal/metrics"
	"tallernegreira/backend/internal/store"
)

const cacheKey = "inventory:low-stock"

type PartSource interface {
	ListLowStockParts(ctx context.Context) ([]domain.Part, error)
}

type Scanner struct {
	parts     PartSource
	cache     cache.Cache
	cacheTTL  time.Duration
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *log.Entry
	now       func() time.Time

	mu      sync.Mutex
	alerted map[int64]struct{}
}

func NewScanner(parts PartSource, cacheStore cache.Cache, cacheTTL time.Duration, publisher events.Publisher, m *metrics.Metrics) *Scanner {
	if cacheStore == nil {
		cacheStore = cache.Noop{}
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Scanner{
		parts:     parts,
		cache:     cacheStore,
		cacheTTL:  cacheTTL,
		publisher: publisher,
		metrics:   m,
		logger:    log.WithField("component", "restock-scanner"),
		now:       time.Now,
		alerted:   map[int64]struct{}{},
	}
}

// Report returns the low-stock report, served from cache while fresh.
func (s *Scanner) Report(ctx context.Context) (domain.LowStockReport, error) {
	var cached domain.LowStockReport
	if ok, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && ok {
		return cached, nil
	}
	return s.build(ctx)
}

// Invalidate drops the cached report after stock changed.
func (s *Scanner) Invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		s.logger.WithError(err).Warn("low-stock cache invalidation failed")
	}
}

func (s *Scanner) build(ctx context.Context) (domain.LowStockReport, error) {
	parts, err := s.parts.ListLowStockParts(ctx)
	if err != nil {
		return domain.LowStockReport{}, fmt.Errorf("list low stock parts: %w", err)
	}

	report := domain.LowStockReport{
		Items:       make([]domain.LowStockItem, 0, len(parts)),
		GeneratedAt: s.now().UTC(),
	}
	for _, p := range parts {
		if !p.Active || !p.LowStock() {
			continue
		}
		report.Items = append(report.Items, domain.LowStockItem{Part: p, SuggestedReorder: store.ReorderSuggestion(p)})
	}
	sort.SliceStable(report.Items, func(i, j int) bool {
		return coverage(report.Items[i].Part) < coverage(report.Items[j].Part)
	})

	if err := s.cache.Set(ctx, cacheKey, report, s.cacheTTL); err != nil {
		s.logger.WithError(err).Warn("low-stock cache write failed")
	}
	s.metrics.SetLowStockParts(len(report.Items))
	return report, nil
}

// Scan rebuilds the report and publishes an event for every part that
// became low since the previous scan. Parts that recovered are forgotten so
// they alert again when they drop next time.
func (s *Scanner) Scan(ctx context.Context) (domain.LowStockReport, error) {
	report, err := s.build(ctx)
	if err != nil {
		return report, err
	}

	s.mu.Lock()
	current := make(map[int64]struct{}, len(report.Items))
	fresh := make([]domain.LowStockItem, 0)
	for _, item := range report.Items {
		current[item.ID] = struct{}{}
		if _, seen := s.alerted[item.ID]; !seen {
			fresh = append(fresh, item)
		}
	}
	s.alerted = current
	s.mu.Unlock()

	for _, item := range fresh {
		event := events.New(events.PartLowStock, fmt.Sprintf("repuesto-%d", item.ID), item)
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.WithError(err).WithField("repuesto_id", item.ID).Warn("low-stock event not published")
		}
	}
	if len(fresh) > 0 {
		s.logger.WithField("parts", len(fresh)).Info("parts dropped to minimum stock")
	}
	return report, nil
}

// Start schedules Scan with a cron spec such as "@hourly" or "*/15 * * * *".
// The returned cron must be stopped on shutdown.
func (s *Scanner) Start(schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Scan(ctx); err != nil {
			s.logger.WithError(err).Error("scheduled low-stock scan failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("stock scan schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

// coverage is stock as a fraction of the minimum; lower is more urgent.
func coverage(p domain.Part) float64 {
	if p.MinStock <= 0 {
		return clamp(float64(p.Stock), 0, 1)
	}
	return clamp(float64(p.Stock)/float64(p.MinStock), 0, 1)
}

func clamp(val float64, minVal float64, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
