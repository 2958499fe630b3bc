package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"tallernegreira/backend/internal/cache"
	"tallernegreira/backend/internal/domain"
	"tallernegreira/backend/internal/events"
	"tallernegreira/backend/internal/invoice"
	"tallernegreira/backend/internal/metrics"
	"tallernegreira/backend/internal/restock"
	"tallernegreira/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var ErrForbidden = errors.New("permiso denegado")

// ValidationError is a rejected request; Msg is safe to show to the user.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type Options struct {
	Cache     cache.Cache
	ReportTTL time.Duration
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Invoices  *invoice.Generator
	Restock   *restock.Scanner
}

type Service struct {
	repo      store.Repository
	cache     cache.Cache
	reportTTL time.Duration
	events    events.Publisher
	metrics   *metrics.Metrics
	invoices  *invoice.Generator
	restock   *restock.Scanner
	logger    *log.Entry
	now       func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.Invoices == nil {
		opts.Invoices = invoice.NewGenerator(invoice.Workshop{})
	}
	if opts.Restock == nil {
		opts.Restock = restock.NewScanner(repo, opts.Cache, opts.ReportTTL, opts.Publisher, opts.Metrics)
	}

	return &Service{
		repo:      repo,
		cache:     opts.Cache,
		reportTTL: opts.ReportTTL,
		events:    opts.Publisher,
		metrics:   opts.Metrics,
		invoices:  opts.Invoices,
		restock:   opts.Restock,
		logger:    log.WithField("component", "service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) publish(ctx context.Context, eventType events.Type, key string, payload any) {
	if err := s.events.Publish(ctx, events.New(eventType, key, payload)); err != nil {
		s.logger.WithError(err).WithField("event", eventType).Warn("event not published")
	}
}

// stockChanged drops every cached view derived from part stock.
func (s *Service) stockChanged(ctx context.Context) {
	s.restock.Invalidate(ctx)
	s.reportsChanged(ctx)
}

func (s *Service) reportsChanged(ctx context.Context) {
	if err := s.cache.Delete(ctx, dashboardKey); err != nil {
		s.logger.WithError(err).Warn("dashboard cache invalidation failed")
	}
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

func orderKey(id int64) string {
	return fmt.Sprintf("orden-%d", id)
}
