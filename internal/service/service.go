package service

import (
	"context"
	"time"

	"colorstock/backend/internal/cache"
	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/logger"
	"colorstock/backend/internal/metrics"
	"colorstock/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	reports   cache.ReportCache
	reportTTL time.Duration
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type Option func(*Service)

func WithReportCache(c cache.ReportCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.reports = c
		}
		if ttl > 0 {
			s.reportTTL = ttl
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for sale timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		reports:   cache.NoopReportCache{},
		reportTTL: 30 * time.Second,
		log:       logger.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func requireElevated(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, ErrUnauthorized
	}
	if !domain.IsElevatedRole(actor.Role) {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.reports.Invalidate(ctx); err != nil {
		s.log.Error(ctx, "report cache invalidation failed", err)
	}
}
