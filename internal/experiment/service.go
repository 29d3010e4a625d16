// Package experiment is the A/B testing engine: test lifecycle, sticky
// assignment, event tracking, statistics and auto-completion.
//
// Domain conditions (unknown test, wrong status) are reported as a false
// or nil result. Only persistence failures are returned as errors.
package experiment

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gkobilansky/form-goat/internal/allocation"
	"github.com/gkobilansky/form-goat/internal/identity"
	"github.com/gkobilansky/form-goat/internal/store"
)

const DefaultAssignmentTTL = 30 * 24 * time.Hour

var (
	ErrInvalidConfig    = errors.New("invalid test config")
	ErrUnknownEventType = errors.New("unknown event type")
)

type Service struct {
	store            store.Store
	identity         identity.Provider
	rand             allocation.Rand
	sampler          allocation.Sampler
	logger           *slog.Logger
	now              func() time.Time
	assignmentTTL    time.Duration
	sweepConcurrency int
}

type Option func(*Service)

// WithIdentity sets the provider AssignCurrentVisitor reads from.
func WithIdentity(p identity.Provider) Option {
	return func(s *Service) { s.identity = p }
}

func WithRand(r allocation.Rand) Option {
	return func(s *Service) { s.rand = r }
}

// WithSampler sets the Beta sampler used by bandit allocation.
func WithSampler(sampler allocation.Sampler) Option {
	return func(s *Service) { s.sampler = sampler }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithAssignmentTTL(ttl time.Duration) Option {
	return func(s *Service) { s.assignmentTTL = ttl }
}

// WithSweepConcurrency bounds how many tests a sweep evaluates at once.
func WithSweepConcurrency(n int) Option {
	return func(s *Service) { s.sweepConcurrency = n }
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:            st,
		rand:             allocation.DefaultRand,
		now:              time.Now,
		assignmentTTL:    DefaultAssignmentTTL,
		sweepConcurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sampler == nil {
		s.sampler = allocation.NormalApprox{Rand: s.rand}
	}
	if s.assignmentTTL <= 0 {
		s.assignmentTTL = DefaultAssignmentTTL
	}
	if s.sweepConcurrency < 1 {
		s.sweepConcurrency = 1
	}
	return s
}
