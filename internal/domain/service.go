// Package domain defines the activity registry and its signup rules.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"example.com/signup/internal/observability"
)

var (
	// ErrActivityNotFound is returned when the named activity does not exist.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrAlreadyEnrolled is returned when the email is already on the roster.
	ErrAlreadyEnrolled = errors.New("student is already signed up")
	// ErrNotEnrolled is returned when withdrawing an email that is not on the roster.
	ErrNotEnrolled = errors.New("student is not signed up for this activity")
	// ErrInvalidEmail is returned for blank email addresses.
	ErrInvalidEmail = errors.New("email is required")
)

const publishTimeout = 5 * time.Second

// Repository stores activities. AddParticipant and RemoveParticipant must check
// and mutate atomically so concurrent callers cannot both succeed for one email.
type Repository interface {
	Seed(ctx context.Context, activities []Activity) error
	List(ctx context.Context) ([]Activity, error)
	AddParticipant(ctx context.Context, activity, email string, at time.Time) error
	RemoveParticipant(ctx context.Context, activity, email string, at time.Time) error
}

// EventPublisher receives enrollment events after the repository accepted them.
type EventPublisher interface {
	PublishEnrollment(ctx context.Context, event EnrollmentEvent) error
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher emits an event for every successful enrollment change.
// Backends that record events transactionally do not need one.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithLogger sets the logger used for publish failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service is the activity registry.
type Service struct {
	repo      Repository
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every activity in catalog order.
func (s *Service) List(ctx context.Context) ([]Activity, error) {
	activities, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range activities {
		observability.RecordRosterSize(a.Name, len(a.Participants))
	}
	return activities, nil
}

// Enroll adds email to the roster of the named activity.
func (s *Service) Enroll(ctx context.Context, activity, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidEmail
	}

	at := s.now()
	err := s.repo.AddParticipant(ctx, activity, email, at)
	observability.RecordEnrollment(metricLabel(activity, err), outcome(err))
	if err != nil {
		return err
	}

	s.publish(ctx, EnrollmentEvent{Change: EnrollmentAdded, Activity: activity, Email: email, OccurredAt: at})
	return nil
}

// Withdraw removes email from the roster of the named activity.
func (s *Service) Withdraw(ctx context.Context, activity, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrInvalidEmail
	}

	at := s.now()
	err := s.repo.RemoveParticipant(ctx, activity, email, at)
	observability.RecordWithdrawal(metricLabel(activity, err), outcome(err))
	if err != nil {
		return err
	}

	s.publish(ctx, EnrollmentEvent{Change: EnrollmentRemoved, Activity: activity, Email: email, OccurredAt: at})
	return nil
}

func (s *Service) publish(ctx context.Context, event EnrollmentEvent) {
	if s.publisher == nil {
		return
	}
	// The roster change is already committed; a lost event must not fail the request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.PublishEnrollment(ctx, event); err != nil {
		s.logger.Warn("publish enrollment event failed",
			zap.String("activity", event.Activity),
			zap.String("change", string(event.Change)),
			zap.Error(err),
		)
	}
}

// metricLabel keeps unknown activity names out of metric label values.
func metricLabel(activity string, err error) string {
	if errors.Is(err, ErrActivityNotFound) {
		return "unknown"
	}
	return activity
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrActivityNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyEnrolled):
		return "already_enrolled"
	case errors.Is(err, ErrNotEnrolled):
		return "not_enrolled"
	default:
		return "error"
	}
}
