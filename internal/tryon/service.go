package tryon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/suPer8Hu/gengenie/internal/common"
	"github.com/suPer8Hu/gengenie/internal/credits"
	"github.com/suPer8Hu/gengenie/internal/metrics"
)

const (
	requiredInputs    = 2
	maxRefLen         = 2048
	maxPromptLen      = 2000
	maxLabelLen       = 120
	maxIdempotencyLen = 128
	defaultListLimit  = 20
	maxListLimit      = 100
)

// Dispatcher hands an admitted job to the synthesis worker. It must not block
// on the synthesis itself.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) error
}

// Notifier is told about every job that reached a terminal state.
type Notifier interface {
	JobCompleted(ctx context.Context, job *Job) error
}

// MediaResolver turns a stored media reference into a URL a client can fetch.
type MediaResolver interface {
	ResolveURL(ctx context.Context, ref string) (string, error)
}

type Service struct {
	db         *gorm.DB
	repo       *Repo
	ledger     *credits.Ledger
	dispatcher Dispatcher
	notifier   Notifier
	resolver   MediaResolver
	grant      credits.Grant
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(*Service)

func WithDispatcher(d Dispatcher) Option { return func(s *Service) { s.dispatcher = d } }
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithResolver(r MediaResolver) Option { return func(s *Service) { s.resolver = r } }
func WithStartingGrant(g credits.Grant) Option { return func(s *Service) { s.grant = g } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(db *gorm.DB, repo *Repo, ledger *credits.Ledger, opts ...Option) *Service {
	s := &Service{
		db:     db,
		repo:   repo,
		ledger: ledger,
		logger: zerolog.Nop(),
		tracer: otel.Tracer("gengenie/tryon"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher wires a dispatcher that itself depends on the service.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

type SubmitInput struct {
	OwnerID        string
	Kind           string
	Inputs         []string // subject, garment
	Prompt         string
	AspectRatio    string
	ProductLabel   string
	IdempotencyKey string
}

func (in SubmitInput) validate() (Kind, AspectRatio, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return "", "", invalid("owner_id", "required")
	}
	kind, err := credits.ParseKind(in.Kind)
	if err != nil {
		return "", "", invalid("kind", "must be image or video")
	}
	if len(in.Inputs) != requiredInputs {
		return "", "", invalid("inputs", "exactly %d media references required (person, garment)", requiredInputs)
	}
	for i, ref := range in.Inputs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return "", "", invalid("inputs", "reference %d is empty", i)
		}
		if len(ref) > maxRefLen {
			return "", "", invalid("inputs", "reference %d is too long", i)
		}
	}
	ratio := AspectRatio(strings.TrimSpace(in.AspectRatio))
	if !ratio.Valid() {
		return "", "", invalid("aspect_ratio", "must be one of 1:1, 9:16, 16:9, 4:5")
	}
	if utf8.RuneCountInString(in.Prompt) > maxPromptLen {
		return "", "", invalid("prompt", "at most %d characters", maxPromptLen)
	}
	if utf8.RuneCountInString(in.ProductLabel) > maxLabelLen {
		return "", "", invalid("product_label", "at most %d characters", maxLabelLen)
	}
	if len(in.IdempotencyKey) > maxIdempotencyLen {
		return "", "", invalid("idempotency_key", "at most %d characters", maxIdempotencyLen)
	}
	return kind, ratio, nil
}

// Submit admits a job: validate, then debit one credit and create the job in a
// single transaction, then dispatch. It returns as soon as the job is stored;
// created is false when an earlier submission with the same idempotency key
// is returned instead.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (job *Job, created bool, err error) {
	ctx, span := s.tracer.Start(ctx, "tryon.submit")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "submit failed")
		}
	}()

	kind, ratio, err := in.validate()
	if err != nil {
		s.metrics.AdmissionRejected(strings.ToLower(in.Kind), "validation")
		return nil, false, err
	}
	span.SetAttributes(attribute.String("job.kind", string(kind)), attribute.String("job.owner", in.OwnerID))

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, in.OwnerID, key)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, false, fmt.Errorf("new job id: %w", err)
	}
	job = &Job{
		ID:             id,
		OwnerID:        in.OwnerID,
		Kind:           kind,
		Status:         StatusGenerating,
		PersonRef:      strings.TrimSpace(in.Inputs[0]),
		GarmentRef:     strings.TrimSpace(in.Inputs[1]),
		Prompt:         optional(in.Prompt),
		AspectRatio:    ratio,
		ProductLabel:   optional(in.ProductLabel),
		IdempotencyKey: optional(key),
		CreatedAt:      s.now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := s.ledger.WithTx(tx)
		if _, err := ledger.EnsureAccount(ctx, in.OwnerID, s.grant); err != nil {
			return err
		}
		if err := ledger.Debit(ctx, in.OwnerID, kind, 1, id); err != nil {
			if errors.Is(err, credits.ErrInsufficientBalance) {
				return ErrInsufficientCredits
			}
			return err
		}
		return s.repo.WithTx(tx).Create(ctx, job)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			s.metrics.AdmissionRejected(string(kind), "insufficient_credits")
			return nil, false, err
		}
		// a concurrent submission with the same key won the unique index
		if key != "" {
			if existing, getErr := s.repo.GetByIdempotencyKey(ctx, in.OwnerID, key); getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("admit job: %w", err)
	}

	s.metrics.JobSubmitted(string(kind))
	s.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", job.OwnerID).
		Str("kind", string(kind)).
		Str("aspect_ratio", string(ratio)).
		Msg("job admitted")

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatch failed")
			res, cerr := s.Complete(context.WithoutCancel(ctx), job.ID, Failed{Reason: "dispatch failed: " + err.Error()})
			if cerr != nil {
				// left generating; the reaper will fail and refund it
				s.logger.Error().Err(cerr).Str("job_id", job.ID).Msg("could not fail undispatched job")
				return job, true, nil
			}
			return res.Job, true, nil
		}
	}
	return job, true, nil
}

// Completion describes what Complete did. Applied is false when the job was
// already terminal and the event was absorbed.
type Completion struct {
	Job      *Job
	Applied  bool
	Refunded bool
}

// Complete records a worker outcome. The compare-and-set transition and the
// refund commit together, and a refund only happens when this call is the one
// that moved the job out of generating, so duplicate or retried deliveries
// never refund twice.
func (s *Service) Complete(ctx context.Context, jobID string, outcome Outcome) (res Completion, err error) {
	ctx, span := s.tracer.Start(ctx, "tryon.complete")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	outcome = normalizeOutcome(outcome)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := s.repo.WithTx(tx).Transition(ctx, jobID, outcome, s.now())
		if errors.Is(err, ErrAlreadyTerminal) {
			res = Completion{Job: job}
			return nil
		}
		if err != nil {
			return err
		}
		res = Completion{Job: job, Applied: true}

		if _, failed := outcome.(Failed); failed {
			if err := s.ledger.WithTx(tx).Refund(ctx, job.OwnerID, job.Kind, 1, job.ID); err != nil {
				return fmt.Errorf("refund job %s: %w", job.ID, err)
			}
			res.Refunded = true
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "complete failed")
		return Completion{}, err
	}

	if !res.Applied {
		s.metrics.DuplicateCompletion()
		s.logger.Debug().
			Str("job_id", jobID).
			Str("status", string(res.Job.Status)).
			Msg("duplicate completion ignored")
		return res, nil
	}

	job := res.Job
	span.SetAttributes(attribute.String("job.status", string(job.Status)))
	s.metrics.JobCompleted(string(job.Kind), string(job.Status), res.Refunded)
	ev := s.logger.Info()
	if job.Status == StatusFailed {
		ev = s.logger.Warn().Str("error", deref(job.Error))
	}
	ev.Str("job_id", job.ID).
		Str("user_id", job.OwnerID).
		Str("kind", string(job.Kind)).
		Str("status", string(job.Status)).
		Bool("refunded", res.Refunded).
		Msg("job completed")

	if s.notifier != nil {
		if err := s.notifier.JobCompleted(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("notify completion failed")
		}
	}
	return res, nil
}

// GetJob is the polling read; only the owner may see a job.
func (s *Service) GetJob(ctx context.Context, jobID, requesterID string) (*Job, error) {
	j, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != requesterID {
		return nil, ErrForbidden
	}
	return j, nil
}

// Lookup loads a job for execution, including soft-deleted ones.
func (s *Service) Lookup(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.getAny(ctx, jobID)
}

func (s *Service) ListJobs(ctx context.Context, ownerID string, f ListFilter) ([]Job, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	switch f.Kind {
	case KindOnlyImage, KindOnlyVideo:
	default:
		f.Kind = KindAll
	}
	return s.repo.ListByOwner(ctx, ownerID, f)
}

func (s *Service) DeleteJob(ctx context.Context, jobID, requesterID string) error {
	if err := s.repo.Delete(ctx, jobID, requesterID); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Str("user_id", requesterID).Msg("job deleted")
	return nil
}

// Stale lists jobs that have been generating since before the cutoff.
func (s *Service) Stale(ctx context.Context, olderThan time.Duration, limit int) ([]Job, error) {
	return s.repo.ListStale(ctx, s.now().Add(-olderThan), limit)
}

// Balance returns the owner's credits, creating the account with the
// starting grant on first sight.
func (s *Service) Balance(ctx context.Context, ownerID string) (credits.Balance, error) {
	return s.ledger.EnsureAccount(ctx, ownerID, s.grant)
}

// Entries is the owner's credit audit trail, newest first.
func (s *Service) Entries(ctx context.Context, ownerID string, limit int) ([]credits.Entry, error) {
	return s.ledger.Entries(ctx, ownerID, limit)
}
