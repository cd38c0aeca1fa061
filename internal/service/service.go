package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/cache"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/domain"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/ledger"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/metrics"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/money"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/xid"
)

var tracer = otel.Tracer("github.com/iamhuraira/pharmaKhata-sub000/internal/service")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

type Options struct {
	// Location is the zone used for ledger month/day fields.
	Location *time.Location
	// DriftTolerance is the largest register/ledger difference that
	// reconciliation repairs without raising an inconsistency.
	DriftTolerance money.Amount
	SummaryTTL     time.Duration
	Jobs           cache.JobLocker
	Now            func() time.Time
}

type Service struct {
	repo       store.Repository
	book       *ledger.Book
	summaries  cache.SummaryCache
	jobs       cache.JobLocker
	logger     *zap.Logger
	validate   *validator.Validate
	tolerance  money.Amount
	summaryTTL time.Duration
	now        func() time.Time
}

func New(repo store.Repository, summaries cache.SummaryCache, logger *zap.Logger, opts Options) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Jobs == nil {
		opts.Jobs = cache.NewLocalJobLocker()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 5 * time.Minute
	}

	return &Service{
		repo:       repo,
		book:       ledger.NewBook(opts.Location, opts.Now),
		summaries:  summaries,
		jobs:       opts.Jobs,
		logger:     logger.Named("service"),
		validate:   newValidator(),
		tolerance:  opts.DriftTolerance.Abs(),
		summaryTTL: opts.SummaryTTL,
		now:        opts.Now,
	}
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// inTx runs fn as one atomic unit, traced and timed under op. Errors outside
// the domain taxonomy come back as *domain.PersistenceError.
func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, span := tracer.Start(ctx, "service."+op)
	defer span.End()

	started := time.Now()
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		return fn(ctx, tx)
	})
	metrics.SettlementDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	metrics.Settlements.WithLabelValues(op, metrics.Outcome(err)).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return classify(op, err)
	}
	return nil
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	case domain.IsKnown(err):
		return err
	default:
		return &domain.PersistenceError{Op: op, Err: err}
	}
}

// afterLedgerWrite runs once a transaction that appended entries has
// committed.
func (s *Service) afterLedgerWrite(ctx context.Context, entries ...domain.LedgerEntry) {
	for _, e := range entries {
		metrics.LedgerEntries.WithLabelValues(string(e.Type)).Inc()
	}
	if err := s.summaries.Invalidate(ctx); err != nil {
		s.logger.Warn("summary cache invalidation failed", zap.Error(err))
	}
}

func (s *Service) audit(ctx context.Context, tx store.Tx, action, entityType, entityID, detail string) error {
	return tx.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actorName(ctx),
		Detail:     detail,
		CreatedAt:  s.timestamp(),
	})
}

func spanAttrs(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs struct validation and converts failures into field-level
// domain errors.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.NewValidationError("", "%v", err)
	}

	out := make(domain.ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		out = append(out, domain.NewValidationError(field, "%s", describe(fe)))
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
