package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentdesk/rentdesk/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	TxRepository
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListTenants(ctx context.Context, filter TenantFilter) ([]Tenant, error)
	ListUnits(ctx context.Context, filter UnitFilter) ([]Unit, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
	SumPayments(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}

// IdempotencyPort guards against duplicate submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// DashboardCachePort stores rendered dashboards between ledger writes.
type DashboardCachePort interface {
	Get(ctx context.Context, day time.Time, build func(context.Context) (Dashboard, error)) (Dashboard, error)
	Invalidate(ctx context.Context) error
}

// Options configures a Service.
type Options struct {
	// Location is the calendar in which "today" is evaluated.
	Location *time.Location
	// AccrueBeforePayment runs the accrual check for the paying tenant
	// inside the payment transaction.
	AccrueBeforePayment bool
	// SweepConcurrency bounds concurrent per-tenant accrual checks.
	SweepConcurrency int
	Gate             Gate
	Idempotency      IdempotencyPort
	Cache            DashboardCachePort
	Logger           *slog.Logger
}

// Service orchestrates ledger flows.
type Service struct {
	repo                RepositoryPort
	sweeper             *Sweeper
	gate                Gate
	idempotency         IdempotencyPort
	cache               DashboardCachePort
	logger              *slog.Logger
	loc                 *time.Location
	accrueBeforePayment bool
	now                 func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	gate := opts.Gate
	if gate == nil {
		gate = NewMemoryGate()
	}
	return &Service{
		repo:                repo,
		sweeper:             NewSweeper(repo, logger, opts.SweepConcurrency),
		gate:                gate,
		idempotency:         opts.Idempotency,
		cache:               opts.Cache,
		logger:              logger,
		loc:                 loc,
		accrueBeforePayment: opts.AccrueBeforePayment,
		now:                 time.Now,
	}
}

// WithNow overrides the clock, primarily for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Today returns the current calendar date in the billing location.
func (s *Service) Today() time.Time {
	return DateOf(s.now().In(s.loc))
}

// TenantDetail bundles a tenant with its unit and recent payments.
type TenantDetail struct {
	Tenant   Tenant
	Unit     Unit
	Payments []Payment
}

// ListActiveTenants returns tenants that have not moved out.
func (s *Service) ListActiveTenants(ctx context.Context) ([]Tenant, error) {
	return s.repo.ListTenants(ctx, TenantFilter{})
}

// ListArchivedTenants returns moved-out tenants.
func (s *Service) ListArchivedTenants(ctx context.Context) ([]Tenant, error) {
	return s.repo.ListTenants(ctx, TenantFilter{Archived: true})
}

// GetTenant loads a tenant with unit and payment history.
func (s *Service) GetTenant(ctx context.Context, id int64) (TenantDetail, error) {
	tenant, err := s.repo.GetTenant(ctx, id)
	if err != nil {
		return TenantDetail{}, err
	}
	unit, err := s.repo.GetUnit(ctx, tenant.UnitID)
	if err != nil {
		return TenantDetail{}, err
	}
	payments, err := s.repo.ListPayments(ctx, PaymentFilter{TenantID: id})
	if err != nil {
		return TenantDetail{}, err
	}
	return TenantDetail{Tenant: tenant, Unit: unit, Payments: payments}, nil
}

// ListPayments returns payments matching filter, newest first.
func (s *Service) ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	return s.repo.ListPayments(ctx, filter)
}

// ListUnits returns units, optionally filtered by status.
func (s *Service) ListUnits(ctx context.Context, filter UnitFilter) ([]Unit, error) {
	if filter.Status != "" {
		if _, ok := validUnitTransitions[filter.Status]; !ok {
			return nil, newValidationError("status", "must be one of Available Occupied Unavailable")
		}
	}
	return s.repo.ListUnits(ctx, filter)
}

// claimIdempotency reserves key for module. An empty key is a no-op.
func (s *Service) claimIdempotency(ctx context.Context, key, module string) (func(), error) {
	if key == "" || s.idempotency == nil {
		return func() {}, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil, ErrDuplicateSubmission
		}
		return nil, err
	}
	release := func() {
		if err := s.idempotency.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}
	return release, nil
}

// invalidate drops cached dashboards after a ledger write.
func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate dashboard cache", slog.Any("error", err))
	}
}
