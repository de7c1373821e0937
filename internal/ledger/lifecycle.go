package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MoveInInput registers a new tenant into an available unit.
type MoveInInput struct {
	UnitID     int64     `json:"unit_id" validate:"gt=0"`
	FirstName  string    `json:"first_name" validate:"required,max=100"`
	LastName   string    `json:"last_name" validate:"required,max=100"`
	Email      string    `json:"email" validate:"omitempty,email,max=254"`
	Phone      string    `json:"phone" validate:"omitempty,max=32"`
	MoveInDate time.Time `json:"move_in_date" validate:"date"`
	// InitialBalance defaults to one period's rent when nil.
	InitialBalance *decimal.Decimal `json:"initial_balance" validate:"omitempty,gte=0,money"`
	CreatedBy      string           `json:"-"`
}

// ReassignInput moves an active tenant to another unit.
type ReassignInput struct {
	TenantID int64 `json:"tenant_id" validate:"gt=0"`
	UnitID   int64 `json:"unit_id" validate:"gt=0"`
}

// MoveOutInput ends a tenancy.
type MoveOutInput struct {
	TenantID    int64     `json:"tenant_id" validate:"gt=0"`
	MoveOutDate time.Time `json:"move_out_date" validate:"date"`
	// FinalBalance defaults to the tenant's current balance when nil.
	FinalBalance *decimal.Decimal `json:"final_balance" validate:"omitempty,gte=0,money"`
	Reason       string           `json:"reason" validate:"max=500"`
}

// UpdateTenantInput edits contact details and optionally sets the balance.
type UpdateTenantInput struct {
	TenantID  int64            `json:"tenant_id" validate:"gt=0"`
	FirstName string           `json:"first_name" validate:"required,max=100"`
	LastName  string           `json:"last_name" validate:"required,max=100"`
	Email     string           `json:"email" validate:"omitempty,email,max=254"`
	Phone     string           `json:"phone" validate:"omitempty,max=32"`
	Balance   *decimal.Decimal `json:"balance" validate:"omitempty,gte=0,money"`
}

// Tenancy pairs a tenant with the unit it occupies after a transition.
type Tenancy struct {
	Tenant Tenant
	Unit   Unit
}

// MoveIn creates the tenant and marks the unit Occupied in one transaction.
// The tenant's accrual marker starts at the move-in date, so the first
// charge happens one full period later.
func (s *Service) MoveIn(ctx context.Context, input MoveInInput) (Tenancy, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.TrimSpace(input.Email)
	if err := validateInput(input); err != nil {
		return Tenancy{}, err
	}
	moveIn := DateOf(input.MoveInDate)

	var out Tenancy
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		unit, err := tx.GetUnitForUpdate(ctx, input.UnitID)
		if err != nil {
			return err
		}
		if unit.Status != UnitStatusAvailable {
			return fmt.Errorf("%w: unit %s is %s", ErrUnitNotAvailable, unit.Number, unit.Status)
		}
		occupants, err := tx.CountActiveTenants(ctx, unit.ID)
		if err != nil {
			return err
		}
		if occupants > 0 {
			return fmt.Errorf("%w: unit %s has an active tenant", ErrUnitNotAvailable, unit.Number)
		}
		balance := unit.Price
		if input.InitialBalance != nil {
			balance = *input.InitialBalance
		}
		tenant, err := tx.InsertTenant(ctx, NewTenant{
			FirstName:         input.FirstName,
			LastName:          input.LastName,
			Email:             input.Email,
			Phone:             input.Phone,
			UnitID:            unit.ID,
			MoveInDate:        moveIn,
			Balance:           balance,
			LastAccrualPeriod: moveIn,
			CreatedBy:         input.CreatedBy,
		})
		if err != nil {
			return err
		}
		unit, err = s.transitionUnit(ctx, tx, unit, UnitStatusOccupied)
		if err != nil {
			return err
		}
		out = Tenancy{Tenant: tenant, Unit: unit}
		return nil
	})
	if err != nil {
		return Tenancy{}, err
	}
	s.logger.Info("tenant moved in",
		slog.Int64("tenant_id", out.Tenant.ID),
		slog.Int64("unit_id", out.Unit.ID),
		slog.String("move_in", moveIn.Format(time.DateOnly)),
	)
	s.invalidate(ctx)
	return out, nil
}

// ReassignUnit moves an active tenant to another Available unit, freeing the
// old one. Reassigning to the current unit is a no-op.
func (s *Service) ReassignUnit(ctx context.Context, input ReassignInput) (Tenancy, error) {
	if err := validateInput(input); err != nil {
		return Tenancy{}, err
	}
	var out Tenancy
	changed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tenant, err := tx.GetTenantForUpdate(ctx, input.TenantID)
		if err != nil {
			return err
		}
		if err := validateTransition(validTenancyTransitions, tenant.State(), TenancyActive); err != nil {
			return fmt.Errorf("%w: %w", ErrTenantInactive, err)
		}
		if tenant.UnitID == input.UnitID {
			unit, err := tx.GetUnit(ctx, tenant.UnitID)
			if err != nil {
				return err
			}
			out = Tenancy{Tenant: tenant, Unit: unit}
			return nil
		}

		// lock both units in id order
		oldUnit, newUnit, err := lockUnitPair(ctx, tx, tenant.UnitID, input.UnitID)
		if err != nil {
			return err
		}
		if newUnit.Status != UnitStatusAvailable {
			return fmt.Errorf("%w: unit %s is %s", ErrUnitNotAvailable, newUnit.Number, newUnit.Status)
		}
		if _, err := s.transitionUnit(ctx, tx, oldUnit, UnitStatusAvailable); err != nil {
			return err
		}
		if newUnit, err = s.transitionUnit(ctx, tx, newUnit, UnitStatusOccupied); err != nil {
			return err
		}
		if tenant, err = tx.UpdateTenantUnit(ctx, tenant.ID, tenant.Version, newUnit.ID); err != nil {
			return err
		}
		out = Tenancy{Tenant: tenant, Unit: newUnit}
		changed = true
		return nil
	})
	if err != nil {
		return Tenancy{}, err
	}
	if changed {
		s.logger.Info("tenant reassigned", slog.Int64("tenant_id", out.Tenant.ID), slog.Int64("unit_id", out.Unit.ID))
		s.invalidate(ctx)
	}
	return out, nil
}

// MoveOut archives the tenant and frees its unit. Archived tenants are
// excluded from accrual and payment flows.
func (s *Service) MoveOut(ctx context.Context, input MoveOutInput) (Tenancy, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if err := validateInput(input); err != nil {
		return Tenancy{}, err
	}
	date := DateOf(input.MoveOutDate)

	var out Tenancy
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tenant, err := tx.GetTenantForUpdate(ctx, input.TenantID)
		if err != nil {
			return err
		}
		if err := validateTransition(validTenancyTransitions, tenant.State(), TenancyMovedOut); err != nil {
			return fmt.Errorf("%w: %w", ErrTenantInactive, err)
		}
		if date.Before(DateOf(tenant.MoveInDate)) {
			return newValidationError("move_out_date", "cannot be before the move-in date")
		}
		final := tenant.Balance
		if input.FinalBalance != nil {
			final = *input.FinalBalance
		}
		tenant, err = tx.MarkMovedOut(ctx, tenant.ID, tenant.Version, MoveOut{Date: date, FinalBalance: final, Reason: input.Reason})
		if err != nil {
			return err
		}
		unit, err := tx.GetUnitForUpdate(ctx, tenant.UnitID)
		if err != nil {
			return err
		}
		if unit.Status != UnitStatusAvailable {
			if unit, err = s.transitionUnit(ctx, tx, unit, UnitStatusAvailable); err != nil {
				return err
			}
		}
		out = Tenancy{Tenant: tenant, Unit: unit}
		return nil
	})
	if err != nil {
		return Tenancy{}, err
	}
	s.logger.Info("tenant moved out",
		slog.Int64("tenant_id", out.Tenant.ID),
		slog.Int64("unit_id", out.Unit.ID),
		slog.String("final_balance", out.Tenant.Balance.StringFixed(2)),
	)
	s.invalidate(ctx)
	return out, nil
}

// UpdateTenant edits an active tenant's contact details. A non-nil balance
// overrides the ledger balance as a manual adjustment.
func (s *Service) UpdateTenant(ctx context.Context, input UpdateTenantInput) (Tenant, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.TrimSpace(input.Email)
	if err := validateInput(input); err != nil {
		return Tenant{}, err
	}
	var out Tenant
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tenant, err := tx.GetTenantForUpdate(ctx, input.TenantID)
		if err != nil {
			return err
		}
		if !tenant.Active() {
			return ErrTenantInactive
		}
		tenant, err = tx.UpdateTenantContact(ctx, tenant.ID, tenant.Version, TenantContact{
			FirstName: input.FirstName,
			LastName:  input.LastName,
			Email:     input.Email,
			Phone:     input.Phone,
		})
		if err != nil {
			return err
		}
		if input.Balance != nil && !input.Balance.Equal(tenant.Balance) {
			s.logger.Info("manual balance adjustment",
				slog.Int64("tenant_id", tenant.ID),
				slog.String("from", tenant.Balance.StringFixed(2)),
				slog.String("to", input.Balance.StringFixed(2)),
			)
			if tenant, err = tx.UpdateTenantBalance(ctx, tenant.ID, tenant.Version, *input.Balance); err != nil {
				return err
			}
		}
		out = tenant
		return nil
	})
	if err != nil {
		return Tenant{}, err
	}
	s.invalidate(ctx)
	return out, nil
}

func (s *Service) transitionUnit(ctx context.Context, tx TxRepository, unit Unit, target UnitStatus) (Unit, error) {
	if err := validateTransition(validUnitTransitions, unit.Status, target); err != nil {
		return Unit{}, fmt.Errorf("unit %s: %w", unit.Number, err)
	}
	return tx.UpdateUnitStatus(ctx, unit.ID, unit.Status, target)
}

func lockUnitPair(ctx context.Context, tx TxRepository, oldID, newID int64) (Unit, Unit, error) {
	first, second := oldID, newID
	if second < first {
		first, second = second, first
	}
	a, err := tx.GetUnitForUpdate(ctx, first)
	if err != nil {
		return Unit{}, Unit{}, err
	}
	b, err := tx.GetUnitForUpdate(ctx, second)
	if err != nil {
		return Unit{}, Unit{}, err
	}
	if a.ID == oldID {
		return a, b, nil
	}
	return b, a, nil
}
