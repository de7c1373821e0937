package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// CreateUnitInput registers a rentable unit.
type CreateUnitInput struct {
	Number      string          `json:"number" validate:"required,max=32"`
	Price       decimal.Decimal `json:"price" validate:"gt=0,money"`
	Description string          `json:"description" validate:"max=500"`
}

// UpdateUnitInput edits a unit's number, price or description.
type UpdateUnitInput struct {
	UnitID      int64           `json:"unit_id" validate:"gt=0"`
	Number      string          `json:"number" validate:"required,max=32"`
	Price       decimal.Decimal `json:"price" validate:"gt=0,money"`
	Description string          `json:"description" validate:"max=500"`
}

// CreateUnit adds an Available unit.
func (s *Service) CreateUnit(ctx context.Context, input CreateUnitInput) (Unit, error) {
	input.Number = strings.TrimSpace(input.Number)
	if err := validateInput(input); err != nil {
		return Unit{}, err
	}
	unit, err := s.repo.InsertUnit(ctx, Unit{
		Number:      input.Number,
		Price:       input.Price,
		Description: strings.TrimSpace(input.Description),
		Status:      UnitStatusAvailable,
	})
	if err != nil {
		return Unit{}, err
	}
	s.logger.Info("unit created", slog.Int64("unit_id", unit.ID), slog.String("number", unit.Number))
	s.invalidate(ctx)
	return unit, nil
}

// UpdateUnit edits unit details. Price changes apply from the next accrual.
func (s *Service) UpdateUnit(ctx context.Context, input UpdateUnitInput) (Unit, error) {
	input.Number = strings.TrimSpace(input.Number)
	if err := validateInput(input); err != nil {
		return Unit{}, err
	}
	var out Unit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		unit, err := tx.GetUnitForUpdate(ctx, input.UnitID)
		if err != nil {
			return err
		}
		unit.Number = input.Number
		unit.Price = input.Price
		unit.Description = strings.TrimSpace(input.Description)
		out, err = tx.UpdateUnit(ctx, unit)
		return err
	})
	if err != nil {
		return Unit{}, err
	}
	s.invalidate(ctx)
	return out, nil
}

// RetireUnit takes an unoccupied unit off the market.
func (s *Service) RetireUnit(ctx context.Context, id int64) (Unit, error) {
	return s.setUnitAvailability(ctx, id, UnitStatusUnavailable)
}

// RestoreUnit returns a retired unit to the market.
func (s *Service) RestoreUnit(ctx context.Context, id int64) (Unit, error) {
	return s.setUnitAvailability(ctx, id, UnitStatusAvailable)
}

func (s *Service) setUnitAvailability(ctx context.Context, id int64, target UnitStatus) (Unit, error) {
	var out Unit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		unit, err := tx.GetUnitForUpdate(ctx, id)
		if err != nil {
			return err
		}
		// Occupied units only change status through tenancy transitions.
		if unit.Status == UnitStatusOccupied {
			return fmt.Errorf("%w: unit %s is occupied", ErrInvalidTransition, unit.Number)
		}
		if target == UnitStatusUnavailable {
			occupants, err := tx.CountActiveTenants(ctx, unit.ID)
			if err != nil {
				return err
			}
			if occupants > 0 {
				return fmt.Errorf("%w: unit %s has an active tenant", ErrInvalidTransition, unit.Number)
			}
		}
		out, err = s.transitionUnit(ctx, tx, unit, target)
		return err
	})
	if err != nil {
		return Unit{}, err
	}
	s.logger.Info("unit status changed", slog.Int64("unit_id", out.ID), slog.String("status", string(out.Status)))
	s.invalidate(ctx)
	return out, nil
}
