package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const paymentsModule = "ledger.payments"

// AddPaymentInput records a payment against a tenant's unit.
type AddPaymentInput struct {
	TenantID       int64           `json:"tenant_id" validate:"gt=0"`
	UnitID         int64           `json:"unit_id" validate:"gt=0"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0,money"`
	PaidOn         time.Time       `json:"paid_on" validate:"date"`
	ProofURL       string          `json:"proof_url" validate:"required,max=2048"`
	RecordedBy     string          `json:"-"`
	IdempotencyKey string          `json:"-"`
}

// EditPaymentInput corrects an existing payment.
type EditPaymentInput struct {
	PaymentID int64           `json:"payment_id" validate:"gt=0"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0,money"`
	PaidOn    time.Time       `json:"paid_on" validate:"date"`
	// ProofURL replaces the stored proof when set.
	ProofURL string `json:"proof_url" validate:"omitempty,max=2048"`
	EditedBy string `json:"-"`
}

// PaymentResult reports a recorded payment and the tenant's new balance.
type PaymentResult struct {
	Payment Payment
	Tenant  Tenant
	// Accrual is set when rent was charged before the payment was applied.
	Accrual *TenantAccrual
}

// EditResult reports an edited payment and the balance adjustment.
type EditResult struct {
	Payment Payment
	Tenant  Tenant
	Delta   decimal.Decimal
}

// ApplyPayment returns the balance after paying amount, floored at zero.
// Overpayment is not carried as credit.
func ApplyPayment(balance, amount decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, balance.Sub(amount))
}

// AddPayment charges any elapsed period for the tenant, then records the
// payment and reduces the balance in one transaction.
func (s *Service) AddPayment(ctx context.Context, input AddPaymentInput) (PaymentResult, error) {
	input.ProofURL = strings.TrimSpace(input.ProofURL)
	if err := validateInput(input); err != nil {
		return PaymentResult{}, err
	}
	release, err := s.claimIdempotency(ctx, input.IdempotencyKey, paymentsModule)
	if err != nil {
		return PaymentResult{}, err
	}

	today := s.Today()
	var result PaymentResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tenant, err := tx.GetTenantForUpdate(ctx, input.TenantID)
		if err != nil {
			return err
		}
		if !tenant.Active() {
			return ErrTenantInactive
		}
		if tenant.UnitID != input.UnitID {
			return newValidationError("unit_id", "does not match the tenant's unit")
		}
		if s.accrueBeforePayment {
			accrual, err := s.sweeper.AccrueTenant(ctx, tx, tenant, today)
			if err != nil {
				return err
			}
			if accrual.Outcome == AccrualCharged {
				result.Accrual = &accrual
				if tenant, err = tx.GetTenantForUpdate(ctx, tenant.ID); err != nil {
					return err
				}
			}
		}
		tenant, err = tx.UpdateTenantBalance(ctx, tenant.ID, tenant.Version, ApplyPayment(tenant.Balance, input.Amount))
		if err != nil {
			return err
		}
		payment, err := tx.InsertPayment(ctx, Payment{
			Reference:  uuid.NewString(),
			TenantID:   tenant.ID,
			UnitID:     tenant.UnitID,
			Amount:     input.Amount,
			PaidOn:     DateOf(input.PaidOn),
			ProofURL:   input.ProofURL,
			RecordedBy: input.RecordedBy,
		})
		if err != nil {
			return err
		}
		result.Payment = payment
		result.Tenant = tenant
		return nil
	})
	if err != nil {
		release()
		return PaymentResult{}, err
	}
	s.logger.Info("payment recorded",
		slog.Int64("payment_id", result.Payment.ID),
		slog.Int64("tenant_id", result.Tenant.ID),
		slog.String("amount", input.Amount.StringFixed(2)),
		slog.String("balance", result.Tenant.Balance.StringFixed(2)),
	)
	s.invalidate(ctx)
	return result, nil
}

// EditPayment replaces a payment's amount and date and adjusts the tenant's
// balance by the difference. A larger amount lowers the balance (floored at
// zero); a smaller amount raises it.
func (s *Service) EditPayment(ctx context.Context, input EditPaymentInput) (EditResult, error) {
	input.ProofURL = strings.TrimSpace(input.ProofURL)
	if err := validateInput(input); err != nil {
		return EditResult{}, err
	}

	var result EditResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPaymentForUpdate(ctx, input.PaymentID)
		if err != nil {
			return err
		}
		tenant, err := tx.GetTenantForUpdate(ctx, payment.TenantID)
		if err != nil {
			return err
		}
		if !tenant.Active() {
			return ErrTenantInactive
		}
		delta := input.Amount.Sub(payment.Amount)
		tenant, err = tx.UpdateTenantBalance(ctx, tenant.ID, tenant.Version, ApplyPayment(tenant.Balance, delta))
		if err != nil {
			return err
		}
		payment.Amount = input.Amount
		payment.PaidOn = DateOf(input.PaidOn)
		if input.ProofURL != "" {
			payment.ProofURL = input.ProofURL
		}
		payment, err = tx.UpdatePayment(ctx, payment)
		if err != nil {
			return err
		}
		result = EditResult{Payment: payment, Tenant: tenant, Delta: delta}
		return nil
	})
	if err != nil {
		return EditResult{}, err
	}
	s.logger.Info("payment edited",
		slog.Int64("payment_id", result.Payment.ID),
		slog.Int64("tenant_id", result.Tenant.ID),
		slog.String("delta", result.Delta.StringFixed(2)),
		slog.String("edited_by", input.EditedBy),
	)
	s.invalidate(ctx)
	return result, nil
}
