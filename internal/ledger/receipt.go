package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var pesoPrinter = message.NewPrinter(language.English)

// FormatPeso renders an amount as pesos with grouping and two decimals,
// e.g. ₱18,000.00.
func FormatPeso(amount decimal.Decimal) string {
	f, _ := amount.Round(2).Float64()
	return pesoPrinter.Sprintf("₱%v", number.Decimal(f, number.Scale(2)))
}

// Receipt is the printable record of one payment.
type Receipt struct {
	Reference   string    `json:"reference"`
	TenantID    int64     `json:"tenant_id"`
	TenantName  string    `json:"tenant_name"`
	UnitNumber  string    `json:"unit_number"`
	PaidOn      time.Time `json:"paid_on"`
	Amount      string    `json:"amount"`
	MonthlyRent string    `json:"monthly_rent"`
	Balance     string    `json:"balance"`
	RecordedBy  string    `json:"recorded_by"`
	ProofURL    string    `json:"proof_url"`
}

// Receipt assembles the receipt for paymentID. Balance is the tenant's
// current balance, not a snapshot at payment time.
func (s *Service) Receipt(ctx context.Context, paymentID int64) (Receipt, error) {
	payment, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return Receipt{}, err
	}
	tenant, err := s.repo.GetTenant(ctx, payment.TenantID)
	if err != nil {
		return Receipt{}, err
	}
	unit, err := s.repo.GetUnit(ctx, payment.UnitID)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Reference:   payment.Reference,
		TenantID:    tenant.ID,
		TenantName:  tenant.FullName(),
		UnitNumber:  unit.Number,
		PaidOn:      payment.PaidOn,
		Amount:      FormatPeso(payment.Amount),
		MonthlyRent: FormatPeso(unit.Price),
		Balance:     FormatPeso(tenant.Balance),
		RecordedBy:  payment.RecordedBy,
		ProofURL:    payment.ProofURL,
	}, nil
}
