package ledgerhttp

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentdesk/rentdesk/internal/ledger"
)

const dateLayout = time.DateOnly

// money accepts either a JSON number or a numeric string.
type money string

func (m *money) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*m = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	*m = money(strings.TrimSpace(s))
	return nil
}

// fieldParser accumulates conversion errors keyed by field.
type fieldParser struct {
	fields map[string]string
}

func (p *fieldParser) fail(field, msg string) {
	if p.fields == nil {
		p.fields = make(map[string]string)
	}
	p.fields[field] = msg
}

func (p *fieldParser) decimal(field string, v money) decimal.Decimal {
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(string(v))
	if err != nil {
		p.fail(field, "must be numeric")
		return decimal.Zero
	}
	return d
}

func (p *fieldParser) optionalDecimal(field string, v *money) *decimal.Decimal {
	if v == nil || *v == "" {
		return nil
	}
	d := p.decimal(field, *v)
	return &d
}

func (p *fieldParser) date(field, v string) time.Time {
	if strings.TrimSpace(v) == "" {
		return time.Time{}
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(v))
	if err != nil {
		p.fail(field, "must be a date (YYYY-MM-DD)")
		return time.Time{}
	}
	return t
}

func (p *fieldParser) err() error {
	if len(p.fields) == 0 {
		return nil
	}
	return &ledger.ValidationError{Fields: p.fields}
}

type addPaymentRequest struct {
	TenantID int64  `json:"tenant_id"`
	UnitID   int64  `json:"unit_id"`
	Amount   money  `json:"amount"`
	PaidOn   string `json:"paid_on"`
	ProofURL string `json:"proof_url"`
}

type editPaymentRequest struct {
	Amount   money  `json:"amount"`
	PaidOn   string `json:"paid_on"`
	ProofURL string `json:"proof_url"`
}

type moveInRequest struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	MoveInDate     string `json:"move_in_date"`
	InitialBalance *money `json:"initial_balance"`
}

type reassignRequest struct {
	UnitID int64 `json:"unit_id"`
}

type moveOutRequest struct {
	MoveOutDate  string `json:"move_out_date"`
	FinalBalance *money `json:"final_balance"`
	Reason       string `json:"reason"`
}

type updateTenantRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Balance   *money `json:"balance"`
}

type unitRequest struct {
	Number      string `json:"number"`
	Price       money  `json:"price"`
	Description string `json:"description"`
}

type sweepRequest struct {
	Force bool `json:"force"`
}

type unitResponse struct {
	ID          int64  `json:"id"`
	Number      string `json:"number"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func toUnit(u ledger.Unit) unitResponse {
	return unitResponse{
		ID:          u.ID,
		Number:      u.Number,
		Price:       u.Price.StringFixed(2),
		Description: u.Description,
		Status:      string(u.Status),
	}
}

type tenantResponse struct {
	ID                int64   `json:"id"`
	FirstName         string  `json:"first_name"`
	LastName          string  `json:"last_name"`
	Email             string  `json:"email,omitempty"`
	Phone             string  `json:"phone,omitempty"`
	UnitID            int64   `json:"unit_id"`
	MoveInDate        string  `json:"move_in_date"`
	MoveOutDate       *string `json:"move_out_date,omitempty"`
	MoveOutReason     string  `json:"move_out_reason,omitempty"`
	Balance           string  `json:"balance"`
	LastAccrualPeriod *string `json:"last_accrual_period,omitempty"`
	State             string  `json:"state"`
	Version           int64   `json:"version"`
}

func formatDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func toTenant(t ledger.Tenant) tenantResponse {
	return tenantResponse{
		ID:                t.ID,
		FirstName:         t.FirstName,
		LastName:          t.LastName,
		Email:             t.Email,
		Phone:             t.Phone,
		UnitID:            t.UnitID,
		MoveInDate:        t.MoveInDate.Format(dateLayout),
		MoveOutDate:       formatDatePtr(t.MoveOutDate),
		MoveOutReason:     t.MoveOutReason,
		Balance:           t.Balance.StringFixed(2),
		LastAccrualPeriod: formatDatePtr(t.LastAccrualPeriod),
		State:             string(t.State()),
		Version:           t.Version,
	}
}

func toTenants(in []ledger.Tenant) []tenantResponse {
	out := make([]tenantResponse, 0, len(in))
	for _, t := range in {
		out = append(out, toTenant(t))
	}
	return out
}

type paymentResponse struct {
	ID         int64  `json:"id"`
	Reference  string `json:"reference"`
	TenantID   int64  `json:"tenant_id"`
	UnitID     int64  `json:"unit_id"`
	Amount     string `json:"amount"`
	PaidOn     string `json:"paid_on"`
	ProofURL   string `json:"proof_url"`
	RecordedBy string `json:"recorded_by"`
}

func toPayment(p ledger.Payment) paymentResponse {
	return paymentResponse{
		ID:         p.ID,
		Reference:  p.Reference,
		TenantID:   p.TenantID,
		UnitID:     p.UnitID,
		Amount:     p.Amount.StringFixed(2),
		PaidOn:     p.PaidOn.Format(dateLayout),
		ProofURL:   p.ProofURL,
		RecordedBy: p.RecordedBy,
	}
}

func toPayments(in []ledger.Payment) []paymentResponse {
	out := make([]paymentResponse, 0, len(in))
	for _, p := range in {
		out = append(out, toPayment(p))
	}
	return out
}

type accrualResponse struct {
	Period  string `json:"period"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
}

type paymentResultResponse struct {
	Payment paymentResponse  `json:"payment"`
	Tenant  tenantResponse   `json:"tenant"`
	Accrual *accrualResponse `json:"accrual,omitempty"`
}

func toPaymentResult(r ledger.PaymentResult) paymentResultResponse {
	out := paymentResultResponse{Payment: toPayment(r.Payment), Tenant: toTenant(r.Tenant)}
	if r.Accrual != nil {
		out.Accrual = &accrualResponse{
			Period:  r.Accrual.Period.Format(dateLayout),
			Amount:  r.Accrual.Amount.StringFixed(2),
			Balance: r.Accrual.Balance.StringFixed(2),
		}
	}
	return out
}

type editResultResponse struct {
	Payment paymentResponse `json:"payment"`
	Tenant  tenantResponse  `json:"tenant"`
	Delta   string          `json:"delta"`
}

type tenancyResponse struct {
	Tenant tenantResponse `json:"tenant"`
	Unit   unitResponse   `json:"unit"`
}

func toTenancy(t ledger.Tenancy) tenancyResponse {
	return tenancyResponse{Tenant: toTenant(t.Tenant), Unit: toUnit(t.Unit)}
}

type tenantDetailResponse struct {
	Tenant   tenantResponse    `json:"tenant"`
	Unit     unitResponse      `json:"unit"`
	Payments []paymentResponse `json:"payments"`
}

type sweepFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

type sweepResponse struct {
	Ran       bool           `json:"ran"`
	Date      string         `json:"date"`
	Evaluated int            `json:"evaluated"`
	Charged   int            `json:"charged"`
	Skipped   int            `json:"skipped"`
	Failures  []sweepFailure `json:"failures,omitempty"`
}

func toSweep(run ledger.SweepRun) sweepResponse {
	res := run.Result
	out := sweepResponse{
		Ran:       run.Ran,
		Date:      res.Date.Format(dateLayout),
		Evaluated: res.Evaluated,
		Charged:   res.Charged,
		Skipped:   res.Skipped,
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, sweepFailure{Step: f.Step, Error: f.Err.Error()})
	}
	return out
}

type rentDueResponse struct {
	TenantID     int64  `json:"tenant_id"`
	TenantName   string `json:"tenant_name"`
	UnitID       int64  `json:"unit_id"`
	UnitNumber   string `json:"unit_number"`
	DueDate      string `json:"due_date"`
	DaysUntilDue int    `json:"days_until_due"`
	MonthlyRent  string `json:"monthly_rent"`
	Balance      string `json:"balance"`
}

type dashboardResponse struct {
	AsOf               string            `json:"as_of"`
	Units              ledger.UnitCounts `json:"units"`
	ActiveTenants      int               `json:"active_tenants"`
	CollectedThisMonth string            `json:"collected_this_month"`
	TotalOverdue       string            `json:"total_overdue"`
	Overdue            []rentDueResponse `json:"overdue"`
	Upcoming           []rentDueResponse `json:"upcoming"`
}

func toRentDues(in []ledger.RentDue) []rentDueResponse {
	out := make([]rentDueResponse, 0, len(in))
	for _, d := range in {
		out = append(out, rentDueResponse{
			TenantID:     d.TenantID,
			TenantName:   d.TenantName,
			UnitID:       d.UnitID,
			UnitNumber:   d.UnitNumber,
			DueDate:      d.DueDate.Format(dateLayout),
			DaysUntilDue: d.DaysUntilDue,
			MonthlyRent:  d.MonthlyRent.StringFixed(2),
			Balance:      d.Balance.StringFixed(2),
		})
	}
	return out
}

func toDashboard(d ledger.Dashboard) dashboardResponse {
	return dashboardResponse{
		AsOf:               d.AsOf.Format(dateLayout),
		Units:              d.Units,
		ActiveTenants:      d.ActiveTenants,
		CollectedThisMonth: d.CollectedThisMonth.StringFixed(2),
		TotalOverdue:       d.TotalOverdue.StringFixed(2),
		Overdue:            toRentDues(d.Overdue),
		Upcoming:           toRentDues(d.Upcoming),
	}
}
