package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func pay(t *testing.T, f *fixture, tn Tenant, amount string) PaymentResult {
	t.Helper()
	res, err := f.svc.AddPayment(context.Background(), AddPaymentInput{
		TenantID:   tn.ID,
		UnitID:     tn.UnitID,
		Amount:     dec(amount),
		PaidOn:     f.today,
		ProofURL:   "https://proofs.example/receipt.jpg",
		RecordedBy: "desk",
	})
	require.NoError(t, err)
	return res
}

func TestApplyPaymentFloorsAtZero(t *testing.T) {
	cases := []struct{ balance, amount, want string }{
		{"18000", "5000", "13000"},
		{"13000", "8000", "5000"},
		{"5000", "20000", "0"},
		{"0", "100", "0"},
		{"100.50", "0.50", "100"},
		{"1000", "-250", "1250"},
	}
	for _, tc := range cases {
		got := ApplyPayment(dec(tc.balance), dec(tc.amount))
		require.True(t, got.Equal(dec(tc.want)), "%s - %s = %s", tc.balance, tc.amount, got)
		require.False(t, got.IsNegative())
	}
}

func TestAddPaymentReducesBalance(t *testing.T) {
	f := newFixture(date(2024, 2, 5), Options{})
	u := f.unit("1A", 18000)
	tn := f.moveIn(u.ID, date(2024, 1, 31), nil)
	require.True(t, tn.Balance.Equal(dec("18000")))

	res := pay(t, f, tn, "5000")
	require.True(t, res.Tenant.Balance.Equal(dec("13000")))
	require.Nil(t, res.Accrual)
	require.NotEmpty(t, res.Payment.Reference)
	require.Equal(t, "desk", res.Payment.RecordedBy)
	require.Equal(t, u.ID, res.Payment.UnitID)

	res = pay(t, f, tn, "8000")
	require.True(t, res.Tenant.Balance.Equal(dec("5000")))

	res = pay(t, f, tn, "20000")
	require.True(t, res.Tenant.Balance.IsZero())
	require.Equal(t, 3, f.repo.paymentCount())

	payments, err := f.svc.ListPayments(context.Background(), PaymentFilter{TenantID: tn.ID})
	require.NoError(t, err)
	require.Len(t, payments, 3)
	require.True(t, payments[0].Amount.Equal(dec("20000")))
}

func TestAddPaymentValidationWritesNothing(t *testing.T) {
	f := newFixture(date(2024, 2, 5), Options{})
	u := f.unit("1A", 18000)
	tn := f.moveIn(u.ID, date(2024, 1, 31), nil)
	txBefore := f.repo.txCount

	_, err := f.svc.AddPayment(context.Background(), AddPaymentInput{
		TenantID:       tn.ID,
		UnitID:         u.ID,
		Amount:         decimal.Zero,
		IdempotencyKey: "k-1",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, "must be greater than zero", verr.Fields["amount"])
	require.Equal(t, "is required", verr.Fields["paid_on"])
	require.Equal(t, "is required", verr.Fields["proof_url"])

	_, err = f.svc.AddPayment(context.Background(), AddPaymentInput{
		TenantID: tn.ID, UnitID: u.ID, Amount: dec("-5"), PaidOn: f.today, ProofURL: "p",
	})
	require.ErrorIs(t, err, ErrValidation)

	require.Equal(t, txBefore, f.repo.txCount)
	require.Zero(t, f.repo.paymentCount())
	require.True(t, f.repo.tenant(tn.ID).Balance.Equal(dec("18000")))
	require.Empty(t, f.idem.keys)
}

func TestAddPaymentRejectsWrongUnitAndReleasesKey(t *testing.T) {
	f := newFixture(date(2024, 2, 5), Options{})
	u := f.unit("1A", 18000)
	other := f.unit("1B", 18000)
	tn := f.moveIn(u.ID, date(2024, 1, 31), nil)

	in := AddPaymentInput{
		TenantID: tn.ID, UnitID: other.ID, Amount: dec("5000"), PaidOn: f.today, ProofURL: "p", IdempotencyKey: "k-1",
	}
	_, err := f.svc.AddPayment(context.Background(), in)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "unit_id")
	require.Zero(t, f.repo.paymentCount())

	in.UnitID = u.ID
	_, err = f.svc.AddPayment(context.Background(), in)
	require.NoError(t, err)
}

func TestAddPaymentIsIdempotentPerKey(t *testing.T) {
	f := newFixture(date(2024, 2, 5), Options{})
	u := f.unit("1A", 18000)
	tn := f.moveIn(u.ID, date(2024, 1, 31), nil)

	in := AddPaymentInput{
		TenantID: tn.ID, UnitID: u.ID, Amount: dec("5000"), PaidOn: f.today, ProofURL: "p", IdempotencyKey: "submit-1",
	}
	_, err := f.svc.AddPayment(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.AddPayment(context.Background(), in)
	require.ErrorIs(t, err, ErrDuplicateSubmission)

	require.Equal(t, 1, f.repo.paymentCount())
	require.True(t, f.repo.tenant(tn.ID).Balance.Equal(dec("13000")))

	in.IdempotencyKey = ""
	_, err = f.svc.AddPayment(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 2, f.repo.paymentCount())
}

func TestAddPaymentRejectsMovedOutTenant(t *testing.T) {
	f := newFixture(date(2024, 2, 5), Options{})
	u := f.unit("1A", 18000)
	tn := f.moveIn(u.ID, date(2024, 1, 31), nil)
	_, err := f.svc.MoveOut(context.Background(), MoveOutInput{TenantID: tn.ID, MoveOutDate: date(2024, 2, 4)})
	require.NoError(t, err)

	_, err = f.svc.AddPayment(context.Background(), AddPaymentInput{
		TenantID: tn.ID, UnitID: u.ID, Amount: dec("10"), PaidOn: f.today, ProofURL: "p",
	})
	require.ErrorIs(t, err, ErrTenantInactive)

	_, err = f.svc.AddPayment(context.Background(), AddPaymentInput{
		TenantID: 999, UnitID: u.ID, Amount: dec("10"), PaidOn: f.today, ProofURL: "p",
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEditPaymentAdjustsByDelta(t *testing.T) {
	f := newFixture(date(2024, 2, 5), Options{})
	u := f.unit("1A", 18000)
	tn := f.moveIn(u.ID, date(2024, 1, 31), nil)
	res := pay(t, f, tn, "5000")
	require.True(t, res.Tenant.Balance.Equal(dec("13000")))

	edit, err := f.svc.EditPayment(context.Background(), EditPaymentInput{
		PaymentID: res.Payment.ID, Amount: dec("8000"), PaidOn: date(2024, 2, 4), EditedBy: "owner",
	})
	require.NoError(t, err)
	require.True(t, edit.Delta.Equal(dec("3000")))
	require.True(t, edit.Tenant.Balance.Equal(dec("10000")))
	require.Equal(t, date(2024, 2, 4), edit.Payment.PaidOn)
	require.Equal(t, res.Payment.ProofURL, edit.Payment.ProofURL)

	edit, err = f.svc.EditPayment(context.Background(), EditPaymentInput{
		PaymentID: res.Payment.ID, Amount: dec("2000"), PaidOn: date(2024, 2, 4), ProofURL: "https://proofs.example/new.jpg",
	})
	require.NoError(t, err)
	require.True(t, edit.Delta.Equal(dec("-6000")))
	require.True(t, edit.Tenant.Balance.Equal(dec("16000")))
	require.Equal(t, "https://proofs.example/new.jpg", edit.Payment.ProofURL)

	edit, err = f.svc.EditPayment(context.Background(), EditPaymentInput{
		PaymentID: res.Payment.ID, Amount: dec("50000"), PaidOn: date(2024, 2, 4),
	})
	require.NoError(t, err)
	require.True(t, edit.Tenant.Balance.IsZero())
	require.Equal(t, 1, f.repo.paymentCount())
}

func TestEditPaymentRejectsMovedOutTenantAndMissingPayment(t *testing.T) {
	f := newFixture(date(2024, 2, 5), Options{})
	u := f.unit("1A", 18000)
	tn := f.moveIn(u.ID, date(2024, 1, 31), nil)
	res := pay(t, f, tn, "5000")

	_, err := f.svc.EditPayment(context.Background(), EditPaymentInput{PaymentID: 4242, Amount: dec("1"), PaidOn: f.today})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.MoveOut(context.Background(), MoveOutInput{TenantID: tn.ID, MoveOutDate: f.today})
	require.NoError(t, err)
	_, err = f.svc.EditPayment(context.Background(), EditPaymentInput{PaymentID: res.Payment.ID, Amount: dec("1"), PaidOn: f.today})
	require.ErrorIs(t, err, ErrTenantInactive)
	require.True(t, f.repo.tenant(tn.ID).Balance.Equal(dec("13000")))
}

func TestFitsMoney(t *testing.T) {
	cases := map[string]bool{
		"0.01":            true,
		"18000.50":        true,
		"1.500":           true,
		"9999999999.99":   true,
		"0.001":           false,
		"0.004":           false,
		"0.006":           false,
		"10000000000":     false,
		"123456789012.50": false,
	}
	for in, want := range cases {
		require.Equal(t, want, FitsMoney(dec(in)), in)
	}
}

func TestPaymentAmountsMustFitMoneyColumn(t *testing.T) {
	f := newFixture(date(2024, 2, 5), Options{})
	u := f.unit("1A", 18000)
	tn := f.moveIn(u.ID, date(2024, 1, 31), nil)
	txBefore := f.repo.txCount

	for _, amount := range []string{"0.001", "0.004", "0.006", "123456789012.50"} {
		_, err := f.svc.AddPayment(context.Background(), AddPaymentInput{
			TenantID: tn.ID, UnitID: u.ID, Amount: dec(amount), PaidOn: f.today, ProofURL: "p", IdempotencyKey: "k-" + amount,
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, amount)
		require.ErrorIs(t, err, ErrValidation)
		require.Contains(t, verr.Fields["amount"], "two decimal places", amount)
	}
	require.Equal(t, txBefore, f.repo.txCount)
	require.Zero(t, f.repo.paymentCount())
	require.True(t, f.repo.tenant(tn.ID).Balance.Equal(dec("18000")))
	require.Empty(t, f.idem.keys)

	res := pay(t, f, tn, "5000.25")
	txBefore = f.repo.txCount
	_, err := f.svc.EditPayment(context.Background(), EditPaymentInput{
		PaymentID: res.Payment.ID, Amount: dec("5000.255"), PaidOn: f.today,
	})
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, txBefore, f.repo.txCount)
	require.True(t, f.repo.tenant(tn.ID).Balance.Equal(dec("12999.75")))
}
