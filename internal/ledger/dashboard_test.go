package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDashboardClassifiesTenants(t *testing.T) {
	f := newFixture(date(2024, 3, 10), Options{})
	ctx := context.Background()

	overdue := f.moveIn(f.unit("1A", 18000).ID, date(2024, 2, 20), nil)
	soon := f.moveIn(f.unit("1B", 15000).ID, date(2024, 2, 15), decPtr("0"))
	later := f.moveIn(f.unit("1C", 12000).ID, date(2024, 2, 1), decPtr("0"))
	sooner := f.moveIn(f.unit("1G", 9000).ID, date(2024, 2, 12), decPtr("0"))
	f.unit("1D", 10000)
	retired := f.unit("1E", 10000)
	_, err := f.svc.RetireUnit(ctx, retired.ID)
	require.NoError(t, err)
	gone := f.moveIn(f.unit("1F", 10000).ID, date(2024, 1, 5), nil)
	_, err = f.svc.MoveOut(ctx, MoveOutInput{TenantID: gone.ID, MoveOutDate: date(2024, 3, 1), FinalBalance: decPtr("4000")})
	require.NoError(t, err)

	_, err = f.svc.AddPayment(ctx, AddPaymentInput{TenantID: later.ID, UnitID: later.UnitID, Amount: dec("1000"), PaidOn: date(2024, 3, 2), ProofURL: "p"})
	require.NoError(t, err)
	_, err = f.svc.AddPayment(ctx, AddPaymentInput{TenantID: soon.ID, UnitID: soon.UnitID, Amount: dec("700"), PaidOn: date(2024, 2, 28), ProofURL: "p"})
	require.NoError(t, err)

	d, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)
	require.Equal(t, date(2024, 3, 10), d.AsOf)
	require.Equal(t, UnitCounts{Total: 7, Available: 2, Occupied: 4, Unavailable: 1}, d.Units)
	require.Equal(t, 4, d.ActiveTenants)
	require.True(t, d.CollectedThisMonth.Equal(dec("1000")), d.CollectedThisMonth.String())
	require.True(t, d.TotalOverdue.Equal(dec("18000")))

	require.Len(t, d.Overdue, 1)
	require.Equal(t, overdue.ID, d.Overdue[0].TenantID)
	require.Equal(t, date(2024, 3, 20), d.Overdue[0].DueDate)
	require.Equal(t, 10, d.Overdue[0].DaysUntilDue)
	require.Equal(t, "1A", d.Overdue[0].UnitNumber)

	require.Len(t, d.Upcoming, 2)
	require.Equal(t, sooner.ID, d.Upcoming[0].TenantID)
	require.Equal(t, 2, d.Upcoming[0].DaysUntilDue)
	require.Equal(t, soon.ID, d.Upcoming[1].TenantID)
	require.True(t, d.Upcoming[1].MonthlyRent.Equal(dec("15000")))
}

func TestDashboardEmptyLedger(t *testing.T) {
	f := newFixture(date(2024, 3, 10), Options{})
	d, err := f.svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.Zero(t, d.Units.Total)
	require.NotNil(t, d.Overdue)
	require.NotNil(t, d.Upcoming)
	require.True(t, d.TotalOverdue.IsZero())
}
