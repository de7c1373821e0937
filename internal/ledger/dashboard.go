package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// upcomingWindowDays is how far ahead a due date counts as upcoming.
const upcomingWindowDays = 14

// UnitCounts tallies units by status.
type UnitCounts struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Occupied    int `json:"occupied"`
	Unavailable int `json:"unavailable"`
}

// RentDue is one tenant's next due date on the dashboard.
type RentDue struct {
	TenantID     int64           `json:"tenant_id"`
	TenantName   string          `json:"tenant_name"`
	UnitID       int64           `json:"unit_id"`
	UnitNumber   string          `json:"unit_number"`
	DueDate      time.Time       `json:"due_date"`
	DaysUntilDue int             `json:"days_until_due"`
	MonthlyRent  decimal.Decimal `json:"monthly_rent"`
	Balance      decimal.Decimal `json:"balance"`
}

// Dashboard summarises collections and dues as of one date.
type Dashboard struct {
	AsOf               time.Time       `json:"as_of"`
	Units              UnitCounts      `json:"units"`
	ActiveTenants      int             `json:"active_tenants"`
	CollectedThisMonth decimal.Decimal `json:"collected_this_month"`
	TotalOverdue       decimal.Decimal `json:"total_overdue"`
	Overdue            []RentDue       `json:"overdue"`
	Upcoming           []RentDue       `json:"upcoming"`
}

// Dashboard returns today's summary, served from cache when configured.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	today := s.Today()
	build := func(ctx context.Context) (Dashboard, error) {
		return s.buildDashboard(ctx, today)
	}
	if s.cache == nil {
		return build(ctx)
	}
	return s.cache.Get(ctx, today, build)
}

// buildDashboard classifies each active tenant: any positive balance is
// overdue, otherwise a due date within the upcoming window is upcoming.
func (s *Service) buildDashboard(ctx context.Context, today time.Time) (Dashboard, error) {
	units, err := s.repo.ListUnits(ctx, UnitFilter{})
	if err != nil {
		return Dashboard{}, err
	}
	tenants, err := s.repo.ListTenants(ctx, TenantFilter{})
	if err != nil {
		return Dashboard{}, err
	}
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	collected, err := s.repo.SumPayments(ctx, monthStart, today)
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		AsOf:               today,
		ActiveTenants:      len(tenants),
		CollectedThisMonth: collected,
		TotalOverdue:       decimal.Zero,
		Overdue:            []RentDue{},
		Upcoming:           []RentDue{},
	}
	byID := make(map[int64]Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
		d.Units.Total++
		switch u.Status {
		case UnitStatusAvailable:
			d.Units.Available++
		case UnitStatusOccupied:
			d.Units.Occupied++
		case UnitStatusUnavailable:
			d.Units.Unavailable++
		}
	}

	for _, t := range tenants {
		unit := byID[t.UnitID]
		due := NextBillingDate(t.MoveInDate, today)
		entry := RentDue{
			TenantID:     t.ID,
			TenantName:   t.FullName(),
			UnitID:       t.UnitID,
			UnitNumber:   unit.Number,
			DueDate:      due,
			DaysUntilDue: DaysBetween(today, due),
			MonthlyRent:  unit.Price,
			Balance:      t.Balance,
		}
		switch {
		case t.Balance.IsPositive():
			d.Overdue = append(d.Overdue, entry)
			d.TotalOverdue = d.TotalOverdue.Add(t.Balance)
		case entry.DaysUntilDue <= upcomingWindowDays:
			d.Upcoming = append(d.Upcoming, entry)
		}
	}
	sortDues(d.Overdue)
	sortDues(d.Upcoming)
	return d, nil
}

func sortDues(dues []RentDue) {
	sort.SliceStable(dues, func(i, j int) bool {
		if !dues[i].DueDate.Equal(dues[j].DueDate) {
			return dues[i].DueDate.Before(dues[j].DueDate)
		}
		return dues[i].UnitNumber < dues[j].UnitNumber
	})
}
