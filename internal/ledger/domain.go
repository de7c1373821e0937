package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnitStatus enumerates unit availability states.
type UnitStatus string

const (
	UnitStatusAvailable   UnitStatus = "Available"
	UnitStatusOccupied    UnitStatus = "Occupied"
	UnitStatusUnavailable UnitStatus = "Unavailable"
)

// validUnitTransitions lists the status changes a unit may go through.
var validUnitTransitions = map[UnitStatus][]UnitStatus{
	UnitStatusAvailable:   {UnitStatusOccupied, UnitStatusUnavailable},
	UnitStatusOccupied:    {UnitStatusAvailable},
	UnitStatusUnavailable: {UnitStatusAvailable},
}

// TenancyState describes where a tenant sits in its lifecycle.
type TenancyState string

const (
	TenancyActive   TenancyState = "ACTIVE"
	TenancyMovedOut TenancyState = "MOVED_OUT"
)

// validTenancyTransitions has no entry for MovedOut: it is terminal.
var validTenancyTransitions = map[TenancyState][]TenancyState{
	TenancyActive: {TenancyActive, TenancyMovedOut},
}

// Unit is a rentable space with a monthly price.
type Unit struct {
	ID          int64
	Number      string
	Price       decimal.Decimal
	Description string
	Status      UnitStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Tenant is a person occupying (or having occupied) a unit.
type Tenant struct {
	ID         int64
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	UnitID     int64
	MoveInDate time.Time
	// MoveOutDate is nil while the tenancy is active.
	MoveOutDate   *time.Time
	MoveOutReason string
	Balance       decimal.Decimal
	// LastAccrualPeriod is the billing date of the most recently charged period.
	LastAccrualPeriod *time.Time
	Version           int64
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Active reports whether the tenant has not moved out.
func (t Tenant) Active() bool {
	return t.MoveOutDate == nil
}

// State maps the tenant onto the tenancy state machine.
func (t Tenant) State() TenancyState {
	if t.Active() {
		return TenancyActive
	}
	return TenancyMovedOut
}

// FullName joins first and last name.
func (t Tenant) FullName() string {
	switch {
	case t.FirstName == "":
		return t.LastName
	case t.LastName == "":
		return t.FirstName
	}
	return t.FirstName + " " + t.LastName
}

// Payment is a recorded rent payment.
type Payment struct {
	ID         int64
	Reference  string
	TenantID   int64
	UnitID     int64
	Amount     decimal.Decimal
	PaidOn     time.Time
	ProofURL   string
	RecordedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TenantContact holds the editable non-financial tenant fields.
type TenantContact struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// MoveOut records the terminal transition of a tenancy.
type MoveOut struct {
	Date         time.Time
	FinalBalance decimal.Decimal
	Reason       string
}

// NewTenant carries the fields persisted on move-in.
type NewTenant struct {
	FirstName         string
	LastName          string
	Email             string
	Phone             string
	UnitID            int64
	MoveInDate        time.Time
	Balance           decimal.Decimal
	LastAccrualPeriod time.Time
	CreatedBy         string
}

// TenantFilter narrows tenant listings.
type TenantFilter struct {
	Archived bool
	UnitID   int64
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	TenantID int64
	// Archived limits results to payments of moved-out tenants.
	Archived bool
	From     time.Time
	Limit    int
}

// UnitFilter narrows unit listings.
type UnitFilter struct {
	Status UnitStatus
}
