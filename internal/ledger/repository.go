package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetTenant(ctx context.Context, id int64) (Tenant, error)
	GetTenantForUpdate(ctx context.Context, id int64) (Tenant, error)
	GetUnit(ctx context.Context, id int64) (Unit, error)
	GetUnitForUpdate(ctx context.Context, id int64) (Unit, error)
	GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error)
	LatestPayment(ctx context.Context, tenantID int64) (*Payment, error)
	CountActiveTenants(ctx context.Context, unitID int64) (int, error)
	InsertTenant(ctx context.Context, tenant NewTenant) (Tenant, error)
	ApplyAccrual(ctx context.Context, tenantID int64, amount decimal.Decimal, period time.Time) (Tenant, bool, error)
	UpdateTenantBalance(ctx context.Context, id, version int64, balance decimal.Decimal) (Tenant, error)
	UpdateTenantUnit(ctx context.Context, id, version, unitID int64) (Tenant, error)
	UpdateTenantContact(ctx context.Context, id, version int64, contact TenantContact) (Tenant, error)
	MarkMovedOut(ctx context.Context, id, version int64, moveOut MoveOut) (Tenant, error)
	InsertUnit(ctx context.Context, unit Unit) (Unit, error)
	UpdateUnit(ctx context.Context, unit Unit) (Unit, error)
	UpdateUnitStatus(ctx context.Context, id int64, from, to UnitStatus) (Unit, error)
	InsertPayment(ctx context.Context, payment Payment) (Payment, error)
	UpdatePayment(ctx context.Context, payment Payment) (Payment, error)
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	*queries
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: &queries{db: pool}}
}

type queries struct {
	db DBTX
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &queries{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return mapTxError(err)
	}
	return mapTxError(tx.Commit(ctx))
}

const tenantColumns = `id, first_name, last_name, email, phone, unit_id, move_in_date, move_out_date,
	move_out_reason, balance, last_accrual_period, version, created_by, created_at, updated_at`

const unitColumns = `id, number, price, description, status, created_at, updated_at`

const paymentColumns = `id, reference, tenant_id, unit_id, amount, paid_on, proof_url, recorded_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (Tenant, error) {
	var (
		t           Tenant
		moveIn      pgtype.Date
		moveOut     pgtype.Date
		lastAccrual pgtype.Date
		balance     pgtype.Numeric
	)
	err := row.Scan(&t.ID, &t.FirstName, &t.LastName, &t.Email, &t.Phone, &t.UnitID, &moveIn, &moveOut,
		&t.MoveOutReason, &balance, &lastAccrual, &t.Version, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Tenant{}, notFound(err)
	}
	t.MoveInDate = moveIn.Time
	t.MoveOutDate = datePtr(moveOut)
	t.LastAccrualPeriod = datePtr(lastAccrual)
	t.Balance = numericToDecimal(balance)
	return t, nil
}

func scanUnit(row rowScanner) (Unit, error) {
	var (
		u      Unit
		price  pgtype.Numeric
		status string
	)
	if err := row.Scan(&u.ID, &u.Number, &price, &u.Description, &status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return Unit{}, notFound(err)
	}
	u.Price = numericToDecimal(price)
	u.Status = UnitStatus(status)
	return u, nil
}

func scanPayment(row rowScanner) (Payment, error) {
	var (
		p      Payment
		amount pgtype.Numeric
		paidOn pgtype.Date
	)
	if err := row.Scan(&p.ID, &p.Reference, &p.TenantID, &p.UnitID, &amount, &paidOn, &p.ProofURL, &p.RecordedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Payment{}, notFound(err)
	}
	p.Amount = numericToDecimal(amount)
	p.PaidOn = paidOn.Time
	return p, nil
}

func (q *queries) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	return scanTenant(q.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (q *queries) GetTenantForUpdate(ctx context.Context, id int64) (Tenant, error) {
	return scanTenant(q.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1 FOR UPDATE`, id))
}

func (q *queries) GetUnit(ctx context.Context, id int64) (Unit, error) {
	return scanUnit(q.db.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id))
}

func (q *queries) GetUnitForUpdate(ctx context.Context, id int64) (Unit, error) {
	return scanUnit(q.db.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1 FOR UPDATE`, id))
}

func (q *queries) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (q *queries) GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
}

func (q *queries) LatestPayment(ctx context.Context, tenantID int64) (*Payment, error) {
	p, err := scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = $1 ORDER BY paid_on DESC, id DESC LIMIT 1`, tenantID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *queries) CountActiveTenants(ctx context.Context, unitID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM tenants WHERE unit_id = $1 AND move_out_date IS NULL`, unitID).Scan(&n)
	return n, err
}

func (q *queries) InsertTenant(ctx context.Context, t NewTenant) (Tenant, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO tenants
		(first_name, last_name, email, phone, unit_id, move_in_date, balance, last_accrual_period, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+tenantColumns,
		t.FirstName, t.LastName, t.Email, t.Phone, t.UnitID, dateParam(t.MoveInDate), decimalToNumeric(t.Balance),
		dateParam(t.LastAccrualPeriod), t.CreatedBy)
	tenant, err := scanTenant(row)
	if isUniqueViolation(err) {
		return Tenant{}, ErrUnitNotAvailable
	}
	return tenant, err
}

// ApplyAccrual adds amount and advances the accrual marker in one statement.
// It reports false when the tenant was already charged for period or is no
// longer active.
func (q *queries) ApplyAccrual(ctx context.Context, tenantID int64, amount decimal.Decimal, period time.Time) (Tenant, bool, error) {
	row := q.db.QueryRow(ctx, `UPDATE tenants
		SET balance = balance + $2, last_accrual_period = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND move_out_date IS NULL
		  AND (last_accrual_period IS NULL OR last_accrual_period < $3)
		RETURNING `+tenantColumns,
		tenantID, decimalToNumeric(amount), dateParam(period))
	tenant, err := scanTenant(row)
	if errors.Is(err, ErrNotFound) {
		return Tenant{}, false, nil
	}
	if err != nil {
		return Tenant{}, false, err
	}
	return tenant, true, nil
}

func (q *queries) UpdateTenantBalance(ctx context.Context, id, version int64, balance decimal.Decimal) (Tenant, error) {
	row := q.db.QueryRow(ctx, `UPDATE tenants
		SET balance = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+tenantColumns, id, version, decimalToNumeric(balance))
	return q.versioned(ctx, id, row)
}

func (q *queries) UpdateTenantUnit(ctx context.Context, id, version, unitID int64) (Tenant, error) {
	row := q.db.QueryRow(ctx, `UPDATE tenants
		SET unit_id = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+tenantColumns, id, version, unitID)
	tenant, err := q.versioned(ctx, id, row)
	if isUniqueViolation(err) {
		return Tenant{}, ErrUnitNotAvailable
	}
	return tenant, err
}

func (q *queries) UpdateTenantContact(ctx context.Context, id, version int64, c TenantContact) (Tenant, error) {
	row := q.db.QueryRow(ctx, `UPDATE tenants
		SET first_name = $3, last_name = $4, email = $5, phone = $6, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+tenantColumns, id, version, c.FirstName, c.LastName, c.Email, c.Phone)
	return q.versioned(ctx, id, row)
}

func (q *queries) MarkMovedOut(ctx context.Context, id, version int64, m MoveOut) (Tenant, error) {
	row := q.db.QueryRow(ctx, `UPDATE tenants
		SET move_out_date = $3, balance = $4, move_out_reason = $5, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND move_out_date IS NULL
		RETURNING `+tenantColumns, id, version, dateParam(m.Date), decimalToNumeric(m.FinalBalance), m.Reason)
	return q.versioned(ctx, id, row)
}

// versioned scans an optimistic update, telling a stale version apart from a
// missing row.
func (q *queries) versioned(ctx context.Context, id int64, row pgx.Row) (Tenant, error) {
	tenant, err := scanTenant(row)
	if !errors.Is(err, ErrNotFound) {
		return tenant, err
	}
	var exists bool
	if err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Tenant{}, err
	}
	if exists {
		return Tenant{}, ErrConflict
	}
	return Tenant{}, ErrNotFound
}

func (q *queries) InsertUnit(ctx context.Context, u Unit) (Unit, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO units (number, price, description, status)
		VALUES ($1, $2, $3, $4) RETURNING `+unitColumns,
		u.Number, decimalToNumeric(u.Price), u.Description, string(u.Status))
	unit, err := scanUnit(row)
	if isUniqueViolation(err) {
		return Unit{}, newValidationError("number", "is already in use")
	}
	return unit, err
}

func (q *queries) UpdateUnit(ctx context.Context, u Unit) (Unit, error) {
	row := q.db.QueryRow(ctx, `UPDATE units
		SET number = $2, price = $3, description = $4, updated_at = NOW()
		WHERE id = $1 RETURNING `+unitColumns,
		u.ID, u.Number, decimalToNumeric(u.Price), u.Description)
	unit, err := scanUnit(row)
	if isUniqueViolation(err) {
		return Unit{}, newValidationError("number", "is already in use")
	}
	return unit, err
}

func (q *queries) UpdateUnitStatus(ctx context.Context, id int64, from, to UnitStatus) (Unit, error) {
	row := q.db.QueryRow(ctx, `UPDATE units SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2 RETURNING `+unitColumns, id, string(from), string(to))
	unit, err := scanUnit(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := q.GetUnit(ctx, id); getErr != nil {
			return Unit{}, getErr
		}
		return Unit{}, ErrConflict
	}
	return unit, err
}

func (q *queries) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO payments (reference, tenant_id, unit_id, amount, paid_on, proof_url, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+paymentColumns,
		p.Reference, p.TenantID, p.UnitID, decimalToNumeric(p.Amount), dateParam(p.PaidOn), p.ProofURL, p.RecordedBy)
	return scanPayment(row)
}

func (q *queries) UpdatePayment(ctx context.Context, p Payment) (Payment, error) {
	row := q.db.QueryRow(ctx, `UPDATE payments
		SET amount = $2, paid_on = $3, proof_url = $4, updated_at = NOW()
		WHERE id = $1 RETURNING `+paymentColumns,
		p.ID, decimalToNumeric(p.Amount), dateParam(p.PaidOn), p.ProofURL)
	return scanPayment(row)
}

// ListTenants returns active tenants, or archived ones when filter.Archived.
func (r *Repository) ListTenants(ctx context.Context, filter TenantFilter) ([]Tenant, error) {
	var (
		where []string
		args  []any
	)
	if filter.Archived {
		where = append(where, "move_out_date IS NOT NULL")
	} else {
		where = append(where, "move_out_date IS NULL")
	}
	if filter.UnitID > 0 {
		args = append(args, filter.UnitID)
		where = append(where, fmt.Sprintf("unit_id = $%d", len(args)))
	}
	order := "last_name, first_name, id"
	if filter.Archived {
		order = "move_out_date DESC, id DESC"
	}
	rows, err := r.db.Query(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE `+strings.Join(where, " AND ")+` ORDER BY `+order, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListUnits returns units ordered by number.
func (r *Repository) ListUnits(ctx context.Context, filter UnitFilter) ([]Unit, error) {
	query := `SELECT ` + unitColumns + ` FROM units`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	rows, err := r.db.Query(ctx, query+` ORDER BY number`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ListPayments returns payments newest first.
func (r *Repository) ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID > 0 {
		args = append(args, filter.TenantID)
		where = append(where, fmt.Sprintf("p.tenant_id = $%d", len(args)))
	}
	if filter.Archived {
		where = append(where, "t.move_out_date IS NOT NULL")
	}
	if !filter.From.IsZero() {
		args = append(args, dateParam(filter.From))
		where = append(where, fmt.Sprintf("p.paid_on >= $%d", len(args)))
	}
	query := `SELECT p.id, p.reference, p.tenant_id, p.unit_id, p.amount, p.paid_on, p.proof_url, p.recorded_by, p.created_at, p.updated_at
		FROM payments p JOIN tenants t ON t.id = p.tenant_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY p.paid_on DESC, p.id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SumPayments totals payments dated within [from, to].
func (r *Repository) SumPayments(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	var total pgtype.Numeric
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE paid_on >= $1 AND paid_on <= $2`,
		dateParam(from), dateParam(to)).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return numericToDecimal(total), nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// mapTxError maps serialization failures under repeatable read to ErrConflict.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	}
	return err
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).Set(d.Coefficient()), Exp: d.Exponent(), Valid: true}
}

func dateParam(t time.Time) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: DateOf(t), Valid: true}
}

func datePtr(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}
