package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rentdesk/rentdesk/internal/shared"
)

// memoryState is the full ledger held by memoryRepo. Transactions work on a
// copy that replaces the state on commit.
type memoryState struct {
	tenants  map[int64]Tenant
	units    map[int64]Unit
	payments map[int64]Payment
	seq      int64
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		tenants:  make(map[int64]Tenant, len(s.tenants)),
		units:    make(map[int64]Unit, len(s.units)),
		payments: make(map[int64]Payment, len(s.payments)),
		seq:      s.seq,
	}
	for k, v := range s.tenants {
		out.tenants[k] = v
	}
	for k, v := range s.units {
		out.units[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	return out
}

func (s *memoryState) next() int64 {
	s.seq++
	return s.seq
}

type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
	// unitErrs fails GetUnit for the listed unit ids.
	unitErrs map[int64]error
	txCount  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		state: &memoryState{
			tenants:  map[int64]Tenant{},
			units:    map[int64]Unit{},
			payments: map[int64]Payment{},
		},
		unitErrs: map[int64]error{},
	}
}

func (r *memoryRepo) tx() *memoryTx {
	return &memoryTx{st: r.state, unitErrs: r.unitErrs}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCount++
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{st: work, unitErrs: r.unitErrs}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().GetTenant(ctx, id)
}

func (r *memoryRepo) GetTenantForUpdate(ctx context.Context, id int64) (Tenant, error) {
	return r.GetTenant(ctx, id)
}

func (r *memoryRepo) GetUnit(ctx context.Context, id int64) (Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().GetUnit(ctx, id)
}

func (r *memoryRepo) GetUnitForUpdate(ctx context.Context, id int64) (Unit, error) {
	return r.GetUnit(ctx, id)
}

func (r *memoryRepo) GetPayment(ctx context.Context, id int64) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().GetPaymentForUpdate(ctx, id)
}

func (r *memoryRepo) GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error) {
	return r.GetPayment(ctx, id)
}

func (r *memoryRepo) LatestPayment(ctx context.Context, tenantID int64) (*Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().LatestPayment(ctx, tenantID)
}

func (r *memoryRepo) CountActiveTenants(ctx context.Context, unitID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().CountActiveTenants(ctx, unitID)
}

func (r *memoryRepo) InsertTenant(ctx context.Context, t NewTenant) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().InsertTenant(ctx, t)
}

func (r *memoryRepo) ApplyAccrual(ctx context.Context, tenantID int64, amount decimal.Decimal, period time.Time) (Tenant, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().ApplyAccrual(ctx, tenantID, amount, period)
}

func (r *memoryRepo) UpdateTenantBalance(ctx context.Context, id, version int64, balance decimal.Decimal) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().UpdateTenantBalance(ctx, id, version, balance)
}

func (r *memoryRepo) UpdateTenantUnit(ctx context.Context, id, version, unitID int64) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().UpdateTenantUnit(ctx, id, version, unitID)
}

func (r *memoryRepo) UpdateTenantContact(ctx context.Context, id, version int64, c TenantContact) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().UpdateTenantContact(ctx, id, version, c)
}

func (r *memoryRepo) MarkMovedOut(ctx context.Context, id, version int64, m MoveOut) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().MarkMovedOut(ctx, id, version, m)
}

func (r *memoryRepo) InsertUnit(ctx context.Context, u Unit) (Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().InsertUnit(ctx, u)
}

func (r *memoryRepo) UpdateUnit(ctx context.Context, u Unit) (Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().UpdateUnit(ctx, u)
}

func (r *memoryRepo) UpdateUnitStatus(ctx context.Context, id int64, from, to UnitStatus) (Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().UpdateUnitStatus(ctx, id, from, to)
}

func (r *memoryRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().InsertPayment(ctx, p)
}

func (r *memoryRepo) UpdatePayment(ctx context.Context, p Payment) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tx().UpdatePayment(ctx, p)
}

func (r *memoryRepo) ListTenants(_ context.Context, filter TenantFilter) ([]Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Tenant
	for _, t := range r.state.tenants {
		if t.Active() == filter.Archived {
			continue
		}
		if filter.UnitID > 0 && t.UnitID != filter.UnitID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListUnits(_ context.Context, filter UnitFilter) ([]Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Unit
	for _, u := range r.state.units {
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r *memoryRepo) ListPayments(_ context.Context, filter PaymentFilter) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.state.payments {
		if filter.TenantID > 0 && p.TenantID != filter.TenantID {
			continue
		}
		if filter.Archived && r.state.tenants[p.TenantID].Active() {
			continue
		}
		if !filter.From.IsZero() && p.PaidOn.Before(filter.From) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaidOn.Equal(out[j].PaidOn) {
			return out[i].PaidOn.After(out[j].PaidOn)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepo) SumPayments(_ context.Context, from, to time.Time) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, p := range r.state.payments {
		if p.PaidOn.Before(from) || p.PaidOn.After(to) {
			continue
		}
		total = total.Add(p.Amount)
	}
	return total, nil
}

func (r *memoryRepo) tenant(id int64) Tenant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.tenants[id]
}

func (r *memoryRepo) unit(id int64) Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.units[id]
}

func (r *memoryRepo) paymentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.payments)
}

// setTenant overwrites a stored tenant, bypassing version checks.
func (r *memoryRepo) setTenant(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.tenants[t.ID] = t
}

type memoryTx struct {
	st       *memoryState
	unitErrs map[int64]error
}

func (tx *memoryTx) GetTenant(_ context.Context, id int64) (Tenant, error) {
	t, ok := tx.st.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (tx *memoryTx) GetTenantForUpdate(ctx context.Context, id int64) (Tenant, error) {
	return tx.GetTenant(ctx, id)
}

func (tx *memoryTx) GetUnit(_ context.Context, id int64) (Unit, error) {
	if err := tx.unitErrs[id]; err != nil {
		return Unit{}, err
	}
	u, ok := tx.st.units[id]
	if !ok {
		return Unit{}, ErrNotFound
	}
	return u, nil
}

func (tx *memoryTx) GetUnitForUpdate(ctx context.Context, id int64) (Unit, error) {
	return tx.GetUnit(ctx, id)
}

func (tx *memoryTx) GetPaymentForUpdate(_ context.Context, id int64) (Payment, error) {
	p, ok := tx.st.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (tx *memoryTx) LatestPayment(_ context.Context, tenantID int64) (*Payment, error) {
	var latest *Payment
	for _, p := range tx.st.payments {
		if p.TenantID != tenantID {
			continue
		}
		if latest == nil || p.PaidOn.After(latest.PaidOn) || (p.PaidOn.Equal(latest.PaidOn) && p.ID > latest.ID) {
			cp := p
			latest = &cp
		}
	}
	return latest, nil
}

func (tx *memoryTx) CountActiveTenants(_ context.Context, unitID int64) (int, error) {
	n := 0
	for _, t := range tx.st.tenants {
		if t.Active() && t.UnitID == unitID {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) InsertTenant(ctx context.Context, nt NewTenant) (Tenant, error) {
	if n, _ := tx.CountActiveTenants(ctx, nt.UnitID); n > 0 {
		return Tenant{}, ErrUnitNotAvailable
	}
	t := Tenant{
		ID:         tx.st.next(),
		FirstName:  nt.FirstName,
		LastName:   nt.LastName,
		Email:      nt.Email,
		Phone:      nt.Phone,
		UnitID:     nt.UnitID,
		MoveInDate: DateOf(nt.MoveInDate),
		Balance:    nt.Balance,
		Version:    1,
		CreatedBy:  nt.CreatedBy,
	}
	if !nt.LastAccrualPeriod.IsZero() {
		p := DateOf(nt.LastAccrualPeriod)
		t.LastAccrualPeriod = &p
	}
	tx.st.tenants[t.ID] = t
	return t, nil
}

func (tx *memoryTx) ApplyAccrual(_ context.Context, tenantID int64, amount decimal.Decimal, period time.Time) (Tenant, bool, error) {
	t, ok := tx.st.tenants[tenantID]
	if !ok || !t.Active() {
		return Tenant{}, false, nil
	}
	if t.LastAccrualPeriod != nil && !t.LastAccrualPeriod.Before(period) {
		return Tenant{}, false, nil
	}
	p := DateOf(period)
	t.Balance = t.Balance.Add(amount)
	t.LastAccrualPeriod = &p
	t.Version++
	tx.st.tenants[t.ID] = t
	return t, true, nil
}

func (tx *memoryTx) versioned(id, version int64, mutate func(*Tenant) error) (Tenant, error) {
	t, ok := tx.st.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	if t.Version != version {
		return Tenant{}, ErrConflict
	}
	if err := mutate(&t); err != nil {
		return Tenant{}, err
	}
	t.Version++
	tx.st.tenants[id] = t
	return t, nil
}

func (tx *memoryTx) UpdateTenantBalance(_ context.Context, id, version int64, balance decimal.Decimal) (Tenant, error) {
	return tx.versioned(id, version, func(t *Tenant) error {
		if balance.IsNegative() {
			return errors.New("balance check constraint")
		}
		t.Balance = balance
		return nil
	})
}

func (tx *memoryTx) UpdateTenantUnit(ctx context.Context, id, version, unitID int64) (Tenant, error) {
	return tx.versioned(id, version, func(t *Tenant) error {
		if n, _ := tx.CountActiveTenants(ctx, unitID); n > 0 {
			return ErrUnitNotAvailable
		}
		t.UnitID = unitID
		return nil
	})
}

func (tx *memoryTx) UpdateTenantContact(_ context.Context, id, version int64, c TenantContact) (Tenant, error) {
	return tx.versioned(id, version, func(t *Tenant) error {
		t.FirstName, t.LastName, t.Email, t.Phone = c.FirstName, c.LastName, c.Email, c.Phone
		return nil
	})
}

func (tx *memoryTx) MarkMovedOut(_ context.Context, id, version int64, m MoveOut) (Tenant, error) {
	return tx.versioned(id, version, func(t *Tenant) error {
		if !t.Active() {
			return ErrConflict
		}
		d := DateOf(m.Date)
		t.MoveOutDate = &d
		t.Balance = m.FinalBalance
		t.MoveOutReason = m.Reason
		return nil
	})
}

func (tx *memoryTx) numberTaken(number string, except int64) bool {
	for _, u := range tx.st.units {
		if u.Number == number && u.ID != except {
			return true
		}
	}
	return false
}

func (tx *memoryTx) InsertUnit(_ context.Context, u Unit) (Unit, error) {
	if tx.numberTaken(u.Number, 0) {
		return Unit{}, newValidationError("number", "is already in use")
	}
	u.ID = tx.st.next()
	tx.st.units[u.ID] = u
	return u, nil
}

func (tx *memoryTx) UpdateUnit(_ context.Context, u Unit) (Unit, error) {
	cur, ok := tx.st.units[u.ID]
	if !ok {
		return Unit{}, ErrNotFound
	}
	if tx.numberTaken(u.Number, u.ID) {
		return Unit{}, newValidationError("number", "is already in use")
	}
	cur.Number, cur.Price, cur.Description = u.Number, u.Price, u.Description
	tx.st.units[u.ID] = cur
	return cur, nil
}

func (tx *memoryTx) UpdateUnitStatus(_ context.Context, id int64, from, to UnitStatus) (Unit, error) {
	u, ok := tx.st.units[id]
	if !ok {
		return Unit{}, ErrNotFound
	}
	if u.Status != from {
		return Unit{}, ErrConflict
	}
	u.Status = to
	tx.st.units[id] = u
	return u, nil
}

func (tx *memoryTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	p.ID = tx.st.next()
	tx.st.payments[p.ID] = p
	return p, nil
}

func (tx *memoryTx) UpdatePayment(_ context.Context, p Payment) (Payment, error) {
	if _, ok := tx.st.payments[p.ID]; !ok {
		return Payment{}, ErrNotFound
	}
	tx.st.payments[p.ID] = p
	return p, nil
}

// memoryIdempotency mirrors the keyed insert of the postgres store.
type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: map[string]string{}}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fixture is a service over an in-memory ledger with a settable clock.
type fixture struct {
	repo  *memoryRepo
	idem  *memoryIdempotency
	svc   *Service
	today time.Time
}

func newFixture(today time.Time, opts Options) *fixture {
	f := &fixture{repo: newMemoryRepo(), idem: newMemoryIdempotency(), today: today}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Idempotency == nil {
		opts.Idempotency = f.idem
	}
	f.svc = NewService(f.repo, opts)
	f.svc.WithNow(func() time.Time { return f.today.Add(10 * time.Hour) })
	return f
}

func (f *fixture) unit(number string, price int64) Unit {
	u, err := f.svc.CreateUnit(context.Background(), CreateUnitInput{Number: number, Price: decimal.NewFromInt(price)})
	if err != nil {
		panic(err)
	}
	return u
}

func (f *fixture) moveIn(unitID int64, moveIn time.Time, balance *decimal.Decimal) Tenant {
	res, err := f.svc.MoveIn(context.Background(), MoveInInput{
		UnitID:         unitID,
		FirstName:      "Ana",
		LastName:       "Reyes",
		MoveInDate:     moveIn,
		InitialBalance: balance,
		CreatedBy:      "desk",
	})
	if err != nil {
		panic(err)
	}
	return res.Tenant
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}
