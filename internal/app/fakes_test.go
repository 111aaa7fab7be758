package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"chacara_booking/internal/domain"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func day(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func validGuest() domain.Guest {
	return domain.Guest{
		Name:    "Maria",
		Surname: "Silva",
		Email:   "Maria@Example.com",
		TaxID:   "529.982.247-25",
		Phone:   "(11) 91234-5678",
	}
}

// ---- repository ----

type memRepo struct {
	mu           sync.Mutex
	table        *domain.PriceTable
	blocks       map[int64]domain.ManualBlock
	nextBlock    int64
	reservations map[string]domain.Reservation
	chalets      []domain.Chalet
	insertErr    error
	calls        map[string]int
}

func newMemRepo() *memRepo {
	return &memRepo{
		blocks:       map[int64]domain.ManualBlock{},
		reservations: map[string]domain.Reservation{},
		calls:        map[string]int{},
	}
}

func (m *memRepo) hit(name string) {
	m.calls[name]++
}

func (m *memRepo) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *memRepo) GetPriceTable(context.Context) (domain.PriceTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit("GetPriceTable")
	if m.table == nil {
		return domain.PriceTable{}, domain.ErrNotFound
	}
	return *m.table, nil
}

func (m *memRepo) SavePriceTable(_ context.Context, t domain.PriceTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table = &t
	return nil
}

func (m *memRepo) ListBlocks(_ context.Context, from civil.Date) ([]domain.ManualBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit("ListBlocks")
	var out []domain.ManualBlock
	for _, b := range m.blocks {
		if !b.Date.Before(from) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *memRepo) AddBlock(_ context.Context, b domain.ManualBlock) (domain.ManualBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBlock++
	b.ID = m.nextBlock
	m.blocks[b.ID] = b
	return b, nil
}

func (m *memRepo) DeleteBlock(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.blocks, id)
	return nil
}

func overlaps(a, b domain.DateSpan) bool {
	return !a.Start.After(b.End) && !b.Start.After(a.End)
}

func (m *memRepo) InsertReservation(_ context.Context, r domain.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, o := range m.reservations {
		if o.Status.Active() && overlaps(o.Span(), r.Span()) {
			return domain.ErrDatesTaken
		}
		if o.IdempotencyKey == r.IdempotencyKey {
			return errors.New("duplicate idempotency key")
		}
	}
	m.reservations[r.ID] = r
	return nil
}

func (m *memRepo) find(pred func(domain.Reservation) bool) (domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if pred(r) {
			return r, nil
		}
	}
	return domain.Reservation{}, domain.ErrNotFound
}

func (m *memRepo) GetReservationByCode(_ context.Context, code string) (domain.Reservation, error) {
	return m.find(func(r domain.Reservation) bool { return r.Code == code })
}

func (m *memRepo) GetReservationByIdempotencyKey(_ context.Context, key string) (domain.Reservation, error) {
	return m.find(func(r domain.Reservation) bool { return r.IdempotencyKey == key })
}

func (m *memRepo) AttachCheckout(_ context.Context, id string, c domain.Checkout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.PaymentID, r.PaymentURL = c.ID, c.URL
	m.reservations[id] = r
	return nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id string, from, to domain.ReservationStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return domain.ErrNotFound
	}
	r.Status = to
	if to == domain.StatusConfirmed {
		r.PaidAt = &at
	}
	m.reservations[id] = r
	return nil
}

func (m *memRepo) CancelReservation(_ context.Context, c domain.Cancellation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[c.ReservationID]
	if !ok || r.Status != c.From {
		return domain.ErrNotFound
	}
	r.Status = domain.StatusCancelled
	r.CancelledAt, r.CancelReason, r.Refund = &c.At, c.Reason, c.Refund
	m.reservations[r.ID] = r
	return nil
}

func (m *memRepo) FinishElapsed(_ context.Context, d civil.Date) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.reservations {
		if r.Status == domain.StatusConfirmed && r.End.Before(d) {
			r.Status = domain.StatusFinished
			m.reservations[id] = r
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ListOccupiedSpans(_ context.Context, from civil.Date) ([]domain.DateSpan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit("ListOccupiedSpans")
	var out []domain.DateSpan
	for _, r := range m.reservations {
		if r.Status.Active() && !r.End.Before(from) {
			out = append(out, r.Span())
		}
	}
	return out, nil
}

func (m *memRepo) ListPending(_ context.Context, limit int) ([]domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Reservation
	for _, r := range m.reservations {
		if r.Status == domain.StatusPendingPayment && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) ListChalets(context.Context) ([]domain.Chalet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit("ListChalets")
	return m.chalets, nil
}

func (m *memRepo) put(r domain.Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.ID] = r
}

func (m *memRepo) all() []domain.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Reservation, 0, len(m.reservations))
	for _, r := range m.reservations {
		out = append(out, r)
	}
	return out
}

// ---- cache and lock ----

// memCache round-trips through JSON like the redis adapter does.
type memCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newMemCache() *memCache { return &memCache{store: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *memCache) Set(_ context.Context, key string, v any, _ int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = b
	return nil
}

func (c *memCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

type memLocker struct {
	mu   sync.Mutex
	seq  int
	held map[string]string
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]string{}} }

func (l *memLocker) Acquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.seq++
	token := fmt.Sprintf("t%d", l.seq)
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// ---- payment gateway ----

type fakeGateway struct {
	mu        sync.Mutex
	createErr error
	statusErr error
	refundErr error
	states    map[string]domain.PaymentState
	requests  []domain.CheckoutRequest
	refunds   []domain.Refund
}

func newFakeGateway() *fakeGateway { return &fakeGateway{states: map[string]domain.PaymentState{}} }

func (g *fakeGateway) CreateCheckout(_ context.Context, req domain.CheckoutRequest) (domain.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return domain.Checkout{}, g.createErr
	}
	return domain.Checkout{ID: "pay_" + req.Reference, URL: "https://pay.example/" + req.Reference}, nil
}

func (g *fakeGateway) PaymentStatus(_ context.Context, id string) (domain.PaymentState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return "", g.statusErr
	}
	if st, ok := g.states[id]; ok {
		return st, nil
	}
	return domain.PaymentPending, nil
}

func (g *fakeGateway) Refund(_ context.Context, id string, amount decimal.Decimal) (domain.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return domain.Refund{}, g.refundErr
	}
	rf := domain.Refund{ID: "ref_" + id, Amount: amount}
	g.refunds = append(g.refunds, rf)
	return rf, nil
}

func (g *fakeGateway) Refunds() []domain.Refund {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Refund(nil), g.refunds...)
}

func (g *fakeGateway) Requests() []domain.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.CheckoutRequest(nil), g.requests...)
}
