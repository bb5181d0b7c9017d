package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starlight-cinema/booking-core/internal/inventory"
	"github.com/starlight-cinema/booking-core/internal/ledger"
	"github.com/starlight-cinema/booking-core/internal/model"
	"github.com/starlight-cinema/booking-core/internal/payment"
	"github.com/starlight-cinema/booking-core/internal/queue"
)

// --- Mock implementations ---

type mockInventory struct {
	mu         sync.Mutex
	prices     map[uint64]int64 // seatID -> price
	holdErr    error
	confirmErr error
	onConfirm  func() // runs unlocked at Confirm entry
	held       [][]uint64
	released   [][]uint64
	confirmed  [][]uint64
}

func (m *mockInventory) Hold(_ context.Context, screeningID uint64, seatIDs []uint64, ownerID uint64, ttl time.Duration) ([]model.SeatSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holdErr != nil {
		return nil, m.holdErr
	}
	slots := make([]model.SeatSlot, 0, len(seatIDs))
	for i, sid := range seatIDs {
		slots = append(slots, model.SeatSlot{
			ID:          sid * 100,
			ScreeningID: screeningID,
			SeatID:      sid,
			RowLabel:    "A",
			SeatNumber:  uint32(i + 1),
			Price:       m.prices[sid],
			Status:      model.SeatHeld,
		})
	}
	m.held = append(m.held, seatIDs)
	return slots, nil
}

func (m *mockInventory) Release(_ context.Context, _ uint64, seatIDs []uint64, _ uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, seatIDs)
	return len(seatIDs), nil
}

func (m *mockInventory) Confirm(_ context.Context, _ uint64, seatIDs []uint64, _ uint64) error {
	if m.onConfirm != nil {
		m.onConfirm()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return m.confirmErr
	}
	m.confirmed = append(m.confirmed, seatIDs)
	return nil
}

type ledgerCommit struct {
	userID    uint64
	voucherID *uint64
	redeemed  int64
	earned    int64
	orderID   uint64
}

type mockLedger struct {
	mu         sync.Mutex
	vouchers   map[string]*model.Voucher
	voucherErr error
	pointsErr  error
	commitErr  error
	commits    []ledgerCommit
}

func (m *mockLedger) ValidateVoucher(_ context.Context, _ uint64, code string) (*model.Voucher, error) {
	if m.voucherErr != nil {
		return nil, m.voucherErr
	}
	v, ok := m.vouchers[code]
	if !ok {
		return nil, ledger.ErrVoucherNotFound
	}
	return v, nil
}

func (m *mockLedger) ValidatePoints(_ context.Context, _ uint64, _ int64) error {
	return m.pointsErr
}

func (m *mockLedger) Commit(_ context.Context, userID uint64, voucherID *uint64, redeemed, earned int64, orderID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, c := range m.commits {
		if c.orderID == orderID {
			return nil // idempotent
		}
	}
	m.commits = append(m.commits, ledgerCommit{userID, voucherID, redeemed, earned, orderID})
	return nil
}

// memOrderStore keeps orders in memory with mutex-guarded CAS so the
// reconcile/sweep race behaves like the SQL implementation.
type memOrderStore struct {
	mu     sync.Mutex
	nextID uint64
	orders map[uint64]*model.Order
	byRef  map[string]uint64
	seats  map[uint64][]model.OrderSeat
	food   map[uint64][]model.OrderFood
	now    func() time.Time
}

func newMemOrderStore(now func() time.Time) *memOrderStore {
	return &memOrderStore{
		nextID: 1,
		orders: make(map[uint64]*model.Order),
		byRef:  make(map[string]uint64),
		seats:  make(map[uint64][]model.OrderSeat),
		food:   make(map[uint64][]model.OrderFood),
		now:    now,
	}
}

func (s *memOrderStore) Create(_ context.Context, o *model.Order, seats []model.OrderSeat, food []model.OrderFood) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.nextID
	s.nextID++
	o.CreatedAt = s.now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	s.orders[o.ID] = &cp
	s.seats[o.ID] = seats
	s.food[o.ID] = food
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, id uint64) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memOrderStore) GetByGatewayRef(_ context.Context, ref string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *s.orders[id]
	return &cp, nil
}

func (s *memOrderStore) Seats(_ context.Context, orderID uint64) ([]model.OrderSeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seats[orderID], nil
}

func (s *memOrderStore) Food(_ context.Context, orderID uint64) ([]model.OrderFood, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.food[orderID], nil
}

func (s *memOrderStore) CASStatus(_ context.Context, orderID uint64, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = s.now()
	return true, nil
}

func (s *memOrderStore) UpdateDiscount(_ context.Context, orderID uint64, voucherID *uint64, percent int, points, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	o.VoucherID = voucherID
	o.VoucherPercent = percent
	o.PointsRedeemed = points
	o.Total = total
	o.UpdatedAt = s.now()
	return nil
}

func (s *memOrderStore) SetGatewayRef(_ context.Context, orderID uint64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	r := ref
	o.GatewayRef = &r
	s.byRef[ref] = orderID
	o.UpdatedAt = s.now()
	return nil
}

func (s *memOrderStore) SetOutcome(_ context.Context, orderID uint64, reason string, refund bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	r := reason
	o.FailReason = &r
	o.RefundRequired = refund
	o.UpdatedAt = s.now()
	return nil
}

// Staleness is measured against updated_at, like the SQL store, so any
// touch on the order pushes the abandonment window out.
func (s *memOrderStore) ListStaleBefore(_ context.Context, status string, cutoff time.Time) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Order
	for _, o := range s.orders {
		if o.Status == status && o.UpdatedAt.Before(cutoff) {
			out = append(out, *o)
		}
	}
	return out, nil
}

type stubScreenings struct{ scr *model.Screening }

func (s *stubScreenings) GetByID(_ context.Context, id uint64) (*model.Screening, error) {
	if s.scr == nil || s.scr.ID != id {
		return nil, ErrOrderNotFound // any error will do for tests
	}
	cp := *s.scr
	return &cp, nil
}

type stubFood struct{ items map[uint64]model.FoodItem }

func (s *stubFood) GetByIDs(_ context.Context, ids []uint64) ([]model.FoodItem, error) {
	var out []model.FoodItem
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

type stubGateway struct {
	err  error
	refs int
}

func (g *stubGateway) CreatePaymentIntent(_ context.Context, o *model.Order) (string, string, error) {
	if g.err != nil {
		return "", "", g.err
	}
	g.refs++
	return "https://pay.example/p/1", "ref-" + o.PublicCode, nil
}

type stubPublisher struct {
	mu     sync.Mutex
	events []queue.OrderPaidEvent
}

func (p *stubPublisher) PublishOrderPaid(_ context.Context, ev queue.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// --- Fixture ---

type fixture struct {
	orch   *Orchestrator
	inv    *mockInventory
	led    *mockLedger
	orders *memOrderStore
	gw     *stubGateway
	pub    *stubPublisher
	clock  *time.Time
}

const holdTTL = 10 * time.Minute

func newFixture() *fixture {
	now := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	clock := &now
	nowFn := func() time.Time { return *clock }

	inv := &mockInventory{prices: map[uint64]int64{1: 80000, 2: 80000, 3: 120000}}
	led := &mockLedger{vouchers: map[string]*model.Voucher{
		"SAVE10": {ID: 5, Code: "SAVE10", Percent: 10, ExpiresAt: now.Add(48 * time.Hour)},
	}}
	orders := newMemOrderStore(nowFn)
	gw := &stubGateway{}
	pub := &stubPublisher{}
	scr := &stubScreenings{scr: &model.Screening{
		ID: 1, MovieTitle: "Dune: Part Two", Status: model.ScreeningAvailable,
		StartsAt: now.Add(3 * time.Hour),
	}}
	food := &stubFood{items: map[uint64]model.FoodItem{
		10: {ID: 10, Name: "Popcorn L", UnitPrice: 45000, IsActive: true},
	}}

	orch := New(inv, led, orders, scr, food, gw, pub, holdTTL)
	orch.now = nowFn
	return &fixture{orch: orch, inv: inv, led: led, orders: orders, gw: gw, pub: pub, clock: clock}
}

// startAwaiting drives a fixture order through checkout up to AWAITING_PAYMENT
// and returns it with its gateway ref.
func (f *fixture) startAwaiting(t *testing.T, seatIDs []uint64, voucherCode string, points int64) (*model.Order, string) {
	t.Helper()
	ctx := context.Background()
	order, err := f.orch.StartCheckout(ctx, 7, 1, seatIDs, nil)
	require.NoError(t, err)
	if voucherCode != "" || points > 0 {
		_, _, err = f.orch.ApplyDiscount(ctx, 7, order.ID, voucherCode, points)
		require.NoError(t, err)
	}
	_, err = f.orch.InitiatePayment(ctx, 7, order.ID)
	require.NoError(t, err)
	stored, err := f.orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.GatewayRef)
	return stored, *stored.GatewayRef
}

// --- Tests ---

func TestStartCheckout(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	order, err := f.orch.StartCheckout(ctx, 7, 1, []uint64{1, 2}, []FoodLine{{FoodItemID: 10, Quantity: 2}})
	require.NoError(t, err)

	assert.Equal(t, model.OrderPending, order.Status)
	assert.Equal(t, int64(160000+90000), order.Subtotal)
	assert.Equal(t, order.Subtotal, order.Total)
	assert.NotEmpty(t, order.PublicCode)

	seats, err := f.orders.Seats(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, seats, 2)
	food, err := f.orders.Food(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, food, 1)
	assert.Equal(t, uint32(2), food[0].Quantity)
}

func TestStartCheckout_SeatUnavailable(t *testing.T) {
	f := newFixture()
	f.inv.holdErr = &inventory.UnavailableSeatsError{SeatIDs: []uint64{2}}

	_, err := f.orch.StartCheckout(context.Background(), 7, 1, []uint64{1, 2}, nil)
	require.ErrorIs(t, err, inventory.ErrSeatUnavailable)
	assert.Empty(t, f.orders.orders)
}

func TestStartCheckout_UnknownFood(t *testing.T) {
	f := newFixture()

	_, err := f.orch.StartCheckout(context.Background(), 7, 1, []uint64{1}, []FoodLine{{FoodItemID: 99, Quantity: 1}})
	var ufe *UnknownFoodError
	require.ErrorAs(t, err, &ufe)
	assert.Equal(t, []uint64{99}, ufe.FoodItemIDs)
	// Food is resolved before seats are touched: no hold was attempted.
	assert.Empty(t, f.inv.held)
}

func TestStartCheckout_ScreeningStarted(t *testing.T) {
	f := newFixture()
	*f.clock = f.clock.Add(4 * time.Hour)

	_, err := f.orch.StartCheckout(context.Background(), 7, 1, []uint64{1}, nil)
	require.ErrorIs(t, err, ErrScreeningUnavailable)
}

func TestApplyDiscount_Voucher(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.orch.StartCheckout(ctx, 7, 1, []uint64{1, 2}, nil)
	require.NoError(t, err)

	updated, quote, err := f.orch.ApplyDiscount(ctx, 7, order.ID, "SAVE10", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(144000), quote.Total)
	assert.Equal(t, int64(144000), updated.Total)
	assert.Equal(t, 10, updated.VoucherPercent)
	assert.False(t, quote.Clamped)
}

func TestApplyDiscount_InvalidVoucherLeavesOrderUntouched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.orch.StartCheckout(ctx, 7, 1, []uint64{1, 2}, nil)
	require.NoError(t, err)

	_, _, err = f.orch.ApplyDiscount(ctx, 7, order.ID, "NOPE", 0)
	require.ErrorIs(t, err, ledger.ErrVoucherNotFound)

	stored, _ := f.orders.GetByID(ctx, order.ID)
	assert.Equal(t, int64(160000), stored.Total)
	assert.Nil(t, stored.VoucherID)
}

func TestApplyDiscount_InsufficientPoints(t *testing.T) {
	f := newFixture()
	f.led.pointsErr = ledger.ErrInsufficientPoints
	ctx := context.Background()
	order, err := f.orch.StartCheckout(ctx, 7, 1, []uint64{1}, nil)
	require.NoError(t, err)

	_, _, err = f.orch.ApplyDiscount(ctx, 7, order.ID, "", 500)
	require.ErrorIs(t, err, ledger.ErrInsufficientPoints)
}

func TestApplyDiscount_WrongOwner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.orch.StartCheckout(ctx, 7, 1, []uint64{1}, nil)
	require.NoError(t, err)

	_, _, err = f.orch.ApplyDiscount(ctx, 8, order.ID, "SAVE10", 0)
	require.ErrorIs(t, err, ErrNotOrderOwner)
}

func TestInitiatePayment_GatewayDownKeepsOrderRetryable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.orch.StartCheckout(ctx, 7, 1, []uint64{1}, nil)
	require.NoError(t, err)

	f.gw.err = payment.ErrGatewayUnavailable
	_, err = f.orch.InitiatePayment(ctx, 7, order.ID)
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)

	stored, _ := f.orders.GetByID(ctx, order.ID)
	assert.Equal(t, model.OrderPending, stored.Status)

	// Retry succeeds once the gateway is back.
	f.gw.err = nil
	url, err := f.orch.InitiatePayment(ctx, 7, order.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, url)
	stored, _ = f.orders.GetByID(ctx, order.ID)
	assert.Equal(t, model.OrderAwaitingPayment, stored.Status)
}

// Full happy-path scenario: A1+A2 at 80,000, SAVE10, success callback.
func TestReconcile_Success(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, ref := f.startAwaiting(t, []uint64{1, 2}, "SAVE10", 0)
	require.Equal(t, int64(144000), order.Total)

	final, err := f.orch.Reconcile(ctx, ref, payment.ResultSuccess)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, final.Status)

	require.Len(t, f.inv.confirmed, 1)
	assert.Equal(t, []uint64{1, 2}, f.inv.confirmed[0])

	require.Len(t, f.led.commits, 1)
	c := f.led.commits[0]
	require.NotNil(t, c.voucherID)
	assert.Equal(t, uint64(5), *c.voucherID)
	assert.Equal(t, int64(0), c.redeemed)
	assert.Equal(t, int64(14), c.earned) // floor(144000/10000)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, order.ID, f.pub.events[0].OrderID)
	assert.Equal(t, "Dune: Part Two", f.pub.events[0].MovieTitle)
}

func TestReconcile_DuplicateCallbackCommitsOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, ref := f.startAwaiting(t, []uint64{1}, "", 0)

	first, err := f.orch.Reconcile(ctx, ref, payment.ResultSuccess)
	require.NoError(t, err)
	second, err := f.orch.Reconcile(ctx, ref, payment.ResultSuccess)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	// The duplicate re-drives the (idempotent) confirmation but the
	// ledger moves exactly once and the event is published exactly once.
	assert.Len(t, f.inv.confirmed, 2)
	assert.Len(t, f.led.commits, 1)
	assert.Len(t, f.pub.events, 1)
}

// A success callback and its duplicate race while the seats are being
// confirmed.  The duplicate observes the transient PAID status; it
// must re-verify the seats instead of committing the ledger, because
// the first callback is about to fail the order closed.
func TestReconcile_DuplicateDuringSeatLossCommitsNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, ref := f.startAwaiting(t, []uint64{1, 2}, "SAVE10", 0)

	f.inv.confirmErr = inventory.ErrHoldExpiredOrMissing
	entered := make(chan struct{})
	resume := make(chan struct{})
	var first atomic.Bool
	f.inv.onConfirm = func() {
		// Only the first Confirm blocks; sync.Once would also make the
		// duplicate caller wait for the first Do to return, deadlocking
		// against close(resume) below.
		if first.CompareAndSwap(false, true) {
			close(entered)
			<-resume
		}
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.orch.Reconcile(ctx, ref, payment.ResultSuccess)
		firstDone <- err
	}()
	<-entered

	dup, err := f.orch.Reconcile(ctx, ref, payment.ResultSuccess)
	require.ErrorIs(t, err, ErrSeatLostDuringPayment)
	assert.Equal(t, model.OrderFailed, dup.Status)

	close(resume)
	require.ErrorIs(t, <-firstDone, ErrSeatLostDuringPayment)

	stored, _ := f.orders.GetByGatewayRef(ctx, ref)
	assert.Equal(t, model.OrderFailed, stored.Status)
	assert.True(t, stored.RefundRequired)
	assert.Empty(t, f.led.commits)
	assert.Empty(t, f.pub.events)
}

// A transient confirmation failure leaves the order PAID with the
// seats still held; the duplicate callback finishes the job.
func TestReconcile_DuplicateHealsInterruptedConfirmation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, ref := f.startAwaiting(t, []uint64{1, 2}, "", 0)

	f.inv.confirmErr = errors.New("lock wait timeout")
	_, err := f.orch.Reconcile(ctx, ref, payment.ResultSuccess)
	require.Error(t, err)

	stored, _ := f.orders.GetByGatewayRef(ctx, ref)
	require.Equal(t, model.OrderPaid, stored.Status)
	assert.Empty(t, f.led.commits)

	f.inv.confirmErr = nil
	final, err := f.orch.Reconcile(ctx, ref, payment.ResultSuccess)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, final.Status)
	assert.Len(t, f.inv.confirmed, 1)
	assert.Len(t, f.led.commits, 1)
}

func TestReconcile_SeatLostDuringPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, ref := f.startAwaiting(t, []uint64{1, 2}, "SAVE10", 0)

	// The hold lapsed and someone else took a seat while the customer
	// was on the gateway page.
	f.inv.confirmErr = inventory.ErrHoldExpiredOrMissing

	final, err := f.orch.Reconcile(ctx, ref, payment.ResultSuccess)
	require.ErrorIs(t, err, ErrSeatLostDuringPayment)
	assert.Equal(t, model.OrderFailed, final.Status)

	stored, _ := f.orders.GetByGatewayRef(ctx, ref)
	assert.Equal(t, model.OrderFailed, stored.Status)
	assert.True(t, stored.RefundRequired)
	require.NotNil(t, stored.FailReason)
	assert.Equal(t, model.FailReasonSeatLost, *stored.FailReason)

	// No voucher or point movement was committed.
	assert.Empty(t, f.led.commits)
	assert.Empty(t, f.pub.events)
}

func TestReconcile_FailureReleasesSeats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, ref := f.startAwaiting(t, []uint64{1, 2}, "", 0)

	final, err := f.orch.Reconcile(ctx, ref, payment.ResultServerError)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, final.Status)
	require.NotNil(t, final.FailReason)
	assert.Equal(t, model.FailReasonGatewayError, *final.FailReason)

	require.Len(t, f.inv.released, 1)
	assert.Equal(t, []uint64{1, 2}, f.inv.released[0])
	assert.Empty(t, f.led.commits)
}

func TestReconcile_UserCancelled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, ref := f.startAwaiting(t, []uint64{1}, "", 0)

	final, err := f.orch.Reconcile(ctx, ref, payment.ResultUserCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, final.Status)
	assert.Len(t, f.inv.released, 1)
}

func TestReconcile_UnknownRef(t *testing.T) {
	f := newFixture()

	_, err := f.orch.Reconcile(context.Background(), "no-such-ref", payment.ResultSuccess)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancel_ReleasesHeldSeats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.orch.StartCheckout(ctx, 7, 1, []uint64{1, 2}, nil)
	require.NoError(t, err)

	cancelled, err := f.orch.Cancel(ctx, 7, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, cancelled.Status)
	require.Len(t, f.inv.released, 1)

	// A cancelled order cannot be paid.
	_, err = f.orch.InitiatePayment(ctx, 7, order.ID)
	require.ErrorIs(t, err, ErrInvalidOrderState)
}

func TestSweep_CancelsAbandonedOrders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, ref := f.startAwaiting(t, []uint64{1, 2}, "", 0)

	// Not yet past the window: nothing to do.
	n, err := f.orch.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	*f.clock = f.clock.Add(2*holdTTL + time.Minute)

	n, err = f.orch.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.inv.released, 1)

	stored, _ := f.orders.GetByGatewayRef(ctx, ref)
	assert.Equal(t, model.OrderCancelled, stored.Status)
	require.NotNil(t, stored.FailReason)
	assert.Equal(t, model.FailReasonTimeout, *stored.FailReason)

	// A success callback arriving after the sweep is a no-op: the CAS
	// already moved the order out of AWAITING_PAYMENT.
	final, err := f.orch.Reconcile(ctx, ref, payment.ResultSuccess)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, final.Status)
	assert.Empty(t, f.inv.confirmed)
	assert.Empty(t, f.led.commits)
}

func TestSweep_CancelsStalePendingOrders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.orch.StartCheckout(ctx, 7, 1, []uint64{1}, nil)
	require.NoError(t, err)

	*f.clock = f.clock.Add(2*holdTTL + time.Minute)

	n, err := f.orch.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := f.orders.GetByID(ctx, order.ID)
	assert.Equal(t, model.OrderCancelled, stored.Status)
}

// The abandonment window is measured from the order's last touch, not
// its creation: a customer still working on an order is not swept.
func TestSweep_ActivityExtendsWindow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.orch.StartCheckout(ctx, 7, 1, []uint64{1, 2}, nil)
	require.NoError(t, err)

	// Just before the cutoff the customer applies a voucher.
	*f.clock = f.clock.Add(2*holdTTL - time.Minute)
	_, _, err = f.orch.ApplyDiscount(ctx, 7, order.ID, "SAVE10", 0)
	require.NoError(t, err)

	*f.clock = f.clock.Add(2 * time.Minute)
	n, err := f.orch.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	*f.clock = f.clock.Add(2 * holdTTL)
	n, err = f.orch.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// Reconciliation and the sweep race on the same order; the status CAS
// guarantees exactly one of them processes it.
func TestReconcileVsSweep_ExactlyOneWins(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, ref := f.startAwaiting(t, []uint64{1}, "", 0)
	*f.clock = f.clock.Add(2*holdTTL + time.Minute)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.orch.Reconcile(ctx, ref, payment.ResultSuccess)
	}()
	go func() {
		defer wg.Done()
		_, _ = f.orch.SweepOnce(ctx)
	}()
	wg.Wait()

	stored, _ := f.orders.GetByGatewayRef(ctx, ref)
	paid := stored.Status == model.OrderPaid
	cancelled := stored.Status == model.OrderCancelled
	assert.True(t, paid != cancelled, "order must end in exactly one terminal state, got %s", stored.Status)
	if paid {
		assert.Len(t, f.inv.confirmed, 1)
		assert.Empty(t, f.inv.released)
	} else {
		assert.Empty(t, f.inv.confirmed)
		assert.Len(t, f.inv.released, 1)
	}
}

func TestGetOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order, err := f.orch.StartCheckout(ctx, 7, 1, []uint64{1, 3}, []FoodLine{{FoodItemID: 10, Quantity: 1}})
	require.NoError(t, err)

	got, seats, food, err := f.orch.GetOrder(ctx, 7, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Len(t, seats, 2)
	assert.Len(t, food, 1)

	_, _, _, err = f.orch.GetOrder(ctx, 8, order.ID)
	require.ErrorIs(t, err, ErrNotOrderOwner)
}
