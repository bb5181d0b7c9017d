package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starlight-cinema/booking-core/internal/model"
)

// --- In-memory store ---

type redemptionKey struct{ userID, voucherID uint64 }

type memStore struct {
	mu          sync.Mutex
	vouchers    map[string]*model.Voucher
	redemptions map[redemptionKey]uint64 // -> orderID
	entries     []model.LoyaltyEntry
}

type memTx struct{ s *memStore }

func newMemStore() *memStore {
	return &memStore{
		vouchers:    make(map[string]*model.Voucher),
		redemptions: make(map[redemptionKey]uint64),
	}
}

func (m *memStore) FindVoucherByCode(_ context.Context, code string) (*model.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[code]
	if !ok {
		return nil, ErrVoucherNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) RedemptionExists(_ context.Context, userID, voucherID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.redemptions[redemptionKey{userID, voucherID}]
	return ok, nil
}

func (m *memStore) PointBalance(_ context.Context, userID uint64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(userID), nil
}

func (m *memStore) balanceLocked(userID uint64) int64 {
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID {
			sum += e.Delta
		}
	}
	return sum
}

func (m *memStore) WithinTx(_ context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{s: m})
}

func (t *memTx) HasEntriesForOrder(_ context.Context, orderID uint64) (bool, error) {
	for _, e := range t.s.entries {
		if e.OrderID == orderID {
			return true, nil
		}
	}
	for _, oid := range t.s.redemptions {
		if oid == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) PointBalanceForUpdate(_ context.Context, userID uint64) (int64, error) {
	return t.s.balanceLocked(userID), nil
}

func (t *memTx) RedemptionExistsForUpdate(_ context.Context, userID, voucherID uint64) (bool, error) {
	_, ok := t.s.redemptions[redemptionKey{userID, voucherID}]
	return ok, nil
}

func (t *memTx) InsertRedemption(_ context.Context, userID, voucherID, orderID uint64) error {
	t.s.redemptions[redemptionKey{userID, voucherID}] = orderID
	return nil
}

func (t *memTx) InsertEntry(_ context.Context, userID uint64, delta int64, orderID uint64) error {
	t.s.entries = append(t.s.entries, model.LoyaltyEntry{UserID: userID, Delta: delta, OrderID: orderID})
	return nil
}

// --- Helpers ---

func newTestLedger() (*Ledger, *memStore) {
	store := newMemStore()
	l := New(store)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	store.vouchers["SAVE10"] = &model.Voucher{ID: 1, Code: "SAVE10", Percent: 10, ExpiresAt: now.Add(24 * time.Hour)}
	store.vouchers["OLD50"] = &model.Voucher{ID: 2, Code: "OLD50", Percent: 50, ExpiresAt: now.Add(-time.Hour)}
	return l, store
}

func credit(s *memStore, userID uint64, points int64) {
	s.entries = append(s.entries, model.LoyaltyEntry{UserID: userID, Delta: points})
}

// --- Tests ---

func TestValidateVoucher(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	v, err := l.ValidateVoucher(ctx, 7, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 10, v.Percent)

	_, err = l.ValidateVoucher(ctx, 7, "NOPE")
	require.ErrorIs(t, err, ErrVoucherNotFound)

	_, err = l.ValidateVoucher(ctx, 7, "OLD50")
	require.ErrorIs(t, err, ErrVoucherExpired)
}

func TestValidateVoucher_AlreadyUsed(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	store.redemptions[redemptionKey{7, 1}] = 55

	_, err := l.ValidateVoucher(ctx, 7, "SAVE10")
	require.ErrorIs(t, err, ErrVoucherAlreadyUsed)

	// Another user is unaffected: single-use is per (user, voucher).
	_, err = l.ValidateVoucher(ctx, 8, "SAVE10")
	require.NoError(t, err)
}

func TestValidatePoints(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	credit(store, 7, 30)

	require.NoError(t, l.ValidatePoints(ctx, 7, 30))
	require.ErrorIs(t, l.ValidatePoints(ctx, 7, 31), ErrInsufficientPoints)
	require.NoError(t, l.ValidatePoints(ctx, 7, 0))
}

func TestCommit_RecordsAllMovements(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	credit(store, 7, 50)

	voucherID := uint64(1)
	require.NoError(t, l.Commit(ctx, 7, &voucherID, 20, 14, 99))

	assert.Equal(t, uint64(99), store.redemptions[redemptionKey{7, 1}])
	balance, err := l.Balance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(50-20+14), balance)
}

func TestCommit_IdempotentPerOrder(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	credit(store, 7, 50)

	voucherID := uint64(1)
	require.NoError(t, l.Commit(ctx, 7, &voucherID, 20, 14, 99))
	require.NoError(t, l.Commit(ctx, 7, &voucherID, 20, 14, 99))
	require.NoError(t, l.Commit(ctx, 7, &voucherID, 20, 14, 99))

	balance, _ := l.Balance(ctx, 7)
	assert.Equal(t, int64(44), balance)
	assert.Len(t, store.entries, 3) // initial credit + one spend + one earn
}

func TestCommit_VoucherOnlyIdempotent(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()

	voucherID := uint64(1)
	require.NoError(t, l.Commit(ctx, 7, &voucherID, 0, 0, 99))
	require.NoError(t, l.Commit(ctx, 7, &voucherID, 0, 0, 99))

	assert.Len(t, store.redemptions, 1)
}

func TestCommit_RejectsDoubleRedemptionAcrossOrders(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	voucherID := uint64(1)
	require.NoError(t, l.Commit(ctx, 7, &voucherID, 0, 5, 99))

	// Same voucher on a different order must be refused.
	err := l.Commit(ctx, 7, &voucherID, 0, 5, 100)
	require.ErrorIs(t, err, ErrVoucherAlreadyUsed)
}

func TestCommit_RejectsOverspend(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	credit(store, 7, 10)

	err := l.Commit(ctx, 7, nil, 20, 0, 99)
	require.ErrorIs(t, err, ErrInsufficientPoints)

	balance, _ := l.Balance(ctx, 7)
	assert.Equal(t, int64(10), balance)
}

// Concurrent commits racing to spend the same balance: the ledger sum
// never goes negative no matter the interleaving.
func TestCommit_BalanceNeverNegative(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()
	credit(store, 7, 25)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Commit(ctx, 7, nil, 10, 0, uint64(200+i))
		}(i)
	}
	wg.Wait()

	balance, err := l.Balance(ctx, 7)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, balance, int64(0))
	assert.Equal(t, int64(5), balance) // exactly two of the ten spends fit
}

// Concurrent commits for the same (user, voucher) across different
// orders: at most one redemption is recorded.
func TestCommit_SingleUseUnderConcurrency(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()

	voucherID := uint64(1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Commit(ctx, 7, &voucherID, 0, 1, uint64(300+i))
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.redemptions, 1)
}
