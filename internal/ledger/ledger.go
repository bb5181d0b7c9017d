// Package ledger guards the two per-user consistency rules of the
// discount system: a voucher is single-use per user, and a loyalty
// point balance never goes negative.  Validation never mutates state;
// debits and credits are committed in one transaction only after the
// paying order reconciles successfully, and the commit is idempotent
// per order so a retried reconciliation cannot double-debit.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/starlight-cinema/booking-core/internal/model"
)

// Validation failures surfaced to callers.  None of them mutate state.
var (
	ErrVoucherNotFound    = errors.New("voucher not found")
	ErrVoucherExpired     = errors.New("voucher expired")
	ErrVoucherAlreadyUsed = errors.New("voucher already used")
	ErrInsufficientPoints = errors.New("insufficient points")
)

// Store abstracts voucher and loyalty persistence.  FindVoucherByCode
// returns ErrVoucherNotFound for unknown codes.  WithinTx runs fn in a
// transaction; the Tx reads must lock what they return so concurrent
// commits for the same user serialize.
type Store interface {
	FindVoucherByCode(ctx context.Context, code string) (*model.Voucher, error)
	RedemptionExists(ctx context.Context, userID, voucherID uint64) (bool, error)
	PointBalance(ctx context.Context, userID uint64) (int64, error)
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside a store transaction.
type Tx interface {
	// HasEntriesForOrder reports whether any ledger entry or redemption
	// already references the order.  Used for commit idempotency.
	HasEntriesForOrder(ctx context.Context, orderID uint64) (bool, error)
	// PointBalanceForUpdate returns the user's balance, locking the
	// user's entries against concurrent spends.
	PointBalanceForUpdate(ctx context.Context, userID uint64) (int64, error)
	RedemptionExistsForUpdate(ctx context.Context, userID, voucherID uint64) (bool, error)
	InsertRedemption(ctx context.Context, userID, voucherID, orderID uint64) error
	InsertEntry(ctx context.Context, userID uint64, delta int64, orderID uint64) error
}

// Ledger validates and commits voucher redemptions and point
// movements.  The now function is swappable for tests.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New returns a Ledger bound to the given store.
func New(store Store) *Ledger {
	if store == nil {
		panic("nil store passed to ledger.New")
	}
	return &Ledger{store: store, now: time.Now}
}

// ValidateVoucher checks that the code exists, has not expired and has
// not been redeemed by this user yet, and returns the voucher on
// success.  It performs no writes; the redemption is recorded only by
// Commit.
func (l *Ledger) ValidateVoucher(ctx context.Context, userID uint64, code string) (*model.Voucher, error) {
	v, err := l.store.FindVoucherByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !v.ExpiresAt.After(l.now().UTC()) {
		return nil, ErrVoucherExpired
	}
	used, err := l.store.RedemptionExists(ctx, userID, v.ID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrVoucherAlreadyUsed
	}
	return v, nil
}

// ValidatePoints checks that the user's current balance covers the
// requested redemption.  The balance is the sum of the user's ledger
// entries, not a cached display value.
func (l *Ledger) ValidatePoints(ctx context.Context, userID uint64, points int64) error {
	if points <= 0 {
		return nil
	}
	balance, err := l.store.PointBalance(ctx, userID)
	if err != nil {
		return err
	}
	if points > balance {
		return ErrInsufficientPoints
	}
	return nil
}

// Balance returns the user's current point balance.
func (l *Ledger) Balance(ctx context.Context, userID uint64) (int64, error) {
	return l.store.PointBalance(ctx, userID)
}

// Commit records the outcome of a successfully paid order in one
// transaction: the voucher redemption (if a voucher was applied), the
// point debit (if points were redeemed) and the point credit earned by
// the purchase.  Retrying with the same orderID is a no-op, so a
// duplicated payment callback cannot double-debit.  The balance and
// single-use checks are re-verified under lock; a conflict here means
// a concurrent order consumed the resource between validation and
// payment, and the corresponding sentinel error is returned.
func (l *Ledger) Commit(ctx context.Context, userID uint64, voucherID *uint64, pointsRedeemed, pointsEarned int64, orderID uint64) error {
	return l.store.WithinTx(ctx, func(tx Tx) error {
		done, err := tx.HasEntriesForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if voucherID != nil {
			used, err := tx.RedemptionExistsForUpdate(ctx, userID, *voucherID)
			if err != nil {
				return err
			}
			if used {
				return ErrVoucherAlreadyUsed
			}
			if err := tx.InsertRedemption(ctx, userID, *voucherID, orderID); err != nil {
				return err
			}
		}
		if pointsRedeemed > 0 {
			balance, err := tx.PointBalanceForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			if pointsRedeemed > balance {
				return ErrInsufficientPoints
			}
			if err := tx.InsertEntry(ctx, userID, -pointsRedeemed, orderID); err != nil {
				return err
			}
		}
		if pointsEarned > 0 {
			if err := tx.InsertEntry(ctx, userID, pointsEarned, orderID); err != nil {
				return err
			}
		}
		return nil
	})
}
