package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/starlight-cinema/booking-core/internal/ledger"
	"github.com/starlight-cinema/booking-core/internal/model"
)

// LedgerRepo provides data access to the vouchers, voucher_redemptions
// and loyalty_ledger tables and implements ledger.Store.  Point
// balances are never stored; they are derived with SUM(delta) so the
// append-only ledger stays the single source of truth.
type LedgerRepo struct {
	db *sql.DB
}

// NewLedgerRepo returns a new LedgerRepo bound to the provided database.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

// FindVoucherByCode returns the voucher with the given code or
// ledger.ErrVoucherNotFound when none matches.
func (r *LedgerRepo) FindVoucherByCode(ctx context.Context, code string) (*model.Voucher, error) {
	var v model.Voucher
	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, percent, expires_at, created_at
		FROM vouchers WHERE code = ?`, code).
		Scan(&v.ID, &v.Code, &v.Percent, &v.ExpiresAt, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// RedemptionExists reports whether the user has already redeemed the
// voucher on any order.
func (r *LedgerRepo) RedemptionExists(ctx context.Context, userID, voucherID uint64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM voucher_redemptions WHERE user_id = ? AND voucher_id = ?)`,
		userID, voucherID).Scan(&exists)
	return exists, err
}

// PointBalance returns the user's current point balance.
func (r *LedgerRepo) PointBalance(ctx context.Context, userID uint64) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM loyalty_ledger WHERE user_id = ?`, userID).
		Scan(&balance)
	return balance, err
}

// WithinTx runs fn inside a database transaction, committing when fn
// returns nil and rolling back otherwise.
func (r *LedgerRepo) WithinTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ledgerTx implements ledger.Tx over a live transaction.
type ledgerTx struct {
	tx *sql.Tx
}

// HasEntriesForOrder reports whether the order has already been
// settled into the ledger.  This is the commit idempotency check; it
// covers both tables because a voucher-only order writes no point
// entries.
func (t *ledgerTx) HasEntriesForOrder(ctx context.Context, orderID uint64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM loyalty_ledger WHERE order_id = ?)
		    OR EXISTS(SELECT 1 FROM voucher_redemptions WHERE order_id = ?)`, orderID, orderID).
		Scan(&exists)
	return exists, err
}

// PointBalanceForUpdate returns the user's balance while locking their
// ledger rows so no concurrent spend can slip in under this
// transaction.
func (t *ledgerTx) PointBalanceForUpdate(ctx context.Context, userID uint64) (int64, error) {
	var balance int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM loyalty_ledger WHERE user_id = ? FOR UPDATE`, userID).
		Scan(&balance)
	return balance, err
}

// RedemptionExistsForUpdate reports whether the user has redeemed the
// voucher, locking any matching row for the rest of the transaction.
func (t *ledgerTx) RedemptionExistsForUpdate(ctx context.Context, userID, voucherID uint64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM voucher_redemptions WHERE user_id = ? AND voucher_id = ? FOR UPDATE)`,
		userID, voucherID).Scan(&exists)
	return exists, err
}

// InsertRedemption records a voucher redemption.  The table's
// UNIQUE(user_id, voucher_id) key backstops the single-use rule even
// if two transactions race past the existence check.
func (t *ledgerTx) InsertRedemption(ctx context.Context, userID, voucherID, orderID uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO voucher_redemptions (user_id, voucher_id, order_id, created_at)
		VALUES (?, ?, ?, UTC_TIMESTAMP())`, userID, voucherID, orderID)
	return err
}

// InsertEntry appends a point movement to the ledger.
func (t *ledgerTx) InsertEntry(ctx context.Context, userID uint64, delta int64, orderID uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO loyalty_ledger (user_id, delta, order_id, created_at)
		VALUES (?, ?, ?, UTC_TIMESTAMP())`, userID, delta, orderID)
	return err
}
