package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/starlight-cinema/booking-core/internal/inventory"
	"github.com/starlight-cinema/booking-core/internal/model"
)

// SeatSlotRepo provides data access to the seat_slots table and
// implements inventory.Store.  All row reads inside a transaction use
// SELECT ... FOR UPDATE so that concurrent hold attempts on
// overlapping seat sets serialize on the database row locks; the
// inventory component relies on this for its all-or-nothing guarantee.
// All timestamps are handled in UTC.
type SeatSlotRepo struct {
	db *sql.DB
}

// NewSeatSlotRepo returns a new SeatSlotRepo bound to the provided database.
func NewSeatSlotRepo(db *sql.DB) *SeatSlotRepo { return &SeatSlotRepo{db: db} }

// WithinTx runs fn inside a database transaction, committing when fn
// returns nil and rolling back otherwise.
func (r *SeatSlotRepo) WithinTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
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
	if err := fn(&seatSlotTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// seatSlotTx implements inventory.Tx over a live transaction.
type seatSlotTx struct {
	tx *sql.Tx
}

const slotColumns = `id, screening_id, seat_id, row_label, seat_number, tier, price,
                     status, hold_owner_id, hold_expires_at, version, created_at, updated_at`

func scanSlot(rows *sql.Rows) (model.SeatSlot, error) {
	var s model.SeatSlot
	var owner sql.NullInt64
	var expires sql.NullTime
	err := rows.Scan(
		&s.ID, &s.ScreeningID, &s.SeatID, &s.RowLabel, &s.SeatNumber, &s.Tier, &s.Price,
		&s.Status, &owner, &expires, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return s, err
	}
	if owner.Valid {
		o := uint64(owner.Int64)
		s.HoldOwnerID = &o
	}
	if expires.Valid {
		e := expires.Time
		s.HoldExpiresAt = &e
	}
	return s, nil
}

// SlotsForUpdate returns the slots for the given seat IDs, locked
// until the transaction ends.  Unknown seat IDs are absent from the
// result.
func (t *seatSlotTx) SlotsForUpdate(ctx context.Context, screeningID uint64, seatIDs []uint64) ([]model.SeatSlot, error) {
	if len(seatIDs) == 0 {
		return []model.SeatSlot{}, nil
	}
	query := `SELECT ` + slotColumns + ` FROM seat_slots WHERE screening_id = ? AND seat_id IN (`
	args := make([]interface{}, 0, len(seatIDs)+1)
	args = append(args, screeningID)
	for i, sid := range seatIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, sid)
	}
	query += ") FOR UPDATE"
	return t.querySlots(ctx, query, args...)
}

// AllSlotsForUpdate returns every slot of the screening, locked, in
// seating order.
func (t *seatSlotTx) AllSlotsForUpdate(ctx context.Context, screeningID uint64) ([]model.SeatSlot, error) {
	const q = `SELECT ` + slotColumns + ` FROM seat_slots
	           WHERE screening_id = ? ORDER BY row_label, seat_number FOR UPDATE`
	return t.querySlots(ctx, q, screeningID)
}

func (t *seatSlotTx) querySlots(ctx context.Context, query string, args ...interface{}) ([]model.SeatSlot, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slots []model.SeatSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// MarkHeld transitions the given slots to HELD with the owner and
// expiry.  The inventory component has already validated the
// transition under lock.
func (t *seatSlotTx) MarkHeld(ctx context.Context, screeningID uint64, seatIDs []uint64, ownerID uint64, expiresAt time.Time) error {
	return t.bulkUpdate(ctx, screeningID, seatIDs,
		`status = 'HELD', hold_owner_id = ?, hold_expires_at = ?`,
		ownerID, expiresAt.UTC().Format("2006-01-02 15:04:05"))
}

// MarkFree transitions the given slots back to FREE, clearing the
// hold owner and expiry.
func (t *seatSlotTx) MarkFree(ctx context.Context, screeningID uint64, seatIDs []uint64) error {
	return t.bulkUpdate(ctx, screeningID, seatIDs,
		`status = 'FREE', hold_owner_id = NULL, hold_expires_at = NULL`)
}

// MarkSold transitions the given slots to SOLD.  The hold owner is
// kept on the row as a purchase audit trail; only the expiry is
// cleared.
func (t *seatSlotTx) MarkSold(ctx context.Context, screeningID uint64, seatIDs []uint64) error {
	return t.bulkUpdate(ctx, screeningID, seatIDs,
		`status = 'SOLD', hold_expires_at = NULL`)
}

func (t *seatSlotTx) bulkUpdate(ctx context.Context, screeningID uint64, seatIDs []uint64, set string, setArgs ...interface{}) error {
	if len(seatIDs) == 0 {
		return nil
	}
	query := `UPDATE seat_slots SET ` + set + `, version = version + 1 WHERE screening_id = ? AND seat_id IN (`
	args := make([]interface{}, 0, len(setArgs)+len(seatIDs)+1)
	args = append(args, setArgs...)
	args = append(args, screeningID)
	for i, sid := range seatIDs {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, sid)
	}
	query += ")"
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}
