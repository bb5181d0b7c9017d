package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/starlight-cinema/booking-core/internal/checkout"
	"github.com/starlight-cinema/booking-core/internal/model"
)

// OrderRepo provides data access to the orders, order_seats and
// order_food tables and implements checkout.OrderStore.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the provided database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

const orderColumns = `id, public_code, user_id, screening_id, status, voucher_id, voucher_percent,
                      points_redeemed, subtotal, total, gateway_ref, fail_reason, refund_required,
                      created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*model.Order, error) {
	var o model.Order
	var voucherID, failReason, gatewayRef = sql.NullInt64{}, sql.NullString{}, sql.NullString{}
	err := row.Scan(
		&o.ID, &o.PublicCode, &o.UserID, &o.ScreeningID, &o.Status, &voucherID, &o.VoucherPercent,
		&o.PointsRedeemed, &o.Subtotal, &o.Total, &gatewayRef, &failReason, &o.RefundRequired,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if voucherID.Valid {
		v := uint64(voucherID.Int64)
		o.VoucherID = &v
	}
	if gatewayRef.Valid {
		r := gatewayRef.String
		o.GatewayRef = &r
	}
	if failReason.Valid {
		f := failReason.String
		o.FailReason = &f
	}
	return &o, nil
}

// Create inserts the order with its seat and food lines in a single
// transaction and fills the generated IDs and timestamps back into the
// order.
func (r *OrderRepo) Create(ctx context.Context, order *model.Order, seats []model.OrderSeat, food []model.OrderFood) error {
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

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders
			(public_code, user_id, screening_id, status, voucher_id, voucher_percent,
			 points_redeemed, subtotal, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.PublicCode, order.UserID, order.ScreeningID, order.Status,
		nullableID(order.VoucherID), order.VoucherPercent,
		order.PointsRedeemed, order.Subtotal, order.Total, now, now,
	)
	if err != nil {
		return err
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	order.ID = uint64(orderID)
	order.CreatedAt = now
	order.UpdatedAt = now

	if len(seats) > 0 {
		query := `INSERT INTO order_seats (order_id, seat_slot_id, seat_id, row_label, seat_number, price) VALUES `
		args := make([]interface{}, 0, len(seats)*6)
		for i := range seats {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?)"
			args = append(args, order.ID, seats[i].SeatSlotID, seats[i].SeatID,
				seats[i].RowLabel, seats[i].SeatNumber, seats[i].Price)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	if len(food) > 0 {
		query := `INSERT INTO order_food (order_id, food_item_id, name, quantity, unit_price) VALUES `
		args := make([]interface{}, 0, len(food)*5)
		for i := range food {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?)"
			args = append(args, order.ID, food[i].FoodItemID, food[i].Name,
				food[i].Quantity, food[i].UnitPrice)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetByID returns the order with the given ID or
// checkout.ErrOrderNotFound when it does not exist.
func (r *OrderRepo) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkout.ErrOrderNotFound
	}
	return o, err
}

// GetByGatewayRef returns the order referenced by a gateway callback
// or checkout.ErrOrderNotFound when the ref is unknown.
func (r *OrderRepo) GetByGatewayRef(ctx context.Context, ref string) (*model.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE gateway_ref = ?`, ref)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkout.ErrOrderNotFound
	}
	return o, err
}

// Seats returns the seat lines of the order in seating order.
func (r *OrderRepo) Seats(ctx context.Context, orderID uint64) ([]model.OrderSeat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, seat_slot_id, seat_id, row_label, seat_number, price
		FROM order_seats WHERE order_id = ? ORDER BY row_label, seat_number`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []model.OrderSeat
	for rows.Next() {
		var s model.OrderSeat
		if err := rows.Scan(&s.ID, &s.OrderID, &s.SeatSlotID, &s.SeatID, &s.RowLabel, &s.SeatNumber, &s.Price); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// Food returns the food lines of the order.
func (r *OrderRepo) Food(ctx context.Context, orderID uint64) ([]model.OrderFood, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, food_item_id, name, quantity, unit_price
		FROM order_food WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var food []model.OrderFood
	for rows.Next() {
		var f model.OrderFood
		if err := rows.Scan(&f.ID, &f.OrderID, &f.FoodItemID, &f.Name, &f.Quantity, &f.UnitPrice); err != nil {
			return nil, err
		}
		food = append(food, f)
	}
	return food, rows.Err()
}

// CASStatus atomically moves the order from one status to another and
// reports whether this call performed the transition.  Concurrent
// writers racing over the same order see exactly one winner.
func (r *OrderRepo) CASStatus(ctx context.Context, orderID uint64, from, to string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = UTC_TIMESTAMP()
		WHERE id = ? AND status = ?`, to, orderID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateDiscount rewrites the voucher and points applied to a pending
// order together with the recomputed total.
func (r *OrderRepo) UpdateDiscount(ctx context.Context, orderID uint64, voucherID *uint64, percent int, points, total int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET voucher_id = ?, voucher_percent = ?, points_redeemed = ?, total = ?, updated_at = UTC_TIMESTAMP()
		WHERE id = ?`, nullableID(voucherID), percent, points, total, orderID)
	return err
}

// SetGatewayRef records the gateway's payment reference on the order.
func (r *OrderRepo) SetGatewayRef(ctx context.Context, orderID uint64, ref string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET gateway_ref = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`, ref, orderID)
	return err
}

// SetOutcome records why a terminal order failed or was cancelled and
// whether a refund is owed to the customer.
func (r *OrderRepo) SetOutcome(ctx context.Context, orderID uint64, failReason string, refundRequired bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET fail_reason = ?, refund_required = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
		failReason, refundRequired, orderID)
	return err
}

// ListStaleBefore returns orders still in the given status whose last
// update is older than the cutoff, oldest first.
func (r *OrderRepo) ListStaleBefore(ctx context.Context, status string, cutoff time.Time) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = ? AND updated_at < ? ORDER BY updated_at`, status, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func nullableID(id *uint64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
