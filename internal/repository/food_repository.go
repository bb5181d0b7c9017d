package repository

import (
	"context"
	"database/sql"

	"github.com/starlight-cinema/booking-core/internal/model"
)

// FoodRepo provides read access to the food_items catalog.  The
// catalog is maintained by the out-of-scope back office.
type FoodRepo struct {
	db *sql.DB
}

// NewFoodRepo returns a new FoodRepo bound to the provided database.
func NewFoodRepo(db *sql.DB) *FoodRepo { return &FoodRepo{db: db} }

// ListActive returns every active food item, ordered by name.  Used
// by the public catalog endpoint.
func (r *FoodRepo) ListActive(ctx context.Context) ([]model.FoodItem, error) {
	const q = `SELECT id, name, unit_price, is_active, created_at, updated_at
	           FROM food_items WHERE is_active = 1 ORDER BY name`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.FoodItem
	for rows.Next() {
		var it model.FoodItem
		if err := rows.Scan(&it.ID, &it.Name, &it.UnitPrice, &it.IsActive, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetByIDs returns the active food items matching the given IDs.
// Unknown or inactive IDs are simply absent from the result; the
// caller decides whether that is an error.  Passing an empty slice
// returns an empty result.
func (r *FoodRepo) GetByIDs(ctx context.Context, ids []uint64) ([]model.FoodItem, error) {
	if len(ids) == 0 {
		return []model.FoodItem{}, nil
	}
	query := `SELECT id, name, unit_price, is_active, created_at, updated_at
	          FROM food_items WHERE is_active = 1 AND id IN (`
	args := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.FoodItem
	for rows.Next() {
		var it model.FoodItem
		if err := rows.Scan(&it.ID, &it.Name, &it.UnitPrice, &it.IsActive, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
