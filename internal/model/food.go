package model

import "time"

// FoodItem is a concession catalog entry (popcorn, drinks, combos).
// The catalog is maintained by the out-of-scope back office; this
// module only reads active items when pricing an order.
type FoodItem struct {
	ID        uint64    // food_items.id
	Name      string    // food_items.name
	UnitPrice int64     // food_items.unit_price
	IsActive  bool      // food_items.is_active
	CreatedAt time.Time // food_items.created_at
	UpdatedAt time.Time // food_items.updated_at
}
