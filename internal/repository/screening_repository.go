package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/starlight-cinema/booking-core/internal/model"
)

// ScreeningRepo provides read access to the screenings table.  The
// table is populated by the out-of-scope scheduling service; this
// module never writes to it.
type ScreeningRepo struct {
	db *sql.DB
}

// NewScreeningRepo returns a new ScreeningRepo bound to the provided database.
func NewScreeningRepo(db *sql.DB) *ScreeningRepo { return &ScreeningRepo{db: db} }

const screeningColumns = `id, movie_id, movie_title, room_id, starts_at, runtime_min, status, created_at, updated_at`

// GetByID returns a single screening.  When no screening with the
// given ID exists, ErrScreeningNotFound is returned.
func (r *ScreeningRepo) GetByID(ctx context.Context, id uint64) (*model.Screening, error) {
	const q = `SELECT ` + screeningColumns + ` FROM screenings WHERE id = ?`
	var s model.Screening
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.MovieID, &s.MovieTitle, &s.RoomID, &s.StartsAt, &s.RuntimeMin,
		&s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScreeningNotFound
		}
		return nil, err
	}
	return &s, nil
}
