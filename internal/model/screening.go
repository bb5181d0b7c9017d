package model

import "time"

// Screening lifecycle states.  A screening only accepts checkouts while
// it is AVAILABLE; ended and cancelled screenings are kept for history.
const (
	ScreeningAvailable = "AVAILABLE"
	ScreeningEnded     = "ENDED"
	ScreeningCancelled = "CANCELLED"
)

// Screening represents a scheduled showing of a movie in a particular
// room.  Screenings are created by the out-of-scope scheduling service;
// this module only reads them.  The movie title is mirrored onto the
// row so event payloads and order listings do not need the catalog.
//
// Fields:
//  ID         – primary key identifier.
//  MovieID    – external movie catalog reference.
//  MovieTitle – mirrored movie title for display and events.
//  RoomID     – room where the screening takes place.
//  StartsAt   – when the screening begins.
//  RuntimeMin – movie runtime in minutes.
//  Status     – lifecycle status (AVAILABLE, ENDED, CANCELLED).
//  CreatedAt  – creation timestamp.
//  UpdatedAt  – last update timestamp.
type Screening struct {
	ID         uint64    // screenings.id
	MovieID    uint64    // screenings.movie_id
	MovieTitle string    // screenings.movie_title
	RoomID     uint64    // screenings.room_id
	StartsAt   time.Time // screenings.starts_at
	RuntimeMin uint32    // screenings.runtime_min
	Status     string    // screenings.status
	CreatedAt  time.Time // screenings.created_at
	UpdatedAt  time.Time // screenings.updated_at
}
