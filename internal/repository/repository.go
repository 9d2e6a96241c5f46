// Package repository implements the roster store on PostgreSQL.
// It uses pgx directly (no ORM). Every statement that can change who is
// confirmed runs in one transaction together with the reconciliation pass.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
	"github.com/Shivanand-hulikatti/club-roster/internal/roster"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a unique key is already taken.
var ErrAlreadyExists = errors.New("already exists")

// ErrLocked is returned by roster mutations when the event, read inside the
// mutating transaction, is admin-locked or dated before the mutation time.
var ErrLocked = errors.New("registration is closed")

// EventRepository handles persistence for events.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// eventSelect reads an event with its roster counts and the viewer's own
// state ($1 is always the viewer id, NULL state when not registered).
const eventSelect = `
	SELECT e.id, e.name, e.date, e.capacity, e.locked, e.created_at,
	       COUNT(r.user_id) FILTER (WHERE r.state = 0),
	       COUNT(r.user_id) FILTER (WHERE r.state = 1),
	       MAX(r.state) FILTER (WHERE r.user_id = $1)
	FROM events e
	LEFT JOIN event_registrations r ON r.event_id = e.id`

func scanEvent(row pgx.Row) (model.Event, error) {
	var e model.Event
	var viewer *int16
	err := row.Scan(
		&e.ID, &e.Name, &e.Date, &e.Capacity, &e.Locked, &e.CreatedAt,
		&e.ConfirmedCount, &e.WaitlistedCount, &viewer,
	)
	if err != nil {
		return model.Event{}, err
	}
	if viewer != nil {
		s := model.RegistrationState(*viewer)
		e.ViewerState = &s
	}
	return e, nil
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, e model.Event) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, name, date, capacity, locked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Name, e.Date, e.Capacity, e.Locked, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetByID returns a single event as seen by viewerID, or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id, viewerID string) (*model.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx,
		eventSelect+` WHERE e.id = $2 GROUP BY e.id`,
		viewerID, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// List returns all events ordered by date.
func (r *EventRepository) List(ctx context.Context, viewerID string) ([]model.Event, error) {
	return r.list(ctx, eventSelect+` GROUP BY e.id ORDER BY e.date ASC`, viewerID)
}

// ListBetween returns events dated in [from, to), ordered by date.
func (r *EventRepository) ListBetween(ctx context.Context, from, to time.Time, viewerID string) ([]model.Event, error) {
	return r.list(ctx,
		eventSelect+` WHERE e.date >= $2 AND e.date < $3 GROUP BY e.id ORDER BY e.date ASC`,
		viewerID, from, to,
	)
}

func (r *EventRepository) list(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// IDs returns the id of every event.
func (r *EventRepository) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM events ORDER BY date ASC`)
	if err != nil {
		return nil, fmt.Errorf("list event ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan event id: %w", err)
	}
	return ids, nil
}

// Update changes an event's name, date and capacity, then reconciles the
// roster against the new capacity.
func (r *EventRepository) Update(ctx context.Context, id, name string, date time.Time, capacity int) (roster.Result, error) {
	var res roster.Result
	err := withEventLock(ctx, r.db, id, func(tx pgx.Tx, _ model.Event) error {
		_, err := tx.Exec(ctx,
			`UPDATE events SET name = $2, date = $3, capacity = $4 WHERE id = $1`,
			id, name, date, capacity,
		)
		if err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		res, err = roster.Reconcile(ctx, txRoster{tx}, id, capacity)
		return err
	})
	return res, err
}

// SetLocked sets or clears the admin lock flag.
func (r *EventRepository) SetLocked(ctx context.Context, id string, locked bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE events SET locked = $2 WHERE id = $1`, id, locked)
	if err != nil {
		return fmt.Errorf("set locked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an event and, by cascade, its roster.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RegistrationRepository handles persistence for event rosters.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Register signs userID up for eventID at time at.
//
// ErrLocked when the event, read under its row lock, is closed at time at.
// The initial state compares the confirmed count with the capacity at call
// time. An existing row for the pair is updated in place: comment, state
// and timestamp are all refreshed, so re-registering moves the member to the
// back of the queue. The roster is then reconciled and the member's final
// state returned.
func (r *RegistrationRepository) Register(ctx context.Context, eventID, userID, comment string, at time.Time) (model.RegistrationState, roster.Result, error) {
	var (
		state model.RegistrationState
		res   roster.Result
	)
	err := withEventLock(ctx, r.db, eventID, func(tx pgx.Tx, ev model.Event) error {
		if ev.IsLocked(at) {
			return ErrLocked
		}

		var confirmed int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM event_registrations WHERE event_id = $1 AND state = $2`,
			eventID, int16(model.Confirmed),
		).Scan(&confirmed)
		if err != nil {
			return fmt.Errorf("count confirmed: %w", err)
		}

		initial := model.Waitlisted
		if confirmed < ev.Capacity {
			initial = model.Confirmed
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO event_registrations (event_id, user_id, comment, state, registered_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (event_id, user_id) DO UPDATE
			 SET comment = EXCLUDED.comment,
			     state = EXCLUDED.state,
			     registered_at = EXCLUDED.registered_at`,
			eventID, userID, comment, int16(initial), at,
		)
		if err != nil {
			return fmt.Errorf("upsert registration: %w", err)
		}

		res, err = roster.Reconcile(ctx, txRoster{tx}, eventID, ev.Capacity)
		if err != nil {
			return err
		}

		var final int16
		err = tx.QueryRow(ctx,
			`SELECT state FROM event_registrations WHERE event_id = $1 AND user_id = $2`,
			eventID, userID,
		).Scan(&final)
		if err != nil {
			return fmt.Errorf("read registration state: %w", err)
		}
		state = model.RegistrationState(final)
		return nil
	})
	return state, res, err
}

// Unregister removes the registration if present and reconciles. Removing a
// missing registration is not an error. ErrLocked when the event is closed at
// time at.
func (r *RegistrationRepository) Unregister(ctx context.Context, eventID, userID string, at time.Time) (roster.Result, error) {
	var res roster.Result
	err := withEventLock(ctx, r.db, eventID, func(tx pgx.Tx, ev model.Event) error {
		if ev.IsLocked(at) {
			return ErrLocked
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM event_registrations WHERE event_id = $1 AND user_id = $2`,
			eventID, userID,
		)
		if err != nil {
			return fmt.Errorf("delete registration: %w", err)
		}
		res, err = roster.Reconcile(ctx, txRoster{tx}, eventID, ev.Capacity)
		return err
	})
	return res, err
}

// UpdateComment changes only the comment of an existing registration.
func (r *RegistrationRepository) UpdateComment(ctx context.Context, eventID, userID, comment string, at time.Time) error {
	return withEventLock(ctx, r.db, eventID, func(tx pgx.Tx, ev model.Event) error {
		if ev.IsLocked(at) {
			return ErrLocked
		}
		tag, err := tx.Exec(ctx,
			`UPDATE event_registrations SET comment = $3 WHERE event_id = $1 AND user_id = $2`,
			eventID, userID, comment,
		)
		if err != nil {
			return fmt.Errorf("update comment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Reconcile runs the reconciliation pass for one event on its own.
func (r *RegistrationRepository) Reconcile(ctx context.Context, eventID string) (roster.Result, error) {
	var res roster.Result
	err := withEventLock(ctx, r.db, eventID, func(tx pgx.Tx, ev model.Event) error {
		var err error
		res, err = roster.Reconcile(ctx, txRoster{tx}, eventID, ev.Capacity)
		return err
	})
	return res, err
}

// Get returns one registration or ErrNotFound.
func (r *RegistrationRepository) Get(ctx context.Context, eventID, userID string) (*model.Registration, error) {
	var reg model.Registration
	var state int16
	err := r.db.QueryRow(ctx,
		`SELECT r.event_id, r.user_id, COALESCE(u.display_name, ''), r.comment, r.registered_at, r.state
		 FROM event_registrations r
		 LEFT JOIN users u ON u.id = r.user_id
		 WHERE r.event_id = $1 AND r.user_id = $2`,
		eventID, userID,
	).Scan(&reg.EventID, &reg.UserID, &reg.UserName, &reg.Comment, &reg.RegisteredAt, &state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	reg.State = model.RegistrationState(state)
	return &reg, nil
}

// ListByEvent returns the roster for an event, confirmed members first, then
// by display name.
func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := r.db.Query(ctx,
		`SELECT r.event_id, r.user_id, COALESCE(u.display_name, ''), r.comment, r.registered_at, r.state
		 FROM event_registrations r
		 LEFT JOIN users u ON u.id = r.user_id
		 WHERE r.event_id = $1
		 ORDER BY r.state ASC, u.display_name ASC, r.registered_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		var reg model.Registration
		var state int16
		if err := rows.Scan(&reg.EventID, &reg.UserID, &reg.UserName, &reg.Comment, &reg.RegisteredAt, &state); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		reg.State = model.RegistrationState(state)
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}
