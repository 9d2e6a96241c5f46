package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
	"github.com/Shivanand-hulikatti/club-roster/internal/repository"
	"github.com/Shivanand-hulikatti/club-roster/internal/roster"
)

// EventRepository handles persistence for events.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// The first placeholder is always the viewer id.
const eventSelect = `
	SELECT e.id, e.name, e.date, e.capacity, e.locked, e.created_at,
	       COUNT(CASE WHEN r.state = 0 THEN 1 END),
	       COUNT(CASE WHEN r.state = 1 THEN 1 END),
	       MAX(CASE WHEN r.user_id = ? THEN r.state END)
	FROM events e
	LEFT JOIN event_registrations r ON r.event_id = e.id`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (model.Event, error) {
	var (
		e               model.Event
		date, createdAt int64
		viewer          sql.NullInt64
	)
	err := row.Scan(
		&e.ID, &e.Name, &date, &e.Capacity, &e.Locked, &createdAt,
		&e.ConfirmedCount, &e.WaitlistedCount, &viewer,
	)
	if err != nil {
		return model.Event{}, err
	}
	e.Date = fromMicros(date)
	e.CreatedAt = fromMicros(createdAt)
	if viewer.Valid {
		s := model.RegistrationState(viewer.Int64)
		e.ViewerState = &s
	}
	return e, nil
}

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, e model.Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (id, name, date, capacity, locked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, micros(e.Date), e.Capacity, e.Locked, micros(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetByID returns a single event as seen by viewerID, or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id, viewerID string) (*model.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx,
		eventSelect+` WHERE e.id = ? GROUP BY e.id`,
		viewerID, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
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
		eventSelect+` WHERE e.date >= ? AND e.date < ? GROUP BY e.id ORDER BY e.date ASC`,
		viewerID, micros(from), micros(to),
	)
}

func (r *EventRepository) list(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM events ORDER BY date ASC`)
	if err != nil {
		return nil, fmt.Errorf("list event ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Update changes an event's name, date and capacity, then reconciles the
// roster against the new capacity.
func (r *EventRepository) Update(ctx context.Context, id, name string, date time.Time, capacity int) (roster.Result, error) {
	var res roster.Result
	err := withEventLock(ctx, r.db, id, func(tx *sql.Tx, _ model.Event) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE events SET name = ?, date = ?, capacity = ? WHERE id = ?`,
			name, micros(date), capacity, id,
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
	res, err := r.db.ExecContext(ctx, `UPDATE events SET locked = ? WHERE id = ?`, locked, id)
	if err != nil {
		return fmt.Errorf("set locked: %w", err)
	}
	return affected(res)
}

// Delete removes an event and, by cascade, its roster.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return affected(res)
}
