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

// RegistrationRepository handles persistence for event rosters.
type RegistrationRepository struct {
	db *sql.DB
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *sql.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Register signs userID up for eventID at time at, upserting on the
// (event, user) pair, and returns the member's state after reconciliation.
// ErrLocked when the event is closed at time at.
func (r *RegistrationRepository) Register(ctx context.Context, eventID, userID, comment string, at time.Time) (model.RegistrationState, roster.Result, error) {
	var (
		state model.RegistrationState
		res   roster.Result
	)
	err := withEventLock(ctx, r.db, eventID, func(tx *sql.Tx, ev model.Event) error {
		if ev.IsLocked(at) {
			return repository.ErrLocked
		}

		var confirmed int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM event_registrations WHERE event_id = ? AND state = ?`,
			eventID, int(model.Confirmed),
		).Scan(&confirmed)
		if err != nil {
			return fmt.Errorf("count confirmed: %w", err)
		}

		initial := model.Waitlisted
		if confirmed < ev.Capacity {
			initial = model.Confirmed
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO event_registrations (event_id, user_id, comment, state, registered_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (event_id, user_id) DO UPDATE
			 SET comment = excluded.comment,
			     state = excluded.state,
			     registered_at = excluded.registered_at`,
			eventID, userID, comment, int(initial), micros(at),
		)
		if err != nil {
			return fmt.Errorf("upsert registration: %w", err)
		}

		res, err = roster.Reconcile(ctx, txRoster{tx}, eventID, ev.Capacity)
		if err != nil {
			return err
		}

		var final int
		err = tx.QueryRowContext(ctx,
			`SELECT state FROM event_registrations WHERE event_id = ? AND user_id = ?`,
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

// Unregister removes the registration if present and reconciles.
func (r *RegistrationRepository) Unregister(ctx context.Context, eventID, userID string, at time.Time) (roster.Result, error) {
	var res roster.Result
	err := withEventLock(ctx, r.db, eventID, func(tx *sql.Tx, ev model.Event) error {
		if ev.IsLocked(at) {
			return repository.ErrLocked
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM event_registrations WHERE event_id = ? AND user_id = ?`,
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
	return withEventLock(ctx, r.db, eventID, func(tx *sql.Tx, ev model.Event) error {
		if ev.IsLocked(at) {
			return repository.ErrLocked
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE event_registrations SET comment = ? WHERE event_id = ? AND user_id = ?`,
			comment, eventID, userID,
		)
		if err != nil {
			return fmt.Errorf("update comment: %w", err)
		}
		return affected(res)
	})
}

// Reconcile runs the reconciliation pass for one event on its own.
func (r *RegistrationRepository) Reconcile(ctx context.Context, eventID string) (roster.Result, error) {
	var res roster.Result
	err := withEventLock(ctx, r.db, eventID, func(tx *sql.Tx, ev model.Event) error {
		var err error
		res, err = roster.Reconcile(ctx, txRoster{tx}, eventID, ev.Capacity)
		return err
	})
	return res, err
}

const registrationSelect = `
	SELECT r.event_id, r.user_id, COALESCE(u.display_name, ''), r.comment, r.registered_at, r.state
	FROM event_registrations r
	LEFT JOIN users u ON u.id = r.user_id`

func scanRegistration(row scanner) (model.Registration, error) {
	var reg model.Registration
	var at int64
	var state int
	if err := row.Scan(&reg.EventID, &reg.UserID, &reg.UserName, &reg.Comment, &at, &state); err != nil {
		return model.Registration{}, err
	}
	reg.RegisteredAt = fromMicros(at)
	reg.State = model.RegistrationState(state)
	return reg, nil
}

// Get returns one registration or ErrNotFound.
func (r *RegistrationRepository) Get(ctx context.Context, eventID, userID string) (*model.Registration, error) {
	reg, err := scanRegistration(r.db.QueryRowContext(ctx,
		registrationSelect+` WHERE r.event_id = ? AND r.user_id = ?`,
		eventID, userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &reg, nil
}

// ListByEvent returns the roster for an event, confirmed members first, then
// by display name.
func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := r.db.QueryContext(ctx,
		registrationSelect+`
		WHERE r.event_id = ?
		ORDER BY r.state ASC, u.display_name ASC, r.registered_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}
