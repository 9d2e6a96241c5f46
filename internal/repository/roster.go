package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txRoster exposes one transaction to the reconciliation engine.
type txRoster struct {
	tx pgx.Tx
}

func (t txRoster) Registrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT event_id, user_id, comment, registered_at, state
		 FROM event_registrations
		 WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		var reg model.Registration
		var state int16
		if err := rows.Scan(&reg.EventID, &reg.UserID, &reg.Comment, &reg.RegisteredAt, &state); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		reg.State = model.RegistrationState(state)
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func (t txRoster) SetState(ctx context.Context, eventID, userID string, state model.RegistrationState) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE event_registrations SET state = $3 WHERE event_id = $1 AND user_id = $2`,
		eventID, userID, int16(state),
	)
	return err
}

// withEventLock runs fn inside a transaction holding a row lock on the event.
//
// SELECT … FOR UPDATE blocks any other transaction doing the same on this
// event until we COMMIT or ROLLBACK, so the read-count → write-row →
// reconcile sequence never interleaves with another request for the same
// event. Without it two concurrent registrations could both read the same
// confirmed count and both take the last seat, or two reconciliations could
// promote the same waitlisted row. fn receives the event's capacity, admin
// lock flag and date as read under the lock.
func withEventLock(ctx context.Context, db *pgxpool.Pool, eventID string, fn func(tx pgx.Tx, ev model.Event) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ev := model.Event{ID: eventID}
	err = tx.QueryRow(ctx,
		`SELECT capacity, locked, date FROM events WHERE id = $1 FOR UPDATE`,
		eventID,
	).Scan(&ev.Capacity, &ev.Locked, &ev.Date)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock event row: %w", err)
	}

	if err := fn(tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
