// Package sqlite implements the roster store on SQLite for single-process
// deployments. It mirrors the PostgreSQL repositories method for method.
//
// Timestamps are stored as unix microseconds, matching the precision of a
// PostgreSQL timestamptz. The connection pool opened by
// database.OpenSQLite holds a single connection and begins transactions
// IMMEDIATE, which takes the write lock up front and serialises every
// mutation + reconciliation sequence.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
	"github.com/Shivanand-hulikatti/club-roster/internal/repository"
)

func micros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(n int64) time.Time {
	return time.UnixMicro(n).UTC()
}

type txRoster struct {
	tx *sql.Tx
}

func (t txRoster) Registrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT event_id, user_id, comment, registered_at, state
		 FROM event_registrations
		 WHERE event_id = ?`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		var reg model.Registration
		var at int64
		var state int
		if err := rows.Scan(&reg.EventID, &reg.UserID, &reg.Comment, &at, &state); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		reg.RegisteredAt = fromMicros(at)
		reg.State = model.RegistrationState(state)
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func (t txRoster) SetState(ctx context.Context, eventID, userID string, state model.RegistrationState) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE event_registrations SET state = ? WHERE event_id = ? AND user_id = ?`,
		int(state), eventID, userID,
	)
	return err
}

// withEventLock runs fn in a write transaction after loading the event's
// capacity, admin lock flag and date. ErrNotFound when the event does not
// exist.
func withEventLock(ctx context.Context, db *sql.DB, eventID string, fn func(tx *sql.Tx, ev model.Event) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ev := model.Event{ID: eventID}
	var date int64
	err = tx.QueryRowContext(ctx,
		`SELECT capacity, locked, date FROM events WHERE id = ?`,
		eventID,
	).Scan(&ev.Capacity, &ev.Locked, &date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("load event: %w", err)
	}

	ev.Date = fromMicros(date)

	if err := fn(tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
