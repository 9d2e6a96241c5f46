// Package roster keeps an event's confirmed/waitlisted partition consistent
// with its capacity.
//
// After any mutation that can change the partition (register, unregister,
// capacity edit) the store calls Reconcile inside the same transaction.
// Reconcile computes the deficit of confirmed seats and either promotes the
// oldest waitlisted registrations or demotes the newest confirmed ones.
// Arrival timestamps are never touched, so the confirmed set is always the
// capacity earliest arrivals still on the roster.
package roster

import (
	"context"
	"fmt"
	"sort"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
)

// Roster is the transaction-scoped view of one event's registrations that
// Reconcile reads and writes.
type Roster interface {
	Registrations(ctx context.Context, eventID string) ([]model.Registration, error)
	SetState(ctx context.Context, eventID, userID string, state model.RegistrationState) error
}

// Flip is a single state change chosen by Plan.
type Flip struct {
	UserID string
	To     model.RegistrationState
}

// Result lists the users whose state changed.
type Result struct {
	Promoted []string
	Demoted  []string
}

// Changed reports whether any registration moved.
func (r Result) Changed() bool {
	return len(r.Promoted) > 0 || len(r.Demoted) > 0
}

// Plan returns the flips needed for regs to satisfy capacity. A negative
// capacity is treated as zero. regs may be in any order.
func Plan(capacity int, regs []model.Registration) []Flip {
	if capacity < 0 {
		capacity = 0
	}

	var confirmed, waitlisted []model.Registration
	for _, r := range regs {
		if r.State == model.Confirmed {
			confirmed = append(confirmed, r)
		} else {
			waitlisted = append(waitlisted, r)
		}
	}

	deficit := capacity - len(confirmed)
	switch {
	case deficit > 0:
		sortByArrival(waitlisted)
		n := min(deficit, len(waitlisted))
		flips := make([]Flip, 0, n)
		for _, r := range waitlisted[:n] {
			flips = append(flips, Flip{UserID: r.UserID, To: model.Confirmed})
		}
		return flips
	case deficit < 0:
		sortByArrival(confirmed)
		n := min(-deficit, len(confirmed))
		flips := make([]Flip, 0, n)
		for i := len(confirmed) - 1; i >= len(confirmed)-n; i-- {
			flips = append(flips, Flip{UserID: confirmed[i].UserID, To: model.Waitlisted})
		}
		return flips
	default:
		return nil
	}
}

// sortByArrival orders oldest first; same-instant arrivals fall back to user id.
func sortByArrival(regs []model.Registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		if !regs[i].RegisteredAt.Equal(regs[j].RegisteredAt) {
			return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
		}
		return regs[i].UserID < regs[j].UserID
	})
}

// Reconcile restores the capacity invariant for one event. r must be bound to
// the same transaction as the triggering mutation.
func Reconcile(ctx context.Context, r Roster, eventID string, capacity int) (Result, error) {
	regs, err := r.Registrations(ctx, eventID)
	if err != nil {
		return Result{}, fmt.Errorf("load roster: %w", err)
	}

	var res Result
	for _, f := range Plan(capacity, regs) {
		if err := r.SetState(ctx, eventID, f.UserID, f.To); err != nil {
			return Result{}, fmt.Errorf("set state for %s: %w", f.UserID, err)
		}
		if f.To == model.Confirmed {
			res.Promoted = append(res.Promoted, f.UserID)
		} else {
			res.Demoted = append(res.Demoted, f.UserID)
		}
	}
	return res, nil
}
