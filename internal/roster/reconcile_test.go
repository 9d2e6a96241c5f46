package roster

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 1, 18, 0, 0, 0, time.UTC)

func reg(user string, offset int, state model.RegistrationState) model.Registration {
	return model.Registration{
		EventID:      "e1",
		UserID:       user,
		Comment:      "comment " + user,
		RegisteredAt: t0.Add(time.Duration(offset) * time.Second),
		State:        state,
	}
}

// memRoster is an in-memory Roster keyed by user id.
type memRoster struct {
	rows    map[string]model.Registration
	writes  int
	failFor string
}

func newMemRoster(regs ...model.Registration) *memRoster {
	m := &memRoster{rows: make(map[string]model.Registration)}
	for _, r := range regs {
		m.rows[r.UserID] = r
	}
	return m
}

func (m *memRoster) Registrations(_ context.Context, _ string) ([]model.Registration, error) {
	out := make([]model.Registration, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memRoster) SetState(_ context.Context, _, userID string, state model.RegistrationState) error {
	if userID == m.failFor {
		return errors.New("disk full")
	}
	r := m.rows[userID]
	r.State = state
	m.rows[userID] = r
	m.writes++
	return nil
}

func (m *memRoster) confirmed() []string {
	var ids []string
	for _, r := range m.rows {
		if r.State == model.Confirmed {
			ids = append(ids, r.UserID)
		}
	}
	sort.Strings(ids)
	return ids
}

func TestPlan_Balanced(t *testing.T) {
	regs := []model.Registration{
		reg("a", 0, model.Confirmed),
		reg("b", 1, model.Waitlisted),
	}
	assert.Empty(t, Plan(1, regs))
	assert.Empty(t, Plan(0, nil))
}

func TestPlan_PromotesOldestWaitlistedFirst(t *testing.T) {
	regs := []model.Registration{
		reg("late", 30, model.Waitlisted),
		reg("early", 10, model.Waitlisted),
		reg("mid", 20, model.Waitlisted),
		reg("in", 0, model.Confirmed),
	}

	flips := Plan(3, regs)

	require.Len(t, flips, 2)
	assert.Equal(t, Flip{UserID: "early", To: model.Confirmed}, flips[0])
	assert.Equal(t, Flip{UserID: "mid", To: model.Confirmed}, flips[1])
}

func TestPlan_DemotesNewestConfirmedFirst(t *testing.T) {
	regs := []model.Registration{
		reg("r1", 0, model.Confirmed),
		reg("r3", 2, model.Confirmed),
		reg("r2", 1, model.Confirmed),
	}

	flips := Plan(1, regs)

	require.Len(t, flips, 2)
	assert.Equal(t, Flip{UserID: "r3", To: model.Waitlisted}, flips[0])
	assert.Equal(t, Flip{UserID: "r2", To: model.Waitlisted}, flips[1])
}

func TestPlan_PromotionCappedByWaitlist(t *testing.T) {
	regs := []model.Registration{reg("a", 0, model.Waitlisted)}
	flips := Plan(10, regs)
	assert.Equal(t, []Flip{{UserID: "a", To: model.Confirmed}}, flips)
}

func TestPlan_ZeroAndNegativeCapacity(t *testing.T) {
	regs := []model.Registration{
		reg("a", 0, model.Confirmed),
		reg("b", 1, model.Confirmed),
	}
	assert.Len(t, Plan(0, regs), 2)
	assert.Len(t, Plan(-3, regs), 2)
}

func TestPlan_TiesBrokenByUserID(t *testing.T) {
	regs := []model.Registration{
		reg("zed", 0, model.Waitlisted),
		reg("amy", 0, model.Waitlisted),
	}
	flips := Plan(1, regs)
	require.Len(t, flips, 1)
	assert.Equal(t, "amy", flips[0].UserID)

	regs = []model.Registration{
		reg("zed", 0, model.Confirmed),
		reg("amy", 0, model.Confirmed),
	}
	flips = Plan(1, regs)
	require.Len(t, flips, 1)
	assert.Equal(t, "zed", flips[0].UserID)
}

func TestReconcile_FIFOAfterUnregister(t *testing.T) {
	m := newMemRoster(
		reg("r2", 1, model.Waitlisted),
		reg("r3", 2, model.Waitlisted),
	)

	res, err := Reconcile(context.Background(), m, "e1", 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, res.Promoted)
	assert.Empty(t, res.Demoted)
	assert.Equal(t, []string{"r2"}, m.confirmed())
}

func TestReconcile_LIFOOnCapacityCut(t *testing.T) {
	m := newMemRoster(
		reg("r1", 0, model.Confirmed),
		reg("r2", 1, model.Confirmed),
	)

	res, err := Reconcile(context.Background(), m, "e1", 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, res.Demoted)
	assert.Equal(t, []string{"r1"}, m.confirmed())
}

func TestReconcile_OnlyStateChanges(t *testing.T) {
	before := reg("r1", 5, model.Waitlisted)
	m := newMemRoster(before)

	_, err := Reconcile(context.Background(), m, "e1", 1)
	require.NoError(t, err)

	after := m.rows["r1"]
	assert.Equal(t, model.Confirmed, after.State)
	assert.Equal(t, before.Comment, after.Comment)
	assert.True(t, before.RegisteredAt.Equal(after.RegisteredAt))
}

func TestReconcile_Idempotent(t *testing.T) {
	m := newMemRoster(
		reg("a", 0, model.Waitlisted),
		reg("b", 1, model.Confirmed),
		reg("c", 2, model.Confirmed),
		reg("d", 3, model.Waitlisted),
	)

	first, err := Reconcile(context.Background(), m, "e1", 2)
	require.NoError(t, err)
	assert.True(t, first.Changed())
	writes := m.writes

	second, err := Reconcile(context.Background(), m, "e1", 2)
	require.NoError(t, err)
	assert.False(t, second.Changed())
	assert.Equal(t, writes, m.writes)
}

func TestReconcile_ConfirmedCountMatchesCapacity(t *testing.T) {
	// Alternating partition, not one the engine would produce.
	users := []string{"u0", "u1", "u2", "u3", "u4"}
	for capacity := 0; capacity <= len(users)+1; capacity++ {
		m := newMemRoster()
		for i, u := range users {
			state := model.Waitlisted
			if i%2 == 1 {
				state = model.Confirmed
			}
			m.rows[u] = reg(u, i, state)
		}

		_, err := Reconcile(context.Background(), m, "e1", capacity)
		require.NoError(t, err)

		assert.Len(t, m.confirmed(), min(capacity, len(users)), "capacity %d", capacity)
	}
}

func TestReconcile_PropagatesWriteError(t *testing.T) {
	m := newMemRoster(reg("a", 0, model.Waitlisted))
	m.failFor = "a"

	_, err := Reconcile(context.Background(), m, "e1", 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
