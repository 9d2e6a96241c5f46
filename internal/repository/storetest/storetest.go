// Package storetest is a behavioural test suite shared by every roster store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
	"github.com/Shivanand-hulikatti/club-roster/internal/repository"
	"github.com/Shivanand-hulikatti/club-roster/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Stores bundles one implementation's repositories, all backed by a fresh,
// migrated database.
type Stores struct {
	Events        service.EventStore
	Registrations service.RegistrationStore
	Users         service.UserStore
}

// Run executes the suite. open is called once per subtest.
func Run(t *testing.T, open func(t *testing.T) Stores) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Stores)
	}{
		{"EventLifecycle", testEventLifecycle},
		{"ListBetween", testListBetween},
		{"RegisterMissingEvent", testRegisterMissingEvent},
		{"FIFOPromotion", testFIFOPromotion},
		{"LIFODemotion", testLIFODemotion},
		{"CapacityIncreasePromotes", testCapacityIncreasePromotes},
		{"ZeroCapacity", testZeroCapacity},
		{"IdempotentReconcile", testIdempotentReconcile},
		{"ReRegistrationUpserts", testReRegistrationUpserts},
		{"UnregisterAbsent", testUnregisterAbsent},
		{"UpdateCommentOnly", testUpdateCommentOnly},
		{"ListOrdering", testListOrdering},
		{"ViewerState", testViewerState},
		{"CapacityInvariant", testCapacityInvariant},
		{"Users", testUsers},
		{"LockedRejected", testLockedRejected},
		{"FarFutureDate", testFarFutureDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

var base = time.Date(2030, 3, 14, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func createEvent(t *testing.T, s Stores, capacity int) string {
	t.Helper()
	e := model.Event{
		ID:        uuid.NewString(),
		Name:      "Club night",
		Date:      base.AddDate(0, 1, 0),
		Capacity:  capacity,
		CreatedAt: base,
	}
	require.NoError(t, s.Events.Create(context.Background(), e))
	return e.ID
}

func createUser(t *testing.T, s Stores, name string) string {
	t.Helper()
	u := model.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     fmt.Sprintf("%s-%s@club.test", name, uuid.NewString()[:8]),
		CreatedAt: base,
	}
	require.NoError(t, s.Users.Create(context.Background(), u))
	return u.ID
}

func register(t *testing.T, s Stores, eventID, userID string, sec int) model.RegistrationState {
	t.Helper()
	state, _, err := s.Registrations.Register(context.Background(), eventID, userID, "", at(sec))
	require.NoError(t, err)
	return state
}

func states(t *testing.T, s Stores, eventID string) map[string]model.RegistrationState {
	t.Helper()
	regs, err := s.Registrations.ListByEvent(context.Background(), eventID)
	require.NoError(t, err)
	out := make(map[string]model.RegistrationState, len(regs))
	for _, r := range regs {
		out[r.UserID] = r.State
	}
	return out
}

func testEventLifecycle(t *testing.T, s Stores) {
	ctx := context.Background()
	id := createEvent(t, s, 3)

	e, err := s.Events.GetByID(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, "Club night", e.Name)
	assert.Equal(t, 3, e.Capacity)
	assert.False(t, e.Locked)
	assert.True(t, e.Date.Equal(base.AddDate(0, 1, 0)))
	assert.Zero(t, e.ConfirmedCount)
	assert.Nil(t, e.ViewerState)

	require.NoError(t, s.Events.SetLocked(ctx, id, true))
	e, err = s.Events.GetByID(ctx, id, "")
	require.NoError(t, err)
	assert.True(t, e.Locked)

	_, err = s.Events.Update(ctx, id, "Renamed", base.AddDate(0, 2, 0), 5)
	require.NoError(t, err)
	e, err = s.Events.GetByID(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", e.Name)
	assert.Equal(t, 5, e.Capacity)

	ids, err := s.Events.IDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	require.NoError(t, s.Events.Delete(ctx, id))
	_, err = s.Events.GetByID(ctx, id, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, s.Events.Delete(ctx, id), repository.ErrNotFound)
	assert.ErrorIs(t, s.Events.SetLocked(ctx, id, false), repository.ErrNotFound)
	_, err = s.Events.Update(ctx, id, "x", base, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testListBetween(t *testing.T, s Stores) {
	ctx := context.Background()
	mk := func(date time.Time) string {
		e := model.Event{ID: uuid.NewString(), Name: "e", Date: date, Capacity: 1, CreatedAt: base}
		require.NoError(t, s.Events.Create(ctx, e))
		return e.ID
	}
	march := mk(time.Date(2030, 3, 31, 20, 0, 0, 0, time.UTC))
	aprilFirst := mk(time.Date(2030, 4, 1, 0, 0, 0, 0, time.UTC))
	aprilLate := mk(time.Date(2030, 4, 20, 18, 0, 0, 0, time.UTC))
	mk(time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC))

	from := time.Date(2030, 4, 1, 0, 0, 0, 0, time.UTC)
	events, err := s.Events.ListBetween(ctx, from, from.AddDate(0, 1, 0), "")
	require.NoError(t, err)

	var ids []string
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{aprilFirst, aprilLate}, ids)

	all, err := s.Events.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, march, all[0].ID)
}

func testRegisterMissingEvent(t *testing.T, s Stores) {
	user := createUser(t, s, "ann")
	_, _, err := s.Registrations.Register(context.Background(), uuid.NewString(), user, "", at(0))
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.Registrations.Unregister(context.Background(), uuid.NewString(), user, at(1))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testFIFOPromotion(t *testing.T, s Stores) {
	ctx := context.Background()
	event := createEvent(t, s, 1)
	r1, r2, r3 := createUser(t, s, "r1"), createUser(t, s, "r2"), createUser(t, s, "r3")

	assert.Equal(t, model.Confirmed, register(t, s, event, r1, 0))
	assert.Equal(t, model.Waitlisted, register(t, s, event, r2, 1))
	assert.Equal(t, model.Waitlisted, register(t, s, event, r3, 2))

	res, err := s.Registrations.Unregister(ctx, event, r1, at(3))
	require.NoError(t, err)
	assert.Equal(t, []string{r2}, res.Promoted)

	got := states(t, s, event)
	assert.Len(t, got, 2)
	assert.Equal(t, model.Confirmed, got[r2])
	assert.Equal(t, model.Waitlisted, got[r3])
}

func testLIFODemotion(t *testing.T, s Stores) {
	ctx := context.Background()
	event := createEvent(t, s, 2)
	r1, r2 := createUser(t, s, "r1"), createUser(t, s, "r2")
	register(t, s, event, r1, 0)
	register(t, s, event, r2, 1)

	before, err := s.Registrations.Get(ctx, event, r2)
	require.NoError(t, err)

	res, err := s.Registrations.Reconcile(ctx, event)
	require.NoError(t, err)
	assert.False(t, res.Changed())

	res, err = s.Events.Update(ctx, event, "Club night", base.AddDate(0, 1, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{r2}, res.Demoted)

	got := states(t, s, event)
	assert.Equal(t, model.Confirmed, got[r1])
	assert.Equal(t, model.Waitlisted, got[r2])

	after, err := s.Registrations.Get(ctx, event, r2)
	require.NoError(t, err)
	assert.True(t, before.RegisteredAt.Equal(after.RegisteredAt), "demotion keeps arrival time")
	assert.Equal(t, before.Comment, after.Comment)
}

func testCapacityIncreasePromotes(t *testing.T, s Stores) {
	event := createEvent(t, s, 1)
	var users []string
	for i := 0; i < 4; i++ {
		u := createUser(t, s, fmt.Sprintf("u%d", i))
		register(t, s, event, u, i)
		users = append(users, u)
	}

	res, err := s.Events.Update(context.Background(), event, "Club night", base.AddDate(0, 1, 0), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{users[1], users[2]}, res.Promoted)

	got := states(t, s, event)
	assert.Equal(t, model.Waitlisted, got[users[3]])
}

func testZeroCapacity(t *testing.T, s Stores) {
	event := createEvent(t, s, 0)
	for i := 0; i < 3; i++ {
		u := createUser(t, s, fmt.Sprintf("z%d", i))
		assert.Equal(t, model.Waitlisted, register(t, s, event, u, i))
	}

	e, err := s.Events.GetByID(context.Background(), event, "")
	require.NoError(t, err)
	assert.Zero(t, e.ConfirmedCount)
	assert.Equal(t, 3, e.WaitlistedCount)
}

func testIdempotentReconcile(t *testing.T, s Stores) {
	ctx := context.Background()
	event := createEvent(t, s, 2)
	for i := 0; i < 5; i++ {
		register(t, s, event, createUser(t, s, fmt.Sprintf("i%d", i)), i)
	}
	before := states(t, s, event)

	for i := 0; i < 2; i++ {
		res, err := s.Registrations.Reconcile(ctx, event)
		require.NoError(t, err)
		assert.False(t, res.Changed())
	}
	assert.Equal(t, before, states(t, s, event))

	_, err := s.Registrations.Reconcile(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testReRegistrationUpserts(t *testing.T, s Stores) {
	ctx := context.Background()
	event := createEvent(t, s, 1)
	early, late := createUser(t, s, "early"), createUser(t, s, "late")

	_, _, err := s.Registrations.Register(ctx, event, early, "first", at(0))
	require.NoError(t, err)
	register(t, s, event, late, 1)

	state, res, err := s.Registrations.Register(ctx, event, early, "second", at(10))
	require.NoError(t, err)

	regs, err := s.Registrations.ListByEvent(ctx, event)
	require.NoError(t, err)
	assert.Len(t, regs, 2, "no duplicate row")

	// The refreshed timestamp puts early behind late.
	assert.Equal(t, model.Waitlisted, state)
	assert.Equal(t, []string{late}, res.Promoted)

	got, err := s.Registrations.Get(ctx, event, early)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Comment)
	assert.True(t, got.RegisteredAt.Equal(at(10)))

	// Alone on the roster, re-registering keeps the seat.
	solo := createEvent(t, s, 1)
	register(t, s, solo, early, 0)
	assert.Equal(t, model.Confirmed, register(t, s, solo, early, 5))
}

func testUnregisterAbsent(t *testing.T, s Stores) {
	event := createEvent(t, s, 1)
	res, err := s.Registrations.Unregister(context.Background(), event, uuid.NewString(), at(0))
	require.NoError(t, err)
	assert.False(t, res.Changed())
}

func testUpdateCommentOnly(t *testing.T, s Stores) {
	ctx := context.Background()
	event := createEvent(t, s, 0)
	u := createUser(t, s, "c")
	_, _, err := s.Registrations.Register(ctx, event, u, "old", at(3))
	require.NoError(t, err)

	require.NoError(t, s.Registrations.UpdateComment(ctx, event, u, "new", at(4)))

	got, err := s.Registrations.Get(ctx, event, u)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Comment)
	assert.Equal(t, model.Waitlisted, got.State)
	assert.True(t, got.RegisteredAt.Equal(at(3)))

	assert.ErrorIs(t, s.Registrations.UpdateComment(ctx, event, uuid.NewString(), "x", at(5)), repository.ErrNotFound)
	_, err = s.Registrations.Get(ctx, event, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func testListOrdering(t *testing.T, s Stores) {
	event := createEvent(t, s, 2)
	zoe := createUser(t, s, "zoe")
	adam := createUser(t, s, "adam")
	mia := createUser(t, s, "mia")
	bob := createUser(t, s, "bob")
	register(t, s, event, zoe, 0)
	register(t, s, event, adam, 1)
	register(t, s, event, mia, 2)
	register(t, s, event, bob, 3)

	regs, err := s.Registrations.ListByEvent(context.Background(), event)
	require.NoError(t, err)

	var names []string
	for _, r := range regs {
		names = append(names, r.UserName)
	}
	assert.Equal(t, []string{"adam", "zoe", "bob", "mia"}, names)
	assert.Equal(t, model.Confirmed, regs[1].State)
	assert.Equal(t, model.Waitlisted, regs[2].State)
}

func testViewerState(t *testing.T, s Stores) {
	ctx := context.Background()
	event := createEvent(t, s, 1)
	in, out, stranger := createUser(t, s, "in"), createUser(t, s, "out"), createUser(t, s, "x")
	register(t, s, event, in, 0)
	register(t, s, event, out, 1)

	e, err := s.Events.GetByID(ctx, event, in)
	require.NoError(t, err)
	require.NotNil(t, e.ViewerState)
	assert.Equal(t, model.Confirmed, *e.ViewerState)
	assert.Equal(t, 1, e.ConfirmedCount)
	assert.Equal(t, 1, e.WaitlistedCount)

	e, err = s.Events.GetByID(ctx, event, out)
	require.NoError(t, err)
	require.NotNil(t, e.ViewerState)
	assert.Equal(t, model.Waitlisted, *e.ViewerState)

	events, err := s.Events.List(ctx, stranger)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].ViewerState)
}

// testCapacityInvariant drives a random sequence of operations and checks
// after each one that the confirmed set is exactly the capacity earliest
// arrivals still registered.
func testCapacityInvariant(t *testing.T, s Stores) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	event := createEvent(t, s, 3)

	users := make([]string, 8)
	for i := range users {
		users[i] = createUser(t, s, fmt.Sprintf("p%d", i))
	}

	capacity := 3
	arrivals := map[string]time.Time{}
	clock := 0

	for step := 0; step < 120; step++ {
		u := users[rng.Intn(len(users))]
		switch op := rng.Intn(10); {
		case op < 5:
			clock++
			_, _, err := s.Registrations.Register(ctx, event, u, "", at(clock))
			require.NoError(t, err)
			arrivals[u] = at(clock)
		case op < 8:
			_, err := s.Registrations.Unregister(ctx, event, u, at(clock))
			require.NoError(t, err)
			delete(arrivals, u)
		default:
			capacity = rng.Intn(6)
			_, err := s.Events.Update(ctx, event, "Club night", base.AddDate(0, 1, 0), capacity)
			require.NoError(t, err)
		}

		ordered := make([]string, 0, len(arrivals))
		for id := range arrivals {
			ordered = append(ordered, id)
		}
		sort.Slice(ordered, func(i, j int) bool { return arrivals[ordered[i]].Before(arrivals[ordered[j]]) })

		want := map[string]model.RegistrationState{}
		for i, id := range ordered {
			if i < capacity {
				want[id] = model.Confirmed
			} else {
				want[id] = model.Waitlisted
			}
		}
		require.Equal(t, want, states(t, s, event), "step %d", step)

		e, err := s.Events.GetByID(ctx, event, "")
		require.NoError(t, err)
		require.Equal(t, min(capacity, len(arrivals)), e.ConfirmedCount, "step %d", step)
		require.LessOrEqual(t, e.ConfirmedCount, e.Capacity)
	}
}

func testUsers(t *testing.T, s Stores) {
	ctx := context.Background()
	u := model.User{ID: uuid.NewString(), Name: "Ada", Email: "ada@club.test", IsAdmin: true, CreatedAt: base}
	require.NoError(t, s.Users.Create(ctx, u))

	dup := u
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, s.Users.Create(ctx, dup), repository.ErrAlreadyExists)

	got, err := s.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.True(t, got.IsAdmin)
	assert.True(t, got.CreatedAt.Equal(base))

	_, err = s.Users.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	all, err := s.Users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testLockedRejected(t *testing.T, s Stores) {
	ctx := context.Background()
	event := createEvent(t, s, 1)
	in, out := createUser(t, s, "in"), createUser(t, s, "out")
	register(t, s, event, in, 0)
	before := states(t, s, event)

	check := func(t *testing.T, when time.Time) {
		t.Helper()
		_, _, err := s.Registrations.Register(ctx, event, out, "", when)
		assert.ErrorIs(t, err, repository.ErrLocked)
		_, err = s.Registrations.Unregister(ctx, event, in, when)
		assert.ErrorIs(t, err, repository.ErrLocked)
		assert.ErrorIs(t, s.Registrations.UpdateComment(ctx, event, in, "late", when), repository.ErrLocked)
		assert.Equal(t, before, states(t, s, event))
	}

	t.Run("admin lock", func(t *testing.T) {
		require.NoError(t, s.Events.SetLocked(ctx, event, true))
		check(t, at(10))
		require.NoError(t, s.Events.SetLocked(ctx, event, false))
	})

	t.Run("date passed", func(t *testing.T) {
		check(t, base.AddDate(0, 1, 1))
	})

	// Reconcile is not a member action and still runs.
	_, err := s.Registrations.Reconcile(ctx, event)
	require.NoError(t, err)
}

func testFarFutureDate(t *testing.T, s Stores) {
	ctx := context.Background()
	for _, date := range []time.Time{
		time.Date(2300, 6, 1, 18, 0, 0, 0, time.UTC),
		time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
	} {
		e := model.Event{ID: uuid.NewString(), Name: "Far", Date: date, Capacity: 1, CreatedAt: base}
		require.NoError(t, s.Events.Create(ctx, e))

		got, err := s.Events.GetByID(ctx, e.ID, "")
		require.NoError(t, err)
		assert.True(t, got.Date.Equal(date), "stored %s, read back %s", date, got.Date)
		assert.False(t, got.IsLocked(base))

		from := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
		listed, err := s.Events.ListBetween(ctx, from, from.AddDate(0, 1, 0), "")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, e.ID, listed[0].ID)

		u := createUser(t, s, "far")
		state, _, err := s.Registrations.Register(ctx, e.ID, u, "", at(0))
		require.NoError(t, err)
		assert.Equal(t, model.Confirmed, state)
	}
}
