package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/club-roster/internal/auth"
	"github.com/Shivanand-hulikatti/club-roster/internal/database"
	"github.com/Shivanand-hulikatti/club-roster/internal/model"
	"github.com/Shivanand-hulikatti/club-roster/internal/repository/sqlite"
	"github.com/Shivanand-hulikatti/club-roster/internal/service"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	users  *service.UserService
	issuer *auth.Issuer
	admin  string
	member string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "roster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.MigrateSQLite(context.Background(), db, log))

	userRepo := sqlite.NewUserRepository(db)
	regs := sqlite.NewRegistrationRepository(db)
	events := service.NewEventService(sqlite.NewEventRepository(db), regs, userRepo, log)
	users := service.NewUserService(userRepo, log)
	issuer := auth.NewIssuer("test-secret")

	s := &testServer{
		t:      t,
		router: New(events, users, log).Router(issuer),
		users:  users,
		issuer: issuer,
	}
	s.admin = s.token(s.newUser("admin", true))
	s.member = s.token(s.newUser("member", false))
	return s
}

func (s *testServer) newUser(name string, admin bool) model.User {
	s.t.Helper()
	u, err := s.users.CreateUser(context.Background(), model.CreateUserRequest{
		Name: name, Email: name + "@club.test", IsAdmin: admin,
	})
	require.NoError(s.t, err)
	return *u
}

func (s *testServer) token(u model.User) string {
	s.t.Helper()
	tok, err := s.issuer.Mint(u, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createEvent(capacity int, date time.Time) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/events", s.admin, model.CreateEventRequest{
		Name: "Club night", Date: date, Capacity: capacity,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Event](s.t, rec).ID
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/events", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/events", "garbage", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/events", s.member, nil).Code)

	rec := s.do(http.MethodPost, "/events", s.member, model.CreateEventRequest{Name: "x", Date: time.Now(), Capacity: 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/users", s.member, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/users", s.admin, nil).Code)
}

func TestRegistrationFlow(t *testing.T) {
	s := newTestServer(t)
	event := s.createEvent(1, time.Now().AddDate(0, 0, 7))

	rec := s.do(http.MethodPost, "/events/"+event+"/registration", s.admin, model.RegisterRequest{Comment: "bringing snacks"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, model.Confirmed, decode[model.RegisterResponse](t, rec).State)

	rec = s.do(http.MethodPost, "/events/"+event+"/registration", s.member, model.RegisterRequest{})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `"waitlisted"`, string(mustField(t, rec, "state")))

	rec = s.do(http.MethodGet, "/events/"+event, s.member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	e := decode[model.Event](t, rec)
	assert.Equal(t, 1, e.ConfirmedCount)
	assert.Equal(t, 1, e.WaitlistedCount)
	require.NotNil(t, e.ViewerState)
	assert.Equal(t, model.Waitlisted, *e.ViewerState)

	// The admin leaves and the member moves up.
	rec = s.do(http.MethodDelete, "/events/"+event+"/registration", s.admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/events/"+event+"/registrations", s.member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	regs := decode[[]model.Registration](t, rec)
	require.Len(t, regs, 1)
	assert.Equal(t, model.Confirmed, regs[0].State)
	assert.Equal(t, "member", regs[0].UserName)

	rec = s.do(http.MethodPatch, "/events/"+event+"/registration", s.member, model.CommentRequest{Comment: "on my way"})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRegisterOnBehalf(t *testing.T) {
	s := newTestServer(t)
	event := s.createEvent(2, time.Now().AddDate(0, 0, 7))
	other := s.newUser("other", false)

	rec := s.do(http.MethodPost, "/events/"+event+"/registration", s.member, model.RegisterRequest{UserID: other.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/events/"+event+"/registration", s.admin, model.RegisterRequest{UserID: other.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, other.ID, decode[model.RegisterResponse](t, rec).UserID)

	rec = s.do(http.MethodDelete, "/events/"+event+"/registration?user_id="+other.ID, s.member, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodDelete, "/events/"+event+"/registration?user_id="+other.ID, s.admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodPost, "/events/"+event+"/registration", s.admin, model.RegisterRequest{UserID: "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLockedEvent(t *testing.T) {
	s := newTestServer(t)

	t.Run("admin lock", func(t *testing.T) {
		event := s.createEvent(5, time.Now().AddDate(0, 0, 7))
		rec := s.do(http.MethodPut, "/events/"+event+"/lock", s.admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		e := decode[model.Event](t, rec)
		assert.Equal(t, model.StatusLocked, e.Status)
		assert.True(t, e.Locked)

		rec = s.do(http.MethodPost, "/events/"+event+"/registration", s.member, model.RegisterRequest{})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, `{"error":"registration is closed"}`, rec.Body.String())

		require.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/events/"+event+"/lock", s.admin, nil).Code)
		rec = s.do(http.MethodPost, "/events/"+event+"/registration", s.member, model.RegisterRequest{})
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("past date", func(t *testing.T) {
		event := s.createEvent(5, time.Now().Add(-time.Hour))
		rec := s.do(http.MethodPost, "/events/"+event+"/registration", s.member, model.RegisterRequest{})
		assert.Equal(t, http.StatusConflict, rec.Code)
		rec = s.do(http.MethodDelete, "/events/"+event+"/registration", s.member, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = s.do(http.MethodGet, "/events/"+event, s.member, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `true`, string(mustField(t, rec, "locked")))
		assert.JSONEq(t, `"locked"`, string(mustField(t, rec, "status")))

		// Clearing the admin flag does not reopen a past event.
		rec = s.do(http.MethodDelete, "/events/"+event+"/lock", s.admin, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `true`, string(mustField(t, rec, "locked")))

		rec = s.do(http.MethodGet, "/events", s.member, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		for _, e := range decode[[]model.Event](t, rec) {
			if e.ID == event {
				assert.True(t, e.Locked)
				assert.Equal(t, model.StatusLocked, e.Status)
			}
		}
	})
}

func TestNotFoundMessages(t *testing.T) {
	s := newTestServer(t)
	event := s.createEvent(1, time.Now().AddDate(0, 0, 7))

	rec := s.do(http.MethodPost, "/events/missing/registration", s.member, model.RegisterRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"event not found"}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/events/"+event+"/registration", s.admin, model.RegisterRequest{UserID: "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"user not found"}`, rec.Body.String())

	rec = s.do(http.MethodPatch, "/events/"+event+"/registration", s.member, model.CommentRequest{Comment: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"registration not found"}`, rec.Body.String())
}

func TestUpdateEventCapacity(t *testing.T) {
	s := newTestServer(t)
	date := time.Now().AddDate(0, 0, 7).UTC().Truncate(time.Second)
	event := s.createEvent(0, date)

	require.Equal(t, http.StatusCreated,
		s.do(http.MethodPost, "/events/"+event+"/registration", s.member, model.RegisterRequest{}).Code)

	rec := s.do(http.MethodPut, "/events/"+event, s.admin, model.UpdateEventRequest{Name: "Club night", Date: date, Capacity: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	e := decode[model.Event](t, rec)
	assert.Equal(t, 1, e.ConfirmedCount)
	assert.Equal(t, 0, e.WaitlistedCount)

	rec = s.do(http.MethodPut, "/events/"+event, s.admin, model.UpdateEventRequest{Name: "", Date: date, Capacity: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/events/"+event, s.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/events/"+event, s.member, nil).Code)
}

func TestListEventsByMonth(t *testing.T) {
	s := newTestServer(t)
	s.createEvent(1, time.Date(2031, 5, 10, 18, 0, 0, 0, time.UTC))
	s.createEvent(1, time.Date(2031, 6, 10, 18, 0, 0, 0, time.UTC))

	rec := s.do(http.MethodGet, "/events?month=2031-05", s.member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Event](t, rec), 1)

	rec = s.do(http.MethodGet, "/events", s.member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Event](t, rec), 2)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/events?month=May", s.member, nil).Code)
}

func TestUsers(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/users", "", model.CreateUserRequest{Name: "New", Email: "new@club.test"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/users", "", model.CreateUserRequest{Name: "Dup", Email: "new@club.test"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/users", s.member, model.CreateUserRequest{Name: "Boss", Email: "boss@club.test", IsAdmin: true})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodPost, "/users", s.admin, model.CreateUserRequest{Name: "Boss", Email: "boss@club.test", IsAdmin: true})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, "/users/me", s.member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "member", decode[model.User](t, rec).Name)
}

func mustField(t *testing.T, rec *httptest.ResponseRecorder, key string) json.RawMessage {
	t.Helper()
	m := decode[map[string]json.RawMessage](t, rec)
	v, ok := m[key]
	require.True(t, ok, "missing %q in %s", key, rec.Body.String())
	return v
}
