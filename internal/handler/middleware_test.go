package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
)

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) Parse(token string) (model.Viewer, error) {
	args := m.Called(token)
	return args.Get(0).(model.Viewer), args.Error(1)
}

func echoViewer(w http.ResponseWriter, r *http.Request) {
	v, ok := ViewerFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": v.UserID, "admin": v.IsAdmin})
}

func TestIdentify(t *testing.T) {
	tokens := &mockTokens{}
	tokens.On("Parse", "good").Return(model.Viewer{UserID: "u-1", IsAdmin: true}, nil)
	tokens.On("Parse", "bad").Return(model.Viewer{}, errors.New("expired"))

	h := Identify(tokens)(http.HandlerFunc(echoViewer))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"anonymous", "", http.StatusNoContent},
		{"valid bearer", "Bearer good", http.StatusOK},
		{"rejected bearer", "Bearer bad", http.StatusUnauthorized},
		{"wrong scheme", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	tokens.AssertNumberOfCalls(t, "Parse", 2)
	tokens.AssertExpectations(t)
}

func TestRequireAdmin(t *testing.T) {
	tokens := &mockTokens{}
	tokens.On("Parse", "admin").Return(model.Viewer{UserID: "a", IsAdmin: true}, nil)
	tokens.On("Parse", "member").Return(model.Viewer{UserID: "m"}, nil)

	h := Identify(tokens)(RequireAdmin(http.HandlerFunc(echoViewer)))

	for token, want := range map[string]int{
		"":       http.StatusUnauthorized,
		"member": http.StatusForbidden,
		"admin":  http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "token %q", token)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight reached the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubject(t *testing.T) {
	member := model.Viewer{UserID: "m"}
	admin := model.Viewer{UserID: "a", IsAdmin: true}

	got, err := subject(member, "")
	assert.NoError(t, err)
	assert.Equal(t, "m", got)

	got, err = subject(member, "m")
	assert.NoError(t, err)
	assert.Equal(t, "m", got)

	_, err = subject(member, "other")
	assert.ErrorIs(t, err, ErrForbidden)

	got, err = subject(admin, "other")
	assert.NoError(t, err)
	assert.Equal(t, "other", got)
}
