// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
	"github.com/Shivanand-hulikatti/club-roster/internal/repository"
	"github.com/Shivanand-hulikatti/club-roster/internal/service"
)

// Handler holds all HTTP handlers for the roster API.
type Handler struct {
	events *service.EventService
	users  *service.UserService
	log    *slog.Logger
}

// New constructs a Handler.
func New(events *service.EventService, users *service.UserService, log *slog.Logger) *Handler {
	return &Handler{events: events, users: users, log: log}
}

// Router builds the chi router with the full middleware stack.
func (h *Handler) Router(tokens TokenParser) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(h.log))
	r.Use(CORS)
	r.Use(Identify(tokens))

	r.Get("/health", HealthCheck)

	r.Post("/users", h.CreateUser)
	r.Group(func(r chi.Router) {
		r.Use(RequireViewer)
		r.Get("/users/me", h.Me)
		r.With(RequireAdmin).Get("/users", h.ListUsers)
	})

	r.Route("/events", func(r chi.Router) {
		r.Use(RequireViewer)
		r.Get("/", h.ListEvents)
		r.With(RequireAdmin).Post("/", h.CreateEvent)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetEvent)
			r.Get("/registrations", h.ListRegistrations)
			r.Post("/registration", h.Register)
			r.Patch("/registration", h.UpdateComment)
			r.Delete("/registration", h.Unregister)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Put("/", h.UpdateEvent)
				r.Delete("/", h.DeleteEvent)
				r.Put("/lock", h.Lock)
				r.Delete("/lock", h.Unlock)
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// fail maps a service error onto a status code. Unexpected errors are logged
// and hidden from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "you may only act on your own registration")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, notFoundMessage(err))
	case errors.Is(err, service.ErrLocked):
		writeError(w, http.StatusConflict, service.ErrLocked.Error())
	case errors.Is(err, service.ErrEmailTaken):
		writeError(w, http.StatusConflict, service.ErrEmailTaken.Error())
	case errors.Is(err, repository.ErrAlreadyExists):
		writeError(w, http.StatusConflict, repository.ErrAlreadyExists.Error())
	default:
		h.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimiddleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// notFoundMessage names the missing resource without the wrapping context.
func notFoundMessage(err error) string {
	for _, kind := range []error{
		service.ErrEventNotFound,
		service.ErrUserNotFound,
		service.ErrRegistrationNotFound,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return repository.ErrNotFound.Error()
}

// subject resolves which member a roster request acts on. Only admins may
// name someone other than themselves.
func subject(v model.Viewer, userID string) (string, error) {
	if userID == "" || userID == v.UserID {
		return v.UserID, nil
	}
	if !v.IsAdmin {
		return "", ErrForbidden
	}
	return userID, nil
}

// viewer is only called behind RequireViewer.
func viewer(r *http.Request) model.Viewer {
	v, _ := ViewerFrom(r.Context())
	return v
}

// CreateEvent handles POST /events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.events.CreateEvent(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
// With ?month=YYYY-MM only that calendar month is returned.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	v := viewer(r)

	var (
		events []model.Event
		err    error
	)
	if m := r.URL.Query().Get("month"); m != "" {
		month, perr := time.Parse("2006-01", m)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "month must be formatted as YYYY-MM")
			return
		}
		events, err = h.events.ListMonth(r.Context(), month.Year(), month.Month(), v.UserID)
	} else {
		events, err = h.events.ListEvents(r.Context(), v.UserID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetEvent(r.Context(), chi.URLParam(r, "id"), viewer(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// UpdateEvent handles PUT /events/{id}
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.events.UpdateEvent(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /events/{id}
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.events.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Lock handles PUT /events/{id}/lock
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, true)
}

// Unlock handles DELETE /events/{id}/lock
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, false)
}

func (h *Handler) setLocked(w http.ResponseWriter, r *http.Request, locked bool) {
	id := chi.URLParam(r, "id")
	if err := h.events.SetLocked(r.Context(), id, locked); err != nil {
		h.fail(w, r, err)
		return
	}
	event, err := h.events.GetEvent(r.Context(), id, viewer(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Register handles POST /events/{id}/registration
// The response says whether the member was confirmed or waitlisted.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	userID, err := subject(viewer(r), req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	state, err := h.events.Register(r.Context(), id, userID, req.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, model.RegisterResponse{EventID: id, UserID: userID, State: state})
}

// UpdateComment handles PATCH /events/{id}/registration
func (h *Handler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	var req model.CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	userID, err := subject(viewer(r), req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.events.UpdateComment(r.Context(), chi.URLParam(r, "id"), userID, req.Comment); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unregister handles DELETE /events/{id}/registration
func (h *Handler) Unregister(w http.ResponseWriter, r *http.Request) {
	userID, err := subject(viewer(r), r.URL.Query().Get("user_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.events.Unregister(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRegistrations handles GET /events/{id}/registrations
// Confirmed members come first, then the waitlist.
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.events.ListRegistrations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// CreateUser handles POST /users
// Anyone may sign up as a member; creating an admin takes an admin token.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.IsAdmin {
		if v, ok := ViewerFrom(r.Context()); !ok || !v.IsAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
	}

	u, err := h.users.CreateUser(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// Me handles GET /users/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetUser(r.Context(), viewer(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ListUsers handles GET /users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
