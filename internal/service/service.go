// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the roster store.
//
// Every operation that can change an event's roster takes the event's key in
// a roster.Locker, re-reads the event, checks it is still open and only then
// calls the store. The store checks the lock again inside its transaction,
// which covers writers in other processes, and runs the mutation and the
// reconciliation pass in that same transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Shivanand-hulikatti/club-roster/internal/model"
	"github.com/Shivanand-hulikatti/club-roster/internal/repository"
	"github.com/Shivanand-hulikatti/club-roster/internal/roster"
	"github.com/google/uuid"
)

var (
	// ErrLocked is returned when a roster change is attempted on a locked
	// event. The roster is left untouched.
	ErrLocked = repository.ErrLocked

	// ErrValidation wraps every input validation failure.
	ErrValidation = errors.New("validation error")

	// ErrEventNotFound is returned when no event has the given id.
	ErrEventNotFound = fmt.Errorf("event %w", repository.ErrNotFound)

	// ErrUserNotFound is returned when no member has the given id.
	ErrUserNotFound = fmt.Errorf("user %w", repository.ErrNotFound)

	// ErrRegistrationNotFound is returned when the member is not on the
	// event's roster.
	ErrRegistrationNotFound = fmt.Errorf("registration %w", repository.ErrNotFound)
)

const (
	maxCapacity      = 100_000
	maxNameLength    = 200
	maxCommentLength = 500

	// Event dates must fall in [minEventYear, maxEventYear].
	minEventYear = 1900
	maxEventYear = 9999
)

// EventStore persists events. Update reconciles the roster.
type EventStore interface {
	Create(ctx context.Context, e model.Event) error
	GetByID(ctx context.Context, id, viewerID string) (*model.Event, error)
	List(ctx context.Context, viewerID string) ([]model.Event, error)
	ListBetween(ctx context.Context, from, to time.Time, viewerID string) ([]model.Event, error)
	IDs(ctx context.Context) ([]string, error)
	Update(ctx context.Context, id, name string, date time.Time, capacity int) (roster.Result, error)
	SetLocked(ctx context.Context, id string, locked bool) error
	Delete(ctx context.Context, id string) error
}

// RegistrationStore persists rosters. Register, Unregister and Reconcile
// leave the roster satisfying the event's capacity. Register, Unregister and
// UpdateComment return repository.ErrLocked when the event is closed at time
// at.
type RegistrationStore interface {
	Register(ctx context.Context, eventID, userID, comment string, at time.Time) (model.RegistrationState, roster.Result, error)
	Unregister(ctx context.Context, eventID, userID string, at time.Time) (roster.Result, error)
	UpdateComment(ctx context.Context, eventID, userID, comment string, at time.Time) error
	Reconcile(ctx context.Context, eventID string) (roster.Result, error)
	Get(ctx context.Context, eventID, userID string) (*model.Registration, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error)
}

// UserStore persists member accounts.
type UserStore interface {
	Create(ctx context.Context, u model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

// EventService orchestrates event and roster operations.
type EventService struct {
	events        EventStore
	registrations RegistrationStore
	users         UserStore
	locks         *roster.Locker
	now           func() time.Time
	log           *slog.Logger
}

// Option configures an EventService.
type Option func(*EventService)

// WithClock replaces the wall clock used for lock checks and arrival times.
func WithClock(now func() time.Time) Option {
	return func(s *EventService) { s.now = now }
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(
	events EventStore,
	registrations RegistrationStore,
	users UserStore,
	log *slog.Logger,
	opts ...Option,
) *EventService {
	s := &EventService{
		events:        events,
		registrations: registrations,
		users:         users,
		locks:         roster.NewLocker(),
		now:           time.Now,
		log:           log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func notFound(err, kind error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return kind
	}
	return err
}

func validateEvent(name string, date time.Time, capacity int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: event name is required", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", fmt.Errorf("%w: event name cannot exceed %d characters", ErrValidation, maxNameLength)
	}
	if date.IsZero() {
		return "", fmt.Errorf("%w: event date is required", ErrValidation)
	}
	if y := date.UTC().Year(); y < minEventYear || y > maxEventYear {
		return "", fmt.Errorf("%w: event date must be between years %d and %d", ErrValidation, minEventYear, maxEventYear)
	}
	if capacity < 0 {
		return "", fmt.Errorf("%w: capacity cannot be negative", ErrValidation)
	}
	if capacity > maxCapacity {
		return "", fmt.Errorf("%w: capacity cannot exceed %d", ErrValidation, maxCapacity)
	}
	return name, nil
}

func validateComment(comment string) (string, error) {
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return "", fmt.Errorf("%w: comment cannot exceed %d characters", ErrValidation, maxCommentLength)
	}
	return comment, nil
}

// CreateEvent validates the request and stores a new open event.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	name, err := validateEvent(req.Name, req.Date, req.Capacity)
	if err != nil {
		return nil, err
	}

	event := model.Event{
		ID:        uuid.New().String(),
		Name:      name,
		Date:      req.Date.UTC(),
		Capacity:  req.Capacity,
		CreatedAt: s.now().UTC(),
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	s.log.Info("event created",
		slog.String("event_id", event.ID),
		slog.Int("capacity", event.Capacity),
	)
	event.Resolve(s.now())
	return &event, nil
}

// GetEvent returns a single event with the viewer's own registration state.
func (s *EventService) GetEvent(ctx context.Context, eventID, viewerID string) (*model.Event, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrValidation)
	}
	event, err := s.events.GetByID(ctx, eventID, viewerID)
	if err != nil {
		return nil, notFound(err, ErrEventNotFound)
	}
	event.Resolve(s.now())
	return event, nil
}

// ListEvents returns every event.
func (s *EventService) ListEvents(ctx context.Context, viewerID string) ([]model.Event, error) {
	events, err := s.events.List(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	return s.resolve(events), nil
}

// resolve fills the clock-derived fields of every event.
func (s *EventService) resolve(events []model.Event) []model.Event {
	now := s.now()
	for i := range events {
		events[i].Resolve(now)
	}
	return events
}

// ListMonth returns the events of one calendar month (UTC).
func (s *EventService) ListMonth(ctx context.Context, year int, month time.Month, viewerID string) ([]model.Event, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("%w: month must be between 1 and 12", ErrValidation)
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	events, err := s.events.ListBetween(ctx, from, from.AddDate(0, 1, 0), viewerID)
	if err != nil {
		return nil, err
	}
	return s.resolve(events), nil
}

// IsLocked reports whether the event's roster is closed right now.
func (s *EventService) IsLocked(ctx context.Context, eventID string) (bool, error) {
	event, err := s.events.GetByID(ctx, eventID, "")
	if err != nil {
		return false, notFound(err, ErrEventNotFound)
	}
	return event.IsLocked(s.now()), nil
}

// openEvent loads the event and fails with ErrLocked when it is closed.
// Callers hold the event's key.
func (s *EventService) openEvent(ctx context.Context, eventID string) (*model.Event, error) {
	event, err := s.events.GetByID(ctx, eventID, "")
	if err != nil {
		return nil, notFound(err, ErrEventNotFound)
	}
	if event.IsLocked(s.now()) {
		return nil, ErrLocked
	}
	return event, nil
}

// UpdateEvent edits name, date and capacity. A capacity change promotes or
// demotes registrations before this returns.
func (s *EventService) UpdateEvent(ctx context.Context, eventID string, req model.UpdateEventRequest) (*model.Event, error) {
	name, err := validateEvent(req.Name, req.Date, req.Capacity)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	res, err := s.events.Update(ctx, eventID, name, req.Date.UTC(), req.Capacity)
	if err != nil {
		return nil, notFound(err, ErrEventNotFound)
	}
	s.logReconcile(eventID, res)

	return s.GetEvent(ctx, eventID, "")
}

// SetLocked sets or clears the admin lock. Clearing it on a past event has no
// visible effect since the date check still applies.
func (s *EventService) SetLocked(ctx context.Context, eventID string, locked bool) error {
	unlock := s.locks.Lock(eventID)
	defer unlock()

	if err := s.events.SetLocked(ctx, eventID, locked); err != nil {
		return notFound(err, ErrEventNotFound)
	}
	s.log.Info("event lock changed",
		slog.String("event_id", eventID),
		slog.Bool("locked", locked),
	)
	return nil
}

// DeleteEvent removes an event and its roster.
func (s *EventService) DeleteEvent(ctx context.Context, eventID string) error {
	unlock := s.locks.Lock(eventID)
	defer unlock()

	if err := s.events.Delete(ctx, eventID); err != nil {
		return notFound(err, ErrEventNotFound)
	}
	s.log.Info("event deleted", slog.String("event_id", eventID))
	return nil
}

// Register signs userID up for an open event and returns where they landed.
func (s *EventService) Register(ctx context.Context, eventID, userID, comment string) (model.RegistrationState, error) {
	if eventID == "" || userID == "" {
		return 0, fmt.Errorf("%w: event id and user id are required", ErrValidation)
	}
	comment, err := validateComment(comment)
	if err != nil {
		return 0, err
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return 0, notFound(err, ErrUserNotFound)
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	if _, err := s.openEvent(ctx, eventID); err != nil {
		return 0, err
	}

	state, res, err := s.registrations.Register(ctx, eventID, userID, comment, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("register for event: %w", notFound(err, ErrEventNotFound))
	}

	s.log.Info("registered",
		slog.String("event_id", eventID),
		slog.String("user_id", userID),
		slog.String("state", state.String()),
	)
	s.logReconcile(eventID, res)
	return state, nil
}

// Unregister removes userID from an open event's roster. Removing someone who
// is not registered succeeds.
func (s *EventService) Unregister(ctx context.Context, eventID, userID string) error {
	if eventID == "" || userID == "" {
		return fmt.Errorf("%w: event id and user id are required", ErrValidation)
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	if _, err := s.openEvent(ctx, eventID); err != nil {
		return err
	}

	res, err := s.registrations.Unregister(ctx, eventID, userID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("unregister from event: %w", notFound(err, ErrEventNotFound))
	}

	s.log.Info("unregistered",
		slog.String("event_id", eventID),
		slog.String("user_id", userID),
	)
	s.logReconcile(eventID, res)
	return nil
}

// UpdateComment edits the comment on an existing registration. State and
// arrival time are unchanged.
func (s *EventService) UpdateComment(ctx context.Context, eventID, userID, comment string) error {
	if eventID == "" || userID == "" {
		return fmt.Errorf("%w: event id and user id are required", ErrValidation)
	}
	comment, err := validateComment(comment)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	if _, err := s.openEvent(ctx, eventID); err != nil {
		return err
	}

	if err := s.registrations.UpdateComment(ctx, eventID, userID, comment, s.now().UTC()); err != nil {
		return notFound(err, ErrRegistrationNotFound)
	}
	return nil
}

// ListRegistrations returns an event's roster, confirmed first.
func (s *EventService) ListRegistrations(ctx context.Context, eventID string) ([]model.Registration, error) {
	if _, err := s.events.GetByID(ctx, eventID, ""); err != nil {
		return nil, notFound(err, ErrEventNotFound)
	}
	return s.registrations.ListByEvent(ctx, eventID)
}

// ReconcileAll re-runs reconciliation on every event and returns how many
// rosters changed. On a consistent database it changes nothing.
func (s *EventService) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := s.events.IDs(ctx)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, id := range ids {
		res, err := s.reconcileOne(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue // deleted meanwhile
			}
			return changed, fmt.Errorf("reconcile %s: %w", id, err)
		}
		if res.Changed() {
			changed++
			s.logReconcile(id, res)
		}
	}
	return changed, nil
}

func (s *EventService) reconcileOne(ctx context.Context, eventID string) (roster.Result, error) {
	unlock := s.locks.Lock(eventID)
	defer unlock()
	return s.registrations.Reconcile(ctx, eventID)
}

func (s *EventService) logReconcile(eventID string, res roster.Result) {
	if !res.Changed() {
		return
	}
	s.log.Info("roster reconciled",
		slog.String("event_id", eventID),
		slog.Any("promoted", res.Promoted),
		slog.Any("demoted", res.Demoted),
	)
}
