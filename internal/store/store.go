// Package store holds the appointments of one user session and mirrors
// every change to an external calendar when the integration is connected.
//
// Local mutations are authoritative: they succeed or fail on their own, and
// mirroring is best effort. A failed mirror call is logged and never rolls a
// mutation back.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"therapycal/internal/models"
	"therapycal/internal/session"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Calendar is the external calendar the store mirrors to.
type Calendar interface {
	CreateEvent(ctx context.Context, a models.Appointment) (string, error)
	UpdateEvent(ctx context.Context, externalID string, a models.Appointment) error
	DeleteEvent(ctx context.Context, externalID string) error
	ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error)
}

// StateStore persists the connection flag and last sync time of a session.
type StateStore interface {
	Load(ctx context.Context) (session.State, error)
	Save(ctx context.Context, st session.State) error
	Clear(ctx context.Context) error
}

// Options configures a Store. Zero values fall back to the defaults below.
type Options struct {
	Calendar Calendar
	State    StateStore
	Viewer   models.Viewer
	Location *time.Location

	CallTimeout   time.Duration // per external call, default 10s
	Retries       uint          // attempts per external call, default 3
	RetryInterval time.Duration // first backoff interval, default 250ms
	HoldWindow    time.Duration // how long success/error stays visible, default 3s

	// Days around today always included in a sync pass, default 30 and 90.
	WindowBefore int
	WindowAfter  int

	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.State == nil {
		o.State = &session.Memory{}
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.Retries == 0 {
		o.Retries = 3
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 250 * time.Millisecond
	}
	if o.HoldWindow <= 0 {
		o.HoldWindow = 3 * time.Second
	}
	if o.WindowBefore <= 0 {
		o.WindowBefore = 30
	}
	if o.WindowAfter <= 0 {
		o.WindowAfter = 90
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type entry struct {
	a   models.Appointment
	seq uint64 // insertion rank, breaks ties between equal dates
}

// Store is the appointment collection of a single session.
type Store struct {
	logger *slog.Logger
	opts   Options

	mu      sync.RWMutex
	entries []*entry // sorted by date, then seq
	byID    map[string]*entry
	nextSeq uint64

	connected bool
	lastSync  *time.Time
	status    SyncStatus
	holdTimer *time.Timer

	// stateMu orders writes of the persisted session state.
	stateMu sync.Mutex
	locks   keyedMutex
	flight  singleflight.Group
}

// New creates an empty Store. Call Restore to pick up a persisted connection.
func New(logger *slog.Logger, opts Options) *Store {
	opts.setDefaults()
	return &Store{
		logger: logger,
		opts:   opts,
		byID:   make(map[string]*entry),
		status: SyncIdle,
	}
}

// List returns every appointment sorted ascending by date.
func (s *Store) List() []models.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Appointment, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.a
	}
	return out
}

// Get returns the appointment with id, if any.
func (s *Store) Get(id string) (models.Appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return models.Appointment{}, false
	}
	return e.a, true
}

// QueryByDate returns the appointments on day d.
func (s *Store) QueryByDate(d models.Date) []models.Appointment {
	return s.QueryByRange(d, d)
}

// QueryByRange returns the appointments dated within [start, end].
func (s *Store) QueryByRange(start, end models.Date) []models.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Appointment
	for _, e := range s.entries {
		if e.a.Date.Before(start) {
			continue
		}
		if e.a.Date.After(end) {
			break
		}
		out = append(out, e.a)
	}
	return out
}

// Create adds an appointment built from f and the defaults: 50 minutes,
// in person, scheduled.
func (s *Store) Create(ctx context.Context, f models.Fields) (models.Appointment, error) {
	now := s.opts.Now()
	a := models.Appointment{
		ID:        uuid.NewString(),
		Duration:  models.DefaultDuration,
		Modality:  models.ModalityInPerson,
		Status:    models.StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	fillSelf(s.opts.Viewer, &a)
	if err := applyFields(&a, f, true); err != nil {
		return models.Appointment{}, err
	}
	if err := checkCounterpart(s.opts.Viewer, a); err != nil {
		return models.Appointment{}, err
	}

	unlock := s.locks.Lock(a.ID)
	defer unlock()

	s.mu.Lock()
	s.insert(&entry{a: a, seq: s.nextSeq})
	s.nextSeq++
	connected := s.connected
	s.mu.Unlock()

	s.logger.Info("Appointment created.", "id", a.ID, "date", a.Date, "start", a.StartTime)

	if connected {
		a = s.mirror(ctx, a)
	}
	return a, nil
}

// Update merges f into the appointment with id. Editing start time or
// duration moves the end time; editing the end time moves the duration.
func (s *Store) Update(ctx context.Context, id string, f models.Fields) (models.Appointment, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return models.Appointment{}, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	a := e.a
	if err := applyFields(&a, f, false); err != nil {
		s.mu.Unlock()
		return models.Appointment{}, err
	}
	if err := checkCounterpart(s.opts.Viewer, a); err != nil {
		s.mu.Unlock()
		return models.Appointment{}, err
	}
	a.UpdatedAt = s.opts.Now()
	s.replace(e, a)
	connected := s.connected
	s.mu.Unlock()

	s.logger.Info("Appointment updated.", "id", id, "date", a.Date, "status", a.Status)

	if connected {
		a = s.mirror(ctx, a)
	}
	return a, nil
}

// Delete removes the appointment with id and, when connected, its mirrored
// event.
func (s *Store) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	s.remove(e)
	connected := s.connected
	s.mu.Unlock()

	s.logger.Info("Appointment deleted.", "id", id)

	if connected && e.a.ExternalID != "" {
		_, err := call(ctx, s, "delete", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.opts.Calendar.DeleteEvent(ctx, e.a.ExternalID)
		})
		if err != nil {
			s.logger.Warn("Failed to delete mirrored event", "id", id, "externalID", e.a.ExternalID, "error", err)
		}
	}
	return nil
}

// Import creates one appointment per entry, continuing past invalid ones.
func (s *Store) Import(ctx context.Context, fields []models.Fields) ([]models.Appointment, error) {
	var (
		created []models.Appointment
		errs    []error
	)
	for i, f := range fields {
		a, err := s.Create(ctx, f)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		created = append(created, a)
	}
	return created, errors.Join(errs...)
}

// insert places e after every entry that sorts before it. Caller holds mu.
func (s *Store) insert(e *entry) {
	i := sort.Search(len(s.entries), func(i int) bool {
		return sortsAfter(s.entries[i], e)
	})
	s.entries = slices.Insert(s.entries, i, e)
	s.byID[e.a.ID] = e
}

// remove drops e. Caller holds mu.
func (s *Store) remove(e *entry) {
	if i := slices.Index(s.entries, e); i >= 0 {
		s.entries = slices.Delete(s.entries, i, i+1)
	}
	delete(s.byID, e.a.ID)
}

// replace swaps in a new version of e's appointment, moving it when the date
// changed. Caller holds mu.
func (s *Store) replace(e *entry, a models.Appointment) {
	if e.a.Date == a.Date {
		e.a = a
		return
	}
	s.remove(e)
	e.a = a
	s.insert(e)
}

func sortsAfter(x, y *entry) bool {
	if c := x.a.Date.Compare(y.a.Date); c != 0 {
		return c > 0
	}
	return x.seq > y.seq
}
