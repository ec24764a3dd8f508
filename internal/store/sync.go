package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"therapycal/internal/models"
	"therapycal/internal/session"
	"therapycal/internal/syncer"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// SyncStatus is the visible state of the sync state machine.
type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncSyncing   SyncStatus = "syncing"
	SyncSucceeded SyncStatus = "success"
	SyncFailed    SyncStatus = "error"
)

var (
	errNoCalendar   = errors.New("no external calendar configured")
	errNotConnected = errors.New("not connected to an external calendar")
)

// Connected reports whether changes are mirrored to the external calendar.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// LastSync returns the time of the last successful sync pass.
func (s *Store) LastSync() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSync == nil {
		return time.Time{}, false
	}
	return *s.lastSync, true
}

func (s *Store) SyncStatus() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Restore loads the persisted connection state of the session.
func (s *Store) Restore(ctx context.Context) error {
	st, err := s.opts.State.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session state: %w", err)
	}
	if st.Connected && s.opts.Calendar == nil {
		s.logger.Warn("Session was connected but no external calendar is configured, staying disconnected.")
		return nil
	}

	s.mu.Lock()
	s.connected = st.Connected
	if st.Connected {
		s.lastSync = st.LastSync
	}
	s.mu.Unlock()

	s.logger.Debug("Restored session state.", "connected", st.Connected)
	return nil
}

// Connect turns mirroring on, persists the flag and runs one sync pass.
func (s *Store) Connect(ctx context.Context) error {
	if s.opts.Calendar == nil {
		return &SyncError{Op: "connect", Err: errNoCalendar}
	}

	s.stateMu.Lock()
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = true
	st := session.State{Connected: true, LastSync: s.lastSync}
	s.mu.Unlock()

	err := s.opts.State.Save(ctx, st)
	if err != nil {
		s.mu.Lock()
		s.connected = wasConnected
		s.mu.Unlock()
	}
	s.stateMu.Unlock()
	if err != nil {
		return &SyncError{Op: "connect", Err: err}
	}
	s.logger.Info("Connected to external calendar.")

	return s.Sync(ctx)
}

// Disconnect turns mirroring off and forgets every external event ID. Local
// appointments are kept.
func (s *Store) Disconnect(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.mu.Lock()
	s.connected = false
	s.lastSync = nil
	for _, e := range s.entries {
		e.a.ExternalID = ""
	}
	s.mu.Unlock()

	if err := s.opts.State.Clear(ctx); err != nil {
		return &SyncError{Op: "disconnect", Err: err}
	}
	s.logger.Info("Disconnected from external calendar.")
	return nil
}

// Sync runs one reconciliation pass. It does nothing while disconnected, and
// concurrent callers share a single pass.
func (s *Store) Sync(ctx context.Context) error {
	if !s.Connected() {
		return nil
	}
	_, err, _ := s.flight.Do("sync", func() (any, error) {
		return nil, s.syncPass(ctx)
	})
	return err
}

func (s *Store) syncPass(ctx context.Context) error {
	s.setStatus(SyncSyncing)
	s.logger.Info("Starting sync cycle.")

	err := s.reconcile(ctx)
	if err == nil {
		var connected bool
		connected, err = s.saveLastSync(ctx)
		if err == nil && !connected {
			// Disconnect already cleared the persisted state.
			s.setStatus(SyncIdle)
			s.logger.Info("Disconnected during sync cycle, result discarded.")
			return nil
		}
	}
	if err != nil {
		s.setStatus(SyncFailed)
		s.logger.Error("Sync cycle failed", "error", err)
		return &SyncError{Op: "sync", Err: err}
	}

	s.setStatus(SyncSucceeded)
	s.logger.Info("Sync cycle finished.")
	return nil
}

// saveLastSync stamps and persists the end of a pass unless the store was
// disconnected meanwhile.
func (s *Store) saveLastSync(ctx context.Context) (bool, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	now := s.opts.Now()
	s.mu.Lock()
	connected := s.connected
	if connected {
		s.lastSync = &now
	}
	s.mu.Unlock()
	if !connected {
		return false, nil
	}
	return true, s.opts.State.Save(ctx, session.State{Connected: true, LastSync: &now})
}

// setStatus moves the state machine; success and error fall back to idle
// once the hold window expires.
func (s *Store) setStatus(st SyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holdTimer != nil {
		s.holdTimer.Stop()
		s.holdTimer = nil
	}
	s.status = st
	if st == SyncSucceeded || st == SyncFailed {
		s.holdTimer = time.AfterFunc(s.opts.HoldWindow, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.status == st {
				s.status = SyncIdle
			}
		})
	}
}

// plan lists the remote events in the sync window and diffs them against
// the local appointments.
func (s *Store) plan(ctx context.Context) ([]syncer.Step, error) {
	local := s.List()
	s.mu.RLock()
	var lastSync time.Time
	if s.lastSync != nil {
		lastSync = *s.lastSync
	}
	s.mu.RUnlock()

	loc := s.opts.Location
	today := models.DateOf(s.opts.Now().In(loc))
	start, end := syncer.Window(local, today, s.opts.WindowBefore, s.opts.WindowAfter, loc)

	remote, err := call(ctx, s, "list", func(ctx context.Context) ([]models.Event, error) {
		return s.opts.Calendar.ListEvents(ctx, start, end)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch external events: %w", err)
	}
	s.logger.Info("Fetched external events.", "count", len(remote))

	return syncer.Plan(local, remote, lastSync, loc), nil
}

// Preview returns the steps a sync pass would apply right now without
// applying any of them.
func (s *Store) Preview(ctx context.Context) ([]syncer.Step, error) {
	if !s.Connected() {
		return nil, &SyncError{Op: "preview", Err: errNotConnected}
	}
	steps, err := s.plan(ctx)
	if err != nil {
		return nil, &SyncError{Op: "preview", Err: err}
	}
	return steps, nil
}

func (s *Store) reconcile(ctx context.Context) error {
	steps, err := s.plan(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, step := range steps {
		if err := s.applyStep(ctx, step); err != nil {
			// Continue with the next step even if one fails.
			s.logger.Error("Failed to apply sync step", "step", step.Kind, "id", step.Appointment.ID, "externalID", step.Event.ID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.Kind, err))
		}
	}
	s.logger.Debug("Applied sync plan.", "steps", len(steps), "failed", len(errs))
	return errors.Join(errs...)
}

func (s *Store) applyStep(ctx context.Context, step syncer.Step) error {
	if step.Kind == syncer.PullCreate {
		return s.pullCreate(step.Event)
	}

	id := step.Appointment.ID
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, ok := s.Get(id)
	if !ok {
		return nil
	}

	switch step.Kind {
	case syncer.Link:
		s.stamp(id, step.Event.ID)
	case syncer.PushCreate:
		ext, err := call(ctx, s, "create", func(ctx context.Context) (string, error) {
			return s.opts.Calendar.CreateEvent(ctx, cur)
		})
		if err != nil {
			return err
		}
		s.stamp(id, ext)
	case syncer.PushUpdate:
		_, err := call(ctx, s, "update", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.opts.Calendar.UpdateEvent(ctx, step.Event.ID, cur)
		})
		if err != nil {
			return err
		}
		s.stamp(id, step.Event.ID)
	case syncer.PullUpdate:
		a := cur
		if err := applyFields(&a, step.Event.Fields(s.opts.Location), false); err != nil {
			return err
		}
		a.ExternalID = step.Event.ID
		a.UpdatedAt = s.opts.Now()
		s.mu.Lock()
		if e, ok := s.byID[id]; ok && s.connected {
			s.replace(e, a)
		}
		s.mu.Unlock()
	case syncer.DeleteLocal:
		s.mu.Lock()
		// Skip if edited since the plan was made.
		e, ok := s.byID[id]
		removed := ok && s.connected && e.a.UpdatedAt.Equal(step.Appointment.UpdatedAt)
		if removed {
			s.remove(e)
		}
		s.mu.Unlock()
		if removed {
			s.logger.Info("Removed appointment deleted in external calendar.", "id", id)
		}
	}
	return nil
}

func (s *Store) pullCreate(ev models.Event) error {
	if ev.AppointmentID != "" {
		unlock := s.locks.Lock(ev.AppointmentID)
		defer unlock()
	}

	s.mu.Lock()
	if e, ok := s.byID[ev.AppointmentID]; ok {
		// Created locally after the pass took its snapshot. Link it if the
		// mirror has not stamped it yet, never copy it.
		if e.a.ExternalID == "" && s.connected {
			e.a.ExternalID = ev.ID
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	now := s.opts.Now()
	a := models.Appointment{
		ID:        ev.AppointmentID,
		Duration:  models.DefaultDuration,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f := ev.Fields(s.opts.Location)
	if err := applyFields(&a, f, true); err != nil {
		return err
	}
	a.ExternalID = ev.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.insert(&entry{a: a, seq: s.nextSeq})
	s.nextSeq++
	s.logger.Info("Imported appointment from external calendar.", "id", a.ID, "externalID", ev.ID)
	return nil
}

// mirror pushes a to the external calendar and returns it with the external
// ID stamped on success. Failures are logged and otherwise ignored.
func (s *Store) mirror(ctx context.Context, a models.Appointment) models.Appointment {
	if a.ExternalID != "" {
		_, err := call(ctx, s, "update", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.opts.Calendar.UpdateEvent(ctx, a.ExternalID, a)
		})
		if err != nil {
			s.logger.Warn("Failed to mirror appointment update", "id", a.ID, "externalID", a.ExternalID, "error", err)
		}
		return a
	}

	ext, err := call(ctx, s, "create", func(ctx context.Context) (string, error) {
		return s.opts.Calendar.CreateEvent(ctx, a)
	})
	if err != nil {
		s.logger.Warn("Failed to mirror appointment", "id", a.ID, "error", err)
		return a
	}
	if s.stamp(a.ID, ext) {
		a.ExternalID = ext
	}
	return a
}

// stamp records the external ID if the appointment still exists and the
// integration is still connected.
func (s *Store) stamp(id, externalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok || !s.connected {
		return false
	}
	e.a.ExternalID = externalID
	return true
}

// call runs one external calendar request with a timeout per attempt and
// bounded exponential backoff between attempts.
func call[T any](ctx context.Context, s *Store, op string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInterval

	return backoff.Retry(ctx, func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
		v, err := fn(attemptCtx)
		if err != nil {
			s.logger.Debug("External calendar call failed", "op", op, "error", err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.opts.Retries))
}
