package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"therapycal/internal/memcal"
	"therapycal/internal/models"
	"therapycal/internal/session"
	"therapycal/internal/syncer"
)

func connectedStore(t *testing.T) (*Store, *memcal.Calendar) {
	t.Helper()
	clk := newClock()
	cal := memcal.New(time.UTC)
	cal.SetClock(clk.Now)
	s := newTestStore(t, Options{Calendar: cal, Now: clk.Now})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return s, cal
}

func waitForStatus(t *testing.T, s *Store, want SyncStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.SyncStatus() != want {
		if time.Now().After(deadline) {
			t.Fatalf("status stuck at %q, want %q", s.SyncStatus(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateMirrorsWhenConnected(t *testing.T) {
	ctx := context.Background()
	s, cal := connectedStore(t)

	a, err := s.Create(ctx, draft(t, day(2026, 4, 20), "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	if a.ExternalID == "" {
		t.Fatal("expected external ID after mirroring")
	}
	ev, ok := cal.Event(a.ExternalID)
	if !ok || ev.AppointmentID != a.ID || !ev.Matches(a, time.UTC) {
		t.Fatalf("mirrored event mismatch: %+v", ev)
	}

	a, err = s.Update(ctx, a.ID, models.Fields{Location: ptr("Room 203")})
	if err != nil {
		t.Fatal(err)
	}
	if ev, _ := cal.Event(a.ExternalID); ev.Location != "Room 203" {
		t.Fatalf("expected update to be mirrored, got location %q", ev.Location)
	}

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if cal.Len() != 0 {
		t.Fatalf("expected mirrored event to be deleted, %d remain", cal.Len())
	}
}

func TestNoMirroringWhileDisconnected(t *testing.T) {
	cal := memcal.New(time.UTC)
	s := newTestStore(t, Options{Calendar: cal})

	a, err := s.Create(context.Background(), draft(t, day(2026, 4, 20), "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	if a.ExternalID != "" || cal.Calls(memcal.OpCreate) != 0 {
		t.Fatal("disconnected store must not mirror")
	}
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync while disconnected should be a no-op, got %v", err)
	}
	if cal.Calls(memcal.OpList) != 0 || s.SyncStatus() != SyncIdle {
		t.Fatal("Sync while disconnected touched the calendar")
	}
}

func TestFailedMirrorKeepsLocalRecord(t *testing.T) {
	ctx := context.Background()
	s, cal := connectedStore(t)
	cal.FailOn(memcal.OpCreate, errors.New("quota exceeded"))

	a, err := s.Create(ctx, draft(t, day(2026, 4, 20), "10:00"))
	if err != nil {
		t.Fatalf("mirror failure must not fail Create: %v", err)
	}
	if a.ExternalID != "" {
		t.Fatalf("expected no external ID, got %q", a.ExternalID)
	}
	if _, ok := s.Get(a.ID); !ok || len(s.List()) != 1 {
		t.Fatal("appointment missing after failed mirror")
	}
	if got := cal.Calls(memcal.OpCreate); got != 2 {
		t.Fatalf("expected 2 bounded attempts, got %d", got)
	}

	// The next successful pass mirrors it.
	cal.FailOn(memcal.OpCreate, nil)
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if got, _ := s.Get(a.ID); got.ExternalID == "" {
		t.Fatal("expected sync to mirror the pending appointment")
	}
}

func TestFailedRemoteDeleteStillDeletesLocally(t *testing.T) {
	ctx := context.Background()
	s, cal := connectedStore(t)
	a, err := s.Create(ctx, draft(t, day(2026, 4, 20), "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	cal.FailOn(memcal.OpDelete, errors.New("unavailable"))

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := s.Get(a.ID); ok {
		t.Fatal("appointment still present locally")
	}
}

func TestDisconnectClearsExternalIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := connectedStore(t)
	fixture(t, s)

	before := s.List()
	for _, a := range before {
		if a.ExternalID == "" {
			t.Fatalf("expected %s to be mirrored", a.ID)
		}
	}

	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	after := s.List()
	if len(after) != len(before) {
		t.Fatalf("disconnect dropped records: %d -> %d", len(before), len(after))
	}
	for i, a := range after {
		if a.ExternalID != "" {
			t.Fatalf("external ID kept on %s", a.ID)
		}
		want := before[i]
		want.ExternalID = ""
		if a != want {
			t.Fatalf("disconnect changed other fields:\n got %+v\nwant %+v", a, want)
		}
	}
	if s.Connected() {
		t.Fatal("still connected")
	}
	if _, ok := s.LastSync(); ok {
		t.Fatal("last sync time should be cleared")
	}
}

func TestSyncStatusMachine(t *testing.T) {
	ctx := context.Background()
	s, cal := connectedStore(t)
	waitForStatus(t, s, SyncIdle)
	first, ok := s.LastSync()
	if !ok {
		t.Fatal("Connect should have synced once")
	}

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if st := s.SyncStatus(); st != SyncSucceeded && st != SyncIdle {
		t.Fatalf("unexpected status after success: %q", st)
	}
	waitForStatus(t, s, SyncIdle)
	second, _ := s.LastSync()
	if !second.After(first) {
		t.Fatal("expected a newer last sync time")
	}

	cal.FailOn(memcal.OpList, errors.New("network down"))
	err := s.Sync(ctx)
	var serr *SyncError
	if !errors.As(err, &serr) || serr.Op != "sync" {
		t.Fatalf("expected SyncError, got %v", err)
	}
	if st := s.SyncStatus(); st != SyncFailed && st != SyncIdle {
		t.Fatalf("unexpected status after failure: %q", st)
	}
	waitForStatus(t, s, SyncIdle)
	if third, _ := s.LastSync(); !third.Equal(second) {
		t.Fatal("failed sync must not move the last sync time")
	}
}

func TestSyncTimeoutIsSyncError(t *testing.T) {
	cal := memcal.New(time.UTC)
	s := newTestStore(t, Options{Calendar: cal, CallTimeout: time.Nanosecond, Retries: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Connect(ctx)
	var serr *SyncError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SyncError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancellation to be wrapped, got %v", err)
	}
}

func TestSyncPullsNewerRemoteEdits(t *testing.T) {
	ctx := context.Background()
	s, cal := connectedStore(t)
	a, err := s.Create(ctx, draft(t, day(2026, 4, 20), "10:00"))
	if err != nil {
		t.Fatal(err)
	}

	ev, _ := cal.Event(a.ExternalID)
	ev.StartTime = ev.StartTime.Add(2 * time.Hour)
	ev.EndTime = ev.EndTime.Add(2 * time.Hour)
	ev.Notes = "moved by the therapist"
	ev.Updated = a.UpdatedAt.Add(time.Hour)
	cal.Put(ev)

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	got, _ := s.Get(a.ID)
	if got.StartTime.String() != "12:00" || got.EndTime.String() != "12:50" || got.Notes != "moved by the therapist" {
		t.Fatalf("remote edit not pulled: %+v", got)
	}
}

func TestSyncDeletesAndImports(t *testing.T) {
	ctx := context.Background()
	s, cal := connectedStore(t)
	keep, err := s.Create(ctx, draft(t, day(2026, 4, 20), "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	gone, err := s.Create(ctx, draft(t, day(2026, 4, 21), "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	cal.Remove(gone.ExternalID)
	imported := models.EventFrom(models.Appointment{
		ID:          "from-phone",
		PatientName: "Michael Davis",
		Date:        day(2026, 4, 22),
		StartTime:   clock(t, "15:00"),
		EndTime:     clock(t, "15:50"),
		Modality:    models.ModalityPhone,
		Status:      models.StatusScheduled,
	}, time.UTC)
	imported.ID = "ext-phone"
	imported.Updated = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	cal.Put(imported)

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if _, ok := s.Get(gone.ID); ok {
		t.Fatal("appointment deleted remotely should be removed")
	}
	if _, ok := s.Get(keep.ID); !ok {
		t.Fatal("untouched appointment should remain")
	}
	got, ok := s.Get("from-phone")
	if !ok {
		t.Fatal("expected remote appointment to be imported")
	}
	if got.ExternalID != "ext-phone" || got.Modality != models.ModalityPhone || got.Duration != 50 {
		t.Fatalf("unexpected imported record: %+v", got)
	}
}

func TestConnectStatePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	cal := memcal.New(time.UTC)

	s := newTestStore(t, Options{Calendar: cal, State: session.NewFile(path)})
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	synced, _ := s.LastSync()

	reloaded := newTestStore(t, Options{Calendar: cal, State: session.NewFile(path)})
	if err := reloaded.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if !reloaded.Connected() {
		t.Fatal("expected connection to survive reload")
	}
	if got, ok := reloaded.LastSync(); !ok || !got.Equal(synced) {
		t.Fatalf("expected last sync %s, got %s", synced, got)
	}

	if err := reloaded.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	again := newTestStore(t, Options{Calendar: cal, State: session.NewFile(path)})
	if err := again.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if again.Connected() {
		t.Fatal("disconnect should clear the persisted flag")
	}
}

func TestConnectWithoutCalendar(t *testing.T) {
	s := newTestStore(t, Options{})
	err := s.Connect(context.Background())
	var serr *SyncError
	if !errors.As(err, &serr) || serr.Op != "connect" {
		t.Fatalf("expected connect SyncError, got %v", err)
	}
	if s.Connected() {
		t.Fatal("store should stay disconnected")
	}
}

func TestImportCollectsErrors(t *testing.T) {
	s := newTestStore(t, Options{})
	good := draft(t, day(2026, 4, 20), "10:00")
	bad := models.Fields{}

	created, err := s.Import(context.Background(), []models.Fields{good, bad, good})
	if len(created) != 2 {
		t.Fatalf("expected 2 imported, got %d", len(created))
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected joined ValidationError, got %v", err)
	}
}

// gatedCalendar holds the next ListEvents call until released, so tests can
// act on the store while a sync pass is in flight.
type gatedCalendar struct {
	*memcal.Calendar

	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCalendar) hold() (entered, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	return g.entered, g.release
}

func (g *gatedCalendar) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	g.mu.Lock()
	entered, release := g.entered, g.release
	g.entered, g.release = nil, nil
	g.mu.Unlock()

	if entered != nil {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Calendar.ListEvents(ctx, start, end)
}

// syncInBackground starts a pass that stops inside ListEvents and returns a
// function that lets it finish and reports its error.
func syncInBackground(t *testing.T, s *Store, cal *gatedCalendar) func() error {
	t.Helper()
	entered, release := cal.hold()
	done := make(chan error, 1)
	go func() { done <- s.Sync(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sync pass never reached the calendar")
	}
	return func() error {
		close(release)
		return <-done
	}
}

func TestDisconnectDuringSyncStaysDisconnected(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	clk := newClock()
	mem := memcal.New(time.UTC)
	mem.SetClock(clk.Now)
	cal := &gatedCalendar{Calendar: mem}
	s := newTestStore(t, Options{Calendar: cal, State: session.NewFile(path), Now: clk.Now})
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, draft(t, day(2026, 4, 20), "10:00")); err != nil {
		t.Fatal(err)
	}

	finish := syncInBackground(t, s, cal)
	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := finish(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if s.Connected() {
		t.Fatal("store reconnected itself")
	}
	if _, ok := s.LastSync(); ok {
		t.Fatal("last sync time set after disconnect")
	}
	st, err := session.NewFile(path).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Connected || st.LastSync != nil {
		t.Fatalf("persisted state revived: %+v", st)
	}
	if len(s.List()) != 1 {
		t.Fatal("disconnect must keep local appointments")
	}
	for _, a := range s.List() {
		if a.ExternalID != "" {
			t.Fatalf("external ID restored on %s", a.ID)
		}
	}
}

func TestCreateDuringSyncIsNotDuplicated(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	mem := memcal.New(time.UTC)
	mem.SetClock(clk.Now)
	cal := &gatedCalendar{Calendar: mem}
	s := newTestStore(t, Options{Calendar: cal, Now: clk.Now})
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	finish := syncInBackground(t, s, cal)
	a, err := s.Create(ctx, draft(t, day(2026, 4, 20), "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	if err := finish(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	list := s.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(list))
	}
	if list[0].ID != a.ID || list[0].ExternalID == "" || list[0].ExternalID != a.ExternalID {
		t.Fatalf("unexpected record after sync: %+v", list[0])
	}
	if mem.Len() != 1 {
		t.Fatalf("expected 1 remote event, got %d", mem.Len())
	}
}

func TestPreviewDoesNotApply(t *testing.T) {
	ctx := context.Background()
	s, cal := connectedStore(t)
	cal.FailOn(memcal.OpCreate, errors.New("offline"))
	a, err := s.Create(ctx, draft(t, day(2026, 4, 20), "10:00"))
	if err != nil {
		t.Fatal(err)
	}
	cal.FailOn(memcal.OpCreate, nil)
	creates := cal.Calls(memcal.OpCreate)

	steps, err := s.Preview(ctx)
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(steps) != 1 || steps[0].Kind != syncer.PushCreate || steps[0].Appointment.ID != a.ID {
		t.Fatalf("unexpected plan: %+v", steps)
	}
	if cal.Calls(memcal.OpCreate) != creates {
		t.Fatal("preview wrote to the calendar")
	}
	if got, _ := s.Get(a.ID); got.ExternalID != "" {
		t.Fatal("preview stamped an external ID")
	}

	if err := s.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	var serr *SyncError
	if _, err := s.Preview(ctx); !errors.As(err, &serr) || serr.Op != "preview" {
		t.Fatalf("expected preview SyncError while disconnected, got %v", err)
	}
}
