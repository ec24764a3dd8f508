package memcal

import (
	"context"
	"errors"
	"testing"
	"time"

	"therapycal/internal/models"
)

func TestCreateListDelete(t *testing.T) {
	ctx := context.Background()
	c := New(time.UTC)

	a := models.Appointment{
		ID:          "apt-1",
		PatientName: "John Smith",
		Date:        models.Date{Year: 2026, Month: time.June, Day: 3},
		StartTime:   9 * 60,
		EndTime:     9*60 + 50,
		Duration:    50,
		Modality:    models.ModalityVirtual,
		Status:      models.StatusScheduled,
	}
	id, err := c.CreateEvent(ctx, a)
	if err != nil {
		t.Fatalf("CreateEvent failed: %v", err)
	}

	inside, err := c.ListEvents(ctx, time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 4, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(inside) != 1 || inside[0].ID != id || inside[0].AppointmentID != "apt-1" {
		t.Fatalf("unexpected events: %+v", inside)
	}
	outside, _ := c.ListEvents(ctx, time.Date(2026, 6, 4, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC))
	if len(outside) != 0 {
		t.Fatalf("expected no events outside the range, got %d", len(outside))
	}

	if err := c.DeleteEvent(ctx, id); err != nil {
		t.Fatalf("DeleteEvent failed: %v", err)
	}
	if err := c.DeleteEvent(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestFailOn(t *testing.T) {
	ctx := context.Background()
	c := New(time.UTC)
	boom := errors.New("boom")

	c.FailOn(OpCreate, boom)
	if _, err := c.CreateEvent(ctx, models.Appointment{}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	c.FailOn(OpCreate, nil)
	if _, err := c.CreateEvent(ctx, models.Appointment{}); err != nil {
		t.Fatalf("expected success after clearing failure, got %v", err)
	}
	if got := c.Calls(OpCreate); got != 2 {
		t.Fatalf("expected 2 create calls, got %d", got)
	}
}
