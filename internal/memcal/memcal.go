// Package memcal is an external calendar kept in process memory. It backs
// offline sessions and lets tests script remote edits and failures.
package memcal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"therapycal/internal/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned for operations on an unknown event ID.
var ErrNotFound = errors.New("event not found")

// Operation names accepted by FailOn and Calls.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpList   = "list"
)

// Calendar is an in-memory external calendar.
type Calendar struct {
	mu     sync.Mutex
	loc    *time.Location
	now    func() time.Time
	events map[string]models.Event
	fail   map[string]error
	calls  map[string]int
}

func New(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{
		loc:    loc,
		now:    time.Now,
		events: make(map[string]models.Event),
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// SetClock replaces the clock used for event modification times.
func (c *Calendar) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// FailOn makes every later call of op return err. A nil err clears it.
func (c *Calendar) FailOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, op)
		return
	}
	c.fail[op] = err
}

// Calls returns how many times op was attempted.
func (c *Calendar) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Put stores ev as if it had been edited in the external calendar.
func (c *Calendar) Put(ev models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[ev.ID] = ev
}

// Remove deletes an event as if it had been deleted externally.
func (c *Calendar) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, id)
}

func (c *Calendar) Event(id string) (models.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[id]
	return ev, ok
}

func (c *Calendar) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *Calendar) begin(ctx context.Context, op string) error {
	c.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fail[op]
}

func (c *Calendar) CreateEvent(ctx context.Context, a models.Appointment) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpCreate); err != nil {
		return "", err
	}
	ev := models.EventFrom(a, c.loc)
	ev.ID = uuid.NewString()
	ev.Updated = c.now()
	c.events[ev.ID] = ev
	return ev.ID, nil
}

func (c *Calendar) UpdateEvent(ctx context.Context, externalID string, a models.Appointment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpUpdate); err != nil {
		return err
	}
	if _, ok := c.events[externalID]; !ok {
		return fmt.Errorf("update %s: %w", externalID, ErrNotFound)
	}
	ev := models.EventFrom(a, c.loc)
	ev.ID = externalID
	ev.Updated = c.now()
	c.events[externalID] = ev
	return nil
}

func (c *Calendar) DeleteEvent(ctx context.Context, externalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpDelete); err != nil {
		return err
	}
	if _, ok := c.events[externalID]; !ok {
		return fmt.Errorf("delete %s: %w", externalID, ErrNotFound)
	}
	delete(c.events, externalID)
	return nil
}

// ListEvents returns events starting within [start, end), ordered by start.
func (c *Calendar) ListEvents(ctx context.Context, start, end time.Time) ([]models.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.begin(ctx, OpList); err != nil {
		return nil, err
	}
	var out []models.Event
	for _, ev := range c.events {
		if ev.StartTime.Before(start) || !ev.StartTime.Before(end) {
			continue
		}
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b models.Event) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out, nil
}
