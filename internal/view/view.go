// Package view narrows the appointment list to what a dashboard shows.
package view

import (
	"fmt"
	"slices"
	"time"

	"therapycal/internal/models"
)

// StatusFilter keeps appointments with one status, or all of them.
type StatusFilter string

const (
	All       StatusFilter = "all"
	Scheduled StatusFilter = StatusFilter(models.StatusScheduled)
	Completed StatusFilter = StatusFilter(models.StatusCompleted)
	Cancelled StatusFilter = StatusFilter(models.StatusCancelled)
)

// ParseStatusFilter accepts "all" or a status name. Empty means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch f := StatusFilter(s); f {
	case "", All:
		return All, nil
	case Scheduled, Completed, Cancelled:
		return f, nil
	}
	return "", fmt.Errorf("unknown status filter %q", s)
}

func (f StatusFilter) keep(a models.Appointment) bool {
	return f == "" || f == All || models.Status(f) == a.Status
}

// Mode is the span of the calendar view.
type Mode string

const (
	Day   Mode = "day"
	Week  Mode = "week"
	Month Mode = "month"
)

// ParseMode accepts day, week or month.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Day, Week, Month:
		return m, nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// Window returns the first and last day, inclusive, of the view around d.
// Weeks run Sunday to Saturday.
func Window(mode Mode, d models.Date) (models.Date, models.Date) {
	switch mode {
	case Week:
		first := d.AddDays(-int(d.Weekday()))
		return first, first.AddDays(6)
	case Month:
		first := models.Date{Year: d.Year, Month: d.Month, Day: 1}
		// Day 0 of the next month normalises to the last day of this one.
		last := models.DateOf(time.Date(d.Year, d.Month+1, 0, 0, 0, 0, 0, time.UTC))
		return first, last
	}
	return d, d
}

// Apply keeps the appointments passing the status filter and falling in
// the view window around selected. Order is preserved.
func Apply(list []models.Appointment, status StatusFilter, mode Mode, selected models.Date) []models.Appointment {
	first, last := Window(mode, selected)
	var out []models.Appointment
	for _, a := range list {
		if !status.keep(a) || a.Date.Before(first) || a.Date.After(last) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Stats counts appointments per status.
type Stats struct {
	Total     int
	Scheduled int
	Completed int
	Cancelled int
}

func Counts(list []models.Appointment) Stats {
	var s Stats
	for _, a := range list {
		s.Total++
		switch a.Status {
		case models.StatusScheduled:
			s.Scheduled++
		case models.StatusCompleted:
			s.Completed++
		case models.StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Upcoming returns at most n scheduled appointments starting at or after
// now, soonest first. A non-positive n means no limit.
func Upcoming(list []models.Appointment, now time.Time, n int, loc *time.Location) []models.Appointment {
	var out []models.Appointment
	for _, a := range list {
		if a.Status != models.StatusScheduled || a.Start(loc).Before(now) {
			continue
		}
		out = append(out, a)
	}
	slices.SortStableFunc(out, func(x, y models.Appointment) int {
		return x.Start(loc).Compare(y.Start(loc))
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Counterpart names the other party of an appointment for the viewer.
func Counterpart(v models.Viewer, a models.Appointment) string {
	switch v.Role {
	case models.RolePatient:
		return a.TherapistName
	case models.RoleTherapist:
		return a.PatientName
	}
	return a.PatientName + " / " + a.TherapistName
}
