// Package syncer decides how one sync pass brings local appointments and
// external calendar events back into agreement.
//
// Conflicts are resolved last-write-wins: the side with the newer
// modification time (at second precision) overwrites the other. A remote
// event that disappeared is deleted locally unless the local record changed
// after the previous sync, in which case it is mirrored again.
package syncer

import (
	"time"

	"therapycal/internal/models"
)

// Kind is what a Step does.
type Kind int

const (
	// PushCreate mirrors a local appointment that has no remote event.
	PushCreate Kind = iota
	// PushUpdate overwrites the remote event with the local appointment.
	PushUpdate
	// PullUpdate overwrites the local appointment with the remote event.
	PullUpdate
	// PullCreate imports a remote event that has no local appointment.
	PullCreate
	// DeleteLocal removes a local appointment whose remote event was deleted.
	DeleteLocal
	// Link records the remote event ID on a local appointment that lost it.
	Link
)

func (k Kind) String() string {
	switch k {
	case PushCreate:
		return "push-create"
	case PushUpdate:
		return "push-update"
	case PullUpdate:
		return "pull-update"
	case PullCreate:
		return "pull-create"
	case DeleteLocal:
		return "delete-local"
	case Link:
		return "link"
	}
	return "unknown"
}

// Step is a single reconciliation action. Appointment is the local side and
// is zero for PullCreate; Event is the remote side and is zero for
// PushCreate and DeleteLocal.
type Step struct {
	Kind        Kind
	Appointment models.Appointment
	Event       models.Event
}

// Plan compares local appointments against the remote events listed for a
// window covering all of them. Steps for one appointment are ordered so that
// a Link precedes the update that depends on it.
func Plan(local []models.Appointment, remote []models.Event, lastSync time.Time, loc *time.Location) []Step {
	byExternal := make(map[string]models.Event, len(remote))
	byAppointment := make(map[string]models.Event)
	for _, ev := range remote {
		byExternal[ev.ID] = ev
		if ev.Managed() {
			if _, dup := byAppointment[ev.AppointmentID]; !dup {
				byAppointment[ev.AppointmentID] = ev
			}
		}
	}

	var steps []Step
	matched := make(map[string]bool, len(remote))
	localIDs := make(map[string]bool, len(local))

	for _, a := range local {
		localIDs[a.ID] = true

		ev, found := byExternal[a.ExternalID]
		if a.ExternalID == "" || !found || matched[ev.ID] {
			found = false
			if cand, ok := byAppointment[a.ID]; ok && !matched[cand.ID] {
				ev, found = cand, true
				steps = append(steps, Step{Kind: Link, Appointment: a, Event: ev})
				a.ExternalID = ev.ID
			}
		}

		switch {
		case found:
			matched[ev.ID] = true
			if step, ok := compare(a, ev, loc); ok {
				steps = append(steps, step)
			}
		case a.ExternalID == "":
			steps = append(steps, Step{Kind: PushCreate, Appointment: a})
		case lastSync.IsZero() || a.UpdatedAt.After(lastSync):
			// Deleted remotely but edited here since: local edit wins.
			steps = append(steps, Step{Kind: PushCreate, Appointment: a})
		default:
			steps = append(steps, Step{Kind: DeleteLocal, Appointment: a})
		}
	}

	for _, ev := range remote {
		if matched[ev.ID] || !ev.Managed() || localIDs[ev.AppointmentID] {
			continue
		}
		steps = append(steps, Step{Kind: PullCreate, Event: ev})
	}
	return steps
}

func compare(a models.Appointment, ev models.Event, loc *time.Location) (Step, bool) {
	if ev.Matches(a, loc) {
		return Step{}, false
	}
	local := a.UpdatedAt.Truncate(time.Second)
	remote := ev.Updated.Truncate(time.Second)
	if remote.After(local) {
		return Step{Kind: PullUpdate, Appointment: a, Event: ev}, true
	}
	return Step{Kind: PushUpdate, Appointment: a, Event: ev}, true
}

// Window returns the remote listing range for a sync pass: every local
// appointment plus the given margin around today.
func Window(local []models.Appointment, today models.Date, before, after int, loc *time.Location) (time.Time, time.Time) {
	first := today.AddDays(-before)
	last := today.AddDays(after)
	for _, a := range local {
		if a.Date.Before(first) {
			first = a.Date
		}
		if a.Date.After(last) {
			last = a.Date
		}
	}
	return first.In(loc), last.AddDays(1).In(loc)
}
