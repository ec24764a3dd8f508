// Package ics converts appointments to and from iCalendar VEVENTs.
package ics

import (
	"fmt"
	"io"
	"time"

	"therapycal/internal/models"

	"github.com/emersion/go-ical"
)

const productID = "-//therapycal//EN"

// Appointment metadata that has no standard iCalendar property.
const (
	PropAppointmentID = "X-THERAPYCAL-APPOINTMENT-ID"
	PropStatus        = "X-THERAPYCAL-STATUS"
	PropModality      = "X-THERAPYCAL-MODALITY"
	PropPatientID     = "X-THERAPYCAL-PATIENT-ID"
	PropPatientName   = "X-THERAPYCAL-PATIENT-NAME"
	PropTherapistID   = "X-THERAPYCAL-THERAPIST-ID"
	PropTherapistName = "X-THERAPYCAL-THERAPIST-NAME"
)

// NewCalendar returns an empty VCALENDAR with the required headers.
func NewCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	return cal
}

// Component converts an appointment to a VEVENT identified by uid.
func Component(a models.Appointment, uid string, loc *time.Location) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, models.Title(a))
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, a.Start(loc).UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, a.End(loc).UTC())
	if !a.UpdatedAt.IsZero() {
		ve.Props.SetDateTime(ical.PropLastModified, a.UpdatedAt.UTC())
	}

	if a.Status == models.StatusCancelled {
		ve.Props.SetText(ical.PropStatus, "CANCELLED")
	} else {
		ve.Props.SetText(ical.PropStatus, "CONFIRMED")
	}
	if a.Notes != "" {
		ve.Props.SetText(ical.PropDescription, a.Notes)
	}
	if a.Location != "" {
		ve.Props.SetText(ical.PropLocation, a.Location)
	}

	setOptional(ve, PropAppointmentID, a.ID)
	setOptional(ve, PropStatus, string(a.Status))
	setOptional(ve, PropModality, string(a.Modality))
	setOptional(ve, PropPatientID, a.PatientID)
	setOptional(ve, PropPatientName, a.PatientName)
	setOptional(ve, PropTherapistID, a.TherapistID)
	setOptional(ve, PropTherapistName, a.TherapistName)
	return ve
}

func setOptional(c *ical.Component, name, value string) {
	if value != "" {
		c.Props.SetText(name, value)
	}
}

// EventOf reads a VEVENT back into the provider-neutral event shape. The
// UID becomes the event ID.
func EventOf(comp *ical.Component, loc *time.Location) (models.Event, error) {
	var ev models.Event
	if comp.Name != ical.CompEvent {
		return ev, fmt.Errorf("unexpected component %s", comp.Name)
	}

	var err error
	if ev.ID, err = comp.Props.Text(ical.PropUID); err != nil || ev.ID == "" {
		return ev, fmt.Errorf("event has no UID")
	}
	if ev.StartTime, err = comp.Props.DateTime(ical.PropDateTimeStart, loc); err != nil || ev.StartTime.IsZero() {
		return ev, fmt.Errorf("event %s has no usable start time", ev.ID)
	}
	if ev.EndTime, err = comp.Props.DateTime(ical.PropDateTimeEnd, loc); err != nil || ev.EndTime.IsZero() {
		ev.EndTime = ev.StartTime.Add(models.DefaultDuration * time.Minute)
	}
	ev.StartTime = ev.StartTime.In(loc)
	ev.EndTime = ev.EndTime.In(loc)

	ev.Title = text(comp, ical.PropSummary)
	ev.Notes = text(comp, ical.PropDescription)
	ev.Location = text(comp, ical.PropLocation)
	ev.AppointmentID = text(comp, PropAppointmentID)
	ev.PatientID = text(comp, PropPatientID)
	ev.PatientName = text(comp, PropPatientName)
	ev.TherapistID = text(comp, PropTherapistID)
	ev.TherapistName = text(comp, PropTherapistName)

	ev.Modality = models.Modality(text(comp, PropModality))
	if !ev.Modality.Valid() {
		ev.Modality = models.ModalityInPerson
	}
	ev.Status = models.Status(text(comp, PropStatus))
	if !ev.Status.Valid() {
		ev.Status = models.StatusScheduled
		if text(comp, ical.PropStatus) == "CANCELLED" {
			ev.Status = models.StatusCancelled
		}
	}

	if t, err := comp.Props.DateTime(ical.PropLastModified, time.UTC); err == nil && !t.IsZero() {
		ev.Updated = t
	} else if t, err := comp.Props.DateTime(ical.PropDateTimeStamp, time.UTC); err == nil {
		ev.Updated = t
	}
	return ev, nil
}

func text(c *ical.Component, name string) string {
	v, err := c.Props.Text(name)
	if err != nil {
		return ""
	}
	return v
}

// Write encodes appointments as one calendar. Appointments keep their own
// ID as UID.
func Write(w io.Writer, appointments []models.Appointment, loc *time.Location) error {
	cal := NewCalendar()
	for _, a := range appointments {
		cal.Children = append(cal.Children, Component(a, a.ID, loc))
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// Read decodes every VEVENT from r, skipping events that cannot be used.
func Read(r io.Reader, loc *time.Location) ([]models.Event, error) {
	dec := ical.NewDecoder(r)
	var events []models.Event
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode calendar: %w", err)
		}
		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			ev, err := EventOf(comp, loc)
			if err != nil {
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}
