package models

import "time"

// Event represents an appointment as seen by an external calendar.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID            string    // Identifier assigned by the external calendar
	AppointmentID string    // Local appointment ID carried by the event, empty for foreign events
	Title         string    // Summary or title of the event
	Notes         string    // Free-text notes
	StartTime     time.Time // Start time of the event
	EndTime       time.Time // End time of the event
	Location      string    // Location of the event
	Modality      Modality
	Status        Status
	PatientID     string
	PatientName   string
	TherapistID   string
	TherapistName string
	Updated       time.Time // Last modification time reported by the provider
}

// Managed reports whether the event was produced from a local appointment.
func (e Event) Managed() bool {
	return e.AppointmentID != ""
}

// Title builds the summary shown in external calendars.
func Title(a Appointment) string {
	switch {
	case a.PatientName != "" && a.TherapistName != "":
		return a.PatientName + " / " + a.TherapistName
	case a.PatientName != "":
		return "Session with " + a.PatientName
	case a.TherapistName != "":
		return "Session with " + a.TherapistName
	}
	return "Therapy session"
}

// EventFrom converts an appointment into the provider-neutral event shape.
func EventFrom(a Appointment, loc *time.Location) Event {
	return Event{
		ID:            a.ExternalID,
		AppointmentID: a.ID,
		Title:         Title(a),
		Notes:         a.Notes,
		StartTime:     a.Start(loc),
		EndTime:       a.End(loc),
		Location:      a.Location,
		Modality:      a.Modality,
		Status:        a.Status,
		PatientID:     a.PatientID,
		PatientName:   a.PatientName,
		TherapistID:   a.TherapistID,
		TherapistName: a.TherapistName,
		Updated:       a.UpdatedAt,
	}
}

// Fields returns the partial update that makes an appointment match the event.
func (e Event) Fields(loc *time.Location) Fields {
	start := e.StartTime.In(loc)
	date := DateOf(start)
	clock := ClockOf(start)
	end := ClockOf(e.EndTime.In(loc))
	modality := e.Modality
	if modality == "" {
		modality = ModalityInPerson
	}
	status := e.Status
	if status == "" {
		status = StatusScheduled
	}
	return Fields{
		Date:          &date,
		StartTime:     &clock,
		EndTime:       &end,
		Modality:      &modality,
		Status:        &status,
		Location:      &e.Location,
		Notes:         &e.Notes,
		PatientID:     &e.PatientID,
		PatientName:   &e.PatientName,
		TherapistID:   &e.TherapistID,
		TherapistName: &e.TherapistName,
	}
}

// Matches reports whether the event already carries the appointment's content.
func (e Event) Matches(a Appointment, loc *time.Location) bool {
	return e.StartTime.Equal(a.Start(loc)) &&
		e.EndTime.Equal(a.End(loc)) &&
		e.Location == a.Location &&
		e.Notes == a.Notes &&
		e.Modality == a.Modality &&
		e.Status == a.Status &&
		e.PatientID == a.PatientID &&
		e.PatientName == a.PatientName &&
		e.TherapistID == a.TherapistID &&
		e.TherapistName == a.TherapistName
}
