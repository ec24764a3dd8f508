package store

import "therapycal/internal/models"

// applyFields merges f into a. On create, date and start time are required.
// a is only a working copy; callers commit it after a nil error.
func applyFields(a *models.Appointment, f models.Fields, creating bool) error {
	if creating {
		if f.Date == nil || f.Date.IsZero() {
			return invalid("date", "is required")
		}
		if f.StartTime == nil {
			return invalid("startTime", "is required")
		}
	}

	if f.Date != nil {
		if f.Date.IsZero() {
			return invalid("date", "is required")
		}
		a.Date = *f.Date
	}
	if f.StartTime != nil {
		if *f.StartTime < 0 || *f.StartTime >= models.MinutesPerDay {
			return invalid("startTime", "must be between 00:00 and 23:59")
		}
		a.StartTime = *f.StartTime
	}
	if f.Modality != nil {
		if !f.Modality.Valid() {
			return invalid("type", "must be one of in-person, virtual, phone")
		}
		a.Modality = *f.Modality
	}
	if f.Status != nil {
		if !f.Status.Valid() {
			return invalid("status", "must be one of scheduled, completed, cancelled")
		}
		a.Status = *f.Status
	}
	setString(&a.PatientID, f.PatientID)
	setString(&a.PatientName, f.PatientName)
	setString(&a.TherapistID, f.TherapistID)
	setString(&a.TherapistName, f.TherapistName)
	setString(&a.Location, f.Location)
	setString(&a.Notes, f.Notes)

	switch {
	case f.Duration != nil && f.EndTime != nil:
		end, err := endFor(a.StartTime, *f.Duration)
		if err != nil {
			return err
		}
		if end != *f.EndTime {
			return invalid("endTime", "does not match start time plus duration")
		}
		a.Duration, a.EndTime = *f.Duration, end
	case f.EndTime != nil:
		if *f.EndTime <= a.StartTime || *f.EndTime >= models.MinutesPerDay {
			return invalid("endTime", "must be after the start time on the same day")
		}
		a.EndTime = *f.EndTime
		a.Duration = int(a.EndTime - a.StartTime)
	default:
		d := a.Duration
		if f.Duration != nil {
			d = *f.Duration
		}
		end, err := endFor(a.StartTime, d)
		if err != nil {
			return err
		}
		a.Duration, a.EndTime = d, end
	}
	return nil
}

// endFor rejects sessions that would run past midnight rather than clamping
// or wrapping them.
func endFor(start models.Clock, duration int) (models.Clock, error) {
	if duration <= 0 {
		return 0, invalid("duration", "must be a positive number of minutes")
	}
	end, ok := start.Add(duration)
	if !ok {
		return 0, invalid("duration", "session would end after midnight")
	}
	return end, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// checkCounterpart requires the other party's name for patient and
// therapist viewers.
func checkCounterpart(v models.Viewer, a models.Appointment) error {
	switch v.Role {
	case models.RolePatient:
		if a.TherapistName == "" {
			return invalid("therapistName", "is required")
		}
	case models.RoleTherapist:
		if a.PatientName == "" {
			return invalid("patientName", "is required")
		}
	}
	return nil
}

// fillSelf stamps the viewer's own side of a new appointment.
func fillSelf(v models.Viewer, a *models.Appointment) {
	switch v.Role {
	case models.RolePatient:
		a.PatientID, a.PatientName = v.ID, v.Name
	case models.RoleTherapist:
		a.TherapistID, a.TherapistName = v.ID, v.Name
	}
}
