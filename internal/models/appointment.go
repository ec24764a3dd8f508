package models

import "time"

// Modality is how a session takes place.
type Modality string

const (
	ModalityInPerson Modality = "in-person"
	ModalityVirtual  Modality = "virtual"
	ModalityPhone    Modality = "phone"
)

func (m Modality) Valid() bool {
	switch m {
	case ModalityInPerson, ModalityVirtual, ModalityPhone:
		return true
	}
	return false
}

// Status is the lifecycle state of an appointment. Cancelled is terminal for
// display only; edits to a cancelled appointment are still accepted.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// DefaultDuration is the session length in minutes used when none is given.
const DefaultDuration = 50

// Appointment is a scheduled session between a patient and a therapist.
type Appointment struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patientId,omitempty"`
	PatientName   string    `json:"patientName,omitempty"`
	TherapistID   string    `json:"therapistId,omitempty"`
	TherapistName string    `json:"therapistName,omitempty"`
	Date          Date      `json:"date"`
	StartTime     Clock     `json:"startTime"`
	EndTime       Clock     `json:"endTime"`
	Duration      int       `json:"duration"` // minutes
	Modality      Modality  `json:"type"`
	Status        Status    `json:"status"`
	Location      string    `json:"location,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	ExternalID    string    `json:"externalId,omitempty"` // set once mirrored to the external calendar
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (a Appointment) Start(loc *time.Location) time.Time {
	return At(a.Date, a.StartTime, loc)
}

func (a Appointment) End(loc *time.Location) time.Time {
	return At(a.Date, a.EndTime, loc)
}

// Fields is a partial appointment used by create and update. Nil fields are
// left unset.
type Fields struct {
	PatientID     *string
	PatientName   *string
	TherapistID   *string
	TherapistName *string
	Date          *Date
	StartTime     *Clock
	EndTime       *Clock
	Duration      *int
	Modality      *Modality
	Status        *Status
	Location      *string
	Notes         *string
}

// Role is the kind of user viewing the schedule.
type Role string

const (
	RolePatient    Role = "patient"
	RoleTherapist  Role = "therapist"
	RoleSuperAdmin Role = "super_admin"
)

// Viewer is the authenticated user a session belongs to. A patient viewer is
// the patient side of every appointment they see, a therapist viewer the
// therapist side.
type Viewer struct {
	Role Role
	ID   string
	Name string
}
