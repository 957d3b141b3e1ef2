package store

import "context"

// Roster provides read and write access to the patient roster.
// Implementations must be safe for concurrent use. Writes must be visible to
// reads issued afterwards on the same store; the tool dispatcher depends on
// this when a patient registered by one tool call is looked up by a later
// call in the same batch.
type Roster interface {
	// Patients returns the current roster.
	Patients(ctx context.Context) ([]Patient, error)

	// Patient retrieves a patient by ID. Returns (nil, nil) if not found.
	Patient(ctx context.Context, id string) (*Patient, error)

	// AddPatient inserts a new patient. The record is validated before
	// insertion. Returns an error if a patient with the same ID already
	// exists. A "New Patient" alert is recorded as a side effect.
	AddPatient(ctx context.Context, p *Patient) error

	// UpdatePatient replaces an existing patient record. Returns an error if
	// the patient is not found.
	UpdatePatient(ctx context.Context, p *Patient) error
}

// StudyProvider exposes the site's currently active study.
type StudyProvider interface {
	// ActiveStudy returns the study new patients and voice sessions are
	// attributed to. Returns an error if no study is configured.
	ActiveStudy(ctx context.Context) (*StudyDetails, error)
}

// VisitBook schedules and moves study visits.
type VisitBook interface {
	// AddVisit appends a visit to the patient's schedule, assigning it an ID.
	// The patient's visits stay sorted by date. An "Appointment" alert is
	// recorded as a side effect. Returns the stored visit.
	AddVisit(ctx context.Context, patientID string, v Visit) (Visit, error)

	// MoveVisit changes an existing visit's date and resets its status to
	// Scheduled. An "Appointment" alert is recorded as a side effect.
	MoveVisit(ctx context.Context, patientID, visitID, newDate string) error
}

// AlertSink records entries in the dashboard task/alert feed.
type AlertSink interface {
	// AddAlert inserts an alert, assigning ID and timestamp and marking it
	// unread. Returns the stored alert.
	AddAlert(ctx context.Context, a TaskAlert) (TaskAlert, error)

	// Alerts returns the feed, newest first.
	Alerts(ctx context.Context) ([]TaskAlert, error)
}

// EventLog records clinical adverse events.
type EventLog interface {
	// AddAdverseEvent attaches an adverse event to the patient, assigning it
	// an ID. An "Adverse Event" alert is recorded as a side effect, High
	// priority for Severe or Life-Threatening events, Medium otherwise.
	// Returns the stored event.
	AddAdverseEvent(ctx context.Context, patientID string, e AdverseEvent) (AdverseEvent, error)
}

// Store combines every collaborator interface the reception engine needs.
type Store interface {
	Roster
	StudyProvider
	VisitBook
	AlertSink
	EventLog
}

// Navigator is the bridge to the surrounding UI shell. The voice dispatcher
// calls it for navigation side effects; a headless deployment uses
// [NopNavigator].
type Navigator interface {
	// ShowView switches the main view (dashboard, patients, visits, ...).
	ShowView(view string)

	// ShowPatient focuses a patient record, or clears the selection when id
	// is empty.
	ShowPatient(id string)

	// OpenModal opens an action form ("add_patient" or "schedule_visit").
	OpenModal(kind string)
}

// NopNavigator is a Navigator that ignores every call.
type NopNavigator struct{}

func (NopNavigator) ShowView(string)    {}
func (NopNavigator) ShowPatient(string) {}
func (NopNavigator) OpenModal(string)   {}

var _ Navigator = NopNavigator{}
