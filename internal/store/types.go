// Package store holds the clinical-site domain model and the collaborator
// interfaces the voice tool dispatcher resolves against: the patient roster,
// the active study, visit scheduling, the dashboard alert feed, and the
// adverse-event log.
//
// Two implementations are provided. [Memory] is a mutex-guarded in-memory
// store seeded with the site's demo dataset; it is immediately consistent,
// which the dispatcher relies on when a patient registered mid-call is read
// back later in the same tool batch. [Postgres] persists the same model in a
// PostgreSQL database using JSONB columns for visits and adverse events.
package store

import (
	"errors"
	"fmt"
	"time"
)

// Gender is a patient's recorded gender.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// PatientStatus is a patient's position in the study lifecycle.
type PatientStatus string

const (
	StatusScreening    PatientStatus = "Screening"
	StatusEnrolled     PatientStatus = "Enrolled"
	StatusActive       PatientStatus = "Active"
	StatusCompleted    PatientStatus = "Completed"
	StatusWithdrawn    PatientStatus = "Withdrawn"
	StatusScreenFailed PatientStatus = "Screen Failed"
)

// ValidPatientStatuses is the set of accepted PatientStatus values.
var ValidPatientStatuses = map[PatientStatus]struct{}{
	StatusScreening:    {},
	StatusEnrolled:     {},
	StatusActive:       {},
	StatusCompleted:    {},
	StatusWithdrawn:    {},
	StatusScreenFailed: {},
}

// VisitStatus is the state of a single scheduled visit.
type VisitStatus string

const (
	VisitScheduled VisitStatus = "Scheduled"
	VisitCompleted VisitStatus = "Completed"
	VisitMissed    VisitStatus = "Missed"
	VisitOverdue   VisitStatus = "Overdue"
)

// Visit is one scheduled or past study visit. Date is an ISO date string
// (YYYY-MM-DD); day granularity is all the scheduling layer works with.
type Visit struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Date   string      `json:"date"`
	Status VisitStatus `json:"status"`
	Notes  string      `json:"notes,omitempty"`
}

// AESeverity grades an adverse event.
type AESeverity string

const (
	SeverityMild            AESeverity = "Mild"
	SeverityModerate        AESeverity = "Moderate"
	SeveritySevere          AESeverity = "Severe"
	SeverityLifeThreatening AESeverity = "Life-Threatening"
)

// AEStatus is the resolution state of an adverse event.
type AEStatus string

const (
	AEOngoing  AEStatus = "Ongoing"
	AEResolved AEStatus = "Resolved"
)

// AdverseEvent is a clinical adverse event attributed to one patient.
type AdverseEvent struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	Severity     AESeverity `json:"severity"`
	DateReported string     `json:"dateReported"`
	Status       AEStatus   `json:"status"`
}

// Patient is one enrolled or prospective study participant.
type Patient struct {
	ID                    string         `json:"id"`
	FirstName             string         `json:"firstName"`
	LastName              string         `json:"lastName"`
	DateOfBirth           string         `json:"dateOfBirth"`
	Gender                Gender         `json:"gender"`
	Status                PatientStatus  `json:"status"`
	SiteID                string         `json:"siteId"`
	StudyID               string         `json:"studyId"`
	EnrollmentDate        string         `json:"enrollmentDate,omitempty"`
	ContactEmail          string         `json:"contactEmail,omitempty"`
	ContactPhone          string         `json:"contactPhone,omitempty"`
	MedicalHistorySummary string         `json:"medicalHistorySummary,omitempty"`
	Visits                []Visit        `json:"visits"`
	AdverseEvents         []AdverseEvent `json:"adverseEvents"`
}

// FullName returns "FirstName LastName".
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Validate checks the patient record for logical consistency. It returns a
// joined error describing every violation found, or nil if the record is
// valid.
func (p *Patient) Validate() error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, fmt.Errorf("store: patient id must not be empty"))
	}
	if p.FirstName == "" {
		errs = append(errs, fmt.Errorf("store: patient first name must not be empty"))
	}
	if p.LastName == "" {
		errs = append(errs, fmt.Errorf("store: patient last name must not be empty"))
	}
	if _, ok := ValidPatientStatuses[p.Status]; !ok {
		errs = append(errs, fmt.Errorf("store: invalid patient status %q", p.Status))
	}
	switch p.Gender {
	case GenderMale, GenderFemale, GenderOther:
	default:
		errs = append(errs, fmt.Errorf("store: invalid patient gender %q", p.Gender))
	}

	return errors.Join(errs...)
}

// Investigator is a named member of the study team.
type Investigator struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Email string `json:"email"`
}

// StudyStatus is the recruitment state of a study.
type StudyStatus string

const (
	StudyPending StudyStatus = "Pending"
	StudyActive  StudyStatus = "Active"
	StudyClosed  StudyStatus = "Closed"
)

// StudyDetails describes one clinical study run at the site.
type StudyDetails struct {
	ID                string         `json:"id"`
	ProtocolNumber    string         `json:"protocolNumber"`
	Title             string         `json:"title"`
	Phase             string         `json:"phase"`
	Sponsor           string         `json:"sponsor"`
	Description       string         `json:"description"`
	InclusionCriteria string         `json:"inclusionCriteria"`
	ExclusionCriteria string         `json:"exclusionCriteria"`
	RecruitmentTarget int            `json:"recruitmentTarget"`
	Status            StudyStatus    `json:"status"`
	Investigators     []Investigator `json:"investigators"`
}

// Site is a physical trial site.
type Site struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	Location              string `json:"location"`
	PrincipalInvestigator string `json:"principalInvestigator"`
}

// AlertCategory classifies a dashboard alert.
type AlertCategory string

const (
	AlertAppointment  AlertCategory = "Appointment"
	AlertAdverseEvent AlertCategory = "Adverse Event"
	AlertNewPatient   AlertCategory = "New Patient"
	AlertInquiry      AlertCategory = "Inquiry"
	AlertGeneral      AlertCategory = "General"
)

// AlertPriority ranks a dashboard alert.
type AlertPriority string

const (
	PriorityHigh   AlertPriority = "High"
	PriorityMedium AlertPriority = "Medium"
	PriorityLow    AlertPriority = "Low"
)

// TaskAlert is one entry in the site dashboard's task/alert feed. ID,
// Timestamp, and Read are assigned by the store on insert.
type TaskAlert struct {
	ID        string        `json:"id"`
	Category  AlertCategory `json:"category"`
	Priority  AlertPriority `json:"priority"`
	Message   string        `json:"message"`
	PatientID string        `json:"patientId,omitempty"`
	StudyID   string        `json:"studyId,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Read      bool          `json:"read"`
}
