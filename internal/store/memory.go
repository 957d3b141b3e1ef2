package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store. All operations are guarded by a single
// mutex and take effect before the call returns, so a write is always
// visible to the next read. Suitable for demos and tests; production
// deployments use [Postgres].
type Memory struct {
	mu       sync.RWMutex
	patients []Patient
	studies  []StudyDetails
	sites    []Site
	alerts   []TaskAlert
	activeID string // active study ID
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store with the given active study.
func NewMemory(study StudyDetails) *Memory {
	return &Memory{
		studies:  []StudyDetails{study},
		activeID: study.ID,
	}
}

// NewMemoryWithDemoData creates an in-memory store seeded with the site's
// demo dataset: one oncology site, two studies (the immunotherapy study
// active), and a small roster.
func NewMemoryWithDemoData() *Memory {
	m := &Memory{
		sites:    demoSites(),
		studies:  demoStudies(),
		patients: demoPatients(),
		activeID: "STUDY-001",
	}
	return m
}

// ── Roster ────────────────────────────────────────────────────────────────────

// Patients returns a copy of the current roster.
func (m *Memory) Patients(ctx context.Context) ([]Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Patient, len(m.patients))
	for i := range m.patients {
		out[i] = clonePatient(&m.patients[i])
	}
	return out, nil
}

// Patient retrieves a patient by ID. Returns (nil, nil) if not found.
func (m *Memory) Patient(ctx context.Context, id string) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.patients {
		if m.patients[i].ID == id {
			p := clonePatient(&m.patients[i])
			return &p, nil
		}
	}
	return nil, nil
}

// AddPatient inserts a new patient and records a "New Patient" alert.
func (m *Memory) AddPatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.patients {
		if m.patients[i].ID == p.ID {
			return fmt.Errorf("store: patient with id %q already exists", p.ID)
		}
	}
	m.patients = append(m.patients, clonePatient(p))

	m.addAlertLocked(TaskAlert{
		Category:  AlertNewPatient,
		Priority:  PriorityMedium,
		Message:   fmt.Sprintf("New patient registered: %s %s", p.FirstName, p.LastName),
		PatientID: p.ID,
		StudyID:   p.StudyID,
	})
	return nil
}

// UpdatePatient replaces an existing patient record.
func (m *Memory) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.patients {
		if m.patients[i].ID == p.ID {
			m.patients[i] = clonePatient(p)
			return nil
		}
	}
	return fmt.Errorf("store: patient with id %q not found", p.ID)
}

// ── StudyProvider ─────────────────────────────────────────────────────────────

// ActiveStudy returns the currently active study.
func (m *Memory) ActiveStudy(ctx context.Context) (*StudyDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.studies {
		if m.studies[i].ID == m.activeID {
			s := m.studies[i]
			s.Investigators = append([]Investigator(nil), s.Investigators...)
			return &s, nil
		}
	}
	return nil, fmt.Errorf("store: no active study configured")
}

// ── VisitBook ─────────────────────────────────────────────────────────────────

// AddVisit appends a visit to the patient's schedule and records an
// "Appointment" alert.
func (m *Memory) AddVisit(ctx context.Context, patientID string, v Visit) (Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findLocked(patientID)
	if p == nil {
		return Visit{}, fmt.Errorf("store: patient with id %q not found", patientID)
	}

	if v.ID == "" {
		v.ID = "V-" + uuid.NewString()
	}
	if v.Status == "" {
		v.Status = VisitScheduled
	}
	p.Visits = append(p.Visits, v)
	sortVisits(p.Visits)

	m.addAlertLocked(TaskAlert{
		Category:  AlertAppointment,
		Priority:  PriorityLow,
		Message:   fmt.Sprintf("Visit scheduled for %s %s on %s", p.FirstName, p.LastName, v.Date),
		PatientID: p.ID,
		StudyID:   p.StudyID,
	})
	return v, nil
}

// MoveVisit changes an existing visit's date, resets its status to Scheduled,
// and records an "Appointment" alert.
func (m *Memory) MoveVisit(ctx context.Context, patientID, visitID, newDate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findLocked(patientID)
	if p == nil {
		return fmt.Errorf("store: patient with id %q not found", patientID)
	}

	found := false
	for i := range p.Visits {
		if p.Visits[i].ID == visitID {
			p.Visits[i].Date = newDate
			p.Visits[i].Status = VisitScheduled
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("store: visit %q not found for patient %q", visitID, patientID)
	}
	sortVisits(p.Visits)

	m.addAlertLocked(TaskAlert{
		Category:  AlertAppointment,
		Priority:  PriorityMedium,
		Message:   fmt.Sprintf("Visit rescheduled for %s %s to %s", p.FirstName, p.LastName, newDate),
		PatientID: p.ID,
		StudyID:   p.StudyID,
	})
	return nil
}

// ── AlertSink ─────────────────────────────────────────────────────────────────

// AddAlert inserts an alert into the feed.
func (m *Memory) AddAlert(ctx context.Context, a TaskAlert) (TaskAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addAlertLocked(a), nil
}

// Alerts returns the feed, newest first.
func (m *Memory) Alerts(ctx context.Context) ([]TaskAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TaskAlert, len(m.alerts))
	copy(out, m.alerts)
	return out, nil
}

// addAlertLocked stamps and prepends an alert. Caller holds m.mu.
func (m *Memory) addAlertLocked(a TaskAlert) TaskAlert {
	a.ID = "ALT-" + uuid.NewString()
	a.Timestamp = time.Now()
	a.Read = false
	m.alerts = append([]TaskAlert{a}, m.alerts...)
	return a
}

// ── EventLog ──────────────────────────────────────────────────────────────────

// AddAdverseEvent attaches an adverse event to the patient and records an
// "Adverse Event" alert.
func (m *Memory) AddAdverseEvent(ctx context.Context, patientID string, e AdverseEvent) (AdverseEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.findLocked(patientID)
	if p == nil {
		return AdverseEvent{}, fmt.Errorf("store: patient with id %q not found", patientID)
	}

	if e.ID == "" {
		e.ID = "AE-" + uuid.NewString()
	}
	p.AdverseEvents = append([]AdverseEvent{e}, p.AdverseEvents...)

	m.addAlertLocked(TaskAlert{
		Category:  AlertAdverseEvent,
		Priority:  aePriority(e.Severity),
		Message:   fmt.Sprintf("New Adverse Event: %s (%s)", e.Description, e.Severity),
		PatientID: p.ID,
		StudyID:   p.StudyID,
	})
	return e, nil
}

// ── internals ─────────────────────────────────────────────────────────────────

// findLocked returns a pointer into m.patients. Caller holds m.mu.
func (m *Memory) findLocked(id string) *Patient {
	for i := range m.patients {
		if m.patients[i].ID == id {
			return &m.patients[i]
		}
	}
	return nil
}

func clonePatient(p *Patient) Patient {
	cp := *p
	cp.Visits = append([]Visit(nil), p.Visits...)
	cp.AdverseEvents = append([]AdverseEvent(nil), p.AdverseEvents...)
	return cp
}

// sortVisits orders visits by date. ISO dates sort correctly as strings.
func sortVisits(vs []Visit) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Date < vs[j].Date })
}

// aePriority maps adverse-event severity to alert priority.
func aePriority(s AESeverity) AlertPriority {
	if s == SeveritySevere || s == SeverityLifeThreatening {
		return PriorityHigh
	}
	return PriorityMedium
}
