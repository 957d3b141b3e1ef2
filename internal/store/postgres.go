package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the clinical-site tables. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS patients (
    id              TEXT PRIMARY KEY,
    first_name      TEXT NOT NULL,
    last_name       TEXT NOT NULL,
    date_of_birth   TEXT NOT NULL DEFAULT '',
    gender          TEXT NOT NULL DEFAULT 'Other',
    status          TEXT NOT NULL DEFAULT 'Screening',
    site_id         TEXT NOT NULL DEFAULT '',
    study_id        TEXT NOT NULL DEFAULT '',
    enrollment_date TEXT NOT NULL DEFAULT '',
    contact_email   TEXT NOT NULL DEFAULT '',
    contact_phone   TEXT NOT NULL DEFAULT '',
    medical_history TEXT NOT NULL DEFAULT '',
    visits          JSONB NOT NULL DEFAULT '[]',
    adverse_events  JSONB NOT NULL DEFAULT '[]',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_patients_study ON patients(study_id);

CREATE TABLE IF NOT EXISTS studies (
    id                 TEXT PRIMARY KEY,
    protocol_number    TEXT NOT NULL DEFAULT '',
    title              TEXT NOT NULL,
    phase              TEXT NOT NULL DEFAULT '',
    sponsor            TEXT NOT NULL DEFAULT '',
    description        TEXT NOT NULL DEFAULT '',
    inclusion_criteria TEXT NOT NULL DEFAULT '',
    exclusion_criteria TEXT NOT NULL DEFAULT '',
    recruitment_target INTEGER NOT NULL DEFAULT 0,
    status             TEXT NOT NULL DEFAULT 'Pending',
    investigators      JSONB NOT NULL DEFAULT '[]',
    is_active          BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS task_alerts (
    id         TEXT PRIMARY KEY,
    category   TEXT NOT NULL,
    priority   TEXT NOT NULL,
    message    TEXT NOT NULL,
    patient_id TEXT NOT NULL DEFAULT '',
    study_id   TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    read       BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS idx_task_alerts_created ON task_alerts(created_at DESC);
`

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a [Store] backed by a PostgreSQL database. Visits and adverse
// events are serialised as JSONB on the patient row, mirroring the document
// shape the rest of the system works with.
type Postgres struct {
	db DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Postgres store that uses the given connection or
// pool. The caller is responsible for calling [Postgres.Migrate] to ensure
// the schema exists before issuing queries.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// tables and indexes if they do not already exist. On a fresh database it
// also seeds the demo studies so [Postgres.ActiveStudy] resolves without
// manual setup; a database that already holds studies is left untouched.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return s.seedStudies(ctx)
}

// seedStudies inserts the demo studies when the studies table is empty. The
// Active demo study becomes the site's active study.
func (s *Postgres) seedStudies(ctx context.Context) error {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM studies`).Scan(&n); err != nil {
		return fmt.Errorf("store: count studies: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, study := range demoStudies() {
		if err := s.UpsertStudy(ctx, &study, study.Status == StudyActive); err != nil {
			return err
		}
	}
	return nil
}

const patientColumns = `
	id, first_name, last_name, date_of_birth, gender, status,
	site_id, study_id, enrollment_date, contact_email, contact_phone,
	medical_history, visits, adverse_events`

// ── Roster ────────────────────────────────────────────────────────────────────

// Patients returns the full roster ordered by last name.
func (s *Postgres) Patients(ctx context.Context) ([]Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY last_name, first_name`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: patients: %w", err)
	}
	defer rows.Close()

	var patients []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: patients: %w", err)
	}
	return patients, nil
}

// Patient retrieves a patient by ID. Returns (nil, nil) if not found.
func (s *Postgres) Patient(ctx context.Context, id string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	p, err := scanPatient(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: patient %q: %w", id, err)
	}
	return p, nil
}

// AddPatient inserts a new patient and records a "New Patient" alert.
func (s *Postgres) AddPatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}

	visitsJSON, aeJSON, err := marshalPatientDocs(p)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO patients (
			id, first_name, last_name, date_of_birth, gender, status,
			site_id, study_id, enrollment_date, contact_email, contact_phone,
			medical_history, visits, adverse_events
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err = s.db.Exec(ctx, query,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender, p.Status,
		p.SiteID, p.StudyID, p.EnrollmentDate, p.ContactEmail, p.ContactPhone,
		p.MedicalHistorySummary, visitsJSON, aeJSON,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: patient with id %q already exists", p.ID)
		}
		return fmt.Errorf("store: add patient: %w", err)
	}

	_, err = s.AddAlert(ctx, TaskAlert{
		Category:  AlertNewPatient,
		Priority:  PriorityMedium,
		Message:   fmt.Sprintf("New patient registered: %s %s", p.FirstName, p.LastName),
		PatientID: p.ID,
		StudyID:   p.StudyID,
	})
	return err
}

// UpdatePatient replaces an existing patient record.
func (s *Postgres) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}

	visitsJSON, aeJSON, err := marshalPatientDocs(p)
	if err != nil {
		return err
	}

	const query = `
		UPDATE patients SET
			first_name = $2, last_name = $3, date_of_birth = $4, gender = $5,
			status = $6, site_id = $7, study_id = $8, enrollment_date = $9,
			contact_email = $10, contact_phone = $11, medical_history = $12,
			visits = $13, adverse_events = $14, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender, p.Status,
		p.SiteID, p.StudyID, p.EnrollmentDate, p.ContactEmail, p.ContactPhone,
		p.MedicalHistorySummary, visitsJSON, aeJSON,
	)
	if err != nil {
		return fmt.Errorf("store: update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: patient with id %q not found", p.ID)
	}
	return nil
}

// ── StudyProvider ─────────────────────────────────────────────────────────────

// ActiveStudy returns the study marked active.
func (s *Postgres) ActiveStudy(ctx context.Context) (*StudyDetails, error) {
	const query = `
		SELECT id, protocol_number, title, phase, sponsor, description,
		       inclusion_criteria, exclusion_criteria, recruitment_target,
		       status, investigators
		FROM studies WHERE is_active LIMIT 1`

	var study StudyDetails
	var invJSON []byte
	err := s.db.QueryRow(ctx, query).Scan(
		&study.ID, &study.ProtocolNumber, &study.Title, &study.Phase,
		&study.Sponsor, &study.Description, &study.InclusionCriteria,
		&study.ExclusionCriteria, &study.RecruitmentTarget, &study.Status,
		&invJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: no active study configured")
		}
		return nil, fmt.Errorf("store: active study: %w", err)
	}
	if err := json.Unmarshal(invJSON, &study.Investigators); err != nil {
		return nil, fmt.Errorf("store: unmarshal investigators: %w", err)
	}
	return &study, nil
}

// UpsertStudy creates or replaces a study. When active is true the study
// becomes the site's active study and any previously active study is
// demoted. Useful for seeding deployments.
func (s *Postgres) UpsertStudy(ctx context.Context, study *StudyDetails, active bool) error {
	invJSON, err := json.Marshal(emptyInvestigators(study.Investigators))
	if err != nil {
		return fmt.Errorf("store: marshal investigators: %w", err)
	}

	if active {
		if _, err := s.db.Exec(ctx, `UPDATE studies SET is_active = false WHERE is_active`); err != nil {
			return fmt.Errorf("store: demote active study: %w", err)
		}
	}

	const query = `
		INSERT INTO studies (
			id, protocol_number, title, phase, sponsor, description,
			inclusion_criteria, exclusion_criteria, recruitment_target,
			status, investigators, is_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			protocol_number = EXCLUDED.protocol_number,
			title = EXCLUDED.title,
			phase = EXCLUDED.phase,
			sponsor = EXCLUDED.sponsor,
			description = EXCLUDED.description,
			inclusion_criteria = EXCLUDED.inclusion_criteria,
			exclusion_criteria = EXCLUDED.exclusion_criteria,
			recruitment_target = EXCLUDED.recruitment_target,
			status = EXCLUDED.status,
			investigators = EXCLUDED.investigators,
			is_active = EXCLUDED.is_active`

	_, err = s.db.Exec(ctx, query,
		study.ID, study.ProtocolNumber, study.Title, study.Phase, study.Sponsor,
		study.Description, study.InclusionCriteria, study.ExclusionCriteria,
		study.RecruitmentTarget, study.Status, invJSON, active,
	)
	if err != nil {
		return fmt.Errorf("store: upsert study: %w", err)
	}
	return nil
}

// ── VisitBook ─────────────────────────────────────────────────────────────────

// AddVisit appends a visit to the patient's JSONB schedule and records an
// "Appointment" alert.
func (s *Postgres) AddVisit(ctx context.Context, patientID string, v Visit) (Visit, error) {
	p, err := s.Patient(ctx, patientID)
	if err != nil {
		return Visit{}, err
	}
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

	if err := s.writeVisits(ctx, patientID, p.Visits); err != nil {
		return Visit{}, err
	}

	_, err = s.AddAlert(ctx, TaskAlert{
		Category:  AlertAppointment,
		Priority:  PriorityLow,
		Message:   fmt.Sprintf("Visit scheduled for %s %s on %s", p.FirstName, p.LastName, v.Date),
		PatientID: p.ID,
		StudyID:   p.StudyID,
	})
	return v, err
}

// MoveVisit changes a visit's date, resets it to Scheduled, and records an
// "Appointment" alert.
func (s *Postgres) MoveVisit(ctx context.Context, patientID, visitID, newDate string) error {
	p, err := s.Patient(ctx, patientID)
	if err != nil {
		return err
	}
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

	if err := s.writeVisits(ctx, patientID, p.Visits); err != nil {
		return err
	}

	_, err = s.AddAlert(ctx, TaskAlert{
		Category:  AlertAppointment,
		Priority:  PriorityMedium,
		Message:   fmt.Sprintf("Visit rescheduled for %s %s to %s", p.FirstName, p.LastName, newDate),
		PatientID: p.ID,
		StudyID:   p.StudyID,
	})
	return err
}

func (s *Postgres) writeVisits(ctx context.Context, patientID string, visits []Visit) error {
	visitsJSON, err := json.Marshal(visits)
	if err != nil {
		return fmt.Errorf("store: marshal visits: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`UPDATE patients SET visits = $2, updated_at = now() WHERE id = $1`,
		patientID, visitsJSON,
	)
	if err != nil {
		return fmt.Errorf("store: write visits: %w", err)
	}
	return nil
}

// ── AlertSink ─────────────────────────────────────────────────────────────────

// AddAlert inserts an alert into the feed.
func (s *Postgres) AddAlert(ctx context.Context, a TaskAlert) (TaskAlert, error) {
	a.ID = "ALT-" + uuid.NewString()
	a.Read = false

	const query = `
		INSERT INTO task_alerts (id, category, priority, message, patient_id, study_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query,
		a.ID, a.Category, a.Priority, a.Message, a.PatientID, a.StudyID,
	).Scan(&a.Timestamp)
	if err != nil {
		return TaskAlert{}, fmt.Errorf("store: add alert: %w", err)
	}
	return a, nil
}

// Alerts returns the feed, newest first.
func (s *Postgres) Alerts(ctx context.Context) ([]TaskAlert, error) {
	const query = `
		SELECT id, category, priority, message, patient_id, study_id, created_at, read
		FROM task_alerts ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: alerts: %w", err)
	}
	defer rows.Close()

	var alerts []TaskAlert
	for rows.Next() {
		var a TaskAlert
		if err := rows.Scan(
			&a.ID, &a.Category, &a.Priority, &a.Message,
			&a.PatientID, &a.StudyID, &a.Timestamp, &a.Read,
		); err != nil {
			return nil, fmt.Errorf("store: alerts scan: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: alerts: %w", err)
	}
	return alerts, nil
}

// ── EventLog ──────────────────────────────────────────────────────────────────

// AddAdverseEvent attaches an adverse event to the patient's JSONB log and
// records an "Adverse Event" alert.
func (s *Postgres) AddAdverseEvent(ctx context.Context, patientID string, e AdverseEvent) (AdverseEvent, error) {
	p, err := s.Patient(ctx, patientID)
	if err != nil {
		return AdverseEvent{}, err
	}
	if p == nil {
		return AdverseEvent{}, fmt.Errorf("store: patient with id %q not found", patientID)
	}

	if e.ID == "" {
		e.ID = "AE-" + uuid.NewString()
	}
	events := append([]AdverseEvent{e}, p.AdverseEvents...)

	aeJSON, err := json.Marshal(events)
	if err != nil {
		return AdverseEvent{}, fmt.Errorf("store: marshal adverse events: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`UPDATE patients SET adverse_events = $2, updated_at = now() WHERE id = $1`,
		patientID, aeJSON,
	)
	if err != nil {
		return AdverseEvent{}, fmt.Errorf("store: write adverse events: %w", err)
	}

	_, err = s.AddAlert(ctx, TaskAlert{
		Category:  AlertAdverseEvent,
		Priority:  aePriority(e.Severity),
		Message:   fmt.Sprintf("New Adverse Event: %s (%s)", e.Description, e.Severity),
		PatientID: p.ID,
		StudyID:   p.StudyID,
	})
	return e, err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var visitsJSON, aeJSON []byte
	err := row.Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.Gender, &p.Status,
		&p.SiteID, &p.StudyID, &p.EnrollmentDate, &p.ContactEmail, &p.ContactPhone,
		&p.MedicalHistorySummary, &visitsJSON, &aeJSON,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(visitsJSON, &p.Visits); err != nil {
		return nil, fmt.Errorf("store: unmarshal visits: %w", err)
	}
	if err := json.Unmarshal(aeJSON, &p.AdverseEvents); err != nil {
		return nil, fmt.Errorf("store: unmarshal adverse events: %w", err)
	}
	return &p, nil
}

func marshalPatientDocs(p *Patient) (visitsJSON, aeJSON []byte, err error) {
	visitsJSON, err = json.Marshal(emptyVisits(p.Visits))
	if err != nil {
		return nil, nil, fmt.Errorf("store: marshal visits: %w", err)
	}
	aeJSON, err = json.Marshal(emptyEvents(p.AdverseEvents))
	if err != nil {
		return nil, nil, fmt.Errorf("store: marshal adverse events: %w", err)
	}
	return visitsJSON, aeJSON, nil
}

// The empty* helpers ensure JSON marshalling produces "[]" instead of "null".

func emptyVisits(v []Visit) []Visit {
	if v == nil {
		return []Visit{}
	}
	return v
}

func emptyEvents(e []AdverseEvent) []AdverseEvent {
	if e == nil {
		return []AdverseEvent{}
	}
	return e
}

func emptyInvestigators(i []Investigator) []Investigator {
	if i == nil {
		return []Investigator{}
	}
	return i
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
