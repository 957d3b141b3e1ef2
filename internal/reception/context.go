package reception

import (
	"context"
	"sync"

	"github.com/clinvox/clinvox/internal/store"
)

// Mode selects the receptionist persona: the staff console assistant or the
// patient-facing phone line.
type Mode string

const (
	ModeStaff   Mode = "staff"
	ModePatient Mode = "patient"
)

// Context is the per-session state the dispatcher resolves tool calls
// against. It bundles live references to the site collaborators with the
// verified-patient shadow.
//
// The shadow is the central correctness mechanism: roster writes are only
// guaranteed visible to later reads eventually, but a batch may verify or
// register a patient in one call and schedule for them in the next. Context
// therefore keeps an immediately-consistent copy of the active patient ID
// and of any patient registered during the session, and every lookup merges
// that overlay over the roster.
type Context struct {
	Mode   Mode
	Roster store.Roster
	Study  store.StudyProvider
	Visits store.VisitBook
	Alerts store.AlertSink
	Events store.EventLog
	Nav    store.Navigator

	mu              sync.Mutex
	activePatientID string
	registered      map[string]store.Patient
}

// NewContext creates a session context for the given mode over the site
// store. A nil navigator defaults to [store.NopNavigator].
func NewContext(mode Mode, st store.Store, nav store.Navigator) *Context {
	if nav == nil {
		nav = store.NopNavigator{}
	}
	return &Context{
		Mode:   mode,
		Roster: st,
		Study:  st,
		Visits: st,
		Alerts: st,
		Events: st,
		Nav:    nav,
	}
}

// ActivePatientID returns the verified patient's ID, or "" if no patient has
// been verified this session.
func (c *Context) ActivePatientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activePatientID
}

// SetActivePatient marks a patient as identity-verified for the remainder of
// the session. The new value is visible to the next read, including reads
// later in the same tool batch.
func (c *Context) SetActivePatient(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activePatientID = id
}

// RecordRegistered overlays a patient registered during this session so
// same-batch lookups see them even before the roster write settles.
func (c *Context) RecordRegistered(p store.Patient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registered == nil {
		c.registered = make(map[string]store.Patient)
	}
	c.registered[p.ID] = p
}

// Clear resets the verified-patient shadow and the registration overlay.
// Called on session teardown.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activePatientID = ""
	c.registered = nil
}

// patients returns the current roster merged with the session's registration
// overlay. Overlay entries shadow roster entries with the same ID.
func (c *Context) patients(ctx context.Context) ([]store.Patient, error) {
	roster, err := c.Roster.Patients(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.registered) == 0 {
		return roster, nil
	}

	seen := make(map[string]struct{}, len(roster))
	for i := range roster {
		if p, ok := c.registered[roster[i].ID]; ok {
			roster[i] = p
		}
		seen[roster[i].ID] = struct{}{}
	}
	for id, p := range c.registered {
		if _, ok := seen[id]; !ok {
			roster = append(roster, p)
		}
	}
	return roster, nil
}

// patient looks up one patient, checking the registration overlay before the
// roster. Returns (nil, nil) if not found.
func (c *Context) patient(ctx context.Context, id string) (*store.Patient, error) {
	c.mu.Lock()
	if p, ok := c.registered[id]; ok {
		c.mu.Unlock()
		return &p, nil
	}
	c.mu.Unlock()
	return c.Roster.Patient(ctx, id)
}
