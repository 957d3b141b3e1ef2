package reception

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/clinvox/clinvox/internal/store"
	"github.com/clinvox/clinvox/pkg/provider/s2s"
)

// navRecorder records Navigator calls for assertions.
type navRecorder struct {
	views    []string
	patients []string
	modals   []string
}

func (n *navRecorder) ShowView(view string)  { n.views = append(n.views, view) }
func (n *navRecorder) ShowPatient(id string) { n.patients = append(n.patients, id) }
func (n *navRecorder) OpenModal(kind string) { n.modals = append(n.modals, kind) }

var testToday = time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T, mode Mode) (*Dispatcher, *Context, *store.Memory, *navRecorder) {
	t.Helper()
	mem := store.NewMemoryWithDemoData()
	nav := &navRecorder{}
	sess := NewContext(mode, mem, nav)
	d := NewDispatcher(sess,
		WithNowFunc(func() time.Time { return testToday }),
		WithPatientIDFunc(func() string { return "106-0042" }),
	)
	return d, sess, mem, nav
}

func mkCall(id, name string, args map[string]any) s2s.ToolCall {
	data, _ := json.Marshal(args)
	return s2s.ToolCall{ID: id, Name: name, Args: data}
}

// payload unwraps the {result: ...} envelope of one ToolResult.
func payload(t *testing.T, r s2s.ToolResult) map[string]any {
	t.Helper()
	inner, ok := r.Response["result"].(map[string]any)
	if !ok {
		t.Fatalf("result payload missing or malformed: %+v", r.Response)
	}
	return inner
}

func TestDispatch_OneResultPerCall_CorrelatedByID(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDispatcher(t, ModeStaff)
	calls := []s2s.ToolCall{
		mkCall("c1", "get_study_details", nil),
		mkCall("c2", "navigate_app", map[string]any{"view": "dashboard"}),
		mkCall("c3", "no_such_tool", nil),
	}

	results := d.Dispatch(context.Background(), calls)
	if len(results) != len(calls) {
		t.Fatalf("got %d results; want %d", len(results), len(calls))
	}
	for i, r := range results {
		if r.ID != calls[i].ID || r.Name != calls[i].Name {
			t.Errorf("result %d = {%s %s}; want {%s %s}", i, r.ID, r.Name, calls[i].ID, calls[i].Name)
		}
	}
	if msg, _ := payload(t, results[2])["error"].(string); msg != "Unknown function" {
		t.Errorf("unknown tool payload = %v; want Unknown function error", payload(t, results[2]))
	}
}

func TestVerifyPatient_UniqueSubstringMatch(t *testing.T) {
	t.Parallel()

	d, sess, _, _ := newTestDispatcher(t, ModePatient)
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "verify_patient", map[string]any{"name": "Alice"}),
	})

	got := payload(t, results[0])
	if got["success"] != true {
		t.Fatalf("verify payload = %v; want success", got)
	}
	if got["patientId"] != "101-002" {
		t.Errorf("patientId = %v; want 101-002", got["patientId"])
	}
	if sess.ActivePatientID() != "101-002" {
		t.Errorf("active patient = %q; want 101-002", sess.ActivePatientID())
	}
}

func TestVerifyPatient_AmbiguousDoesNotVerify(t *testing.T) {
	t.Parallel()

	d, sess, mem, _ := newTestDispatcher(t, ModePatient)
	second := &store.Patient{
		ID: "101-004", FirstName: "Bob", LastName: "Smith",
		Gender: store.GenderMale, Status: store.StatusScreening,
		SiteID: "SITE-001", StudyID: "STUDY-001",
	}
	if err := mem.AddPatient(context.Background(), second); err != nil {
		t.Fatalf("AddPatient: %v", err)
	}

	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "verify_patient", map[string]any{"name": "Smith"}),
	})

	got := payload(t, results[0])
	if got["success"] != false {
		t.Fatalf("ambiguous verify payload = %v; want failure", got)
	}
	if sess.ActivePatientID() != "" {
		t.Errorf("ambiguous verify set active patient %q; want none", sess.ActivePatientID())
	}
}

func TestVerifyPatient_EmailFallback(t *testing.T) {
	t.Parallel()

	d, sess, _, _ := newTestDispatcher(t, ModePatient)
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "verify_patient", map[string]any{"name": "j.doe@example.com"}),
	})

	if payload(t, results[0])["success"] != true {
		t.Fatalf("email verify payload = %v; want success", payload(t, results[0]))
	}
	if sess.ActivePatientID() != "101-001" {
		t.Errorf("active patient = %q; want 101-001", sess.ActivePatientID())
	}
}

func TestVerifyPatient_PhoneticFallback(t *testing.T) {
	t.Parallel()

	d, sess, _, _ := newTestDispatcher(t, ModePatient)
	// "Jon Dough" is how a transcript commonly renders "John Doe".
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "verify_patient", map[string]any{"name": "Jon Dough"}),
	})

	got := payload(t, results[0])
	if got["success"] != true {
		t.Fatalf("phonetic verify payload = %v; want success", got)
	}
	if sess.ActivePatientID() != "101-001" {
		t.Errorf("active patient = %q; want 101-001 (John Doe)", sess.ActivePatientID())
	}
}

func TestVerifyPatient_NotFound(t *testing.T) {
	t.Parallel()

	d, sess, _, _ := newTestDispatcher(t, ModePatient)
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "verify_patient", map[string]any{"name": "Zebulon Quex"}),
	})

	got := payload(t, results[0])
	if got["success"] != false {
		t.Fatalf("payload = %v; want failure", got)
	}
	if sess.ActivePatientID() != "" {
		t.Errorf("no-match verify set active patient %q; want none", sess.ActivePatientID())
	}
}

func TestRegisterThenSchedule_SameBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _, mem, _ := newTestDispatcher(t, ModePatient)

	results := d.Dispatch(ctx, []s2s.ToolCall{
		mkCall("c1", "register_new_patient", map[string]any{
			"firstName": "Maria", "lastName": "Lopez", "dateOfBirth": "1990-03-15",
		}),
		mkCall("c2", "schedule_visit", map[string]any{
			"date": "2024-02-01", "visitType": "Screening",
		}),
	})

	if payload(t, results[0])["success"] != true {
		t.Fatalf("register payload = %v; want success", payload(t, results[0]))
	}
	if payload(t, results[1])["success"] != true {
		t.Fatalf("same-batch schedule payload = %v; want success", payload(t, results[1]))
	}

	p, err := mem.Patient(ctx, "106-0042")
	if err != nil || p == nil {
		t.Fatalf("registered patient not in store: %v, %v", p, err)
	}
	if p.Status != store.StatusScreening || p.Gender != store.GenderOther {
		t.Errorf("registered patient defaults = %q/%q; want Screening/Other", p.Status, p.Gender)
	}
	if p.EnrollmentDate != "2024-01-20" {
		t.Errorf("enrollment date = %q; want 2024-01-20", p.EnrollmentDate)
	}
	if len(p.Visits) != 1 {
		t.Fatalf("registered patient has %d visits; want the same-batch visit", len(p.Visits))
	}
	if p.Visits[0].Notes != "Scheduled via Phone" {
		t.Errorf("visit notes = %q; want Scheduled via Phone", p.Visits[0].Notes)
	}
}

func TestVerifyThenSchedule_SameBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _, mem, _ := newTestDispatcher(t, ModeStaff)

	results := d.Dispatch(ctx, []s2s.ToolCall{
		mkCall("c1", "verify_patient", map[string]any{"name": "Alice"}),
		mkCall("c2", "schedule_visit", map[string]any{
			"date": "2024-02-10", "visitType": "Baseline",
		}),
	})

	if payload(t, results[1])["success"] != true {
		t.Fatalf("schedule payload = %v; want success", payload(t, results[1]))
	}

	p, _ := mem.Patient(ctx, "101-002")
	if len(p.Visits) != 2 {
		t.Fatalf("Alice has %d visits; want 2", len(p.Visits))
	}
	var found bool
	for _, v := range p.Visits {
		if v.Date == "2024-02-10" && v.Notes == "Scheduled via Staff Voice" {
			found = true
		}
	}
	if !found {
		t.Errorf("scheduled visit not attributed to verified patient: %+v", p.Visits)
	}
}

func TestGetMyVisits_RequiresVerification(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDispatcher(t, ModePatient)
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "get_my_visits", nil),
	})

	got := payload(t, results[0])
	if got["error"] != "No patient verified. Please verify identity first." {
		t.Errorf("payload = %v; want the no-verification error", got)
	}
}

func TestGetMyVisits_Verified(t *testing.T) {
	t.Parallel()

	d, sess, _, _ := newTestDispatcher(t, ModePatient)
	sess.SetActivePatient("101-001")

	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "get_my_visits", nil),
	})

	got := payload(t, results[0])
	if got["patientName"] != "John Doe" {
		t.Errorf("patientName = %v; want John Doe", got["patientName"])
	}
	visits, ok := got["visits"].([]store.Visit)
	if !ok || len(visits) != 5 {
		t.Errorf("visits = %v; want John Doe's 5 visits", got["visits"])
	}
}

func TestDispatch_PanicIsolatedToOneCall(t *testing.T) {
	t.Parallel()

	mem := store.NewMemoryWithDemoData()
	sess := NewContext(ModeStaff, mem, nil)
	sess.Roster = panicRoster{Roster: mem}
	d := NewDispatcher(sess, WithNowFunc(func() time.Time { return testToday }))

	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "verify_patient", map[string]any{"name": "Alice"}),
		mkCall("c2", "navigate_app", map[string]any{"view": "dashboard"}),
	})

	errMsg, _ := payload(t, results[0])["error"].(string)
	if !strings.Contains(errMsg, "tool execution failed") {
		t.Errorf("panicking call payload = %v; want failure result", payload(t, results[0]))
	}
	if payload(t, results[1])["success"] != true {
		t.Errorf("sibling call payload = %v; want unaffected success", payload(t, results[1]))
	}
}

// panicRoster panics on roster reads to exercise per-call fault isolation.
type panicRoster struct{ store.Roster }

func (panicRoster) Patients(context.Context) ([]store.Patient, error) {
	panic("roster backend unavailable")
}

func TestRescheduleVisit_DefaultsToFirstVisit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, sess, mem, _ := newTestDispatcher(t, ModePatient)
	sess.SetActivePatient("101-001")

	results := d.Dispatch(ctx, []s2s.ToolCall{
		mkCall("c1", "reschedule_visit", map[string]any{"newDate": "2024-03-01"}),
	})
	if payload(t, results[0])["success"] != true {
		t.Fatalf("payload = %v; want success", payload(t, results[0]))
	}

	p, _ := mem.Patient(ctx, "101-001")
	var v1 *store.Visit
	for i := range p.Visits {
		if p.Visits[i].ID == "V1" {
			v1 = &p.Visits[i]
		}
	}
	if v1 == nil || v1.Date != "2024-03-01" || v1.Status != store.VisitScheduled {
		t.Errorf("V1 after reschedule = %+v; want date 2024-03-01, Scheduled", v1)
	}
}

func TestReportAdverseEvent_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _, mem, _ := newTestDispatcher(t, ModePatient)

	results := d.Dispatch(ctx, []s2s.ToolCall{
		mkCall("c1", "verify_patient", map[string]any{"name": "John Doe"}),
		mkCall("c2", "report_adverse_event", map[string]any{
			"description": "Hospitalized overnight with fever", "severity": "Severe",
		}),
	})
	if payload(t, results[1])["success"] != true {
		t.Fatalf("AE payload = %v; want success", payload(t, results[1]))
	}

	p, _ := mem.Patient(ctx, "101-001")
	if len(p.AdverseEvents) != 1 {
		t.Fatalf("patient has %d adverse events; want exactly 1", len(p.AdverseEvents))
	}
	ae := p.AdverseEvents[0]
	if ae.Status != store.AEOngoing || ae.DateReported != "2024-01-20" || ae.Severity != store.SeveritySevere {
		t.Errorf("adverse event = %+v; want Ongoing / 2024-01-20 / Severe", ae)
	}
}

func TestReportAdverseEvent_RequiresIdentity(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDispatcher(t, ModePatient)
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "report_adverse_event", map[string]any{
			"description": "headache", "severity": "Mild",
		}),
	})
	if _, ok := payload(t, results[0])["error"]; !ok {
		t.Errorf("payload = %v; want identity-missing error", payload(t, results[0]))
	}
}

func TestLogCallOutcome_NoIdentityRequired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _, mem, _ := newTestDispatcher(t, ModePatient)

	results := d.Dispatch(ctx, []s2s.ToolCall{
		mkCall("c1", "log_call_outcome", map[string]any{
			"category": "Inquiry", "priority": "Low", "message": "Caller asked about parking.",
		}),
	})
	if payload(t, results[0])["success"] != true {
		t.Fatalf("payload = %v; want success", payload(t, results[0]))
	}

	alerts, _ := mem.Alerts(ctx)
	if len(alerts) == 0 || alerts[0].Category != store.AlertInquiry || alerts[0].StudyID != "STUDY-001" {
		t.Errorf("alert = %+v; want Inquiry alert for the active study", alerts)
	}
}

func TestGetStudyDetails_RecruitmentProgress(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDispatcher(t, ModeStaff)
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "get_study_details", nil),
	})

	got := payload(t, results[0])
	if got["protocolNumber"] != "NEXUS-X01" {
		t.Errorf("protocolNumber = %v; want NEXUS-X01", got["protocolNumber"])
	}
	rec, ok := got["recruitment"].(map[string]any)
	if !ok {
		t.Fatalf("recruitment missing: %v", got)
	}
	// Demo roster: John Doe Active, Robert Jones Completed, Alice Smith Screening.
	if rec["enrolled"] != 2 || rec["target"] != 50 || rec["percentage"] != "4%" {
		t.Errorf("recruitment = %v; want enrolled 2, target 50, 4%%", rec)
	}
}

func TestNavigateApp(t *testing.T) {
	t.Parallel()

	d, _, _, nav := newTestDispatcher(t, ModeStaff)
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "navigate_app", map[string]any{"view": "reports"}),
		mkCall("c2", "navigate_app", map[string]any{"view": "basement"}),
	})

	if payload(t, results[0])["success"] != true {
		t.Errorf("valid view payload = %v; want success", payload(t, results[0]))
	}
	if payload(t, results[1])["success"] != false {
		t.Errorf("invalid view payload = %v; want failure", payload(t, results[1]))
	}
	if len(nav.views) != 1 || nav.views[0] != "reports" {
		t.Errorf("navigator views = %v; want [reports]", nav.views)
	}
}

func TestOpenActionModal(t *testing.T) {
	t.Parallel()

	d, _, _, nav := newTestDispatcher(t, ModeStaff)
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "open_action_modal", map[string]any{"modalType": "add_patient"}),
		mkCall("c2", "open_action_modal", map[string]any{"modalType": "launch_rocket"}),
	})

	if payload(t, results[0])["success"] != true {
		t.Errorf("payload = %v; want success", payload(t, results[0]))
	}
	if len(nav.modals) != 1 || nav.modals[0] != "add_patient" || nav.views[0] != "patients" {
		t.Errorf("navigator calls = %v %v; want patients view + add_patient modal", nav.views, nav.modals)
	}
	if payload(t, results[1])["success"] != false {
		t.Errorf("unknown modal payload = %v; want failure", payload(t, results[1]))
	}
}

func TestViewPatientDetails(t *testing.T) {
	t.Parallel()

	d, _, _, nav := newTestDispatcher(t, ModeStaff)
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "view_patient_details", map[string]any{"patientId": "101-003"}),
		mkCall("c2", "view_patient_details", map[string]any{"patientId": "999-999"}),
	})

	got := payload(t, results[0])
	if got["success"] != true || !strings.Contains(got["message"].(string), "Robert Jones") {
		t.Errorf("payload = %v; want success naming Robert Jones", got)
	}
	if len(nav.patients) != 1 || nav.patients[0] != "101-003" {
		t.Errorf("navigator patients = %v; want [101-003]", nav.patients)
	}
	if payload(t, results[1])["success"] != false {
		t.Errorf("unknown patient payload = %v; want failure", payload(t, results[1]))
	}
}

func TestFindPatientInternal(t *testing.T) {
	t.Parallel()

	d, sess, _, nav := newTestDispatcher(t, ModeStaff)

	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "find_patient_internal", map[string]any{"name": "robert"}),
	})
	got := payload(t, results[0])
	if got["count"] != 1 {
		t.Fatalf("count = %v; want 1", got["count"])
	}
	if sess.ActivePatientID() != "101-003" {
		t.Errorf("single match should set context patient, got %q", sess.ActivePatientID())
	}
	if len(nav.patients) != 1 || nav.patients[0] != "101-003" {
		t.Errorf("single match should navigate to the patient, nav = %v", nav.patients)
	}
}

func TestFindPatientInternal_MultipleMatches(t *testing.T) {
	t.Parallel()

	d, sess, _, _ := newTestDispatcher(t, ModeStaff)

	// "o" hits John Doe and Robert Jones.
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		mkCall("c1", "find_patient_internal", map[string]any{"name": "o"}),
	})
	got := payload(t, results[0])
	if got["count"] == 1 {
		t.Fatalf("count = %v; want multiple matches", got["count"])
	}
	if sess.ActivePatientID() != "" {
		t.Errorf("ambiguous lookup set active patient %q; want none", sess.ActivePatientID())
	}
}

func TestUpdatePatientStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, sess, mem, _ := newTestDispatcher(t, ModeStaff)
	sess.SetActivePatient("101-002")

	results := d.Dispatch(ctx, []s2s.ToolCall{
		mkCall("c1", "update_patient_status", map[string]any{"status": "Enrolled"}),
		mkCall("c2", "update_patient_status", map[string]any{"status": "Abducted"}),
	})

	if payload(t, results[0])["success"] != true {
		t.Fatalf("payload = %v; want success", payload(t, results[0]))
	}
	p, _ := mem.Patient(ctx, "101-002")
	if p.Status != store.StatusEnrolled {
		t.Errorf("status = %q; want Enrolled", p.Status)
	}
	if payload(t, results[1])["success"] != false {
		t.Errorf("invalid status payload = %v; want failure", payload(t, results[1]))
	}
}

func TestContext_ClearResetsShadow(t *testing.T) {
	t.Parallel()

	_, sess, _, _ := newTestDispatcher(t, ModePatient)
	sess.SetActivePatient("101-001")
	sess.RecordRegistered(store.Patient{ID: "106-9999", FirstName: "X", LastName: "Y"})

	sess.Clear()

	if sess.ActivePatientID() != "" {
		t.Errorf("active patient after Clear = %q; want none", sess.ActivePatientID())
	}
	p, err := sess.patient(context.Background(), "106-9999")
	if err != nil {
		t.Fatalf("patient: %v", err)
	}
	if p != nil {
		t.Error("registration overlay should be dropped by Clear")
	}
}
