package reception

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/clinvox/clinvox/internal/observe"
	"github.com/clinvox/clinvox/internal/store"
	"github.com/clinvox/clinvox/pkg/provider/s2s"
)

// Dispatcher executes tool-call batches against a session [Context] and the
// site collaborators. Calls within a batch run sequentially, so identity
// side effects from one call (verify, register) are visible to the calls
// after it. Each call is fault-isolated: a panic or collaborator error turns
// into a failure result for that call only, never a dropped batch.
type Dispatcher struct {
	sess    *Context
	log     *slog.Logger
	metrics *observe.Metrics

	now          func() time.Time
	newPatientID func() string
}

// DispatcherOption is a functional option for configuring a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// WithMetrics wires tool dispatch instruments. A nil metrics value disables
// recording.
func WithMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithNowFunc overrides the dispatcher's clock. Used in tests.
func WithNowFunc(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithPatientIDFunc overrides new-patient ID generation. Used in tests.
func WithPatientIDFunc(gen func() string) DispatcherOption {
	return func(d *Dispatcher) { d.newPatientID = gen }
}

// NewDispatcher creates a Dispatcher over the given session context.
func NewDispatcher(sess *Context, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sess: sess,
		log:  slog.Default(),
		now:  time.Now,
		newPatientID: func() string {
			return fmt.Sprintf("106-%04d", rand.IntN(10000))
		},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch executes a batch and returns exactly one result per call,
// correlated by ID. It satisfies [s2s.BatchToolHandler].
func (d *Dispatcher) Dispatch(ctx context.Context, calls []s2s.ToolCall) []s2s.ToolResult {
	results := make([]s2s.ToolResult, len(calls))
	for i, call := range calls {
		start := time.Now()
		payload := d.execute(ctx, call)
		elapsed := time.Since(start)
		d.log.Debug("tool dispatched",
			"tool", call.Name,
			"id", call.ID,
			"duration", elapsed,
		)
		if d.metrics != nil {
			status := "ok"
			if _, failed := payload["error"]; failed {
				status = "error"
			}
			d.metrics.RecordToolDispatch(ctx, call.Name, status, elapsed.Seconds())
		}
		results[i] = s2s.ToolResult{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"result": payload},
		}
	}
	return results
}

// execute runs one tool call, recovering panics into a failure payload.
func (d *Dispatcher) execute(ctx context.Context, call s2s.ToolCall) (payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("tool execution panicked", "tool", call.Name, "panic", r)
			payload = errResult(fmt.Sprintf("tool execution failed: %v", r))
		}
	}()

	args := map[string]any{}
	if len(call.Args) > 0 {
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return errResult("malformed arguments")
		}
	}

	switch call.Name {
	case "navigate_app":
		return d.navigateApp(args)
	case "open_action_modal":
		return d.openActionModal(args)
	case "view_patient_details":
		return d.viewPatientDetails(ctx, args)
	case "verify_patient":
		return d.verifyPatient(ctx, args)
	case "register_new_patient":
		return d.registerNewPatient(ctx, args)
	case "get_my_visits":
		return d.getMyVisits(ctx, args)
	case "find_patient_internal":
		return d.findPatientInternal(ctx, args)
	case "schedule_visit":
		return d.scheduleVisit(ctx, args)
	case "reschedule_visit":
		return d.rescheduleVisit(ctx, args)
	case "log_call_outcome":
		return d.logCallOutcome(ctx, args)
	case "report_adverse_event":
		return d.reportAdverseEvent(ctx, args)
	case "get_study_details":
		return d.getStudyDetails(ctx)
	case "update_patient_status":
		return d.updatePatientStatus(ctx, args)
	default:
		return errResult("Unknown function")
	}
}

// targetPatientID resolves the patient a call acts on: an explicit patientId
// argument wins, otherwise the session's verified-patient shadow.
func (d *Dispatcher) targetPatientID(args map[string]any) string {
	if id := argString(args, "patientId"); id != "" {
		return id
	}
	return d.sess.ActivePatientID()
}

// ── tool implementations ──────────────────────────────────────────────────────

func (d *Dispatcher) navigateApp(args map[string]any) map[string]any {
	view := argString(args, "view")
	if _, ok := validViews[view]; !ok {
		return failure(fmt.Sprintf("Unknown view %q.", view))
	}
	d.sess.Nav.ShowView(view)
	return success(fmt.Sprintf("Navigated to %s view.", view))
}

func (d *Dispatcher) openActionModal(args map[string]any) map[string]any {
	kind := argString(args, "modalType")
	if _, ok := validModals[kind]; !ok {
		return failure("Unknown modal type")
	}
	switch kind {
	case "add_patient":
		d.sess.Nav.ShowView("patients")
		d.sess.Nav.OpenModal(kind)
		return success("Navigated to Patients view and opened 'Add Patient' form.")
	default: // schedule_visit
		d.sess.Nav.ShowView("visits")
		d.sess.Nav.OpenModal(kind)
		return success("Navigated to Calendar view and opened 'Schedule Visit' modal.")
	}
}

func (d *Dispatcher) viewPatientDetails(ctx context.Context, args map[string]any) map[string]any {
	id := argString(args, "patientId")
	p, err := d.sess.patient(ctx, id)
	if err != nil {
		return errResult(err.Error())
	}
	if p == nil {
		return failure(fmt.Sprintf("Patient %s not found.", id))
	}
	d.sess.Nav.ShowPatient(id)
	d.sess.Nav.ShowView("patients")
	return success(fmt.Sprintf("Navigated to details for patient %s", p.FullName()))
}

func (d *Dispatcher) verifyPatient(ctx context.Context, args map[string]any) map[string]any {
	name := strings.ToLower(argString(args, "name"))
	if name == "" {
		return failure("A name is required for verification.")
	}

	patients, err := d.sess.patients(ctx)
	if err != nil {
		return errResult(err.Error())
	}

	matches := findBySubstring(patients, name, true)
	if len(matches) > 1 {
		// An ambiguous match must not verify anyone.
		return failure("Multiple patients match that name. Please ask for their full name or date of birth.")
	}

	var found *store.Patient
	if len(matches) == 1 {
		found = matches[0]
	} else {
		// Spoken names survive transcription badly; fall back to a
		// phonetic match before giving up.
		found = findByPhonetics(patients, name)
	}

	if found == nil {
		return failure("Patient not found with those details. Please ask for clarification or spelling.")
	}

	d.sess.SetActivePatient(found.ID)
	result := success(fmt.Sprintf(
		"Identity verified. Patient: %s (ID: %s). You may now proceed with scheduling, checking visits, or reporting events for this patient.",
		found.FullName(), found.ID,
	))
	result["patientId"] = found.ID
	return result
}

func (d *Dispatcher) registerNewPatient(ctx context.Context, args map[string]any) map[string]any {
	firstName := argString(args, "firstName")
	lastName := argString(args, "lastName")
	dob := argString(args, "dateOfBirth")
	if firstName == "" || lastName == "" || dob == "" {
		return failure("First name, last name, and date of birth are required.")
	}

	gender := store.Gender(argString(args, "gender"))
	if gender == "" {
		gender = store.GenderOther
	}

	study, err := d.sess.Study.ActiveStudy(ctx)
	if err != nil {
		return errResult(err.Error())
	}

	p := store.Patient{
		ID:             d.newPatientID(),
		FirstName:      firstName,
		LastName:       lastName,
		DateOfBirth:    dob,
		Gender:         gender,
		Status:         store.StatusScreening,
		SiteID:         "SITE-001",
		StudyID:        study.ID,
		EnrollmentDate: d.now().Format("2006-01-02"),
	}
	if err := d.sess.Roster.AddPatient(ctx, &p); err != nil {
		return errResult(err.Error())
	}

	// Visible to the rest of this batch immediately.
	d.sess.SetActivePatient(p.ID)
	d.sess.RecordRegistered(p)

	result := success(fmt.Sprintf(
		"Patient %s %s registered with ID %s. You can now schedule their Screening visit.",
		firstName, lastName, p.ID,
	))
	result["patientId"] = p.ID
	return result
}

func (d *Dispatcher) getMyVisits(ctx context.Context, args map[string]any) map[string]any {
	id := d.targetPatientID(args)
	if id == "" {
		return errResult("No patient verified. Please verify identity first.")
	}

	p, err := d.sess.patient(ctx, id)
	if err != nil {
		return errResult(err.Error())
	}
	if p == nil {
		return errResult("Patient not found")
	}

	return map[string]any{
		"patientName": p.FullName(),
		"visits":      p.Visits,
		"message":     fmt.Sprintf("Found %d visits for %s.", len(p.Visits), p.FullName()),
	}
}

func (d *Dispatcher) findPatientInternal(ctx context.Context, args map[string]any) map[string]any {
	name := strings.ToLower(argString(args, "name"))

	patients, err := d.sess.patients(ctx)
	if err != nil {
		return errResult(err.Error())
	}

	var matches []store.Patient
	for i := range patients {
		if strings.Contains(strings.ToLower(patients[i].FullName()), name) {
			matches = append(matches, patients[i])
		}
	}

	summaries := make([]map[string]any, len(matches))
	for i, p := range matches {
		summaries[i] = map[string]any{
			"id":     p.ID,
			"name":   p.FullName(),
			"status": p.Status,
			"dob":    p.DateOfBirth,
		}
	}

	var message string
	switch len(matches) {
	case 1:
		d.sess.SetActivePatient(matches[0].ID)
		d.sess.Nav.ShowPatient(matches[0].ID)
		d.sess.Nav.ShowView("patients")
		message = fmt.Sprintf("One patient found: %s. I have pulled up their record.", matches[0].FullName())
	case 0:
		message = "No patients found matching that name."
	default:
		message = "Multiple patients found. Please clarify."
	}

	return map[string]any{
		"count":    len(matches),
		"patients": summaries,
		"message":  message,
	}
}

func (d *Dispatcher) scheduleVisit(ctx context.Context, args map[string]any) map[string]any {
	date := argString(args, "date")
	visitType := argString(args, "visitType")
	if date == "" || visitType == "" {
		return failure("Both date and visit type are required.")
	}

	id := d.targetPatientID(args)
	if id == "" {
		return errResult("Patient identity missing.")
	}

	notes := "Scheduled via Staff Voice"
	if d.sess.Mode == ModePatient {
		notes = "Scheduled via Phone"
	}

	_, err := d.sess.Visits.AddVisit(ctx, id, store.Visit{
		Name:   visitType,
		Date:   date,
		Status: store.VisitScheduled,
		Notes:  notes,
	})
	if err != nil {
		return errResult(err.Error())
	}
	return success(fmt.Sprintf("Visit scheduled for %s.", date))
}

func (d *Dispatcher) rescheduleVisit(ctx context.Context, args map[string]any) map[string]any {
	newDate := argString(args, "newDate")
	if newDate == "" {
		return failure("A new date is required.")
	}

	id := d.targetPatientID(args)
	if id == "" {
		return errResult("Patient identity missing.")
	}

	visitID := argString(args, "visitId")
	if visitID == "" {
		visitID = "V1"
	}

	if err := d.sess.Visits.MoveVisit(ctx, id, visitID, newDate); err != nil {
		return errResult(err.Error())
	}
	return success(fmt.Sprintf("Visit rescheduled to %s.", newDate))
}

func (d *Dispatcher) logCallOutcome(ctx context.Context, args map[string]any) map[string]any {
	alert := store.TaskAlert{
		Category:  store.AlertCategory(argString(args, "category")),
		Priority:  store.AlertPriority(argString(args, "priority")),
		Message:   argString(args, "message"),
		PatientID: argString(args, "patientId"),
	}
	if study, err := d.sess.Study.ActiveStudy(ctx); err == nil {
		alert.StudyID = study.ID
	}

	if _, err := d.sess.Alerts.AddAlert(ctx, alert); err != nil {
		return errResult(err.Error())
	}
	return success("Alert logged to dashboard.")
}

func (d *Dispatcher) reportAdverseEvent(ctx context.Context, args map[string]any) map[string]any {
	id := d.targetPatientID(args)
	if id == "" {
		return errResult("Patient identity missing. Verify patient first.")
	}

	_, err := d.sess.Events.AddAdverseEvent(ctx, id, store.AdverseEvent{
		Description:  argString(args, "description"),
		Severity:     store.AESeverity(argString(args, "severity")),
		DateReported: d.now().Format("2006-01-02"),
		Status:       store.AEOngoing,
	})
	if err != nil {
		return errResult(err.Error())
	}
	return success("Adverse Event reported and logged.")
}

func (d *Dispatcher) getStudyDetails(ctx context.Context) map[string]any {
	study, err := d.sess.Study.ActiveStudy(ctx)
	if err != nil {
		return errResult(err.Error())
	}
	patients, err := d.sess.patients(ctx)
	if err != nil {
		return errResult(err.Error())
	}

	enrolled := 0
	for i := range patients {
		switch patients[i].Status {
		case store.StatusActive, store.StatusCompleted, store.StatusEnrolled:
			enrolled++
		}
	}

	percentage := "0%"
	if study.RecruitmentTarget > 0 {
		percentage = fmt.Sprintf("%d%%", int(math.Round(float64(enrolled)/float64(study.RecruitmentTarget)*100)))
	}

	return map[string]any{
		"title":          study.Title,
		"protocolNumber": study.ProtocolNumber,
		"phase":          study.Phase,
		"status":         study.Status,
		"description":    study.Description,
		"recruitment": map[string]any{
			"enrolled":   enrolled,
			"target":     study.RecruitmentTarget,
			"percentage": percentage,
		},
		"sponsor": study.Sponsor,
	}
}

func (d *Dispatcher) updatePatientStatus(ctx context.Context, args map[string]any) map[string]any {
	status := store.PatientStatus(argString(args, "status"))
	if _, ok := store.ValidPatientStatuses[status]; !ok {
		return failure(fmt.Sprintf("Unknown patient status %q.", status))
	}

	id := d.targetPatientID(args)
	if id == "" {
		return errResult("Patient identity missing.")
	}

	p, err := d.sess.patient(ctx, id)
	if err != nil {
		return errResult(err.Error())
	}
	if p == nil {
		return errResult("Patient not found")
	}

	p.Status = status
	if err := d.sess.Roster.UpdatePatient(ctx, p); err != nil {
		return errResult(err.Error())
	}
	return success(fmt.Sprintf("Status for %s updated to %s.", p.FullName(), status))
}

// ── lookup helpers ────────────────────────────────────────────────────────────

// findBySubstring returns every patient whose full name (or, when
// matchEmail is set, contact email) contains the lowercased query.
func findBySubstring(patients []store.Patient, query string, matchEmail bool) []*store.Patient {
	var matches []*store.Patient
	for i := range patients {
		p := &patients[i]
		if strings.Contains(strings.ToLower(p.FullName()), query) {
			matches = append(matches, p)
			continue
		}
		if matchEmail && p.ContactEmail != "" &&
			strings.Contains(strings.ToLower(p.ContactEmail), query) {
			matches = append(matches, p)
		}
	}
	return matches
}

// findByPhonetics matches the spoken query against patient full names and
// returns the patient behind the winning name, if any.
func findByPhonetics(patients []store.Patient, query string) *store.Patient {
	names := make([]string, len(patients))
	for i := range patients {
		names[i] = patients[i].FullName()
	}
	name, _, ok := matchName(query, names)
	if !ok {
		return nil
	}
	for i := range patients {
		if patients[i].FullName() == name {
			return &patients[i]
		}
	}
	return nil
}

// ── result payload helpers ────────────────────────────────────────────────────

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func success(message string) map[string]any {
	return map[string]any{"success": true, "message": message}
}

func failure(message string) map[string]any {
	return map[string]any{"success": false, "message": message}
}

func errResult(message string) map[string]any {
	return map[string]any{"error": message}
}
