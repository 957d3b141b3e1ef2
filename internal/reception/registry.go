// Package reception implements the clinical-site voice receptionist: the
// fixed tool catalog offered to the conversational model, the per-mode system
// instructions, the per-session context with its verified-patient shadow, and
// the dispatcher that resolves tool-call batches against live site state.
package reception

import "github.com/clinvox/clinvox/pkg/provider/s2s"

// Views the model may navigate to via navigate_app.
var validViews = map[string]struct{}{
	"dashboard": {},
	"patients":  {},
	"visits":    {},
	"reports":   {},
	"study":     {},
	"settings":  {},
}

// Modal kinds the model may open via open_action_modal.
var validModals = map[string]struct{}{
	"add_patient":    {},
	"schedule_visit": {},
}

func stringProp(desc string) map[string]any {
	p := map[string]any{"type": "string"}
	if desc != "" {
		p["description"] = desc
	}
	return p
}

func enumProp(values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Declarations returns the fixed tool catalog. The catalog is identical in
// both conversation modes; the system instructions steer the model toward
// the subset that applies.
func Declarations() []s2s.ToolDeclaration {
	return []s2s.ToolDeclaration{
		{
			Name:        "navigate_app",
			Description: "Navigate the application to a specific main view (dashboard, patients, visits, reports, study, settings).",
			Parameters: objectSchema(map[string]any{
				"view": enumProp("dashboard", "patients", "visits", "reports", "study", "settings"),
			}, "view"),
		},
		{
			Name:        "open_action_modal",
			Description: "Open a specific action modal in the UI to help the user perform a task visually. Use this when the user wants to manually add a patient or manually schedule a visit.",
			Parameters: objectSchema(map[string]any{
				"modalType": enumProp("add_patient", "schedule_visit"),
			}, "modalType"),
		},
		{
			Name:        "view_patient_details",
			Description: "Navigate to the patient detail view for a specific patient ID.",
			Parameters: objectSchema(map[string]any{
				"patientId": stringProp(""),
			}, "patientId"),
		},
		{
			Name:        "verify_patient",
			Description: "Verify a patient identity by name and date of birth. Upon success, the patient is considered \"verified\" for the remainder of the session, and you can perform actions for them without asking for ID again.",
			Parameters: objectSchema(map[string]any{
				"name": stringProp("The full name of the patient."),
				"dob":  stringProp("The date of birth (YYYY-MM-DD) or approximate year."),
			}, "name"),
		},
		{
			Name:        "register_new_patient",
			Description: "Register a new patient in the system. Use this when a caller identifies as a new patient. After registration, the patient is automatically verified.",
			Parameters: objectSchema(map[string]any{
				"firstName":   stringProp(""),
				"lastName":    stringProp(""),
				"dateOfBirth": stringProp("YYYY-MM-DD"),
				"gender":      enumProp("Male", "Female", "Other"),
			}, "firstName", "lastName", "dateOfBirth"),
		},
		{
			Name:        "get_my_visits",
			Description: "Get a list of past and upcoming visits for the currently verified patient. Use this if the user asks \"When is my next appointment?\" or \"What visits have I done?\".",
			Parameters: objectSchema(map[string]any{
				"patientId": stringProp("Optional patient ID if known."),
			}),
		},
		{
			Name:        "find_patient_internal",
			Description: "Look up a patient by name to retrieve status and details (Staff Internal Use Only). Sets the context to this patient for follow-up questions.",
			Parameters: objectSchema(map[string]any{
				"name": stringProp(""),
			}, "name"),
		},
		{
			Name:        "schedule_visit",
			Description: "Schedule a new visit. If the patient is already verified in this session, you do NOT need to ask for their name/ID again.",
			Parameters: objectSchema(map[string]any{
				"patientId": stringProp("The patient ID (optional if patient is already verified)"),
				"date":      stringProp("YYYY-MM-DD format"),
				"visitType": stringProp(""),
			}, "date", "visitType"),
		},
		{
			Name:        "reschedule_visit",
			Description: "Reschedule an existing visit. If the patient is already verified, ID is not required.",
			Parameters: objectSchema(map[string]any{
				"patientId": stringProp("The patient ID (optional if patient is already verified)"),
				"visitId":   stringProp("The ID of the visit to reschedule (optional)"),
				"newDate":   stringProp("YYYY-MM-DD format"),
			}, "newDate"),
		},
		{
			Name:        "log_call_outcome",
			Description: "Log the outcome of a call as a dashboard alert/task.",
			Parameters: objectSchema(map[string]any{
				"category":  enumProp("Adverse Event", "New Patient", "Inquiry", "Appointment", "General"),
				"priority":  enumProp("High", "Medium", "Low"),
				"message":   stringProp("A concise summary of the alert."),
				"patientId": stringProp("Optional patient ID if known."),
			}, "category", "priority", "message"),
		},
		{
			Name:        "report_adverse_event",
			Description: "Report a clinical Adverse Event. Use this when a patient reports side effects, pain, hospitalization, or new medical conditions.",
			Parameters: objectSchema(map[string]any{
				"patientId":   stringProp("Optional patient ID if known."),
				"description": stringProp("Description of the event"),
				"severity":    enumProp("Mild", "Moderate", "Severe", "Life-Threatening"),
			}, "description", "severity"),
		},
		{
			Name:        "get_study_details",
			Description: "Get details about the current clinical study, including title, phase, description, status, and recruitment progress. Useful for answering general inquiries.",
			Parameters: objectSchema(map[string]any{
				"query": stringProp("Specific aspect of study to retrieve, or null for general summary"),
			}),
		},
		{
			Name:        "update_patient_status",
			Description: "Update a patient's study status (Staff Internal Use Only). Valid statuses: Screening, Enrolled, Active, Completed, Withdrawn, Screen Failed.",
			Parameters: objectSchema(map[string]any{
				"patientId": stringProp("The patient ID (optional if a patient is in context)"),
				"status":    enumProp("Screening", "Enrolled", "Active", "Completed", "Withdrawn", "Screen Failed"),
			}, "status"),
		},
	}
}
