package store

// Demo dataset for the in-memory store: one oncology site, two studies, and
// a small roster. Matches the data the site UI ships with so voice sessions
// against a fresh deployment have something to talk about.

func demoSites() []Site {
	return []Site{
		{
			ID:                    "SITE-001",
			Name:                  "General Hospital - Oncology",
			Location:              "Boston, MA",
			PrincipalInvestigator: "Dr. Sarah Chen",
		},
	}
}

func demoStudies() []StudyDetails {
	return []StudyDetails{
		{
			ID:             "STUDY-001",
			ProtocolNumber: "NEXUS-X01",
			Title:          "Phase II Study of Novel Immunotherapy in Solid Tumors",
			Phase:          "II",
			Sponsor:        "BioGen Nexus",
			Description:    "A multicenter, open-label study to evaluate the safety and efficacy of NX-202 in patients with advanced solid tumors.",
			InclusionCriteria: "1. Age >= 18 years.\n2. Histologically confirmed solid tumor.\n" +
				"3. ECOG Performance Status 0-1.\n4. Adequate organ function.",
			ExclusionCriteria: "1. Active infection requiring IV antibiotics.\n" +
				"2. History of cardiac disease (NYHA Class III/IV).\n3. Pregnant or breastfeeding.\n" +
				"4. Prior treatment with investigational agent within 4 weeks.",
			RecruitmentTarget: 50,
			Status:            StudyActive,
			Investigators: []Investigator{
				{ID: "INV-001", Name: "Dr. Sarah Chen", Role: "Principal Investigator", Email: "schen@nexus.test"},
				{ID: "INV-002", Name: "James Wilson", Role: "Study Coordinator", Email: "jwilson@nexus.test"},
			},
		},
		{
			ID:                "STUDY-002",
			ProtocolNumber:    "CARDIO-Z99",
			Title:             "Phase III Evaluation of Lipid Lowering Agent",
			Phase:             "III",
			Sponsor:           "HeartHealth Inc.",
			Description:       "Randomized, double-blind study comparing Z99 to placebo in high-risk cardiac patients.",
			InclusionCriteria: "1. Age 45-80.\n2. LDL > 160 mg/dL.\n3. History of MI.",
			ExclusionCriteria: "1. Liver disease.\n2. Uncontrolled hypertension.",
			RecruitmentTarget: 200,
			Status:            StudyPending,
			Investigators: []Investigator{
				{ID: "INV-003", Name: "Dr. Emily Blunt", Role: "Principal Investigator", Email: "eblunt@nexus.test"},
			},
		},
	}
}

func demoPatients() []Patient {
	return []Patient{
		{
			ID:                    "101-001",
			FirstName:             "John",
			LastName:              "Doe",
			DateOfBirth:           "1985-04-12",
			Gender:                GenderMale,
			Status:                StatusActive,
			SiteID:                "SITE-001",
			StudyID:               "STUDY-001",
			EnrollmentDate:        "2023-11-01",
			ContactEmail:          "j.doe@example.com",
			MedicalHistorySummary: "Hypertension diagnosed 2018. No known allergies. Previous surgery: Appendectomy (2005).",
			Visits: []Visit{
				{ID: "V1", Name: "Screening", Date: "2023-10-25", Status: VisitCompleted, Notes: "Eligible. Consented."},
				{ID: "V2", Name: "Baseline", Date: "2023-11-01", Status: VisitCompleted},
				{ID: "V3", Name: "Week 4", Date: "2023-11-29", Status: VisitCompleted},
				{ID: "V4", Name: "Week 8", Date: "2023-12-27", Status: VisitCompleted},
				{ID: "V5", Name: "Week 12", Date: "2024-01-24", Status: VisitScheduled},
			},
		},
		{
			ID:                    "101-002",
			FirstName:             "Alice",
			LastName:              "Smith",
			DateOfBirth:           "1979-09-23",
			Gender:                GenderFemale,
			Status:                StatusScreening,
			SiteID:                "SITE-001",
			StudyID:               "STUDY-001",
			ContactEmail:          "alice.s@example.com",
			MedicalHistorySummary: "Type 2 Diabetes (controlled). BMI 28.",
			Visits: []Visit{
				{ID: "V1", Name: "Screening", Date: "2024-01-10", Status: VisitCompleted, Notes: "Labs pending review."},
			},
		},
		{
			ID:                    "101-003",
			FirstName:             "Robert",
			LastName:              "Jones",
			DateOfBirth:           "1965-11-30",
			Gender:                GenderMale,
			Status:                StatusCompleted,
			SiteID:                "SITE-001",
			StudyID:               "STUDY-001",
			EnrollmentDate:        "2023-06-01",
			MedicalHistorySummary: "Post-menopausal. Osteoporosis.",
			Visits: []Visit{
				{ID: "V1", Name: "Screening", Date: "2023-05-20", Status: VisitCompleted},
				{ID: "VEnd", Name: "End of Study", Date: "2023-12-01", Status: VisitCompleted},
			},
		},
	}
}
