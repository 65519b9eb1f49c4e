package schema

import "strings"

// Study scopes. A scope names one app's worth of record kinds and is the unit
// an export job runs over.
const (
	ScopeCaregiver = "flourish_caregiver"
	ScopeChild     = "flourish_child"
	ScopePRN       = "flourish_prn"
	ScopeAll       = "flourish"
)

// Scopes lists every exportable scope.
func Scopes() []string {
	return []string{ScopeCaregiver, ScopeChild, ScopePRN}
}

func baseFields(extra ...FieldDescriptor) []FieldDescriptor {
	fields := []FieldDescriptor{
		{Name: "id", Label: "Id", Type: TypeChar},
		{Name: "subject_identifier", Label: "Subject Identifier", Type: TypeChar, MaxLength: 50},
		{Name: "report_datetime", Label: "Report Date and Time", Type: TypeDatetime},
		{Name: "created", Label: "Created", Type: TypeDatetime},
		{Name: "modified", Label: "Modified", Type: TypeDatetime},
		{Name: "user_created", Label: "User Created", Type: TypeChar, MaxLength: 50},
		{Name: "user_modified", Label: "User Modified", Type: TypeChar, MaxLength: 50},
		{Name: "hostname_created", Label: "Hostname Created", Type: TypeChar, MaxLength: 60},
		{Name: "hostname_modified", Label: "Hostname Modified", Type: TypeChar, MaxLength: 60},
		{Name: "revision", Label: "Revision", Type: TypeChar, MaxLength: 75},
	}
	return append(fields, extra...)
}

// DefaultCatalog is the full flourish study catalog: caregiver and child CRFs,
// non-CRF kinds, choice lists, and the off-study/death PRN kinds. Field sets
// carry the columns the flattener and metadata exporter need; labels feed the
// data dictionary.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		// --- choice lists (auxiliary kinds, filtered out of model exports) ---
		&ModelDescriptor{Name: "priorarv", Label: "Prior Arv", ChoiceList: true},
		&ModelDescriptor{Name: "wcsdxadult", Label: "WCS Dx Adult", ChoiceList: true},
		&ModelDescriptor{Name: "chronicconditions", Label: "Chronic Conditions", ChoiceList: true},
		&ModelDescriptor{Name: "caregivermedications", Label: "Caregiver Medications", ChoiceList: true},
		&ModelDescriptor{Name: "childdiseases", Label: "Child Diseases", ChoiceList: true},
		&ModelDescriptor{Name: "deliverycomplications", Label: "Delivery Complications", ChoiceList: true},

		// --- caregiver CRFs ---
		&ModelDescriptor{
			Name: "maternaldiagnoses", Label: "Maternal Diagnoses",
			Participant: Caregiver, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "new_diagnoses", Label: "New Diagnoses", Type: TypeChar, Choices: []string{"Yes", "No"}},
				FieldDescriptor{Name: "diagnoses_date", Label: "Date of Diagnosis", Type: TypeDate, Nullable: true},
			),
			M2M: []M2MRelation{{Field: "who", List: "wcsdxadult"}},
		},
		&ModelDescriptor{
			Name: "medicalhistory", Label: "Medical History",
			Participant: Caregiver, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "chronic_since", Label: "Chronic Since", Type: TypeChar, Choices: []string{"Yes", "No"}},
				FieldDescriptor{Name: "comment", Label: "Comment", Type: TypeText, Nullable: true},
			),
			M2M: []M2MRelation{
				{Field: "caregiver_chronic", List: "chronicconditions"},
				{Field: "who", List: "wcsdxadult"},
				{Field: "caregiver_medications", List: "caregivermedications"},
			},
		},
		&ModelDescriptor{
			Name: "arvsprepregnancy", Label: "Arvs Pre Pregnancy",
			Participant: Caregiver, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "preg_on_art", Label: "Pregnant while on ART", Type: TypeChar, Choices: []string{"Yes", "No"}},
				FieldDescriptor{Name: "art_start_date", Label: "ART Start Date", Type: TypeDate, Nullable: true},
			),
			M2M: []M2MRelation{{Field: "prior_arv", List: "priorarv"}},
		},
		&ModelDescriptor{
			Name: "cliniciannotes", Label: "Clinician Notes",
			Participant: Caregiver, CRF: true,
			Fields: baseFields(),
			Inlines: []InlineRelation{
				{Kind: "cliniciannotesimage", ParentKey: "clinician_notes_id"},
			},
		},
		&ModelDescriptor{
			Name: "maternalarvduringpreg", Label: "Maternal Arv During Preg",
			Participant: Caregiver, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "took_arv", Label: "Took ARVs", Type: TypeChar, Choices: []string{"Yes", "No"}},
			),
			Inlines: []InlineRelation{
				{Kind: "maternalarv", ParentKey: "maternal_arv_durg_preg_id"},
			},
		},
		&ModelDescriptor{
			Name: "caregiverclinicalmeasurements", Label: "Caregiver Clinical Measurements",
			Participant: Caregiver, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "height", Label: "Height", Type: TypeDecimal, Nullable: true},
				FieldDescriptor{Name: "weight_kg", Label: "Weight (kg)", Type: TypeDecimal, Nullable: true},
				FieldDescriptor{Name: "systolic_bp", Label: "Systolic BP", Type: TypeInteger, Nullable: true},
				FieldDescriptor{Name: "diastolic_bp", Label: "Diastolic BP", Type: TypeInteger, Nullable: true},
			),
		},
		&ModelDescriptor{
			Name: "sociodemographicdata", Label: "Socio Demographic Data",
			Participant: Caregiver, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "marital_status", Label: "Marital Status", Type: TypeChar},
				FieldDescriptor{Name: "ethnicity", Label: "Ethnicity", Type: TypeChar},
				FieldDescriptor{Name: "highest_education", Label: "Highest Education", Type: TypeChar},
			),
		},
		&ModelDescriptor{
			Name: "hivviralloadandcd4", Label: "HIV Viral Load and CD4",
			Participant: Caregiver, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "last_visit_result", Label: "Last Visit Result", Type: TypeEncryptedInteger, Nullable: true},
				FieldDescriptor{Name: "cd4_count", Label: "CD4 Count", Type: TypeEncryptedDecimal, Nullable: true},
			),
		},

		// --- caregiver non-CRFs ---
		&ModelDescriptor{
			Name: "caregiverlocator", Label: "Caregiver Locator",
			Participant: Caregiver,
			Fields: baseFields(
				FieldDescriptor{Name: "first_name", Label: "First Name", Type: TypeFirstName},
				FieldDescriptor{Name: "last_name", Label: "Last Name", Type: TypeLastName},
				FieldDescriptor{Name: "subject_cell", Label: "Cell Number", Type: TypeEncryptedChar, Nullable: true},
				FieldDescriptor{Name: "physical_address", Label: "Physical Address", Type: TypeEncryptedText, Nullable: true},
			),
		},
		&ModelDescriptor{
			Name: "antenatalenrollment", Label: "Antenatal Enrollment",
			Participant: Caregiver,
			Fields: baseFields(
				FieldDescriptor{Name: "current_hiv_status", Label: "Current HIV Status", Type: TypeChar},
				FieldDescriptor{Name: "enrollment_hiv_status", Label: "Enrollment HIV Status", Type: TypeChar},
			),
		},
		&ModelDescriptor{
			Name: "maternaldelivery", Label: "Maternal Delivery",
			Participant: Caregiver,
			Fields: baseFields(
				FieldDescriptor{Name: "delivery_datetime", Label: "Delivery Date and Time", Type: TypeDatetime},
				FieldDescriptor{Name: "mode_delivery", Label: "Mode of Delivery", Type: TypeChar},
			),
			M2M: []M2MRelation{{Field: "delivery_complications", List: "deliverycomplications"}},
		},
		&ModelDescriptor{
			Name: "caregiverchildconsent", Label: "Caregiver Child Consent",
			Participant: Caregiver,
			Fields: baseFields(
				FieldDescriptor{Name: "first_name", Label: "First Name", Type: TypeFirstName},
				FieldDescriptor{Name: "last_name", Label: "Last Name", Type: TypeLastName},
				FieldDescriptor{Name: "identity", Label: "Identity Number", Type: TypeIdentity},
				FieldDescriptor{Name: "child_dob", Label: "Child Date of Birth", Type: TypeDate},
			),
		},

		// --- child CRFs ---
		&ModelDescriptor{
			Name: "childmedicalhistory", Label: "Child Medical History",
			Participant: Child, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "chronic_since", Label: "Chronic Since", Type: TypeChar, Choices: []string{"Yes", "No"}},
			),
			M2M: []M2MRelation{{Field: "child_chronic", List: "childdiseases"}},
		},
		&ModelDescriptor{
			Name: "childprevioushospitalization", Label: "Child Previous Hospitalization",
			Participant: Child, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "prev_hospitalized", Label: "Previously Hospitalized", Type: TypeChar, Choices: []string{"Yes", "No"}},
			),
			Inlines: []InlineRelation{
				// Legacy carve-out: the hospitalization reasons are exported as
				// one flattened code list, not per-instance indicator columns.
				{Kind: "childprehospitalizationinline", ParentKey: "child_previous_hospitalization_id", ListField: "reason_hospitalized"},
			},
		},
		&ModelDescriptor{
			Name: "childclinicalmeasurements", Label: "Child Clinical Measurements",
			Participant: Child, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "child_height", Label: "Child Height", Type: TypeDecimal, Nullable: true},
				FieldDescriptor{Name: "child_weight_kg", Label: "Child Weight (kg)", Type: TypeDecimal, Nullable: true},
			),
		},
		&ModelDescriptor{
			Name: "childimmunizationhistory", Label: "Child Immunization History",
			Participant: Child, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "vaccines_received", Label: "Vaccines Received", Type: TypeChar, Choices: []string{"Yes", "No"}},
			),
			Inlines: []InlineRelation{
				{Kind: "vaccinesmissed", ParentKey: "child_immunization_history_id"},
				{Kind: "vaccinesreceived", ParentKey: "child_immunization_history_id"},
			},
		},
		&ModelDescriptor{
			Name: "infantfeeding", Label: "Infant Feeding",
			Participant: Child, CRF: true,
			Fields: baseFields(
				FieldDescriptor{Name: "ever_breastfed", Label: "Ever Breastfed", Type: TypeChar, Choices: []string{"Yes", "No"}},
				FieldDescriptor{Name: "formula_intro_date", Label: "Formula Introduction Date", Type: TypeDate, Nullable: true},
			),
		},

		// --- child non-CRFs ---
		&ModelDescriptor{
			Name: "childassent", Label: "Child Assent",
			Participant: Child,
			Fields: baseFields(
				FieldDescriptor{Name: "first_name", Label: "First Name", Type: TypeFirstName},
				FieldDescriptor{Name: "last_name", Label: "Last Name", Type: TypeLastName},
				FieldDescriptor{Name: "identity", Label: "Identity Number", Type: TypeIdentity},
				FieldDescriptor{Name: "dob", Label: "Date of Birth", Type: TypeDate},
			),
		},
		&ModelDescriptor{
			Name: "childdataset", Label: "Child Dataset",
			Participant: Child,
			Fields: baseFields(
				FieldDescriptor{Name: "study_child_identifier", Label: "Study Child Identifier", Type: TypeChar},
				FieldDescriptor{Name: "dob", Label: "Date of Birth", Type: TypeDate},
			),
		},

		// --- inline kinds ---
		&ModelDescriptor{
			Name: "cliniciannotesimage", Label: "Clinician Notes Image",
			Participant: Caregiver,
			Fields: []FieldDescriptor{
				{Name: "id", Label: "Id", Type: TypeChar},
				{Name: "image", Label: "Image", Type: TypeChar},
				{Name: "user_uploaded", Label: "User Uploaded", Type: TypeChar},
				{Name: "datetime_captured", Label: "Datetime Captured", Type: TypeDatetime},
				{Name: "clinician_notes_id", Label: "Clinician Notes", Type: TypeForeignKey},
			},
		},
		&ModelDescriptor{
			Name: "maternalarv", Label: "Maternal Arv",
			Participant: Caregiver,
			Fields: []FieldDescriptor{
				{Name: "id", Label: "Id", Type: TypeChar},
				{Name: "arv_code", Label: "ARV Code", Type: TypeChar},
				{Name: "start_date", Label: "Start Date", Type: TypeDate, Nullable: true},
				{Name: "stop_date", Label: "Stop Date", Type: TypeDate, Nullable: true},
				{Name: "maternal_arv_durg_preg_id", Label: "Maternal Arv During Preg", Type: TypeForeignKey},
			},
		},
		&ModelDescriptor{
			Name: "childprehospitalizationinline", Label: "Child Pre Hospitalization Inline",
			Participant: Child,
			Fields: []FieldDescriptor{
				{Name: "id", Label: "Id", Type: TypeChar},
				{Name: "hospitalization_date", Label: "Hospitalization Date", Type: TypeDate, Nullable: true},
				{Name: "child_previous_hospitalization_id", Label: "Child Previous Hospitalization", Type: TypeForeignKey},
			},
			M2M: []M2MRelation{{Field: "reason_hospitalized", List: "childdiseases"}},
		},
		&ModelDescriptor{
			Name: "vaccinesmissed", Label: "Vaccines Missed",
			Participant: Child,
			Fields: []FieldDescriptor{
				{Name: "id", Label: "Id", Type: TypeChar},
				{Name: "missed_vaccine_name", Label: "Missed Vaccine Name", Type: TypeChar, Nullable: true},
				{Name: "reason_missed", Label: "Reason Missed", Type: TypeChar, Nullable: true},
				{Name: "child_immunization_history_id", Label: "Child Immunization History", Type: TypeForeignKey},
			},
		},
		&ModelDescriptor{
			Name: "vaccinesreceived", Label: "Vaccines Received",
			Participant: Child,
			Fields: []FieldDescriptor{
				{Name: "id", Label: "Id", Type: TypeChar},
				{Name: "received_vaccine_name", Label: "Received Vaccine Name", Type: TypeChar, Nullable: true},
				{Name: "date_given", Label: "Date Given", Type: TypeDate, Nullable: true},
				{Name: "child_immunization_history_id", Label: "Child Immunization History", Type: TypeForeignKey},
			},
		},

		// --- PRN kinds ---
		&ModelDescriptor{
			Name: "caregiveroffstudy", Label: "Caregiver Off Study",
			Participant: Caregiver,
			Fields: baseFields(
				FieldDescriptor{Name: "offstudy_date", Label: "Off Study Date", Type: TypeDate},
				FieldDescriptor{Name: "reason", Label: "Off Study Reason", Type: TypeChar},
			),
		},
		&ModelDescriptor{
			Name: "childoffstudy", Label: "Child Off Study",
			Participant: Child,
			Fields: baseFields(
				FieldDescriptor{Name: "offstudy_date", Label: "Off Study Date", Type: TypeDate},
				FieldDescriptor{Name: "reason", Label: "Off Study Reason", Type: TypeChar},
			),
		},
		&ModelDescriptor{
			Name: "deathreport", Label: "Death Report",
			Participant: Caregiver,
			Fields: baseFields(
				FieldDescriptor{Name: "death_date", Label: "Death Date", Type: TypeDate},
				FieldDescriptor{Name: "cause_of_death", Label: "Cause of Death", Type: TypeChar},
			),
		},

		// --- historical/relationship kinds present in the app registry but
		// never exported (exercise the catalog filter) ---
		&ModelDescriptor{Name: "historicalmedicalhistory", Label: "historical Medical History", Participant: Caregiver},
		&ModelDescriptor{Name: "caregiverchildrelationship", Label: "Caregiver Child relationship", Participant: Caregiver},
	)
}

// GroupsForScope returns the export groups for a scope: every exportable kind
// of that scope as a single-kind group, plus the combined, row-per-choice and
// merged-inline variants the study specifies.
func GroupsForScope(c *Catalog, scope string) []ExportGroup {
	var participant Participant
	switch scope {
	case ScopeCaregiver:
		participant = Caregiver
	case ScopeChild:
		participant = Child
	case ScopePRN:
		return []ExportGroup{
			Single("caregiveroffstudy"),
			Single("childoffstudy"),
			Single("deathreport"),
		}
	default:
		return nil
	}

	var groups []ExportGroup
	for _, kind := range ExportableKinds(c) {
		m := c.Model(kind)
		if m.Participant != participant {
			continue
		}
		switch kind {
		case "caregiveroffstudy", "childoffstudy", "deathreport":
			continue // exported under the PRN scope
		}
		groups = append(groups, Single(kind))
	}

	switch scope {
	case ScopeCaregiver:
		groups = append(groups,
			// Measurements and sociodemographics share the visit join key.
			ExportGroup{
				Name:  "caregiver_visit_profile",
				Kinds: []string{"caregiverclinicalmeasurements", "sociodemographicdata"},
				Mode:  ModeIndicator,
			},
			ExportGroup{Name: "arvsprepregnancy_merged_prior_arv", Kinds: []string{"arvsprepregnancy"}, Mode: ModeRowPerChoice, M2MField: "prior_arv"},
			ExportGroup{Name: "maternaldiagnoses_merged_who", Kinds: []string{"maternaldiagnoses"}, Mode: ModeRowPerChoice, M2MField: "who"},
			ExportGroup{Name: "cliniciannotes_merged_cliniciannotesimage", Kinds: []string{"cliniciannotes"}, Mode: ModeMergedInline, InlineKind: "cliniciannotesimage"},
			ExportGroup{Name: "maternalarvduringpreg_merged_maternalarv", Kinds: []string{"maternalarvduringpreg"}, Mode: ModeMergedInline, InlineKind: "maternalarv"},
		)
	case ScopeChild:
		groups = append(groups,
			ExportGroup{Name: "childmedicalhistory_merged_child_chronic", Kinds: []string{"childmedicalhistory"}, Mode: ModeRowPerChoice, M2MField: "child_chronic"},
			ExportGroup{Name: "childimmunizationhistory_merged_vaccinesmissed", Kinds: []string{"childimmunizationhistory"}, Mode: ModeMergedInline, InlineKind: "vaccinesmissed"},
			ExportGroup{Name: "childimmunizationhistory_merged_vaccinesreceived", Kinds: []string{"childimmunizationhistory"}, Mode: ModeMergedInline, InlineKind: "vaccinesreceived"},
		)
	}
	return groups
}

// ExportableKinds filters the catalog down to kinds that get their own export
// file: choice lists, relationship tables and historical audit kinds are
// dropped.
func ExportableKinds(c *Catalog) []string {
	var kinds []string
	for _, name := range c.Kinds() {
		m := c.Model(name)
		if !Exportable(m) {
			continue
		}
		kinds = append(kinds, name)
	}
	return kinds
}

// Exportable reports whether a kind participates in model exports. A kind is
// excluded when it is a multi-choice auxiliary list, when its display name
// ends with "relationship", or when it begins with "historical".
func Exportable(m *ModelDescriptor) bool {
	if m == nil || m.ChoiceList {
		return false
	}
	label := strings.ToLower(m.Label)
	if strings.HasSuffix(label, "relationship") {
		return false
	}
	if strings.HasPrefix(label, "historical") {
		return false
	}
	return true
}

// ScopeForParticipant maps a participant arm to its scope name.
func ScopeForParticipant(p Participant) string {
	if p == Child {
		return ScopeChild
	}
	return ScopeCaregiver
}

// ParticipantForScope is the inverse mapping. The PRN and umbrella scopes
// have no participant arm of their own.
func ParticipantForScope(scope string) (Participant, bool) {
	switch scope {
	case ScopeCaregiver:
		return Caregiver, true
	case ScopeChild:
		return Child, true
	}
	return "", false
}
