// Package flatten converts nested study record graphs into wide rows of
// scalar export columns: field redaction, visit/registry joins, the
// date/time split, choice indicator columns and inline suffixing.
//
// Merge order is fixed: parent fields, then visit/registry joins, then choice
// indicators, then inline fragments. Each later step may overwrite keys
// written by an earlier one (last write wins); the exclusion set is applied
// after all merging, as the final step before row emission.
package flatten

import (
	"context"
	"time"

	"github.com/flourish/export/internal/platform/schema"
	"github.com/flourish/export/internal/platform/source"
)

// Row is a flat mapping from column name to scalar export value.
type Row map[string]any

// MergeOrder names the fixed merge steps in the order they are applied.
var MergeOrder = []string{"parent", "joins", "choices", "inlines"}

// Flattener turns one record into a Row, joining in visit, enrollment and
// registry context per the record's kind.
type Flattener struct {
	refs     source.ReferenceSource
	catalog  *schema.Catalog
	redactor *Redactor
	loc      *time.Location
}

func NewFlattener(refs source.ReferenceSource, catalog *schema.Catalog, redactor *Redactor, loc *time.Location) *Flattener {
	return &Flattener{refs: refs, catalog: catalog, redactor: redactor, loc: loc}
}

// Location returns the export timezone.
func (f *Flattener) Location() *time.Location { return f.loc }

// Func binds a flattening strategy to a record.
type Func func(ctx context.Context, rec *source.Record) (Row, error)

// CRF flattens a visit-attached record: own fields (redacted), visit fields,
// enrollment HIV status (caregiver arm), registry fields and the derived
// on/off-study status. A missing visit, registry entry or caregiver
// enrollment is a MissingReferenceError.
func (f *Flattener) CRF(ctx context.Context, rec *source.Record) (Row, error) {
	desc := f.catalog.Model(rec.Kind)
	row, err := f.redactor.Redact(Row(rec.Fields), desc)
	if err != nil {
		return nil, err
	}

	visit, err := f.refs.Visit(ctx, rec.VisitID)
	if err != nil {
		return nil, err
	}
	if visit == nil {
		return nil, &MissingReferenceError{Kind: rec.Kind, SubjectIdentifier: rec.SubjectIdentifier(), Reference: "visit"}
	}

	participant := schema.Caregiver
	if desc != nil {
		participant = desc.Participant
	}

	idColumn := "caregiver_subject_identifier"
	if participant == schema.Child {
		idColumn = "child_subject_identifier"
	}
	row[idColumn] = visit.SubjectIdentifier
	row["visit_datetime"] = visit.ReportDatetime
	row["last_alive_date"] = visit.LastAliveDate
	row["reason"] = visit.Reason
	row["survival_status"] = visit.SurvivalStatus
	row["visit_code"] = visit.VisitCode
	row["visit_code_sequence"] = visit.VisitCodeSequence
	row["study_status"] = visit.StudyStatus
	row["appt_status"] = visit.ApptStatus
	row["appt_datetime"] = visit.ApptDatetime

	subject := visit.SubjectIdentifier

	if participant == schema.Caregiver {
		enrollment, err := f.refs.AntenatalEnrollment(ctx, subject)
		if err != nil {
			return nil, err
		}
		if enrollment == nil {
			return nil, &MissingReferenceError{Kind: rec.Kind, SubjectIdentifier: subject, Reference: "antenatal enrollment"}
		}
		row["enrollment_hiv_status"] = enrollment.CurrentHIVStatus
	}

	rs, err := f.refs.RegisteredSubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		return nil, &MissingReferenceError{Kind: rec.Kind, SubjectIdentifier: subject, Reference: "registered subject"}
	}
	row["screening_age_in_years"] = rs.ScreeningAgeInYears
	row["registration_status"] = rs.RegistrationStatus
	row["dob"] = rs.DOB
	row["gender"] = rs.Gender
	row["subject_type"] = rs.SubjectType
	row["registration_datetime"] = rs.RegistrationDatetime
	if participant == schema.Child {
		row["caregiver_identifier"] = rs.RelativeIdentifier
	}

	status, err := f.OnStudyStatus(ctx, subject, participant)
	if err != nil {
		return nil, err
	}
	row["on_study_status"] = status

	return row, nil
}

// NonCRF flattens a record with no visit linkage. Consent, screening and
// registry joins are best effort: absent references backfill nulls instead
// of failing.
func (f *Flattener) NonCRF(ctx context.Context, rec *source.Record) (Row, error) {
	desc := f.catalog.Model(rec.Kind)
	row, err := f.redactor.Redact(Row(rec.Fields), desc)
	if err != nil {
		return nil, err
	}
	subject := rec.SubjectIdentifier()

	consent, err := f.refs.LatestConsent(ctx, subject)
	if err != nil {
		return nil, err
	}
	if consent != nil {
		if _, ok := row["dob"]; !ok {
			row["dob"] = consent.DOB
		}
		if _, ok := row["gender"]; !ok {
			row["gender"] = consent.Gender
		}
		if _, ok := row["screening_identifier"]; !ok {
			row["screening_identifier"] = consent.ScreeningIdentifier
		}
		screening, err := f.refs.Screening(ctx, consent.ScreeningIdentifier)
		if err != nil {
			return nil, err
		}
		if screening != nil {
			row["screening_age_in_years"] = screening.AgeInYears
		} else {
			row["screening_age_in_years"] = nil
		}
	} else {
		if _, ok := row["screening_identifier"]; !ok {
			row["screening_identifier"] = nil
		}
		row["screening_age_in_years"] = nil
		row["dob"] = nil
		row["gender"] = nil
	}

	if _, ok := row["registration_datetime"]; !ok {
		rs, err := f.refs.RegisteredSubject(ctx, subject)
		if err != nil {
			return nil, err
		}
		if rs != nil {
			row["registration_datetime"] = rs.RegistrationDatetime
			row["screening_datetime"] = rs.ScreeningDatetime
		} else {
			row["registration_datetime"] = nil
			row["screening_datetime"] = nil
		}
	}

	return row, nil
}

// OnStudyStatus derives the subject's study status from the presence of an
// off-study record in the participant's off-study table. The participant arm
// must be explicit.
func (f *Flattener) OnStudyStatus(ctx context.Context, subjectIdentifier string, participant schema.Participant) (string, error) {
	if participant != schema.Caregiver && participant != schema.Child {
		return "", ErrUnknownParticipantType
	}
	off, err := f.refs.HasOffStudy(ctx, subjectIdentifier, participant)
	if err != nil {
		return "", err
	}
	if off {
		return "Off Study", nil
	}
	return "On Study", nil
}

// Finalize applies the date/time split and then strips the exclusion set.
// extra names columns excluded for this export only.
func (f *Flattener) Finalize(row Row, extra ...string) Row {
	out := FixDateFormat(row, f.loc)
	exclude := schema.ExclusionSet()
	for _, name := range extra {
		exclude[name] = struct{}{}
	}
	for name := range exclude {
		delete(out, name)
	}
	return out
}
