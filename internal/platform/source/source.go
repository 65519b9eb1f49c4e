// Package source defines how the export engine reads study records. Records
// are opaque named-field structures; the engine never owns or mutates them.
// Two implementations exist: a pgx-backed source for production and an
// in-memory source for tests and seeding.
package source

import (
	"context"
	"time"

	"github.com/flourish/export/internal/platform/schema"
)

// Date is a calendar date without time of day. Exported dates format in place
// (no date/time split), unlike datetimes.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates a time to its calendar date.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Format renders the date with the reference layout "01/02/2006" etc.
func (d Date) Format(layout string) string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(layout)
}

// IsZero reports whether the date is unset.
func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

// Record is one stored instance of a kind. Fields holds scalar values only;
// relations live in Choices (m2m selections) and are fetched separately for
// inlines.
type Record struct {
	Kind    string
	ID      string
	VisitID string // set for CRF kinds
	Fields  map[string]any
	Choices map[string][]string // m2m field -> selected codes
	Created time.Time
}

// SubjectIdentifier returns the record's subject identifier field, if present.
func (r *Record) SubjectIdentifier() string {
	if v, ok := r.Fields["subject_identifier"].(string); ok {
		return v
	}
	return ""
}

// Visit is the visit-level context a CRF record hangs off.
type Visit struct {
	ID                string
	SubjectIdentifier string
	ReportDatetime    time.Time
	LastAliveDate     Date
	Reason            string
	SurvivalStatus    string
	VisitCode         string
	VisitCodeSequence int
	StudyStatus       string
	ApptStatus        string
	ApptDatetime      time.Time
}

// RegisteredSubject is the subject-registry entry joined into every CRF row.
type RegisteredSubject struct {
	SubjectIdentifier    string
	ScreeningIdentifier  string
	ScreeningAgeInYears  int
	RegistrationStatus   string
	DOB                  Date
	Gender               string
	SubjectType          string
	RegistrationDatetime time.Time
	ScreeningDatetime    time.Time
	RelativeIdentifier   string // caregiver identifier for child subjects
}

// Consent is the latest consent record for a subject, used by the tolerant
// non-CRF join.
type Consent struct {
	SubjectIdentifier   string
	ScreeningIdentifier string
	DOB                 Date
	Gender              string
}

// Screening backfills the age at screening on the non-CRF path.
type Screening struct {
	ScreeningIdentifier string
	AgeInYears          int
}

// Enrollment carries the antenatal enrollment HIV status joined into
// caregiver CRF rows.
type Enrollment struct {
	SubjectIdentifier string
	CurrentHIVStatus  string
}

// RecordSource streams records, inline children and choice catalogs.
type RecordSource interface {
	// Records returns every record of a kind, iteration order stable within
	// one export run.
	Records(ctx context.Context, kind string) ([]*Record, error)
	// RecordByVisit returns at most one record of a kind attached to the
	// given visit; (nil, nil) when absent.
	RecordByVisit(ctx context.Context, kind, visitID string) (*Record, error)
	// Inlines returns the inline instances attached to a parent, ordered by
	// (created, id) so position suffixes are deterministic across runs.
	Inlines(ctx context.Context, kind, parentID string) ([]*Record, error)
	// ChoiceCatalog returns the complete ordered code set for a choice-list
	// kind, ordered by catalog entry creation time.
	ChoiceCatalog(ctx context.Context, listKind string) ([]string, error)
}

// ReferenceSource resolves the visit/registry/consent joins.
type ReferenceSource interface {
	Visit(ctx context.Context, visitID string) (*Visit, error)
	RegisteredSubject(ctx context.Context, subjectIdentifier string) (*RegisteredSubject, error)
	LatestConsent(ctx context.Context, subjectIdentifier string) (*Consent, error)
	Screening(ctx context.Context, screeningIdentifier string) (*Screening, error)
	AntenatalEnrollment(ctx context.Context, subjectIdentifier string) (*Enrollment, error)
	// HasOffStudy reports whether an off-study record exists for the subject
	// in the caregiver or child off-study table.
	HasOffStudy(ctx context.Context, subjectIdentifier string, participant schema.Participant) (bool, error)
}
