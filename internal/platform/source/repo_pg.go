package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flourish/export/internal/platform/schema"
)

// PG reads study records from Postgres. Records live in a generic layout:
// study_record holds one row per record with the scalar fields as a jsonb
// payload, record_choice the m2m selections, choice_list_entry the choice
// catalogs, and the reference tables mirror their upstream counterparts.
type PG struct {
	pool    *pgxpool.Pool
	catalog *schema.Catalog
}

func NewPG(pool *pgxpool.Pool, catalog *schema.Catalog) *PG {
	return &PG{pool: pool, catalog: catalog}
}

const recordCols = `id, kind, visit_id, payload, created`

func (s *PG) scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec     Record
		visitID *string
		payload []byte
	)
	if err := row.Scan(&rec.ID, &rec.Kind, &visitID, &payload, &rec.Created); err != nil {
		return nil, err
	}
	if visitID != nil {
		rec.VisitID = *visitID
	}
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("record %s payload: %w", rec.ID, err)
	}
	rec.Fields = s.typedFields(rec.Kind, raw)
	return &rec, nil
}

// typedFields converts temporal payload strings into their schema types so
// the flattener sees real dates and datetimes, not strings.
func (s *PG) typedFields(kind string, raw map[string]any) map[string]any {
	desc := s.catalog.Model(kind)
	if desc == nil {
		return raw
	}
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fd := desc.Field(k)
		str, isStr := v.(string)
		if fd == nil || !isStr || str == "" {
			fields[k] = v
			continue
		}
		switch fd.Type {
		case schema.TypeDate:
			if t, err := time.Parse("2006-01-02", str); err == nil {
				fields[k] = DateOf(t)
				continue
			}
		case schema.TypeDatetime:
			if t, err := time.Parse(time.RFC3339, str); err == nil {
				fields[k] = t
				continue
			}
		}
		fields[k] = v
	}
	return fields
}

func (s *PG) loadChoices(ctx context.Context, rec *Record) error {
	rows, err := s.pool.Query(ctx,
		`SELECT field, code FROM record_choice WHERE record_id = $1 ORDER BY field, code`, rec.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var field, code string
		if err := rows.Scan(&field, &code); err != nil {
			return err
		}
		if rec.Choices == nil {
			rec.Choices = make(map[string][]string)
		}
		rec.Choices[field] = append(rec.Choices[field], code)
	}
	return rows.Err()
}

func (s *PG) queryRecords(ctx context.Context, q string, args ...any) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, rec := range out {
		if err := s.loadChoices(ctx, rec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PG) Records(ctx context.Context, kind string) ([]*Record, error) {
	q := fmt.Sprintf(`SELECT %s FROM study_record WHERE kind = $1 ORDER BY created, id`, recordCols)
	return s.queryRecords(ctx, q, kind)
}

func (s *PG) RecordByVisit(ctx context.Context, kind, visitID string) (*Record, error) {
	q := fmt.Sprintf(`SELECT %s FROM study_record WHERE kind = $1 AND visit_id = $2 ORDER BY created, id LIMIT 1`, recordCols)
	recs, err := s.queryRecords(ctx, q, kind, visitID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (s *PG) Inlines(ctx context.Context, kind, parentID string) ([]*Record, error) {
	q := fmt.Sprintf(`SELECT %s FROM study_record WHERE kind = $1 AND parent_id = $2 ORDER BY created, id`, recordCols)
	return s.queryRecords(ctx, q, kind, parentID)
}

func (s *PG) ChoiceCatalog(ctx context.Context, listKind string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code FROM choice_list_entry WHERE list_kind = $1 ORDER BY created, code`, listKind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *PG) Visit(ctx context.Context, visitID string) (*Visit, error) {
	var (
		v             Visit
		lastAlive     *time.Time
		apptDatetime  *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_identifier, report_datetime, last_alive_date, reason,
		        survival_status, visit_code, visit_code_sequence, study_status,
		        appt_status, appt_datetime
		   FROM subject_visit WHERE id = $1`, visitID).Scan(
		&v.ID, &v.SubjectIdentifier, &v.ReportDatetime, &lastAlive, &v.Reason,
		&v.SurvivalStatus, &v.VisitCode, &v.VisitCodeSequence, &v.StudyStatus,
		&v.ApptStatus, &apptDatetime)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastAlive != nil {
		v.LastAliveDate = DateOf(*lastAlive)
	}
	if apptDatetime != nil {
		v.ApptDatetime = *apptDatetime
	}
	return &v, nil
}

func (s *PG) RegisteredSubject(ctx context.Context, subjectIdentifier string) (*RegisteredSubject, error) {
	var (
		rs  RegisteredSubject
		dob *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT subject_identifier, screening_identifier, screening_age_in_years,
		        registration_status, dob, gender, subject_type,
		        registration_datetime, screening_datetime, relative_identifier
		   FROM registered_subject WHERE subject_identifier = $1`, subjectIdentifier).Scan(
		&rs.SubjectIdentifier, &rs.ScreeningIdentifier, &rs.ScreeningAgeInYears,
		&rs.RegistrationStatus, &dob, &rs.Gender, &rs.SubjectType,
		&rs.RegistrationDatetime, &rs.ScreeningDatetime, &rs.RelativeIdentifier)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if dob != nil {
		rs.DOB = DateOf(*dob)
	}
	return &rs, nil
}

func (s *PG) LatestConsent(ctx context.Context, subjectIdentifier string) (*Consent, error) {
	var (
		c   Consent
		dob *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT subject_identifier, screening_identifier, dob, gender
		   FROM subject_consent WHERE subject_identifier = $1
		  ORDER BY created DESC LIMIT 1`, subjectIdentifier).Scan(
		&c.SubjectIdentifier, &c.ScreeningIdentifier, &dob, &c.Gender)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if dob != nil {
		c.DOB = DateOf(*dob)
	}
	return &c, nil
}

func (s *PG) Screening(ctx context.Context, screeningIdentifier string) (*Screening, error) {
	var sc Screening
	err := s.pool.QueryRow(ctx,
		`SELECT screening_identifier, age_in_years
		   FROM subject_screening WHERE screening_identifier = $1`, screeningIdentifier).Scan(
		&sc.ScreeningIdentifier, &sc.AgeInYears)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *PG) AntenatalEnrollment(ctx context.Context, subjectIdentifier string) (*Enrollment, error) {
	var e Enrollment
	err := s.pool.QueryRow(ctx,
		`SELECT subject_identifier, current_hiv_status
		   FROM antenatal_enrollment WHERE subject_identifier = $1`, subjectIdentifier).Scan(
		&e.SubjectIdentifier, &e.CurrentHIVStatus)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PG) HasOffStudy(ctx context.Context, subjectIdentifier string, participant schema.Participant) (bool, error) {
	table := "caregiver_offstudy"
	if participant == schema.Child {
		table = "child_offstudy"
	}
	var exists bool
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE subject_identifier = $1)`, table)
	if err := s.pool.QueryRow(ctx, q, subjectIdentifier).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
