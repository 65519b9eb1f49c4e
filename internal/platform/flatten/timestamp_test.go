package flatten

import (
	"testing"
	"time"

	"github.com/flourish/export/internal/platform/source"
)

func TestFixDateFormatSplitsDatetime(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	in := Row{
		"id":                 1,
		"report_datetime":    time.Date(2023, 5, 1, 10, 15, 0, 0, time.UTC),
		"subject_identifier": "S1",
	}

	out := FixDateFormat(in, loc)

	if _, ok := out["report_datetime"]; ok {
		t.Error("report_datetime key should be removed")
	}
	if got := out["report_date"]; got != "05/01/2023" {
		t.Errorf("report_date = %v, want 05/01/2023", got)
	}
	if got := out["report_time"]; got != "12:15:00.000000" {
		t.Errorf("report_time = %v, want 12:15:00.000000", got)
	}
	if got := out["subject_identifier"]; got != "S1" {
		t.Errorf("subject_identifier = %v, want S1", got)
	}
}

func TestFixDateFormatKeyWithoutDatetimeSubstring(t *testing.T) {
	loc := time.UTC
	in := Row{"appt": time.Date(2024, 1, 2, 8, 30, 0, 0, time.UTC)}

	out := FixDateFormat(in, loc)

	if got := out["appt"]; got != "01/02/2024" {
		t.Errorf("appt = %v, want 01/02/2024", got)
	}
	if got := out["appt_time"]; got != "08:30:00.000000" {
		t.Errorf("appt_time = %v, want 08:30:00.000000", got)
	}
}

func TestFixDateFormatDateOnlyInPlace(t *testing.T) {
	in := Row{"dob": source.Date{Year: 1990, Month: time.March, Day: 7}}

	out := FixDateFormat(in, time.UTC)

	if got := out["dob"]; got != "03/07/1990" {
		t.Errorf("dob = %v, want 03/07/1990", got)
	}
	if _, ok := out["dob_time"]; ok {
		t.Error("date-only values must not be split")
	}
}

func TestFixDateFormatZeroDateBecomesNil(t *testing.T) {
	out := FixDateFormat(Row{"dob": source.Date{}}, time.UTC)
	if got := out["dob"]; got != nil {
		t.Errorf("zero date = %v, want nil", got)
	}
}

func TestFixDateFormatIdempotent(t *testing.T) {
	loc := time.FixedZone("CAT", 2*60*60)
	in := Row{"visit_datetime": time.Date(2023, 11, 20, 14, 0, 0, 0, time.UTC)}

	once := FixDateFormat(in, loc)
	twice := FixDateFormat(once, loc)

	if len(once) != len(twice) {
		t.Fatalf("second application changed the row: %v vs %v", once, twice)
	}
	for k, v := range once {
		if twice[k] != v {
			t.Errorf("key %s changed from %v to %v", k, v, twice[k])
		}
	}
}

func TestFixDateFormatEmptyRow(t *testing.T) {
	out := FixDateFormat(Row{}, time.UTC)
	if len(out) != 0 {
		t.Fatalf("empty in, got %v out", out)
	}
}

func TestFixDateFormatDoesNotMutateInput(t *testing.T) {
	ts := time.Date(2023, 5, 1, 10, 15, 0, 0, time.UTC)
	in := Row{"report_datetime": ts}

	_ = FixDateFormat(in, time.UTC)

	if v, ok := in["report_datetime"]; !ok || v != ts {
		t.Fatal("input row was mutated")
	}
}
