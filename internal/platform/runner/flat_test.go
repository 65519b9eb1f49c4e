package runner

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flourish/export/internal/platform/schema"
	"github.com/flourish/export/internal/platform/source"
)

func TestFlatRowsMergesKindsPerSubject(t *testing.T) {
	mem, r := newRunnerFixture()
	registerSubject(mem, "S1")
	registerVisit(mem, "V1", "S1", "2000M")
	mem.AddRecord(&source.Record{
		Kind: "caregiverclinicalmeasurements", ID: "R1", VisitID: "V1",
		Fields: map[string]any{"subject_identifier": "S1", "height": 165.5},
	})
	mem.AddRecord(&source.Record{
		Kind: "sociodemographicdata", ID: "R2", VisitID: "V1",
		Fields: map[string]any{"subject_identifier": "S1", "marital_status": "married"},
	})

	rows, err := r.FlatRows(context.Background(), schema.Caregiver)
	if err != nil {
		t.Fatalf("FlatRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want one per subject", len(rows))
	}
	if rows[0]["height"] != 165.5 || rows[0]["marital_status"] != "married" {
		t.Errorf("kinds not merged: %v", rows[0])
	}
}

func TestFlatRowsSuffixesCollidingColumns(t *testing.T) {
	mem, r := newRunnerFixture()
	registerSubject(mem, "S1")
	registerVisit(mem, "V1", "S1", "2000M")
	registerVisit(mem, "V2", "S1", "2001M")
	// caregiverclinicalmeasurements is visited first, so its value keeps the
	// bare column.
	mem.AddRecord(&source.Record{
		Kind: "caregiverclinicalmeasurements", ID: "R1", VisitID: "V1",
		Fields: map[string]any{"subject_identifier": "S1", "weight_kg": 60.0},
	})
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.AddRecord(&source.Record{
		Kind: "sociodemographicdata", ID: "R2", VisitID: "V1",
		Fields:  map[string]any{"subject_identifier": "S1", "weight_kg": 62.0},
		Created: base,
	})
	mem.AddRecord(&source.Record{
		Kind: "sociodemographicdata", ID: "R3", VisitID: "V2",
		Fields:  map[string]any{"subject_identifier": "S1", "weight_kg": 64.0},
		Created: base.Add(time.Minute),
	})

	rows, err := r.FlatRows(context.Background(), schema.Caregiver)
	if err != nil {
		t.Fatalf("FlatRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0]["weight_kg"] != 60.0 {
		t.Errorf("weight_kg = %v, first writer must keep the bare column", rows[0]["weight_kg"])
	}
	if rows[0]["weight_kg__sociodemographicdata"] != 62.0 {
		t.Errorf("suffixed column = %v, want the first suffixed value kept", rows[0]["weight_kg__sociodemographicdata"])
	}
}

func TestFlatRowsExcludesOtherParticipant(t *testing.T) {
	mem, r := newRunnerFixture()
	registerSubject(mem, "S1")
	registerVisit(mem, "V1", "S1", "2000M")
	mem.AddRecord(&source.Record{
		Kind: "caregiverclinicalmeasurements", ID: "R1", VisitID: "V1",
		Fields: map[string]any{"subject_identifier": "S1", "height": 160.0},
	})

	rows, err := r.FlatRows(context.Background(), schema.Child)
	if err != nil {
		t.Fatalf("FlatRows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, caregiver records leaked into the child flat export", len(rows))
	}
}

func TestExportFlatWritesFile(t *testing.T) {
	mem, r := newRunnerFixture()
	registerSubject(mem, "S1")
	registerVisit(mem, "V1", "S1", "2000M")
	mem.AddRecord(&source.Record{
		Kind: "caregiverclinicalmeasurements", ID: "R1", VisitID: "V1",
		Fields: map[string]any{"subject_identifier": "S1", "height": 165.5},
	})

	dir := t.TempDir()
	res, err := r.ExportFlat(context.Background(), "flourish_caregiver", dir, schema.Caregiver, FormatCSV)
	if err != nil {
		t.Fatalf("ExportFlat: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(res.File), "flourish_caregiver_flat_") {
		t.Errorf("file = %s", res.File)
	}
	header, rows := readCSV(t, res.File)
	if len(rows) != 1 {
		t.Fatalf("rows = %d", len(rows))
	}
	if got := rows[0][col(t, header, "height")]; got != "165.5" {
		t.Errorf("height = %q", got)
	}
}
