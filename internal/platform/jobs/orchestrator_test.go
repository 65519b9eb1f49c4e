package jobs

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/flourish/export/internal/domain/exportfile"
	"github.com/flourish/export/internal/platform/flatten"
	"github.com/flourish/export/internal/platform/notification"
	"github.com/flourish/export/internal/platform/runner"
	"github.com/flourish/export/internal/platform/schema"
	"github.com/flourish/export/internal/platform/source"
)

type orchestratorFixture struct {
	mem    *source.Memory
	svc    *exportfile.Service
	sender *notification.MockSender
	orc    *Orchestrator
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	mem := source.NewMemory()
	catalog := schema.DefaultCatalog()
	redactor := flatten.NewRedactor(nil)
	f := flatten.NewFlattener(mem, catalog, redactor, time.UTC)
	m := flatten.NewMerger(mem, catalog, redactor)
	run := runner.New(f, m, mem, catalog, zerolog.Nop())
	meta := runner.NewMetadataExporter(catalog, zerolog.Nop(), time.Second)
	svc := exportfile.NewService(exportfile.NewMemoryRepository(), zerolog.Nop())
	sender := &notification.MockSender{}
	pool := NewPool(2, 0, zerolog.Nop())
	orc := NewOrchestrator(svc, run, meta, catalog, sender, pool,
		t.TempDir(), []string{"study@example.org"}, time.UTC, zerolog.Nop())
	return &orchestratorFixture{mem: mem, svc: svc, sender: sender, orc: orc}
}

func seedCaregiverData(mem *source.Memory) {
	mem.AddSubject(&source.RegisteredSubject{
		SubjectIdentifier:   "S1",
		ScreeningIdentifier: "SCR-S1",
		RegistrationStatus:  "REGISTERED",
		SubjectType:         "caregiver",
	})
	mem.AddEnrollment(&source.Enrollment{SubjectIdentifier: "S1", CurrentHIVStatus: "NEG"})
	mem.AddVisit(&source.Visit{
		ID: "V1", SubjectIdentifier: "S1", VisitCode: "2000M",
		ReportDatetime: time.Date(2023, 4, 1, 10, 0, 0, 0, time.UTC),
	})
	mem.AddRecord(&source.Record{
		Kind: "medicalhistory", ID: "R1", VisitID: "V1",
		Fields: map[string]any{"subject_identifier": "S1", "chronic_since": "No"},
	})
}

func TestStartExportCompletesJobAndNotifies(t *testing.T) {
	fx := newOrchestratorFixture(t)
	seedCaregiverData(fx.mem)

	ef, err := fx.orc.StartExport(context.Background(), schema.ScopeCaregiver, "csv")
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	fx.orc.Wait()

	done, err := fx.svc.Get(context.Background(), ef.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !done.DownloadComplete {
		t.Fatal("job not marked complete")
	}
	if done.DatetimeCompleted == nil {
		t.Error("completion time not recorded")
	}

	zr, err := zip.OpenReader(done.Document)
	if err != nil {
		t.Fatalf("open archive %s: %v", done.Document, err)
	}
	defer zr.Close()
	found := false
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "flourish_caregiver_medicalhistory_") {
			found = true
		}
	}
	if !found {
		t.Errorf("medicalhistory file missing from archive; got %d entries", len(zr.File))
	}

	sent := fx.sender.Messages()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	if !strings.HasPrefix(sent[0].Subject, done.ExportIdentifier) {
		t.Errorf("subject = %q, want job identifier prefix", sent[0].Subject)
	}
}

func TestStartExportRejectsDuplicate(t *testing.T) {
	fx := newOrchestratorFixture(t)

	// Register the slot directly so the duplicate check is deterministic.
	if _, err := fx.svc.Start(context.Background(), schema.ScopeCaregiver, scopeDescription(schema.ScopeCaregiver)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := fx.orc.StartExport(context.Background(), schema.ScopeCaregiver, "csv")
	if !errors.Is(err, exportfile.ErrExportInProgress) {
		t.Fatalf("err = %v, want ErrExportInProgress", err)
	}
}

func TestStartExportUnknownScope(t *testing.T) {
	fx := newOrchestratorFixture(t)
	if _, err := fx.orc.StartExport(context.Background(), "nope", "csv"); err == nil {
		t.Fatal("unknown scope accepted")
	}
}

func TestUnitFailureStillCompletesJob(t *testing.T) {
	fx := newOrchestratorFixture(t)
	seedCaregiverData(fx.mem)
	// A second kind whose subject never registered: its units fail terminally,
	// the rest of the job must still package and complete.
	fx.mem.AddVisit(&source.Visit{ID: "V9", SubjectIdentifier: "S-ghost", VisitCode: "2000M"})
	fx.mem.AddEnrollment(&source.Enrollment{SubjectIdentifier: "S-ghost", CurrentHIVStatus: "NEG"})
	fx.mem.AddRecord(&source.Record{
		Kind: "maternaldiagnoses", ID: "R9", VisitID: "V9",
		Fields: map[string]any{"subject_identifier": "S-ghost"},
	})

	ef, err := fx.orc.StartExport(context.Background(), schema.ScopeCaregiver, "csv")
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	fx.orc.Wait()

	done, err := fx.svc.Get(context.Background(), ef.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !done.DownloadComplete {
		t.Fatal("job must complete despite a failed unit")
	}

	zr, err := zip.OpenReader(done.Document)
	if err != nil {
		t.Fatalf("open archive %s: %v", done.Document, err)
	}
	defer zr.Close()
	var haveMedical, haveDiagnoses bool
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "flourish_caregiver_medicalhistory_") {
			haveMedical = true
		}
		if strings.Contains(f.Name, "maternaldiagnoses") {
			haveDiagnoses = true
		}
	}
	if !haveMedical {
		t.Error("surviving unit's file missing from archive")
	}
	if haveDiagnoses {
		t.Error("failed unit left a file in the archive")
	}

	if len(fx.sender.Messages()) != 1 {
		t.Errorf("notifications = %d, completion mail must still go out", len(fx.sender.Messages()))
	}
}

func TestJobLevelFailureUnregisters(t *testing.T) {
	mem := source.NewMemory()
	catalog := schema.DefaultCatalog()
	redactor := flatten.NewRedactor(nil)
	f := flatten.NewFlattener(mem, catalog, redactor, time.UTC)
	m := flatten.NewMerger(mem, catalog, redactor)
	run := runner.New(f, m, mem, catalog, zerolog.Nop())
	meta := runner.NewMetadataExporter(catalog, zerolog.Nop(), time.Second)
	svc := exportfile.NewService(exportfile.NewMemoryRepository(), zerolog.Nop())
	sender := &notification.MockSender{}

	// exportDir is a regular file, so the job directory cannot be created.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	orc := NewOrchestrator(svc, run, meta, catalog, sender, NewPool(2, 0, zerolog.Nop()),
		blocked, []string{"study@example.org"}, time.UTC, zerolog.Nop())

	ef, err := orc.StartExport(context.Background(), schema.ScopeCaregiver, "csv")
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	orc.Wait()

	if _, err := svc.Get(context.Background(), ef.ID); !errors.Is(err, exportfile.ErrNotFound) {
		t.Fatal("job-level failure must unregister the row and free the slot")
	}
	if len(sender.Messages()) != 0 {
		t.Error("completion mail sent for a failed job")
	}
}

func TestStartFlatProducesOneTableArchive(t *testing.T) {
	fx := newOrchestratorFixture(t)
	seedCaregiverData(fx.mem)

	ef, err := fx.orc.StartFlat(context.Background(), schema.ScopeCaregiver, "csv")
	if err != nil {
		t.Fatalf("StartFlat: %v", err)
	}
	fx.orc.Wait()

	done, err := fx.svc.Get(context.Background(), ef.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !done.DownloadComplete {
		t.Fatal("flat job not complete")
	}
	if done.Description != "Flourish Caregiver Flat Export" {
		t.Errorf("description = %q", done.Description)
	}

	zr, err := zip.OpenReader(done.Document)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 || !strings.HasPrefix(zr.File[0].Name, "flourish_caregiver_flat_") {
		t.Errorf("archive entries = %v", zr.File)
	}
}

func TestStartFlatRejectsPRN(t *testing.T) {
	fx := newOrchestratorFixture(t)
	if _, err := fx.orc.StartFlat(context.Background(), schema.ScopePRN, "csv"); err == nil {
		t.Fatal("PRN scope has no participant arm, flat export must be rejected")
	}
}

func TestStartMetadataProducesWorkbookArchive(t *testing.T) {
	fx := newOrchestratorFixture(t)

	ef, err := fx.orc.StartMetadata(context.Background(), schema.ScopeCaregiver)
	if err != nil {
		t.Fatalf("StartMetadata: %v", err)
	}
	fx.orc.Wait()

	done, err := fx.svc.Get(context.Background(), ef.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !done.DownloadComplete {
		t.Fatal("metadata job not complete")
	}

	zr, err := zip.OpenReader(done.Document)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 || !strings.HasSuffix(zr.File[0].Name, "_data_dictionary.xlsx") {
		t.Errorf("archive entries = %v", zr.File)
	}
}

func TestScopeDescription(t *testing.T) {
	if got := scopeDescription("flourish_caregiver"); got != "Flourish Caregiver Export" {
		t.Errorf("scopeDescription = %q", got)
	}
}

func TestArchiveName(t *testing.T) {
	ts := time.Date(2023, 5, 1, 12, 30, 45, 0, time.UTC)
	got := ArchiveName("flourish_caregiver", ts, "abc")
	if got != "flourish_caregiver_2023-05-01_12-30-45_abc.zip" {
		t.Errorf("ArchiveName = %q", got)
	}
}
