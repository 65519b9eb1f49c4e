package exportfile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newService() *Service {
	return NewService(NewMemoryRepository(), zerolog.Nop())
}

func TestStartRejectsDuplicateActiveJob(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	first, err := svc.Start(ctx, "flourish_caregiver", "Caregiver Export")
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if first.ExportIdentifier == "" {
		t.Error("export identifier not assigned")
	}

	_, err = svc.Start(ctx, "flourish_caregiver", "Caregiver Export")
	if !errors.Is(err, ErrExportInProgress) {
		t.Fatalf("err = %v, want ErrExportInProgress", err)
	}

	// A different description is an independent slot.
	if _, err := svc.Start(ctx, "flourish_caregiver", "Caregiver Metadata"); err != nil {
		t.Fatalf("different description rejected: %v", err)
	}
	// So is the same description on another study.
	if _, err := svc.Start(ctx, "flourish_child", "Caregiver Export"); err != nil {
		t.Fatalf("different study rejected: %v", err)
	}
}

func TestCompleteFreesTheSlot(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	ef, err := svc.Start(ctx, "flourish_caregiver", "Caregiver Export")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done, err := svc.Complete(ctx, ef.ID, "/exports/archive.zip")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !done.DownloadComplete || done.Document != "/exports/archive.zip" {
		t.Errorf("completed row = %+v", done)
	}
	if done.DatetimeCompleted == nil || done.DownloadTime == nil {
		t.Error("completion timestamps not set")
	}

	if _, err := svc.Start(ctx, "flourish_caregiver", "Caregiver Export"); err != nil {
		t.Fatalf("slot still blocked after completion: %v", err)
	}
}

func TestFailFreesTheSlot(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	ef, err := svc.Start(ctx, "flourish_caregiver", "Caregiver Export")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Fail(ctx, ef.ID, errors.New("boom")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if _, err := svc.Start(ctx, "flourish_caregiver", "Caregiver Export"); err != nil {
		t.Fatalf("slot still blocked after failure: %v", err)
	}
}

func TestPruneStaleDropsOnlyOldIncompleteJobs(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	old, _ := svc.Start(ctx, "flourish_caregiver", "Old Export")
	fresh, _ := svc.Start(ctx, "flourish_caregiver", "Fresh Export")
	finished, _ := svc.Start(ctx, "flourish_caregiver", "Finished Export")
	if _, err := svc.Complete(ctx, finished.ID, "/a.zip"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Age the first job past the cutoff.
	aged, _ := svc.Get(ctx, old.ID)
	aged.DatetimeStarted = time.Now().UTC().Add(-24 * time.Hour)
	if err := svc.repo.Update(ctx, aged); err != nil {
		t.Fatalf("age row: %v", err)
	}

	n, err := svc.PruneStale(ctx, 12*time.Hour)
	if err != nil {
		t.Fatalf("PruneStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if _, err := svc.Get(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Error("stale job survived pruning")
	}
	if _, err := svc.Get(ctx, fresh.ID); err != nil {
		t.Error("fresh job was pruned")
	}
	if _, err := svc.Get(ctx, finished.ID); err != nil {
		t.Error("completed job was pruned")
	}
}

func TestListNewestFirst(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	base := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, desc := range []string{"first", "second", "third"} {
		ts := base.Add(time.Duration(i) * time.Hour)
		svc.now = func() time.Time { return ts }
		if _, err := svc.Start(ctx, "flourish_caregiver", desc); err != nil {
			t.Fatalf("Start %s: %v", desc, err)
		}
	}

	files, total, err := svc.List(ctx, "flourish_caregiver", 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 3 || len(files) != 2 {
		t.Fatalf("total = %d, page = %d", total, len(files))
	}
	if files[0].Description != "third" {
		t.Errorf("first listed = %s, want newest", files[0].Description)
	}
}
