package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flourish/export/internal/domain/exportfile"
	"github.com/flourish/export/internal/platform/notification"
	"github.com/flourish/export/internal/platform/runner"
	"github.com/flourish/export/internal/platform/schema"
	"github.com/flourish/export/internal/platform/telemetry"
)

// Orchestrator runs whole export jobs: register, fan the scope's groups out
// over the pool, archive the output directory, mark the registry row done
// and notify. It implements exportfile.Starter.
type Orchestrator struct {
	svc       *exportfile.Service
	runner    *runner.Runner
	meta      *runner.MetadataExporter
	catalog   *schema.Catalog
	sender    notification.Sender
	pool      *Pool
	exportDir string
	notify    []string
	loc       *time.Location
	log       zerolog.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

func NewOrchestrator(
	svc *exportfile.Service,
	run *runner.Runner,
	meta *runner.MetadataExporter,
	catalog *schema.Catalog,
	sender notification.Sender,
	pool *Pool,
	exportDir string,
	notify []string,
	loc *time.Location,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		svc:       svc,
		runner:    run,
		meta:      meta,
		catalog:   catalog,
		sender:    sender,
		pool:      pool,
		exportDir: exportDir,
		notify:    notify,
		loc:       loc,
		log:       log.With().Str("component", "orchestrator").Logger(),
		now:       time.Now,
	}
}

// scopeDescription is the human-readable job description, also the dedup key
// together with the scope.
func scopeDescription(scope string) string {
	words := strings.Split(scope, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ") + " Export"
}

func validScope(scope string) bool {
	if scope == schema.ScopeAll {
		return true
	}
	for _, s := range schema.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// scopesToRun expands the umbrella scope into the concrete scopes.
func scopesToRun(scope string) []string {
	if scope == schema.ScopeAll {
		return schema.Scopes()
	}
	return []string{scope}
}

// StartExport registers a job for the scope and runs it in the background.
// The registry row is returned immediately; progress is observable through
// the registry.
func (o *Orchestrator) StartExport(ctx context.Context, scope, format string) (*exportfile.ExportFile, error) {
	if !validScope(scope) {
		return nil, fmt.Errorf("unknown export scope %q", scope)
	}
	f := runner.FormatCSV
	if format == string(runner.FormatExcel) || format == "excel" {
		f = runner.FormatExcel
	}

	ef, err := o.svc.Start(ctx, scope, scopeDescription(scope))
	if err != nil {
		return nil, err
	}
	telemetry.JobsStarted.WithLabelValues(scope).Inc()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.finish(ef, scope, o.RunExport(context.Background(), ef, scope, f))
	}()
	return ef, nil
}

// StartFlat registers and runs a flat export job: one wide row per subject,
// every exportable kind of the participant merged in. PRN kinds have no
// participant arm and therefore no flat export.
func (o *Orchestrator) StartFlat(ctx context.Context, scope, format string) (*exportfile.ExportFile, error) {
	if !validScope(scope) || scope == schema.ScopePRN {
		return nil, fmt.Errorf("no flat export for scope %q", scope)
	}
	f := runner.FormatCSV
	if format == string(runner.FormatExcel) || format == "excel" {
		f = runner.FormatExcel
	}

	ef, err := o.svc.Start(ctx, scope, strings.TrimSuffix(scopeDescription(scope), "Export")+"Flat Export")
	if err != nil {
		return nil, err
	}
	telemetry.JobsStarted.WithLabelValues(scope).Inc()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.finish(ef, scope, o.RunFlat(context.Background(), ef, scope, f))
	}()
	return ef, nil
}

// StartMetadata registers and runs a data dictionary job for the scope.
func (o *Orchestrator) StartMetadata(ctx context.Context, scope string) (*exportfile.ExportFile, error) {
	if !validScope(scope) || scope == schema.ScopePRN {
		return nil, fmt.Errorf("no metadata export for scope %q", scope)
	}

	ef, err := o.svc.Start(ctx, scope, strings.TrimSuffix(scopeDescription(scope), "Export")+"Metadata")
	if err != nil {
		return nil, err
	}
	telemetry.JobsStarted.WithLabelValues(scope).Inc()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.finish(ef, scope, o.RunMetadata(context.Background(), ef, scope))
	}()
	return ef, nil
}

// Wait blocks until every background job has finished. Used at shutdown and
// by tests.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// RunExport executes one export job synchronously: per-job directory, one
// unit per export group, archive, registry completion.
func (o *Orchestrator) RunExport(ctx context.Context, ef *exportfile.ExportFile, scope string, format runner.Format) error {
	started := o.now()
	jobDir := filepath.Join(o.exportDir, fmt.Sprintf("%s_%s", scope, started.In(o.loc).Format("20060102150405")))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	var units []Unit
	for _, sub := range scopesToRun(scope) {
		study := sub
		for _, group := range schema.GroupsForScope(o.catalog, sub) {
			g := group
			units = append(units, Unit{
				Name: study + "/" + g.Name,
				Run: func(ctx context.Context) error {
					if _, err := o.runner.ExportGroup(ctx, study, jobDir, g, format); err != nil {
						return err
					}
					telemetry.FilesWritten.WithLabelValues(study).Inc()
					return nil
				},
			})
		}
	}
	if len(units) == 0 {
		return fmt.Errorf("scope %s has no export groups", scope)
	}

	o.runUnits(ctx, ef, units)
	return o.archive(ctx, ef, scope, jobDir)
}

// runUnits drains the pool. A failed unit only costs its own file; the job
// still packages and completes with that file absent.
func (o *Orchestrator) runUnits(ctx context.Context, ef *exportfile.ExportFile, units []Unit) {
	if err := o.pool.Run(ctx, units); err != nil {
		o.log.Error().Err(err).Str("id", ef.ID.String()).
			Msg("units failed, packaging the rest")
	}
}

// RunFlat executes a flat export job synchronously: one wide table per
// participant arm of the scope, then archive.
func (o *Orchestrator) RunFlat(ctx context.Context, ef *exportfile.ExportFile, scope string, format runner.Format) error {
	started := o.now()
	jobDir := filepath.Join(o.exportDir, fmt.Sprintf("%s_flat_%s", scope, started.In(o.loc).Format("20060102150405")))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	var units []Unit
	for _, sub := range scopesToRun(scope) {
		participant, ok := schema.ParticipantForScope(sub)
		if !ok {
			continue
		}
		study := sub
		units = append(units, Unit{
			Name: study + "/flat",
			Run: func(ctx context.Context) error {
				if _, err := o.runner.ExportFlat(ctx, study, jobDir, participant, format); err != nil {
					return err
				}
				telemetry.FilesWritten.WithLabelValues(study).Inc()
				return nil
			},
		})
	}

	o.runUnits(ctx, ef, units)
	return o.archive(ctx, ef, scope, jobDir)
}

// RunMetadata executes a data dictionary job synchronously: one workbook per
// scope into the job directory, then archive.
func (o *Orchestrator) RunMetadata(ctx context.Context, ef *exportfile.ExportFile, scope string) error {
	started := o.now()
	jobDir := filepath.Join(o.exportDir, fmt.Sprintf("%s_metadata_%s", scope, started.In(o.loc).Format("20060102150405")))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	var units []Unit
	for _, sub := range scopesToRun(scope) {
		if sub == schema.ScopePRN {
			continue
		}
		study := sub
		path := filepath.Join(jobDir, study+"_data_dictionary.xlsx")
		units = append(units, Unit{
			Name: study + "/metadata",
			Run: func(ctx context.Context) error {
				return o.meta.ExportScope(ctx, path, study)
			},
		})
	}

	o.runUnits(ctx, ef, units)
	return o.archive(ctx, ef, scope, jobDir)
}

// archive zips the job directory and completes the registry row.
func (o *Orchestrator) archive(ctx context.Context, ef *exportfile.ExportFile, scope, jobDir string) error {
	dest := filepath.Join(o.exportDir, ArchiveName(scope, o.now().In(o.loc), ef.ID.String()))
	if err := archiveDir(jobDir, dest); err != nil {
		return err
	}
	if _, err := o.svc.Complete(ctx, ef.ID, dest); err != nil {
		return err
	}
	return nil
}

// finish records the job outcome and sends the completion mail. Only
// job-level errors reach it (job directory, archive, registry); those
// unregister the row so the slot frees immediately. Runs on the job's own
// goroutine.
func (o *Orchestrator) finish(ef *exportfile.ExportFile, scope string, err error) {
	ctx := context.Background()
	if err != nil {
		telemetry.JobsFinished.WithLabelValues(scope, "failure").Inc()
		if ferr := o.svc.Fail(ctx, ef.ID, err); ferr != nil {
			o.log.Error().Err(ferr).Str("id", ef.ID.String()).Msg("could not unregister failed job")
		}
		return
	}

	telemetry.JobsFinished.WithLabelValues(scope, "success").Inc()
	telemetry.JobDuration.WithLabelValues(scope).Observe(o.now().Sub(ef.DatetimeStarted).Seconds())

	msg := notification.Completion(ef.ExportIdentifier, ef.Description, o.notify)
	if err := o.sender.Send(ctx, msg); err != nil {
		o.log.Error().Err(err).Str("id", ef.ID.String()).Msg("completion mail failed")
	}
}
