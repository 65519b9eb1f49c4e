// Package runner executes export groups: it drives the flattener and merger
// over every record of a group's kinds and writes the resulting table to disk
// under a timestamped file name.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/flourish/export/internal/platform/flatten"
	"github.com/flourish/export/internal/platform/schema"
	"github.com/flourish/export/internal/platform/source"
)

// Runner turns one ExportGroup into one export file. It is safe for
// concurrent use; each call writes its own file.
type Runner struct {
	flattener *flatten.Flattener
	merger    *flatten.Merger
	records   source.RecordSource
	catalog   *schema.Catalog
	log       zerolog.Logger
	now       func() time.Time
}

func New(f *flatten.Flattener, m *flatten.Merger, records source.RecordSource, catalog *schema.Catalog, log zerolog.Logger) *Runner {
	return &Runner{
		flattener: f,
		merger:    m,
		records:   records,
		catalog:   catalog,
		log:       log.With().Str("component", "runner").Logger(),
		now:       time.Now,
	}
}

// Result describes one completed group export.
type Result struct {
	Group string
	File  string
	Rows  int
}

// FileName builds the export file name: {study}_{group}_{YYYYMMDDHHMMSS}.{ext}.
func FileName(study, group string, ts time.Time, format Format) string {
	return fmt.Sprintf("%s_%s_%s.%s", study, group, ts.Format("20060102150405"), format.Ext())
}

// ExportGroup flattens every record of the group and writes the table into
// dir. Any flattening failure aborts the whole group before a file is
// created; a missing reference is terminal, not skippable.
func (r *Runner) ExportGroup(ctx context.Context, study, dir string, group schema.ExportGroup, format Format) (*Result, error) {
	rows, err := r.Rows(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", group.Name, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, FileName(study, group.Name, r.now().In(r.flattener.Location()), format))
	if err := WriteTable(format, path, group.Name, rows); err != nil {
		return nil, fmt.Errorf("group %s: %w", group.Name, err)
	}

	r.log.Info().Str("group", group.Name).Int("rows", len(rows)).Str("file", path).Msg("export group written")
	return &Result{Group: group.Name, File: path, Rows: len(rows)}, nil
}

// Rows produces the finalized rows for a group without writing a file.
func (r *Runner) Rows(ctx context.Context, group schema.ExportGroup) ([]flatten.Row, error) {
	if len(group.Kinds) == 0 {
		return nil, fmt.Errorf("group %s has no kinds", group.Name)
	}
	switch group.Mode {
	case schema.ModeRowPerChoice:
		return r.rowPerChoiceRows(ctx, group)
	case schema.ModeMergedInline:
		return r.mergedInlineRows(ctx, group)
	default:
		return r.indicatorRows(ctx, group)
	}
}

func (r *Runner) flattenFunc(kind string) flatten.Func {
	if m := r.catalog.Model(kind); m != nil && m.CRF {
		return r.flattener.CRF
	}
	return r.flattener.NonCRF
}

// recordRow flattens one record with its choice indicators and inline
// fragments merged in, un-finalized.
func (r *Runner) recordRow(ctx context.Context, rec *source.Record) (flatten.Row, error) {
	row, err := r.flattenFunc(rec.Kind)(ctx, rec)
	if err != nil {
		return nil, err
	}
	choices, err := r.merger.ChoiceColumns(ctx, rec, "")
	if err != nil {
		return nil, err
	}
	for k, v := range choices {
		row[k] = v
	}
	inlines, err := r.merger.InlineColumns(ctx, rec)
	if err != nil {
		return nil, err
	}
	for k, v := range inlines {
		row[k] = v
	}
	return row, nil
}

// indicatorRows is the standard variant: one row per record of the primary
// kind, with satellite kinds joined on the visit key and overlaid in group
// order (a satellite's column wins over the primary's on collision).
func (r *Runner) indicatorRows(ctx context.Context, group schema.ExportGroup) ([]flatten.Row, error) {
	primary := group.Kinds[0]
	recs, err := r.records.Records(ctx, primary)
	if err != nil {
		return nil, err
	}

	rows := make([]flatten.Row, 0, len(recs))
	for _, rec := range recs {
		row, err := r.recordRow(ctx, rec)
		if err != nil {
			return nil, err
		}
		for _, satKind := range group.Kinds[1:] {
			sat, err := r.records.RecordByVisit(ctx, satKind, rec.VisitID)
			if err != nil {
				return nil, err
			}
			if sat == nil {
				continue
			}
			satRow, err := r.recordRow(ctx, sat)
			if err != nil {
				return nil, err
			}
			for k, v := range satRow {
				row[k] = v
			}
		}
		rows = append(rows, r.flattener.Finalize(row))
	}
	return rows, nil
}

// rowPerChoiceRows duplicates each record once per selected code of the
// designated m2m field, carrying the code in that field's own column. A
// record with no selections still yields one row.
func (r *Runner) rowPerChoiceRows(ctx context.Context, group schema.ExportGroup) ([]flatten.Row, error) {
	kind := group.Kinds[0]
	recs, err := r.records.Records(ctx, kind)
	if err != nil {
		return nil, err
	}

	var rows []flatten.Row
	for _, rec := range recs {
		base, err := r.flattenFunc(kind)(ctx, rec)
		if err != nil {
			return nil, err
		}
		codes := rec.Choices[group.M2MField]
		if len(codes) == 0 {
			rows = append(rows, r.flattener.Finalize(base))
			continue
		}
		for _, code := range codes {
			row := make(flatten.Row, len(base)+1)
			for k, v := range base {
				row[k] = v
			}
			row[group.M2MField] = code
			rows = append(rows, r.flattener.Finalize(row))
		}
	}
	return rows, nil
}

// mergedInlineRows emits one row per inline instance of the designated kind,
// merged over the parent row.
func (r *Runner) mergedInlineRows(ctx context.Context, group schema.ExportGroup) ([]flatten.Row, error) {
	kind := group.Kinds[0]
	recs, err := r.records.Records(ctx, kind)
	if err != nil {
		return nil, err
	}

	var rows []flatten.Row
	for _, rec := range recs {
		base, err := r.flattenFunc(kind)(ctx, rec)
		if err != nil {
			return nil, err
		}
		merged, err := r.merger.MergedInlineRows(ctx, rec, base, group.InlineKind)
		if err != nil {
			return nil, err
		}
		for _, row := range merged {
			rows = append(rows, r.flattener.Finalize(row))
		}
	}
	return rows, nil
}
