package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flourish/export/internal/platform/flatten"
	"github.com/flourish/export/internal/platform/schema"
)

// FlatRows merges every exportable record of the participant's kinds into
// one wide row per subject, kinds visited in catalog order. A column already
// holding a different value is kept and the newcomer lands under
// {column}__{kind}; when that suffixed column collides too, the first writer
// wins.
func (r *Runner) FlatRows(ctx context.Context, participant schema.Participant) ([]flatten.Row, error) {
	subjects := make(map[string]flatten.Row)
	var order []string

	for _, kind := range schema.ExportableKinds(r.catalog) {
		m := r.catalog.Model(kind)
		if m.Participant != participant {
			continue
		}
		recs, err := r.records.Records(ctx, kind)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			row, err := r.recordRow(ctx, rec)
			if err != nil {
				return nil, err
			}
			final := r.flattener.Finalize(row)

			subject := flatSubject(final, rec.SubjectIdentifier())
			dst, ok := subjects[subject]
			if !ok {
				dst = flatten.Row{}
				subjects[subject] = dst
				order = append(order, subject)
			}
			mergeFlat(dst, final, kind)
		}
	}

	rows := make([]flatten.Row, 0, len(order))
	for _, s := range order {
		rows = append(rows, subjects[s])
	}
	return rows, nil
}

func flatSubject(row flatten.Row, fallback string) string {
	for _, col := range []string{"caregiver_subject_identifier", "child_subject_identifier", "subject_identifier"} {
		if v, ok := row[col].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

func mergeFlat(dst, src flatten.Row, kind string) {
	for k, v := range src {
		cur, exists := dst[k]
		if !exists {
			dst[k] = v
			continue
		}
		if cur == v {
			continue
		}
		suffixed := k + "__" + kind
		if _, dup := dst[suffixed]; !dup {
			dst[suffixed] = v
		}
	}
}

// ExportFlat writes the participant's flat table into dir as
// {study}_flat_{ts}.{ext}.
func (r *Runner) ExportFlat(ctx context.Context, study, dir string, participant schema.Participant, format Format) (*Result, error) {
	rows, err := r.FlatRows(ctx, participant)
	if err != nil {
		return nil, fmt.Errorf("flat export %s: %w", participant, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, FileName(study, "flat", r.now().In(r.flattener.Location()), format))
	if err := WriteTable(format, path, "flat", rows); err != nil {
		return nil, fmt.Errorf("flat export %s: %w", participant, err)
	}
	r.log.Info().Str("participant", string(participant)).Int("rows", len(rows)).
		Str("file", path).Msg("flat export written")
	return &Result{Group: "flat", File: path, Rows: len(rows)}, nil
}
