package flatten

import (
	"context"
	"strconv"
	"strings"

	"github.com/flourish/export/internal/platform/schema"
	"github.com/flourish/export/internal/platform/source"
)

// Merger produces the choice-indicator and inline fragments merged into a
// parent row.
type Merger struct {
	records  source.RecordSource
	catalog  *schema.Catalog
	redactor *Redactor
}

func NewMerger(records source.RecordSource, catalog *schema.Catalog, redactor *Redactor) *Merger {
	return &Merger{records: records, catalog: catalog, redactor: redactor}
}

// ChoiceColumns returns one 0/1 indicator column per possible catalog choice
// of every m2m relation on the record's kind, named {relation}__{code} and
// additionally suffixed __{suffix} when non-empty (inline context). The full
// catalog is always emitted, selected or not. A kind with no m2m relations
// yields an empty fragment.
func (m *Merger) ChoiceColumns(ctx context.Context, rec *source.Record, suffix string) (Row, error) {
	return m.choiceColumns(ctx, rec, suffix, "")
}

func (m *Merger) choiceColumns(ctx context.Context, rec *source.Record, suffix, skipField string) (Row, error) {
	desc := m.catalog.Model(rec.Kind)
	out := Row{}
	if desc == nil {
		return out, nil
	}
	for _, rel := range desc.M2M {
		if rel.Field == skipField {
			continue
		}
		codes, err := m.records.ChoiceCatalog(ctx, rel.List)
		if err != nil {
			return nil, err
		}
		selected := make(map[string]bool, len(rec.Choices[rel.Field]))
		for _, code := range rec.Choices[rel.Field] {
			selected[code] = true
		}
		for _, code := range codes {
			col := rel.Field + "__" + code
			if suffix != "" {
				col += "__" + suffix
			}
			if selected[code] {
				out[col] = 1
			} else {
				out[col] = 0
			}
		}
	}
	return out, nil
}

// InlineColumns flattens every inline relation of the parent: instance i
// contributes its own fields (redacted, inline exclusion set applied) under
// keys suffixed __i, plus its own choice indicators suffixed the same way.
// A relation with zero instances contributes nothing, so the resulting table
// is ragged. A relation with ListField set contributes that field as one
// flattened code list instead of indicator columns.
func (m *Merger) InlineColumns(ctx context.Context, parent *source.Record) (Row, error) {
	desc := m.catalog.Model(parent.Kind)
	out := Row{}
	if desc == nil {
		return out, nil
	}
	for _, rel := range desc.Inlines {
		instances, err := m.records.Inlines(ctx, rel.Kind, parent.ID)
		if err != nil {
			return nil, err
		}
		if len(instances) == 0 {
			continue
		}

		if rel.ListField != "" {
			var codes []string
			for _, inst := range instances {
				codes = append(codes, inst.Choices[rel.ListField]...)
			}
			out[rel.ListField] = strings.Join(codes, ",")
		}

		inlineDesc := m.catalog.Model(rel.Kind)
		exclude := schema.InlineExclusionSet(rel.ParentKey)
		for i, inst := range instances {
			idx := strconv.Itoa(i)
			instRow, err := m.redactor.Redact(Row(inst.Fields), inlineDesc)
			if err != nil {
				return nil, err
			}
			for k, v := range instRow {
				if _, skip := exclude[k]; skip {
					continue
				}
				out[k+"__"+idx] = v
			}
			choices, err := m.choiceColumns(ctx, inst, idx, rel.ListField)
			if err != nil {
				return nil, err
			}
			for k, v := range choices {
				out[k] = v
			}
		}
	}
	return out, nil
}

// MergedInlineRows produces the merged-inline export variant: one row per
// inline instance of the designated relation, each the parent row overlaid
// with the instance's fields (unsuffixed); a parent with no instances yields
// its row alone. parentRow must be the un-finalized parent row.
func (m *Merger) MergedInlineRows(ctx context.Context, parent *source.Record, parentRow Row, inlineKind string) ([]Row, error) {
	desc := m.catalog.Model(parent.Kind)
	if desc == nil {
		return []Row{parentRow}, nil
	}
	var rel *schema.InlineRelation
	for i := range desc.Inlines {
		if desc.Inlines[i].Kind == inlineKind {
			rel = &desc.Inlines[i]
			break
		}
	}
	if rel == nil {
		return []Row{parentRow}, nil
	}

	instances, err := m.records.Inlines(ctx, inlineKind, parent.ID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return []Row{parentRow}, nil
	}

	inlineDesc := m.catalog.Model(inlineKind)
	rows := make([]Row, 0, len(instances))
	for _, inst := range instances {
		row := make(Row, len(parentRow)+len(inst.Fields))
		for k, v := range parentRow {
			row[k] = v
		}
		instRow, err := m.redactor.Redact(Row(inst.Fields), inlineDesc)
		if err != nil {
			return nil, err
		}
		for k, v := range instRow {
			row[k] = v
		}
		if rel.ListField != "" {
			row[rel.ListField] = strings.Join(inst.Choices[rel.ListField], ",")
		}
		rows = append(rows, row)
	}
	return rows, nil
}
