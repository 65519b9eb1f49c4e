package flatten

import (
	"context"
	"testing"
	"time"

	"github.com/flourish/export/internal/platform/schema"
	"github.com/flourish/export/internal/platform/source"
)

func newMergerFixture() (*source.Memory, *Merger) {
	mem := source.NewMemory()
	return mem, NewMerger(mem, schema.DefaultCatalog(), NewRedactor(nil))
}

func TestChoiceColumnsEmitsFullCatalog(t *testing.T) {
	mem, m := newMergerFixture()
	mem.AddChoices("wcsdxadult", "A", "B", "C")

	rec := &source.Record{
		Kind: "maternaldiagnoses", ID: "R1",
		Fields:  map[string]any{},
		Choices: map[string][]string{"who": {"B"}},
	}

	frag, err := m.ChoiceColumns(context.Background(), rec, "")
	if err != nil {
		t.Fatalf("ChoiceColumns: %v", err)
	}
	want := map[string]any{"who__A": 0, "who__B": 1, "who__C": 0}
	if len(frag) != len(want) {
		t.Fatalf("fragment = %v, want exactly %d indicator columns", frag, len(want))
	}
	for col, v := range want {
		if frag[col] != v {
			t.Errorf("%s = %v, want %v", col, frag[col], v)
		}
	}
}

func TestChoiceColumnsNoSelections(t *testing.T) {
	mem, m := newMergerFixture()
	mem.AddChoices("wcsdxadult", "A", "B")

	rec := &source.Record{Kind: "maternaldiagnoses", ID: "R1", Fields: map[string]any{}}

	frag, err := m.ChoiceColumns(context.Background(), rec, "")
	if err != nil {
		t.Fatalf("ChoiceColumns: %v", err)
	}
	if frag["who__A"] != 0 || frag["who__B"] != 0 {
		t.Errorf("fragment = %v, want all zeros", frag)
	}
}

func TestChoiceColumnsUnknownKind(t *testing.T) {
	_, m := newMergerFixture()
	rec := &source.Record{Kind: "nosuchkind", ID: "R1", Fields: map[string]any{}}

	frag, err := m.ChoiceColumns(context.Background(), rec, "")
	if err != nil {
		t.Fatalf("ChoiceColumns: %v", err)
	}
	if len(frag) != 0 {
		t.Errorf("fragment = %v, want empty", frag)
	}
}

func TestInlineColumnsSuffixByPosition(t *testing.T) {
	mem, m := newMergerFixture()
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, code := range []string{"AZT", "3TC", "NVP"} {
		mem.AddInline("maternal_arv_durg_preg_id", &source.Record{
			Kind: "maternalarv", ID: "I" + code,
			Fields:  map[string]any{"arv_code": code, "maternal_arv_durg_preg_id": "P1"},
			Created: base.Add(time.Duration(i) * time.Hour),
		})
	}

	parent := &source.Record{Kind: "maternalarvduringpreg", ID: "P1", Fields: map[string]any{}}

	frag, err := m.InlineColumns(context.Background(), parent)
	if err != nil {
		t.Fatalf("InlineColumns: %v", err)
	}
	for i, code := range []string{"AZT", "3TC", "NVP"} {
		col := "arv_code__" + string(rune('0'+i))
		if frag[col] != code {
			t.Errorf("%s = %v, want %s", col, frag[col], code)
		}
	}
	// The parent FK must never appear in inline output.
	for col := range frag {
		if col == "maternal_arv_durg_preg_id__0" {
			t.Error("parent foreign key leaked into inline columns")
		}
	}
}

func TestInlineColumnsZeroInstancesContributeNothing(t *testing.T) {
	_, m := newMergerFixture()
	parent := &source.Record{Kind: "maternalarvduringpreg", ID: "P-empty", Fields: map[string]any{}}

	frag, err := m.InlineColumns(context.Background(), parent)
	if err != nil {
		t.Fatalf("InlineColumns: %v", err)
	}
	if len(frag) != 0 {
		t.Errorf("fragment = %v, want no placeholder columns", frag)
	}
}

func TestInlineColumnsNestedChoiceIndicators(t *testing.T) {
	mem, m := newMergerFixture()
	mem.AddChoices("childdiseases", "asthma", "tb")
	mem.AddInline("child_previous_hospitalization_id", &source.Record{
		Kind: "childprehospitalizationinline", ID: "I1",
		Fields:  map[string]any{"child_previous_hospitalization_id": "P1"},
		Choices: map[string][]string{"reason_hospitalized": {"tb"}},
	})

	parent := &source.Record{Kind: "childprevioushospitalization", ID: "P1", Fields: map[string]any{}}

	frag, err := m.InlineColumns(context.Background(), parent)
	if err != nil {
		t.Fatalf("InlineColumns: %v", err)
	}
	// The reason field is the legacy flattened-list carve-out: a single code
	// list, no per-instance indicator columns.
	if frag["reason_hospitalized"] != "tb" {
		t.Errorf("reason_hospitalized = %v, want tb", frag["reason_hospitalized"])
	}
	if _, ok := frag["reason_hospitalized__tb__0"]; ok {
		t.Error("list-field relation must not emit indicator columns")
	}
}

func TestMergedInlineRowsOneRowPerInstance(t *testing.T) {
	mem, m := newMergerFixture()
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	mem.AddInline("maternal_arv_durg_preg_id", &source.Record{
		Kind: "maternalarv", ID: "I1",
		Fields:  map[string]any{"arv_code": "AZT", "maternal_arv_durg_preg_id": "P1"},
		Created: base,
	})
	mem.AddInline("maternal_arv_durg_preg_id", &source.Record{
		Kind: "maternalarv", ID: "I2",
		Fields:  map[string]any{"arv_code": "NVP", "maternal_arv_durg_preg_id": "P1"},
		Created: base.Add(time.Hour),
	})

	parent := &source.Record{Kind: "maternalarvduringpreg", ID: "P1", Fields: map[string]any{}}
	parentRow := Row{"subject_identifier": "S1"}

	rows, err := m.MergedInlineRows(context.Background(), parent, parentRow, "maternalarv")
	if err != nil {
		t.Fatalf("MergedInlineRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0]["arv_code"] != "AZT" || rows[1]["arv_code"] != "NVP" {
		t.Errorf("rows out of order: %v", rows)
	}
	for _, r := range rows {
		if r["subject_identifier"] != "S1" {
			t.Error("parent fields not carried into merged row")
		}
	}
}

func TestMergedInlineRowsNoInstancesKeepsParentRow(t *testing.T) {
	_, m := newMergerFixture()
	parent := &source.Record{Kind: "maternalarvduringpreg", ID: "P1", Fields: map[string]any{}}
	parentRow := Row{"subject_identifier": "S1"}

	rows, err := m.MergedInlineRows(context.Background(), parent, parentRow, "maternalarv")
	if err != nil {
		t.Fatalf("MergedInlineRows: %v", err)
	}
	if len(rows) != 1 || rows[0]["subject_identifier"] != "S1" {
		t.Fatalf("rows = %v, want the parent row alone", rows)
	}
}
