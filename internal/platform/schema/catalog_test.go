package schema

import "testing"

func TestExportableFiltersAuxiliaryKinds(t *testing.T) {
	c := DefaultCatalog()
	cases := []struct {
		kind string
		want bool
	}{
		{"medicalhistory", true},
		{"caregiverlocator", true},
		{"wcsdxadult", false},                  // choice list
		{"historicalmedicalhistory", false},    // historical audit kind
		{"caregiverchildrelationship", false},  // relationship table
	}
	for _, tc := range cases {
		if got := Exportable(c.Model(tc.kind)); got != tc.want {
			t.Errorf("Exportable(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
	if Exportable(nil) {
		t.Error("nil descriptor must not be exportable")
	}
}

func TestExportableKindsExcludesFiltered(t *testing.T) {
	c := DefaultCatalog()
	for _, kind := range ExportableKinds(c) {
		m := c.Model(kind)
		if m.ChoiceList {
			t.Errorf("choice list %s leaked into exportable kinds", kind)
		}
	}
}

func TestGroupsForScopeCaregiver(t *testing.T) {
	c := DefaultCatalog()
	groups := GroupsForScope(c, ScopeCaregiver)
	if len(groups) == 0 {
		t.Fatal("no caregiver groups")
	}

	byName := map[string]ExportGroup{}
	for _, g := range groups {
		byName[g.Name] = g
	}

	if _, ok := byName["medicalhistory"]; !ok {
		t.Error("medicalhistory single group missing")
	}
	if g, ok := byName["caregiver_visit_profile"]; !ok || len(g.Kinds) != 2 {
		t.Errorf("combined group = %+v", g)
	}
	if g := byName["arvsprepregnancy_merged_prior_arv"]; g.Mode != ModeRowPerChoice || g.M2MField != "prior_arv" {
		t.Errorf("row-per-choice group = %+v", g)
	}
	if g := byName["maternalarvduringpreg_merged_maternalarv"]; g.Mode != ModeMergedInline || g.InlineKind != "maternalarv" {
		t.Errorf("merged-inline group = %+v", g)
	}

	// Child kinds and PRN kinds stay out of the caregiver scope.
	for _, g := range groups {
		for _, kind := range g.Kinds {
			m := c.Model(kind)
			if m.Participant != Caregiver {
				t.Errorf("group %s carries %s participant kind %s", g.Name, m.Participant, kind)
			}
			switch kind {
			case "caregiveroffstudy", "deathreport":
				t.Errorf("PRN kind %s in caregiver scope", kind)
			}
		}
	}
}

func TestGroupsForScopePRN(t *testing.T) {
	groups := GroupsForScope(DefaultCatalog(), ScopePRN)
	if len(groups) != 3 {
		t.Fatalf("PRN groups = %d, want offstudy x2 + deathreport", len(groups))
	}
}

func TestGroupsForScopeUnknown(t *testing.T) {
	if got := GroupsForScope(DefaultCatalog(), "nope"); got != nil {
		t.Errorf("unknown scope groups = %v, want nil", got)
	}
}

func TestExclusionSetsAreIndependentCopies(t *testing.T) {
	a := ExclusionSet()
	a["extra"] = struct{}{}
	if _, ok := ExclusionSet()["extra"]; ok {
		t.Error("mutating a returned set leaked into the source list")
	}

	inline := InlineExclusionSet("parent_id")
	if _, ok := inline["parent_id"]; !ok {
		t.Error("inline set must include the parent key")
	}
	if _, ok := inline["id"]; !ok {
		t.Error("inline set must include the standard exclusions")
	}
}

func TestSensitiveTypes(t *testing.T) {
	for _, ft := range []FieldType{TypeIdentity, TypeFirstName, TypeLastName, TypeEncryptedChar, TypeEncryptedText, TypeEncryptedInteger, TypeEncryptedDecimal} {
		if !ft.Sensitive() {
			t.Errorf("%s not sensitive", ft)
		}
	}
	for _, ft := range []FieldType{TypeChar, TypeInteger, TypeDate, TypeDatetime} {
		if ft.Sensitive() {
			t.Errorf("%s wrongly sensitive", ft)
		}
	}
	if !TypeDate.Temporal() || !TypeDatetime.Temporal() || TypeChar.Temporal() {
		t.Error("temporal classification wrong")
	}
}

func TestScopeForParticipant(t *testing.T) {
	if ScopeForParticipant(Caregiver) != ScopeCaregiver || ScopeForParticipant(Child) != ScopeChild {
		t.Error("participant scope mapping wrong")
	}
}
