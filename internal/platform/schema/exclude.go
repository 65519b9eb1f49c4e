package schema

// excludeFields are audit/internal columns never emitted in an export row:
// primary keys, revision and host bookkeeping, and raw timestamp fields
// superseded by the split date/time columns. The set is fixed before any
// iteration begins.
var excludeFields = []string{
	"id",
	"created",
	"modified",
	"user_created",
	"user_modified",
	"hostname_created",
	"hostname_modified",
	"device_created",
	"device_modified",
	"revision",
	"site_id",
	"slug",
	"subject_identifier_as_pk",
	"subject_identifier_aka",
	"consent_model",
	"consent_version",
}

// excludeM2MFields applies to the row-per-choice m2m export variant, which
// keeps the selected code column but drops the same audit columns.
var excludeM2MFields = excludeFields

// ExclusionSet returns the precomputed exclusion set for standard exports.
// Callers get a fresh copy; the source lists are never mutated.
func ExclusionSet() map[string]struct{} {
	return makeSet(excludeFields)
}

// M2MExclusionSet returns the exclusion set for row-per-choice exports.
func M2MExclusionSet() map[string]struct{} {
	return makeSet(excludeM2MFields)
}

// InlineExclusionSet is the exclusion set applied to inline instances: the
// standard set plus the inline's parent foreign-key field.
func InlineExclusionSet(parentKey string) map[string]struct{} {
	set := makeSet(excludeFields)
	if parentKey != "" {
		set[parentKey] = struct{}{}
	}
	return set
}

func makeSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
