// Package schema holds the static per-kind descriptors the export engine
// runs on: field metadata, relation declarations, exclusion sets, and the
// study catalogs that say which kinds belong to which export bundle. The
// descriptors are plain configuration supplied at startup; nothing here is
// discovered by reflection at run time.
package schema

// FieldType is the semantic type of a record field.
type FieldType string

const (
	TypeChar             FieldType = "char"
	TypeText             FieldType = "text"
	TypeInteger          FieldType = "integer"
	TypeDecimal          FieldType = "decimal"
	TypeBool             FieldType = "bool"
	TypeDate             FieldType = "date"
	TypeDatetime         FieldType = "datetime"
	TypeForeignKey       FieldType = "fk"
	TypeIdentity         FieldType = "identity"
	TypeFirstName        FieldType = "firstname"
	TypeLastName         FieldType = "lastname"
	TypeEncryptedChar    FieldType = "encrypted_char"
	TypeEncryptedText    FieldType = "encrypted_text"
	TypeEncryptedInteger FieldType = "encrypted_integer"
	TypeEncryptedDecimal FieldType = "encrypted_decimal"
)

// sensitiveTypes are the field types whose values must be encrypted before
// they appear in an export file.
var sensitiveTypes = map[FieldType]bool{
	TypeIdentity:         true,
	TypeFirstName:        true,
	TypeLastName:         true,
	TypeEncryptedChar:    true,
	TypeEncryptedText:    true,
	TypeEncryptedInteger: true,
	TypeEncryptedDecimal: true,
}

// Sensitive reports whether values of this type must be redacted.
func (t FieldType) Sensitive() bool { return sensitiveTypes[t] }

// Temporal reports whether values of this type go through the date/time split.
func (t FieldType) Temporal() bool { return t == TypeDate || t == TypeDatetime }

// FieldDescriptor describes one field of a record kind.
type FieldDescriptor struct {
	Name          string
	Label         string
	FollowUpLabel string // follow-up visit label override, usually empty
	Type          FieldType
	Choices       []string
	MaxLength     int
	Nullable      bool
	Blank         bool
	Editable      bool
}

// M2MRelation declares a many-to-many coded-choice relation: Field is the
// relation name on the record, List the choice-list kind whose catalog
// supplies the complete set of codes.
type M2MRelation struct {
	Field string
	List  string
}

// InlineRelation declares a repeated child (one-to-many reverse) relation.
// ParentKey is the foreign-key field on the inline kind pointing back at the
// parent; it is excluded from inline output. ListField, when set, names a
// coded multi-select on the inline kind that is exported as one flattened
// list of codes instead of per-instance indicator columns (a compatibility
// carve-out for one legacy kind; new inlines leave it empty).
type InlineRelation struct {
	Kind      string
	ParentKey string
	ListField string
}

// Participant distinguishes the two arms of the study.
type Participant string

const (
	Caregiver Participant = "caregiver"
	Child     Participant = "child"
)

// ModelDescriptor describes one record kind.
type ModelDescriptor struct {
	Name        string
	Label       string // display name, used by catalog filtering
	Participant Participant
	CRF         bool // visit-attached kind
	ChoiceList  bool // auxiliary multi-choice list kind, never exported on its own
	Fields      []FieldDescriptor
	M2M         []M2MRelation
	Inlines     []InlineRelation
}

// Field returns the descriptor for the named field, or nil.
func (m *ModelDescriptor) Field(name string) *FieldDescriptor {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// Catalog maps kind name to descriptor.
type Catalog struct {
	models map[string]*ModelDescriptor
	order  []string
}

func NewCatalog(models ...*ModelDescriptor) *Catalog {
	c := &Catalog{models: make(map[string]*ModelDescriptor, len(models))}
	for _, m := range models {
		if _, dup := c.models[m.Name]; !dup {
			c.order = append(c.order, m.Name)
		}
		c.models[m.Name] = m
	}
	return c
}

// Model returns the descriptor for a kind, or nil when unknown.
func (c *Catalog) Model(name string) *ModelDescriptor {
	return c.models[name]
}

// Kinds returns every kind name in declaration order.
func (c *Catalog) Kinds() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// ExportMode selects how a kind's rows are produced.
type ExportMode string

const (
	// ModeIndicator emits one row per record with a complete 0/1 indicator
	// column per possible choice of every m2m relation.
	ModeIndicator ExportMode = "indicator"
	// ModeRowPerChoice emits one row per selected choice of the designated
	// m2m field (row duplication instead of indicator columns).
	ModeRowPerChoice ExportMode = "row_per_choice"
	// ModeMergedInline emits one row per inline instance of the designated
	// inline kind, merged with the parent row.
	ModeMergedInline ExportMode = "merged_inline"
)

// ExportGroup is one unit of export work: a single kind, or an ordered list
// of kinds sharing a visit join key whose flattened rows are combined.
type ExportGroup struct {
	Name       string
	Kinds      []string // first is primary; the rest are satellites joined by visit
	Mode       ExportMode
	M2MField   string // ModeRowPerChoice: the designated relation
	InlineKind string // ModeMergedInline: the designated inline kind
}

// Single is shorthand for a one-kind indicator-mode group.
func Single(kind string) ExportGroup {
	return ExportGroup{Name: kind, Kinds: []string{kind}, Mode: ModeIndicator}
}
