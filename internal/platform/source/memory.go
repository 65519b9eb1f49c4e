package source

import (
	"context"
	"sort"
	"sync"

	"github.com/flourish/export/internal/platform/schema"
)

// Memory is an in-memory RecordSource/ReferenceSource used by tests and the
// development seeder.
type Memory struct {
	mu          sync.RWMutex
	records     map[string][]*Record // kind -> records
	inlines     map[string][]*Record // kind -> instances (ParentKey field links back)
	inlineKeys  map[string]string    // inline kind -> parent key field
	choiceLists map[string][]choiceEntry
	visits      map[string]*Visit
	subjects    map[string]*RegisteredSubject
	consents    map[string][]*Consent
	screenings  map[string]*Screening
	enrollments map[string]*Enrollment
	offstudy    map[schema.Participant]map[string]bool
}

type choiceEntry struct {
	code string
	seq  int
}

func NewMemory() *Memory {
	return &Memory{
		records:     make(map[string][]*Record),
		inlines:     make(map[string][]*Record),
		inlineKeys:  make(map[string]string),
		choiceLists: make(map[string][]choiceEntry),
		visits:      make(map[string]*Visit),
		subjects:    make(map[string]*RegisteredSubject),
		consents:    make(map[string][]*Consent),
		screenings:  make(map[string]*Screening),
		enrollments: make(map[string]*Enrollment),
		offstudy: map[schema.Participant]map[string]bool{
			schema.Caregiver: {},
			schema.Child:     {},
		},
	}
}

func (m *Memory) AddRecord(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Kind] = append(m.records[rec.Kind], rec)
}

// AddInline registers an inline instance. parentKey names the FK field on the
// instance holding the parent record id.
func (m *Memory) AddInline(parentKey string, rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inlineKeys[rec.Kind] = parentKey
	m.inlines[rec.Kind] = append(m.inlines[rec.Kind], rec)
}

// AddChoices appends codes to a choice list in creation order.
func (m *Memory) AddChoices(listKind string, codes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range codes {
		m.choiceLists[listKind] = append(m.choiceLists[listKind], choiceEntry{code: c, seq: len(m.choiceLists[listKind])})
	}
}

func (m *Memory) AddVisit(v *Visit)                  { m.mu.Lock(); m.visits[v.ID] = v; m.mu.Unlock() }
func (m *Memory) AddSubject(s *RegisteredSubject)    { m.mu.Lock(); m.subjects[s.SubjectIdentifier] = s; m.mu.Unlock() }
func (m *Memory) AddScreening(s *Screening)          { m.mu.Lock(); m.screenings[s.ScreeningIdentifier] = s; m.mu.Unlock() }
func (m *Memory) AddEnrollment(e *Enrollment)        { m.mu.Lock(); m.enrollments[e.SubjectIdentifier] = e; m.mu.Unlock() }

func (m *Memory) AddConsent(c *Consent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consents[c.SubjectIdentifier] = append(m.consents[c.SubjectIdentifier], c)
}

func (m *Memory) SetOffStudy(subjectIdentifier string, p schema.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offstudy[p][subjectIdentifier] = true
}

func (m *Memory) Records(_ context.Context, kind string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, len(m.records[kind]))
	copy(out, m.records[kind])
	return out, nil
}

func (m *Memory) RecordByVisit(_ context.Context, kind, visitID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records[kind] {
		if rec.VisitID == visitID {
			return rec, nil
		}
	}
	return nil, nil
}

func (m *Memory) Inlines(_ context.Context, kind, parentID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	parentKey := m.inlineKeys[kind]
	var out []*Record
	for _, rec := range m.inlines[kind] {
		if pid, _ := rec.Fields[parentKey].(string); pid == parentID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ChoiceCatalog(_ context.Context, listKind string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.choiceLists[listKind]
	codes := make([]string, len(entries))
	for i, e := range entries {
		codes[i] = e.code
	}
	return codes, nil
}

func (m *Memory) Visit(_ context.Context, visitID string) (*Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visits[visitID], nil
}

func (m *Memory) RegisteredSubject(_ context.Context, subjectIdentifier string) (*RegisteredSubject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subjects[subjectIdentifier], nil
}

func (m *Memory) LatestConsent(_ context.Context, subjectIdentifier string) (*Consent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs := m.consents[subjectIdentifier]
	if len(cs) == 0 {
		return nil, nil
	}
	return cs[len(cs)-1], nil
}

func (m *Memory) Screening(_ context.Context, screeningIdentifier string) (*Screening, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.screenings[screeningIdentifier], nil
}

func (m *Memory) AntenatalEnrollment(_ context.Context, subjectIdentifier string) (*Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enrollments[subjectIdentifier], nil
}

func (m *Memory) HasOffStudy(_ context.Context, subjectIdentifier string, participant schema.Participant) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table, ok := m.offstudy[participant]
	if !ok {
		return false, nil
	}
	return table[subjectIdentifier], nil
}
