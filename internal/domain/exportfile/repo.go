package exportfile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists export file rows.
type Repository interface {
	// Create inserts a new incomplete row. ErrExportInProgress when an
	// incomplete row with the same study and description exists.
	Create(ctx context.Context, ef *ExportFile) error
	Update(ctx context.Context, ef *ExportFile) error
	GetByID(ctx context.Context, id uuid.UUID) (*ExportFile, error)
	// FindActive returns the incomplete row for a study/description pair,
	// or nil.
	FindActive(ctx context.Context, study, description string) (*ExportFile, error)
	List(ctx context.Context, study string, limit, offset int) ([]*ExportFile, int, error)
	// DeleteStale removes incomplete rows started before the cutoff and
	// returns how many were removed.
	DeleteStale(ctx context.Context, cutoff time.Time) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemoryRepository is the in-process Repository used by tests and the dev
// profile. The dedup rule is enforced under one mutex, mirroring the partial
// unique index the SQL schema carries.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*ExportFile
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]*ExportFile)}
}

func (r *MemoryRepository) Create(_ context.Context, ef *ExportFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if !row.DownloadComplete && row.Study == ef.Study && row.Description == ef.Description {
			return ErrExportInProgress
		}
	}
	cp := *ef
	r.rows[ef.ID] = &cp
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, ef *ExportFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[ef.ID]; !ok {
		return ErrNotFound
	}
	cp := *ef
	r.rows[ef.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*ExportFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryRepository) FindActive(_ context.Context, study, description string) (*ExportFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if !row.DownloadComplete && row.Study == study && row.Description == description {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) List(_ context.Context, study string, limit, offset int) ([]*ExportFile, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*ExportFile
	for _, row := range r.rows {
		if study != "" && row.Study != study {
			continue
		}
		cp := *row
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].DatetimeStarted.After(all[j].DatetimeStarted)
	})
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *MemoryRepository) DeleteStale(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, row := range r.rows {
		if !row.DownloadComplete && row.DatetimeStarted.Before(cutoff) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}
