package exportfile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service owns the registry rules: dedup on start, completion bookkeeping,
// stale-job cleanup.
type Service struct {
	repo Repository
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "exportfile").Logger(),
		now:  time.Now,
	}
}

// Start registers a new job. A still-running job with the same study and
// description is rejected with ErrExportInProgress before any work begins.
func (s *Service) Start(ctx context.Context, study, description string) (*ExportFile, error) {
	id := uuid.New()
	ef := &ExportFile{
		ID:               id,
		ExportIdentifier: strings.ToUpper(id.String()[:8]),
		Study:            study,
		Description:      description,
		DatetimeStarted:  s.now().UTC(),
	}
	if err := s.repo.Create(ctx, ef); err != nil {
		return nil, err
	}
	s.log.Info().Str("id", ef.ID.String()).Str("study", study).
		Str("description", description).Msg("export job registered")
	return ef, nil
}

// Complete marks the job done and records the generated archive.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, document string) (*ExportFile, error) {
	ef, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	done := s.now().UTC()
	ef.Document = document
	ef.DownloadComplete = true
	ef.DownloadTime = &done
	ef.DatetimeCompleted = &done
	if err := s.repo.Update(ctx, ef); err != nil {
		return nil, err
	}
	s.log.Info().Str("id", id.String()).
		Dur("duration", ef.Duration()).Str("document", document).
		Msg("export job completed")
	return ef, nil
}

// Fail removes the registry row so the same description can be requested
// again without waiting for the stale-job pruner.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, cause error) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("unregister failed job: %w", err)
	}
	s.log.Error().Err(cause).Str("id", id.String()).Msg("export job failed")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ExportFile, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) FindActive(ctx context.Context, study, description string) (*ExportFile, error) {
	return s.repo.FindActive(ctx, study, description)
}

func (s *Service) List(ctx context.Context, study string, limit, offset int) ([]*ExportFile, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.List(ctx, study, limit, offset)
}

// PruneStale drops incomplete jobs older than maxAge. Jobs this old have
// lost their worker (crash or deploy) and would otherwise block their
// study/description slot forever.
func (s *Service) PruneStale(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := s.repo.DeleteStale(ctx, s.now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn().Int("pruned", n).Dur("max_age", maxAge).Msg("stale export jobs pruned")
	}
	return n, nil
}
