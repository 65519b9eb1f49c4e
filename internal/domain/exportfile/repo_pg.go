package exportfile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgRepository stores export file rows in Postgres. The dedup rule is a
// partial unique index on (study, description) where download_complete is
// false; a violation surfaces as ErrExportInProgress.
type pgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

const exportFileColumns = `id, export_identifier, study, description, document,
	download_complete, download_time, datetime_started, datetime_completed`

func scanExportFile(row pgx.Row) (*ExportFile, error) {
	var ef ExportFile
	err := row.Scan(&ef.ID, &ef.ExportIdentifier, &ef.Study, &ef.Description,
		&ef.Document, &ef.DownloadComplete, &ef.DownloadTime,
		&ef.DatetimeStarted, &ef.DatetimeCompleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan export file: %w", err)
	}
	return &ef, nil
}

func (r *pgRepository) Create(ctx context.Context, ef *ExportFile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO export_files (id, export_identifier, study, description,
			document, download_complete, datetime_started)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ef.ID, ef.ExportIdentifier, ef.Study, ef.Description,
		ef.Document, ef.DownloadComplete, ef.DatetimeStarted)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExportInProgress
	}
	if err != nil {
		return fmt.Errorf("insert export file: %w", err)
	}
	return nil
}

func (r *pgRepository) Update(ctx context.Context, ef *ExportFile) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE export_files
		SET document = $2, download_complete = $3, download_time = $4,
			datetime_completed = $5
		WHERE id = $1`,
		ef.ID, ef.Document, ef.DownloadComplete, ef.DownloadTime, ef.DatetimeCompleted)
	if err != nil {
		return fmt.Errorf("update export file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgRepository) GetByID(ctx context.Context, id uuid.UUID) (*ExportFile, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+exportFileColumns+` FROM export_files WHERE id = $1`, id)
	return scanExportFile(row)
}

func (r *pgRepository) FindActive(ctx context.Context, study, description string) (*ExportFile, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+exportFileColumns+`
		FROM export_files
		WHERE study = $1 AND description = $2 AND NOT download_complete`,
		study, description)
	ef, err := scanExportFile(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return ef, err
}

func (r *pgRepository) List(ctx context.Context, study string, limit, offset int) ([]*ExportFile, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM export_files
		WHERE $1 = '' OR study = $1`, study).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count export files: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+exportFileColumns+`
		FROM export_files
		WHERE $1 = '' OR study = $1
		ORDER BY datetime_started DESC
		LIMIT $2 OFFSET $3`, study, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list export files: %w", err)
	}
	defer rows.Close()

	var out []*ExportFile
	for rows.Next() {
		ef, err := scanExportFile(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ef)
	}
	return out, total, rows.Err()
}

func (r *pgRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM export_files
		WHERE NOT download_complete AND datetime_started < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale export files: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM export_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete export file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
