package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appmint-dev/sandbox-orchestrator/internal/sandbox"
)

const schema = `
CREATE TABLE IF NOT EXISTS fragments (
	fragment_id text PRIMARY KEY,
	project_id  text NOT NULL,
	files       jsonb NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS fragments_project_idx ON fragments (project_id, created_at DESC);

CREATE TABLE IF NOT EXISTS snapshots (
	image_id    text PRIMARY KEY,
	fragment_id text NOT NULL,
	project_id  text NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS snapshots_project_idx ON snapshots (project_id, created_at DESC);

CREATE TABLE IF NOT EXISTS project_build_status (
	project_id  text PRIMARY KEY,
	status      text NOT NULL,
	build_error text NOT NULL DEFAULT '',
	updated_at  timestamptz NOT NULL DEFAULT now()
);
`

type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// expose otel traces
	config.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// expose otel metrics
	if err := otelpgx.RecordStats(pool); err != nil {
		pool.Close()

		return nil, fmt.Errorf("failed to record stats: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()

		return nil, err
	}

	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	return nil
}

func (p *Postgres) GetFragment(ctx context.Context, fragmentID string) (*Fragment, error) {
	fragment := Fragment{}

	err := p.pool.QueryRow(ctx, `
SELECT fragment_id, project_id, files, created_at FROM fragments WHERE fragment_id = $1
`, fragmentID).Scan(&fragment.FragmentID, &fragment.ProjectID, &fragment.Files, &fragment.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFragmentNotFound
		}

		return nil, fmt.Errorf("failed to get fragment %s: %w", fragmentID, err)
	}

	return &fragment, nil
}

func (p *Postgres) LatestFragment(ctx context.Context, projectID string) (*Fragment, error) {
	fragment := Fragment{}

	err := p.pool.QueryRow(ctx, `
SELECT fragment_id, project_id, files, created_at FROM fragments
WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1
`, projectID).Scan(&fragment.FragmentID, &fragment.ProjectID, &fragment.Files, &fragment.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFragmentNotFound
		}

		return nil, fmt.Errorf("failed to get latest fragment for project %s: %w", projectID, err)
	}

	return &fragment, nil
}

func (p *Postgres) CreateSnapshot(ctx context.Context, record SnapshotRecord) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO snapshots (image_id, fragment_id, project_id, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (image_id) DO NOTHING
`, record.ImageID, record.FragmentID, record.ProjectID, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot record: %w", err)
	}

	return nil
}

func (p *Postgres) ListSnapshots(ctx context.Context, projectID string) ([]SnapshotRecord, error) {
	rows, err := p.pool.Query(ctx, `
SELECT image_id, fragment_id, project_id, created_at FROM snapshots
WHERE project_id = $1 ORDER BY created_at DESC
`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		record := SnapshotRecord{}
		if err := rows.Scan(&record.ImageID, &record.FragmentID, &record.ProjectID, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot record: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot rows: %w", err)
	}

	return records, nil
}

func (p *Postgres) DeleteSnapshot(ctx context.Context, imageID string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM snapshots WHERE image_id = $1`, imageID)
	if err != nil {
		return false, fmt.Errorf("failed to delete snapshot record %s: %w", imageID, err)
	}

	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) SetBuildStatus(ctx context.Context, projectID string, status sandbox.BuildStatus, buildError string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO project_build_status (project_id, status, build_error, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (project_id) DO UPDATE
SET status = EXCLUDED.status, build_error = EXCLUDED.build_error, updated_at = now()
`, projectID, string(status), buildError)
	if err != nil {
		return fmt.Errorf("failed to set build status for project %s: %w", projectID, err)
	}

	return nil
}

func (p *Postgres) GetBuildStatus(ctx context.Context, projectID string) (*ProjectBuildStatus, error) {
	buildStatus := ProjectBuildStatus{}

	var status string
	err := p.pool.QueryRow(ctx, `
SELECT project_id, status, build_error, updated_at FROM project_build_status WHERE project_id = $1
`, projectID).Scan(&buildStatus.ProjectID, &status, &buildStatus.BuildError, &buildStatus.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBuildStatusNotFound
		}

		return nil, fmt.Errorf("failed to get build status for project %s: %w", projectID, err)
	}

	buildStatus.Status = sandbox.BuildStatus(status)

	return &buildStatus, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
