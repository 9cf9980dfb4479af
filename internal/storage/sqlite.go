package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a JobStore backed by a single SQLite database.
// Uses WAL mode so status reads do not block the runner's writes.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := mkdir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, job core.Job) error {
	if !core.IsKnownState(job.State) {
		return fmt.Errorf("create job %s: unknown state %q", job.ID, job.State)
	}
	cfg, err := marshalConfig(job.Config)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, prompt, config, state, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.Prompt,
		cfg,
		string(job.State),
		job.Reason,
		job.CreatedAt.UnixNano(),
		job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("create job %s: %w", job.ID, core.ErrAlreadyExists)
		}
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (core.Job, error) {
	var (
		job              core.Job
		cfg, state       string
		created, updated int64
	)
	if err := row.Scan(&job.ID, &job.Prompt, &cfg, &state, &job.Reason, &created, &updated); err != nil {
		return core.Job{}, err
	}
	if err := json.Unmarshal([]byte(cfg), &job.Config); err != nil {
		return core.Job{}, fmt.Errorf("decode config of job %s: %w", job.ID, err)
	}
	if len(job.Config) == 0 {
		job.Config = nil
	}
	job.State = core.State(state)
	job.CreatedAt = time.Unix(0, created).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()
	return job, nil
}

const selectJob = `SELECT id, prompt, config, state, reason, created_at, updated_at FROM jobs`

func (s *SQLiteStore) Get(ctx context.Context, id string) (core.Job, error) {
	return getJob(ctx, s.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id), id)
}

func getJob(_ context.Context, row *sql.Row, id string) (core.Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Job{}, fmt.Errorf("get job %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteStore) UpdateState(ctx context.Context, id string, state core.State, reason string) (core.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Job{}, fmt.Errorf("update job %s: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	job, err := getJob(ctx, tx.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id), id)
	if err != nil {
		return core.Job{}, err
	}
	if err := job.Transition(state, reason, s.now().UTC()); err != nil {
		return core.Job{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, reason = ?, updated_at = ? WHERE id = ?
	`, string(job.State), job.Reason, job.UpdatedAt.UnixNano(), id); err != nil {
		return core.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return core.Job{}, fmt.Errorf("update job %s: commit: %w", id, err)
	}
	return job, nil
}

func (s *SQLiteStore) SaveArtifact(ctx context.Context, id string, artifact core.Artifact) error {
	body, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", id, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save artifact %s: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("save artifact %s: %w", id, err)
	}
	if exists == 0 {
		return fmt.Errorf("save artifact %s: %w", id, core.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts (job_id, body) VALUES (?, ?)
		ON CONFLICT(job_id) DO UPDATE SET body = excluded.body
	`, id, string(body)); err != nil {
		return fmt.Errorf("save artifact %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save artifact %s: commit: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteArtifact(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("delete artifact %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) GetArtifact(ctx context.Context, id string) (core.Artifact, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM artifacts WHERE job_id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Artifact{}, fmt.Errorf("get artifact %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Artifact{}, fmt.Errorf("get artifact %s: %w", id, err)
	}
	var a core.Artifact
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return core.Artifact{}, fmt.Errorf("decode artifact %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]core.Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJob+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]core.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func marshalConfig(cfg map[string]any) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}
