package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/g960059/agthud/internal/model"
)

var (
	ErrDuplicate = errors.New("duplicate")
	ErrNotFound  = errors.New("not found")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMigrated opens path and brings its schema up to date.
func OpenMigrated(ctx context.Context, path string) (*Store, error) {
	store, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, store.db); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// AddProject pins a project. The name defaults to the last path element.
func (s *Store) AddProject(ctx context.Context, p model.PinnedProject) (model.PinnedProject, error) {
	p.Path = strings.TrimSpace(p.Path)
	if p.Path == "" {
		return model.PinnedProject{}, fmt.Errorf("project path is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = filepath.Base(p.Path)
	}
	if p.AddedAt.IsZero() {
		p.AddedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pinned_projects(path, name, added_at)
VALUES (?, ?, ?)
`, p.Path, p.Name, ts(p.AddedAt))
	if err != nil {
		if isUniqueErr(err) {
			return model.PinnedProject{}, fmt.Errorf("project %s: %w", p.Path, ErrDuplicate)
		}
		return model.PinnedProject{}, fmt.Errorf("insert project: %w", err)
	}
	p.AddedAt = p.AddedAt.UTC()
	return p, nil
}

func (s *Store) RemoveProject(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pinned_projects WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("project %s: %w", path, ErrNotFound)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, path string) (model.PinnedProject, error) {
	row := s.db.QueryRowContext(ctx, `SELECT path, name, added_at FROM pinned_projects WHERE path = ?`, path)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PinnedProject{}, fmt.Errorf("project %s: %w", path, ErrNotFound)
	}
	return p, err
}

// ListProjects returns every pinned project ordered by path.
func (s *Store) ListProjects(ctx context.Context) ([]model.PinnedProject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, name, added_at FROM pinned_projects ORDER BY path ASC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]model.PinnedProject, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (model.PinnedProject, error) {
	var (
		p       model.PinnedProject
		addedAt string
	)
	if err := r.Scan(&p.Path, &p.Name, &addedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PinnedProject{}, err
		}
		return model.PinnedProject{}, fmt.Errorf("scan project: %w", err)
	}
	t, err := parseTS(addedAt)
	if err != nil {
		return model.PinnedProject{}, fmt.Errorf("parse added_at for %s: %w", p.Path, err)
	}
	p.AddedAt = t
	return p, nil
}

// ListOverrides returns the raw stored rows. Strategy names are not
// validated here; the strategy table discards rows it cannot use.
func (s *Store) ListOverrides(ctx context.Context) (map[string]model.ScenarioBehavior, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scenario_id, primary_strategy, fallback_strategy FROM scenario_overrides`)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := map[string]model.ScenarioBehavior{}
	for rows.Next() {
		var (
			id       string
			primary  string
			fallback sql.NullString
		)
		if err := rows.Scan(&id, &primary, &fallback); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		b := model.ScenarioBehavior{Primary: model.Strategy(primary)}
		if fallback.Valid && fallback.String != "" {
			f := model.Strategy(fallback.String)
			b.Fallback = &f
		}
		out[id] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return out, nil
}

func (s *Store) PutOverride(ctx context.Context, scenarioID string, b model.ScenarioBehavior) error {
	var fallback any
	if b.Fallback != nil {
		fallback = string(*b.Fallback)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scenario_overrides(scenario_id, primary_strategy, fallback_strategy, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(scenario_id) DO UPDATE SET
	primary_strategy=excluded.primary_strategy,
	fallback_strategy=excluded.fallback_strategy,
	updated_at=excluded.updated_at
`, scenarioID, string(b.Primary), fallback, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

// DeleteOverride is a no-op for ids without a stored row.
func (s *Store) DeleteOverride(ctx context.Context, scenarioID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scenario_overrides WHERE scenario_id = ?`, scenarioID); err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return nil
}

// ActivationRecord is one executed activation, kept for diagnostics.
type ActivationRecord struct {
	ID          string    `json:"activation_id"`
	ProjectPath string    `json:"project_path"`
	ScenarioID  string    `json:"scenario_id"`
	Strategy    string    `json:"strategy,omitempty"`
	Succeeded   bool      `json:"succeeded"`
	ErrorCode   string    `json:"error_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Store) RecordActivation(ctx context.Context, rec ActivationRecord) (ActivationRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var errorCode any
	if rec.ErrorCode != "" {
		errorCode = rec.ErrorCode
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO activation_log(activation_id, project_path, scenario_id, strategy, succeeded, error_code, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, rec.ID, rec.ProjectPath, rec.ScenarioID, rec.Strategy, boolToInt(rec.Succeeded), errorCode, ts(rec.CreatedAt))
	if err != nil {
		if isUniqueErr(err) {
			return ActivationRecord{}, fmt.Errorf("activation %s: %w", rec.ID, ErrDuplicate)
		}
		return ActivationRecord{}, fmt.Errorf("insert activation: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// ListActivations returns the newest records first. limit <= 0 means 50.
func (s *Store) ListActivations(ctx context.Context, limit int) ([]ActivationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT activation_id, project_path, scenario_id, strategy, succeeded, error_code, created_at
FROM activation_log
ORDER BY created_at DESC, activation_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]ActivationRecord, 0)
	for rows.Next() {
		var (
			rec       ActivationRecord
			succeeded int
			errorCode sql.NullString
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.ProjectPath, &rec.ScenarioID, &rec.Strategy, &succeeded, &errorCode, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		rec.Succeeded = succeeded == 1
		rec.ErrorCode = errorCode.String
		if rec.CreatedAt, err = parseTS(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activations: %w", err)
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// tsLayout is fixed width so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg,
		"UNIQUE constraint failed",
		"constraint failed: UNIQUE",
	)
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
