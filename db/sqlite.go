package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// RunStatus 运行状态
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
)

var (
	ErrRunEnded    = errors.New("run already ended")
	ErrRunNotFound = errors.New("run not found")
)

// Store 基于SQLite的只追加实验日志
type Store struct {
	database *sql.DB
}

// Open 打开（必要时创建）path处的SQLite数据库
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// 单写者
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS experiments (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL UNIQUE,
        created_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS runs (
        run_id TEXT PRIMARY KEY,
        experiment_id INTEGER NOT NULL REFERENCES experiments(id),
        run_name TEXT NOT NULL,
        status TEXT NOT NULL,
        started_at DATETIME NOT NULL,
        ended_at DATETIME
    );
    CREATE TABLE IF NOT EXISTS params (
        run_id TEXT NOT NULL REFERENCES runs(run_id),
        key TEXT NOT NULL,
        value TEXT NOT NULL,
        PRIMARY KEY (run_id, key)
    );
    CREATE TABLE IF NOT EXISTS metrics (
        run_id TEXT NOT NULL REFERENCES runs(run_id),
        key TEXT NOT NULL,
        value REAL NOT NULL,
        logged_at DATETIME NOT NULL,
        PRIMARY KEY (run_id, key)
    );
    CREATE TABLE IF NOT EXISTS artifacts (
        run_id TEXT NOT NULL REFERENCES runs(run_id),
        artifact_path TEXT NOT NULL,
        local_path TEXT NOT NULL,
        PRIMARY KEY (run_id, artifact_path, local_path)
    );
    CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment_id, started_at);
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "create tracking schema")
	}
	return &Store{database: database}, nil
}

func (s *Store) Close() error {
	return s.database.Close()
}

func (s *Store) experimentID(ctx context.Context, name string) (int64, error) {
	if _, err := s.database.ExecContext(ctx,
		`INSERT OR IGNORE INTO experiments (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC()); err != nil {
		return 0, err
	}
	var id int64
	err := s.database.QueryRowContext(ctx, `SELECT id FROM experiments WHERE name = ?`, name).Scan(&id)
	return id, err
}

// StartRun 在指定实验下开始新的运行，实验不存在时创建
func (s *Store) StartRun(ctx context.Context, experiment, runName string) (*Run, error) {
	if experiment == "" {
		return nil, errors.New("experiment name is required")
	}
	expID, err := s.experimentID(ctx, experiment)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve experiment %q", experiment)
	}

	run := &Run{
		store:     s,
		id:        uuid.NewString(),
		name:      runName,
		StartedAt: time.Now().UTC(),
	}
	if _, err := s.database.ExecContext(ctx, `
        INSERT INTO runs (run_id, experiment_id, run_name, status, started_at)
        VALUES (?, ?, ?, ?, ?)`,
		run.id, expID, runName, StatusRunning, run.StartedAt); err != nil {
		return nil, errors.Wrap(err, "insert run")
	}
	return run, nil
}

// Run 进行中的运行，参数和指标每个键只写一次
type Run struct {
	store     *Store
	id        string
	name      string
	ended     bool
	StartedAt time.Time
}

func (r *Run) ID() string   { return r.id }
func (r *Run) Name() string { return r.name }

func (r *Run) LogParam(ctx context.Context, key string, value interface{}) error {
	if r.ended {
		return ErrRunEnded
	}
	_, err := r.store.database.ExecContext(ctx,
		`INSERT INTO params (run_id, key, value) VALUES (?, ?, ?)`,
		r.id, key, fmt.Sprint(value))
	return errors.Wrapf(err, "log param %s", key)
}

func (r *Run) LogMetric(ctx context.Context, key string, value float64) error {
	if r.ended {
		return ErrRunEnded
	}
	_, err := r.store.database.ExecContext(ctx,
		`INSERT INTO metrics (run_id, key, value, logged_at) VALUES (?, ?, ?, ?)`,
		r.id, key, value, time.Now().UTC())
	return errors.Wrapf(err, "log metric %s", key)
}

// LogArtifact 记录运行产生的文件及其逻辑目录
func (r *Run) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	if r.ended {
		return ErrRunEnded
	}
	_, err := r.store.database.ExecContext(ctx,
		`INSERT OR IGNORE INTO artifacts (run_id, artifact_path, local_path) VALUES (?, ?, ?)`,
		r.id, artifactPath, localPath)
	return errors.Wrapf(err, "log artifact %s", localPath)
}

// End 以终止状态结束运行
func (r *Run) End(ctx context.Context, status RunStatus) error {
	if r.ended {
		return ErrRunEnded
	}
	_, err := r.store.database.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ? WHERE run_id = ? AND status = ?`,
		status, time.Now().UTC(), r.id, StatusRunning)
	if err != nil {
		return errors.Wrap(err, "end run")
	}
	r.ended = true
	return nil
}

// Artifact 运行记录的文件
type Artifact struct {
	ArtifactPath string `json:"artifact_path"`
	LocalPath    string `json:"local_path"`
}

// RunRecord 从日志读回的运行
type RunRecord struct {
	RunID      string             `json:"run_id"`
	Experiment string             `json:"experiment"`
	RunName    string             `json:"run_name"`
	Status     RunStatus          `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    *time.Time         `json:"ended_at,omitempty"`
	Params     map[string]string  `json:"params"`
	Metrics    map[string]float64 `json:"metrics"`
	Artifacts  []Artifact         `json:"artifacts"`
}

// ListRuns 返回实验的运行，最新的在前，experiment为空时返回全部
func (s *Store) ListRuns(ctx context.Context, experiment string) ([]RunRecord, error) {
	rows, err := s.database.QueryContext(ctx, `
        SELECT r.run_id, e.name, r.run_name, r.status, r.started_at, r.ended_at
        FROM runs r
        JOIN experiments e ON e.id = r.experiment_id
        WHERE ? = '' OR e.name = ?
        ORDER BY r.started_at DESC, r.rowid DESC`, experiment, experiment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]RunRecord, 0)
	for rows.Next() {
		var rec RunRecord
		var ended sql.NullTime
		if err := rows.Scan(&rec.RunID, &rec.Experiment, &rec.RunName, &rec.Status, &rec.StartedAt, &ended); err != nil {
			return nil, err
		}
		if ended.Valid {
			rec.EndedAt = &ended.Time
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		if err := s.fillRun(ctx, &records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// GetRun 返回单个运行及其参数、指标和产物
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	var ended sql.NullTime
	err := s.database.QueryRowContext(ctx, `
        SELECT r.run_id, e.name, r.run_name, r.status, r.started_at, r.ended_at
        FROM runs r
        JOIN experiments e ON e.id = r.experiment_id
        WHERE r.run_id = ?`, runID).
		Scan(&rec.RunID, &rec.Experiment, &rec.RunName, &rec.Status, &rec.StartedAt, &ended)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrRunNotFound, "%s", runID)
	}
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		rec.EndedAt = &ended.Time
	}
	if err := s.fillRun(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) fillRun(ctx context.Context, rec *RunRecord) error {
	rec.Params = make(map[string]string)
	rec.Metrics = make(map[string]float64)
	rec.Artifacts = make([]Artifact, 0)

	params, err := s.database.QueryContext(ctx, `SELECT key, value FROM params WHERE run_id = ?`, rec.RunID)
	if err != nil {
		return err
	}
	for params.Next() {
		var key, value string
		if err := params.Scan(&key, &value); err != nil {
			params.Close()
			return err
		}
		rec.Params[key] = value
	}
	params.Close()

	metrics, err := s.database.QueryContext(ctx, `SELECT key, value FROM metrics WHERE run_id = ?`, rec.RunID)
	if err != nil {
		return err
	}
	for metrics.Next() {
		var key string
		var value float64
		if err := metrics.Scan(&key, &value); err != nil {
			metrics.Close()
			return err
		}
		rec.Metrics[key] = value
	}
	metrics.Close()

	artifacts, err := s.database.QueryContext(ctx,
		`SELECT artifact_path, local_path FROM artifacts WHERE run_id = ? ORDER BY artifact_path, local_path`, rec.RunID)
	if err != nil {
		return err
	}
	defer artifacts.Close()
	for artifacts.Next() {
		var a Artifact
		if err := artifacts.Scan(&a.ArtifactPath, &a.LocalPath); err != nil {
			return err
		}
		rec.Artifacts = append(rec.Artifacts, a)
	}
	return artifacts.Err()
}
