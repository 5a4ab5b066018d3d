package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	apperrors "scrollstitch/internal/errors"
	"scrollstitch/internal/stitch"
)

// Store wraps SQLite-backed persistence for jobs and stitch plans.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Plans are adjusted from HTTP, gRPC and CLI callers; keep sqlite writes on one connection.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stitch_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS stitch_plans (
            id TEXT PRIMARY KEY,
            job_id TEXT,
            mode TEXT NOT NULL,
            image_count INTEGER,
            width INTEGER,
            height INTEGER,
            inputs_json TEXT,
            state_json TEXT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_job_results_job_id ON job_results(job_id);`,
		`CREATE INDEX IF NOT EXISTS idx_stitch_plans_job_id ON stitch_plans(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string     `json:"id"`
	JobType     string     `json:"type"`
	Status      string     `json:"status"`
	InputPath   string     `json:"input"`
	OutputPath  string     `json:"output"`
	OptionsJSON string     `json:"options,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PlanRecord is a stored stitch plan together with the source images it lays out.
type PlanRecord struct {
	ID        string           `json:"id"`
	JobID     string           `json:"job_id,omitempty"`
	Inputs    []string         `json:"inputs"`
	State     stitch.PlanState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO stitch_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE stitch_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE stitch_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM stitch_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no result for job %s", id), err)
	}
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// SavePlan inserts or updates a plan. Inputs are only replaced when non-empty so an
// adjustment can be saved without repeating them.
func (s *Store) SavePlan(jobID string, inputs []string, state stitch.PlanState) error {
	if s == nil {
		return nil
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	var inputsJSON any
	if len(inputs) > 0 {
		b, _ := json.Marshal(inputs)
		inputsJSON = string(b)
	}
	_, err = s.DB.Exec(`INSERT INTO stitch_plans (id, job_id, mode, image_count, width, height, inputs_json, state_json)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            image_count=excluded.image_count,
            width=excluded.width,
            height=excluded.height,
            inputs_json=COALESCE(excluded.inputs_json, stitch_plans.inputs_json),
            state_json=excluded.state_json,
            updated_at=CURRENT_TIMESTAMP;`,
		state.ID, jobID, string(state.Mode), state.Len(), state.CanvasWidth(), state.CanvasHeight(), inputsJSON, string(stateJSON))
	return err
}

// LoadPlan returns the stored plan with id.
func (s *Store) LoadPlan(id string) (PlanRecord, error) {
	if s == nil {
		return PlanRecord{}, errors.New("store not initialized")
	}
	row := s.DB.QueryRow(`SELECT id, job_id, inputs_json, state_json, created_at, updated_at FROM stitch_plans WHERE id=?;`, id)
	rec, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanRecord{}, apperrors.NewNotFoundError(fmt.Sprintf("plan %s not found", id), err)
	}
	return rec, err
}

// ListPlans returns the most recently updated plans up to limit.
func (s *Store) ListPlans(limit int) ([]PlanRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_id, inputs_json, state_json, created_at, updated_at FROM stitch_plans ORDER BY updated_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []PlanRecord
	for rows.Next() {
		rec, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (PlanRecord, error) {
	var rec PlanRecord
	var jobID, inputsJSON sql.NullString
	var stateJSON string
	if err := row.Scan(&rec.ID, &jobID, &inputsJSON, &stateJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return PlanRecord{}, err
	}
	rec.JobID = jobID.String
	if inputsJSON.Valid && inputsJSON.String != "" {
		if err := json.Unmarshal([]byte(inputsJSON.String), &rec.Inputs); err != nil {
			return PlanRecord{}, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
		return PlanRecord{}, fmt.Errorf("unmarshal plan: %w", err)
	}
	return rec, nil
}
