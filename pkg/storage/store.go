// Package storage persists the small amount of state codexbot needs
// across restarts: webhook delivery ids for dedup and scheduled job
// definitions.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS webhook_events (
	event_id    TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	delivery_id TEXT NOT NULL UNIQUE,
	payload     TEXT,
	received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	job_id            TEXT PRIMARY KEY,
	job_name          TEXT NOT NULL,
	cron_expression   TEXT NOT NULL,
	prompt            TEXT NOT NULL,
	skill_name        TEXT,
	target_chat_ids   TEXT,
	working_directory TEXT,
	created_by        INTEGER DEFAULT 0,
	is_active         INTEGER DEFAULT 1,
	created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// Store is a sqlite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the sqlite database at path. Use ":memory:"
// for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordWebhookDelivery atomically inserts a delivery id, returning
// whether it was new. Duplicate deliveries hit the UNIQUE constraint,
// the insert is a no-op, and false is returned.
func (s *Store) RecordWebhookDelivery(ctx context.Context, provider, eventType, deliveryID string, payload []byte) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO webhook_events (event_id, provider, event_type, delivery_id, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), provider, eventType, deliveryID, string(payload),
	)
	if err != nil {
		return false, fmt.Errorf("record webhook delivery: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record webhook delivery: %w", err)
	}
	return inserted > 0, nil
}

// Job is a persisted scheduled job definition.
type Job struct {
	ID               string
	Name             string
	CronExpression   string
	Prompt           string
	SkillName        string
	TargetChatIDs    []int64
	WorkingDirectory string
	CreatedBy        int64
}

// SaveJob inserts or replaces a job definition.
func (s *Store) SaveJob(ctx context.Context, job Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO scheduled_jobs
		 (job_id, job_name, cron_expression, prompt, skill_name, target_chat_ids, working_directory, created_by, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		job.ID, job.Name, job.CronExpression, job.Prompt, job.SkillName,
		joinChatIDs(job.TargetChatIDs), job.WorkingDirectory, job.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// DeactivateJob soft-deletes a job. Returns false if no active job
// matched.
func (s *Store) DeactivateJob(ctx context.Context, jobID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET is_active = 0 WHERE job_id = ? AND is_active = 1`, jobID)
	if err != nil {
		return false, fmt.Errorf("deactivate job %s: %w", jobID, err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate job %s: %w", jobID, err)
	}
	return updated > 0, nil
}

// ActiveJobs returns all active job definitions in creation order.
func (s *Store) ActiveJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, job_name, cron_expression, prompt, COALESCE(skill_name, ''),
		        COALESCE(target_chat_ids, ''), COALESCE(working_directory, ''), created_by
		 FROM scheduled_jobs WHERE is_active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var chatIDs string
		if err := rows.Scan(&job.ID, &job.Name, &job.CronExpression, &job.Prompt,
			&job.SkillName, &chatIDs, &job.WorkingDirectory, &job.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.TargetChatIDs = splitChatIDs(chatIDs)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func joinChatIDs(chatIDs []int64) string {
	parts := make([]string, len(chatIDs))
	for i, id := range chatIDs {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func splitChatIDs(joined string) []int64 {
	if joined == "" {
		return nil
	}
	var chatIDs []int64
	for _, part := range strings.Split(joined, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		chatIDs = append(chatIDs, id)
	}
	return chatIDs
}
