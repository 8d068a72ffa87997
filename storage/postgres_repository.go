package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/streamrec/core/log"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/session"
)

// OpenPostgres opens a connection pool against connStr, mirroring the
// teacher's nodeStatsDB/metricsDB dial: "postgres" driver, a bounded
// pool, a one-hour connection lifetime. connStr empty returns a nil
// *sql.DB, not an error — callers skip wiring the repositories below
// entirely when no database is configured, same as the teacher's own
// nil nodeStatsDB checks.
func OpenPostgres(connStr string, maxConns int) (*sql.DB, error) {
	if connStr == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// PostgresJobRepository implements jobqueue.JobRepository by structural
// typing only (jobqueue already imports this package for
// UploadProcessor, so importing jobqueue back here would cycle).
type PostgresJobRepository struct {
	db *sql.DB
}

// NewPostgresJobRepository wraps db, normally opened via OpenPostgres.
func NewPostgresJobRepository(db *sql.DB) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

const insertJob = `insert into "jobs"(
                    "job_id", "kind", "inputs", "outputs", "priority",
                    "status", "attempts", "dag_node_id", "session_id",
                    "streamer_id", "config_json", "created_at"
                    ) values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
					ON CONFLICT (job_id) DO NOTHING;`

// Create persists a newly-scheduled job row.
func (r *PostgresJobRepository) Create(ctx context.Context, job model.Job) error {
	inputs, err := json.Marshal(job.Inputs)
	if err != nil {
		return err
	}
	outputs, err := json.Marshal(job.Outputs)
	if err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = r.db.ExecContext(queryCtx, insertJob,
		job.JobID, string(job.Kind), inputs, outputs, job.Priority,
		string(job.Status), job.Attempts, job.DagNodeID, job.SessionID,
		job.StreamerID, job.ConfigJSON, job.CreatedAt)
	if err != nil {
		log.LogNoRequestID("postgres: creating job failed", "job_id", job.JobID, "err", err)
	}
	return err
}

const updateJobStatus = `update "jobs" set "status" = $2, "last_error" = $3 where "job_id" = $1;`

// UpdateStatus transitions jobID's persisted status, recording
// lastError alongside it (empty on success).
func (r *PostgresJobRepository) UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, lastError string) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(queryCtx, updateJobStatus, jobID, string(status), lastError)
	if err != nil {
		log.LogNoRequestID("postgres: updating job status failed", "job_id", jobID, "err", err)
	}
	return err
}

const selectJob = `select "job_id", "kind", "inputs", "outputs", "priority",
                    "status", "attempts", "dag_node_id", "session_id",
                    "streamer_id", "config_json", "last_error"
                    from "jobs" where "job_id" = $1;`

// Get loads jobID's current persisted state.
func (r *PostgresJobRepository) Get(ctx context.Context, jobID string) (model.Job, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var job model.Job
	var kind, status string
	var inputs, outputs []byte
	row := r.db.QueryRowContext(queryCtx, selectJob, jobID)
	if err := row.Scan(&job.JobID, &kind, &inputs, &outputs, &job.Priority,
		&status, &job.Attempts, &job.DagNodeID, &job.SessionID,
		&job.StreamerID, &job.ConfigJSON, &job.LastError); err != nil {
		return model.Job{}, err
	}
	job.Kind = model.JobKind(kind)
	job.Status = model.JobStatus(status)
	if err := json.Unmarshal(inputs, &job.Inputs); err != nil {
		return model.Job{}, err
	}
	if err := json.Unmarshal(outputs, &job.Outputs); err != nil {
		return model.Job{}, err
	}
	return job, nil
}

// PostgresSessionRepository implements session.SessionRepository.
type PostgresSessionRepository struct {
	db *sql.DB
}

// NewPostgresSessionRepository wraps db, normally opened via
// OpenPostgres.
func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

const insertSession = `insert into "sessions"(
                        "session_id", "streamer_id", "started_at",
                        "title", "category"
                        ) values($1, $2, $3, $4, $5)
						ON CONFLICT (session_id) DO NOTHING;`

// CreateSession persists a newly-started session row.
func (r *PostgresSessionRepository) CreateSession(ctx context.Context, s *model.LiveSession) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(queryCtx, insertSession, s.SessionID, s.StreamerID, s.StartedAt, s.Title, s.Category)
	if err != nil {
		log.LogNoRequestID("postgres: creating session failed", "session_id", s.SessionID, "err", err)
	}
	return err
}

const updateSession = `update "sessions" set
                        "ended_at" = $2,
                        "total_bytes" = $3,
                        "total_duration_secs" = $4,
                        "total_segments" = $5,
                        "danmu_message_count" = $6
                        where "session_id" = $1;`

// UpdateSession persists s's ended/stats fields; the session
// orchestrator calls it once, at session finish.
func (r *PostgresSessionRepository) UpdateSession(ctx context.Context, s *model.LiveSession) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(queryCtx, updateSession, s.SessionID, s.EndedAt,
		s.Stats.TotalBytes, s.Stats.TotalDurationSecs, s.Stats.TotalSegments, s.Stats.DanmuMessageCount)
	if err != nil {
		log.LogNoRequestID("postgres: updating session failed", "session_id", s.SessionID, "err", err)
	}
	return err
}

const insertSegment = `insert into "segments"(
                        "segment_id", "session_id", "index", "path",
                        "started_at", "duration_secs", "bytes",
                        "first_keyframe_pts", "last_pts", "status"
                        ) values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
						ON CONFLICT (segment_id) DO UPDATE SET
						"duration_secs" = EXCLUDED.duration_secs,
						"bytes" = EXCLUDED.bytes,
						"last_pts" = EXCLUDED.last_pts,
						"status" = EXCLUDED.status;`

// PutSegment upserts one segment row, re-sent as it's updated in place
// (duration/bytes/last PTS grow until the segment completes).
func (r *PostgresSessionRepository) PutSegment(ctx context.Context, sessionID string, seg model.Segment) error {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(queryCtx, insertSegment, seg.SegmentID, sessionID, seg.Index, seg.Path,
		seg.StartedAt, seg.DurationSecs, seg.Bytes, seg.FirstKeyframePTS, seg.LastPTS, string(seg.Status))
	if err != nil {
		log.LogNoRequestID("postgres: writing segment failed", "segment_id", seg.SegmentID, "err", err)
	}
	return err
}

var _ session.SessionRepository = (*PostgresSessionRepository)(nil)
