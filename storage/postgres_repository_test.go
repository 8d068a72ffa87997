package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/streamrec/core/model"
)

func TestJobRepositoryCreateThenUpdateStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	job := model.Job{
		JobID:     "job-1",
		Kind:      model.JobRemux,
		Inputs:    []string{"seg_001.flv"},
		Status:    model.JobPending,
		SessionID: "sess-1",
		CreatedAt: time.Unix(0, 0),
	}

	mock.ExpectExec(`insert into "jobs"`).
		WithArgs("job-1", "remux", sqlmock.AnyArg(), sqlmock.AnyArg(), 0, "pending", 0, "", "sess-1", "", "", job.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update "jobs" set`).
		WithArgs("job-1", "completed", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresJobRepository(db)
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.UpdateStatus(context.Background(), "job-1", model.JobCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestJobRepositoryGetDecodesInputsAndOutputs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"job_id", "kind", "inputs", "outputs", "priority",
		"status", "attempts", "dag_node_id", "session_id",
		"streamer_id", "config_json", "last_error",
	}).AddRow("job-1", "remux", `["seg_001.flv"]`, `["seg_001.mp4"]`, 0,
		"completed", 1, "node-1", "sess-1", "streamer-1", "{}", "")

	mock.ExpectQuery(`select .* from "jobs"`).WithArgs("job-1").WillReturnRows(rows)

	repo := NewPostgresJobRepository(db)
	job, err := repo.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(job.Inputs) != 1 || job.Inputs[0] != "seg_001.flv" {
		t.Fatalf("expected decoded inputs, got %v", job.Inputs)
	}
	if len(job.Outputs) != 1 || job.Outputs[0] != "seg_001.mp4" {
		t.Fatalf("expected decoded outputs, got %v", job.Outputs)
	}
	if job.Status != model.JobCompleted {
		t.Fatalf("expected status completed, got %v", job.Status)
	}
}

func TestSessionRepositoryCreateUpdateAndPutSegment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	sess := &model.LiveSession{
		SessionID:  "sess-1",
		StreamerID: "streamer-1",
		StartedAt:  time.Unix(0, 0),
		Title:      "title",
		Category:   "category",
	}

	mock.ExpectExec(`insert into "sessions"`).
		WithArgs("sess-1", "streamer-1", sess.StartedAt, "title", "category").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update "sessions" set`).
		WithArgs("sess-1", sess.EndedAt, int64(0), float64(0), 0, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`insert into "segments"`).
		WithArgs("seg-1", "sess-1", 0, "seg_000.flv", sqlmock.AnyArg(), float64(0), int64(0), int64(0), int64(0), "open").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresSessionRepository(db)
	if err := repo.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := repo.UpdateSession(context.Background(), sess); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	seg := model.Segment{SegmentID: "seg-1", Index: 0, Path: "seg_000.flv", Status: model.SegmentOpen}
	if err := repo.PutSegment(context.Background(), "sess-1", seg); err != nil {
		t.Fatalf("PutSegment: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOpenPostgresDisabledWhenConnStringEmpty(t *testing.T) {
	db, err := OpenPostgres("", 1)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	if db != nil {
		t.Fatal("expected a nil *sql.DB when no connection string is configured")
	}
}
