// Package jobqueue implements the bounded CPU/IO job pools and the DAG
// executor that runs a session's or segment's post-processing graph
// (remux, danmu-to-ass conversion, subtitle burn-in, upload) to
// completion, with per-node retry and a throttle controller that lowers
// a Throttleable's concurrency limit while its queue is deep and restores
// it once the queue drains. Nothing in this package connects the
// controller to the download engines or the scheduler.
package jobqueue

import (
	"context"

	"github.com/streamrec/core/model"
)

// JobRepository persists Job lifecycle transitions. Consumed, not
// implemented here — matches this codebase's repository stance for every
// other persistence boundary (StreamerRepository, ConfigRepository, ...).
type JobRepository interface {
	Create(ctx context.Context, job model.Job) error
	UpdateStatus(ctx context.Context, jobID string, status model.JobStatus, lastError string) error
	Get(ctx context.Context, jobID string) (model.Job, error)
}

// DagRepository persists instantiated DagNodes, one row per node per
// session/segment DAG run.
type DagRepository interface {
	SaveNode(ctx context.Context, sessionID, streamerID string, node model.DagNode) error
	NodesForSession(ctx context.Context, sessionID string) ([]model.DagNode, error)
}
