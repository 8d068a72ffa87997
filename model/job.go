package model

import "time"

// JobStatus is a Job's lifecycle state: Pending -> Running -> Completed |
// Failed | Cancelled, persisted atomically per transition.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobKind names a registered processor. The set is extensible; the four
// built-ins are predeclared here.
type JobKind string

const (
	JobRemux           JobKind = "remux"
	JobDanmakuFactory  JobKind = "danmaku_factory"
	JobBurnSubs        JobKind = "burn_subs"
	JobUpload          JobKind = "upload"
)

// PoolType is which bounded pool a processor's jobs are dispatched to.
type PoolType string

const (
	PoolCPU PoolType = "cpu"
	PoolIO  PoolType = "io"
)

// OnError controls whether a failing DAG node fails the whole DAG.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorContinue OnError = "continue"
)

// DagNodeTemplate is the unexecuted description of a DAG node, as carried
// by an EventHookTemplate before it's instantiated into a DagNode.
type DagNodeTemplate struct {
	NodeID          string
	Kind            JobKind
	DependsOn       []string
	Config          map[string]any
	SupportsBatch   bool
	Passthrough     bool
	OnError         OnError
}

// DagNode is one instantiated node of a per-segment or per-session DAG.
type DagNode struct {
	NodeID        string
	Kind          JobKind
	DependsOn     []string
	Config        map[string]any
	SupportsBatch bool
	Passthrough   bool
	OnError       OnError
}

// Job is a unit of queued work: one DagNode instance, scheduled and
// retried independently.
type Job struct {
	JobID      string
	Kind       JobKind
	Inputs     []string
	Outputs    []string
	Priority   int
	Status     JobStatus
	Attempts   int
	DagNodeID  string
	SessionID  string
	StreamerID string
	ConfigJSON string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	LastError string
}
