package jobqueue

import (
	"context"

	"github.com/streamrec/core/model"
	"github.com/streamrec/core/session"
)

// Enqueuer adapts Queue to session.JobEnqueuer: it instantiates an
// EventHookTemplate's DagNodeTemplates into concrete DagNodes for one
// completed segment and submits them as a DAG rooted at that segment's
// output path.
type Enqueuer struct {
	Queue *Queue
	// Retry is the DAG-wide retry policy; EnqueueSegmentJobs carries no
	// per-call override, since session.JobEnqueuer's signature has no
	// room for one (it's sess/seg only, not the streamer's MergedConfig).
	Retry model.RetryConfig
}

// NewEnqueuer builds an Enqueuer backed by q.
func NewEnqueuer(q *Queue, retry model.RetryConfig) *Enqueuer {
	return &Enqueuer{Queue: q, Retry: retry}
}

// EnqueueSegmentJobs instantiates tmpl's nodes and runs them as one DAG
// rooted at seg's output path. A template with no nodes is a no-op,
// not an error: not every segment needs post-processing.
func (e *Enqueuer) EnqueueSegmentJobs(ctx context.Context, tmpl model.EventHookTemplate, sess *model.LiveSession, seg model.Segment) error {
	if len(tmpl.Nodes) == 0 {
		return nil
	}
	nodes := make([]model.DagNode, len(tmpl.Nodes))
	for i, t := range tmpl.Nodes {
		nodes[i] = model.DagNode{
			NodeID:        t.NodeID,
			Kind:          t.Kind,
			DependsOn:     t.DependsOn,
			Config:        t.Config,
			SupportsBatch: t.SupportsBatch,
			Passthrough:   t.Passthrough,
			OnError:       t.OnError,
		}
	}
	_, err := e.Queue.RunDag(ctx, sess.SessionID, sess.StreamerID, []string{seg.Path}, nodes, e.Retry)
	return err
}

var _ session.JobEnqueuer = (*Enqueuer)(nil)
