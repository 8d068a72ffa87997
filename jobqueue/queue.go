package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/streamrec/core/config"
	"github.com/streamrec/core/engine"
	xerrors "github.com/streamrec/core/errors"
	"github.com/streamrec/core/log"
	"github.com/streamrec/core/model"
)

// Queue owns the CPU and IO pools and the processor registry, and runs
// DagNode graphs through them.
type Queue struct {
	CPU        *Pool
	IO         *Pool
	Processors *Registry
	Jobs       JobRepository // may be nil: persistence is best-effort, never blocks execution
}

// NewQueue builds a Queue with fresh CPU/IO pools sized per cfg.
func NewQueue(cpuConcurrency, ioConcurrency int, processors *Registry, jobs JobRepository) *Queue {
	if cpuConcurrency <= 0 {
		cpuConcurrency = 1
	}
	if ioConcurrency <= 0 {
		ioConcurrency = 1
	}
	return &Queue{
		CPU:        NewPool("cpu", cpuConcurrency, config.DefaultCPUQueueSize),
		IO:         NewPool("io", ioConcurrency, config.DefaultIOQueueSize),
		Processors: processors,
		Jobs:       jobs,
	}
}

// Run drains both pools until ctx is cancelled; callers typically run
// this under an errgroup alongside ThrottleController.Run.
func (q *Queue) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { q.CPU.Run(ctx); done <- struct{}{} }()
	go func() { q.IO.Run(ctx); done <- struct{}{} }()
	<-done
	<-done
}

func (q *Queue) poolFor(t model.PoolType) *Pool {
	if t == model.PoolIO {
		return q.IO
	}
	return q.CPU
}

type jobResult struct {
	outputs []string
	deleted []string
	err     error
}

// RunDag executes every node of nodes in topological order, feeding each
// node the union of rootInputs and its dependencies' outputs, and
// returns each node's final (possibly passthrough-augmented) output
// list keyed by NodeID. A node marked on_error:continue that fails
// contributes only its passthrough inputs (no outputs) and the DAG
// proceeds; any other failure stops the DAG and returns the error
// alongside whatever nodes had already completed.
func (q *Queue) RunDag(ctx context.Context, sessionID, streamerID string, rootInputs []string, nodes []model.DagNode, retry model.RetryConfig) (map[string][]string, error) {
	sorted, err := TopoSort(nodes)
	if err != nil {
		return nil, err
	}

	outputsByNode := make(map[string][]string, len(sorted))
	for _, node := range sorted {
		inputs := unionInputs(rootInputs, node, outputsByNode)

		proc, ok := q.Processors.Get(node.Kind)
		if !ok {
			nodeErr := fmt.Errorf("jobqueue: no processor registered for kind %q", node.Kind)
			if node.OnError == model.OnErrorContinue {
				log.LogNoRequestID("jobqueue: skipping node with unregistered kind", "node_id", node.NodeID, "kind", node.Kind)
				outputsByNode[node.NodeID] = passthroughOutputs(node, inputs, nil, nil)
				continue
			}
			return outputsByNode, nodeErr
		}

		configJSON, err := json.Marshal(node.Config)
		if err != nil {
			return outputsByNode, fmt.Errorf("jobqueue: encoding node %q config: %w", node.NodeID, err)
		}
		job := model.Job{
			JobID:      uuid.NewString(),
			Kind:       node.Kind,
			Inputs:     inputs,
			DagNodeID:  node.NodeID,
			SessionID:  sessionID,
			StreamerID: streamerID,
			Status:     model.JobPending,
			ConfigJSON: string(configJSON),
			CreatedAt:  config.Clock.GetTime(),
		}
		if q.Jobs != nil {
			if err := q.Jobs.Create(ctx, job); err != nil {
				log.LogNoRequestID("jobqueue: failed to persist job creation", "job_id", job.JobID, "err", err)
			}
		}

		outputs, deleted, runErr := q.runJobWithRetry(ctx, proc, job, retry)
		if runErr != nil {
			if q.Jobs != nil {
				_ = q.Jobs.UpdateStatus(ctx, job.JobID, model.JobFailed, runErr.Error())
			}
			if node.OnError == model.OnErrorContinue {
				log.LogNoRequestID("jobqueue: node failed, continuing per on_error=continue", "node_id", node.NodeID, "err", runErr)
				outputsByNode[node.NodeID] = passthroughOutputs(node, inputs, nil, nil)
				continue
			}
			return outputsByNode, runErr
		}
		if q.Jobs != nil {
			_ = q.Jobs.UpdateStatus(ctx, job.JobID, model.JobCompleted, "")
		}
		outputsByNode[node.NodeID] = passthroughOutputs(node, inputs, outputs, deleted)
	}
	return outputsByNode, nil
}

// runJobWithRetry dispatches job to its processor's pool, retrying on a
// retriable failure per retry until MaxRetries is exhausted.
func (q *Queue) runJobWithRetry(ctx context.Context, proc Processor, job model.Job, retry model.RetryConfig) ([]string, []string, error) {
	pool := q.poolFor(proc.PoolType())

	for attempt := 0; ; attempt++ {
		resultCh := make(chan jobResult, 1)
		if err := pool.Submit(ctx, func(ctx context.Context) {
			outputs, deleted, err := proc.Run(ctx, job)
			resultCh <- jobResult{outputs: outputs, deleted: deleted, err: err}
		}); err != nil {
			return nil, nil, err
		}

		var res jobResult
		select {
		case res = <-resultCh:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}

		if res.err == nil {
			return res.outputs, res.deleted, nil
		}
		if xerrors.IsUnretriable(res.err) || attempt >= retry.MaxRetries {
			return nil, nil, res.err
		}

		delay := engine.DelayForAttempt(retry, attempt+1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}
