package jobqueue

import (
	"context"
	"sync"

	"github.com/streamrec/core/model"
)

// Processor executes one DagNode kind. Run receives the instantiated Job
// (Inputs already resolved to the union of root inputs and upstream
// outputs) and returns the files it produced plus any of job.Inputs it
// consumed/removed — deleted entries are excluded from a passthrough
// node's downstream input list so no dangling path is propagated.
type Processor interface {
	Kind() model.JobKind
	PoolType() model.PoolType
	Run(ctx context.Context, job model.Job) (outputs []string, deleted []string, err error)
}

// Registry maps a JobKind to its Processor.
type Registry struct {
	mu         sync.RWMutex
	processors map[model.JobKind]Processor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[model.JobKind]Processor)}
}

// Register associates kind with p, replacing any prior entry.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[p.Kind()] = p
}

// Get returns the Processor registered for kind, if any.
func (r *Registry) Get(kind model.JobKind) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[kind]
	return p, ok
}
