package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	xerrors "github.com/streamrec/core/errors"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/storage"
)

// UploadConfig is the JSON body of an upload node's Config map.
type UploadConfig struct {
	// DestinationURL is an object-store URL as understood by
	// storage.UploadToOSURL (e.g. "s3://bucket/prefix").
	DestinationURL string        `json:"destination_url"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	DeleteSource   bool          `json:"delete_source,omitempty"`
}

// UploadProcessor is an IO-pool node: it writes every job input to the
// configured object store via the storage package (which already wraps
// github.com/livepeer/go-tools/drivers with retrying, metered access).
type UploadProcessor struct{}

func (UploadProcessor) Kind() model.JobKind      { return model.JobUpload }
func (UploadProcessor) PoolType() model.PoolType { return model.PoolIO }

func (p UploadProcessor) Run(ctx context.Context, job model.Job) ([]string, []string, error) {
	if len(job.Inputs) == 0 {
		return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: upload job %s has no inputs", job.JobID))
	}
	var cfg UploadConfig
	if job.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(job.ConfigJSON), &cfg); err != nil {
			return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: invalid upload config for job %s: %w", job.JobID, err))
		}
	}
	if cfg.DestinationURL == "" {
		return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: upload job %s has no destination_url", job.JobID))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	outputs := make([]string, 0, len(job.Inputs))
	deleted := make([]string, 0, len(job.Inputs))
	for _, path := range job.Inputs {
		f, err := os.Open(path)
		if err != nil {
			return outputs, deleted, fmt.Errorf("jobqueue: upload job %s: opening %q: %w", job.JobID, path, err)
		}
		err = storage.UploadToOSURL(cfg.DestinationURL, filepath.Base(path), f, timeout)
		f.Close()
		if err != nil {
			return outputs, deleted, fmt.Errorf("jobqueue: upload job %s: uploading %q: %w", job.JobID, path, err)
		}
		outputs = append(outputs, cfg.DestinationURL+"/"+filepath.Base(path))

		if cfg.DeleteSource {
			if err := os.Remove(path); err == nil {
				deleted = append(deleted, path)
			}
		}
	}
	return outputs, deleted, nil
}

var _ Processor = UploadProcessor{}
