package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	xerrors "github.com/streamrec/core/errors"
	"github.com/streamrec/core/log"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/subprocess"
)

// DanmakuFactoryConfig is the JSON body of a danmaku_factory/danmu_to_ass
// node's Config map.
type DanmakuFactoryConfig struct {
	BinaryPath string `json:"binary_path,omitempty"`
	// Manifest names the subset of job.Inputs to convert; empty means
	// every ".xml" input.
	Manifest     []string `json:"manifest,omitempty"`
	DeleteSource bool     `json:"delete_source,omitempty"`
	ExtraArgs    []string `json:"extra_args,omitempty"`
}

// DanmakuFactoryProcessor shells out to the external DanmakuFactory
// binary, one invocation per XML input, producing a sibling .ass file
// per input — a 1:1 batch mapping, as required when outputs is
// non-empty.
type DanmakuFactoryProcessor struct{}

func (DanmakuFactoryProcessor) Kind() model.JobKind      { return model.JobDanmakuFactory }
func (DanmakuFactoryProcessor) PoolType() model.PoolType { return model.PoolCPU }

func (p DanmakuFactoryProcessor) Run(ctx context.Context, job model.Job) ([]string, []string, error) {
	var cfg DanmakuFactoryConfig
	if job.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(job.ConfigJSON), &cfg); err != nil {
			return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: invalid danmaku_factory config for job %s: %w", job.JobID, err))
		}
	}

	binary := cfg.BinaryPath
	if binary == "" {
		binary = "DanmakuFactory"
	}

	toProcess := cfg.Manifest
	if len(toProcess) == 0 {
		for _, in := range job.Inputs {
			if strings.HasSuffix(strings.ToLower(in), ".xml") {
				toProcess = append(toProcess, in)
			}
		}
	}
	if len(toProcess) == 0 {
		return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: danmaku_factory job %s has no XML inputs to convert", job.JobID))
	}

	outputs := make([]string, 0, len(toProcess))
	deleted := make([]string, 0, len(toProcess))
	for _, xmlPath := range toProcess {
		assPath := strings.TrimSuffix(xmlPath, ".xml") + ".ass"
		args := append([]string{"-i", xmlPath, "-o", assPath}, cfg.ExtraArgs...)
		cmd := exec.CommandContext(ctx, binary, args...)
		if err := subprocess.LogOutputs(cmd); err != nil {
			return outputs, deleted, fmt.Errorf("jobqueue: danmaku_factory job %s: %w", job.JobID, err)
		}
		if err := cmd.Run(); err != nil {
			return outputs, deleted, fmt.Errorf("jobqueue: danmaku_factory job %s failed converting %q: %w", job.JobID, xmlPath, err)
		}
		if _, err := os.Stat(assPath); err != nil {
			return outputs, deleted, fmt.Errorf("jobqueue: danmaku_factory job %s produced no output for %q: %w", job.JobID, xmlPath, err)
		}
		outputs = append(outputs, assPath)

		if cfg.DeleteSource {
			if err := os.Remove(xmlPath); err != nil {
				log.LogNoRequestID("jobqueue: failed to delete source xml after conversion", "path", xmlPath, "err", err)
			} else {
				deleted = append(deleted, xmlPath)
			}
		}
	}

	// outputs is non-empty here by construction, so the 1:1 mapping
	// invariant always holds: len(outputs) == len(toProcess).
	return outputs, deleted, nil
}

var _ Processor = DanmakuFactoryProcessor{}
