package jobqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	xerrors "github.com/streamrec/core/errors"
	"github.com/streamrec/core/model"
)

// BurnSubsConfig is the JSON body of a burn_subs node's Config map: it
// hard-burns a subtitle file (e.g. the .ass a danmaku_factory node just
// produced) into the video input via ffmpeg's "ass"/"subtitles" filter.
type BurnSubsConfig struct {
	SubtitlePath string `json:"subtitle_path"`
	OutputPath   string `json:"output_path"`
	Overwrite    bool   `json:"overwrite,omitempty"`
}

// BurnSubsProcessor drives ffmpeg the same way RemuxProcessor does, via
// github.com/u2takey/ffmpeg-go.
type BurnSubsProcessor struct{}

func (BurnSubsProcessor) Kind() model.JobKind      { return model.JobBurnSubs }
func (BurnSubsProcessor) PoolType() model.PoolType { return model.PoolCPU }

func (p BurnSubsProcessor) Run(ctx context.Context, job model.Job) ([]string, []string, error) {
	if len(job.Inputs) == 0 {
		return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: burn_subs job %s has no inputs", job.JobID))
	}
	var cfg BurnSubsConfig
	if job.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(job.ConfigJSON), &cfg); err != nil {
			return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: invalid burn_subs config for job %s: %w", job.JobID, err))
		}
	}
	if cfg.SubtitlePath == "" || cfg.OutputPath == "" {
		return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: burn_subs job %s requires subtitle_path and output_path", job.JobID))
	}
	if !cfg.Overwrite {
		if _, err := os.Stat(cfg.OutputPath); err == nil {
			return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: burn_subs output %q already exists and overwrite is false", cfg.OutputPath))
		}
	}

	ffmpegErr := bytes.Buffer{}
	run := ffmpeg.Input(job.Inputs[0]).
		Output(cfg.OutputPath, ffmpeg.KwArgs{"vf": fmt.Sprintf("ass=%s", cfg.SubtitlePath)}).
		WithErrorOutput(&ffmpegErr)
	if cfg.Overwrite {
		run = run.OverWriteOutput()
	}
	if err := run.Run(); err != nil {
		return nil, nil, fmt.Errorf("jobqueue: burn_subs job %s failed [%s]: %w", job.JobID, ffmpegErr.String(), err)
	}
	if _, err := os.Stat(cfg.OutputPath); err != nil {
		return nil, nil, fmt.Errorf("jobqueue: burn_subs job %s produced no output file: %w", job.JobID, err)
	}

	return []string{cfg.OutputPath}, nil, nil
}

var _ Processor = BurnSubsProcessor{}
