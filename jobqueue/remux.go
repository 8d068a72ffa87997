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

// RemuxConfig is the JSON body of a remux/transcode/convert node's
// Config map, enumerating every ffmpeg knob the DAG template may set.
type RemuxConfig struct {
	OutputPath string `json:"output_path"`

	VideoCodec string `json:"video_codec,omitempty"` // "copy" for a pure remux
	AudioCodec string `json:"audio_codec,omitempty"`
	Bitrate    string `json:"bitrate,omitempty"`
	CRF        int    `json:"crf,omitempty"`
	Preset     string `json:"preset,omitempty"`
	Resolution string `json:"resolution,omitempty"` // e.g. "1280x720"
	FPS        int    `json:"fps,omitempty"`

	TrimStart    float64 `json:"trim_start_secs,omitempty"`
	TrimDuration float64 `json:"trim_duration_secs,omitempty"`
	TrimEnd      float64 `json:"trim_end_secs,omitempty"`

	VideoFilters []string          `json:"video_filters,omitempty"`
	AudioFilters []string          `json:"audio_filters,omitempty"`
	HWAccel      string            `json:"hwaccel,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Faststart    bool              `json:"faststart,omitempty"`
	Overwrite    bool              `json:"overwrite,omitempty"`
}

// RemuxProcessor wraps ffmpeg via github.com/u2takey/ffmpeg-go, the same
// library the teacher's video package drives ffmpeg with for its own
// transmux step.
type RemuxProcessor struct{}

func (RemuxProcessor) Kind() model.JobKind     { return model.JobRemux }
func (RemuxProcessor) PoolType() model.PoolType { return model.PoolCPU }

func (p RemuxProcessor) Run(ctx context.Context, job model.Job) ([]string, []string, error) {
	if len(job.Inputs) == 0 {
		return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: remux job %s has no inputs", job.JobID))
	}
	var cfg RemuxConfig
	if job.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(job.ConfigJSON), &cfg); err != nil {
			return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: invalid remux config for job %s: %w", job.JobID, err))
		}
	}
	if cfg.OutputPath == "" {
		return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: remux job %s has no output_path", job.JobID))
	}
	if !cfg.Overwrite {
		if _, err := os.Stat(cfg.OutputPath); err == nil {
			return nil, nil, xerrors.Unretriable(fmt.Errorf("jobqueue: remux output %q already exists and overwrite is false", cfg.OutputPath))
		}
	}

	inArgs := ffmpeg.KwArgs{}
	if cfg.TrimStart > 0 {
		inArgs["ss"] = cfg.TrimStart
	}
	if cfg.HWAccel != "" {
		inArgs["hwaccel"] = cfg.HWAccel
	}

	outArgs := ffmpeg.KwArgs{}
	if cfg.VideoCodec != "" {
		outArgs["c:v"] = cfg.VideoCodec
	}
	if cfg.AudioCodec != "" {
		outArgs["c:a"] = cfg.AudioCodec
	}
	if cfg.Bitrate != "" {
		outArgs["b:v"] = cfg.Bitrate
	}
	if cfg.CRF > 0 {
		outArgs["crf"] = cfg.CRF
	}
	if cfg.Preset != "" {
		outArgs["preset"] = cfg.Preset
	}
	if cfg.Resolution != "" {
		outArgs["s"] = cfg.Resolution
	}
	if cfg.FPS > 0 {
		outArgs["r"] = cfg.FPS
	}
	if cfg.TrimDuration > 0 {
		outArgs["t"] = cfg.TrimDuration
	} else if cfg.TrimEnd > 0 {
		outArgs["to"] = cfg.TrimEnd
	}
	if len(cfg.VideoFilters) > 0 {
		outArgs["vf"] = joinFilters(cfg.VideoFilters)
	}
	if len(cfg.AudioFilters) > 0 {
		outArgs["af"] = joinFilters(cfg.AudioFilters)
	}
	if cfg.Faststart {
		outArgs["movflags"] = "faststart"
	}
	for k, v := range cfg.Metadata {
		outArgs["metadata:"+k] = v
	}

	stream := ffmpeg.Input(job.Inputs[0], inArgs)

	ffmpegErr := bytes.Buffer{}
	run := stream.Output(cfg.OutputPath, outArgs).WithErrorOutput(&ffmpegErr)
	if cfg.Overwrite {
		run = run.OverWriteOutput()
	}
	if err := run.Run(); err != nil {
		return nil, nil, fmt.Errorf("jobqueue: remux job %s failed [%s]: %w", job.JobID, ffmpegErr.String(), err)
	}
	if _, err := os.Stat(cfg.OutputPath); err != nil {
		return nil, nil, fmt.Errorf("jobqueue: remux job %s produced no output file: %w", job.JobID, err)
	}

	return []string{cfg.OutputPath}, nil, nil
}

func joinFilters(filters []string) string {
	out := filters[0]
	for _, f := range filters[1:] {
		out += "," + f
	}
	return out
}

var _ Processor = RemuxProcessor{}
