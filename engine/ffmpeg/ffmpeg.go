// Package ffmpeg implements engine.DownloadEngine by spawning an
// external ffmpeg process and scraping its stderr for progress,
// segment-rotation, and termination markers.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/streamrec/core/engine"
	"github.com/streamrec/core/log"
	"github.com/streamrec/core/model"
	"github.com/streamrec/core/subprocess"
)

// Engine drives ffmpeg as the capture process. It relies on ffmpeg's own
// "segment" muxer to rotate output files and only observes its stderr.
type Engine struct {
	// BinaryPath overrides the "ffmpeg" lookup on PATH; empty uses PATH.
	BinaryPath string
}

func New() *Engine { return &Engine{} }

var _ engine.DownloadEngine = (*Engine)(nil)

func (e *Engine) EngineType() model.EngineType { return model.EngineFFmpeg }

func (e *Engine) binary() string {
	if e.BinaryPath != "" {
		return e.BinaryPath
	}
	return "ffmpeg"
}

func (e *Engine) IsAvailable() bool {
	_, err := exec.LookPath(e.binary())
	return err == nil
}

func (e *Engine) Version() (string, bool) {
	out, err := exec.Command(e.binary(), "-version").Output()
	if err != nil {
		return "", false
	}
	line := strings.SplitN(string(out), "\n", 2)[0]
	return strings.TrimSpace(line), true
}

// buildArgs derives an ffmpeg argv from handle. Output rotates through
// ffmpeg's segment muxer so each emitted file satisfies the
// independently-decodable-segment invariant without this engine having
// to scan bitstream content itself.
func (e *Engine) buildArgs(handle *engine.DownloadHandle) []string {
	outPattern := filepath.Join(handle.OutputDir, handle.FilenameTemplate+"_%03d."+string(handle.OutputFormat))

	args := []string{"-y", "-loglevel", "info"}
	if handle.ExtraHeaders != nil {
		var hdr strings.Builder
		for k, v := range handle.ExtraHeaders {
			hdr.WriteString(k)
			hdr.WriteString(": ")
			hdr.WriteString(v)
			hdr.WriteString("\r\n")
		}
		if hdr.Len() > 0 {
			args = append(args, "-headers", hdr.String())
		}
	}
	if handle.Proxy != "" {
		args = append(args, "-http_proxy", handle.Proxy)
	}
	args = append(args, "-i", handle.URL,
		"-c", "copy",
		"-f", "segment",
		"-segment_format", string(handle.OutputFormat),
		"-reset_timestamps", "1",
	)
	if handle.MaxSegmentDur > 0 {
		args = append(args, "-segment_time", strconv.FormatFloat(handle.MaxSegmentDur.Seconds(), 'f', -1, 64))
	}
	if handle.MaxSegmentBytes > 0 {
		args = append(args, "-segment_list_size", "0", "-fs", strconv.FormatInt(handle.MaxSegmentBytes, 10))
	}
	args = append(args, outPattern)
	return args
}

var (
	reOpening  = regexp.MustCompile(`Opening '([^']+)' for writing`)
	reProgress = regexp.MustCompile(`size=\s*(\d+)kB\s+time=(\d+):(\d+):(\d+)\.(\d+)`)
)

func (e *Engine) Start(ctx context.Context, handle *engine.DownloadHandle) error {
	defer close(handle.Events)

	args := e.buildArgs(handle)
	cmd := exec.CommandContext(ctx, e.binary(), args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("engine/ffmpeg: failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("engine/ffmpeg: failed to start: %w", err)
	}

	var (
		mu           sync.Mutex
		currentPath  string
		currentIdx   = -1
		currentStart time.Time
		wg           sync.WaitGroup
	)

	emitStarted := func(path string) {
		mu.Lock()
		currentPath = path
		currentIdx++
		currentStart = time.Now()
		idx := currentIdx
		mu.Unlock()
		handle.Events <- engine.SegmentEvent{
			Kind: engine.EventSegmentStarted, Path: path, Index: idx, StartedAt: currentStart,
		}
	}
	emitCompleted := func() {
		mu.Lock()
		path := currentPath
		started := currentStart
		mu.Unlock()
		if path == "" {
			return
		}
		info, statErr := os.Stat(path)
		var size int64
		if statErr == nil {
			size = info.Size()
		}
		handle.Events <- engine.SegmentEvent{
			Kind:         engine.EventSegmentCompleted,
			Path:         path,
			Bytes:        size,
			DurationSecs: time.Since(started).Seconds(),
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		subprocess.ScanLines(stderr, func(line string) {
			if m := reOpening.FindStringSubmatch(line); m != nil {
				if currentPath != "" {
					emitCompleted()
				}
				emitStarted(m[1])
				return
			}
			if m := reProgress.FindStringSubmatch(line); m != nil {
				kb, _ := strconv.ParseInt(m[1], 10, 64)
				handle.Events <- engine.SegmentEvent{
					Kind:            engine.EventProgress,
					BytesDownloaded: kb * 1024,
				}
			}
		})
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
		grace := handle.ProcessStopGrace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGINT)
		}
		select {
		case runErr = <-waitErr:
		case <-time.After(grace):
			log.LogNoRequestID("engine/ffmpeg: grace period elapsed, killing process", "pid", cmd.Process.Pid)
			_ = cmd.Process.Kill()
			runErr = <-waitErr
		}
	case runErr = <-waitErr:
	}
	wg.Wait()

	if runErr != nil {
		if currentPath != "" {
			emitCompleted()
		}
		kind := classifyFailure(runErr, ctx)
		handle.Events <- engine.SegmentEvent{
			Kind:        engine.EventDownloadFailed,
			FailureKind: kind,
			Message:     runErr.Error(),
		}
		return runErr
	}

	if currentPath != "" {
		emitCompleted()
	}
	handle.Events <- engine.SegmentEvent{
		Kind:          engine.EventDownloadCompleted,
		TotalSegments: currentIdx + 1,
	}
	return nil
}

func classifyFailure(err error, ctx context.Context) engine.FailureKind {
	if ctx.Err() != nil {
		return engine.FailureCancelled
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "403") || strings.Contains(msg, "401") || strings.Contains(msg, "auth"):
		return engine.FailureAuthError
	case strings.Contains(msg, "404") || strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "network"):
		return engine.FailureNetworkError
	default:
		return engine.FailureNetworkError
	}
}

// Stop is a no-op: cancelling handle's context is how a caller requests
// shutdown, which Start's own SIGINT/grace/SIGKILL escalation handles.
func (e *Engine) Stop(ctx context.Context, handle *engine.DownloadHandle) error {
	return nil
}
