// Package streamlink implements engine.DownloadEngine by piping
// streamlink's stdout into ffmpeg for remux/segmentation, matching the
// ffmpeg engine's event contract while tokenizing streamlink's own
// stderr independently for stream-open/stream-ended/error markers.
package streamlink

import (
	"context"
	"fmt"
	"io"
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

// Engine spawns `streamlink --stdout <url> best | ffmpeg ... -`, i.e.
// two processes connected by an os.Pipe, and observes both stderrs.
type Engine struct {
	StreamlinkPath string
	FFmpegPath     string
}

func New() *Engine { return &Engine{} }

var _ engine.DownloadEngine = (*Engine)(nil)

func (e *Engine) EngineType() model.EngineType { return model.EngineStreamlink }

func (e *Engine) streamlinkBinary() string {
	if e.StreamlinkPath != "" {
		return e.StreamlinkPath
	}
	return "streamlink"
}

func (e *Engine) ffmpegBinary() string {
	if e.FFmpegPath != "" {
		return e.FFmpegPath
	}
	return "ffmpeg"
}

func (e *Engine) IsAvailable() bool {
	_, err := exec.LookPath(e.streamlinkBinary())
	if err != nil {
		return false
	}
	_, err = exec.LookPath(e.ffmpegBinary())
	return err == nil
}

func (e *Engine) Version() (string, bool) {
	out, err := exec.Command(e.streamlinkBinary(), "--version").Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

var (
	reStreamOpening = regexp.MustCompile(`Opening stream:`)
	reStreamEnded   = regexp.MustCompile(`Stream ended`)
	reStreamError   = regexp.MustCompile(`(?i)error:`)
	reOpening       = regexp.MustCompile(`Opening '([^']+)' for writing`)
	reProgress      = regexp.MustCompile(`size=\s*(\d+)kB`)
)

func (e *Engine) buildStreamlinkArgs(handle *engine.DownloadHandle) []string {
	args := []string{"--stdout", "--loglevel", "info"}
	if handle.Proxy != "" {
		args = append(args, "--http-proxy", handle.Proxy, "--https-proxy", handle.Proxy)
	}
	for k, v := range handle.Cookies {
		args = append(args, "--http-cookie", k+"="+v)
	}
	for k, v := range handle.ExtraHeaders {
		args = append(args, "--http-header", k+"="+v)
	}
	args = append(args, handle.URL, "best")
	return args
}

func (e *Engine) buildFfmpegArgs(handle *engine.DownloadHandle) []string {
	outPattern := filepath.Join(handle.OutputDir, handle.FilenameTemplate+"_%03d."+string(handle.OutputFormat))
	args := []string{"-y", "-loglevel", "info", "-i", "pipe:0",
		"-c", "copy", "-f", "segment", "-segment_format", string(handle.OutputFormat),
		"-reset_timestamps", "1",
	}
	if handle.MaxSegmentDur > 0 {
		args = append(args, "-segment_time", strconv.FormatFloat(handle.MaxSegmentDur.Seconds(), 'f', -1, 64))
	}
	if handle.MaxSegmentBytes > 0 {
		args = append(args, "-fs", strconv.FormatInt(handle.MaxSegmentBytes, 10))
	}
	args = append(args, outPattern)
	return args
}

func (e *Engine) Start(ctx context.Context, handle *engine.DownloadHandle) error {
	defer close(handle.Events)

	sl := exec.CommandContext(ctx, e.streamlinkBinary(), e.buildStreamlinkArgs(handle)...)
	fm := exec.CommandContext(ctx, e.ffmpegBinary(), e.buildFfmpegArgs(handle)...)
	fm.Env = append(os.Environ(), "LC_ALL=C")

	pipeR, pipeW := io.Pipe()
	sl.Stdout = pipeW
	fm.Stdin = pipeR

	slStderr, err := sl.StderrPipe()
	if err != nil {
		return fmt.Errorf("engine/streamlink: stderr pipe: %w", err)
	}
	fmStderr, err := fm.StderrPipe()
	if err != nil {
		return fmt.Errorf("engine/streamlink: ffmpeg stderr pipe: %w", err)
	}

	if err := fm.Start(); err != nil {
		return fmt.Errorf("engine/streamlink: ffmpeg start: %w", err)
	}
	if err := sl.Start(); err != nil {
		return fmt.Errorf("engine/streamlink: streamlink start: %w", err)
	}

	var (
		mu           sync.Mutex
		currentPath  string
		currentIdx   = -1
		currentStart time.Time
		slFailed     error
		wg           sync.WaitGroup
	)

	emitStarted := func(path string) {
		mu.Lock()
		currentPath = path
		currentIdx++
		currentStart = time.Now()
		idx := currentIdx
		mu.Unlock()
		handle.Events <- engine.SegmentEvent{Kind: engine.EventSegmentStarted, Path: path, Index: idx, StartedAt: currentStart}
	}
	emitCompleted := func() {
		mu.Lock()
		path, started := currentPath, currentStart
		mu.Unlock()
		if path == "" {
			return
		}
		var size int64
		if info, statErr := os.Stat(path); statErr == nil {
			size = info.Size()
		}
		handle.Events <- engine.SegmentEvent{
			Kind: engine.EventSegmentCompleted, Path: path, Bytes: size,
			DurationSecs: time.Since(started).Seconds(),
		}
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		subprocess.ScanLines(slStderr, func(line string) {
			switch {
			case reStreamEnded.MatchString(line):
				// handled via streamlink process exit
			case reStreamError.MatchString(line):
				mu.Lock()
				slFailed = fmt.Errorf("streamlink: %s", line)
				mu.Unlock()
			}
		})
	}()
	go func() {
		defer wg.Done()
		subprocess.ScanLines(fmStderr, func(line string) {
			if m := reOpening.FindStringSubmatch(line); m != nil {
				mu.Lock()
				had := currentPath != ""
				mu.Unlock()
				if had {
					emitCompleted()
				}
				emitStarted(m[1])
				return
			}
			if m := reProgress.FindStringSubmatch(line); m != nil {
				kb, _ := strconv.ParseInt(m[1], 10, 64)
				handle.Events <- engine.SegmentEvent{Kind: engine.EventProgress, BytesDownloaded: kb * 1024}
			}
		})
	}()

	slDone := make(chan error, 1)
	go func() {
		err := sl.Wait()
		_ = pipeW.Close()
		slDone <- err
	}()
	fmDone := make(chan error, 1)
	go func() { fmDone <- fm.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
		grace := handle.ProcessStopGrace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		if sl.Process != nil {
			_ = sl.Process.Signal(syscall.SIGINT)
		}
		if fm.Process != nil {
			_ = fm.Process.Signal(syscall.SIGINT)
		}
		select {
		case runErr = <-fmDone:
		case <-time.After(grace):
			log.LogNoRequestID("engine/streamlink: grace period elapsed, killing processes")
			if sl.Process != nil {
				_ = sl.Process.Kill()
			}
			if fm.Process != nil {
				_ = fm.Process.Kill()
			}
			runErr = <-fmDone
		}
		<-slDone
	case runErr = <-fmDone:
		<-slDone
	}
	wg.Wait()

	mu.Lock()
	failure := slFailed
	mu.Unlock()
	if runErr == nil && failure != nil {
		runErr = failure
	}

	if runErr != nil {
		if currentPath != "" {
			emitCompleted()
		}
		kind := engine.FailureNetworkError
		if ctx.Err() != nil {
			kind = engine.FailureCancelled
		} else if failure != nil {
			kind = engine.FailureSourceUnavailable
		}
		handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadFailed, FailureKind: kind, Message: runErr.Error()}
		return runErr
	}

	if currentPath != "" {
		emitCompleted()
	}
	handle.Events <- engine.SegmentEvent{Kind: engine.EventDownloadCompleted, TotalSegments: currentIdx + 1}
	return nil
}

func (e *Engine) Stop(ctx context.Context, handle *engine.DownloadHandle) error {
	return nil
}
