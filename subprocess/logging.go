// Package subprocess provides small helpers for driving and observing
// external processes (ffmpeg, streamlink, DanmakuFactory) the way the core
// shells out to them.
package subprocess

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/streamrec/core/log"
)

// ScanLines reads newline-delimited output from src and invokes fn for
// each line (without the trailing newline). It tolerates a final partial
// line without a trailing newline, which ffmpeg and streamlink both emit
// on exit.
func ScanLines(src io.Reader, fn func(line string)) {
	s := bufio.NewReader(src)
	for {
		line, err := s.ReadString('\n')
		if len(line) > 0 {
			if line[len(line)-1] == '\n' {
				line = line[:len(line)-1]
			}
			fn(line)
		}
		if err != nil {
			if err != io.EOF {
				log.LogNoRequestID("subprocess scan error", "err", err)
			}
			return
		}
	}
}

func streamOutput(src io.Reader, out io.Writer) {
	ScanLines(src, func(line string) {
		_, err := fmt.Fprintln(out, line)
		if err != nil {
			log.LogNoRequestID("subprocess streamOutput write error", "err", err)
		}
	})
}

func LogStdout(cmd *exec.Cmd) error {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %v", err)
	}
	go streamOutput(stdoutPipe, os.Stdout)
	return nil
}

func LogStderr(cmd *exec.Cmd) error {
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %v", err)
	}
	go streamOutput(stderrPipe, os.Stderr)
	return nil
}

// LogOutputs starts new goroutines to print cmd's stdout & stderr to our stdout & stderr
func LogOutputs(cmd *exec.Cmd) error {
	if err := LogStderr(cmd); err != nil {
		return err
	}
	if err := LogStdout(cmd); err != nil {
		return err
	}
	return nil
}
