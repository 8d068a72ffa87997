// Package pipeline provides the bounded-channel processor graph shared by
// pipeline/flv and pipeline/hls: each processor consumes Result[T] items
// from an input channel and emits Result[T] items to an output channel,
// wired together and driven by Run.
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// PipelineError is carried as the Err field of a Result once a processor
// can no longer continue; it names the processor that raised it so a
// session can log which stage failed.
type PipelineError struct {
	Stage string
	Cause error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Cause)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

func newPipelineError(stage string, cause error) *PipelineError {
	if pe, ok := cause.(*PipelineError); ok {
		return pe
	}
	return &PipelineError{Stage: stage, Cause: cause}
}

// Result is one channel item: either a value or a terminal error. Once an
// Err item is emitted, the producing processor must stop emitting further
// values (a Run-driven stage enforces this: after forwarding an Err item
// it stops processing and only drains its input).
type Result[T any] struct {
	Value T
	Err   error
}

// Ok wraps a value as a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Processor is one stage of a pipeline. Process is called once per input
// item; Finish is called exactly once after the input channel closes
// (without an error having stopped the pipeline first), letting a
// processor flush any buffered state (e.g. the last open segment).
type Processor[T any] interface {
	Name() string
	Process(ctx context.Context, in T, emit func(T) error) error
	Finish(ctx context.Context, emit func(T) error) error
}

// Emit is the emit func a Run-driven stage passes to a Processor: it
// writes v to out, respecting ctx cancellation, and returns an error only
// if the context was cancelled mid-send (the caller then wraps and
// forwards a PipelineError downstream before returning).
func Emit[T any](ctx context.Context, out chan<- Result[T]) func(T) error {
	return func(v T) error {
		select {
		case out <- Ok(v):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run chains processors into a bounded-channel graph: stage i reads from
// the channel stage i-1 writes to, each channel sized channelSize. It
// returns the final stage's output channel. The returned channel is
// closed once every stage has exited (drained or stopped on error).
//
// On a PipelineError, a stage forwards the error item downstream and then
// stops consuming further input, draining (and discarding) whatever
// remains so upstream sends don't deadlock.
func Run[T any](ctx context.Context, in <-chan Result[T], channelSize int, stages ...Processor[T]) <-chan Result[T] {
	cur := in
	for _, stage := range stages {
		cur = runStage(ctx, stage, cur, channelSize)
	}
	return cur
}

func runStage[T any](ctx context.Context, p Processor[T], in <-chan Result[T], channelSize int) <-chan Result[T] {
	out := make(chan Result[T], channelSize)
	go func() {
		defer close(out)
		emit := Emit(ctx, out)
		failed := false
		for item := range in {
			if failed {
				continue // drain without processing once stopped
			}
			if item.Err != nil {
				out <- Result[T]{Err: newPipelineError(p.Name(), item.Err)}
				failed = true
				continue
			}
			if err := p.Process(ctx, item.Value, emit); err != nil {
				out <- Result[T]{Err: newPipelineError(p.Name(), err)}
				failed = true
			}
		}
		if !failed {
			if err := p.Finish(ctx, emit); err != nil {
				out <- Result[T]{Err: newPipelineError(p.Name(), err)}
			}
		}
	}()
	return out
}

// Drain runs a pipeline's final output channel to completion, collecting
// values via onValue until the channel closes or an error item arrives
// (which is returned once drained). Intended for tests and for a
// spawner's terminal sink stage.
func Drain[T any](out <-chan Result[T], onValue func(T) error) error {
	var firstErr error
	for item := range out {
		if item.Err != nil {
			if firstErr == nil {
				firstErr = item.Err
			}
			continue
		}
		if firstErr == nil {
			if err := onValue(item.Value); err != nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RunGroup is a convenience for spawning Run's stage goroutines under an
// errgroup so a caller can wait for the whole graph alongside other
// concurrent work (e.g. the engine producing into `in`). Run already
// spawns its own goroutines internally; RunGroup instead lets the caller
// fold graph completion into a larger errgroup.Group by waiting on the
// final output channel in a tracked goroutine.
func RunGroup[T any](g *errgroup.Group, ctx context.Context, in <-chan Result[T], channelSize int, onValue func(T) error, stages ...Processor[T]) {
	out := Run(ctx, in, channelSize, stages...)
	g.Go(func() error {
		return Drain(out, onValue)
	})
}
