package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultStageTimeout bounds a single stage when no timeout is configured.
const DefaultStageTimeout = 5 * time.Minute

// Executor runs a single stage and turns every way it can go wrong into a StageError.
type Executor struct {
	timeout time.Duration
}

func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	return &Executor{timeout: timeout}
}

type stageResult struct {
	out StageOutput
	err error
}

// RunStage executes one stage and returns its output.
// A stage that ignores its context and overruns the timeout is abandoned; its
// goroutine finishes on its own and its result is discarded.
func (e *Executor) RunStage(ctx context.Context, stage Stage, jc JobContext) (StageOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan stageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := stage.Run(ctx, jc)
		done <- stageResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			// A stage that gave up because of its context reports the same as one that was abandoned.
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(res.err, ctxErr) {
				return nil, e.interrupted(stage, ctxErr)
			}
			return nil, &StageError{Stage: stage.Name, Err: res.err}
		}
		if res.out == nil {
			res.out = StageOutput{}
		}
		return res.out, nil
	case <-ctx.Done():
		return nil, e.interrupted(stage, ctx.Err())
	}
}

func (e *Executor) interrupted(stage Stage, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return &StageError{Stage: stage.Name, Err: fmt.Errorf("timed out after %s", e.timeout)}
	}
	return &StageError{Stage: stage.Name, Err: ErrCancelled}
}
