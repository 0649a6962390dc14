package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"siteintel/pkg/types"
)

// task is one extraction unit. Tasks in a stage run concurrently and
// independently: a panicking or failing task yields no data point but
// does not disturb its siblings.
type task struct {
	key types.DataPointKey
	run func(ctx context.Context) (*types.DataPoint, error)
}

type taskResult struct {
	point *types.DataPoint
	err   *TaskFailure
}

func runTask(ctx context.Context, t task) (res taskResult) {
	defer func() {
		if r := recover(); r != nil {
			res = taskResult{err: &TaskFailure{Key: t.key, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()

	point, err := t.run(ctx)
	if err != nil {
		return taskResult{err: &TaskFailure{Key: t.key, Err: err}}
	}
	return taskResult{point: point}
}

// runStage executes the roster in parallel and collects whatever
// succeeded. Failures come back separately so the caller can log them
// with scan context attached.
func runStage(ctx context.Context, tasks []task) ([]types.DataPoint, []*TaskFailure) {
	results := make([]taskResult, len(tasks))

	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			results[i] = runTask(ctx, t)
		}(i, t)
	}
	wg.Wait()

	var points []types.DataPoint
	var failures []*TaskFailure
	for _, res := range results {
		if res.err != nil {
			failures = append(failures, res.err)
			continue
		}
		if res.point != nil {
			points = append(points, *res.point)
		}
	}
	return points, failures
}

type intelOutcome struct {
	points  []types.DataPoint
	signals []types.SignalLogEntry
	err     error
}

// raceDeadline runs fn against a wall-clock deadline. On expiry the
// work is abandoned in place: the goroutine may still finish, but its
// result goes nowhere.
func raceDeadline(ctx context.Context, deadline time.Duration, logger *slog.Logger, fn func(context.Context) intelOutcome) (intelOutcome, error) {
	ch := make(chan intelOutcome, 1)
	go func() {
		ch <- fn(ctx)
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out, out.err
	case <-timer.C:
		logger.Warn("risk intelligence abandoned at deadline", "deadline", deadline)
		return intelOutcome{}, ErrRiskIntelTimeout
	case <-ctx.Done():
		return intelOutcome{}, ctx.Err()
	}
}
