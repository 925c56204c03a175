package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
)

// Executor runs named steps with memoized results. A step that already has a
// persisted result for (jobID, stepName) returns the stored bytes without
// invoking the function again, so a replayed handler attempt skips work it
// completed before. Concurrent runs of the same step are serialized.
type Executor struct {
	steps  interfaces.StepStorage
	logger arbor.ILogger
	locks  sync.Map // "jobID/stepName" -> *sync.Mutex
}

func NewExecutor(steps interfaces.StepStorage, logger arbor.ILogger) *Executor {
	return &Executor{
		steps:  steps,
		logger: logger,
	}
}

func (e *Executor) lockFor(key string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Run executes fn unless a result for (jobID, stepName) is already stored.
// The function's return value is JSON-serialized and persisted before Run
// returns, so a crash between the step and its successor replays at most the
// successor. A failing step persists nothing.
func (e *Executor) Run(ctx context.Context, jobID, stepName string, fn interfaces.StepFunc) ([]byte, error) {
	key := jobID + "/" + stepName
	mu := e.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if cached, ok, err := e.steps.GetResult(ctx, jobID, stepName); err != nil {
		return nil, fmt.Errorf("failed to read step result for %s/%s: %w", jobID, stepName, err)
	} else if ok {
		e.logger.Debug().
			Str("job_id", jobID).
			Str("step", stepName).
			Msg("Step result cached, skipping execution")
		e.locks.Delete(key)
		return cached, nil
	}

	value, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	result, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize result of step %s/%s: %w", jobID, stepName, err)
	}

	if err := e.steps.SaveResult(ctx, jobID, stepName, result); err != nil {
		return nil, fmt.Errorf("failed to persist result of step %s/%s: %w", jobID, stepName, err)
	}

	// The persisted result now memoizes the step, so the lock entry can be
	// dropped without losing serialization.
	e.locks.Delete(key)

	e.logger.Debug().
		Str("job_id", jobID).
		Str("step", stepName).
		Int("result_bytes", len(result)).
		Msg("Step completed")

	return result, nil
}

// RunStep runs a step through the executor and decodes the (possibly cached)
// result back into T. Handlers use this to get typed step values regardless
// of whether the step actually ran.
func RunStep[T any](ctx context.Context, executor interfaces.StepExecutor, jobID, stepName string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T

	raw, err := executor.Run(ctx, jobID, stepName, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode result of step %s/%s: %w", jobID, stepName, err)
	}

	return out, nil
}
