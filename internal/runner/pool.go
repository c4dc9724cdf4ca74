package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jakopako/goverify/internal/log"
	"github.com/jakopako/goverify/internal/scenario"
	"github.com/jakopako/goverify/internal/types"
)

type job struct {
	index    int
	scenario scenario.Scenario
}

type finished struct {
	index  int
	result types.Result
	err    error
}

func (r *Runner) worker(ctx context.Context, jobs <-chan job, done chan<- finished, threadNr int) {
	workerLogger := log.LoggerFromContext(ctx).With(slog.Int("thread", threadNr))
	ctx = log.ContextWithLogger(ctx, workerLogger)
	for j := range jobs {
		result, err := r.Run(ctx, j.scenario)
		if err != nil {
			workerLogger.Error(err.Error(), slog.String("scenario", j.scenario.Name))
		}
		done <- finished{index: j.index, result: result, err: err}
	}
	workerLogger.Debug("done working")
}

// RunAll runs the scenarios with up to parallel concurrent sessions. Every
// result is sent to out, if not nil, as soon as its run is done. The returned
// results are in the order of scenarios. The error aggregates the session
// acquisition failures. Scenarios not started before ctx is done are left out.
func (r *Runner) RunAll(ctx context.Context, scenarios []scenario.Scenario, parallel int, out chan<- types.Result) ([]types.Result, error) {
	if len(scenarios) == 0 {
		return nil, types.ErrNoScenarios
	}
	if parallel < 1 {
		parallel = 1
	}
	if parallel > len(scenarios) {
		parallel = len(scenarios)
	}

	jobs := make(chan job)
	done := make(chan finished)
	var workerWG sync.WaitGroup
	for i := range parallel {
		workerWG.Add(1)
		go func(threadNr int) {
			defer workerWG.Done()
			r.worker(ctx, jobs, done, threadNr)
		}(i)
	}

	go func() {
		defer close(jobs)
		for i, sc := range scenarios {
			select {
			case jobs <- job{index: i, scenario: sc}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		workerWG.Wait()
		close(done)
	}()

	byIndex := make([]*types.Result, len(scenarios))
	var errs *multierror.Error
	for f := range done {
		if f.err != nil {
			errs = multierror.Append(errs, f.err)
		}
		res := f.result
		byIndex[f.index] = &res
		if out != nil {
			out <- f.result
		}
	}

	results := make([]types.Result, 0, len(scenarios))
	for _, res := range byIndex {
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, errs.ErrorOrNil()
}
