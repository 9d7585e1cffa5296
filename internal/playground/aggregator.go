package playground

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/switchyard-io/switchyard/internal/core"
)

// Request is one multi-environment, multi-context evaluation batch. All
// inputs are in-memory snapshots; the aggregator performs no I/O.
type Request struct {
	Environments []string
	Template     Template
	Features     []core.Feature
	Segments     []core.Segment

	// MaxCombinations bounds environments × features × expanded contexts.
	// Zero means DefaultMaxCombinations.
	MaxCombinations int
	// Workers bounds the evaluation fan-out. Zero means GOMAXPROCS.
	Workers int
}

// Result groups evaluation results by feature name, then by environment,
// preserving discovery order via FeatureOrder and the request's environment
// order. Result sequences within an environment follow context expansion
// order.
type Result struct {
	FeatureOrder []string
	Features     map[string]map[string][]core.EvaluationResult
}

// Evaluate validates the batch size, expands the context template, and
// evaluates every (environment, context, feature) tuple on a bounded worker
// pool. Each tuple is independent and side-effect-free; the shared snapshot
// is read-only for the duration of the batch, so no locking is needed.
//
// A malformed feature definition surfaces as diagnostics inside that
// feature's results; it never fails the batch. The only batch-level failures
// are the complexity guard and context cancellation.
func Evaluate(ctx context.Context, request Request) (*Result, error) {
	if err := checkComplexity(len(request.Environments), len(request.Features), request.Template, request.MaxCombinations); err != nil {
		return nil, err
	}

	evaluator := core.NewEvaluator(request.Features, request.Segments)

	contexts := make([]core.Context, 0, request.Template.Combinations())
	for c := range request.Template.Contexts() {
		contexts = append(contexts, c)
	}

	workers := request.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// cells[envIdx][ctxIdx] is written by exactly one worker, so the fan-out
	// needs no synchronization beyond the errgroup wait.
	cells := make([][][]core.EvaluationResult, len(request.Environments))
	for i := range cells {
		cells[i] = make([][]core.EvaluationResult, len(contexts))
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for envIdx, environment := range request.Environments {
		for ctxIdx := range contexts {
			group.Go(func() error {
				if err := groupCtx.Err(); err != nil {
					return err
				}
				evalContext := contexts[ctxIdx]
				if evalContext.Environment == "" {
					evalContext.Environment = environment
				}
				cells[envIdx][ctxIdx] = evaluator.EvaluateAll(evalContext, environment)
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return groupResults(evaluator.FeatureNames(), request.Environments, cells), nil
}

func groupResults(featureNames, environments []string, cells [][][]core.EvaluationResult) *Result {
	result := &Result{
		FeatureOrder: featureNames,
		Features:     make(map[string]map[string][]core.EvaluationResult, len(featureNames)),
	}
	for featIdx, name := range featureNames {
		byEnvironment := make(map[string][]core.EvaluationResult, len(environments))
		for envIdx, environment := range environments {
			results := make([]core.EvaluationResult, 0, len(cells[envIdx]))
			for _, perContext := range cells[envIdx] {
				results = append(results, perContext[featIdx])
			}
			byEnvironment[environment] = results
		}
		result.Features[name] = byEnvironment
	}
	return result
}
