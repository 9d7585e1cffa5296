package server

import (
	"context"

	"github.com/switchyard-io/switchyard/internal/core"
	"github.com/switchyard-io/switchyard/internal/playground"
	"github.com/switchyard-io/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/internal/service"
)

type Service interface {
	UpsertFeature(ctx context.Context, feature repository.Feature) (repository.Feature, error)
	GetFeature(ctx context.Context, name string) (repository.Feature, error)
	ListFeatures(ctx context.Context) ([]repository.Feature, error)
	DeleteFeature(ctx context.Context, name string) error
	UpsertSegment(ctx context.Context, segment repository.Segment) (repository.Segment, error)
	ListSegments(ctx context.Context) ([]repository.Segment, error)
	DeleteSegment(ctx context.Context, id int) error
	Evaluate(ctx context.Context, featureName, environment string, evalContext core.Context) (core.EvaluationResult, error)
	EvaluateAll(ctx context.Context, environment string, evalContext core.Context) []core.EvaluationResult
	Playground(ctx context.Context, request playground.Request) (*playground.Result, error)
}

var _ Service = (*service.Service)(nil)
