// Package service holds the application layer between the HTTP server and
// persistence. It keeps an in-memory snapshot of all feature and segment
// definitions, refreshed on LISTEN/NOTIFY invalidation and on a periodic
// resync, so evaluation never touches the database.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/switchyard-io/switchyard/internal/core"
	"github.com/switchyard-io/switchyard/internal/playground"
	"github.com/switchyard-io/switchyard/internal/repository"
)

const (
	defaultCacheResyncInterval = time.Minute
	cacheReloadTimeout         = 5 * time.Second
	variantWeightTotal         = 1000
)

var (
	ErrFeatureNotFound   = errors.New("feature not found")
	ErrSegmentNotFound   = errors.New("segment not found")
	ErrInvalidDefinition = errors.New("invalid definition")
)

// Repository is the persistence surface the service depends on.
type Repository interface {
	UpsertFeature(ctx context.Context, feature repository.Feature) (repository.Feature, error)
	GetFeature(ctx context.Context, name string) (repository.Feature, error)
	ListFeatures(ctx context.Context) ([]repository.Feature, error)
	DeleteFeature(ctx context.Context, name string) error
	UpsertSegment(ctx context.Context, segment repository.Segment) (repository.Segment, error)
	ListSegments(ctx context.Context) ([]repository.Segment, error)
	DeleteSegment(ctx context.Context, id int) error
}

type definitionInvalidationSubscriber interface {
	SubscribeDefinitionInvalidation(ctx context.Context) (<-chan struct{}, error)
}

// snapshot is an immutable view of all decoded definitions. A new snapshot
// replaces the old one wholesale on every reload.
type snapshot struct {
	features  []core.Feature
	segments  []core.Segment
	evaluator *core.Evaluator
}

type Service struct {
	repo           Repository
	resyncInterval time.Duration

	onCacheLoad    func()
	onInvalidation func()
	setCacheSize   func(kind string, size float64)

	mu   sync.RWMutex
	snap *snapshot
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithResyncInterval overrides the periodic full-reload interval.
func WithResyncInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.resyncInterval = interval
		}
	}
}

// WithCacheMetrics registers callbacks fired on snapshot reloads,
// NOTIFY-triggered invalidations, and size changes.
func WithCacheMetrics(onLoad, onInvalidation func(), setSize func(kind string, size float64)) Option {
	return func(s *Service) {
		s.onCacheLoad = onLoad
		s.onInvalidation = onInvalidation
		s.setCacheSize = setSize
	}
}

func New(ctx context.Context, repo Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}

	svc := &Service{
		repo:           repo,
		resyncInterval: defaultCacheResyncInterval,
		snap:           &snapshot{evaluator: core.NewEvaluator(nil, nil)},
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := svc.LoadCache(ctx); err != nil {
		return nil, err
	}
	if subscriber, ok := repo.(definitionInvalidationSubscriber); ok {
		if err := svc.startInvalidationListener(ctx, subscriber); err != nil {
			return nil, err
		}
	}

	return svc, nil
}

// LoadCache replaces the in-memory snapshot with the current database state.
// Rows whose JSON payloads fail to decode are skipped; the rest of the
// snapshot still loads.
func (s *Service) LoadCache(ctx context.Context) error {
	storedFeatures, err := s.repo.ListFeatures(ctx)
	if err != nil {
		return fmt.Errorf("load features: %w", err)
	}
	storedSegments, err := s.repo.ListSegments(ctx)
	if err != nil {
		return fmt.Errorf("load segments: %w", err)
	}

	features := make([]core.Feature, 0, len(storedFeatures))
	for _, stored := range storedFeatures {
		feature, err := decodeFeature(stored)
		if err != nil {
			continue
		}
		features = append(features, feature)
	}

	segments := make([]core.Segment, 0, len(storedSegments))
	for _, stored := range storedSegments {
		segment, err := decodeSegment(stored)
		if err != nil {
			continue
		}
		segments = append(segments, segment)
	}

	next := &snapshot{
		features:  features,
		segments:  segments,
		evaluator: core.NewEvaluator(features, segments),
	}

	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()

	if s.onCacheLoad != nil {
		s.onCacheLoad()
	}
	if s.setCacheSize != nil {
		s.setCacheSize("features", float64(len(features)))
		s.setCacheSize("segments", float64(len(segments)))
	}

	return nil
}

func (s *Service) currentSnapshot() *snapshot {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	return snap
}

// UpsertFeature validates and persists a feature definition, then refreshes
// the snapshot.
func (s *Service) UpsertFeature(ctx context.Context, feature repository.Feature) (repository.Feature, error) {
	if strings.TrimSpace(feature.Name) == "" {
		return repository.Feature{}, fmt.Errorf("%w: feature name is required", ErrInvalidDefinition)
	}
	if _, err := decodeFeature(feature); err != nil {
		return repository.Feature{}, err
	}

	stored, err := s.repo.UpsertFeature(ctx, feature)
	if err != nil {
		return repository.Feature{}, fmt.Errorf("upsert feature: %w", err)
	}

	s.reloadCache(ctx)
	return stored, nil
}

// GetFeature returns the stored definition for a single feature.
func (s *Service) GetFeature(ctx context.Context, name string) (repository.Feature, error) {
	if strings.TrimSpace(name) == "" {
		return repository.Feature{}, fmt.Errorf("%w: feature name is required", ErrInvalidDefinition)
	}

	feature, err := s.repo.GetFeature(ctx, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Feature{}, ErrFeatureNotFound
		}
		return repository.Feature{}, fmt.Errorf("get feature: %w", err)
	}
	return feature, nil
}

// ListFeatures returns all stored feature definitions.
func (s *Service) ListFeatures(ctx context.Context) ([]repository.Feature, error) {
	features, err := s.repo.ListFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	return features, nil
}

// DeleteFeature removes a feature definition and refreshes the snapshot.
func (s *Service) DeleteFeature(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: feature name is required", ErrInvalidDefinition)
	}

	if err := s.repo.DeleteFeature(ctx, name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrFeatureNotFound
		}
		return fmt.Errorf("delete feature: %w", err)
	}

	s.reloadCache(ctx)
	return nil
}

// UpsertSegment validates and persists a segment, then refreshes the snapshot.
func (s *Service) UpsertSegment(ctx context.Context, segment repository.Segment) (repository.Segment, error) {
	if strings.TrimSpace(segment.Name) == "" {
		return repository.Segment{}, fmt.Errorf("%w: segment name is required", ErrInvalidDefinition)
	}
	if _, err := decodeSegment(segment); err != nil {
		return repository.Segment{}, err
	}

	stored, err := s.repo.UpsertSegment(ctx, segment)
	if err != nil {
		return repository.Segment{}, fmt.Errorf("upsert segment: %w", err)
	}

	s.reloadCache(ctx)
	return stored, nil
}

// ListSegments returns all stored segments.
func (s *Service) ListSegments(ctx context.Context) ([]repository.Segment, error) {
	segments, err := s.repo.ListSegments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	return segments, nil
}

// DeleteSegment removes a segment and refreshes the snapshot.
func (s *Service) DeleteSegment(ctx context.Context, id int) error {
	if err := s.repo.DeleteSegment(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSegmentNotFound
		}
		return fmt.Errorf("delete segment: %w", err)
	}

	s.reloadCache(ctx)
	return nil
}

// Evaluate resolves a single feature against a context in one environment,
// using the in-memory snapshot. An unknown feature name returns
// ErrFeatureNotFound rather than a disabled result so callers can
// distinguish "off" from "missing".
func (s *Service) Evaluate(_ context.Context, featureName, environment string, evalContext core.Context) (core.EvaluationResult, error) {
	snap := s.currentSnapshot()

	feature, ok := snap.evaluator.Feature(featureName)
	if !ok {
		return core.EvaluationResult{}, ErrFeatureNotFound
	}

	return snap.evaluator.Evaluate(feature, normalizeContext(evalContext, environment), environment), nil
}

// EvaluateAll resolves every known feature against a context in one
// environment, in definition discovery order.
func (s *Service) EvaluateAll(_ context.Context, environment string, evalContext core.Context) []core.EvaluationResult {
	snap := s.currentSnapshot()
	return snap.evaluator.EvaluateAll(normalizeContext(evalContext, environment), environment)
}

// Playground runs a batch evaluation over expanded context combinations.
// When the request names no features, the full snapshot is used; request
// segments default to the snapshot's segments.
func (s *Service) Playground(ctx context.Context, request playground.Request) (*playground.Result, error) {
	snap := s.currentSnapshot()

	if len(request.Features) == 0 {
		request.Features = snap.features
	}
	if len(request.Segments) == 0 {
		request.Segments = snap.segments
	}
	if request.Template.Base.CurrentTime == "" {
		request.Template.Base.CurrentTime = time.Now().UTC().Format(time.RFC3339)
	}

	return playground.Evaluate(ctx, request)
}

func (s *Service) startInvalidationListener(ctx context.Context, subscriber definitionInvalidationSubscriber) error {
	invalidations, err := subscriber.SubscribeDefinitionInvalidation(ctx)
	if err != nil {
		return fmt.Errorf("subscribe definition invalidation: %w", err)
	}

	go func() {
		resyncTicker := time.NewTicker(s.resyncInterval)
		defer resyncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-resyncTicker.C:
				if invalidations == nil {
					next, err := subscriber.SubscribeDefinitionInvalidation(ctx)
					if err == nil {
						invalidations = next
					}
				}
				s.reloadCache(ctx)
			case _, ok := <-invalidations:
				if !ok {
					next, err := subscriber.SubscribeDefinitionInvalidation(ctx)
					if err != nil {
						invalidations = nil
						continue
					}
					invalidations = next
					continue
				}
				if s.onInvalidation != nil {
					s.onInvalidation()
				}
				s.reloadCache(ctx)
			}
		}
	}()

	return nil
}

func (s *Service) reloadCache(ctx context.Context) {
	reloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheReloadTimeout)
	defer cancel()
	_ = s.LoadCache(reloadCtx)
}

// normalizeContext fills derived context fields before evaluation: the
// environment field mirrors the evaluated environment and currentTime
// defaults to wall-clock now so date constraints always have an anchor.
func normalizeContext(evalContext core.Context, environment string) core.Context {
	if evalContext.Environment == "" {
		evalContext.Environment = environment
	}
	if evalContext.CurrentTime == "" {
		evalContext.CurrentTime = time.Now().UTC().Format(time.RFC3339)
	}
	return evalContext
}

func decodeFeature(stored repository.Feature) (core.Feature, error) {
	feature := core.Feature{
		Name:    stored.Name,
		Project: stored.Project,
	}

	if len(stored.Environments) > 0 {
		if err := json.Unmarshal(stored.Environments, &feature.Environments); err != nil {
			return core.Feature{}, fmt.Errorf("%w: environments: %v", ErrInvalidDefinition, err)
		}
	}
	if len(stored.Strategies) > 0 {
		if err := json.Unmarshal(stored.Strategies, &feature.Strategies); err != nil {
			return core.Feature{}, fmt.Errorf("%w: strategies: %v", ErrInvalidDefinition, err)
		}
	}
	if len(stored.Variants) > 0 {
		if err := json.Unmarshal(stored.Variants, &feature.Variants); err != nil {
			return core.Feature{}, fmt.Errorf("%w: variants: %v", ErrInvalidDefinition, err)
		}
	}
	if len(stored.Dependencies) > 0 {
		if err := json.Unmarshal(stored.Dependencies, &feature.Dependencies); err != nil {
			return core.Feature{}, fmt.Errorf("%w: dependencies: %v", ErrInvalidDefinition, err)
		}
	}

	if err := validateVariants(feature.Variants); err != nil {
		return core.Feature{}, err
	}
	for _, strategy := range feature.Strategies {
		if err := validateVariants(strategy.Variants); err != nil {
			return core.Feature{}, err
		}
	}

	return feature, nil
}

func decodeSegment(stored repository.Segment) (core.Segment, error) {
	segment := core.Segment{
		ID:   stored.ID,
		Name: stored.Name,
	}
	if len(stored.Constraints) > 0 {
		if err := json.Unmarshal(stored.Constraints, &segment.Constraints); err != nil {
			return core.Segment{}, fmt.Errorf("%w: constraints: %v", ErrInvalidDefinition, err)
		}
	}
	return segment, nil
}

func validateVariants(variants []core.Variant) error {
	fixedTotal := 0
	for _, variant := range variants {
		if strings.TrimSpace(variant.Name) == "" {
			return fmt.Errorf("%w: variant name is required", ErrInvalidDefinition)
		}
		if variant.Weight < 0 || variant.Weight > variantWeightTotal {
			return fmt.Errorf("%w: variant %q weight %d out of range [0, %d]", ErrInvalidDefinition, variant.Name, variant.Weight, variantWeightTotal)
		}
		if variant.WeightType == core.WeightTypeFix {
			fixedTotal += variant.Weight
		}
	}
	if fixedTotal > variantWeightTotal {
		return fmt.Errorf("%w: fixed variant weights sum to %d, exceeding %d", ErrInvalidDefinition, fixedTotal, variantWeightTotal)
	}
	return nil
}
