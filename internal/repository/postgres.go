// Package repository provides PostgreSQL-backed persistence for feature
// definitions, segments, and API keys. Definition changes are announced over
// LISTEN/NOTIFY so the service layer can refresh its in-memory snapshot
// without polling.
package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const defaultNotifyChannel = "definition_events"

// Feature is the repository-level representation of a feature definition row.
// Strategies, variants, dependencies, and the per-environment enabled map are
// stored as JSONB; the service layer decodes them into engine types.
type Feature struct {
	Name         string          `json:"name"`
	Project      string          `json:"project"`
	Description  string          `json:"description"`
	Environments json.RawMessage `json:"environments"`
	Strategies   json.RawMessage `json:"strategies"`
	Variants     json.RawMessage `json:"variants"`
	Dependencies json.RawMessage `json:"dependencies"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Segment is the repository-level representation of a segment row.
type Segment struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Constraints json.RawMessage `json:"constraints"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// APIKey represents a stored API key record used for bearer-token
// authentication. Only the bcrypt hash of the secret is persisted.
type APIKey struct {
	ID        string     `json:"id"`
	Project   string     `json:"project"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"key_hash"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// PostgresRepository implements definition and API key persistence backed by
// a pgxpool connection pool, with LISTEN/NOTIFY snapshot invalidation.
type PostgresRepository struct {
	pool          *pgxpool.Pool
	notifyChannel string
}

// NewPostgresRepository creates a [PostgresRepository] using the default
// notification channel.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return NewPostgresRepositoryWithChannel(pool, defaultNotifyChannel)
}

// NewPostgresRepositoryWithChannel creates a [PostgresRepository] using the
// specified LISTEN/NOTIFY channel name.
func NewPostgresRepositoryWithChannel(pool *pgxpool.Pool, notifyChannel string) *PostgresRepository {
	return &PostgresRepository{
		pool:          pool,
		notifyChannel: normalizeNotifyChannel(notifyChannel),
	}
}

// UpsertFeature inserts or replaces a feature definition and returns the
// stored record with server-generated timestamps.
func (r *PostgresRepository) UpsertFeature(ctx context.Context, feature Feature) (Feature, error) {
	var stored Feature
	err := r.pool.QueryRow(ctx, `
		INSERT INTO features (name, project, description, environments, strategies, variants, dependencies)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE
		SET project = EXCLUDED.project,
		    description = EXCLUDED.description,
		    environments = EXCLUDED.environments,
		    strategies = EXCLUDED.strategies,
		    variants = EXCLUDED.variants,
		    dependencies = EXCLUDED.dependencies,
		    updated_at = NOW()
		RETURNING name, project, description, environments, strategies, variants, dependencies, created_at, updated_at
	`,
		feature.Name,
		feature.Project,
		feature.Description,
		ensureJSON(feature.Environments, "{}"),
		ensureJSON(feature.Strategies, "[]"),
		ensureJSON(feature.Variants, "[]"),
		ensureJSON(feature.Dependencies, "[]"),
	).Scan(
		&stored.Name,
		&stored.Project,
		&stored.Description,
		&stored.Environments,
		&stored.Strategies,
		&stored.Variants,
		&stored.Dependencies,
		&stored.CreatedAt,
		&stored.UpdatedAt,
	)
	if err != nil {
		return Feature{}, fmt.Errorf("upsert feature: %w", err)
	}

	return stored, r.notifyDefinitionChange(ctx, "feature", stored.Name)
}

// GetFeature retrieves a single feature definition by name. Returns
// pgx.ErrNoRows (wrapped) if not found.
func (r *PostgresRepository) GetFeature(ctx context.Context, name string) (Feature, error) {
	var feature Feature
	err := r.pool.QueryRow(ctx, `
		SELECT name, project, description, environments, strategies, variants, dependencies, created_at, updated_at
		FROM features
		WHERE name = $1
	`, name).Scan(
		&feature.Name,
		&feature.Project,
		&feature.Description,
		&feature.Environments,
		&feature.Strategies,
		&feature.Variants,
		&feature.Dependencies,
		&feature.CreatedAt,
		&feature.UpdatedAt,
	)
	if err != nil {
		return Feature{}, fmt.Errorf("get feature: %w", err)
	}

	return feature, nil
}

// ListFeatures returns all feature definitions ordered by project and name.
func (r *PostgresRepository) ListFeatures(ctx context.Context) ([]Feature, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, project, description, environments, strategies, variants, dependencies, created_at, updated_at
		FROM features
		ORDER BY project, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()

	features := make([]Feature, 0)
	for rows.Next() {
		var feature Feature
		if err := rows.Scan(
			&feature.Name,
			&feature.Project,
			&feature.Description,
			&feature.Environments,
			&feature.Strategies,
			&feature.Variants,
			&feature.Dependencies,
			&feature.CreatedAt,
			&feature.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feature: %w", err)
		}
		features = append(features, feature)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list features rows: %w", err)
	}

	return features, nil
}

// DeleteFeature removes a feature definition by name. Returns pgx.ErrNoRows
// (wrapped) if the feature does not exist.
func (r *PostgresRepository) DeleteFeature(ctx context.Context, name string) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM features WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete feature: %w", err)
	}
	if err := noRowsAffected(commandTag, "delete feature"); err != nil {
		return err
	}
	return r.notifyDefinitionChange(ctx, "feature", name)
}

// UpsertSegment inserts or replaces a segment and returns the stored record.
func (r *PostgresRepository) UpsertSegment(ctx context.Context, segment Segment) (Segment, error) {
	var stored Segment
	err := r.pool.QueryRow(ctx, `
		INSERT INTO segments (id, name, constraints)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    constraints = EXCLUDED.constraints,
		    updated_at = NOW()
		RETURNING id, name, constraints, created_at, updated_at
	`,
		segment.ID,
		segment.Name,
		ensureJSON(segment.Constraints, "[]"),
	).Scan(
		&stored.ID,
		&stored.Name,
		&stored.Constraints,
		&stored.CreatedAt,
		&stored.UpdatedAt,
	)
	if err != nil {
		return Segment{}, fmt.Errorf("upsert segment: %w", err)
	}

	return stored, r.notifyDefinitionChange(ctx, "segment", stored.Name)
}

// ListSegments returns all segments ordered by ID.
func (r *PostgresRepository) ListSegments(ctx context.Context) ([]Segment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, constraints, created_at, updated_at
		FROM segments
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	segments := make([]Segment, 0)
	for rows.Next() {
		var segment Segment
		if err := rows.Scan(
			&segment.ID,
			&segment.Name,
			&segment.Constraints,
			&segment.CreatedAt,
			&segment.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, segment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list segments rows: %w", err)
	}

	return segments, nil
}

// DeleteSegment removes a segment by ID. Returns pgx.ErrNoRows (wrapped) if
// the segment does not exist.
func (r *PostgresRepository) DeleteSegment(ctx context.Context, id int) error {
	commandTag, err := r.pool.Exec(ctx, `DELETE FROM segments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	if err := noRowsAffected(commandTag, "delete segment"); err != nil {
		return err
	}
	return r.notifyDefinitionChange(ctx, "segment", fmt.Sprintf("%d", id))
}

// ValidateAPIKey returns the stored hash and project for a non-revoked key
// ID. Callers do the bcrypt comparison outside this package.
func (r *PostgresRepository) ValidateAPIKey(ctx context.Context, id string) (string, string, error) {
	var keyHash string
	var project string
	if err := r.pool.QueryRow(ctx, `
		SELECT key_hash, project
		FROM api_keys
		WHERE id = $1
		  AND revoked_at IS NULL
	`, id).Scan(&keyHash, &project); err != nil {
		return "", "", fmt.Errorf("validate api key: %w", err)
	}

	return keyHash, project, nil
}

// CreateAPIKey generates a new API key for the given project, storing a
// bcrypt hash of the secret. The raw secret is returned exactly once; it
// cannot be retrieved later.
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, project string) (string, string, error) {
	keyID, err := generateRandomHex(16)
	if err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}

	secret, err := generateRandomHex(32)
	if err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, project, name, key_hash)
		VALUES ($1, $2, $3, $4)
	`, keyID, project, "api-key-"+keyID[:8], string(hash))
	if err != nil {
		return "", "", fmt.Errorf("create api key: %w", err)
	}

	return keyID, secret, nil
}

// RevokeAPIKey soft-deletes an API key by setting its revoked_at timestamp.
// Returns pgx.ErrNoRows (wrapped) if the key does not exist or is already
// revoked.
func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, keyID string) error {
	commandTag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, keyID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return noRowsAffected(commandTag, "revoke api key")
}

// SubscribeDefinitionInvalidation returns a channel that receives a signal
// whenever a definition change notification arrives on the PostgreSQL LISTEN
// channel. The channel is closed if the subscription is torn down.
func (r *PostgresRepository) SubscribeDefinitionInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for definition notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

func (r *PostgresRepository) notifyDefinitionChange(ctx context.Context, kind, name string) error {
	payload, err := json.Marshal(struct {
		Kind string `json:"kind"`
		Name string `json:"name"`
	}{Kind: kind, Name: name})
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}

	if _, err := r.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify definition change: %w", err)
	}
	return nil
}

func noRowsAffected(commandTag pgconn.CommandTag, operation string) error {
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", operation, pgx.ErrNoRows)
	}
	return nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}
	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}
	return input
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}

func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
