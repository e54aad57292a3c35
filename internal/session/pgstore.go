package session

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pitabwire/clubpulse/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PgStore is a PostgreSQL-backed Store. State is stored as JSONB next to an
// integer version column used for optimistic locking.
type PgStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool, ttl time.Duration) *PgStore {
	return &PgStore{pool: pool, ttl: ttl}
}

// Migrate applies the pending session schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate session schema: %w", err)
	}
	return nil
}

// Create inserts a new record.
func (s *PgStore) Create(ctx context.Context, rec Record) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO dashboard_sessions (id, owner_id, state, version, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.OwnerID, rec.State, rec.Version, now, now.Add(s.ttl),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf("session %q already exists", rec.ID))
	}
	return nil
}

// Get retrieves a live record.
func (s *PgStore) Get(ctx context.Context, ownerID, id string) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, state, version, created_at, updated_at, expires_at
		FROM dashboard_sessions
		WHERE id = $1 AND owner_id = $2 AND expires_at > now()`,
		id, ownerID,
	).Scan(&rec.ID, &rec.OwnerID, &rec.State, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, notFound(id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("query session: %w", err)
	}
	return rec, nil
}

// Update persists rec with optimistic locking.
func (s *PgStore) Update(ctx context.Context, rec Record) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE dashboard_sessions SET
			state = $1,
			version = version + 1,
			updated_at = $2,
			expires_at = $3
		WHERE id = $4 AND owner_id = $5 AND version = $6 AND expires_at > now()`,
		rec.State, now, now.Add(s.ttl), rec.ID, rec.OwnerID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, rec.OwnerID, rec.ID); err != nil {
			return err
		}
		return conflict(rec.ID, rec.Version)
	}
	return nil
}

// Delete removes a record.
func (s *PgStore) Delete(ctx context.Context, ownerID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dashboard_sessions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

// DeleteExpired removes records that expired before cutoff.
func (s *PgStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dashboard_sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// HealthCheck pings the pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
