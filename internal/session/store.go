package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ContextStore persists negotiated session contexts across process restarts.
type ContextStore interface {
	// Save writes the token and scoped context for a profile.
	Save(ctx context.Context, profile string, sc *Context) error
	// Load returns the persisted token and context. A missing profile
	// returns "" and nil without error. A token may come back with a nil
	// context when the stored context no longer parses.
	Load(ctx context.Context, profile string) (token string, sc *Context, err error)
	// Clear removes the persisted session for a profile.
	Clear(ctx context.Context, profile string) error
}

// Store is the PostgreSQL-backed ContextStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates a session store.
func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// EnsureSchema creates the session table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS clinic_sessions (
			profile    TEXT PRIMARY KEY,
			token      TEXT NOT NULL,
			context    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("session: ensure schema: %w", err)
	}
	return nil
}

// Save implements ContextStore.
func (s *Store) Save(ctx context.Context, profile string, sc *Context) error {
	payload, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("session: marshal context: %w", err)
	}

	query := `
		INSERT INTO clinic_sessions (profile, token, context, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (profile)
		DO UPDATE SET token = EXCLUDED.token, context = EXCLUDED.context, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, profile, sc.Token, payload); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Load implements ContextStore.
func (s *Store) Load(ctx context.Context, profile string) (string, *Context, error) {
	query := `SELECT token, context FROM clinic_sessions WHERE profile = $1`

	var token string
	var payload []byte
	err := s.pool.QueryRow(ctx, query, profile).Scan(&token, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("session: load: %w", err)
	}

	sc := &Context{}
	if err := json.Unmarshal(payload, sc); err != nil {
		s.logger.Warn("persisted session context failed to parse",
			zap.String("profile", profile), zap.Error(err))
		return token, nil, nil
	}
	return token, sc, nil
}

// Clear implements ContextStore.
func (s *Store) Clear(ctx context.Context, profile string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM clinic_sessions WHERE profile = $1`, profile); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}
