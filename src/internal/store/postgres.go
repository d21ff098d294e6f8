package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/eveningwater/github-issue-search/src/internal/model"

	"go.uber.org/zap"
)

// Keys of the persisted session layout. Token and user survive
// restarts; the OAuth state nonce lives only for one login round-trip.
const (
	KeyToken      = "token"
	KeyUser       = "user"
	KeyOAuthState = "oauth_state"
)

// Store is a string key-value store for session artifacts. Get returns
// model.ErrNotFound when the key is absent.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type SessionStore struct {
	DB  *sql.DB
	Log *zap.Logger
}

func NewSessionStore(db *sql.DB, logger *zap.Logger) *SessionStore {
	return &SessionStore{DB: db, Log: logger}
}

func (s *SessionStore) Get(ctx context.Context, key string) (string, error) {
	s.Log.Debug("Get: start", zap.String("key", key))
	var value string
	if err := s.DB.QueryRowContext(ctx, `SELECT value FROM session_store WHERE key=$1`, key).
		Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.Log.Debug("Get: not found", zap.String("key", key))
			return "", model.ErrNotFound
		}
		s.Log.Error("Get: query failed", zap.Error(err))
		return "", err
	}
	return value, nil
}

func (s *SessionStore) Set(ctx context.Context, key, value string) error {
	s.Log.Debug("Set: start", zap.String("key", key))
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO session_store (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`,
		key, value)
	if err != nil {
		s.Log.Error("Set: upsert failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, key string) error {
	s.Log.Debug("Delete: start", zap.String("key", key))
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM session_store WHERE key=$1`, key); err != nil {
		s.Log.Error("Delete: failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}
