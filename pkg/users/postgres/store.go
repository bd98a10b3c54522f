// Package postgres provides PostgreSQL storage for owner accounts.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/chatgate/chatgate/pkg/users"
)

// uniqueViolation is the PostgreSQL error code for unique-constraint breaks.
const uniqueViolation = "23505"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// userColumns lists columns returned by user SELECT queries.
var userColumns = []string{"id", "username", "password_hash", "api_key", "created_at"}

// Store implements users.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL account store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create persists a new account.
func (s *Store) Create(ctx context.Context, u *users.User) error {
	query := `
		INSERT INTO users (id, username, password_hash, api_key, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.PasswordHash, u.APIKey, u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return users.ErrUsernameTaken
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetByAPIKey returns the account holding apiKey, or nil.
func (s *Store) GetByAPIKey(ctx context.Context, apiKey string) (*users.User, error) {
	return s.getBy(ctx, sq.Eq{"api_key": apiKey})
}

// GetByUsername returns the account for username, or nil.
func (s *Store) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	return s.getBy(ctx, sq.Eq{"username": username})
}

// Close releases backend resources. The *sql.DB is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func (s *Store) getBy(ctx context.Context, pred sq.Eq) (*users.User, error) {
	query, args, err := psq.Select(userColumns...).From("users").Where(pred).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}

	var u users.User
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.APIKey, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user row: %w", err)
	}
	return &u, nil
}

// Verify interface compliance.
var _ users.Store = (*Store)(nil)
