// Package postgres provides PostgreSQL storage for session credentials.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/chatgate/chatgate/pkg/credstore"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"session_id", "owner_id", "phone_number", "credentials",
	"created_at", "last_active_at",
}

// Store implements credstore.Store using PostgreSQL. Key material lives in a
// separate session_keys table so concurrent SetKey calls update independent
// rows instead of racing on one document.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL credential store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load retrieves the record for a session, creating an empty one if absent.
func (s *Store) Load(ctx context.Context, sessionID string) (*credstore.Record, error) {
	now := time.Now()
	query := `
		INSERT INTO sessions (session_id, owner_id, phone_number, created_at, last_active_at)
		VALUES ($1, '', '', $2, $2)
		ON CONFLICT (session_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, now); err != nil {
		return nil, fmt.Errorf("ensuring session row: %w", err)
	}

	rec, err := s.getRecord(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("session row vanished after insert: %s", sessionID)
	}

	sqlQuery, args, err := psq.Select("key", "value").
		From("session_keys").
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building key query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying session keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning session key: %w", err)
		}
		rec.Keys[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session keys: %w", err)
	}

	return rec, nil
}

// UpdateMeta sets the owner and phone number on a session's record.
func (s *Store) UpdateMeta(ctx context.Context, sessionID, ownerID, phoneNumber string) error {
	query := `
		UPDATE sessions
		SET owner_id = $2, phone_number = $3
		WHERE session_id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, ownerID, phoneNumber); err != nil {
		return fmt.Errorf("updating session meta: %w", err)
	}
	return nil
}

// GetCredentials returns the credential blob, or nil if unset.
func (s *Store) GetCredentials(ctx context.Context, sessionID string) ([]byte, error) {
	query := `SELECT credentials FROM sessions WHERE session_id = $1`
	var creds []byte
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&creds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	return creds, nil
}

// SetCredentials overwrites the credential blob. The single-row UPDATE is
// atomic with respect to concurrent reads.
func (s *Store) SetCredentials(ctx context.Context, sessionID string, creds []byte) error {
	query := `
		UPDATE sessions
		SET credentials = $2, last_active_at = NOW()
		WHERE session_id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, creds); err != nil {
		return fmt.Errorf("updating credentials: %w", err)
	}
	return nil
}

// GetKey returns the value stored under key, or nil if unset.
func (s *Store) GetKey(ctx context.Context, sessionID, key string) ([]byte, error) {
	query := `SELECT value FROM session_keys WHERE session_id = $1 AND key = $2`
	var value []byte
	err := s.db.QueryRowContext(ctx, query, sessionID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session key: %w", err)
	}
	return value, nil
}

// SetKey stores value under key. A nil value removes the key row.
func (s *Store) SetKey(ctx context.Context, sessionID, key string, value []byte) error {
	if value == nil {
		query := `DELETE FROM session_keys WHERE session_id = $1 AND key = $2`
		if _, err := s.db.ExecContext(ctx, query, sessionID, key); err != nil {
			return fmt.Errorf("deleting session key: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO session_keys (session_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, key, value); err != nil {
		return fmt.Errorf("upserting session key: %w", err)
	}
	return nil
}

// Touch refreshes the record's LastActiveAt timestamp.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	query := `UPDATE sessions SET last_active_at = NOW() WHERE session_id = $1`
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// List returns records scoped to ownerID, or all records when ownerID is
// empty. Listed records carry metadata and credentials only; key material is
// loaded on demand via Load.
func (s *Store) List(ctx context.Context, ownerID string) ([]*credstore.Record, error) {
	qb := psq.Select(sessionColumns...).From("sessions").OrderBy("created_at")
	if ownerID != "" {
		qb = qb.Where(sq.Eq{"owner_id": ownerID})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*credstore.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return records, nil
}

// Delete removes the record. Key rows cascade with the session row.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	query := `DELETE FROM sessions WHERE session_id = $1`
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Close releases backend resources. The *sql.DB is owned by the caller.
func (s *Store) Close() error {
	return nil
}

// getRecord fetches a single session row, returning nil if absent.
func (s *Store) getRecord(ctx context.Context, sessionID string) (*credstore.Record, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*credstore.Record, error) {
	var rec credstore.Record
	err := row.Scan(
		&rec.SessionID, &rec.OwnerID, &rec.PhoneNumber, &rec.Credentials,
		&rec.CreatedAt, &rec.LastActiveAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session row: %w", err)
	}
	rec.Keys = make(map[string][]byte)
	return &rec, nil
}

// Verify interface compliance.
var _ credstore.Store = (*Store)(nil)
