// Package redis provides Redis storage for session credentials using one
// hash per session. Hash field writes are atomic on the server, so
// concurrent SetKey and SetCredentials calls never lose updates; the meta
// field is read-modify-write and is serialized per session in-process.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatgate/chatgate/pkg/credstore"
)

const (
	// defaultKeyPrefix namespaces all store keys in Redis.
	defaultKeyPrefix = "chatgate:session:"

	// Reserved hash fields; key material uses the "k:" prefix to avoid
	// colliding with them.
	fieldCreds     = "_creds"
	fieldMeta      = "_meta"
	keyFieldPrefix = "k:"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "chatgate:session:".
	KeyPrefix string
}

// Store implements credstore.Store backed by Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string

	// mu guards locks; each session gets its own mutex serializing meta
	// updates so concurrent UpdateMeta and Touch calls never lose fields.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// storedMeta is the JSON structure of the _meta hash field.
type storedMeta struct {
	OwnerID      string    `json:"owner_id,omitempty"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// New creates a new Redis-backed credential store.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	return &Store{
		client:    cfg.Client,
		keyPrefix: cfg.KeyPrefix,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) redisKey(sessionID string) string {
	return s.keyPrefix + sessionID
}

// sessionLock returns the meta-write mutex for a session, creating it if
// needed.
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// Load retrieves the record for a session, creating an empty one if absent.
func (s *Store) Load(ctx context.Context, sessionID string) (*credstore.Record, error) {
	now := time.Now()
	meta := storedMeta{CreatedAt: now, LastActiveAt: now}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling session meta: %w", err)
	}

	// HSETNX creates the meta field only when the session is new.
	if err := s.client.HSetNX(ctx, s.redisKey(sessionID), fieldMeta, data).Err(); err != nil {
		return nil, fmt.Errorf("ensuring session hash: %w", err)
	}

	fields, err := s.client.HGetAll(ctx, s.redisKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session hash: %w", err)
	}

	return recordFromFields(sessionID, fields)
}

// UpdateMeta sets the owner and phone number on a session's record.
func (s *Store) UpdateMeta(ctx context.Context, sessionID, ownerID, phoneNumber string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.readMeta(ctx, sessionID)
	if err != nil {
		return err
	}
	meta.OwnerID = ownerID
	meta.PhoneNumber = phoneNumber
	return s.writeMeta(ctx, sessionID, meta)
}

// GetCredentials returns the credential blob, or nil if unset.
func (s *Store) GetCredentials(ctx context.Context, sessionID string) ([]byte, error) {
	val, err := s.client.HGet(ctx, s.redisKey(sessionID), fieldCreds).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials field: %w", err)
	}
	return val, nil
}

// SetCredentials overwrites the credential blob.
func (s *Store) SetCredentials(ctx context.Context, sessionID string, creds []byte) error {
	if err := s.client.HSet(ctx, s.redisKey(sessionID), fieldCreds, creds).Err(); err != nil {
		return fmt.Errorf("writing credentials field: %w", err)
	}
	return s.Touch(ctx, sessionID)
}

// GetKey returns the value stored under key, or nil if unset.
func (s *Store) GetKey(ctx context.Context, sessionID, key string) ([]byte, error) {
	val, err := s.client.HGet(ctx, s.redisKey(sessionID), keyFieldPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading key field: %w", err)
	}
	return val, nil
}

// SetKey stores value under key. A nil value removes the hash field.
func (s *Store) SetKey(ctx context.Context, sessionID, key string, value []byte) error {
	field := keyFieldPrefix + key
	if value == nil {
		if err := s.client.HDel(ctx, s.redisKey(sessionID), field).Err(); err != nil {
			return fmt.Errorf("deleting key field: %w", err)
		}
		return nil
	}
	if err := s.client.HSet(ctx, s.redisKey(sessionID), field, value).Err(); err != nil {
		return fmt.Errorf("writing key field: %w", err)
	}
	return nil
}

// Touch refreshes the record's LastActiveAt timestamp.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.readMeta(ctx, sessionID)
	if err != nil {
		return err
	}
	meta.LastActiveAt = time.Now()
	return s.writeMeta(ctx, sessionID, meta)
}

// List returns records scoped to ownerID, or all records when ownerID is
// empty. It scans the key prefix; listed records carry metadata and
// credentials only.
func (s *Store) List(ctx context.Context, ownerID string) ([]*credstore.Record, error) {
	var records []*credstore.Record

	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		sessionID := iter.Val()[len(s.keyPrefix):]
		fields, err := s.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("reading session hash: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromFields(sessionID, fields)
		if err != nil {
			return nil, err
		}
		if ownerID != "" && rec.OwnerID != ownerID {
			continue
		}
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning sessions: %w", err)
	}
	return records, nil
}

// Delete removes the session hash.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting session hash: %w", err)
	}
	return nil
}

// Close releases backend resources. The redis client is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func (s *Store) readMeta(ctx context.Context, sessionID string) (*storedMeta, error) {
	data, err := s.client.HGet(ctx, s.redisKey(sessionID), fieldMeta).Bytes()
	if errors.Is(err, redis.Nil) {
		now := time.Now()
		return &storedMeta{CreatedAt: now, LastActiveAt: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading meta field: %w", err)
	}
	var meta storedMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing session meta: %w", err)
	}
	return &meta, nil
}

func (s *Store) writeMeta(ctx context.Context, sessionID string, meta *storedMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling session meta: %w", err)
	}
	if err := s.client.HSet(ctx, s.redisKey(sessionID), fieldMeta, data).Err(); err != nil {
		return fmt.Errorf("writing meta field: %w", err)
	}
	return nil
}

// recordFromFields assembles a Record from a session hash.
func recordFromFields(sessionID string, fields map[string]string) (*credstore.Record, error) {
	rec := &credstore.Record{
		SessionID: sessionID,
		Keys:      make(map[string][]byte),
	}
	for field, val := range fields {
		switch {
		case field == fieldMeta:
			var meta storedMeta
			if err := json.Unmarshal([]byte(val), &meta); err != nil {
				return nil, fmt.Errorf("parsing session meta: %w", err)
			}
			rec.OwnerID = meta.OwnerID
			rec.PhoneNumber = meta.PhoneNumber
			rec.CreatedAt = meta.CreatedAt
			rec.LastActiveAt = meta.LastActiveAt
		case field == fieldCreds:
			rec.Credentials = []byte(val)
		case len(field) > len(keyFieldPrefix) && field[:len(keyFieldPrefix)] == keyFieldPrefix:
			rec.Keys[field[len(keyFieldPrefix):]] = []byte(val)
		}
	}
	return rec, nil
}

// Verify interface compliance.
var _ credstore.Store = (*Store)(nil)
