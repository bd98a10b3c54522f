package credstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	credsFileName = "creds.json"
	metaFileName  = "meta.json"
	keyFileSuffix = ".key"

	storeDirPerm  = 0o700
	storeFilePerm = 0o600
)

// FileStore implements Store using a directory tree: one directory per
// session with the credential blob and each key as individual files. The
// layout mirrors how protocol clients persist multi-file auth state.
type FileStore struct {
	root string

	// mu guards locks; each session gets its own mutex so writes to one
	// session never block another.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// fileMeta is the JSON structure of a session's meta file.
type fileMeta struct {
	OwnerID      string    `json:"owner_id,omitempty"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// NewFileStore creates a filesystem-backed credential store rooted at root.
// The root directory is created if it does not exist.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("file store root is required")
	}
	if err := os.MkdirAll(root, storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &FileStore{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// sessionLock returns the write mutex for a session, creating it if needed.
func (s *FileStore) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *FileStore) sessionDir(sessionID string) string {
	// Session IDs are caller-chosen; encode them so they cannot escape the
	// store root or collide after case folding.
	return filepath.Join(s.root, encodeName(sessionID))
}

// Load retrieves the record for a session, creating an empty one if absent.
func (s *FileStore) Load(ctx context.Context, sessionID string) (*Record, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(sessionID)
	meta, err := s.readMeta(dir)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		now := time.Now()
		meta = &fileMeta{CreatedAt: now, LastActiveAt: now}
		if err := os.MkdirAll(dir, storeDirPerm); err != nil {
			return nil, fmt.Errorf("creating session dir: %w", err)
		}
		if err := s.writeMeta(dir, meta); err != nil {
			return nil, err
		}
	}

	rec := &Record{
		SessionID:    sessionID,
		OwnerID:      meta.OwnerID,
		PhoneNumber:  meta.PhoneNumber,
		Keys:         make(map[string][]byte),
		CreatedAt:    meta.CreatedAt,
		LastActiveAt: meta.LastActiveAt,
	}

	creds, err := readFileIfExists(filepath.Join(dir, credsFileName))
	if err != nil {
		return nil, err
	}
	rec.Credentials = creds

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading session dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, keyFileSuffix) {
			continue
		}
		key, err := decodeName(strings.TrimSuffix(name, keyFileSuffix))
		if err != nil {
			continue
		}
		val, err := readFileIfExists(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if val != nil {
			rec.Keys[key] = val
		}
	}

	return rec, nil
}

// UpdateMeta sets the owner and phone number on a session's record.
func (s *FileStore) UpdateMeta(ctx context.Context, sessionID, ownerID, phoneNumber string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(sessionID)
	meta, err := s.ensureMeta(dir)
	if err != nil {
		return err
	}
	meta.OwnerID = ownerID
	meta.PhoneNumber = phoneNumber
	return s.writeMeta(dir, meta)
}

// GetCredentials returns the credential blob, or nil if unset.
func (s *FileStore) GetCredentials(_ context.Context, sessionID string) ([]byte, error) {
	return readFileIfExists(filepath.Join(s.sessionDir(sessionID), credsFileName))
}

// SetCredentials overwrites the credential blob.
func (s *FileStore) SetCredentials(ctx context.Context, sessionID string, creds []byte) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(sessionID)
	meta, err := s.ensureMeta(dir)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, credsFileName), creds); err != nil {
		return err
	}
	meta.LastActiveAt = time.Now()
	return s.writeMeta(dir, meta)
}

// GetKey returns the value stored under key, or nil if unset.
func (s *FileStore) GetKey(_ context.Context, sessionID, key string) ([]byte, error) {
	name := encodeName(key) + keyFileSuffix
	return readFileIfExists(filepath.Join(s.sessionDir(sessionID), name))
}

// SetKey stores value under key. A nil value removes the key file.
func (s *FileStore) SetKey(ctx context.Context, sessionID, key string, value []byte) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(sessionID)
	if _, err := s.ensureMeta(dir); err != nil {
		return err
	}

	path := filepath.Join(dir, encodeName(key)+keyFileSuffix)
	if value == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing key file: %w", err)
		}
		return nil
	}
	return writeFileAtomic(path, value)
}

// Touch refreshes the record's LastActiveAt timestamp.
func (s *FileStore) Touch(ctx context.Context, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := s.sessionDir(sessionID)
	meta, err := s.readMeta(dir)
	if err != nil || meta == nil {
		return err
	}
	meta.LastActiveAt = time.Now()
	return s.writeMeta(dir, meta)
}

// List returns records scoped to ownerID, or all records when ownerID is empty.
// Listed records carry metadata and credentials only; key material is loaded
// on demand via Load.
func (s *FileStore) List(ctx context.Context, ownerID string) ([]*Record, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading store root: %w", err)
	}

	var result []*Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sessionID, err := decodeName(entry.Name())
		if err != nil {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		meta, err := s.readMeta(dir)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			continue
		}
		if ownerID != "" && meta.OwnerID != ownerID {
			continue
		}
		creds, err := readFileIfExists(filepath.Join(dir, credsFileName))
		if err != nil {
			return nil, err
		}
		result = append(result, &Record{
			SessionID:    sessionID,
			OwnerID:      meta.OwnerID,
			PhoneNumber:  meta.PhoneNumber,
			Credentials:  creds,
			Keys:         make(map[string][]byte),
			CreatedAt:    meta.CreatedAt,
			LastActiveAt: meta.LastActiveAt,
		})
	}
	return result, nil
}

// Delete removes the session directory and all files in it.
func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("removing session dir: %w", err)
	}

	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()
	return nil
}

// Close releases backend resources. It is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

// ensureMeta reads the session meta file, creating the directory and an
// empty meta file if the session does not exist yet.
func (s *FileStore) ensureMeta(dir string) (*fileMeta, error) {
	meta, err := s.readMeta(dir)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		now := time.Now()
		meta = &fileMeta{CreatedAt: now, LastActiveAt: now}
		if err := os.MkdirAll(dir, storeDirPerm); err != nil {
			return nil, fmt.Errorf("creating session dir: %w", err)
		}
		if err := s.writeMeta(dir, meta); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

func (s *FileStore) readMeta(dir string) (*fileMeta, error) {
	data, err := readFileIfExists(filepath.Join(dir, metaFileName))
	if err != nil || data == nil {
		return nil, err
	}
	var meta fileMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing session meta: %w", err)
	}
	return &meta, nil
}

func (s *FileStore) writeMeta(dir string, meta *fileMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling session meta: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, metaFileName), data)
}

// readFileIfExists reads a file, returning nil with no error if absent.
func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- paths are built from encoded names under the store root
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// writeFileAtomic writes data via a temp file and rename so concurrent
// readers never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(storeFilePerm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("setting temp file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// encodeName makes an arbitrary identifier safe to use as a file name.
func encodeName(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

// decodeName reverses encodeName.
func decodeName(name string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", fmt.Errorf("decoding name: %w", err)
	}
	return string(b), nil
}

// Verify interface compliance.
var _ Store = (*FileStore)(nil)
