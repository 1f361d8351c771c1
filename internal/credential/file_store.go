package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
)

// File permission constants.
const (
	// dirPermissions is the permission mode for a created cache directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the cache file.
	filePermissions = 0600

	// maxCacheSize bounds what Load will read.
	maxCacheSize = 64 << 10
)

// FileStore keeps the credential in a single JSON file.
//
// Save writes a temporary file next to the target, syncs it and renames it
// over the target, so a crash mid-write leaves either the old file or the
// new one, never a torn record. When a passphrase is configured the JSON is
// encrypted with age (scrypt).
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type FileStore struct {
	path       string
	passphrase string

	// workFactor overrides age's scrypt cost (log2 N). Zero keeps age's default.
	workFactor int

	mu       sync.Mutex
	logger   Logger
	loggerMu sync.RWMutex
}

// NewFileStore creates a store backed by path. An empty passphrase stores
// plaintext JSON.
func NewFileStore(path, passphrase string) *FileStore {
	return &FileStore{
		path:       path,
		passphrase: passphrase,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger used to report unusable cache files.
func (s *FileStore) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *FileStore) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Path returns the cache file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.read()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.getLogger().Warn("ignoring unusable credential cache", "path", s.path, "error", err)
		}
		return Credential{}, false
	}
	return cred, true
}

func (s *FileStore) read() (Credential, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return Credential{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxCacheSize))
	if err != nil {
		return Credential{}, fmt.Errorf("reading cache: %w", err)
	}

	if s.passphrase != "" {
		data, err = s.decrypt(data)
		if err != nil {
			return Credential{}, err
		}
	}

	return decodeRecord(data)
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, cred Credential) error {
	if !cred.Valid() {
		return ErrInvalidCredential
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	if s.passphrase != "" {
		data, err = s.encrypt(data)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return writeAtomic(s.path, data)
}

// Clear implements Store.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing credential cache: %w", err)
	}
	return nil
}

func (s *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating age recipient: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting credential: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *FileStore) decrypt(ciphertext []byte) ([]byte, error) {
	identity, err := age.NewScryptIdentity(s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating age identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting: %w", ErrMalformed, err)
	}
	plaintext, err := io.ReadAll(io.LimitReader(r, maxCacheSize))
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting: %w", ErrMalformed, err)
	}
	return plaintext, nil
}

// writeAtomic replaces path with data via a synced temporary file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName) //nolint:errcheck // best-effort cleanup
		}
	}()

	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close()
		return fmt.Errorf("setting cache permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing credential cache: %w", err)
	}
	committed = true

	// Persist the rename itself. Not every platform can sync a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync() //nolint:errcheck // best effort
		d.Close()
	}
	return nil
}

// legacyRecord is the cache layout written by earlier releases:
// {"access_token": "Token abc…", "idUser": 12345}.
type legacyRecord struct {
	AccessToken string          `json:"access_token"`
	IDUser      json.RawMessage `json:"idUser"`
}

func decodeRecord(data []byte) (Credential, error) {
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if cred.Token == "" {
		if legacy, ok := decodeLegacy(data); ok {
			cred = legacy
		}
	}
	if !cred.Valid() {
		return Credential{}, fmt.Errorf("%w: missing fields", ErrMalformed)
	}
	return cred, nil
}

func decodeLegacy(data []byte) (Credential, bool) {
	var rec legacyRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.AccessToken == "" || len(rec.IDUser) == 0 {
		return Credential{}, false
	}

	kind := KindAccess
	token := rec.AccessToken
	switch {
	case strings.HasPrefix(token, "Token "):
		token = strings.TrimPrefix(token, "Token ")
	case strings.HasPrefix(token, "Bearer "):
		kind = KindBearer
		token = strings.TrimPrefix(token, "Bearer ")
	}

	return Credential{
		Token:     token,
		AccountID: strings.Trim(string(rec.IDUser), `"`),
		Kind:      kind,
	}, true
}
