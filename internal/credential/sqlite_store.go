package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// credentialRowID is the primary key of the single credential row.
const credentialRowID = 1

// SQLiteStore keeps the credential as one row of the credentials table.
//
// The table is created by the bridge migrations. Save is a single upsert
// inside a transaction, so a crash leaves the previous row intact.
type SQLiteStore struct {
	db *sql.DB

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger used to report unusable rows.
func (s *SQLiteStore) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *SQLiteStore) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (Credential, bool) {
	var (
		cred             Credential
		kind, obtainedAt string
		expiresAt        sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT token, account_id, kind, obtained_at, expires_at FROM credentials WHERE id = ?`,
		credentialRowID,
	).Scan(&cred.Token, &cred.AccountID, &kind, &obtainedAt, &expiresAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.getLogger().Warn("ignoring unusable credential row", "error", err)
		}
		return Credential{}, false
	}

	cred.Kind = Kind(kind)
	if cred.ObtainedAt, err = time.Parse(time.RFC3339Nano, obtainedAt); err != nil {
		s.getLogger().Warn("ignoring unusable credential row", "error", fmt.Errorf("%w: obtained_at: %w", ErrMalformed, err))
		return Credential{}, false
	}
	if expiresAt.Valid && expiresAt.String != "" {
		if cred.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt.String); err != nil {
			s.getLogger().Warn("ignoring unusable credential row", "error", fmt.Errorf("%w: expires_at: %w", ErrMalformed, err))
			return Credential{}, false
		}
	}
	if !cred.Valid() {
		s.getLogger().Warn("ignoring unusable credential row", "error", ErrMalformed)
		return Credential{}, false
	}

	return cred, true
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, cred Credential) error {
	if !cred.Valid() {
		return ErrInvalidCredential
	}

	var expiresAt sql.NullString
	if !cred.ExpiresAt.IsZero() {
		expiresAt = sql.NullString{String: cred.ExpiresAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credentials (id, token, account_id, kind, obtained_at, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			account_id = excluded.account_id,
			kind = excluded.kind,
			obtained_at = excluded.obtained_at,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		credentialRowID, cred.Token, cred.AccountID, string(cred.Kind),
		cred.ObtainedAt.UTC().Format(time.RFC3339Nano), expiresAt,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing credential: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, credentialRowID); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	return nil
}
