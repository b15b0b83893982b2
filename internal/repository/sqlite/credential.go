package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/xid"

	"github.com/sakif/inkwell/internal/apperror"
	"github.com/sakif/inkwell/internal/repository"
)

var _ repository.CredentialRepository = (*DB)(nil)

// Credentials are identity-provider state, not content, so they publish no
// change events. Empty emails are stored as NULL to stay clear of UNIQUE.
const credentialColumns = `id, COALESCE(email, ''), password_hash, provider, COALESCE(subject, ''), display_name, created_at`

func scanCredential(row rowScanner, c *repository.Credential) error {
	return row.Scan(&c.ID, &c.Email, &c.PasswordHash, &c.Provider, &c.Subject, &c.DisplayName, ts(&c.CreatedAt))
}

func (db *DB) CreateCredential(ctx context.Context, c *repository.Credential) error {
	if c.ID == "" {
		c.ID = xid.New().String()
	}
	if c.Provider == "" {
		c.Provider = "password"
	}
	c.CreatedAt = now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO credentials (id, email, password_hash, provider, subject, display_name, created_at)
		 VALUES (?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), ?, ?)`,
		c.ID, c.Email, c.PasswordHash, c.Provider, c.Subject, c.DisplayName, dbTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", c.Email)
		}
		return storeErr("creating credential", err)
	}
	return nil
}

func (db *DB) GetCredentialByEmail(ctx context.Context, email string) (*repository.Credential, error) {
	var c repository.Credential
	err := scanCredential(db.conn.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE email = ?`, email), &c)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", email)
		}
		return nil, storeErr("getting credential by email", err)
	}
	return &c, nil
}

func (db *DB) GetCredentialByID(ctx context.Context, id string) (*repository.Credential, error) {
	var c repository.Credential
	err := scanCredential(db.conn.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id), &c)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", id)
		}
		return nil, storeErr("getting credential "+id, err)
	}
	return &c, nil
}

// UpsertExternalCredential links an external identity (provider, subject) to
// a credential row, creating it the first time and refreshing the display
// name afterwards. The internal ID never changes once assigned.
func (db *DB) UpsertExternalCredential(ctx context.Context, c *repository.Credential) (*repository.Credential, error) {
	var out repository.Credential
	err := scanCredential(db.conn.QueryRowContext(ctx,
		`INSERT INTO credentials (id, email, password_hash, provider, subject, display_name, created_at)
		 VALUES (?, NULLIF(?, ''), '', ?, ?, ?, ?)
		 ON CONFLICT (provider, subject) DO UPDATE
		 SET display_name = excluded.display_name
		 RETURNING `+credentialColumns,
		xid.New().String(), c.Email, c.Provider, c.Subject, c.DisplayName, dbTime(now()),
	), &out)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("account", c.Email)
		}
		return nil, storeErr("upserting external credential", err)
	}
	return &out, nil
}
