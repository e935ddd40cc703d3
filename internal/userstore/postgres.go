package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atinyakov/syncmanager/internal/models"
)

// Postgres implements the user store on top of a PostgreSQL database.
// The identities table is created by db.InitPostgres.
type Postgres struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgres creates a Postgres store with the given database connection.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

const identityColumns = `id, username, server_url, refresh_token, logged_in`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*models.Identity, error) {
	var u models.Identity
	err := row.Scan(&u.ID, &u.Username, &u.ServerURL, &u.RefreshToken, &u.LoggedIn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Put upserts user under key inside a transaction and returns the row it replaced.
func (p *Postgres) Put(ctx context.Context, key string, user models.Identity) (*models.Identity, error) {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := scanIdentity(tx.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE key = $1 FOR UPDATE`,
		key,
	))
	if err != nil {
		return nil, fmt.Errorf("select identity: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (key, id, username, server_url, refresh_token, logged_in)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE
		   SET id = EXCLUDED.id,
		       username = EXCLUDED.username,
		       server_url = EXCLUDED.server_url,
		       refresh_token = EXCLUDED.refresh_token,
		       logged_in = EXCLUDED.logged_in`,
		key, user.ID, user.Username, user.ServerURL, user.RefreshToken, user.LoggedIn,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return prev, nil
}

// Get returns the identity under key, or nil when there is none.
func (p *Postgres) Get(ctx context.Context, key string) (*models.Identity, error) {
	u, err := scanIdentity(p.DB.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE key = $1`,
		key,
	))
	if err != nil {
		return nil, fmt.Errorf("select identity: %w", err)
	}
	return u, nil
}

// Remove deletes the identity under key and returns it, or nil.
func (p *Postgres) Remove(ctx context.Context, key string) (*models.Identity, error) {
	u, err := scanIdentity(p.DB.QueryRowContext(ctx,
		`DELETE FROM identities WHERE key = $1 RETURNING `+identityColumns,
		key,
	))
	if err != nil {
		return nil, fmt.Errorf("delete identity: %w", err)
	}
	return u, nil
}

// All returns every identity ordered by id.
func (p *Postgres) All(ctx context.Context) ([]models.Identity, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		u, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// Clear deletes every identity.
func (p *Postgres) Clear(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, `DELETE FROM identities`); err != nil {
		return fmt.Errorf("clear identities: %w", err)
	}
	return nil
}
