package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/electrokart/electrokart/internal/platform/db"
)

// usersSchemaLock serialises schema creation across instances starting at once.
const usersSchemaLock = 72401

var usersSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_unique ON users (email)`,
}

const uniqueViolation = "23505"

// PGUserStore implements CredentialStore using PostgreSQL.
type PGUserStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGUserStore constructs a PostgreSQL user store.
func NewPGUserStore(pool *pgxpool.Pool, now func() time.Time) *PGUserStore {
	if now == nil {
		now = time.Now
	}
	return &PGUserStore{pool: pool, now: now}
}

// EnsureSchema creates the users table and its email index when missing.
func (s *PGUserStore) EnsureSchema(ctx context.Context) error {
	err := db.WithTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, usersSchemaLock); err != nil {
			return err
		}
		for _, stmt := range usersSchema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("auth: users schema: %w", err)
	}
	return nil
}

// Create inserts a new user row.
func (s *PGUserStore) Create(ctx context.Context, name, email, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("auth: insert user: %w", err)
	}
	return user, nil
}

// FindByEmail fetches a user by exact email.
func (s *PGUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanOne(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

// FindByID fetches a user by identifier.
func (s *PGUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.scanOne(ctx, `SELECT id, name, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (s *PGUserStore) scanOne(ctx context.Context, query string, arg string) (*User, error) {
	var (
		user User
		id   uuid.UUID
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(&id, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: find user: %w", err)
	}
	user.ID = id.String()
	return &user, nil
}

var _ CredentialStore = (*PGUserStore)(nil)
