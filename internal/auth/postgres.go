/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
)

// PostgresStore keeps accounts in a PostgreSQL table.
//
// The pool is closed by Close only when the store opened it itself.
type PostgresStore struct {
	pool     *pgxpool.Pool
	schema   string
	ownsPool bool
	logger   *logging.Logger
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the accounts table (default "chatrelay").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("auth: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("auth: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "chatrelay",
		logger: logging.NewLogger("auth"),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("auth: nil pool")
	}
	return st, nil
}

// OpenPostgres connects to cfg.URL, creates the accounts table if needed and
// returns a store that owns the pool.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	var opts []PostgresOption
	if cfg.Schema != "" {
		opts = append(opts, WithSchema(cfg.Schema))
	}
	st, err := NewPostgresStore(pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	st.ownsPool = true

	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	st.logger.Info("Connected to credential database", "schema", st.schema)
	return st, nil
}

// EnsureSchema creates the schema and accounts table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;
CREATE TABLE IF NOT EXISTS %s (
  username      TEXT PRIMARY KEY,
  password_hash TEXT NOT NULL,
  created_at    TIMESTAMPTZ NOT NULL
);`, pgx.Identifier{s.schema}.Sanitize(), s.table())

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}
	return nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "accounts"}.Sanitize()
}

// Exists implements CredentialStore.
func (s *PostgresStore) Exists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table()+` WHERE username = $1)`,
		username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup account: %w", err)
	}
	return exists, nil
}

// Create implements CredentialStore.
func (s *PostgresStore) Create(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (username, password_hash, created_at) VALUES ($1, $2, $3)`,
		username, hash, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrUserExists, username)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Verify implements CredentialStore.
func (s *PostgresStore) Verify(ctx context.Context, username, password string) error {
	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash FROM `+s.table()+` WHERE username = $1`,
		username,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("lookup account: %w", err)
	}
	return CheckPassword(hash, password)
}

// Ping checks database reachability.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements CredentialStore.
func (s *PostgresStore) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
