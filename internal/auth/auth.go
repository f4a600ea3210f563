// Package auth implements spec.md §4.10's AuthBackend collaborator
// against the `user(username, password)` table from
// original_source/code/http/httprequest.cpp's UserVerify, replacing the
// source's hand-rolled semaphore connection pool
// (original_source/code/pool/sqlconnpool.h) with database/sql's own
// pool, bounded by Config.ConnPoolSize via SetMaxOpenConns.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/yourusername/voltaic/internal/config"
)

// Backend is the credential-check/registration contract spec.md §4.10
// defines. Verify with isLogin=true checks an existing username/password
// pair; isLogin=false attempts to register a new user, succeeding only
// when the username is unused and the insert commits.
type Backend interface {
	Verify(ctx context.Context, username, password string, isLogin bool) (bool, error)
}

// MySQLBackend is the production Backend, backed by database/sql.
type MySQLBackend struct {
	db *sql.DB
}

// NewMySQLBackend opens a pooled connection to cfg's database, capping
// open connections at cfg.ConnPoolSize.
func NewMySQLBackend(cfg config.SQLConfig) (*MySQLBackend, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("auth: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.ConnPoolSize)
	db.SetMaxIdleConns(cfg.ConnPoolSize)
	return &MySQLBackend{db: db}, nil
}

// Close releases the pool's connections.
func (b *MySQLBackend) Close() error {
	return b.db.Close()
}

// Verify implements Backend. Unlike the source, which sets its success
// flag unconditionally after issuing the INSERT (spec §9's "must
// correctly report failure" open question), registration here only
// reports success when the INSERT actually affects a row.
func (b *MySQLBackend) Verify(ctx context.Context, username, password string, isLogin bool) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}

	var existing string
	err := b.db.QueryRowContext(ctx,
		"SELECT password FROM user WHERE username = ? LIMIT 1", username,
	).Scan(&existing)

	switch {
	case err == nil:
		// A row exists.
		if isLogin {
			return existing == password, nil
		}
		// Registering an already-used name always fails.
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		if isLogin {
			return false, nil
		}
		res, err := b.db.ExecContext(ctx,
			"INSERT INTO user(username, password) VALUES (?, ?)", username, password,
		)
		if err != nil {
			return false, nil
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, nil
		}
		return n > 0, nil
	default:
		return false, fmt.Errorf("auth: query user: %w", err)
	}
}

// FakeBackend is an in-memory Backend for tests, holding its registered
// users in a plain map.
type FakeBackend struct {
	users map[string]string
}

// NewFakeBackend returns a FakeBackend pre-seeded with users.
func NewFakeBackend(users map[string]string) *FakeBackend {
	seed := make(map[string]string, len(users))
	for k, v := range users {
		seed[k] = v
	}
	return &FakeBackend{users: seed}
}

// Verify implements Backend.
func (b *FakeBackend) Verify(_ context.Context, username, password string, isLogin bool) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}
	existing, ok := b.users[username]
	if isLogin {
		return ok && existing == password, nil
	}
	if ok {
		return false, nil
	}
	b.users[username] = password
	return true, nil
}
