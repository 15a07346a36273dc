/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/jackal-im/presenced/log"
	"github.com/jackal-im/presenced/storage/repository"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pkg/errors"
)

// Dialect identifies the SQL flavour spoken by the underlying database.
type Dialect string

const (
	// MySQL dialect.
	MySQL Dialect = "mysql"

	// PgSQL dialect.
	PgSQL Dialect = "pgsql"

	// SQLite dialect.
	SQLite Dialect = "sqlite"
)

const pingInterval = time.Second * 15

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    username              TEXT PRIMARY KEY,
    password              TEXT NOT NULL DEFAULT '',
    salt                  BLOB,
    iteration_count       INTEGER NOT NULL DEFAULT 0,
    password_scram_sha1   BLOB,
    password_scram_sha256 BLOB,
    updated_at            DATETIME NOT NULL,
    created_at            DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS roster_items (
    username       TEXT NOT NULL,
    jid            TEXT NOT NULL,
    name           TEXT NOT NULL DEFAULT '',
    contact_groups TEXT NOT NULL DEFAULT '',
    subscription   TEXT NOT NULL,
    ask            TEXT NOT NULL DEFAULT '',
    recv           TEXT NOT NULL DEFAULT '',
    updated_at     DATETIME NOT NULL,
    created_at     DATETIME NOT NULL,
    PRIMARY KEY (username, jid)
);
`

type rowScanner interface {
	Scan(...interface{}) error
}

type rowsScanner interface {
	rowScanner
	Next() bool
}

// Config represents SQL storage configuration.
type Config struct {
	Dialect  Dialect
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

func (cfg *Config) driverAndDSN() (string, string, error) {
	switch cfg.Dialect {
	case MySQL:
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Database), nil
	case PgSQL:
		sslMode := cfg.SSLMode
		if len(sslMode) == 0 {
			sslMode = "disable"
		}
		return "postgres", fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s", cfg.User, cfg.Password, cfg.Host, cfg.Database, sslMode), nil
	case SQLite:
		return "sqlite3", cfg.Path, nil
	}
	return "", "", fmt.Errorf("sql: unrecognized dialect: %s", cfg.Dialect)
}

// Storage represents a SQL storage sub system.
type Storage struct {
	db      *sql.DB
	dialect Dialect
	user    *sqlUser
	roster  *sqlRoster
	doneCh  chan chan bool
}

// New opens a SQL database and returns its associated repository container.
func New(cfg *Config) (*Storage, error) {
	driver, dsn, err := cfg.driverAndDSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sql: failed to open %s database", cfg.Dialect)
	}
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize) // set max opened connection count
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "sql: failed to connect to %s database", cfg.Dialect)
	}
	if cfg.Dialect == SQLite {
		if _, err := db.Exec(sqliteSchema); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "sql: failed to create sqlite schema")
		}
	}
	s := newStorage(db, cfg.Dialect)
	s.doneCh = make(chan chan bool, 1)
	go s.loop()
	return s, nil
}

func newStorage(db *sql.DB, dialect Dialect) *Storage {
	s := &Storage{db: db, dialect: dialect}
	s.user = &sqlUser{Storage: s}
	s.roster = &sqlRoster{Storage: s}
	return s
}

// User returns the SQL user repository.
func (s *Storage) User() repository.User { return s.user }

// Roster returns the SQL roster repository.
func (s *Storage) Roster() repository.Roster { return s.roster }

// IsClusterCompatible returns whether or not the underlying storage subsystem can be used in cluster mode.
func (s *Storage) IsClusterCompatible() bool { return s.dialect != SQLite }

// Close shuts down SQL storage sub system.
func (s *Storage) Close(ctx context.Context) error {
	if s.doneCh == nil {
		return s.db.Close()
	}
	ch := make(chan bool)
	s.doneCh <- ch
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Storage) loop() {
	tc := time.NewTicker(pingInterval)
	defer tc.Stop()

	for {
		select {
		case <-tc.C:
			if err := s.db.Ping(); err != nil {
				log.Error(err)
			}
		case ch := <-s.doneCh:
			if err := s.db.Close(); err != nil {
				log.Error(err)
			}
			close(ch)
			return
		}
	}
}

func (s *Storage) builder() sq.StatementBuilderType {
	if s.dialect == PgSQL {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (s *Storage) nowExpr() sq.Sqlizer {
	if s.dialect == SQLite {
		return sq.Expr("CURRENT_TIMESTAMP")
	}
	return sq.Expr("NOW()")
}

// upsertSuffix returns the dialect specific clause that turns an insert into an upsert.
func (s *Storage) upsertSuffix(conflictColumns []string, updateColumns []string) string {
	sets := make([]string, 0, len(updateColumns)+1)
	for _, col := range updateColumns {
		sets = append(sets, col+" = ?")
	}
	switch s.dialect {
	case MySQL:
		sets = append(sets, "updated_at = NOW()")
		return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	case SQLite:
		sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	default:
		sets = append(sets, "updated_at = NOW()")
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflictColumns, ", "), strings.Join(sets, ", "))
}
