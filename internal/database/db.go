// Package database persists sites, the tag directory, associations and
// position history in a DuckDB file.
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcboeker/go-duckdb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Options tune the DuckDB connection.
type Options struct {
	MemoryLimit string // e.g. "512MB"
	Threads     int
	Logger      *zap.Logger
}

// SiteDB is the site tracker database.
type SiteDB struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

var schema = []string{
	`CREATE SEQUENCE IF NOT EXISTS seq_sites START 1`,
	`CREATE SEQUENCE IF NOT EXISTS seq_alarms START 1`,
	`CREATE SEQUENCE IF NOT EXISTS seq_logs START 1`,
	`CREATE TABLE IF NOT EXISTS sites (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_sites'),
		name        VARCHAR NOT NULL,
		server_ip   VARCHAR,
		server_port INTEGER,
		map_file    VARCHAR,
		map_width   DOUBLE,
		map_height  DOUBLE,
		map_corners VARCHAR,
		company     VARCHAR,
		company_id  VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id         BIGINT PRIMARY KEY,
		name       VARCHAR NOT NULL,
		role       VARCHAR,
		company_id VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id         BIGINT PRIMARY KEY,
		name       VARCHAR NOT NULL,
		type       VARCHAR,
		company_id VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS associations (
		tag_id      VARCHAR NOT NULL,
		target_type VARCHAR NOT NULL,
		target_id   BIGINT NOT NULL,
		site_id     BIGINT NOT NULL,
		PRIMARY KEY (tag_id, site_id)
	)`,
	`CREATE TABLE IF NOT EXISTS areas (
		id         VARCHAR PRIMARY KEY,
		site_id    BIGINT NOT NULL,
		name       VARCHAR NOT NULL,
		type       VARCHAR,
		points     VARCHAR,
		created_at BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS tag_positions (
		tag_id    VARCHAR NOT NULL,
		x         DOUBLE,
		y         DOUBLE,
		z         DOUBLE,
		site_id   BIGINT,
		timestamp BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tag_power (
		tag_id    VARCHAR NOT NULL,
		battery   INTEGER,
		timestamp BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS alarms (
		id        BIGINT PRIMARY KEY DEFAULT nextval('seq_alarms'),
		tag_id    VARCHAR,
		type      VARCHAR,
		level     VARCHAR,
		message   VARCHAR,
		site_id   BIGINT,
		timestamp BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id        BIGINT PRIMARY KEY DEFAULT nextval('seq_logs'),
		timestamp BIGINT NOT NULL,
		type      VARCHAR,
		message   VARCHAR,
		site_id   BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_tag_ts ON tag_positions(tag_id, timestamp)`,
}

// Open opens (creating if needed) the database file at path.
func Open(path string, opts Options) (*SiteDB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("database")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
	}

	pragmas := []string{"PRAGMA enable_progress_bar=false"}
	if opts.MemoryLimit != "" {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit))
	}
	if opts.Threads > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d", opts.Threads))
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				logger.Warn("pragma failed", zap.String("pragma", pragma), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating DuckDB connector")
	}

	db := sql.OpenDB(connector)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "creating schema")
		}
	}

	logger.Info("database ready", zap.String("path", path))
	return &SiteDB{db: db, path: path, log: logger}, nil
}

// Path returns the database file path.
func (s *SiteDB) Path() string { return s.path }

// Ping checks the connection.
func (s *SiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SiteDB) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
