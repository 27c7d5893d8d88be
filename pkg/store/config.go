package store

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// StorageType discriminates the supported backends.
type StorageType string

const (
	// StorageTypeSQLite stores graphs in a SQLite database file (or in memory).
	StorageTypeSQLite StorageType = "sqlite"

	// StorageTypePostgreSQL stores graphs in PostgreSQL with trigram similarity search.
	StorageTypePostgreSQL StorageType = "postgresql"
)

// Options tunes the connection pool of a provider.
type Options struct {
	// MaxConnections bounds concurrently open connections (default: 10, SQLite memory: 1)
	MaxConnections int

	// IdleTimeout closes connections idle for longer than this (default: 30s)
	IdleTimeout time.Duration

	// ConnectionTimeout bounds connection establishment and SQLite lock waits (default: 5s)
	ConnectionTimeout time.Duration

	// Verbose logs every statement at debug level
	Verbose bool
}

// Config selects and configures a storage backend.
// Build it with NewConfig so that the connection string is validated up front.
type Config struct {
	Type             StorageType
	ConnectionString string
	Options          Options

	// sqlitePath is the resolved database path for SQLite configs.
	sqlitePath string
}

const (
	defaultMaxConnections    = 10
	defaultIdleTimeout       = 30 * time.Second
	defaultConnectionTimeout = 5 * time.Second
	sqliteMemoryPath         = ":memory:"
)

// NewConfig validates the connection string for the given backend and returns a Config.
// Malformed connection strings fail here rather than at Initialize.
func NewConfig(storageType StorageType, connectionString string, opts Options) (Config, error) {
	cfg := Config{
		Type:             storageType,
		ConnectionString: connectionString,
		Options:          applyOptionDefaults(opts),
	}

	switch storageType {
	case StorageTypeSQLite:
		path, err := parseSQLiteConnectionString(connectionString)
		if err != nil {
			return Config{}, err
		}
		cfg.sqlitePath = path
	case StorageTypePostgreSQL:
		if err := validatePostgresConnectionString(connectionString); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("%w: unsupported storage type %q (supported: sqlite, postgresql)", ErrInvalidConfig, storageType)
	}

	return cfg, nil
}

// SQLitePath returns the resolved SQLite database path, or "" for other backends.
func (c Config) SQLitePath() string {
	return c.sqlitePath
}

func applyOptionDefaults(opts Options) Options {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = defaultMaxConnections
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = defaultConnectionTimeout
	}
	return opts
}

// parseSQLiteConnectionString accepts sqlite:///abs/path, sqlite://./rel/path,
// sqlite://:memory: and bare file paths.
func parseSQLiteConnectionString(conn string) (string, error) {
	conn = strings.TrimSpace(conn)
	if conn == "" {
		return "", fmt.Errorf("%w: sqlite connection string is empty", ErrInvalidConfig)
	}

	rest, ok := strings.CutPrefix(conn, "sqlite://")
	if !ok {
		if strings.Contains(conn, "://") {
			return "", fmt.Errorf("%w: unsupported sqlite connection string scheme in %q", ErrInvalidConfig, conn)
		}
		return conn, nil
	}

	switch {
	case rest == sqliteMemoryPath:
		return sqliteMemoryPath, nil
	case strings.HasPrefix(rest, "/") && len(rest) > 1:
		return rest, nil
	case strings.HasPrefix(rest, "./") && len(rest) > 2:
		return rest, nil
	default:
		return "", fmt.Errorf("%w: sqlite connection string must be sqlite:///<absolute>, sqlite://./<relative> or sqlite://:memory:, got %q", ErrInvalidConfig, conn)
	}
}

func validatePostgresConnectionString(conn string) error {
	u, err := url.Parse(conn)
	if err != nil {
		return fmt.Errorf("%w: parse postgresql connection string: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "postgresql" && u.Scheme != "postgres" {
		return fmt.Errorf("%w: postgresql connection string must use postgresql:// or postgres://, got %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: postgresql connection string requires a hostname", ErrInvalidConfig)
	}
	return nil
}
