// Package db persists finished audit reports to PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
	config *Config
}

// GetConfig returns the original DB connection settings
func (d *DB) GetConfig() *Config {
	return d.config
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host         string        // Database host
	Port         string        // Database port
	User         string        // Database user
	Password     string        // Database password
	Database     string        // Database name
	SSLMode      string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns int           // Maximum number of idle connections
	MaxOpenConns int           // Maximum number of open connections
	MaxLifetime  time.Duration // Maximum lifetime of a connection
	DatabaseURL  string        // Original DATABASE_URL if used
	StatementMs  int           // statement_timeout added to the DSN, 0 for the default
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	if c.DatabaseURL != "" {
		return augmentDSN(c.DatabaseURL, c.StatementMs)
	}
	return augmentDSN(fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode), c.StatementMs)
}

func (c *Config) validate() error {
	if c.DatabaseURL != "" {
		return nil
	}
	switch {
	case c.Host == "":
		return fmt.Errorf("database host is required")
	case c.Port == "":
		return fmt.Errorf("database port is required")
	case c.User == "":
		return fmt.Errorf("database user is required")
	case c.Database == "":
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 20 * time.Minute
	}
}

// New opens a connection, pings it and creates the schema.
func New(ctx context.Context, config *Config) (*DB, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	if err := client.PingContext(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return &DB{client: client, config: config}, nil
}

// NewWithClient wraps an existing handle without touching the schema.
func NewWithClient(client *sql.DB) *DB {
	return &DB{client: client, config: &Config{}}
}

// ConfigFromEnv reads DATABASE_URL, falling back to the POSTGRES_* variables.
func ConfigFromEnv() *Config {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return &Config{DatabaseURL: url}
	}

	config := &Config{
		Host:     os.Getenv("POSTGRES_HOST"),
		Port:     os.Getenv("POSTGRES_PORT"),
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Database: os.Getenv("POSTGRES_DB"),
		SSLMode:  os.Getenv("POSTGRES_SSL_MODE"),
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == "" {
		config.Port = "5432"
	}
	if config.User == "" {
		config.User = "postgres"
	}
	if config.Database == "" {
		config.Database = "site_audit"
	}
	return config
}

var schema = []struct {
	name string
	ddl  string
}{
	{"audits", `
		CREATE TABLE IF NOT EXISTS audits (
			id UUID PRIMARY KEY,
			seed_url TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			termination TEXT NOT NULL,
			pages_crawled INTEGER NOT NULL,
			nodes INTEGER NOT NULL,
			score INTEGER NOT NULL,
			grade TEXT NOT NULL,
			status TEXT NOT NULL,
			potential_score INTEGER NOT NULL,
			robots_found BOOLEAN NOT NULL,
			sitemap_found BOOLEAN NOT NULL,
			technologies JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"audit_categories", `
		CREATE TABLE IF NOT EXISTS audit_categories (
			audit_id UUID NOT NULL REFERENCES audits(id) ON DELETE CASCADE,
			category TEXT NOT NULL,
			available BOOLEAN NOT NULL,
			score INTEGER NOT NULL,
			grade TEXT NOT NULL,
			weight DOUBLE PRECISION NOT NULL,
			issue_count INTEGER NOT NULL,
			potential_score INTEGER NOT NULL,
			PRIMARY KEY (audit_id, category)
		)`},
	{"audit_issues", `
		CREATE TABLE IF NOT EXISTS audit_issues (
			audit_id UUID NOT NULL REFERENCES audits(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			rule_id TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			scope TEXT NOT NULL,
			title TEXT NOT NULL,
			measured TEXT,
			threshold TEXT,
			evidence JSONB,
			affected JSONB,
			PRIMARY KEY (audit_id, position)
		)`},
	{"audit_pages", `
		CREATE TABLE IF NOT EXISTS audit_pages (
			audit_id UUID NOT NULL REFERENCES audits(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			state TEXT NOT NULL,
			depth INTEGER NOT NULL,
			status_code INTEGER,
			title TEXT,
			inbound INTEGER NOT NULL,
			outbound INTEGER NOT NULL,
			PRIMARY KEY (audit_id, url)
		)`},
	{"idx_audits_seed", `CREATE INDEX IF NOT EXISTS idx_audits_seed ON audits(seed_url, started_at DESC)`},
}

// setupSchema creates the report tables
func setupSchema(ctx context.Context, client *sql.DB) error {
	for _, s := range schema {
		if _, err := client.ExecContext(ctx, s.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}
	log.Debug().Int("statements", len(schema)).Msg("Database schema ready")
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.client.Close()
}

// GetDB returns the underlying database connection
func (db *DB) GetDB() *sql.DB {
	return db.client
}

// Serialise converts data to a JSON string, "null" on failure.
func Serialise(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialise data")
		return "null"
	}
	return string(data)
}
