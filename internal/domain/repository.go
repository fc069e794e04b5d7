// Package domain defines the core types and interfaces for harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)

	// Detection results
	SaveResult(ctx context.Context, tenantID string, res *DetectionResult) error
	GetResult(ctx context.Context, tenantID string, resultID string) (*DetectionResult, error)
	ListResultsByUser(ctx context.Context, tenantID string, userID string, limit int) ([]*DetectionResult, error)

	// Custom rule operations
	SaveCustomRule(ctx context.Context, tenantID string, rule *CustomRule) error
	GetCustomRule(ctx context.Context, tenantID string, ruleID string) (*CustomRule, error)
	ListCustomRules(ctx context.Context, tenantID string) ([]*CustomRule, error)
	DeleteCustomRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
