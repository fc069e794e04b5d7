// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fraudlab/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, user_id, amount, merchant, location,
			timestamp, card_last4, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.TransactionID, tenantID, tx.UserID,
		tx.Amount, tx.Merchant, tx.Location,
		tx.Timestamp, tx.CardLast4,
		time.Now().UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, amount, merchant, location, timestamp, card_last4
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.TransactionID, &tx.UserID, &tx.Amount,
		&tx.Merchant, &tx.Location, &tx.Timestamp, &tx.CardLast4,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

// SaveResult stores a detection result with tenant isolation.
func (r *SQLRepository) SaveResult(ctx context.Context, tenantID string, res *domain.DetectionResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	reasons, _ := json.Marshal(res.Reasons)
	txJSON, _ := json.Marshal(res.Transaction)

	fraudulent := 0
	if res.IsFraudulent {
		fraudulent = 1
	}

	query := `
		INSERT INTO detection_results (
			id, tenant_id, tx_id, user_id, risk_level, risk_score,
			is_fraudulent, reasons, transaction_json, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		res.ID, tenantID, res.Transaction.TransactionID, res.Transaction.UserID,
		res.RiskLevel.String(), res.RiskScore, fraudulent,
		string(reasons), string(txJSON), res.EvaluatedAt,
	)
	return err
}

// GetResult retrieves a detection result by ID with tenant isolation.
func (r *SQLRepository) GetResult(ctx context.Context, tenantID string, resultID string) (*domain.DetectionResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, risk_level, risk_score, is_fraudulent, reasons, transaction_json, evaluated_at
		FROM detection_results
		WHERE tenant_id = ? AND id = ?
	`

	return r.scanResult(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, resultID))
}

// ListResultsByUser retrieves recent detection results for a user.
func (r *SQLRepository) ListResultsByUser(ctx context.Context, tenantID string, userID string, limit int) ([]*domain.DetectionResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, risk_level, risk_score, is_fraudulent, reasons, transaction_json, evaluated_at
		FROM detection_results
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY evaluated_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.DetectionResult
	for rows.Next() {
		res, err := r.scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	return results, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanResult(row rowScanner) (*domain.DetectionResult, error) {
	var res domain.DetectionResult
	var level, reasons, txJSON string
	var fraudulent int

	err := row.Scan(
		&res.ID, &level, &res.RiskScore, &fraudulent,
		&reasons, &txJSON, &res.EvaluatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	res.RiskLevel.UnmarshalText([]byte(level))
	res.IsFraudulent = fraudulent == 1
	json.Unmarshal([]byte(reasons), &res.Reasons)
	json.Unmarshal([]byte(txJSON), &res.Transaction)

	return &res, nil
}

// SaveCustomRule stores a custom rule with tenant isolation.
func (r *SQLRepository) SaveCustomRule(ctx context.Context, tenantID string, rule *domain.CustomRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO custom_rules (
			id, tenant_id, name, description, version, expression, points, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			points = excluded.points,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Points, rule.Reason, enabled,
		now, now,
	)
	return err
}

// GetCustomRule retrieves a custom rule with tenant isolation.
func (r *SQLRepository) GetCustomRule(ctx context.Context, tenantID string, ruleID string) (*domain.CustomRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, points, reason, enabled
		FROM custom_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.CustomRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.Points, &rule.Reason, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1

	return &rule, nil
}

// ListCustomRules retrieves all active custom rules for a tenant.
func (r *SQLRepository) ListCustomRules(ctx context.Context, tenantID string) ([]*domain.CustomRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, points, reason, enabled
		FROM custom_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CustomRule
	for rows.Next() {
		var rule domain.CustomRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.Points, &rule.Reason, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteCustomRule removes a custom rule with tenant isolation.
func (r *SQLRepository) DeleteCustomRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `DELETE FROM custom_rules WHERE tenant_id = ? AND id = ?`

	res, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
