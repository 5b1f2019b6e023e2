package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/keywheel/keywheel/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// InitSchema creates the completion_logs table if it does not exist.
func (db *DB) InitSchema(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS completion_logs (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			model TEXT NOT NULL,
			provider TEXT NOT NULL,
			key_id TEXT NOT NULL,
			status_code INT NOT NULL,
			prompt_tokens INT NOT NULL DEFAULT 0,
			completion_tokens INT NOT NULL DEFAULT 0,
			total_tokens INT NOT NULL DEFAULT 0,
			latency_ms INT NOT NULL DEFAULT 0,
			reject_reason TEXT,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := db.conn.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("creating completion_logs table: %w", err)
	}

	// Retention prunes by created_at.
	index := `CREATE INDEX IF NOT EXISTS idx_completion_logs_created_at ON completion_logs (created_at)`
	if _, err := db.conn.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("creating completion_logs index: %w", err)
	}

	return nil
}

// LogCompletion records one completion attempt, admitted or rejected.
func (db *DB) LogCompletion(ctx context.Context, log *models.CompletionLog) error {
	query := `
		INSERT INTO completion_logs (
			id, request_id, endpoint, model, provider, key_id, status_code,
			prompt_tokens, completion_tokens, total_tokens, latency_ms,
			reject_reason, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		log.ID,
		log.RequestID,
		log.Endpoint,
		log.Model,
		log.Provider,
		log.KeyID,
		log.StatusCode,
		log.PromptTokens,
		log.CompletionTokens,
		log.TotalTokens,
		log.LatencyMs,
		log.RejectReason,
		log.ErrorMessage,
	)

	return err
}

// PruneLogsBefore deletes completion logs created before cutoff and reports
// how many rows were removed.
func (db *DB) PruneLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM completion_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning completion logs: %w", err)
	}
	return res.RowsAffected()
}
