// Package store persists verification results to PostgreSQL.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/devyanshu/mailcheck/internal/catchall"
	"github.com/devyanshu/mailcheck/internal/verify"
)

// Store wraps a *sql.DB bound to the Postgres "pq" driver.
type Store struct {
	db *sql.DB
}

// Open connects to dbURL and verifies connectivity with a ping.
func Open(dbURL string) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// SaveResult updates the row for (jobID, email) with the full
// verification result.
func (s *Store) SaveResult(jobID, email string, result verify.Result) error {
	const query = `
		UPDATE "EmailCheck"
		SET status = $1,
		    "syntaxValid" = $2,
		    "domainResolvable" = $3,
		    "smtpAccepted" = $4,
		    "catchAllConfidence" = $5,
		    "diagnostic" = $6
		WHERE "jobId" = $7 AND email = $8
	`
	_, err := s.db.Exec(
		query,
		result.Status.String(),
		result.SyntaxValid,
		result.DomainResolvable,
		result.SMTPAccepted,
		confidenceString(result.CatchAllConfidence),
		result.Diagnostic,
		jobID,
		email,
	)
	if err != nil {
		return fmt.Errorf("store: saving result for %s: %w", email, err)
	}
	return nil
}

func confidenceString(c catchall.Confidence) string {
	return c.String()
}
