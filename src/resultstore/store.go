// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package resultstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"resqenv/src/model"
)

const schema = `
	CREATE TABLE IF NOT EXISTS SUBMISSION_RESULTS (
		id            BIGSERIAL PRIMARY KEY,
		run_id        TEXT NOT NULL,
		submission_id TEXT NOT NULL,
		success       BOOLEAN NOT NULL,
		message       TEXT NOT NULL,
		feedback      TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Store records submission verdicts in Postgres so runs can be compared
// across machines. Entirely optional; the CLI only opens it when a DSN is
// configured.
type Store struct {
	db *sql.DB
}

// Open connects to the database and ensures the results table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open results database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping results database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure results table: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts every result under one run id inside a single transaction.
func (s *Store) Save(ctx context.Context, runID string, results []model.SubmissionResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin results transaction: %w", err)
	}
	defer tx.Rollback()

	for _, result := range results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO SUBMISSION_RESULTS (run_id, submission_id, success, message, feedback)
			 VALUES ($1, $2, $3, $4, $5)`,
			runID, result.ID, result.Success, result.Message, result.TestSuiteFeedback)
		if err != nil {
			return fmt.Errorf("insert result for %s: %w", result.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Close() error { return s.db.Close() }
