// Package postgres persists documents and their history in PostgreSQL.
//
// Compare-and-update is a conditional UPDATE on the updated column; the row
// lock it takes serialises history appends for the same identifier.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"didledger/internal/did/models"
	"didledger/pkg/platform/sentinel"
	txcontext "didledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS did_documents (
	did         TEXT PRIMARY KEY,
	document    JSONB NOT NULL,
	created     BIGINT NOT NULL,
	updated     BIGINT NOT NULL,
	deactivated BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS did_operations (
	did           TEXT NOT NULL REFERENCES did_documents (did),
	sequence      BIGINT NOT NULL,
	kind          TEXT NOT NULL CHECK (kind IN ('create', 'update', 'deactivate')),
	document_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	entry_hash    TEXT NOT NULL,
	committed_at  BIGINT NOT NULL,
	PRIMARY KEY (did, sequence)
);
`

// Store implements the document store on a *sql.DB opened with lib/pq.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate did schema: %w", err)
	}
	return nil
}

// DB exposes the handle for health checks and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, doc *models.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO did_documents (did, document, created, updated, deactivated)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (did) DO NOTHING
		`, doc.ID, payload, doc.Created, doc.Updated, doc.Deactivated)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return sentinel.ErrAlreadyExists
			}
			return fmt.Errorf("insert document: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return sentinel.ErrAlreadyExists
		}
		return insertOperation(ctx, tx, models.NextOperation(nil, models.OperationCreate, doc))
	})
}

func (s *Store) Get(ctx context.Context, id string) (*models.Document, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM did_documents WHERE did = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	var doc models.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}

func (s *Store) CompareAndUpdate(ctx context.Context, id string, expectedUpdated int64, doc *models.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE did_documents SET document = $3, updated = $4
			WHERE did = $1 AND updated = $2 AND NOT deactivated
		`, id, expectedUpdated, payload, doc.Updated)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return classifyMiss(ctx, tx, id, expectedUpdated)
		}
		return appendOperation(ctx, tx, models.OperationUpdate, doc)
	})
}

func (s *Store) MarkDeactivated(ctx context.Context, id string, expectedUpdated, deactivatedAt int64) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var payload []byte
		var updated int64
		var deactivated bool
		err := tx.QueryRowContext(ctx, `
			SELECT document, updated, deactivated FROM did_documents WHERE did = $1 FOR UPDATE
		`, id).Scan(&payload, &updated, &deactivated)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return sentinel.ErrNotFound
		case err != nil:
			return fmt.Errorf("select document: %w", err)
		case updated != expectedUpdated:
			return sentinel.ErrConflict
		case deactivated:
			return sentinel.ErrInvalidState
		}

		var tombstone models.Document
		if err := json.Unmarshal(payload, &tombstone); err != nil {
			return fmt.Errorf("unmarshal document: %w", err)
		}
		tombstone.Deactivated = true
		tombstone.Updated = deactivatedAt
		if payload, err = json.Marshal(&tombstone); err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE did_documents SET document = $2, updated = $3, deactivated = TRUE WHERE did = $1
		`, id, payload, deactivatedAt); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		return appendOperation(ctx, tx, models.OperationDeactivate, &tombstone)
	})
}

func (s *Store) History(ctx context.Context, id string) ([]models.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT did, sequence, kind, document_hash, previous_hash, entry_hash, committed_at
		FROM did_operations WHERE did = $1 ORDER BY sequence
	`, id)
	if err != nil {
		return nil, fmt.Errorf("select operations: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		var op models.Operation
		if err := rows.Scan(&op.DID, &op.Sequence, &op.Kind, &op.DocumentHash, &op.PreviousHash, &op.EntryHash, &op.CommittedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	if len(ops) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return ops, nil
}

func appendOperation(ctx context.Context, tx *sql.Tx, kind models.OperationKind, committed *models.Document) error {
	prev, err := lastOperation(ctx, tx, committed.ID)
	if err != nil {
		return err
	}
	return insertOperation(ctx, tx, models.NextOperation(prev, kind, committed))
}

// classifyMiss reports why a conditional update touched no row. A version
// mismatch wins over the terminal flag since deactivation moves updated.
func classifyMiss(ctx context.Context, tx *sql.Tx, id string, expectedUpdated int64) error {
	var updated int64
	var deactivated bool
	err := tx.QueryRowContext(ctx, `SELECT updated, deactivated FROM did_documents WHERE did = $1`, id).
		Scan(&updated, &deactivated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return sentinel.ErrNotFound
	case err != nil:
		return fmt.Errorf("select document state: %w", err)
	case updated != expectedUpdated:
		return sentinel.ErrConflict
	case deactivated:
		return sentinel.ErrInvalidState
	default:
		return sentinel.ErrConflict
	}
}

func lastOperation(ctx context.Context, tx *sql.Tx, id string) (*models.Operation, error) {
	var op models.Operation
	err := tx.QueryRowContext(ctx, `
		SELECT did, sequence, kind, document_hash, previous_hash, entry_hash, committed_at
		FROM did_operations WHERE did = $1 ORDER BY sequence DESC LIMIT 1
	`, id).Scan(&op.DID, &op.Sequence, &op.Kind, &op.DocumentHash, &op.PreviousHash, &op.EntryHash, &op.CommittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select last operation: %w", err)
	}
	return &op, nil
}

func insertOperation(ctx context.Context, tx *sql.Tx, op models.Operation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO did_operations (did, sequence, kind, document_hash, previous_hash, entry_hash, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, op.DID, op.Sequence, op.Kind, op.DocumentHash, op.PreviousHash, op.EntryHash, op.CommittedAt)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}
