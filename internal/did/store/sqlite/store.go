// Package sqlite persists documents in a local SQLite file for single-node
// deployments. All access goes through one connection, so transactions on
// the same identifier are serialised by the driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"didledger/internal/did/models"
	"didledger/pkg/platform/sentinel"
	txcontext "didledger/pkg/platform/tx"
)

const schema = `
CREATE TABLE IF NOT EXISTS did_documents (
	did         TEXT PRIMARY KEY,
	document    TEXT NOT NULL,
	created     INTEGER NOT NULL,
	updated     INTEGER NOT NULL,
	deactivated INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS did_operations (
	did           TEXT NOT NULL,
	sequence      INTEGER NOT NULL,
	kind          TEXT NOT NULL CHECK(kind IN ('create', 'update', 'deactivate')),
	document_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	entry_hash    TEXT NOT NULL,
	committed_at  INTEGER NOT NULL,
	PRIMARY KEY (did, sequence),
	FOREIGN KEY (did) REFERENCES did_documents(did)
);
`

// Store implements the document store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Create(ctx context.Context, doc *models.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO did_documents (did, document, created, updated, deactivated)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(did) DO NOTHING
		`, doc.ID, string(payload), doc.Created, doc.Updated, doc.Deactivated)
		if err != nil {
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
	return loadDocument(ctx, s.db, id)
}

func (s *Store) CompareAndUpdate(ctx context.Context, id string, expectedUpdated int64, doc *models.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		current, err := loadDocument(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkVersion(current, expectedUpdated); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE did_documents SET document = ?, updated = ? WHERE did = ?`,
			string(payload), doc.Updated, id,
		); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		return appendOperation(ctx, tx, models.OperationUpdate, doc)
	})
}

func (s *Store) MarkDeactivated(ctx context.Context, id string, expectedUpdated, deactivatedAt int64) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		tombstone, err := loadDocument(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkVersion(tombstone, expectedUpdated); err != nil {
			return err
		}
		tombstone.Deactivated = true
		tombstone.Updated = deactivatedAt
		payload, err := json.Marshal(tombstone)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE did_documents SET document = ?, updated = ?, deactivated = 1 WHERE did = ?`,
			string(payload), deactivatedAt, id,
		); err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		return appendOperation(ctx, tx, models.OperationDeactivate, tombstone)
	})
}

func (s *Store) History(ctx context.Context, id string) ([]models.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT did, sequence, kind, document_hash, previous_hash, entry_hash, committed_at
		FROM did_operations WHERE did = ? ORDER BY sequence
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

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadDocument(ctx context.Context, q queryer, id string) (*models.Document, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT document FROM did_documents WHERE did = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	var doc models.Document
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}

// checkVersion compares versions before the terminal flag: a deactivation
// always moves Updated, so a writer holding an older snapshot lost a race.
func checkVersion(current *models.Document, expectedUpdated int64) error {
	if current.Updated != expectedUpdated {
		return sentinel.ErrConflict
	}
	if current.Deactivated {
		return sentinel.ErrInvalidState
	}
	return nil
}

func appendOperation(ctx context.Context, tx *sql.Tx, kind models.OperationKind, committed *models.Document) error {
	var prev models.Operation
	err := tx.QueryRowContext(ctx, `
		SELECT did, sequence, kind, document_hash, previous_hash, entry_hash, committed_at
		FROM did_operations WHERE did = ? ORDER BY sequence DESC LIMIT 1
	`, committed.ID).Scan(&prev.DID, &prev.Sequence, &prev.Kind, &prev.DocumentHash, &prev.PreviousHash, &prev.EntryHash, &prev.CommittedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return insertOperation(ctx, tx, models.NextOperation(nil, kind, committed))
	case err != nil:
		return fmt.Errorf("select last operation: %w", err)
	}
	return insertOperation(ctx, tx, models.NextOperation(&prev, kind, committed))
}

func insertOperation(ctx context.Context, tx *sql.Tx, op models.Operation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO did_operations (did, sequence, kind, document_hash, previous_hash, entry_hash, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, op.DID, op.Sequence, string(op.Kind), op.DocumentHash, op.PreviousHash, op.EntryHash, op.CommittedAt)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}
