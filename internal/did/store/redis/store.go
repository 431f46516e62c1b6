// Package redis keeps documents in Redis. Every conditional write runs under
// WATCH on the document key, so a concurrent writer aborts the transaction
// with redis.TxFailedErr instead of overwriting.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"didledger/internal/did/models"
	"didledger/pkg/platform/sentinel"
)

const keyPrefix = "didledger:"

// Store implements the document store on a go-redis client.
type Store struct {
	client redis.UniversalClient
}

// New wraps an existing client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func documentKey(id string) string { return keyPrefix + "doc:" + id }
func historyKey(id string) string  { return keyPrefix + "history:" + id }

func (s *Store) Create(ctx context.Context, doc *models.Document) error {
	docKey := documentKey(doc.ID)
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	op, err := json.Marshal(models.NextOperation(nil, models.OperationCreate, doc))
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, docKey).Result()
		if err != nil {
			return fmt.Errorf("check document: %w", err)
		}
		if n > 0 {
			return sentinel.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, docKey, payload, 0)
			pipe.Del(ctx, historyKey(doc.ID))
			pipe.RPush(ctx, historyKey(doc.ID), op)
			return nil
		})
		return err
	}, docKey)
	if errors.Is(err, redis.TxFailedErr) {
		return sentinel.ErrAlreadyExists
	}
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*models.Document, error) {
	return loadDocument(ctx, s.client, id)
}

func (s *Store) CompareAndUpdate(ctx context.Context, id string, expectedUpdated int64, doc *models.Document) error {
	return s.conditionalWrite(ctx, id, expectedUpdated, func(*models.Document) (models.OperationKind, *models.Document) {
		return models.OperationUpdate, doc
	})
}

func (s *Store) MarkDeactivated(ctx context.Context, id string, expectedUpdated, deactivatedAt int64) error {
	return s.conditionalWrite(ctx, id, expectedUpdated, func(current *models.Document) (models.OperationKind, *models.Document) {
		tombstone := current.Clone()
		tombstone.Deactivated = true
		tombstone.Updated = deactivatedAt
		return models.OperationDeactivate, tombstone
	})
}

func (s *Store) History(ctx context.Context, id string) ([]models.Operation, error) {
	raw, err := s.client.LRange(ctx, historyKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(raw) == 0 {
		return nil, sentinel.ErrNotFound
	}
	ops := make([]models.Operation, 0, len(raw))
	for _, r := range raw {
		var op models.Operation
		if err := json.Unmarshal([]byte(r), &op); err != nil {
			return nil, fmt.Errorf("unmarshal operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// conditionalWrite loads the current document under WATCH, checks the
// expected version and commits the document produced by next together with
// its history entry.
func (s *Store) conditionalWrite(
	ctx context.Context,
	id string,
	expectedUpdated int64,
	next func(current *models.Document) (models.OperationKind, *models.Document),
) error {
	docKey := documentKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := loadDocument(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Updated != expectedUpdated {
			return sentinel.ErrConflict
		}
		if current.Deactivated {
			return sentinel.ErrInvalidState
		}

		kind, committed := next(current)
		payload, err := json.Marshal(committed)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		prev, err := lastOperation(ctx, tx, id)
		if err != nil {
			return err
		}
		op, err := json.Marshal(models.NextOperation(prev, kind, committed))
		if err != nil {
			return fmt.Errorf("marshal operation: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, docKey, payload, 0)
			pipe.RPush(ctx, historyKey(id), op)
			return nil
		})
		return err
	}, docKey)
	if errors.Is(err, redis.TxFailedErr) {
		return sentinel.ErrConflict
	}
	return err
}

// reader is the read subset shared by the client and a WATCH transaction.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	LIndex(ctx context.Context, key string, index int64) *redis.StringCmd
}

func loadDocument(ctx context.Context, c reader, id string) (*models.Document, error) {
	raw, err := c.Get(ctx, documentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}

func lastOperation(ctx context.Context, c reader, id string) (*models.Operation, error) {
	raw, err := c.LIndex(ctx, historyKey(id), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last operation: %w", err)
	}
	var op models.Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, fmt.Errorf("unmarshal operation: %w", err)
	}
	return &op, nil
}
