// Package memory is an in-process document store. Identifiers are spread over
// shards so writers on different identifiers never contend on one lock.
package memory

import (
	"context"
	"hash/fnv"
	"sync"

	"didledger/internal/did/models"
	"didledger/pkg/platform/sentinel"
)

const defaultShards = 32

type record struct {
	doc     *models.Document
	history []models.Operation
}

type shard struct {
	mu      sync.Mutex
	records map[string]*record
}

// Store keeps documents and their history in sharded maps.
type Store struct {
	shards []*shard
}

// New creates an empty store.
func New() *Store {
	s := &Store{shards: make([]*shard, defaultShards)}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*record)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Create inserts doc iff no record exists for its id.
func (s *Store) Create(_ context.Context, doc *models.Document) error {
	sh := s.shardFor(doc.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.records[doc.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	stored := doc.Clone()
	sh.records[doc.ID] = &record{
		doc:     stored,
		history: []models.Operation{models.NextOperation(nil, models.OperationCreate, stored)},
	}
	return nil
}

// Get returns a copy of the current document.
func (s *Store) Get(_ context.Context, id string) (*models.Document, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.doc.Clone(), nil
}

// CompareAndUpdate replaces the document iff its stored Updated equals expectedUpdated.
func (s *Store) CompareAndUpdate(_ context.Context, id string, expectedUpdated int64, doc *models.Document) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.doc.Updated != expectedUpdated {
		return sentinel.ErrConflict
	}
	if rec.doc.Deactivated {
		return sentinel.ErrInvalidState
	}
	stored := doc.Clone()
	rec.appendOperation(models.OperationUpdate, stored)
	rec.doc = stored
	return nil
}

// MarkDeactivated sets the terminal flag iff the stored Updated equals expectedUpdated.
func (s *Store) MarkDeactivated(_ context.Context, id string, expectedUpdated, deactivatedAt int64) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.doc.Updated != expectedUpdated {
		return sentinel.ErrConflict
	}
	if rec.doc.Deactivated {
		return sentinel.ErrInvalidState
	}
	stored := rec.doc.Clone()
	stored.Deactivated = true
	stored.Updated = deactivatedAt
	rec.appendOperation(models.OperationDeactivate, stored)
	rec.doc = stored
	return nil
}

// History returns the operation log oldest first.
func (s *Store) History(_ context.Context, id string) ([]models.Operation, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return append([]models.Operation(nil), rec.history...), nil
}

func (r *record) appendOperation(kind models.OperationKind, doc *models.Document) {
	prev := &r.history[len(r.history)-1]
	r.history = append(r.history, models.NextOperation(prev, kind, doc))
}
