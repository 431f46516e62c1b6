// Package storetest is a conformance suite every document store runs against.
package storetest

import (
	"context"
	"crypto/rand"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"didledger/internal/did/models"
	"didledger/pkg/platform/sentinel"
)

// Store is the contract under test.
type Store interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	CompareAndUpdate(ctx context.Context, id string, expectedUpdated int64, doc *models.Document) error
	MarkDeactivated(ctx context.Context, id string, expectedUpdated, deactivatedAt int64) error
	History(ctx context.Context, id string) ([]models.Operation, error)
}

// Run executes the suite against the store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	suite.Run(t, &Suite{newStore: newStore})
}

// Suite holds the shared store behaviour tests.
type Suite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
	now      atomic.Int64
}

func (s *Suite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
	s.now.Store(1_700_000_000)
}

func (s *Suite) newDocument() *models.Document {
	pub := make([]byte, 32)
	_, err := rand.Read(pub)
	s.Require().NoError(err)
	return models.NewDocument("test", pub, nil, s.now.Add(1))
}

func (s *Suite) withService(doc *models.Document, updated int64) *models.Document {
	next := doc.Clone()
	next.Services = append(next.Services, models.Service{
		ID: "svc1", Type: "Messaging", Endpoint: "https://m.example",
	})
	next.Updated = updated
	return next
}

func (s *Suite) TestCreateAndGet() {
	doc := s.newDocument()
	s.Require().NoError(s.store.Create(s.ctx, doc))

	got, err := s.store.Get(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.Equal(doc, got)

	s.Run("returned documents are snapshots", func() {
		got.Services = append(got.Services, models.Service{ID: "x", Type: "t", Endpoint: "e"})
		again, err := s.store.Get(s.ctx, doc.ID)
		s.Require().NoError(err)
		s.Empty(again.Services)
	})

	s.Run("second create fails with ErrAlreadyExists", func() {
		err := s.store.Create(s.ctx, doc)
		s.ErrorIs(err, sentinel.ErrAlreadyExists)
	})

	s.Run("unknown id fails with ErrNotFound", func() {
		_, err := s.store.Get(s.ctx, "did:test:missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.History(s.ctx, "did:test:missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *Suite) TestCompareAndUpdate() {
	doc := s.newDocument()
	s.Require().NoError(s.store.Create(s.ctx, doc))
	next := s.withService(doc, doc.Updated+1)

	s.Run("stale expected version fails with ErrConflict", func() {
		err := s.store.CompareAndUpdate(s.ctx, doc.ID, doc.Updated-1, next)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("matching expected version commits", func() {
		s.Require().NoError(s.store.CompareAndUpdate(s.ctx, doc.ID, doc.Updated, next))
		got, err := s.store.Get(s.ctx, doc.ID)
		s.Require().NoError(err)
		s.Equal(next, got)
	})

	s.Run("replaying the same expected version conflicts", func() {
		err := s.store.CompareAndUpdate(s.ctx, doc.ID, doc.Updated, s.withService(doc, doc.Updated+2))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("unknown id fails with ErrNotFound", func() {
		err := s.store.CompareAndUpdate(s.ctx, "did:test:missing", 1, next)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *Suite) TestMarkDeactivated() {
	doc := s.newDocument()
	s.Require().NoError(s.store.Create(s.ctx, doc))

	s.Run("stale expected version fails with ErrConflict", func() {
		err := s.store.MarkDeactivated(s.ctx, doc.ID, doc.Updated+5, doc.Updated+6)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Require().NoError(s.store.MarkDeactivated(s.ctx, doc.ID, doc.Updated, doc.Updated+1))

	got, err := s.store.Get(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.True(got.Deactivated)
	s.Equal(doc.Updated+1, got.Updated)
	s.Equal(doc.PublicKeys, got.PublicKeys)

	s.Run("tombstone rejects further writes", func() {
		err := s.store.CompareAndUpdate(s.ctx, doc.ID, got.Updated, s.withService(got, got.Updated+1))
		s.ErrorIs(err, sentinel.ErrInvalidState)
		err = s.store.MarkDeactivated(s.ctx, doc.ID, got.Updated, got.Updated+1)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("writers holding the pre-deactivation version lose with ErrConflict", func() {
		err := s.store.CompareAndUpdate(s.ctx, doc.ID, doc.Updated, s.withService(doc, doc.Updated+2))
		s.ErrorIs(err, sentinel.ErrConflict)
		err = s.store.MarkDeactivated(s.ctx, doc.ID, doc.Updated, doc.Updated+2)
		s.ErrorIs(err, sentinel.ErrConflict)

		stored, err := s.store.Get(s.ctx, doc.ID)
		s.Require().NoError(err)
		s.Equal(got, stored)
	})

	s.Run("unknown id fails with ErrNotFound", func() {
		err := s.store.MarkDeactivated(s.ctx, "did:test:missing", 1, 2)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *Suite) TestHistoryIsHashChained() {
	doc := s.newDocument()
	s.Require().NoError(s.store.Create(s.ctx, doc))
	next := s.withService(doc, doc.Updated+1)
	s.Require().NoError(s.store.CompareAndUpdate(s.ctx, doc.ID, doc.Updated, next))
	s.Require().NoError(s.store.MarkDeactivated(s.ctx, doc.ID, next.Updated, next.Updated+1))

	ops, err := s.store.History(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.Require().Len(ops, 3)
	s.Equal(models.OperationCreate, ops[0].Kind)
	s.Equal(models.OperationUpdate, ops[1].Kind)
	s.Equal(models.OperationDeactivate, ops[2].Kind)
	s.Equal(models.DocumentHash(next), ops[1].DocumentHash)
	s.NoError(models.VerifyChain(ops))
}

func (s *Suite) TestConcurrentUpdatesFromOneSnapshot() {
	doc := s.newDocument()
	s.Require().NoError(s.store.Create(s.ctx, doc))

	const writers = 8
	var committed, conflicted atomic.Int32
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		next := s.withService(doc, doc.Updated+int64(i)+1)
		g.Go(func() error {
			err := s.store.CompareAndUpdate(s.ctx, doc.ID, doc.Updated, next)
			switch {
			case err == nil:
				committed.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.EqualValues(1, committed.Load())
	s.EqualValues(writers-1, conflicted.Load())

	ops, err := s.store.History(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.Len(ops, 2)
}

func (s *Suite) TestConcurrentCreatesOfOneID() {
	doc := s.newDocument()

	const writers = 8
	var created atomic.Int32
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			err := s.store.Create(s.ctx, doc)
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyExists):
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.EqualValues(1, created.Load())
}
