package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "didledger/pkg/platform/audit"
	"didledger/pkg/platform/audit/store/memory"
	"didledger/pkg/platform/middleware/metadata"
	"didledger/pkg/requestcontext"
)

type failingStore struct {
	*memory.InMemoryStore
}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("disk full")
}

func TestPublisherEmit(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-1")
	ctx = metadata.WithClient(ctx, metadata.Client{IP: "10.0.0.9"})

	t.Run("fills category and request context", func(t *testing.T) {
		store := memory.NewInMemoryStore(0)
		p := audit.NewPublisher(store)

		require.NoError(t, p.Emit(ctx, audit.Event{DID: "did:web:a", Action: audit.ActionAuthorizationFailed, Reason: "bad signature"}))

		events, err := p.List(ctx, "did:web:a")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.CategorySecurity, events[0].Category)
		assert.Equal(t, now, events[0].Timestamp)
		assert.Equal(t, "req-1", events[0].RequestID)
		assert.Equal(t, "10.0.0.9", events[0].ClientIP)
	})

	t.Run("sampler drops operations events only", func(t *testing.T) {
		store := memory.NewInMemoryStore(0)
		p := audit.NewPublisher(store, audit.WithSampler(audit.NewSampler(0)))

		require.NoError(t, p.Emit(ctx, audit.Event{DID: "did:web:a", Action: audit.ActionWriteConflict}))
		require.NoError(t, p.Emit(ctx, audit.Event{DID: "did:web:a", Action: audit.ActionDIDCreated}))

		events, err := store.ListByDID(ctx, "did:web:a")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, audit.ActionDIDCreated, events[0].Action)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		p := audit.NewPublisher(failingStore{memory.NewInMemoryStore(0)})
		err := p.Emit(ctx, audit.Event{DID: "did:web:a", Action: audit.ActionDIDCreated})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})
}
