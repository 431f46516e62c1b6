package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "didledger/pkg/platform/audit"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("evicts the oldest event at capacity", func(t *testing.T) {
		s := NewInMemoryStore(2)
		for _, did := range []string{"a", "b", "c"} {
			require.NoError(t, s.Append(ctx, audit.Event{DID: did, Action: audit.ActionDIDCreated}))
		}

		gone, err := s.ListByDID(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, gone)

		recent, err := s.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "c", recent[0].DID)
		assert.Equal(t, "b", recent[1].DID)
	})

	t.Run("filters by identifier in arrival order", func(t *testing.T) {
		s := NewInMemoryStore(0)
		require.NoError(t, s.Append(ctx, audit.Event{DID: "x", Action: audit.ActionDIDCreated}))
		require.NoError(t, s.Append(ctx, audit.Event{DID: "y", Action: audit.ActionDIDCreated}))
		require.NoError(t, s.Append(ctx, audit.Event{DID: "x", Action: audit.ActionDIDDeactivated}))

		events, err := s.ListByDID(ctx, "x")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, audit.ActionDIDDeactivated, events[1].Action)

		s.Clear()
		recent, err := s.ListRecent(ctx, 5)
		require.NoError(t, err)
		assert.Empty(t, recent)
	})
}
