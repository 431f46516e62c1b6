//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "didledger/pkg/platform/audit"
	"didledger/pkg/platform/audit/store/postgres"
	txcontext "didledger/pkg/platform/tx"
	"didledger/pkg/testutil/containers"
)

func TestPostgresAuditStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	pg := containers.GetManager().GetPostgres(t)
	store := postgres.New(pg.DB)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, pg.TruncateTables(ctx, "did_audit_events"))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("append and list by identifier", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, audit.Event{
			Timestamp: base, DID: "did:web:pg", Action: audit.ActionDIDCreated, RequestID: "r1",
		}))
		require.NoError(t, store.Append(ctx, audit.Event{
			Timestamp: base.Add(time.Second), DID: "did:web:pg", Action: audit.ActionAuthorizationFailed, Reason: "bad signature",
		}))

		events, err := store.ListByDID(ctx, "did:web:pg")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, audit.CategoryCompliance, events[0].Category)
		assert.True(t, base.Equal(events[0].Timestamp))
		assert.Equal(t, audit.CategorySecurity, events[1].Category)
		assert.Equal(t, "bad signature", events[1].Reason)

		recent, err := store.ListRecent(ctx, 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, audit.ActionAuthorizationFailed, recent[0].Action)
	})

	t.Run("append joins a rolled back transaction", func(t *testing.T) {
		err := txcontext.Run(ctx, pg.DB, func(ctx context.Context, _ *sql.Tx) error {
			require.NoError(t, store.Append(ctx, audit.Event{Timestamp: base, DID: "did:web:rollback", Action: audit.ActionDIDCreated}))
			return errors.New("abort")
		})
		require.Error(t, err)

		events, err := store.ListByDID(ctx, "did:web:rollback")
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
