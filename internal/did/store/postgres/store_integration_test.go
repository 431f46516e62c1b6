//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"didledger/internal/did/store/postgres"
	"didledger/internal/did/store/storetest"
	"didledger/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	store := postgres.New(pg.DB)
	require.NoError(t, store.Migrate(context.Background()))

	storetest.Run(t, func(t *testing.T) storetest.Store {
		require.NoError(t, pg.TruncateTables(context.Background(), "did_operations", "did_documents"))
		return store
	})
}
