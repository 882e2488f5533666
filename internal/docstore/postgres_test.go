package docstore_test

import (
	"context"
	"os"
	"testing"

	"invoicehub/internal/docstore"
	"invoicehub/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestPostgresStore runs the store contract against a real database. It is skipped unless
// TEST_DATABASE_URL points at a disposable database; every subtest truncates documents.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = migrations.Apply(ctx, pool, zap.NewNop())
	require.NoError(t, err)

	runStoreSuite(t, func(t *testing.T) docstore.Store {
		_, err := pool.Exec(ctx, "TRUNCATE documents")
		require.NoError(t, err)
		return docstore.NewPostgresStore(pool)
	})
}
