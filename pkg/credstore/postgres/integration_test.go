//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatgate/chatgate/pkg/database/migrate"
)

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:15",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() { _ = pgContainer.Terminate(ctx) }()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, migrate.Run(db))

	store := New(db)

	t.Run("load creates and is idempotent", func(t *testing.T) {
		first, err := store.Load(ctx, testSessionID)
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := store.Load(ctx, testSessionID)
		require.NoError(t, err)
		assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	})

	t.Run("meta and credentials round trip", func(t *testing.T) {
		require.NoError(t, store.UpdateMeta(ctx, testSessionID, testOwnerID, testPhone))
		require.NoError(t, store.SetCredentials(ctx, testSessionID, []byte("blob")))

		rec, err := store.Load(ctx, testSessionID)
		require.NoError(t, err)
		assert.Equal(t, testOwnerID, rec.OwnerID)
		assert.Equal(t, testPhone, rec.PhoneNumber)
		assert.Equal(t, []byte("blob"), rec.Credentials)
	})

	t.Run("keys upsert and delete", func(t *testing.T) {
		require.NoError(t, store.SetKey(ctx, testSessionID, testKeyName, []byte("v1")))
		require.NoError(t, store.SetKey(ctx, testSessionID, testKeyName, []byte("v2")))

		value, err := store.GetKey(ctx, testSessionID, testKeyName)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), value)

		require.NoError(t, store.SetKey(ctx, testSessionID, testKeyName, nil))
		value, err = store.GetKey(ctx, testSessionID, testKeyName)
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("delete cascades key rows", func(t *testing.T) {
		require.NoError(t, store.SetKey(ctx, testSessionID, testKeyName, []byte("v3")))
		require.NoError(t, store.Delete(ctx, testSessionID))

		var count int
		err := db.QueryRow(`SELECT COUNT(*) FROM session_keys WHERE session_id = $1`, testSessionID).Scan(&count)
		require.NoError(t, err)
		assert.Zero(t, count)

		rec, err := store.Load(ctx, testSessionID)
		require.NoError(t, err)
		assert.Nil(t, rec.Credentials)
	})
}
