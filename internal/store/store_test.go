package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/db"
)

func setupSQLite(t *testing.T) (*SQLiteStore, *sql.DB) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	sqlDB, err := db.Open(dbFile)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return NewSQLiteStore(sqlDB), sqlDB
}

func setupRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "papertrade:")
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "cryptoPortfolio")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "cryptoPortfolio", []byte(`{"bitcoin":{"amount":1,"avgPrice":100}}`)))
	got, err := s.Get(ctx, "cryptoPortfolio")
	require.NoError(t, err)
	assert.JSONEq(t, `{"bitcoin":{"amount":1,"avgPrice":100}}`, string(got))

	require.NoError(t, s.Put(ctx, "cryptoPortfolio", []byte(`{}`)))
	got, err = s.Get(ctx, "cryptoPortfolio")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(got))

	got, err = s.Get(ctx, " cryptoPortfolio ")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(got))
}

func TestSQLiteStoreGetPut(t *testing.T) {
	s, sqlDB := setupSQLite(t)
	defer sqlDB.Close()

	exerciseStore(t, s)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	sqlDB, err := db.Open(dbFile)
	require.NoError(t, err)
	require.NoError(t, NewSQLiteStore(sqlDB).Put(ctx, "k", []byte("v1")))
	require.NoError(t, sqlDB.Close())

	sqlDB, err = db.Open(dbFile)
	require.NoError(t, err)
	defer sqlDB.Close()

	got, err := NewSQLiteStore(sqlDB).Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))
}

func TestRedisStoreGetPut(t *testing.T) {
	exerciseStore(t, setupRedis(t))
}

func TestRedisStoreUsesPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "papertrade:")
	require.NoError(t, s.Put(context.Background(), "cryptoPortfolio", []byte("{}")))

	raw, err := mr.Get("papertrade:cryptoPortfolio")
	require.NoError(t, err)
	assert.Equal(t, "{}", raw)
}
