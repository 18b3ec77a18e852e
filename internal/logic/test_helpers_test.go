package logic

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/adengine/internal/db"
)

// setupTestRedis starts an in-process redis and wraps it in a RedisStore.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *db.RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, db.NewRedisStoreFromClient(client)
}
