package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/blockbridge/internal/testutil"
	"github.com/vnykmshr/blockbridge/pkg/bridge"
	"github.com/vnykmshr/blockbridge/pkg/resource/redispool"
)

func openRedis(t *testing.T, poolSize int) (*redispool.Pool, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	config := redispool.DefaultConfig()
	config.URL = "redis://" + mr.Addr()
	config.PoolSize = poolSize
	pool, err := redispool.Open(config)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool, mr
}

func TestRedisCounterFanOut(t *testing.T) {
	h := newHandle(t, 8)
	cache, mr := openRedis(t, 3)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	const callers = 30
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := bridge.RunBlocking(gctx, h, cache, func(ctx context.Context, conn *redis.Conn) (int64, error) {
				return conn.Incr(ctx, "page:views").Result()
			}, bridge.WithName("incr_views")).Await(gctx)
			return err
		})
	}
	testutil.AssertNoError(t, g.Wait())

	got, err := mr.Get("page:views")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got, fmt.Sprint(callers))
	testutil.AssertEqual(t, cache.Stats().TotalConns <= 3, true)
}

func TestRedisPipelinedSession(t *testing.T) {
	h := newHandle(t, 2)
	cache, mr := openRedis(t, 2)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	// One lease is one connection, so MULTI/EXEC stays on it.
	_, err := bridge.RunBlocking(ctx, h, cache, func(ctx context.Context, conn *redis.Conn) ([]redis.Cmder, error) {
		return conn.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, "session:42", "user", "ada", "role", "admin")
			p.Expire(ctx, "session:42", time.Hour)
			return nil
		})
	}).Await(ctx)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, mr.HGet("session:42", "user"), "ada")
	if ttl := mr.TTL("session:42"); ttl != time.Hour {
		t.Fatalf("ttl = %v, want 1h", ttl)
	}
}

func TestRedisServerGone(t *testing.T) {
	h := newHandle(t, 1)
	cache, mr := openRedis(t, 1)
	mr.Close()

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	var ran bool
	_, err := bridge.RunBlocking(ctx, h, cache, func(ctx context.Context, conn *redis.Conn) (string, error) {
		ran = true
		return conn.Get(ctx, "anything").Result()
	}).Await(ctx)
	testutil.AssertEqual(t, bridge.KindOf(err), bridge.KindResourceAcquisitionFailed)
	testutil.AssertEqual(t, ran, false)
}
