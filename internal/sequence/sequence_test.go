package sequence

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryIsMonotonicPerKey(t *testing.T) {
	seq := NewMemory()
	ctx := context.Background()

	first, err := seq.Next(ctx, "20261016")
	require.NoError(t, err)
	second, err := seq.Next(ctx, "20261016")
	require.NoError(t, err)
	other, err := seq.Next(ctx, "20261017")
	require.NoError(t, err)

	require.Equal(t, int64(1), first)
	require.Equal(t, int64(2), second)
	require.Equal(t, int64(1), other)
}

func TestMemoryReseedOnlyRaises(t *testing.T) {
	seq := NewMemory()
	ctx := context.Background()

	require.NoError(t, seq.Reseed(ctx, "20261016", 20))
	n, err := seq.Next(ctx, "20261016")
	require.NoError(t, err)
	require.Equal(t, int64(21), n)

	require.NoError(t, seq.Reseed(ctx, "20261016", 5))
	n, err = seq.Next(ctx, "20261016")
	require.NoError(t, err)
	require.Equal(t, int64(22), n)
}

func TestMemoryConcurrentDrawsAreUnique(t *testing.T) {
	seq := NewMemory()
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.Next(ctx, "day")
			require.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, 50)
}

func TestRedisSequencer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	seq := NewRedisWithClient(client)
	t.Cleanup(func() { _ = seq.Close() })
	ctx := context.Background()

	require.NoError(t, seq.Ping(ctx))

	first, err := seq.Next(ctx, "20261016")
	require.NoError(t, err)
	second, err := seq.Next(ctx, "20261016")
	require.NoError(t, err)
	require.Equal(t, int64(1), first)
	require.Equal(t, int64(2), second)

	require.True(t, mr.Exists("tokoledger:seq:20261016"))
	require.Positive(t, mr.TTL("tokoledger:seq:20261016"))
}

func TestRedisReseedAfterFlush(t *testing.T) {
	mr := miniredis.RunT(t)
	seq := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = seq.Close() })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := seq.Next(ctx, "20261016")
		require.NoError(t, err)
	}
	mr.FlushAll()

	require.NoError(t, seq.Reseed(ctx, "20261016", 3))
	n, err := seq.Next(ctx, "20261016")
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	require.NoError(t, seq.Reseed(ctx, "20261016", 1))
	n, err = seq.Next(ctx, "20261016")
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
	require.Positive(t, mr.TTL("tokoledger:seq:20261016"))
}
