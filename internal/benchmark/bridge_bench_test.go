package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/vnykmshr/blockbridge/pkg/bridge"
	"github.com/vnykmshr/blockbridge/pkg/common/logging"
	"github.com/vnykmshr/blockbridge/pkg/resource/static"
)

func newHandle(b *testing.B, workers int) *bridge.Handle {
	b.Helper()
	config := bridge.DefaultConfig()
	config.Workers = workers
	config.Logger = logging.Discard()
	h, err := bridge.NewHandle(config)
	if err != nil {
		b.Fatalf("failed to create handle: %v", err)
	}
	return h
}

// BenchmarkGo measures the round trip of an offloaded closure with no
// resource.
func BenchmarkGo(b *testing.B) {
	h := newHandle(b, 4)
	defer h.Close(context.Background())
	ctx := context.Background()
	fn := func(context.Context) (int, error) { return 1, nil }

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := bridge.Go(ctx, h, fn).Await(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRunBlocking measures offloaded calls contending for a fixed set
// of resources.
func BenchmarkRunBlocking(b *testing.B) {
	for _, size := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("%dresources", size), func(b *testing.B) {
			h := newHandle(b, 8)
			defer h.Close(context.Background())

			resources := make([]int, size)
			pool, err := static.New(resources...)
			if err != nil {
				b.Fatal(err)
			}
			defer pool.Close()

			ctx := context.Background()
			fn := func(_ context.Context, r int) (int, error) { return r, nil }

			b.ReportAllocs()
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if _, err := bridge.RunBlocking(ctx, h, pool, fn).Await(ctx); err != nil {
						b.Error(err)
						return
					}
				}
			})
		})
	}
}

// BenchmarkStaticCheckout measures checkout and release without the bridge.
func BenchmarkStaticCheckout(b *testing.B) {
	pool, err := static.New(1, 2, 3, 4)
	if err != nil {
		b.Fatal(err)
	}
	defer pool.Close()
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			lease, err := pool.Checkout(ctx)
			if err != nil {
				b.Error(err)
				return
			}
			lease.Release()
		}
	})
}
