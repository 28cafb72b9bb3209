package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisMarkClaimsOnce(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	dd := NewRedis(client, time.Minute)

	first, err := dd.Mark(ctx, "req-1")
	if err != nil || !first {
		t.Fatalf("expected first mark to claim, got first=%v err=%v", first, err)
	}
	second, err := dd.Mark(ctx, "req-1")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if second {
		t.Fatalf("expected second mark to be rejected")
	}

	seen, err := dd.Seen(ctx, "req-1")
	if err != nil || !seen {
		t.Fatalf("expected req-1 to be seen, got seen=%v err=%v", seen, err)
	}
	seen, err = dd.Seen(ctx, "req-2")
	if err != nil || seen {
		t.Fatalf("expected req-2 to be unseen, got seen=%v err=%v", seen, err)
	}
}

func TestMemoryMarkConcurrentClaim(t *testing.T) {
	dd := NewMemory()
	const callers = 16

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := dd.Mark(context.Background(), "same-id")
			if err != nil {
				t.Errorf("mark: %v", err)
				return
			}
			if first {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
}
