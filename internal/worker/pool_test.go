package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPerKeyOrdering(t *testing.T) {
	p := NewPool(4, 64, zap.NewNop())
	p.Start()
	defer p.Stop()

	var mu sync.Mutex
	got := map[string][]int{}
	var wg sync.WaitGroup

	const perKey = 50
	keys := []string{"alice@example.com", "bob@example.com", "team1@conference.example.com"}
	for _, key := range keys {
		for i := 0; i < perKey; i++ {
			wg.Add(1)
			p.Submit(key, func(ctx context.Context) {
				defer wg.Done()
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			})
		}
	}
	wg.Wait()

	for _, key := range keys {
		seq := got[key]
		if len(seq) != perKey {
			t.Fatalf("%s ran %d jobs, want %d", key, len(seq), perKey)
		}
		for i, v := range seq {
			if v != i {
				t.Fatalf("%s out of order at %d: %v", key, i, seq[:i+1])
			}
		}
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewPool(2, 4, zap.NewNop())
	p.Start()
	p.Stop()
	if p.Submit("k", func(ctx context.Context) {}) {
		t.Error("Submit after Stop returned true")
	}
}

func TestStopWaitsForInflight(t *testing.T) {
	p := NewPool(1, 1, zap.NewNop())
	p.Start()

	done := make(chan struct{})
	p.Submit("k", func(ctx context.Context) {
		time.Sleep(50 * time.Millisecond)
		close(done)
	})
	p.Stop()

	select {
	case <-done:
	default:
		t.Error("Stop returned before in-flight job finished")
	}
}

func TestShardSpread(t *testing.T) {
	p := NewPool(8, 16, zap.NewNop())
	shards := map[int]bool{}
	for i := 0; i < 64; i++ {
		shards[p.shardOf(fmt.Sprintf("user%d@example.com", i))] = true
	}
	if len(shards) < 2 {
		t.Errorf("64 keys landed on %d shards", len(shards))
	}
}
