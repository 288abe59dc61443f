package security

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, nil)
	defer rl.Stop()

	if rl.burst != 20 {
		t.Errorf("burst = %d, want 20", rl.burst)
	}
	if rl.maxEntries != DefaultRateLimitMaxEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultRateLimitMaxEntries)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 5, slog.Default())
	defer rl.Stop()

	now := time.Now()
	for i := 0; i < 5; i++ {
		if !rl.allowAt("10.0.0.1", now) {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if rl.allowAt("10.0.0.1", now) {
		t.Error("request beyond burst should be limited")
	}
	if !rl.allowAt("10.0.0.2", now) {
		t.Error("a different identifier should have its own bucket")
	}
}

func TestRateLimiter_RefillOverTime(t *testing.T) {
	rl := NewRateLimiter(2, 2, slog.Default())
	defer rl.Stop()

	now := time.Now()
	rl.allowAt("id", now)
	rl.allowAt("id", now)
	if rl.allowAt("id", now) {
		t.Fatal("bucket should be empty")
	}

	if !rl.allowAt("id", now.Add(600*time.Millisecond)) {
		t.Error("bucket should have refilled one token after 600ms at 2 req/s")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(10, 10, 2, slog.Default())
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // a is now most recently used
	rl.Allow("c") // evicts b

	if got := rl.Size(); got != 2 {
		t.Fatalf("Size() = %d, want 2", got)
	}
	if _, ok := rl.limiters["b"]; ok {
		t.Error("least recently used identifier should have been evicted")
	}
	if _, ok := rl.limiters["a"]; !ok {
		t.Error("recently used identifier should be kept")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 20, slog.Default())
	defer rl.Stop()

	base := time.Now()
	rl.allowAt("old-1", base.Add(-2*time.Hour))
	rl.allowAt("old-2", base.Add(-time.Hour))
	rl.allowAt("fresh", base)

	removed := rl.Cleanup(base.Add(-30 * time.Minute))

	if removed != 2 {
		t.Errorf("Cleanup() removed %d, want 2", removed)
	}
	if _, ok := rl.limiters["fresh"]; !ok {
		t.Error("fresh identifier should survive cleanup")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(100, 100, slog.Default())
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rl.Allow(fmt.Sprintf("identifier-%d", id))
			}
		}(i)
	}
	wg.Wait()

	if got := rl.Size(); got != 10 {
		t.Errorf("Size() = %d, want 10", got)
	}
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(10, 20, slog.Default())
	rl.Stop()
	rl.Stop()
}
