package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("RequiresKey", func(t *testing.T) {
		if err := cache.Set(ctx, "", []byte("value"), time.Minute); err == nil {
			t.Error("expected error for empty key")
		}
		if _, err := cache.Get(ctx, ""); err == nil {
			t.Error("expected error for empty key")
		}
	})

	t.Run("RunReport", func(t *testing.T) {
		report := &domain.RunReport{
			ID:           "run-001",
			SourceDigest: "abc123",
			CleanRows:    42,
			Snapshot: domain.MetricsSnapshot{
				Threshold: 0.7,
				AvgRisk:   0.1234,
				MerchantRanking: []domain.MerchantAggregate{
					{MerchantID: "MRC_001", TotalTransactions: 42},
				},
			},
			Insights: []domain.Insight{
				{Kind: domain.InsightFraudRate, Severity: domain.SeverityAlert, Message: "elevated"},
			},
		}

		if err := cache.SetRunReport(ctx, "abc123", report, time.Minute); err != nil {
			t.Fatalf("SetRunReport failed: %v", err)
		}

		got, err := cache.GetRunReport(ctx, "abc123")
		if err != nil {
			t.Fatalf("GetRunReport failed: %v", err)
		}
		if got == nil || got.ID != "run-001" || got.CleanRows != 42 {
			t.Fatalf("unexpected report: %+v", got)
		}
		if got.Snapshot.MerchantRanking[0].MerchantID != "MRC_001" || got.Insights[0].Severity != domain.SeverityAlert {
			t.Errorf("nested fields not preserved: %+v", got)
		}

		miss, err := cache.GetRunReport(ctx, "other")
		if err != nil || miss != nil {
			t.Errorf("expected nil, nil for unknown digest, got %v, %v", miss, err)
		}

		if _, err := cache.GetRunReport(ctx, ""); err == nil {
			t.Error("expected error for empty digest")
		}
	})

	t.Run("CorruptReport", func(t *testing.T) {
		_ = cache.Set(ctx, reportKey("bad"), []byte("{not json"), time.Minute)
		if _, err := cache.GetRunReport(ctx, "bad"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})

	t.Run("RedisUnavailable", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "redis", RedisAddr: "127.0.0.1:1"})
		if err == nil {
			t.Error("expected connection error for unreachable redis")
		}
	})
}
