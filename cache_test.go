package oikos

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oikos-consulting/oikos/model"
)

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)
	clock := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.Set(ctx, cacheKeyBlogStats, []byte(`{"total":1}`))
	if v, ok := c.Get(ctx, cacheKeyBlogStats); !ok || string(v) != `{"total":1}` {
		t.Fatalf("Get = %q, %v", v, ok)
	}

	clock = clock.Add(time.Minute)
	if _, ok := c.Get(ctx, cacheKeyBlogStats); ok {
		t.Error("expected entry to expire after ttl")
	}
}

func TestMemoryCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Hour)
	c.Set(ctx, cacheKeyBlogStats, []byte(`1`))
	c.Set(ctx, cacheKeyActivity, []byte(`[]`))
	c.Invalidate(ctx)
	for _, k := range cacheKeys {
		if _, ok := c.Get(ctx, k); ok {
			t.Errorf("%s survived Invalidate", k)
		}
	}
}

func TestCachedLoadsOnce(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Hour)
	calls := 0
	load := func(context.Context) (model.BlogStats, error) {
		calls++
		return model.BlogStats{Total: 4, Published: 3}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := cached(ctx, c, cacheKeyBlogStats, load)
		if err != nil {
			t.Fatalf("cached failed: %v", err)
		}
		if got.Total != 4 || got.Published != 3 {
			t.Errorf("cached = %+v", got)
		}
	}
	if calls != 1 {
		t.Errorf("load called %d times, want 1", calls)
	}

	c.Invalidate(ctx)
	if _, err := cached(ctx, c, cacheKeyBlogStats, load); err != nil {
		t.Fatalf("cached failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("load called %d times after invalidate, want 2", calls)
	}
}

func TestCachedDoesNotStoreErrors(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Hour)
	boom := errors.New("boom")
	_, err := cached(ctx, c, cacheKeyProjectStats, func(context.Context) (model.ProjectStats, error) {
		return model.ProjectStats{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("cached = %v, want boom", err)
	}
	if _, ok := c.Get(ctx, cacheKeyProjectStats); ok {
		t.Error("failed load was cached")
	}
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("OIKOS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("OIKOS_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, url, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer c.Close()
	c.prefix = "oikos-test:"

	c.Set(ctx, cacheKeyBlogStats, []byte(`{"total":2}`))
	if v, ok := c.Get(ctx, cacheKeyBlogStats); !ok || string(v) != `{"total":2}` {
		t.Fatalf("Get = %q, %v", v, ok)
	}
	c.Invalidate(ctx)
	if _, ok := c.Get(ctx, cacheKeyBlogStats); ok {
		t.Error("entry survived Invalidate")
	}
}
