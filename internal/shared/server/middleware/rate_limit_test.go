package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newLimitedRouter(limiter *RateLimiter, rule RateLimitRule) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(userIDKey, "user-1")
		c.Next()
	})
	r.POST("/api/v1/confirm-payment", RateLimit(limiter, "payments", rule), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestRateLimitAllowsBurstThenRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	r := newLimitedRouter(limiter, RateLimitRule{Rate: 1, Burst: 2})

	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/confirm-payment", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d expected 200, got %d", i+1, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/confirm-payment", nil))
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", resp.Header().Get("Retry-After"))
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["code"] != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %v", payload["code"])
	}
}

func TestRateLimitRefillsOverTime(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	r := newLimitedRouter(limiter, RateLimitRule{Rate: 1, Burst: 1})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/confirm-payment", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/confirm-payment", nil))
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}

	now = now.Add(1100 * time.Millisecond)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/confirm-payment", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected refill to allow request, got %d", resp.Code)
	}
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	rule := RateLimitRule{Rate: 1, Burst: 1}

	if ok, _ := limiter.Allow("user-1|payments", rule); !ok {
		t.Fatalf("expected first request allowed")
	}
	if ok, _ := limiter.Allow("user-2|payments", rule); !ok {
		t.Fatalf("expected first request allowed")
	}

	now = now.Add(DefaultLimiterIdleTTL - time.Minute)
	if ok, _ := limiter.Allow("user-2|payments", rule); !ok {
		t.Fatalf("expected refilled bucket to allow")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := limiter.Allow("user-3|payments", rule); !ok {
		t.Fatalf("expected new principal allowed")
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.limiters["user-1|payments"]; ok {
		t.Fatalf("expected idle bucket evicted")
	}
	if _, ok := limiter.limiters["user-2|payments"]; !ok {
		t.Fatalf("expected recently used bucket kept")
	}
	if len(limiter.limiters) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(limiter.limiters))
	}
}

func TestRateLimiterKeepsSlowBucketsUntilRefilled(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(func() time.Time { return now })
	slow := RateLimitRule{Rate: 1.0 / 3600, Burst: 1}

	if ok, _ := limiter.Allow("user-1|analyses", slow); !ok {
		t.Fatalf("expected first request allowed")
	}
	now = now.Add(30 * time.Minute)
	limiter.Allow("user-2|analyses", slow)

	if ok, _ := limiter.Allow("user-1|analyses", slow); ok {
		t.Fatalf("expected slow bucket to still be empty")
	}
}
