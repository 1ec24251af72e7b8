package ratelimiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowConsumesBurst(t *testing.T) {
	rl := New(Options{MaxRatePerSecond: 1, MaxBurst: 3})

	assert.True(t, rl.Allow("client"))
	assert.True(t, rl.Allow("client"))
	assert.True(t, rl.Allow("client"))
	assert.False(t, rl.Allow("client"))
}

func TestRateLimiter_SourcesAreIndependent(t *testing.T) {
	rl := New(Options{MaxRatePerSecond: 1, MaxBurst: 1})

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
}

func TestRateLimiter_RefillRestoresTokens(t *testing.T) {
	rl := New(Options{MaxRatePerSecond: 1000, MaxBurst: 2})

	assert.True(t, rl.Allow("client"))
	assert.True(t, rl.Allow("client"))
	assert.False(t, rl.Allow("client"))

	// At 1000 tokens/sec a few milliseconds is enough to refill.
	time.Sleep(10 * time.Millisecond)
	assert.True(t, rl.Allow("client"))
}

func TestRateLimiter_RefillCapsAtMaxBurst(t *testing.T) {
	rl := New(Options{MaxRatePerSecond: 1000, MaxBurst: 2})

	assert.True(t, rl.Allow("client"))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 2, rl.Remaining("client"))
}

func TestRateLimiter_GetSourceKey(t *testing.T) {
	rl := New(Options{MaxRatePerSecond: 1, SourceHeaderKey: "X-Forwarded-For"})

	r := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", rl.GetSourceKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", rl.GetSourceKey(r))
}

func TestInMemoryCache_Expiration(t *testing.T) {
	cache := NewInMemory()
	defer cache.Close()

	assert.NoError(t, cache.SetWithExpiration("key", 5, 10*time.Millisecond))

	v, err := cache.Get("key")
	assert.NoError(t, err)
	assert.Equal(t, 5, v)

	time.Sleep(20 * time.Millisecond)
	_, err = cache.Get("key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
