package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newTestLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client, zerolog.Nop(), cfg), mr
}

func request(method, path, ip string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	r.RemoteAddr = ip + ":1234"
	return r
}

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{})
	rl.WithLimits([]RateLimit{{"POST", "/rooms/*/messages", 3, time.Minute, roomIPKey}})
	h := rl.Middleware(okHandler)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request("POST", "/rooms/ABC/messages", "10.1.1.1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request("POST", "/rooms/ABC/messages", "10.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Limits are per room and per client
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, request("POST", "/rooms/XYZ/messages", "10.1.1.1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, request("POST", "/rooms/ABC/messages", "10.2.2.2"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterWhitelist(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{Whitelist: []string{"127.0.0.1", "10.0.0.0/8", "bogus/cidr"}})
	rl.WithLimits([]RateLimit{{"GET", "/rooms/*", 1, time.Minute, ipKey}})
	h := rl.Middleware(okHandler)

	for _, ip := range []string{"127.0.0.1", "10.9.9.9"} {
		for i := 0; i < 3; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, request("GET", "/rooms/ABC", ip))
			assert.Equal(t, http.StatusOK, rec.Code, ip)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request("GET", "/rooms/ABC", "192.168.1.1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, request("GET", "/rooms/ABC", "192.168.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiterAutoBlock(t *testing.T) {
	rl, mr := newTestLimiter(t, RateLimiterConfig{AutoBlockEnabled: true})
	rl.WithLimits([]RateLimit{{"POST", "/rooms", 1, time.Minute, ipKey}})
	h := rl.Middleware(okHandler)

	for i := 0; i < 11; i++ {
		h.ServeHTTP(httptest.NewRecorder(), request("POST", "/rooms", "10.3.3.3"))
	}
	assert.True(t, mr.Exists("blocked:ip:10.3.3.3"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request("GET", "/health", "10.3.3.3"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rl, mr := newTestLimiter(t, RateLimiterConfig{})
	rl.WithLimits([]RateLimit{{"GET", "/rooms/*", 1, time.Minute, ipKey}})
	mr.Close()

	rec := httptest.NewRecorder()
	rl.Middleware(okHandler).ServeHTTP(rec, request("GET", "/rooms/ABC", "10.4.4.4"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMatchPattern(t *testing.T) {
	assert.True(t, matchPattern("/rooms", "/rooms"))
	assert.True(t, matchPattern("/rooms", "/rooms/"))
	assert.True(t, matchPattern("/rooms/*/messages", "/rooms/ABC/messages"))
	assert.False(t, matchPattern("/rooms/*", "/rooms/ABC/messages"))
	assert.False(t, matchPattern("/rooms", "/rooms/ABC"))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/rooms/:code", normalizePath("/rooms/ABC"))
	assert.Equal(t, "/rooms/:code/messages", normalizePath("/rooms/ABC/messages"))
	assert.Equal(t, "/rooms/:code/ws", normalizePath("/rooms/ABC/ws"))
	assert.Equal(t, "/rooms/:code/a/*", normalizePath("/rooms/ABC/a/b/c"))
	assert.Equal(t, "/rooms", normalizePath("/rooms"))
	assert.Equal(t, "/health", normalizePath("/health"))
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(okHandler)

	r := httptest.NewRequest("POST", "/rooms", strings.NewReader("name=x"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/rooms/ABC/messages?after=<script>", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/rooms/not%20a%20code/messages", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	r = httptest.NewRequest("POST", "/rooms", strings.NewReader(`{"name":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/rooms/ABC_1-x/messages", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeadersAndBodyLimit(t *testing.T) {
	h := SecurityHeaders(MaxBodySize(8)(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/rooms", strings.NewReader(`{"name":"far too long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "default-src 'none'", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestLoggerRecordsRouteAndLevel(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(Logger(zerolog.New(&buf)))
	r.Get("/rooms/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/rooms/ABC", nil))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "/rooms/{code}", entry["route"])
	assert.Equal(t, "ABC", entry["room"])
	assert.Equal(t, float64(200), entry["status"])
	assert.Equal(t, float64(2), entry["bytes"])

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nope", nil))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, float64(404), entry["status"])

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
}
