package httpx

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig is a token bucket refilled at RequestsPerWindow per Window.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// Profiles used by the attendance routes. Each can be overridden with
// RATELIMIT_{NAME}_REQUESTS, RATELIMIT_{NAME}_WINDOW_SEC and
// RATELIMIT_{NAME}_BURST.
var (
	// CheckinLimit bounds validate-qr per student. A scanner sends at most
	// one request per decoded frame, so this only trips on abuse.
	CheckinLimit = RateLimitConfig{RequestsPerWindow: 30, Window: time.Minute, Burst: 10}

	// ModerateLimit covers teacher issuance calls.
	ModerateLimit = RateLimitConfig{RequestsPerWindow: 60, Window: time.Minute, Burst: 20}

	// PublicLimit covers unauthenticated probes.
	PublicLimit = RateLimitConfig{RequestsPerWindow: 1000, Window: time.Minute, Burst: 1000}
)

func init() {
	CheckinLimit = ParseRateLimitFromEnv("CHECKIN", CheckinLimit)
	ModerateLimit = ParseRateLimitFromEnv("MODERATE", ModerateLimit)
	PublicLimit = ParseRateLimitFromEnv("PUBLIC", PublicLimit)
}

// ParseRateLimitFromEnv overrides def from RATELIMIT_{prefix}_* variables.
// Invalid or non-positive values are ignored.
func ParseRateLimitFromEnv(prefix string, def RateLimitConfig) RateLimitConfig {
	cfg := def
	if n, ok := positiveEnv("RATELIMIT_" + prefix + "_REQUESTS"); ok {
		cfg.RequestsPerWindow = n
	}
	if n, ok := positiveEnv("RATELIMIT_" + prefix + "_WINDOW_SEC"); ok {
		cfg.Window = time.Duration(n) * time.Second
	}
	if n, ok := positiveEnv("RATELIMIT_" + prefix + "_BURST"); ok {
		cfg.Burst = n
	}
	return cfg
}

func positiveEnv(key string) (int, bool) {
	n, err := strconv.Atoi(os.Getenv(key))
	return n, err == nil && n > 0
}

// KeyExtractor groups requests into buckets.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor uses the first X-Forwarded-For hop, then X-Real-IP, then
// the connection address.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// UserIDKeyExtractor uses the authenticated subject.
func UserIDKeyExtractor(r *http.Request) string {
	return UserIDFromContext(r.Context())
}

// CompositeKeyExtractor joins the non-empty keys of extractors with sep.
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(extractors))
		for _, ex := range extractors {
			if k := ex(r); k != "" {
				parts = append(parts, k)
			}
		}
		return strings.Join(parts, sep)
	}
}

// limiterStore keeps one bucket per key and forgets idle ones.
type limiterStore struct {
	limiters sync.Map // string -> *rate.Limiter
	limit    rate.Limit
	burst    int

	mu        sync.Mutex
	lastSweep time.Time
}

const sweepEvery = 5 * time.Minute

func (s *limiterStore) get(key string) *rate.Limiter {
	if l, ok := s.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := s.limiters.LoadOrStore(key, rate.NewLimiter(s.limit, s.burst))
	s.sweep()
	return l.(*rate.Limiter)
}

// sweep drops buckets that have refilled completely.
func (s *limiterStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastSweep) < sweepEvery {
		return
	}
	s.lastSweep = time.Now()

	s.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(s.burst) {
			s.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitMiddleware rejects requests over cfg with 429 and Retry-After.
// Requests without a key pass through.
func RateLimitMiddleware(cfg RateLimitConfig, key KeyExtractor) Middleware {
	store := &limiterStore{
		limit:     rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:     cfg.Burst,
		lastSweep: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				slogx.FromContext(r.Context()).Warn("rate limit: no key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			lim := store.get(k)
			if lim.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			res := lim.Reserve()
			retryAfter := max(int(res.Delay().Seconds()), 1)
			res.Cancel()

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Window", cfg.Window.String())

			slogx.FromContext(r.Context()).Warn("rate limit exceeded",
				"key", k,
				"endpoint", r.URL.Path,
				"retry_after", retryAfter,
			)
			WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded",
				"Too many requests. Please try again later.")
		})
	}
}

// RateLimitByIP buckets by client address.
func RateLimitByIP(cfg RateLimitConfig) Middleware {
	return RateLimitMiddleware(cfg, IPKeyExtractor)
}

// RateLimitByUser buckets by subject and address.
func RateLimitByUser(cfg RateLimitConfig) Middleware {
	return RateLimitMiddleware(cfg, CompositeKeyExtractor(":", UserIDKeyExtractor, IPKeyExtractor))
}
