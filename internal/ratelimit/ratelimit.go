// ABOUTME: Per-client request rate limiting for the public endpoints
// ABOUTME: One token bucket per client key, with bounded and expiring bookkeeping

package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/frontdesk-gateway/internal/auth"
)

// Config sets the allowance for each client.
type Config struct {
	RequestsPerMinute int
	Burst             int

	// Bounds for the in-memory client table.
	MaxClients int
	ClientTTL  time.Duration
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks one token bucket per client key.
type Limiter struct {
	limit      rate.Limit
	burst      int
	maxClients int
	ttl        time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

// New returns nil when cfg.RequestsPerMinute is not positive; a nil Limiter
// admits everything.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10_000
	}
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = 10 * time.Minute
	}
	return &Limiter{
		limit:      rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:      cfg.Burst,
		maxClients: cfg.MaxClients,
		ttl:        cfg.ClientTTL,
		clients:    make(map[string]*client),
	}
}

// Allow spends one token for key at now. When denied it returns the whole
// number of seconds until a token is available.
func (l *Limiter) Allow(key string, now time.Time) (bool, int) {
	if l == nil {
		return true, 0
	}

	lim := l.clientFor(key, now)
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, 1
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, int(math.Ceil(delay.Seconds()))
	}
	return true, 0
}

func (l *Limiter) clientFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.clients[key]; ok {
		c.lastSeen = now
		return c.limiter
	}

	if len(l.clients) >= l.maxClients {
		l.gcLocked(now)
		// Still full: drop an arbitrary client rather than grow without bound
		if len(l.clients) >= l.maxClients {
			for k := range l.clients {
				delete(l.clients, k)
				break
			}
		}
	}

	c := &client{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.clients[key] = c
	return c.limiter
}

func (l *Limiter) gcLocked(now time.Time) {
	for k, c := range l.clients {
		if now.Sub(c.lastSeen) > l.ttl {
			delete(l.clients, k)
		}
	}
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// ClientKey identifies the caller: the token subject when authenticated,
// otherwise the remote IP.
func ClientKey(r *http.Request) string {
	if id := auth.FromContext(r.Context()); id != nil {
		return "sub:" + id.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := l.Allow(ClientKey(r), time.Now())
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
