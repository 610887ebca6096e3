// ABOUTME: Per-client token bucket limiting for the contact form
// ABOUTME: Idle client buckets are dropped by a background janitor

package web

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one limiter per client key.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rate    rate.Limit
	burst   int
	idle    time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

func newClientLimiter(r rate.Limit, burst int, idle time.Duration) *clientLimiter {
	l := &clientLimiter{
		clients: make(map[string]*clientBucket),
		rate:    r,
		burst:   burst,
		idle:    idle,
		done:    make(chan struct{}),
	}
	go l.cleanupLoop(idle)
	return l
}

// Allow reports whether key may proceed now.
func (l *clientLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

// cleanup drops buckets idle for longer than the idle window.
func (l *clientLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.clients {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.clients, key)
		}
	}
}

func (l *clientLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			l.cleanup(now)
		}
	}
}

// Close stops the cleanup goroutine.
func (l *clientLimiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// clientKey identifies the submitting client by remote IP.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
