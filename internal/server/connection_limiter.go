package server

import (
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// GlobalConnectionLimiter limits total concurrent connections per instance.
// Uses atomic operations for lock-free counting.
type GlobalConnectionLimiter struct {
	current atomic.Int64
	max     int64
}

// NewGlobalConnectionLimiter creates a limiter with the specified maximum connections.
func NewGlobalConnectionLimiter(max int64) *GlobalConnectionLimiter {
	return &GlobalConnectionLimiter{max: max}
}

// Acquire attempts to acquire a connection slot.
// Returns true if successful, false if at capacity.
func (l *GlobalConnectionLimiter) Acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release releases a connection slot.
func (l *GlobalConnectionLimiter) Release() {
	l.current.Add(-1)
}

// Current returns the current number of connections.
func (l *GlobalConnectionLimiter) Current() int64 {
	return l.current.Load()
}

// Max returns the maximum allowed connections.
func (l *GlobalConnectionLimiter) Max() int64 {
	return l.max
}

// CapacityPct returns the current capacity utilization as a percentage.
func (l *GlobalConnectionLimiter) CapacityPct() float64 {
	if l.max == 0 {
		return 0
	}
	return float64(l.Current()) / float64(l.max) * 100
}

// IPConnectionLimiter limits concurrent connections per IP address and rate
// limits new connection attempts per IP. Protects against single-source abuse.
type IPConnectionLimiter struct {
	mu       sync.Mutex
	ips      map[string]*ipEntry
	maxPer   int
	ratePerS float64
}

type ipEntry struct {
	count   int
	limiter *rate.Limiter
}

// NewIPConnectionLimiter creates a limiter with the specified per-IP
// concurrent maximum and accept rate (connections per second, burst = rate).
func NewIPConnectionLimiter(maxPer int, ratePerSecond float64) *IPConnectionLimiter {
	return &IPConnectionLimiter{
		ips:      make(map[string]*ipEntry),
		maxPer:   maxPer,
		ratePerS: ratePerSecond,
	}
}

func (l *IPConnectionLimiter) entry(ip string) *ipEntry {
	e := l.ips[ip]
	if e == nil {
		burst := int(l.ratePerS)
		if burst < 1 {
			burst = 1
		}
		e = &ipEntry{limiter: rate.NewLimiter(rate.Limit(l.ratePerS), burst)}
		l.ips[ip] = e
	}
	return e
}

// AllowRate reports whether a new connection attempt from ip is within the
// accept rate.
func (l *IPConnectionLimiter) AllowRate(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry(ip).limiter.Allow()
}

// Acquire attempts to acquire a connection slot for the given IP.
// Returns true if successful, false if IP is at its limit.
func (l *IPConnectionLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(ip)
	if e.count >= l.maxPer {
		return false
	}
	e.count++
	return true
}

// Release releases a connection slot for the given IP.
func (l *IPConnectionLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.ips[ip]
	if e == nil {
		return
	}
	if e.count > 0 {
		e.count--
	}
	if e.count == 0 {
		delete(l.ips, ip)
	}
}

// Count returns the current connection count for the given IP.
func (l *IPConnectionLimiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e := l.ips[ip]; e != nil {
		return e.count
	}
	return 0
}

// UniqueIPs returns the number of unique IPs with active connections.
func (l *IPConnectionLimiter) UniqueIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ips)
}
