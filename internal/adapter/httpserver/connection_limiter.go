package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	connectionsPerSecondPerIP = 5
	connectionBurstPerIP      = 10
	idleLimiterTTL            = 10 * time.Minute
)

// limitReason labels ConnectionsRejected.
type limitReason string

const (
	reasonGlobal limitReason = "global_limit"
	reasonPerIP  limitReason = "per_ip_limit"
	reasonRate   limitReason = "rate_limit"
)

// globalLimiter caps concurrent websocket connections on this instance.
type globalLimiter struct {
	current atomic.Int64
	max     int64
}

func (l *globalLimiter) acquire() bool {
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

func (l *globalLimiter) release() {
	l.current.Add(-1)
}

type ipLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func (l *ipLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *ipLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.ips[ip]; count > 1 {
		l.ips[ip] = count - 1
	} else {
		delete(l.ips, ip)
	}
}

func (l *ipLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ips[ip]
}

// dialRateLimiter throttles how fast a single IP may open new connections.
type dialRateLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limiters  map[string]*dialEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type dialEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *dialRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-idleLimiterTTL)
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.cleanupAt = now.Add(idleLimiterTTL / 2)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &dialEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// connectionLimits combines the dial rate, global and per-IP limits applied
// before a websocket upgrade.
type connectionLimits struct {
	global  *globalLimiter
	perIP   *ipLimiter
	dial    *dialRateLimiter
	metrics *metrics.BroadcastMetrics
}

func newConnectionLimits(globalMax, perIPMax int, m *metrics.BroadcastMetrics) *connectionLimits {
	return newConnectionLimitsWithClock(globalMax, perIPMax, connectionsPerSecondPerIP, connectionBurstPerIP, clockwork.NewRealClock(), m)
}

func newConnectionLimitsWithClock(globalMax, perIPMax int, perSecond float64, burst int, clock clockwork.Clock, m *metrics.BroadcastMetrics) *connectionLimits {
	return &connectionLimits{
		global: &globalLimiter{max: int64(globalMax)},
		perIP:  &ipLimiter{ips: make(map[string]int), maxPer: perIPMax},
		dial: &dialRateLimiter{
			clock:     clock,
			limiters:  make(map[string]*dialEntry),
			rate:      rate.Limit(perSecond),
			burst:     burst,
			cleanupAt: clock.Now().Add(idleLimiterTTL / 2),
		},
		metrics: m,
	}
}

// acquire reserves a slot for ip. The rate check runs first since it holds no slot.
func (l *connectionLimits) acquire(ip string) (bool, limitReason) {
	if !l.dial.allow(ip) {
		return l.reject(reasonRate)
	}
	if !l.global.acquire() {
		return l.reject(reasonGlobal)
	}
	if !l.perIP.acquire(ip) {
		l.global.release()
		return l.reject(reasonPerIP)
	}
	return true, ""
}

func (l *connectionLimits) release(ip string) {
	l.perIP.release(ip)
	l.global.release()
}

func (l *connectionLimits) reject(reason limitReason) (bool, limitReason) {
	if l.metrics != nil {
		l.metrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
	}
	return false, reason
}
