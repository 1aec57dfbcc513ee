package authapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ipThrottle is an in-memory sliding-window limiter keyed by client IP.
type ipThrottle struct {
	max    int
	window time.Duration

	mu     sync.Mutex
	hits   map[string][]time.Time
	sweeps int
}

func newIPThrottle(max int, window time.Duration) *ipThrottle {
	return &ipThrottle{max: max, window: window, hits: make(map[string][]time.Time)}
}

// allow records one attempt for ip. When the window is full it returns false
// and how long until the oldest attempt leaves the window.
func (t *ipThrottle) allow(ip net.IP, now time.Time) (bool, time.Duration) {
	if t == nil || t.max <= 0 || ip == nil {
		return true, 0
	}
	key := ip.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sweeps++
	if t.sweeps%256 == 0 {
		t.sweepLocked(now)
	}

	kept := pruneWindow(t.hits[key], now, t.window)
	if blocked, retry := evaluateWindowThrottle(now, kept, t.max, t.window); blocked {
		t.hits[key] = kept
		return false, retry
	}
	t.hits[key] = append(kept, now)
	return true, 0
}

func (t *ipThrottle) sweepLocked(now time.Time) {
	for k, v := range t.hits {
		if kept := pruneWindow(v, now, t.window); len(kept) == 0 {
			delete(t.hits, k)
		} else {
			t.hits[k] = kept
		}
	}
}

// pruneWindow drops attempts older than window. hits are in arrival order.
func pruneWindow(hits []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := now.Add(-window)
	i := 0
	for i < len(hits) && !hits[i].After(cut) {
		i++
	}
	return hits[i:]
}

// evaluateWindowThrottle reports whether max attempts already happened inside
// window, and when the earliest of them expires.
func evaluateWindowThrottle(now time.Time, hits []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	var inWindow []time.Time
	for _, h := range hits {
		if h.After(cut) {
			inWindow = append(inWindow, h)
		}
	}
	if len(inWindow) < max {
		return false, 0
	}
	oldest := inWindow[0]
	for _, h := range inWindow[1:] {
		if h.Before(oldest) {
			oldest = h
		}
	}
	return true, oldest.Add(window).Sub(now)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again later.")
}
