package apitool

import (
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// windowLimiter enforces fixed per-minute request budgets keyed by tool id.
// Windows live in an expiring cache so idle tools cost nothing.
type windowLimiter struct {
	mu      sync.Mutex
	windows *gocache.Cache
	now     func() time.Time
}

func newWindowLimiter() *windowLimiter {
	return &windowLimiter{
		windows: gocache.New(2*time.Minute, 5*time.Minute),
		now:     time.Now,
	}
}

// allow consumes one request from the tool's current minute window.
func (l *windowLimiter) allow(toolID string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	key := fmt.Sprintf("%s:%d", toolID, l.now().Unix()/60)

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	if v, ok := l.windows.Get(key); ok {
		count = v.(int)
	}
	if count >= perMinute {
		return false
	}
	l.windows.Set(key, count+1, gocache.DefaultExpiration)
	return true
}
