package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// limiter combines a per-user token bucket with a per-user-per-command
// cooldown. A zero rate or cooldown disables that half.
type limiter struct {
	mu       sync.Mutex
	perMin   int
	cooldown time.Duration

	users map[int64]*userBucket
	last  map[cooldownKey]time.Time
	sweep time.Time
}

type userBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

type cooldownKey struct {
	user  int64
	route string
}

func newLimiter() *limiter {
	return &limiter{users: map[int64]*userBucket{}, last: map[cooldownKey]time.Time{}}
}

// configure resets buckets when the rate changes.
func (l *limiter) configure(perMin int, cooldown time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perMin < 0 {
		perMin = 0
	}
	if perMin != l.perMin {
		l.users = map[int64]*userBucket{}
	}
	l.perMin = perMin
	l.cooldown = cooldown
}

// allow reports whether user may run route at now. When it may not, wait is
// how long until it could.
func (l *limiter) allow(user int64, route string, now time.Time) (ok bool, wait time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.gcLocked(now)

	ck := cooldownKey{user: user, route: route}
	if l.cooldown > 0 {
		if last, seen := l.last[ck]; seen {
			if next := last.Add(l.cooldown); now.Before(next) {
				return false, next.Sub(now)
			}
		}
	}

	if l.perMin > 0 {
		b := l.users[user]
		if b == nil {
			b = &userBucket{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
			l.users[user] = b
		}
		b.seen = now
		r := b.lim.ReserveN(now, 1)
		if d := r.DelayFrom(now); d > 0 {
			r.CancelAt(now)
			return false, d
		}
	}

	if l.cooldown > 0 {
		l.last[ck] = now
	}
	return true, 0
}

func (l *limiter) gcLocked(now time.Time) {
	if now.Sub(l.sweep) < limiterIdleTTL {
		return
	}
	l.sweep = now
	for id, b := range l.users {
		if now.Sub(b.seen) > limiterIdleTTL {
			delete(l.users, id)
		}
	}
	for k, t := range l.last {
		if now.Sub(t) > l.cooldown && now.Sub(t) > limiterIdleTTL {
			delete(l.last, k)
		}
	}
}
