package channels

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedChats caps per-chat limiter state so rotating chat IDs cannot
// exhaust memory.
const maxTrackedChats = 4096

// SendLimiter throttles outbound sends per chat. Chat platforms enforce
// roughly one message per second per chat; exceeding it earns 429s.
type SendLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewSendLimiter(perSecond float64, burst int) *SendLimiter {
	return &SendLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Wait blocks until a send to chatID is within the rate, or ctx is done.
func (l *SendLimiter) Wait(ctx context.Context, chatID string) error {
	return l.limiterFor(chatID).Wait(ctx)
}

func (l *SendLimiter) limiterFor(chatID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[chatID]; ok {
		return lim
	}
	if len(l.limiters) >= maxTrackedChats {
		for k := range l.limiters {
			delete(l.limiters, k)
			break
		}
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters[chatID] = lim
	return lim
}
