package middleware

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// idleSweepInterval is how often clients without recent requests are forgotten.
const idleSweepInterval = 5 * time.Minute

// MemoryRateLimiter is a per-process sliding-window limiter, used when Redis
// is disabled or unreachable.
type MemoryRateLimiter struct {
	mu      sync.RWMutex
	clients map[string]*clientInfo
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

// clientInfo tracks request timestamps for a single client.
type clientInfo struct {
	mu       sync.Mutex
	requests []time.Time
	window   time.Duration
}

// NewMemoryRateLimiter creates the limiter and starts its idle sweeper.
// Call Close to stop the sweeper.
//
// Parameters:
//   - logger: Zap logger for rate limiter operations
//
// Returns:
//   - *MemoryRateLimiter: In-memory rate limiter
func NewMemoryRateLimiter(logger *zap.Logger) *MemoryRateLimiter {
	rl := &MemoryRateLimiter{
		clients: make(map[string]*clientInfo),
		now:     time.Now,
		stop:    make(chan struct{}),
		logger:  logger,
	}

	go rl.sweep(idleSweepInterval)

	return rl
}

// Allow records a request for identifier if fewer than limit requests were
// seen during the last window.
func (rl *MemoryRateLimiter) Allow(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := rl.now()
	client := rl.client(identifier, limit)

	client.mu.Lock()
	defer client.mu.Unlock()

	client.window = window
	client.prune(now.Add(-window))

	if len(client.requests) >= limit {
		return false, nil
	}

	client.requests = append(client.requests, now)

	return true, nil
}

// Reset clears the history of identifier.
func (rl *MemoryRateLimiter) Reset(ctx context.Context, identifier string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rl.mu.Lock()
	delete(rl.clients, identifier)
	rl.mu.Unlock()

	return nil
}

// Close stops the idle sweeper.
func (rl *MemoryRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *MemoryRateLimiter) client(identifier string, limit int) *clientInfo {
	rl.mu.RLock()
	client, exists := rl.clients[identifier]
	rl.mu.RUnlock()

	if exists {
		return client
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if client, exists = rl.clients[identifier]; !exists {
		client = &clientInfo{requests: make([]time.Time, 0, limit)}
		rl.clients[identifier] = client
	}

	return client
}

func (c *clientInfo) prune(cutoff time.Time) {
	valid := c.requests[:0]

	for _, t := range c.requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	c.requests = valid
}

// sweep drops clients whose newest request has left their window.
func (rl *MemoryRateLimiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			now := rl.now()
			removed := 0

			rl.mu.Lock()

			for identifier, client := range rl.clients {
				client.mu.Lock()

				if n := len(client.requests); n == 0 || !client.requests[n-1].After(now.Add(-client.window)) {
					delete(rl.clients, identifier)
					removed++
				}

				client.mu.Unlock()
			}

			rl.mu.Unlock()

			if removed > 0 {
				rl.logger.Debug("rate limiter swept idle clients", zap.Int("removed", removed))
			}
		}
	}
}
