//go:build integration

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type RedisRateLimiterSuite struct {
	suite.Suite
	client  *redis.Client
	limiter *RedisRateLimiter
	prefix  string
}

func TestRedisRateLimiterSuite(t *testing.T) {
	suite.Run(t, new(RedisRateLimiterSuite))
}

func (s *RedisRateLimiterSuite) SetupSuite() {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		s.T().Skip("REDIS_ADDR not set")
	}

	s.client = redis.NewClient(&redis.Options{Addr: addr})
	s.Require().NoError(s.client.Ping(context.Background()).Err())
}

func (s *RedisRateLimiterSuite) SetupTest() {
	s.prefix = "test:ratelimit:" + uuid.NewString() + ":"
	s.limiter = NewRedisRateLimiter(s.client, s.prefix, zap.NewNop())
}

func (s *RedisRateLimiterSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *RedisRateLimiterSuite) TestAllowUpToLimit() {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := s.limiter.Allow(ctx, "203.0.113.7", 5, time.Minute)
		s.Require().NoError(err)
		s.True(allowed, "request %d", i)
	}

	allowed, err := s.limiter.Allow(ctx, "203.0.113.7", 5, time.Minute)
	s.Require().NoError(err)
	s.False(allowed)

	allowed, err = s.limiter.Allow(ctx, "198.51.100.1", 5, time.Minute)
	s.Require().NoError(err)
	s.True(allowed)
}

func (s *RedisRateLimiterSuite) TestWindowSlides() {
	ctx := context.Background()
	now := time.Now()

	s.limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		allowed, err := s.limiter.Allow(ctx, "client", 2, time.Second)
		s.Require().NoError(err)
		s.True(allowed)
	}

	allowed, _ := s.limiter.Allow(ctx, "client", 2, time.Second)
	s.False(allowed)

	now = now.Add(1100 * time.Millisecond)

	allowed, err := s.limiter.Allow(ctx, "client", 2, time.Second)
	s.Require().NoError(err)
	s.True(allowed)
}

func (s *RedisRateLimiterSuite) TestReset() {
	ctx := context.Background()

	allowed, _ := s.limiter.Allow(ctx, "client", 1, time.Minute)
	s.True(allowed)

	allowed, _ = s.limiter.Allow(ctx, "client", 1, time.Minute)
	s.False(allowed)

	s.Require().NoError(s.limiter.Reset(ctx, "client"))

	allowed, _ = s.limiter.Allow(ctx, "client", 1, time.Minute)
	s.True(allowed)
}
