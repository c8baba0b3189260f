//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"warden/internal/ratelimit/models"
	"warden/pkg/testutil/containers"
)

// RedisLimiterSuite runs the Lua window against a real Redis.
//
// Justification: script semantics (INCR then PEXPIRE on first hit) cannot be
// verified with a fake client.
type RedisLimiterSuite struct {
	suite.Suite
	client *goredis.Client
}

func TestRedisLimiterSuite(t *testing.T) {
	suite.Run(t, new(RedisLimiterSuite))
}

func (s *RedisLimiterSuite) SetupSuite() {
	rc := containers.GetManager().GetRedis(s.T())
	s.client = rc.Client
}

func (s *RedisLimiterSuite) SetupTest() {
	s.Require().NoError(s.client.FlushDB(context.Background()).Err())
}

func (s *RedisLimiterSuite) TestBoundaryAtK() {
	ctx := context.Background()
	l := New(s.client, models.Config{Limit: 3, Window: time.Minute})

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "actor")
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(3-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "actor")
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(0, res.Remaining)
	s.WithinDuration(time.Now().Add(time.Minute), res.ResetAt, 2*time.Second)
}

func (s *RedisLimiterSuite) TestWindowExpires() {
	ctx := context.Background()
	l := New(s.client, models.Config{Limit: 1, Window: 200 * time.Millisecond})

	res, _ := l.Allow(ctx, "k")
	s.True(res.Allowed)
	res, _ = l.Allow(ctx, "k")
	s.False(res.Allowed)

	s.Eventually(func() bool {
		res, err := l.Allow(ctx, "k")
		return err == nil && res.Allowed
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *RedisLimiterSuite) TestReset() {
	ctx := context.Background()
	l := New(s.client, models.Config{Limit: 1, Window: time.Minute})

	l.Allow(ctx, "k")
	active, err := l.Reset(ctx, "k")
	s.Require().NoError(err)
	s.True(active)

	res, err := l.Allow(ctx, "k")
	s.Require().NoError(err)
	s.True(res.Allowed)

	active, err = l.Reset(ctx, "missing")
	s.Require().NoError(err)
	s.False(active)
}
