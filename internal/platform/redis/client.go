package redis

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"warden/internal/platform/config"
)

// Client wraps the go-redis client with health checks and pool metrics.
type Client struct {
	*redis.Client

	totalConns prometheus.Gauge
	idleConns  prometheus.Gauge
	timeouts   prometheus.Counter
	lastStats  *redis.PoolStats
}

// New connects to Redis. Returns nil, nil if the URL is empty.
func New(ctx context.Context, cfg config.RedisConfig, reg prometheus.Registerer) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	f := promauto.With(reg)
	return &Client{
		Client: client,
		totalConns: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_redis_pool_total_conns",
			Help: "Number of total connections in the pool",
		}),
		idleConns: f.NewGauge(prometheus.GaugeOpts{
			Name: "warden_redis_pool_idle_conns",
			Help: "Number of idle connections in the pool",
		}),
		timeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "warden_redis_pool_timeouts_total",
			Help: "Number of times a connection was not obtained due to timeout",
		}),
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// RecordPoolStats copies the current pool statistics into the gauges.
func (c *Client) RecordPoolStats() {
	stats := c.PoolStats()
	c.totalConns.Set(float64(stats.TotalConns))
	c.idleConns.Set(float64(stats.IdleConns))
	if c.lastStats != nil && stats.Timeouts > c.lastStats.Timeouts {
		c.timeouts.Add(float64(stats.Timeouts - c.lastStats.Timeouts))
	} else if c.lastStats == nil {
		c.timeouts.Add(float64(stats.Timeouts))
	}
	c.lastStats = stats
}
