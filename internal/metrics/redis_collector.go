package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// scanLimit caps the keys counted per scrape.
const scanLimit = 10000

type redisCollector struct {
	rdb    *redis.Client
	logger *slog.Logger

	upDesc      *prometheus.Desc
	historyDesc *prometheus.Desc
	bucketsDesc *prometheus.Desc
}

func newRedisCollector(rdb *redis.Client, logger *slog.Logger) *redisCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisCollector{
		rdb:    rdb,
		logger: logger,
		upDesc: prometheus.NewDesc(
			"mpsflow_redis_up",
			"Whether the last scrape reached redis (1) or not (0).",
			nil, nil,
		),
		historyDesc: prometheus.NewDesc(
			"mpsflow_solve_history_records",
			"Solve records currently retained in redis.",
			nil, nil,
		),
		bucketsDesc: prometheus.NewDesc(
			"mpsflow_rate_limit_buckets",
			"Active rate limit buckets by scope.",
			[]string{"scope"},
			nil,
		),
	}
}

func (c *redisCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.upDesc
	ch <- c.historyDesc
	ch <- c.bucketsDesc
}

func (c *redisCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		emitGauge(ch, c.upDesc, 0)
		return
	}
	emitGauge(ch, c.upDesc, 1)

	history, err := c.count(ctx, "mpsflow:solve:*")
	if err != nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}
	emitGauge(ch, c.historyDesc, float64(history))

	buckets, err := c.count(ctx, "mpsflow:rl:solve:*")
	if err != nil {
		c.logger.Warn("prometheus redis collector failed", "err", err)
		return
	}
	emitGauge(ch, c.bucketsDesc, float64(buckets), "solve")
}

func (c *redisCollector) count(ctx context.Context, pattern string) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return 0, err
		}
		n += len(keys)
		if next == 0 || n >= scanLimit {
			return n, nil
		}
		cursor = next
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerRedisCollectorOnce sync.Once

func RegisterRedisCollector(rdb *redis.Client, logger *slog.Logger) {
	registerRedisCollectorOnce.Do(func() {
		prometheus.MustRegister(newRedisCollector(rdb, logger))
	})
}
