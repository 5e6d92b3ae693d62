package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tableready/config"
)

// Client Redis 客户端封装
// 用途：变更消息发布、门店繁忙信号、接口限流
type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// NewClient 创建 Redis 连接并执行 Ping 健康检查
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.Info("Redis 连接成功", zap.String("addr", cfg.Addr))

	return &Client{rdb: rdb, logger: logger}, nil
}

// ── 消息发布 ──

// Publish 发布消息（fire-and-forget），订阅方离线时消息直接丢弃
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// ── 门店繁忙信号 ──

const busyPrefix = "venue:busy:"

// IsBusy 门店是否被标记为繁忙
func (c *Client) IsBusy(ctx context.Context, venueID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, busyPrefix+venueID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetBusy 设置或清除繁忙标记，ttl 到期后自动恢复
func (c *Client) SetBusy(ctx context.Context, venueID string, busy bool, ttl time.Duration) error {
	if !busy {
		return c.rdb.Del(ctx, busyPrefix+venueID).Err()
	}
	return c.rdb.Set(ctx, busyPrefix+venueID, "1", ttl).Err()
}

// ── 速率限制 ──

// CheckRateLimit 滑动窗口限流，返回本次请求是否放行
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10)
	windowStart := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	pipe := c.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", windowStart)
	pipe.ZAdd(ctx, key, goredis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return count.Val() <= int64(limit), nil
}

// Ping 健康检查
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
