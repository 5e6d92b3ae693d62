package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	changeFeedMinBackoff = time.Second
	changeFeedMaxBackoff = 30 * time.Second
)

// ChangeFeed 基于 PostgreSQL LISTEN/NOTIFY 的行级变更订阅
// gorm 连接池不适合长期持有 LISTEN 连接，因此单独使用 pgx 直连。
type ChangeFeed struct {
	dsn     string
	channel string
	logger  *zap.Logger
}

// NewChangeFeed 创建变更订阅
func NewChangeFeed(dsn, channel string, logger *zap.Logger) *ChangeFeed {
	return &ChangeFeed{dsn: dsn, channel: channel, logger: logger}
}

// Run 持续监听直到 ctx 取消，连接断开时按指数退避重连
func (f *ChangeFeed) Run(ctx context.Context, handle func(ctx context.Context, payload string)) error {
	backoff := changeFeedMinBackoff
	for {
		err := f.listen(ctx, handle, func() { backoff = changeFeedMinBackoff })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("变更订阅中断，准备重连", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > changeFeedMaxBackoff {
			backoff = changeFeedMaxBackoff
		}
	}
}

func (f *ChangeFeed) listen(ctx context.Context, handle func(ctx context.Context, payload string), onConnected func()) error {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return fmt.Errorf("连接数据库失败: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return fmt.Errorf("LISTEN %s 失败: %w", f.channel, err)
	}
	onConnected()
	f.logger.Info("变更订阅已就绪", zap.String("channel", f.channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("等待通知失败: %w", err)
		}
		handle(ctx, n.Payload)
	}
}
