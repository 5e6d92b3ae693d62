package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	pkglogger "tableready/pkg/logger"
)

// ChangeSource 行级变更来源，由 database.ChangeFeed 实现
type ChangeSource interface {
	Run(ctx context.Context, handle func(ctx context.Context, payload string)) error
}

// Publisher 变更广播目标，由 redis.Client 实现
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// changeEvent 触发器 notify_waitlist_change 发出的载荷
type changeEvent struct {
	Op      string `json:"op"`
	EntryID string `json:"entry_id"`
	VenueID string `json:"venue_id"`
	Status  string `json:"status"`
	Version int    `json:"version"`
}

// ChangeRelay 将数据库变更按门店转发到 Redis 频道 <prefix>:<venue_id>
// 转发失败只记录日志，订阅方需自行通过查询接口对账。
type ChangeRelay struct {
	source ChangeSource
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewChangeRelay 创建变更转发器
func NewChangeRelay(source ChangeSource, pub Publisher, prefix string, logger *zap.Logger) *ChangeRelay {
	if prefix == "" {
		prefix = "venue"
	}
	return &ChangeRelay{
		source: source,
		pub:    pub,
		prefix: prefix,
		logger: pkglogger.Component(logger, "change_relay"),
	}
}

// Run 阻塞运行直到 ctx 取消
func (r *ChangeRelay) Run(ctx context.Context) error {
	r.logger.Info("变更转发已启动", zap.String("prefix", r.prefix))
	return r.source.Run(ctx, r.handle)
}

// Channel 门店对应的 Redis 频道名
func (r *ChangeRelay) Channel(venueID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, venueID)
}

func (r *ChangeRelay) handle(ctx context.Context, payload string) {
	var evt changeEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil || evt.VenueID == "" {
		r.logger.Warn("忽略无法解析的变更通知", zap.String("payload", payload), zap.Error(err))
		return
	}

	if err := r.pub.Publish(ctx, r.Channel(evt.VenueID), []byte(payload)); err != nil {
		r.logger.Warn("变更转发失败",
			zap.String("venue_id", evt.VenueID),
			zap.String("entry_id", evt.EntryID),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("变更已转发",
		zap.String("venue_id", evt.VenueID),
		zap.String("entry_id", evt.EntryID),
		zap.String("status", evt.Status),
	)
}
