package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tableready/internal/dto"
	pkglogger "tableready/pkg/logger"
)

// Sweeper 过期扫描所需的最小能力，由 service.WaitlistService 实现
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (*dto.SweepResponse, error)
}

// ExpirySweeper 周期性将超时未到店的 ready 记录转为 no_show
type ExpirySweeper struct {
	svc      Sweeper
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewExpirySweeper 创建过期扫描器
func NewExpirySweeper(svc Sweeper, interval time.Duration, logger *zap.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpirySweeper{
		svc:      svc,
		interval: interval,
		now:      time.Now,
		logger:   pkglogger.Component(logger, "expiry_sweeper"),
	}
}

// Run 阻塞运行直到 ctx 取消，启动时立即执行一次
func (s *ExpirySweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.logger.Info("过期扫描已启动", zap.Duration("interval", s.interval))
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("过期扫描已停止")
			return ctx.Err()
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce 执行一轮扫描，错误只记录不中断
func (s *ExpirySweeper) RunOnce(ctx context.Context) *dto.SweepResponse {
	result, err := s.svc.SweepExpired(ctx, s.now())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("过期扫描失败", zap.Error(err))
		}
		return nil
	}
	if result.Expired > 0 || result.Failed > 0 {
		s.logger.Info("过期扫描完成",
			zap.Int("scanned", result.Scanned),
			zap.Int("expired", result.Expired),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}
	return result
}
