package service

import (
	"go.uber.org/zap"

	"tableready/config"
	"tableready/internal/repository"
	"tableready/pkg/jwt"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Waitlist WaitlistService
	Table    TableService
	Venue    VenueService
	Estimate EstimateService
}

// NewService 创建 Service 聚合
// signal 为 nil 时繁忙信号关闭（预估按不繁忙处理，设置繁忙接口返回 503）
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	signal CapacitySignal,
	logger *zap.Logger,
) *Service {
	estimator := NewEstimateService(&cfg.Waitlist, repo, signal, logger)
	tables := NewTableService(&cfg.Matcher, repo, logger)
	return &Service{
		Waitlist: NewWaitlistService(&cfg.Waitlist, repo, tables, estimator, jwtMgr, logger),
		Table:    tables,
		Venue:    NewVenueService(&cfg.Waitlist, repo, estimator, signal, logger),
		Estimate: estimator,
	}
}
