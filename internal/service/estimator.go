package service

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"tableready/config"
	"tableready/internal/dto"
	"tableready/internal/model"
	"tableready/internal/repository"
)

// ── 预估模块 ──

const (
	loadStep       = 0.05
	maxLoadFactor  = 20
	busySurcharge  = 0.15
	priorSamples   = 20 // 置信度平滑常数
	minReliableN   = 30 // 少于该样本数视为低置信度
	confidenceMid  = 60
	confidenceHigh = 85

	EstimateSourceHistory = "history"
	EstimateSourceDefault = "default"
)

// 置信度等级
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// CapacitySignal 门店繁忙信号（由 Redis 提供）
type CapacitySignal interface {
	IsBusy(ctx context.Context, venueID string) (bool, error)
	SetBusy(ctx context.Context, venueID string, busy bool, ttl time.Duration) error
}

// EstimateInput 单次预估的输入
type EstimateInput struct {
	Kind      string // waitlist | order
	PartySize int
	ItemCount int
	Load      int // 排队人数或正在制作的订单数
}

// EstimateDefaults 无历史数据时的兜底值
type EstimateDefaults struct {
	WaitMinutes int
	PrepMinutes int
}

// Estimate 预估结果
type Estimate struct {
	Kind             string
	EstimatedMinutes int
	ConfidenceScore  int
	ConfidenceLevel  string
	LowConfidence    bool
	Source           string
	SampleCount      int
	Breakdown        EstimateBreakdown
}

// EstimateBreakdown 预估明细
type EstimateBreakdown struct {
	BaseMinutes          float64
	Load                 int
	LoadMultiplier       float64
	ComplexityMultiplier float64
	CapacityBuffer       float64
}

// ComputeEstimate 根据历史分桶、当前负载与繁忙信号计算预估时长。
// bucket 为 nil 或没有样本时直接返回兜底值。
func ComputeEstimate(in EstimateInput, bucket *model.WaitTimeStat, busy bool, defaults EstimateDefaults) Estimate {
	est := Estimate{
		Kind: in.Kind,
		Breakdown: EstimateBreakdown{
			Load:                 in.Load,
			LoadMultiplier:       1,
			ComplexityMultiplier: 1,
		},
	}

	if bucket == nil || bucket.SampleCount <= 0 || bucket.AvgMinutes <= 0 {
		fallback := defaults.WaitMinutes
		if in.Kind == model.StatKindOrder {
			fallback = defaults.PrepMinutes
		}
		est.EstimatedMinutes = fallback
		est.Breakdown.BaseMinutes = float64(fallback)
		est.Source = EstimateSourceDefault
		est.ConfidenceLevel = ConfidenceLow
		est.LowConfidence = true
		return est
	}

	est.Source = EstimateSourceHistory
	est.SampleCount = bucket.SampleCount
	est.Breakdown.BaseMinutes = bucket.AvgMinutes
	est.Breakdown.LoadMultiplier = LoadMultiplier(in.Load)

	if in.Kind == model.StatKindOrder {
		est.Breakdown.ComplexityMultiplier = ComplexityMultiplier(in.ItemCount)
	} else if busy {
		est.Breakdown.CapacityBuffer = busySurcharge
	}

	minutes := bucket.AvgMinutes *
		est.Breakdown.LoadMultiplier *
		est.Breakdown.ComplexityMultiplier *
		(1 + est.Breakdown.CapacityBuffer)
	est.EstimatedMinutes = int(math.Round(minutes))
	if est.EstimatedMinutes < 1 {
		est.EstimatedMinutes = 1
	}

	est.ConfidenceScore = ConfidenceScore(bucket.SampleCount)
	est.ConfidenceLevel = ConfidenceLevel(est.ConfidenceScore)
	est.LowConfidence = bucket.SampleCount < minReliableN
	return est
}

// LoadMultiplier 负载系数：每单位负载 +5%，最多计 20 单位
func LoadMultiplier(load int) float64 {
	if load < 0 {
		load = 0
	}
	if load > maxLoadFactor {
		load = maxLoadFactor
	}
	return 1 + loadStep*float64(load)
}

// ComplexityMultiplier 订单复杂度系数
func ComplexityMultiplier(itemCount int) float64 {
	switch {
	case itemCount > 5:
		return 1.2
	case itemCount > 3:
		return 1.1
	default:
		return 1.0
	}
}

// ConfidenceScore 样本数映射为 0-100 的置信度，30 个样本对应 60
func ConfidenceScore(samples int) int {
	if samples <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(samples) / float64(samples+priorSamples)))
}

// ConfidenceLevel low < 60 ≤ medium < 85 ≤ high
func ConfidenceLevel(score int) string {
	switch {
	case score >= confidenceHigh:
		return ConfidenceHigh
	case score >= confidenceMid:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ── EstimateService ──

// EstimateService 预估业务接口，任何数据读取失败都退回默认值，不向调用方报错
type EstimateService interface {
	EstimateWait(ctx context.Context, venue *model.Venue, partySize int, now time.Time) *dto.EstimateResponse
	EstimatePrep(ctx context.Context, venue *model.Venue, itemCount, inFlight int, now time.Time) *dto.EstimateResponse
}

type estimateService struct {
	repo     *repository.Repository
	signal   CapacitySignal
	defaults EstimateDefaults
	logger   *zap.Logger
}

// NewEstimateService 创建 EstimateService 实例，signal 可为 nil（视为不繁忙）
func NewEstimateService(cfg *config.WaitlistConfig, repo *repository.Repository, signal CapacitySignal, logger *zap.Logger) EstimateService {
	return &estimateService{
		repo:   repo,
		signal: signal,
		defaults: EstimateDefaults{
			WaitMinutes: cfg.DefaultWaitMinutes,
			PrepMinutes: cfg.DefaultPrepMinutes,
		},
		logger: logger,
	}
}

func (s *estimateService) EstimateWait(ctx context.Context, venue *model.Venue, partySize int, now time.Time) *dto.EstimateResponse {
	load, err := s.repo.Entry.CountActiveByVenue(ctx, venue.VenueID, now)
	if err != nil {
		s.logger.Warn("统计排队人数失败，按空队列预估", zap.String("venue_id", venue.VenueID), zap.Error(err))
		load = 0
	}

	busy := false
	if s.signal != nil {
		if busy, err = s.signal.IsBusy(ctx, venue.VenueID); err != nil {
			s.logger.Warn("读取繁忙信号失败", zap.String("venue_id", venue.VenueID), zap.Error(err))
			busy = false
		}
	}

	in := EstimateInput{Kind: model.StatKindWaitlist, PartySize: partySize, Load: int(load)}
	est := ComputeEstimate(in, s.bucket(ctx, venue, model.StatKindWaitlist, now), busy, s.defaults)
	return toEstimateResponse(est)
}

func (s *estimateService) EstimatePrep(ctx context.Context, venue *model.Venue, itemCount, inFlight int, now time.Time) *dto.EstimateResponse {
	in := EstimateInput{Kind: model.StatKindOrder, ItemCount: itemCount, Load: inFlight}
	est := ComputeEstimate(in, s.bucket(ctx, venue, model.StatKindOrder, now), false, s.defaults)
	return toEstimateResponse(est)
}

// bucket 按门店本地时间的星期与小时取历史分桶
func (s *estimateService) bucket(ctx context.Context, venue *model.Venue, kind string, now time.Time) *model.WaitTimeStat {
	local := now.In(venue.Location())
	stat, err := s.repo.WaitTimeStat.GetBucket(ctx, venue.VenueID, kind, int(local.Weekday()), local.Hour())
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("读取历史等待统计失败，使用默认值",
				zap.String("venue_id", venue.VenueID), zap.String("kind", kind), zap.Error(err))
		}
		return nil
	}
	return stat
}

func toEstimateResponse(est Estimate) *dto.EstimateResponse {
	return &dto.EstimateResponse{
		Kind:             est.Kind,
		EstimatedMinutes: est.EstimatedMinutes,
		ConfidenceScore:  est.ConfidenceScore,
		ConfidenceLevel:  est.ConfidenceLevel,
		LowConfidence:    est.LowConfidence,
		Source:           est.Source,
		SampleCount:      est.SampleCount,
		Breakdown: dto.EstimateBreakdown{
			BaseMinutes:          est.Breakdown.BaseMinutes,
			Load:                 est.Breakdown.Load,
			LoadMultiplier:       est.Breakdown.LoadMultiplier,
			ComplexityMultiplier: est.Breakdown.ComplexityMultiplier,
			CapacityBuffer:       est.Breakdown.CapacityBuffer,
		},
	}
}
