package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"tableready/config"
	"tableready/internal/dto"
	"tableready/internal/model"
	"tableready/internal/repository"
	pkgerrors "tableready/pkg/errors"
)

// ── 门店模块业务错误 ──

var (
	ErrVenueNotFound        = pkgerrors.New(pkgerrors.ErrNotFound, "门店不存在")
	ErrHolidayNotFound      = pkgerrors.New(pkgerrors.ErrNotFound, "节假日记录不存在")
	ErrInvalidTimezone      = pkgerrors.New(pkgerrors.ErrValidation, "时区无效")
	ErrInvalidBusinessHours = pkgerrors.New(pkgerrors.ErrValidation, "营业时间配置无效")
	ErrInvalidDate          = pkgerrors.New(pkgerrors.ErrValidation, "日期格式无效，应为 YYYY-MM-DD")
	ErrInvalidOperation     = pkgerrors.New(pkgerrors.ErrValidation, "业务类型无效")
	ErrHolidayRangeTooLarge = pkgerrors.New(pkgerrors.ErrValidation, "查询范围不能超过 366 天")
	ErrICSParseFailed       = pkgerrors.New(pkgerrors.ErrValidation, "ICS 文件解析失败")
	ErrICSEmpty             = pkgerrors.New(pkgerrors.ErrValidation, "ICS 文件中没有可导入的节假日")
	ErrCapacitySignalOff    = pkgerrors.New(pkgerrors.ErrResourceUnavailable, "繁忙信号服务未启用")
)

// VenueClosedError 门店当前不接受该类业务，附带营业状态快照
type VenueClosedError struct {
	Availability *dto.AvailabilityResponse
}

func (e *VenueClosedError) Error() string { return e.Availability.Message }

// Unwrap 门店关闭属于业务规则拒绝
func (e *VenueClosedError) Unwrap() error { return pkgerrors.ErrPolicyViolation }

// VenueService 门店配置、营业状态与预估业务接口
type VenueService interface {
	Create(ctx context.Context, req *dto.CreateVenueRequest, callerID string) (*dto.VenueResponse, error)
	Get(ctx context.Context, venueID string) (*dto.VenueResponse, error)
	Update(ctx context.Context, venueID string, req *dto.UpdateVenueRequest, callerID string) (*dto.VenueResponse, error)
	CheckAvailability(ctx context.Context, venueID, operation string, at time.Time) (*dto.AvailabilityResponse, error)
	ListSlots(ctx context.Context, venueID, date string, intervalMinutes int) (*dto.SlotsResponse, error)
	Estimate(ctx context.Context, venueID string, req *dto.EstimateRequest, now time.Time) (*dto.EstimateResponse, error)
	ListHolidays(ctx context.Context, venueID, from, to string) ([]dto.HolidayResponse, error)
	UpsertHolidays(ctx context.Context, venueID string, req *dto.UpsertHolidaysRequest, callerID string) ([]dto.HolidayResponse, error)
	ImportHolidays(ctx context.Context, venueID string, reader io.Reader, callerID string, now time.Time) (*dto.HolidayImportResponse, error)
	DeleteHoliday(ctx context.Context, venueID, holidayID string) error
	SetBusy(ctx context.Context, venueID string, busy bool) error
}

type venueService struct {
	repo      *repository.Repository
	estimator EstimateService
	signal    CapacitySignal
	cfg       *config.WaitlistConfig
	logger    *zap.Logger
}

// NewVenueService 创建 VenueService 实例
func NewVenueService(cfg *config.WaitlistConfig, repo *repository.Repository, estimator EstimateService, signal CapacitySignal, logger *zap.Logger) VenueService {
	return &venueService{
		repo:      repo,
		estimator: estimator,
		signal:    signal,
		cfg:       cfg,
		logger:    logger,
	}
}

// ────────────────────── Create / Get / Update ──────────────────────

func (s *venueService) Create(ctx context.Context, req *dto.CreateVenueRequest, callerID string) (*dto.VenueResponse, error) {
	venue := &model.Venue{
		Name:                req.Name,
		Timezone:            "UTC",
		BusinessHours:       model.WeeklyHours{},
		MaxExtensionMinutes: s.cfg.DefaultMaxExtensionMinutes,
	}
	if req.Timezone != "" {
		venue.Timezone = req.Timezone
	}
	if _, err := time.LoadLocation(venue.Timezone); err != nil {
		return nil, ErrInvalidTimezone
	}
	if req.BusinessHours != nil {
		hours, err := toWeeklyHours(req.BusinessHours)
		if err != nil {
			return nil, err
		}
		venue.BusinessHours = hours
	}
	if req.GracePeriods != nil {
		venue.GracePeriods = toModelGrace(req.GracePeriods)
	}
	if req.MaxExtensionMinutes != nil {
		venue.MaxExtensionMinutes = *req.MaxExtensionMinutes
	}
	venue.CreatedBy = &callerID
	venue.UpdatedBy = &callerID

	if err := s.repo.Venue.Create(ctx, venue); err != nil {
		s.logger.Error("创建门店失败", zap.Error(err))
		return nil, err
	}
	return toVenueResponse(venue), nil
}

func (s *venueService) Get(ctx context.Context, venueID string) (*dto.VenueResponse, error) {
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	return toVenueResponse(venue), nil
}

func (s *venueService) Update(ctx context.Context, venueID string, req *dto.UpdateVenueRequest, callerID string) (*dto.VenueResponse, error) {
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if venue.Version != req.Version {
		return nil, pkgerrors.ErrOptimisticLock
	}

	if req.Name != nil {
		venue.Name = *req.Name
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil || *req.Timezone == "" {
			return nil, ErrInvalidTimezone
		}
		venue.Timezone = *req.Timezone
	}
	if req.BusinessHours != nil {
		hours, err := toWeeklyHours(req.BusinessHours)
		if err != nil {
			return nil, err
		}
		venue.BusinessHours = hours
	}
	if req.GracePeriods != nil {
		venue.GracePeriods = toModelGrace(req.GracePeriods)
	}
	if req.MaxExtensionMinutes != nil {
		venue.MaxExtensionMinutes = *req.MaxExtensionMinutes
	}
	venue.UpdatedAt = time.Now()
	venue.UpdatedBy = &callerID

	if err := s.repo.Venue.Update(ctx, venue); err != nil {
		if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
			s.logger.Error("更新门店配置失败", zap.String("venue_id", venueID), zap.Error(err))
		}
		return nil, err
	}
	return toVenueResponse(venue), nil
}

// ────────────────────── 营业状态 ──────────────────────

func (s *venueService) CheckAvailability(ctx context.Context, venueID, operation string, at time.Time) (*dto.AvailabilityResponse, error) {
	if operation == "" {
		operation = OperationWaitlist
	}
	if !IsValidOperation(operation) {
		return nil, ErrInvalidOperation
	}
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	avail, err := venueAvailability(ctx, s.repo, venue, operation, at)
	if err != nil {
		s.logger.Error("读取节假日配置失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}
	return toAvailabilityResponse(avail, venue.Location()), nil
}

func (s *venueService) ListSlots(ctx context.Context, venueID, date string, intervalMinutes int) (*dto.SlotsResponse, error) {
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	loc := venue.Location()
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, ErrInvalidDate
	}

	interval := DefaultSlotInterval
	if intervalMinutes > 0 {
		interval = time.Duration(intervalMinutes) * time.Minute
	}

	cfg, err := loadAvailabilityConfig(ctx, s.repo, venue, day, day.AddDate(0, 0, 1))
	if err != nil {
		s.logger.Error("读取节假日配置失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}

	slots := ReservationSlots(cfg, day, interval)
	result := &dto.SlotsResponse{
		Date:     date,
		Interval: int(interval / time.Minute),
		Slots:    make([]string, 0, len(slots)),
	}
	for _, t := range slots {
		result.Slots = append(result.Slots, dto.FormatTime(t, loc))
	}
	return result, nil
}

// ────────────────────── 预估 ──────────────────────

func (s *venueService) Estimate(ctx context.Context, venueID string, req *dto.EstimateRequest, now time.Time) (*dto.EstimateResponse, error) {
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if req.Kind == model.StatKindOrder {
		load := 0
		if req.Load != nil {
			load = *req.Load
		}
		return s.estimator.EstimatePrep(ctx, venue, req.ItemCount, load, now), nil
	}
	partySize := req.PartySize
	if partySize <= 0 {
		partySize = 1
	}
	return s.estimator.EstimateWait(ctx, venue, partySize, now), nil
}

// ────────────────────── 节假日 ──────────────────────

func (s *venueService) ListHolidays(ctx context.Context, venueID, from, to string) ([]dto.HolidayResponse, error) {
	if _, err := s.loadVenue(ctx, venueID); err != nil {
		return nil, err
	}
	fromDay, err1 := time.Parse("2006-01-02", from)
	toDay, err2 := time.Parse("2006-01-02", to)
	if err1 != nil || err2 != nil || toDay.Before(fromDay) {
		return nil, ErrInvalidDate
	}
	if toDay.Sub(fromDay) > icsMaxDays*24*time.Hour {
		return nil, ErrHolidayRangeTooLarge
	}

	holidays, err := s.repo.Holiday.ListByVenueBetween(ctx, venueID, from, to)
	if err != nil {
		s.logger.Error("列出节假日失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}
	return toHolidayResponses(holidays), nil
}

func (s *venueService) UpsertHolidays(ctx context.Context, venueID string, req *dto.UpsertHolidaysRequest, callerID string) ([]dto.HolidayResponse, error) {
	if _, err := s.loadVenue(ctx, venueID); err != nil {
		return nil, err
	}

	holidays := make([]model.HolidayClosure, 0, len(req.Holidays))
	for _, h := range req.Holidays {
		if _, err := time.Parse("2006-01-02", h.Date); err != nil {
			return nil, ErrInvalidDate
		}
		if !h.IsClosed {
			if h.SpecialOpen == nil || h.SpecialClose == nil {
				return nil, pkgerrors.New(pkgerrors.ErrValidation, fmt.Sprintf("%s 未全天休息时必须提供特殊营业时间", h.Date))
			}
			if _, err := parseClock(*h.SpecialOpen); err != nil {
				return nil, ErrInvalidBusinessHours
			}
			if _, err := parseClock(*h.SpecialClose); err != nil {
				return nil, ErrInvalidBusinessHours
			}
		}
		breaks, err := toBreakList(h.Breaks)
		if err != nil {
			return nil, err
		}
		holiday := model.HolidayClosure{
			VenueID:      venueID,
			Date:         h.Date,
			IsClosed:     h.IsClosed,
			SpecialOpen:  h.SpecialOpen,
			SpecialClose: h.SpecialClose,
			Breaks:       breaks,
			Reason:       h.Reason,
			Source:       model.HolidaySourceManual,
		}
		holiday.CreatedBy = &callerID
		holiday.UpdatedBy = &callerID
		holidays = append(holidays, holiday)
	}

	if err := s.repo.Holiday.Upsert(ctx, holidays); err != nil {
		s.logger.Error("保存节假日失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}
	return toHolidayResponses(holidays), nil
}

// ImportHolidays 导入 ICS 日历中今天起一年内的节假日，同日已有记录被覆盖
func (s *venueService) ImportHolidays(ctx context.Context, venueID string, reader io.Reader, callerID string, now time.Time) (*dto.HolidayImportResponse, error) {
	venue, err := s.loadVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}

	holidays, skipped, err := ParseHolidayICS(reader, venueID, venue.Location(), now, now.AddDate(1, 0, 0))
	if err != nil {
		s.logger.Warn("ICS 解析失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, ErrICSParseFailed
	}
	if len(holidays) == 0 {
		return nil, ErrICSEmpty
	}
	for i := range holidays {
		holidays[i].CreatedBy = &callerID
		holidays[i].UpdatedBy = &callerID
	}

	if err := s.repo.Holiday.Upsert(ctx, holidays); err != nil {
		s.logger.Error("导入节假日失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("节假日导入完成",
		zap.String("venue_id", venueID),
		zap.Int("imported", len(holidays)),
		zap.Int("skipped", skipped))

	return &dto.HolidayImportResponse{
		Imported: len(holidays),
		Skipped:  skipped,
		Holidays: toHolidayResponses(holidays),
	}, nil
}

func (s *venueService) DeleteHoliday(ctx context.Context, venueID, holidayID string) error {
	deleted, err := s.repo.Holiday.Delete(ctx, venueID, holidayID)
	if err != nil {
		s.logger.Error("删除节假日失败", zap.String("holiday_id", holidayID), zap.Error(err))
		return err
	}
	if !deleted {
		return ErrHolidayNotFound
	}
	return nil
}

// ────────────────────── 繁忙信号 ──────────────────────

func (s *venueService) SetBusy(ctx context.Context, venueID string, busy bool) error {
	if _, err := s.loadVenue(ctx, venueID); err != nil {
		return err
	}
	if s.signal == nil {
		return ErrCapacitySignalOff
	}
	if err := s.signal.SetBusy(ctx, venueID, busy, s.cfg.BusyTTL); err != nil {
		s.logger.Error("设置繁忙标记失败", zap.String("venue_id", venueID), zap.Error(err))
		return err
	}
	return nil
}

// ── 辅助函数 ──

func (s *venueService) loadVenue(ctx context.Context, venueID string) (*model.Venue, error) {
	venue, err := s.repo.Venue.GetByID(ctx, venueID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVenueNotFound
		}
		s.logger.Error("查询门店失败", zap.String("venue_id", venueID), zap.Error(err))
		return nil, err
	}
	return venue, nil
}

// loadAvailabilityConfig 组装 [from-1天, to] 范围的营业配置，前一天用于跨夜窗口
func loadAvailabilityConfig(ctx context.Context, repo *repository.Repository, venue *model.Venue, from, to time.Time) (AvailabilityConfig, error) {
	loc := venue.Location()
	fromDate := from.In(loc).AddDate(0, 0, -1).Format("2006-01-02")
	toDate := to.In(loc).Format("2006-01-02")
	holidays, err := repo.Holiday.ListByVenueBetween(ctx, venue.VenueID, fromDate, toDate)
	if err != nil {
		return AvailabilityConfig{}, err
	}
	return AvailabilityConfig{
		Location:      loc,
		BusinessHours: venue.BusinessHours,
		Holidays:      holidays,
		GracePeriods:  venue.GracePeriods,
	}, nil
}

// venueAvailability 计算门店 at 时刻的营业状态（含向后 7 天的节假日）
func venueAvailability(ctx context.Context, repo *repository.Repository, venue *model.Venue, operation string, at time.Time) (Availability, error) {
	cfg, err := loadAvailabilityConfig(ctx, repo, venue, at, at.AddDate(0, 0, nextOpeningScanDays+1))
	if err != nil {
		return Availability{}, err
	}
	return CheckAvailability(cfg, operation, at), nil
}

func toWeeklyHours(in map[string]dto.DayHours) (model.WeeklyHours, error) {
	hours := make(model.WeeklyHours, len(in))
	for day, h := range in {
		key := strings.ToLower(strings.TrimSpace(day))
		if !isWeekdayKey(key) {
			return nil, pkgerrors.New(pkgerrors.ErrValidation, fmt.Sprintf("未知的星期: %s", day))
		}
		if !h.IsClosed {
			if _, err := parseClock(h.Open); err != nil {
				return nil, ErrInvalidBusinessHours
			}
			if _, err := parseClock(h.Close); err != nil {
				return nil, ErrInvalidBusinessHours
			}
		}
		breaks, err := toBreakList(h.Breaks)
		if err != nil {
			return nil, err
		}
		hours[key] = model.DayHours{Open: h.Open, Close: h.Close, IsClosed: h.IsClosed, Breaks: breaks}
	}
	return hours, nil
}

func toBreakList(in []dto.BreakWindow) (model.BreakList, error) {
	breaks := make(model.BreakList, 0, len(in))
	for _, b := range in {
		if _, err := parseClock(b.Start); err != nil {
			return nil, ErrInvalidBusinessHours
		}
		if _, err := parseClock(b.End); err != nil {
			return nil, ErrInvalidBusinessHours
		}
		breaks = append(breaks, model.BreakWindow{Start: b.Start, End: b.End, Reason: b.Reason})
	}
	return breaks, nil
}

func isWeekdayKey(key string) bool {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if weekdayKey(wd) == key {
			return true
		}
	}
	return false
}

func toModelGrace(g *dto.GracePeriods) model.GracePeriods {
	return model.GracePeriods{Reservation: g.Reservation, Order: g.Order, Waitlist: g.Waitlist}
}

func toVenueResponse(v *model.Venue) *dto.VenueResponse {
	hours := make(map[string]dto.DayHours, len(v.BusinessHours))
	for day, h := range v.BusinessHours {
		hours[day] = dto.DayHours{Open: h.Open, Close: h.Close, IsClosed: h.IsClosed, Breaks: toDTOBreaks(h.Breaks)}
	}
	return &dto.VenueResponse{
		ID:            v.VenueID,
		Name:          v.Name,
		Timezone:      v.Timezone,
		BusinessHours: hours,
		GracePeriods: dto.GracePeriods{
			Reservation: v.GracePeriods.Reservation,
			Order:       v.GracePeriods.Order,
			Waitlist:    v.GracePeriods.Waitlist,
		},
		MaxExtensionMinutes: v.MaxExtensionMinutes,
		Version:             v.Version,
		UpdatedAt:           dto.FormatTime(v.UpdatedAt, v.Location()),
	}
}

func toDTOBreaks(in model.BreakList) []dto.BreakWindow {
	if len(in) == 0 {
		return nil
	}
	out := make([]dto.BreakWindow, 0, len(in))
	for _, b := range in {
		out = append(out, dto.BreakWindow{Start: b.Start, End: b.End, Reason: b.Reason})
	}
	return out
}

func toHolidayResponses(holidays []model.HolidayClosure) []dto.HolidayResponse {
	result := make([]dto.HolidayResponse, 0, len(holidays))
	for _, h := range holidays {
		result = append(result, dto.HolidayResponse{
			ID:           h.HolidayID,
			Date:         h.Date,
			IsClosed:     h.IsClosed,
			SpecialOpen:  h.SpecialOpen,
			SpecialClose: h.SpecialClose,
			Breaks:       toDTOBreaks(h.Breaks),
			Reason:       h.Reason,
			Source:       h.Source,
		})
	}
	return result
}

func toAvailabilityResponse(a Availability, loc *time.Location) *dto.AvailabilityResponse {
	return &dto.AvailabilityResponse{
		Operation:       a.Operation,
		IsOpen:          a.IsOpen,
		IsOnBreak:       a.IsOnBreak,
		ClosingSoon:     a.ClosingSoon,
		OpensAt:         dto.FormatTimePtr(a.OpensAt, loc),
		ClosesAt:        dto.FormatTimePtr(a.ClosesAt, loc),
		NextOpening:     dto.FormatTimePtr(a.NextOpening, loc),
		NextOpeningSoon: a.NextOpeningSoon,
		BreakReason:     a.BreakReason,
		BreakEndsAt:     dto.FormatTimePtr(a.BreakEndsAt, loc),
		Message:         a.Message,
	}
}
