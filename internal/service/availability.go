package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tableready/internal/model"
)

// ── 营业状态计算 ──────────────────────────────────────────────
//
// 纯函数：输入门店配置与时间点，不读取系统时钟。
// 优先级：节假日 > 星期默认营业时间 > 休息时段 > 打烊前截止。
// open > close 的窗口跨越午夜，前一天的跨夜窗口会延续到当天凌晨。
// ─────────────────────────────────────────────────────────────

// 业务类型
const (
	OperationReservation = "reservation"
	OperationOrder       = "order"
	OperationWaitlist    = "waitlist"
)

const (
	defaultGraceReservation = 0
	defaultGraceOrder       = 15
	defaultGraceWaitlist    = 30

	// 休息一整天时向后查找下一个营业日的天数
	nextOpeningScanDays = 7

	DefaultSlotInterval = 15 * time.Minute
	// 最后一个预订时段距打烊至少保留的翻台时间
	slotTurnoverBuffer = 30 * time.Minute
)

// AvailabilityConfig 营业状态计算所需的门店配置
type AvailabilityConfig struct {
	Location      *time.Location
	BusinessHours model.WeeklyHours
	Holidays      []model.HolidayClosure
	GracePeriods  model.GracePeriods
}

// Availability 某一时刻的营业状态
type Availability struct {
	Operation   string
	IsOpen      bool
	IsOnBreak   bool
	ClosingSoon bool
	OpensAt     *time.Time
	ClosesAt    *time.Time
	NextOpening *time.Time
	// 7 天内找不到营业日时为 true，前端显示"即将开放"
	NextOpeningSoon bool
	BreakReason     string
	BreakEndsAt     *time.Time
	Message         string
}

// dayWindow 某个营业日的实际营业窗口（绝对时间）
type dayWindow struct {
	open   time.Time
	close  time.Time
	breaks []breakWindow
}

type breakWindow struct {
	start  time.Time
	end    time.Time
	reason string
}

// IsValidOperation 是否为支持的业务类型
func IsValidOperation(op string) bool {
	switch op {
	case OperationReservation, OperationOrder, OperationWaitlist:
		return true
	}
	return false
}

// GraceMinutes 返回业务类型对应的打烊前截止分钟数，未配置时使用默认值
func GraceMinutes(g model.GracePeriods, op string) int {
	switch op {
	case OperationReservation:
		if g.Reservation != nil {
			return *g.Reservation
		}
		return defaultGraceReservation
	case OperationOrder:
		if g.Order != nil {
			return *g.Order
		}
		return defaultGraceOrder
	default:
		if g.Waitlist != nil {
			return *g.Waitlist
		}
		return defaultGraceWaitlist
	}
}

// CheckAvailability 计算 now 时刻门店对 op 类业务的营业状态
func CheckAvailability(cfg AvailabilityConfig, op string, now time.Time) Availability {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	today := dateOf(local)
	res := Availability{Operation: op}

	// 1. 当天全天休息的节假日
	if h := findHoliday(cfg.Holidays, today); h != nil && h.IsClosed {
		res.Message = "今日休息"
		if h.Reason != "" {
			res.Message = "今日休息：" + h.Reason
		}
		fillNextOpening(&res, cfg, today, local)
		return res
	}

	// 2. 当天窗口，或前一天延续到凌晨的跨夜窗口
	win, ok := containingWindow(cfg, today, local)
	if !ok {
		res.Message = "当前不在营业时间"
		fillNextOpening(&res, cfg, today, local)
		return res
	}
	res.OpensAt = timePtr(win.open)
	res.ClosesAt = timePtr(win.close)

	// 3. 休息时段优先于营业
	for _, b := range win.breaks {
		if !local.Before(b.start) && local.Before(b.end) {
			res.IsOnBreak = true
			res.BreakReason = b.reason
			res.BreakEndsAt = timePtr(b.end)
			res.Message = fmt.Sprintf("休息中，%s 恢复营业", b.end.Format("15:04"))
			return res
		}
	}

	// 4. 打烊前截止
	grace := time.Duration(GraceMinutes(cfg.GracePeriods, op)) * time.Minute
	if grace > 0 && win.close.Sub(local) <= grace {
		res.ClosingSoon = true
		res.Message = fmt.Sprintf("即将打烊（%s），暂停接受新的%s", win.close.Format("15:04"), operationLabel(op))
		return res
	}

	res.IsOpen = true
	res.Message = "营业中"
	return res
}

// ReservationSlots 列出 date（门店本地日期）可预订的时段起点。
// 起点落在休息时段内的跳过，最后一个时段距打烊至少 30 分钟。
func ReservationSlots(cfg AvailabilityConfig, date time.Time, interval time.Duration) []time.Time {
	if interval <= 0 {
		interval = DefaultSlotInterval
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	day := dateOf(date.In(loc))

	win, ok := windowFor(cfg, day)
	if !ok {
		return nil
	}

	last := win.close.Add(-slotTurnoverBuffer)
	var slots []time.Time
	for t := win.open; !t.After(last); t = t.Add(interval) {
		if inBreak(win.breaks, t) {
			continue
		}
		slots = append(slots, t)
	}
	return slots
}

// ReservationFits 预订时间需处于营业中，且距打烊不少于翻台时间，与 ReservationSlots 的最后时段一致
func ReservationFits(a Availability, at time.Time) bool {
	if !a.IsOpen || a.ClosesAt == nil {
		return false
	}
	return !at.After(a.ClosesAt.Add(-slotTurnoverBuffer))
}

// ── 内部实现 ──

// containingWindow 查找包含 t 的营业窗口：先看当天，再看前一天的跨夜窗口
func containingWindow(cfg AvailabilityConfig, today, t time.Time) (dayWindow, bool) {
	if win, ok := windowFor(cfg, today); ok && within(t, win.open, win.close) {
		return win, true
	}
	yesterday := today.AddDate(0, 0, -1)
	if win, ok := windowFor(cfg, yesterday); ok && within(t, win.open, win.close) {
		return win, true
	}
	return dayWindow{}, false
}

// windowFor 计算某个营业日（以开门日期为准）的窗口，休息日返回 false
func windowFor(cfg AvailabilityConfig, day time.Time) (dayWindow, bool) {
	openStr, closeStr, breaks, ok := dayPlan(cfg, day)
	if !ok {
		return dayWindow{}, false
	}
	openOff, err := parseClock(openStr)
	if err != nil {
		return dayWindow{}, false
	}
	closeOff, err := parseClock(closeStr)
	if err != nil {
		return dayWindow{}, false
	}

	win := dayWindow{open: atClock(day, openOff)}
	// open >= close 视为跨夜，close 落在次日
	if closeOff <= openOff {
		win.close = atClock(day.AddDate(0, 0, 1), closeOff)
	} else {
		win.close = atClock(day, closeOff)
	}

	for _, b := range breaks {
		startOff, err1 := parseClock(b.Start)
		endOff, err2 := parseClock(b.End)
		if err1 != nil || err2 != nil {
			continue
		}
		start := atClock(day, startOff)
		// 跨夜营业时，早于开门时间的休息时段属于次日凌晨
		if start.Before(win.open) {
			start = atClock(day.AddDate(0, 0, 1), startOff)
		}
		end := atClock(dateOf(start), endOff)
		if !end.After(start) {
			end = atClock(dateOf(start).AddDate(0, 0, 1), endOff)
		}
		win.breaks = append(win.breaks, breakWindow{start: start, end: end, reason: b.Reason})
	}
	return win, true
}

// dayPlan 返回某天生效的营业配置：节假日特殊营业时间覆盖星期默认值
func dayPlan(cfg AvailabilityConfig, day time.Time) (open, close string, breaks model.BreakList, ok bool) {
	if h := findHoliday(cfg.Holidays, day); h != nil {
		if h.IsClosed {
			return "", "", nil, false
		}
		if h.SpecialOpen != nil && h.SpecialClose != nil {
			return *h.SpecialOpen, *h.SpecialClose, h.Breaks, true
		}
		dh, found := cfg.BusinessHours[weekdayKey(day.Weekday())]
		if !found || dh.IsClosed {
			return "", "", nil, false
		}
		if len(h.Breaks) > 0 {
			return dh.Open, dh.Close, h.Breaks, true
		}
		return dh.Open, dh.Close, dh.Breaks, true
	}

	dh, found := cfg.BusinessHours[weekdayKey(day.Weekday())]
	if !found || dh.IsClosed {
		return "", "", nil, false
	}
	return dh.Open, dh.Close, dh.Breaks, true
}

// fillNextOpening 向后查找下一次开门时间（含节假日），7 天内没有则标记为"即将开放"
func fillNextOpening(res *Availability, cfg AvailabilityConfig, today, now time.Time) {
	for i := 0; i <= nextOpeningScanDays; i++ {
		day := today.AddDate(0, 0, i)
		win, ok := windowFor(cfg, day)
		if !ok || !win.open.After(now) {
			continue
		}
		res.NextOpening = timePtr(win.open)
		return
	}
	res.NextOpeningSoon = true
}

func findHoliday(holidays []model.HolidayClosure, day time.Time) *model.HolidayClosure {
	key := day.Format("2006-01-02")
	for i := range holidays {
		if holidays[i].Date == key {
			return &holidays[i]
		}
	}
	return nil
}

func inBreak(breaks []breakWindow, t time.Time) bool {
	for _, b := range breaks {
		if !t.Before(b.start) && t.Before(b.end) {
			return true
		}
	}
	return false
}

// within 闭区间包含判断
func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// parseClock 解析 "HH:MM"，允许 "24:00"
func parseClock(s string) (time.Duration, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("时间格式无效: %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("时间格式无效: %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("时间格式无效: %q", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("时间超出范围: %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// atClock 返回 day 当天 offset 对应的本地时间，按日历字段构造以正确处理夏令时
func atClock(day time.Time, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func weekdayKey(wd time.Weekday) string {
	return strings.ToLower(wd.String())
}

func timePtr(t time.Time) *time.Time { return &t }

func operationLabel(op string) string {
	switch op {
	case OperationReservation:
		return "预订"
	case OperationOrder:
		return "点单"
	default:
		return "排队"
	}
}
