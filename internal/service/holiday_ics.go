package service

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"tableready/internal/model"
)

// ── 节假日 ICS 解析 ──────────────────────────────────────────
//
// 将 iCalendar (RFC 5545) 日历转换为门店节假日：
//   - 全天事件（DTSTART;VALUE=DATE）→ 覆盖日期全天休息，DTEND 不含
//   - 当天内的定时事件 → 当天特殊营业时间（SUMMARY 作为原因）
//   - RRULE 仅展开 FREQ=YEARLY / DAILY，EXDATE 排除的日期跳过
// 只保留 [from, to] 范围内的日期，同一天多条事件以全天休息优先。
// ─────────────────────────────────────────────────────────────

const (
	icsMaxFileSize  = 2 * 1024 * 1024 // 2MB
	icsFetchTimeout = 30 * time.Second
	icsMaxDays      = 366
)

// FetchICSContent 从 URL 获取 ICS 内容，webcal:// 按 https 处理
func FetchICSContent(rawURL string) (io.ReadCloser, error) {
	u := rawURL
	if strings.HasPrefix(u, "webcal://") {
		u = "https://" + strings.TrimPrefix(u, "webcal://")
	}

	client := &http.Client{Timeout: icsFetchTimeout}
	resp, err := client.Get(u)
	if err != nil {
		return nil, fmt.Errorf("获取 ICS 失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("获取 ICS 失败: HTTP %d", resp.StatusCode)
	}
	return struct {
		io.Reader
		io.Closer
	}{
		Reader: io.LimitReader(resp.Body, icsMaxFileSize),
		Closer: resp.Body,
	}, nil
}

// ParseHolidayICS 解析 ICS 为节假日列表，返回被忽略的事件数
func ParseHolidayICS(reader io.Reader, venueID string, loc *time.Location, from, to time.Time) ([]model.HolidayClosure, int, error) {
	cal, err := ics.ParseCalendar(io.LimitReader(reader, icsMaxFileSize))
	if err != nil {
		return nil, 0, fmt.Errorf("ICS 格式解析失败: %w", err)
	}

	fromDay, toDay := dateOf(from.In(loc)), dateOf(to.In(loc))
	byDate := make(map[string]*model.HolidayClosure)
	var order []string
	skipped := 0

	put := func(h model.HolidayClosure) {
		existing, ok := byDate[h.Date]
		if !ok {
			cp := h
			byDate[h.Date] = &cp
			order = append(order, h.Date)
			return
		}
		if h.IsClosed && !existing.IsClosed {
			*existing = h
		}
	}

	for _, evt := range cal.Events() {
		occurrences, ok := parseHolidayEvent(evt, venueID, loc)
		if !ok {
			skipped++
			continue
		}
		for _, occ := range expandOccurrences(evt, occurrences, loc, toDay) {
			day, err := time.ParseInLocation("2006-01-02", occ.Date, loc)
			if err != nil || day.Before(fromDay) || day.After(toDay) {
				continue
			}
			put(occ)
		}
	}

	result := make([]model.HolidayClosure, 0, len(order))
	for _, d := range order {
		result = append(result, *byDate[d])
	}
	return result, skipped, nil
}

// parseHolidayEvent 解析单个 VEVENT 的首次发生，全天事件可能跨越多天
func parseHolidayEvent(evt *ics.VEvent, venueID string, loc *time.Location) ([]model.HolidayClosure, bool) {
	reason := ""
	if summary := evt.GetProperty(ics.ComponentPropertySummary); summary != nil {
		reason = strings.TrimSpace(summary.Value)
	}
	if len(reason) > 200 {
		reason = reason[:200]
	}

	start, allDay, err := parseICSDateTime(evt, ics.ComponentPropertyDtStart, loc)
	if err != nil {
		return nil, false
	}
	end, _, err := parseICSDateTime(evt, ics.ComponentPropertyDtEnd, loc)
	if err != nil {
		if allDay {
			end = start.AddDate(0, 0, 1)
		} else {
			return nil, false
		}
	}

	base := model.HolidayClosure{
		VenueID: venueID,
		Reason:  reason,
		Source:  model.HolidaySourceICS,
	}

	if allDay {
		var days []model.HolidayClosure
		for d := dateOf(start); d.Before(end) && len(days) < icsMaxDays; d = d.AddDate(0, 0, 1) {
			h := base
			h.Date = d.Format("2006-01-02")
			h.IsClosed = true
			days = append(days, h)
		}
		return days, len(days) > 0
	}

	// 定时事件只接受同一天内的时段
	if !end.After(start) || dateOf(end) != dateOf(start) {
		return nil, false
	}
	open, closing := start.Format("15:04"), end.Format("15:04")
	h := base
	h.Date = start.Format("2006-01-02")
	h.SpecialOpen = &open
	h.SpecialClose = &closing
	return []model.HolidayClosure{h}, true
}

// expandOccurrences 按 RRULE 展开重复事件
func expandOccurrences(evt *ics.VEvent, first []model.HolidayClosure, loc *time.Location, until time.Time) []model.HolidayClosure {
	rruleProp := evt.GetProperty(ics.ComponentPropertyRrule)
	if rruleProp == nil {
		return first
	}
	rule := parseRRule(rruleProp.Value)
	exDates := parseExDates(evt, loc)

	step := func(t time.Time, n int) time.Time {
		switch rule.freq {
		case "YEARLY":
			return t.AddDate(n*rule.interval, 0, 0)
		case "DAILY":
			return t.AddDate(0, 0, n*rule.interval)
		}
		return t
	}
	if rule.freq != "YEARLY" && rule.freq != "DAILY" {
		return first
	}

	var result []model.HolidayClosure
	for n := 0; len(result) < icsMaxDays; n++ {
		if rule.count > 0 && n >= rule.count {
			break
		}
		stop := false
		for _, occ := range first {
			d, err := time.ParseInLocation("2006-01-02", occ.Date, loc)
			if err != nil {
				continue
			}
			d = step(d, n)
			if d.After(until) || (!rule.until.IsZero() && d.After(rule.until)) {
				stop = true
				break
			}
			if exDates[d.Format("20060102")] {
				continue
			}
			cp := occ
			cp.Date = d.Format("2006-01-02")
			result = append(result, cp)
		}
		if stop {
			break
		}
	}
	return result
}

// rruleParams RRULE 解析结果
type rruleParams struct {
	freq     string
	interval int
	count    int
	until    time.Time
}

// parseRRule 解析 RRULE 字符串（如 FREQ=YEARLY;COUNT=3）
func parseRRule(value string) rruleParams {
	r := rruleParams{interval: 1}
	for _, part := range strings.Split(value, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToUpper(kv[0]) {
		case "FREQ":
			r.freq = strings.ToUpper(kv[1])
		case "INTERVAL":
			if n, err := strconv.Atoi(kv[1]); err == nil && n > 0 {
				r.interval = n
			}
		case "COUNT":
			if n, err := strconv.Atoi(kv[1]); err == nil {
				r.count = n
			}
		case "UNTIL":
			t, err := time.Parse("20060102T150405Z", kv[1])
			if err != nil {
				t, _ = time.Parse("20060102", kv[1])
			}
			r.until = t
		}
	}
	return r
}

// parseExDates 解析事件中所有 EXDATE（逗号分隔的多值也支持）
func parseExDates(evt *ics.VEvent, loc *time.Location) map[string]bool {
	exDates := make(map[string]bool)
	for _, prop := range evt.Properties {
		if prop.IANAToken != string(ics.ComponentPropertyExdate) {
			continue
		}
		for _, v := range strings.Split(prop.Value, ",") {
			if t, _, err := parseICSValue(strings.TrimSpace(v), "", loc); err == nil {
				exDates[t.Format("20060102")] = true
			}
		}
	}
	return exDates
}

// parseICSDateTime 解析日期时间属性，返回是否为全天（VALUE=DATE）
func parseICSDateTime(evt *ics.VEvent, propName ics.ComponentProperty, loc *time.Location) (time.Time, bool, error) {
	prop := evt.GetProperty(propName)
	if prop == nil {
		return time.Time{}, false, fmt.Errorf("missing property %s", propName)
	}

	tzid := ""
	for k, v := range prop.ICalParameters {
		if strings.ToUpper(k) == "TZID" && len(v) > 0 {
			tzid = v[0]
		}
	}
	return parseICSValue(prop.Value, tzid, loc)
}

func parseICSValue(val, tzid string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.Parse("20060102T150405Z", val); err == nil {
		return t.In(loc), false, nil
	}
	if t, err := time.Parse("20060102T150405", val); err == nil {
		src := loc
		if tzid != "" {
			if tzLoc, err := time.LoadLocation(tzid); err == nil {
				src = tzLoc
			}
		}
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, src).In(loc), false, nil
	}
	if t, err := time.Parse("20060102", val); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), true, nil
	}
	return time.Time{}, false, fmt.Errorf("无法解析日期: %s", val)
}
