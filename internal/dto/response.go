package dto

import "time"

// ── 时间格式 ──

// 所有响应中的时间均为带时区偏移的 RFC3339 字符串（门店本地时区）

// FormatTime 将时间格式化为 RFC3339
func FormatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.RFC3339)
}

// FormatTimePtr 可空时间格式化
func FormatTimePtr(t *time.Time, loc *time.Location) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t, loc)
	return &s
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}
