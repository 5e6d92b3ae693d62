package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// ── 营业时间 JSONB 类型 ──

// BreakWindow 营业中的休息时段（如午休备餐），时间格式 "HH:MM"
type BreakWindow struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason,omitempty"`
}

// BreakList 休息时段列表，对应 JSONB
type BreakList []BreakWindow

// Scan 实现 sql.Scanner
func (b *BreakList) Scan(src interface{}) error { return scanJSON(src, b) }

// Value 实现 driver.Valuer
func (b BreakList) Value() (driver.Value, error) {
	if b == nil {
		return "[]", nil
	}
	data, err := json.Marshal(b)
	return string(data), err
}

// DayHours 单日营业配置
// Open > Close 表示跨午夜营业（如 22:00 - 02:00）
type DayHours struct {
	Open     string    `json:"open"`
	Close    string    `json:"close"`
	IsClosed bool      `json:"is_closed"`
	Breaks   BreakList `json:"breaks,omitempty"`
}

// WeeklyHours 以小写英文星期名为键的营业时间（monday ... sunday），对应 JSONB
type WeeklyHours map[string]DayHours

// Scan 实现 sql.Scanner
func (w *WeeklyHours) Scan(src interface{}) error { return scanJSON(src, w) }

// Value 实现 driver.Valuer
func (w WeeklyHours) Value() (driver.Value, error) {
	if w == nil {
		return "{}", nil
	}
	data, err := json.Marshal(w)
	return string(data), err
}

// GracePeriods 各业务类型的打烊前截止分钟数，nil 表示使用默认值
type GracePeriods struct {
	Reservation *int `json:"reservation,omitempty"`
	Order       *int `json:"order,omitempty"`
	Waitlist    *int `json:"waitlist,omitempty"`
}

// Scan 实现 sql.Scanner
func (g *GracePeriods) Scan(src interface{}) error { return scanJSON(src, g) }

// Value 实现 driver.Valuer
func (g GracePeriods) Value() (driver.Value, error) {
	data, err := json.Marshal(g)
	return string(data), err
}

// Venue 门店 对应 venues
type Venue struct {
	VenueID             string       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"venue_id"`
	Name                string       `gorm:"type:varchar(100);not null"                     json:"name"`
	Timezone            string       `gorm:"type:varchar(64);not null;default:'UTC'"        json:"timezone"`
	BusinessHours       WeeklyHours  `gorm:"type:jsonb;not null;default:'{}'"               json:"business_hours"`
	GracePeriods        GracePeriods `gorm:"type:jsonb;not null;default:'{}'"               json:"grace_periods"`
	MaxExtensionMinutes int          `gorm:"not null;default:45"                            json:"max_extension_minutes"`
	VersionedModel

	// 关联
	Holidays []HolidayClosure `gorm:"foreignKey:VenueID;references:VenueID" json:"holidays,omitempty"`
}

// TableName 指定表名
func (Venue) TableName() string { return "venues" }

// Location 返回门店时区，配置无效时退回 UTC
func (v *Venue) Location() *time.Location {
	if v.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(v.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HolidayClosure 节假日特殊营业 对应 venue_holidays
// IsClosed=true 表示全天休息；否则 SpecialOpen/SpecialClose 覆盖当日营业时间。
type HolidayClosure struct {
	HolidayID    string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"holiday_id"`
	VenueID      string    `gorm:"type:uuid;not null;index"                       json:"venue_id"`
	Date         string    `gorm:"type:date;not null"                             json:"date"` // "2006-01-02"，门店本地日期
	IsClosed     bool      `gorm:"not null;default:true"                          json:"is_closed"`
	SpecialOpen  *string   `gorm:"type:varchar(5)"                                json:"special_open,omitempty"`
	SpecialClose *string   `gorm:"type:varchar(5)"                                json:"special_close,omitempty"`
	Breaks       BreakList `gorm:"type:jsonb;not null;default:'[]'"               json:"breaks,omitempty"`
	Reason       string    `gorm:"type:varchar(200)"                              json:"reason,omitempty"`
	Source       string    `gorm:"type:varchar(20);not null;default:'manual'"     json:"source"` // manual | ics
	BaseModel
}

// TableName 指定表名
func (HolidayClosure) TableName() string { return "venue_holidays" }

// 节假日来源
const (
	HolidaySourceManual = "manual"
	HolidaySourceICS    = "ics"
)

// TableConfig 桌位配置 对应 table_configs
type TableConfig struct {
	TableID  string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"table_id"`
	VenueID  string `gorm:"type:uuid;not null;index"                       json:"venue_id"`
	Name     string `gorm:"type:varchar(50);not null"                      json:"name"`
	Capacity int    `gorm:"type:smallint;not null"                         json:"capacity"`
	IsActive bool   `gorm:"not null;default:true"                          json:"is_active"`
	VersionedModel
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName 指定表名
func (TableConfig) TableName() string { return "table_configs" }

// WaitTimeStat 历史等待时长聚合 对应 wait_time_stats
// 由外部聚合任务维护，本服务只读。
type WaitTimeStat struct {
	VenueID     string    `gorm:"type:uuid;primaryKey"        json:"venue_id"`
	Kind        string    `gorm:"type:varchar(20);primaryKey" json:"kind"` // waitlist | order
	DayOfWeek   int       `gorm:"type:smallint;primaryKey"    json:"day_of_week"` // 0=Sunday ... 6=Saturday
	HourOfDay   int       `gorm:"type:smallint;primaryKey"    json:"hour_of_day"`
	AvgMinutes  float64   `gorm:"not null"                    json:"avg_minutes"`
	SampleCount int       `gorm:"not null;default:0"          json:"sample_count"`
	RefreshedAt time.Time `gorm:"not null"                    json:"refreshed_at"`
}

// TableName 指定表名
func (WaitTimeStat) TableName() string { return "wait_time_stats" }

// 统计类型
const (
	StatKindWaitlist = "waitlist"
	StatKindOrder    = "order"
)
