package dto

// ── 门店模块 DTO ──

// BreakWindow 休息时段
type BreakWindow struct {
	Start  string `json:"start"  binding:"required"`
	End    string `json:"end"    binding:"required"`
	Reason string `json:"reason" binding:"omitempty,max=100"`
}

// DayHours 单日营业时间，open > close 表示跨午夜
type DayHours struct {
	Open     string        `json:"open"`
	Close    string        `json:"close"`
	IsClosed bool          `json:"is_closed"`
	Breaks   []BreakWindow `json:"breaks,omitempty" binding:"omitempty,dive"`
}

// GracePeriods 各业务类型打烊前截止分钟数
type GracePeriods struct {
	Reservation *int `json:"reservation" binding:"omitempty,min=0,max=240"`
	Order       *int `json:"order"       binding:"omitempty,min=0,max=240"`
	Waitlist    *int `json:"waitlist"    binding:"omitempty,min=0,max=240"`
}

// CreateVenueRequest 创建门店请求
type CreateVenueRequest struct {
	Name                string              `json:"name"                  binding:"required,min=1,max=100"`
	Timezone            string              `json:"timezone"              binding:"omitempty,max=64"`
	BusinessHours       map[string]DayHours `json:"business_hours"        binding:"omitempty,dive"`
	GracePeriods        *GracePeriods       `json:"grace_periods"`
	MaxExtensionMinutes *int                `json:"max_extension_minutes" binding:"omitempty,min=0,max=480"`
}

// UpdateVenueRequest 更新门店配置请求，version 为读取时的版本号
type UpdateVenueRequest struct {
	Name                *string             `json:"name"                  binding:"omitempty,min=1,max=100"`
	Timezone            *string             `json:"timezone"              binding:"omitempty,max=64"`
	BusinessHours       map[string]DayHours `json:"business_hours"        binding:"omitempty,dive"`
	GracePeriods        *GracePeriods       `json:"grace_periods"`
	MaxExtensionMinutes *int                `json:"max_extension_minutes" binding:"omitempty,min=0,max=480"`
	Version             int                 `json:"version"               binding:"required,min=1"`
}

// VenueResponse 门店配置响应
type VenueResponse struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	Timezone            string              `json:"timezone"`
	BusinessHours       map[string]DayHours `json:"business_hours"`
	GracePeriods        GracePeriods        `json:"grace_periods"`
	MaxExtensionMinutes int                 `json:"max_extension_minutes"`
	Version             int                 `json:"version"`
	UpdatedAt           string              `json:"updated_at"`
}

// AvailabilityRequest 营业状态查询参数，at 为空时取当前时间
type AvailabilityRequest struct {
	Operation string `form:"operation" binding:"omitempty,oneof=reservation order waitlist"`
	At        string `form:"at"`
}

// AvailabilityResponse 营业状态
type AvailabilityResponse struct {
	Operation   string  `json:"operation"`
	IsOpen      bool    `json:"is_open"`
	IsOnBreak   bool    `json:"is_on_break"`
	ClosingSoon bool    `json:"closing_soon"`
	OpensAt     *string `json:"opens_at,omitempty"`
	ClosesAt    *string `json:"closes_at,omitempty"`
	NextOpening *string `json:"next_opening,omitempty"`
	// 7 天内没有营业日时为 true
	NextOpeningSoon bool    `json:"next_opening_soon,omitempty"`
	BreakReason     string  `json:"break_reason,omitempty"`
	BreakEndsAt     *string `json:"break_ends_at,omitempty"`
	Message         string  `json:"message"`
}

// SlotsRequest 可预订时段查询参数
type SlotsRequest struct {
	Date     string `form:"date"     binding:"required"` // "2006-01-02"
	Interval int    `form:"interval" binding:"omitempty,min=5,max=120"`
}

// SlotsResponse 可预订时段
type SlotsResponse struct {
	Date     string   `json:"date"`
	Interval int      `json:"interval"`
	Slots    []string `json:"slots"`
}

// HolidayRequest 手动设置的节假日
type HolidayRequest struct {
	Date         string        `json:"date"          binding:"required"`
	IsClosed     bool          `json:"is_closed"`
	SpecialOpen  *string       `json:"special_open"`
	SpecialClose *string       `json:"special_close"`
	Breaks       []BreakWindow `json:"breaks"        binding:"omitempty,dive"`
	Reason       string        `json:"reason"        binding:"omitempty,max=200"`
}

// UpsertHolidaysRequest 批量设置节假日
type UpsertHolidaysRequest struct {
	Holidays []HolidayRequest `json:"holidays" binding:"required,min=1,max=366,dive"`
}

// HolidayListRequest 节假日查询参数
type HolidayListRequest struct {
	From string `form:"from" binding:"required"`
	To   string `form:"to"   binding:"required"`
}

// ImportHolidaysRequest 通过 URL 导入 ICS（上传文件时使用 multipart 字段 file）
type ImportHolidaysRequest struct {
	URL string `json:"url" form:"url" binding:"omitempty,url"`
}

// HolidayResponse 节假日响应
type HolidayResponse struct {
	ID           string        `json:"id"`
	Date         string        `json:"date"`
	IsClosed     bool          `json:"is_closed"`
	SpecialOpen  *string       `json:"special_open,omitempty"`
	SpecialClose *string       `json:"special_close,omitempty"`
	Breaks       []BreakWindow `json:"breaks,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Source       string        `json:"source"`
}

// HolidayImportResponse ICS 导入结果
type HolidayImportResponse struct {
	Imported int               `json:"imported"`
	Skipped  int               `json:"skipped"`
	Holidays []HolidayResponse `json:"holidays"`
}

// BusyRequest 设置门店繁忙标记
type BusyRequest struct {
	Busy bool `json:"busy"`
}

// ── 预估模块 DTO ──

// EstimateRequest 预估查询参数
type EstimateRequest struct {
	Kind      string `form:"kind"       binding:"omitempty,oneof=waitlist order"`
	PartySize int    `form:"party_size" binding:"omitempty,min=1,max=200"`
	ItemCount int    `form:"item_count" binding:"omitempty,min=1,max=500"`
	Load      *int   `form:"load"       binding:"omitempty,min=0"`
}

// EstimateBreakdown 预估明细
type EstimateBreakdown struct {
	BaseMinutes          float64 `json:"base_minutes"`
	Load                 int     `json:"load"`
	LoadMultiplier       float64 `json:"load_multiplier"`
	ComplexityMultiplier float64 `json:"complexity_multiplier"`
	CapacityBuffer       float64 `json:"capacity_buffer"`
}

// EstimateResponse 等待 / 备餐时长预估
type EstimateResponse struct {
	Kind             string            `json:"kind"`
	EstimatedMinutes int               `json:"estimated_minutes"`
	ConfidenceScore  int               `json:"confidence_score"`
	ConfidenceLevel  string            `json:"confidence_level"` // low | medium | high
	LowConfidence    bool              `json:"low_confidence"`
	Source           string            `json:"source"`           // history | default
	SampleCount      int               `json:"sample_count"`
	Breakdown        EstimateBreakdown `json:"breakdown"`
}
