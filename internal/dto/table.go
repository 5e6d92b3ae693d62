package dto

// ── 桌位模块 DTO ──

// CreateTableRequest 创建桌位请求
type CreateTableRequest struct {
	Name     string `json:"name"     binding:"required,min=1,max=50"`
	Capacity int    `json:"capacity" binding:"required,min=1,max=100"`
	IsActive *bool  `json:"is_active"`
}

// UpdateTableRequest 更新桌位请求，version 为读取时的版本号
type UpdateTableRequest struct {
	Name     *string `json:"name"     binding:"omitempty,min=1,max=50"`
	Capacity *int    `json:"capacity" binding:"omitempty,min=1,max=100"`
	IsActive *bool   `json:"is_active"`
	Version  int     `json:"version"  binding:"required,min=1"`
}

// TableResponse 桌位信息响应
type TableResponse struct {
	ID        string `json:"id"`
	VenueID   string `json:"venue_id"`
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	IsActive  bool   `json:"is_active"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// TableMatchRequest 桌位匹配查询参数，at 为空时取当前时间
type TableMatchRequest struct {
	PartySize int    `form:"party_size" binding:"required,min=1,max=200"`
	At        string `form:"at"`
}

// TableMatchResponse 桌位匹配结果
type TableMatchResponse struct {
	Tables         []TableResponse `json:"tables"`
	Combined       bool            `json:"combined"`
	TotalCapacity  int             `json:"total_capacity"`
	WastedSeats    int             `json:"wasted_seats"`
	Utilization    float64         `json:"utilization"`
	LowUtilization bool            `json:"low_utilization"`
	At             string          `json:"at"`
}

// NoTableDetails 无可用桌位时的顺延建议
type NoTableDetails struct {
	RequestedAt   string  `json:"requested_at"`
	OffsetMinutes *int    `json:"offset_minutes,omitempty"`
	SuggestedAt   *string `json:"suggested_at,omitempty"`
}
