package dto

import "time"

// ── 排队/预订模块 DTO ──

// JoinRequest 顾客入队或预订请求
type JoinRequest struct {
	CustomerName    string     `json:"customer_name"    binding:"required,min=1,max=100"`
	PartySize       int        `json:"party_size"       binding:"required,min=1,max=200"`
	Preferences     []string   `json:"preferences"      binding:"omitempty,max=10,dive,min=1,max=30"`
	ReservationType string     `json:"reservation_type" binding:"omitempty,oneof=waitlist reservation"`
	ReservationTime *time.Time `json:"reservation_time"`
}

// JoinResponse 入队结果
// 多桌预订会拆分为多条记录，patron_token 绑定第一条
type JoinResponse struct {
	Entry       EntryResponse       `json:"entry"`
	Linked      []EntryResponse     `json:"linked,omitempty"`
	PatronToken string              `json:"patron_token"`
	Estimate    *EstimateResponse   `json:"estimate,omitempty"`
	TableMatch  *TableMatchResponse `json:"table_match,omitempty"`
}

// EntryResponse 排队记录响应
type EntryResponse struct {
	ID                           string   `json:"id"`
	VenueID                      string   `json:"venue_id"`
	CustomerName                 string   `json:"customer_name"`
	PartySize                    int      `json:"party_size"`
	Preferences                  []string `json:"preferences"`
	ReservationType              string   `json:"reservation_type"`
	ReservationTime              *string  `json:"reservation_time,omitempty"`
	Status                       string   `json:"status"`
	Position                     *int     `json:"position,omitempty"` // 仅 waiting/ready 有值，0 表示下一位
	ETA                          string   `json:"eta"`
	OriginalETA                  string   `json:"original_eta"`
	ExtensionUsedMinutes         int      `json:"extension_used_minutes"`
	ReadyAt                      *string  `json:"ready_at,omitempty"`
	ReadyDeadline                *string  `json:"ready_deadline,omitempty"`
	SeatedAt                     *string  `json:"seated_at,omitempty"`
	AwaitingMerchantConfirmation bool     `json:"awaiting_merchant_confirmation"`
	PatronDelayed                bool     `json:"patron_delayed"`
	DelayedUntil                 *string  `json:"delayed_until,omitempty"`
	CancellationReason           string   `json:"cancellation_reason,omitempty"`
	CancelledBy                  *string  `json:"cancelled_by,omitempty"`
	NeedsAcknowledgement         bool     `json:"needs_acknowledgement"`
	AssignedTableID              *string  `json:"assigned_table_id,omitempty"`
	LinkedReservationID          *string  `json:"linked_reservation_id,omitempty"`
	Version                      int      `json:"version"`
	CreatedAt                    string   `json:"created_at"`
	UpdatedAt                    string   `json:"updated_at"`
}

// QueueResponse 商家看板：当前队列、未到时间的预订、待确认的顾客取消
type QueueResponse struct {
	Active                 []EntryResponse `json:"active"`
	UpcomingReservations   []EntryResponse `json:"upcoming_reservations"`
	PendingAcknowledgement []EntryResponse `json:"pending_acknowledgement"`
}

// ReasonRequest 取消 / 未到店请求
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// PatronCancelRequest 顾客取消，原因可选
type PatronCancelRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// MarkReadyRequest 叫号请求
type MarkReadyRequest struct {
	AssignedTableID *string `json:"assigned_table_id" binding:"omitempty,uuid"`
}

// ExtendETARequest 延长预计时间请求
type ExtendETARequest struct {
	Minutes int    `json:"minutes" binding:"required,min=1,max=240"`
	Reason  string `json:"reason"  binding:"required,max=500"`
}

// DelayRequest 顾客申请晚到
type DelayRequest struct {
	Minutes int `json:"minutes" binding:"required,min=1,max=15"`
}

// ExtensionLimitDetails 延时超限时返回给前端的额度信息
type ExtensionLimitDetails struct {
	MaxMinutes       int `json:"max_minutes"`
	UsedMinutes      int `json:"used_minutes"`
	RemainingMinutes int `json:"remaining_minutes"`
	RequestedMinutes int `json:"requested_minutes"`
}

// NoteResponse 备注响应
type NoteResponse struct {
	ID        string `json:"id"`
	EntryID   string `json:"entry_id"`
	Kind      string `json:"kind"`
	Minutes   int    `json:"minutes"`
	Content   string `json:"content"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
}

// SweepResponse 过期清理结果
type SweepResponse struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
