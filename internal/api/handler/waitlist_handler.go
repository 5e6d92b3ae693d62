package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tableready/internal/dto"
	"tableready/internal/service"
	pkgerrors "tableready/pkg/errors"
	"tableready/pkg/response"
)

// WaitlistHandler 排队/预订模块 HTTP 处理器
type WaitlistHandler struct {
	svc service.WaitlistService
	now clock
}

// NewWaitlistHandler 创建 WaitlistHandler
func NewWaitlistHandler(svc service.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{svc: svc, now: time.Now}
}

// ════════════════════════════════════════════════════════════
// 顾客入口（公开）
// ════════════════════════════════════════════════════════════

// Join 顾客排队或预订
// POST /api/v1/venues/:venue_id/entries
func (h *WaitlistHandler) Join(c *gin.Context) {
	var req dto.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	resp, err := h.svc.Join(c.Request.Context(), c.Param("venue_id"), &req, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.Created(c, resp)
}

// ════════════════════════════════════════════════════════════
// 顾客操作（patron token）
// ════════════════════════════════════════════════════════════

// PatronGetEntry 查看自己的排队记录
// GET /api/v1/me/entry
func (h *WaitlistHandler) PatronGetEntry(c *gin.Context) {
	venueID, entryID, ok := patronIdentity(c)
	if !ok {
		return
	}

	entry, err := h.svc.GetEntry(c.Request.Context(), venueID, entryID, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// PatronCancel 顾客取消
// POST /api/v1/me/entry/cancel
func (h *WaitlistHandler) PatronCancel(c *gin.Context) {
	venueID, entryID, ok := patronIdentity(c)
	if !ok {
		return
	}

	var req dto.PatronCancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, 10001, "参数校验失败")
			return
		}
	}

	entry, err := h.svc.PatronCancel(c.Request.Context(), venueID, entryID, req.Reason, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// PatronArrived 顾客声明已到店
// POST /api/v1/me/entry/arrived
func (h *WaitlistHandler) PatronArrived(c *gin.Context) {
	venueID, entryID, ok := patronIdentity(c)
	if !ok {
		return
	}

	entry, err := h.svc.PatronArrived(c.Request.Context(), venueID, entryID, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// PatronDelay 顾客申请晚到
// POST /api/v1/me/entry/delay
func (h *WaitlistHandler) PatronDelay(c *gin.Context) {
	venueID, entryID, ok := patronIdentity(c)
	if !ok {
		return
	}

	var req dto.DelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "延迟分钟数需在 1-15 之间")
		return
	}

	entry, err := h.svc.RequestDelay(c.Request.Context(), venueID, entryID, req.Minutes, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// ════════════════════════════════════════════════════════════
// 商家操作
// ════════════════════════════════════════════════════════════

// ListQueue 商家看板
// GET /api/v1/venues/:venue_id/queue
func (h *WaitlistHandler) ListQueue(c *gin.Context) {
	queue, err := h.svc.ListQueue(c.Request.Context(), c.Param("venue_id"), h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, queue)
}

// GetEntry 获取排队记录
// GET /api/v1/venues/:venue_id/entries/:entry_id
func (h *WaitlistHandler) GetEntry(c *gin.Context) {
	entry, err := h.svc.GetEntry(c.Request.Context(), c.Param("venue_id"), c.Param("entry_id"), h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// ListNotes 排队记录备注
// GET /api/v1/venues/:venue_id/entries/:entry_id/notes
func (h *WaitlistHandler) ListNotes(c *gin.Context) {
	notes, err := h.svc.ListNotes(c.Request.Context(), c.Param("venue_id"), c.Param("entry_id"))
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, gin.H{"list": notes})
}

// MarkReady 叫号
// POST /api/v1/venues/:venue_id/entries/:entry_id/ready
func (h *WaitlistHandler) MarkReady(c *gin.Context) {
	var req dto.MarkReadyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, 10001, "参数校验失败")
			return
		}
	}

	staffID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	entry, err := h.svc.MarkReady(c.Request.Context(), c.Param("venue_id"), c.Param("entry_id"), &req, staffID, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// Seat 入座
// POST /api/v1/venues/:venue_id/entries/:entry_id/seat
func (h *WaitlistHandler) Seat(c *gin.Context) {
	staffID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	entry, err := h.svc.Seat(c.Request.Context(), c.Param("venue_id"), c.Param("entry_id"), staffID, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// Cancel 商家取消
// POST /api/v1/venues/:venue_id/entries/:entry_id/cancel
func (h *WaitlistHandler) Cancel(c *gin.Context) {
	var req dto.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "取消原因不能为空")
		return
	}

	staffID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	entry, err := h.svc.Cancel(c.Request.Context(), c.Param("venue_id"), c.Param("entry_id"), req.Reason, staffID, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// MarkNoShow 标记未到店
// POST /api/v1/venues/:venue_id/entries/:entry_id/no-show
func (h *WaitlistHandler) MarkNoShow(c *gin.Context) {
	var req dto.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "未到店原因不能为空")
		return
	}

	staffID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	entry, err := h.svc.MarkNoShow(c.Request.Context(), c.Param("venue_id"), c.Param("entry_id"), req.Reason, staffID, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// ExtendETA 延长预计时间
// POST /api/v1/venues/:venue_id/entries/:entry_id/extend
func (h *WaitlistHandler) ExtendETA(c *gin.Context) {
	var req dto.ExtendETARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	staffID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	entry, err := h.svc.ExtendETA(c.Request.Context(), c.Param("venue_id"), c.Param("entry_id"), &req, staffID, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// Acknowledge 确认顾客取消
// POST /api/v1/venues/:venue_id/entries/:entry_id/acknowledge
func (h *WaitlistHandler) Acknowledge(c *gin.Context) {
	staffID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	entry, err := h.svc.AcknowledgeCancellation(c.Request.Context(), c.Param("venue_id"), c.Param("entry_id"), staffID, h.now())
	if err != nil {
		h.handleWaitlistError(c, err)
		return
	}

	response.OK(c, entry)
}

// ── 辅助函数 ──

func patronIdentity(c *gin.Context) (venueID, entryID string, ok bool) {
	if entryID, ok = MustGetEntryID(c); !ok {
		return "", "", false
	}
	if venueID, ok = MustGetVenueID(c); !ok {
		return "", "", false
	}
	return venueID, entryID, true
}

// handleWaitlistError 统一处理排队模块业务错误
func (h *WaitlistHandler) handleWaitlistError(c *gin.Context, err error) {
	var (
		closed  *service.VenueClosedError
		limit   *service.ExtensionLimitError
		noTable *service.NoTableAvailableError
	)

	switch {
	case errors.As(err, &closed):
		response.ErrorWithDetails(c, http.StatusUnprocessableEntity, 20010, closed.Error(), closed.Availability)
	case errors.As(err, &limit):
		response.ErrorWithDetails(c, http.StatusUnprocessableEntity, 20004, limit.Error(), dto.ExtensionLimitDetails{
			MaxMinutes:       limit.MaxMinutes,
			UsedMinutes:      limit.UsedMinutes,
			RemainingMinutes: limit.Remaining(),
			RequestedMinutes: limit.RequestedMinutes,
		})
	case errors.As(err, &noTable):
		response.ErrorWithDetails(c, http.StatusConflict, 20008, noTable.Error(), toNoTableDetails(noTable))
	case errors.Is(err, service.ErrEntryNotFound):
		response.NotFound(c, 20001, "排队记录不存在")
	case errors.Is(err, service.ErrVenueNotFound):
		response.NotFound(c, 22001, "门店不存在")
	case errors.Is(err, service.ErrTableNotFound):
		response.NotFound(c, 21001, "桌位不存在")
	case errors.Is(err, service.ErrNoTableConfiguration), errors.Is(err, service.ErrPartyTooLarge):
		response.Unprocessable(c, 20009, err.Error())
	case errors.Is(err, service.ErrDelayAlreadyRequested):
		response.Unprocessable(c, 20005, err.Error())
	case errors.Is(err, service.ErrReservationTooLate):
		response.Unprocessable(c, 20011, err.Error())
	case errors.Is(err, pkgerrors.ErrInvalidTransition):
		response.Conflict(c, 20003, err.Error())
	case errors.Is(err, pkgerrors.ErrConcurrencyConflict):
		response.Conflict(c, 20007, err.Error())
	case errors.Is(err, pkgerrors.ErrValidation):
		response.BadRequest(c, 20002, err.Error())
	default:
		respondByKind(c, err, 20000)
	}
}

func toNoTableDetails(e *service.NoTableAvailableError) dto.NoTableDetails {
	loc := e.RequestedAt.Location()
	details := dto.NoTableDetails{RequestedAt: dto.FormatTime(e.RequestedAt, loc)}
	if s := e.SuggestedAt(); s != nil {
		minutes := int(e.Offset / time.Minute)
		details.OffsetMinutes = &minutes
		details.SuggestedAt = dto.FormatTimePtr(s, loc)
	}
	return details
}
