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

// VenueHandler 门店配置、营业状态、节假日与预估 Handler
type VenueHandler struct {
	svc service.VenueService
	now clock
}

// NewVenueHandler 创建 VenueHandler 实例
func NewVenueHandler(svc service.VenueService) *VenueHandler {
	return &VenueHandler{svc: svc, now: time.Now}
}

// ────────────────────── 门店配置 ──────────────────────

// Create 创建门店（管理员）
// POST /api/v1/venues
func (h *VenueHandler) Create(c *gin.Context) {
	var req dto.CreateVenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	venue, err := h.svc.Create(c.Request.Context(), &req, callerID)
	if err != nil {
		handleVenueError(c, err)
		return
	}

	response.Created(c, venue)
}

// Get 获取门店配置
// GET /api/v1/venues/:venue_id
func (h *VenueHandler) Get(c *gin.Context) {
	venue, err := h.svc.Get(c.Request.Context(), c.Param("venue_id"))
	if err != nil {
		handleVenueError(c, err)
		return
	}

	response.OK(c, venue)
}

// Update 更新门店配置
// PUT /api/v1/venues/:venue_id
func (h *VenueHandler) Update(c *gin.Context) {
	var req dto.UpdateVenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	venue, err := h.svc.Update(c.Request.Context(), c.Param("venue_id"), &req, callerID)
	if err != nil {
		handleVenueError(c, err)
		return
	}

	response.OK(c, venue)
}

// ────────────────────── 营业状态（公开） ──────────────────────

// Availability 查询营业状态
// GET /api/v1/venues/:venue_id/availability?operation=reservation&at=...
func (h *VenueHandler) Availability(c *gin.Context) {
	var req dto.AvailabilityRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}
	at, ok := parseAt(req.At, h.now())
	if !ok {
		response.BadRequest(c, 10001, "时间格式无效，应为 RFC3339")
		return
	}

	result, err := h.svc.CheckAvailability(c.Request.Context(), c.Param("venue_id"), req.Operation, at)
	if err != nil {
		handleVenueError(c, err)
		return
	}

	response.OK(c, result)
}

// Slots 列出某日可预订时段
// GET /api/v1/venues/:venue_id/slots?date=2026-03-02&interval=30
func (h *VenueHandler) Slots(c *gin.Context) {
	var req dto.SlotsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	slots, err := h.svc.ListSlots(c.Request.Context(), c.Param("venue_id"), req.Date, req.Interval)
	if err != nil {
		handleVenueError(c, err)
		return
	}

	response.OK(c, slots)
}

// Estimate 等待/备餐时长预估
// GET /api/v1/venues/:venue_id/estimate?kind=waitlist&party_size=2
func (h *VenueHandler) Estimate(c *gin.Context) {
	var req dto.EstimateRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	result, err := h.svc.Estimate(c.Request.Context(), c.Param("venue_id"), &req, h.now())
	if err != nil {
		handleVenueError(c, err)
		return
	}

	response.OK(c, result)
}

// SetBusy 设置繁忙信号
// PUT /api/v1/venues/:venue_id/busy
func (h *VenueHandler) SetBusy(c *gin.Context) {
	var req dto.BusyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	if err := h.svc.SetBusy(c.Request.Context(), c.Param("venue_id"), req.Busy); err != nil {
		handleVenueError(c, err)
		return
	}

	response.OK(c, gin.H{"busy": req.Busy})
}

// ────────────────────── 节假日 ──────────────────────

// ListHolidays 查询节假日配置
// GET /api/v1/venues/:venue_id/holidays?from=2026-01-01&to=2026-12-31
func (h *VenueHandler) ListHolidays(c *gin.Context) {
	var req dto.HolidayListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	holidays, err := h.svc.ListHolidays(c.Request.Context(), c.Param("venue_id"), req.From, req.To)
	if err != nil {
		handleVenueError(c, err)
		return
	}

	response.OK(c, gin.H{"list": holidays})
}

// UpsertHolidays 批量写入节假日
// PUT /api/v1/venues/:venue_id/holidays
func (h *VenueHandler) UpsertHolidays(c *gin.Context) {
	var req dto.UpsertHolidaysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	holidays, err := h.svc.UpsertHolidays(c.Request.Context(), c.Param("venue_id"), &req, callerID)
	if err != nil {
		handleVenueError(c, err)
		return
	}

	response.OK(c, gin.H{"list": holidays})
}

// ImportHolidays 导入 ICS 节假日
// POST /api/v1/venues/:venue_id/holidays/import
//
// 支持两种方式：
//   - 文件上传: multipart/form-data, field="file"
//   - URL 导入: application/json, body={"url": "..."}
func (h *VenueHandler) ImportHolidays(c *gin.Context) {
	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}
	venueID := c.Param("venue_id")

	file, _, err := c.Request.FormFile("file")
	if err == nil {
		defer file.Close()
		resp, err := h.svc.ImportHolidays(c.Request.Context(), venueID, file, callerID, h.now())
		if err != nil {
			handleVenueError(c, err)
			return
		}
		response.Created(c, resp)
		return
	}

	var req dto.ImportHolidaysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.URL = c.PostForm("url")
	}
	if req.URL == "" {
		response.BadRequest(c, 22005, "请上传 ICS 文件或提供 ICS URL")
		return
	}

	body, err := service.FetchICSContent(req.URL)
	if err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, 22005, "ICS URL 获取失败", err.Error())
		return
	}
	defer body.Close()

	resp, err := h.svc.ImportHolidays(c.Request.Context(), venueID, body, callerID, h.now())
	if err != nil {
		handleVenueError(c, err)
		return
	}

	response.Created(c, resp)
}

// DeleteHoliday 删除节假日
// DELETE /api/v1/venues/:venue_id/holidays/:holiday_id
func (h *VenueHandler) DeleteHoliday(c *gin.Context) {
	if err := h.svc.DeleteHoliday(c.Request.Context(), c.Param("venue_id"), c.Param("holiday_id")); err != nil {
		handleVenueError(c, err)
		return
	}

	response.OK(c, nil)
}

// handleVenueError 统一处理门店模块业务错误
func handleVenueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrVenueNotFound):
		response.NotFound(c, 22001, "门店不存在")
	case errors.Is(err, service.ErrHolidayNotFound):
		response.NotFound(c, 22003, "节假日记录不存在")
	case errors.Is(err, service.ErrCapacitySignalOff):
		response.Error(c, http.StatusServiceUnavailable, 22004, "繁忙信号服务未启用")
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 22006, "门店配置已被他人修改，请刷新后重试")
	case errors.Is(err, pkgerrors.ErrValidation):
		response.BadRequest(c, 22002, err.Error())
	default:
		respondByKind(c, err, 22000)
	}
}
