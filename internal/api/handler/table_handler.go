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

// TableHandler 桌位模块 Handler
type TableHandler struct {
	svc service.TableService
	now clock
}

// NewTableHandler 创建 TableHandler 实例
func NewTableHandler(svc service.TableService) *TableHandler {
	return &TableHandler{svc: svc, now: time.Now}
}

// Create 创建桌位
// POST /api/v1/venues/:venue_id/tables
func (h *TableHandler) Create(c *gin.Context) {
	var req dto.CreateTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	table, err := h.svc.Create(c.Request.Context(), c.Param("venue_id"), &req, callerID)
	if err != nil {
		handleTableError(c, err)
		return
	}

	response.Created(c, table)
}

// List 桌位列表
// GET /api/v1/venues/:venue_id/tables
func (h *TableHandler) List(c *gin.Context) {
	tables, err := h.svc.List(c.Request.Context(), c.Param("venue_id"))
	if err != nil {
		handleTableError(c, err)
		return
	}

	response.OK(c, gin.H{"list": tables})
}

// Update 更新桌位
// PUT /api/v1/venues/:venue_id/tables/:table_id
func (h *TableHandler) Update(c *gin.Context) {
	var req dto.UpdateTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	table, err := h.svc.Update(c.Request.Context(), c.Param("venue_id"), c.Param("table_id"), &req, callerID)
	if err != nil {
		handleTableError(c, err)
		return
	}

	response.OK(c, table)
}

// Delete 删除桌位
// DELETE /api/v1/venues/:venue_id/tables/:table_id
func (h *TableHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("venue_id"), c.Param("table_id")); err != nil {
		handleTableError(c, err)
		return
	}

	response.OK(c, nil)
}

// Match 查询指定时间可分配的桌位
// GET /api/v1/venues/:venue_id/tables/match?party_size=4&at=...
func (h *TableHandler) Match(c *gin.Context) {
	var req dto.TableMatchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}
	at, ok := parseAt(req.At, h.now())
	if !ok {
		response.BadRequest(c, 10001, "时间格式无效，应为 RFC3339")
		return
	}

	result, err := h.svc.Match(c.Request.Context(), c.Param("venue_id"), req.PartySize, at)
	if err != nil {
		handleTableError(c, err)
		return
	}

	response.OK(c, result)
}

// handleTableError 统一处理桌位模块业务错误
func handleTableError(c *gin.Context, err error) {
	var noTable *service.NoTableAvailableError

	switch {
	case errors.As(err, &noTable):
		response.ErrorWithDetails(c, http.StatusConflict, 21005, noTable.Error(), toNoTableDetails(noTable))
	case errors.Is(err, service.ErrTableNotFound):
		response.NotFound(c, 21001, "桌位不存在")
	case errors.Is(err, service.ErrVenueNotFound):
		response.NotFound(c, 22001, "门店不存在")
	case errors.Is(err, service.ErrTableNameExists):
		response.Conflict(c, 21002, "同名桌位已存在")
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 21003, "桌位已被他人修改，请刷新后重试")
	case errors.Is(err, service.ErrNoTableConfiguration), errors.Is(err, service.ErrPartyTooLarge):
		response.Unprocessable(c, 21004, err.Error())
	default:
		respondByKind(c, err, 21000)
	}
}
