package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tableready/internal/service"
	pkgerrors "tableready/pkg/errors"
	"tableready/pkg/response"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Waitlist *WaitlistHandler
	Table    *TableHandler
	Venue    *VenueHandler
	Health   *HealthHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service, health *HealthHandler) *Handler {
	return &Handler{
		Waitlist: NewWaitlistHandler(svc.Waitlist),
		Table:    NewTableHandler(svc.Table),
		Venue:    NewVenueHandler(svc.Venue),
		Health:   health,
	}
}

// clock 处理器使用的时间源，测试中替换
type clock func() time.Time

// respondByKind 按错误分类兜底映射 HTTP 状态，code 为模块内的通用业务码
func respondByKind(c *gin.Context, err error, code int) {
	var pe *pkgerrors.Error
	msg := err.Error()
	if !errors.As(err, &pe) {
		msg = ""
	}

	switch pkgerrors.Kind(err) {
	case pkgerrors.ErrValidation:
		response.BadRequest(c, code, msg)
	case pkgerrors.ErrNotFound:
		response.NotFound(c, code, msg)
	case pkgerrors.ErrInvalidTransition, pkgerrors.ErrConcurrencyConflict:
		response.Conflict(c, code, msg)
	case pkgerrors.ErrPolicyViolation:
		response.Unprocessable(c, code, msg)
	case pkgerrors.ErrResourceUnavailable:
		response.Error(c, http.StatusServiceUnavailable, code, msg)
	default:
		response.InternalError(c)
	}
}
