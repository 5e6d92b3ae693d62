package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"tableready/internal/api/middleware"
	"tableready/pkg/response"
)

// MustGetUserID 从 Gin 上下文中安全提取员工 user_id。
// 如果 JWT 中间件未正确注入 user_id，返回 false 并写入 401 响应。
// 调用方应在 ok=false 时直接 return。
func MustGetUserID(c *gin.Context) (string, bool) {
	return mustGetString(c, middleware.CtxUserID)
}

// MustGetVenueID 从 Gin 上下文中提取 Token 绑定的门店
func MustGetVenueID(c *gin.Context) (string, bool) {
	return mustGetString(c, middleware.CtxVenueID)
}

// MustGetEntryID 从顾客 Token 中提取排队记录 ID
func MustGetEntryID(c *gin.Context) (string, bool) {
	return mustGetString(c, middleware.CtxEntryID)
}

func mustGetString(c *gin.Context, key string) (string, bool) {
	v, exists := c.Get(key)
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	return s, true
}

// parseAt 解析 RFC3339 时间参数，为空时返回 now
func parseAt(raw string, now time.Time) (time.Time, bool) {
	if raw == "" {
		return now, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
