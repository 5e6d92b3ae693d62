package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tableready/internal/dto"
	"tableready/pkg/redis"
)

const healthCheckTimeout = 2 * time.Second

// HealthHandler 健康检查，探测数据库与 Redis
type HealthHandler struct {
	pingDB    func(ctx context.Context) error
	pingRedis func(ctx context.Context) error // nil 表示未启用 Redis
}

// NewHealthHandler 创建 HealthHandler，rdb 可为 nil
func NewHealthHandler(db *gorm.DB, rdb *redis.Client) *HealthHandler {
	h := &HealthHandler{
		pingDB: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if rdb != nil {
		h.pingRedis = rdb.Ping
	}
	return h
}

// Check 健康检查
// GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp := dto.HealthResponse{Status: "ok", Database: "up", Redis: "disabled"}
	status := http.StatusOK

	if err := h.pingDB(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "down"
		status = http.StatusServiceUnavailable
	}
	if h.pingRedis != nil {
		resp.Redis = "up"
		// Redis 只影响繁忙信号与限流，不拉低整体状态码
		if err := h.pingRedis(ctx); err != nil {
			resp.Redis = "down"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}

	c.JSON(status, resp)
}
