package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tableready/config"
	"tableready/internal/api/handler"
	"tableready/internal/api/middleware"
	"tableready/pkg/jwt"
	"tableready/pkg/redis"
)

// 请求体上限（ICS 导入需要稍大的空间）
const maxBodyBytes = 2 << 20

// Setup 初始化并返回 Gin 路由引擎，rdb 为 nil 时不启用入队限流
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// ── 健康检查 ──
	r.GET("/health", h.Health.Check)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 公开接口（无需认证）
		public := v1.Group("/venues/:venue_id")
		{
			public.GET("/availability", h.Venue.Availability)
			public.GET("/slots", h.Venue.Slots)
			public.GET("/estimate", h.Venue.Estimate)

			join := []gin.HandlerFunc{}
			if rdb != nil {
				join = append(join, middleware.RateLimit(rdb, cfg.Server.RateLimit.JoinLimit, cfg.Server.RateLimit.JoinWindow, logger))
			}
			join = append(join, h.Waitlist.Join)
			public.POST("/entries", join...)
		}

		// 顾客操作（patron token）
		patron := v1.Group("/me/entry")
		patron.Use(middleware.PatronAuth(jwtMgr))
		{
			patron.GET("", h.Waitlist.PatronGetEntry)
			patron.POST("/cancel", h.Waitlist.PatronCancel)
			patron.POST("/arrived", h.Waitlist.PatronArrived)
			patron.POST("/delay", h.Waitlist.PatronDelay)
		}

		// 员工接口
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr))
		{
			authorized.POST("/venues", middleware.RoleAuth("admin"), h.Venue.Create)

			venue := authorized.Group("/venues/:venue_id")
			venue.Use(middleware.RoleAuth("admin", "manager", "staff"), middleware.VenueScope())
			{
				venue.GET("", h.Venue.Get)
				venue.PUT("", middleware.RoleAuth("admin", "manager"), h.Venue.Update)
				venue.PUT("/busy", h.Venue.SetBusy)

				// 排队看板
				venue.GET("/queue", h.Waitlist.ListQueue)
				entries := venue.Group("/entries/:entry_id")
				{
					entries.GET("", h.Waitlist.GetEntry)
					entries.GET("/notes", h.Waitlist.ListNotes)
					entries.POST("/ready", h.Waitlist.MarkReady)
					entries.POST("/seat", h.Waitlist.Seat)
					entries.POST("/cancel", h.Waitlist.Cancel)
					entries.POST("/no-show", h.Waitlist.MarkNoShow)
					entries.POST("/extend", h.Waitlist.ExtendETA)
					entries.POST("/acknowledge", h.Waitlist.Acknowledge)
				}

				// 桌位模块
				tables := venue.Group("/tables")
				{
					tables.GET("", h.Table.List)
					tables.GET("/match", h.Table.Match)
					tables.POST("", middleware.RoleAuth("admin", "manager"), h.Table.Create)
					tables.PUT("/:table_id", middleware.RoleAuth("admin", "manager"), h.Table.Update)
					tables.DELETE("/:table_id", middleware.RoleAuth("admin", "manager"), h.Table.Delete)
				}

				// 节假日模块
				holidays := venue.Group("/holidays")
				{
					holidays.GET("", h.Venue.ListHolidays)
					holidays.PUT("", middleware.RoleAuth("admin", "manager"), h.Venue.UpsertHolidays)
					holidays.POST("/import", middleware.RoleAuth("admin", "manager"), h.Venue.ImportHolidays)
					holidays.DELETE("/:holiday_id", middleware.RoleAuth("admin", "manager"), h.Venue.DeleteHoliday)
				}
			}
		}
	}

	return r
}
