package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"tableready/pkg/jwt"
	"tableready/pkg/response"
)

// 上下文键
const (
	CtxUserID  = "user_id"
	CtxRole    = "role"
	CtxVenueID = "venue_id"
	CtxEntryID = "entry_id"
)

func bearerClaims(c *gin.Context, jwtMgr *jwt.Manager) (*jwt.Claims, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, 10002, "缺少认证头")
		c.Abort()
		return nil, false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		response.Unauthorized(c, 10002, "认证头格式无效")
		c.Abort()
		return nil, false
	}

	claims, err := jwtMgr.ParseToken(parts[1])
	if err != nil {
		response.Unauthorized(c, 10002, "Token 无效或已过期")
		c.Abort()
		return nil, false
	}
	return claims, true
}

// JWTAuth 员工认证中间件
// 从 Authorization: Bearer <token> 中提取并验证员工 Access Token
func JWTAuth(jwtMgr *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, jwtMgr)
		if !ok {
			return
		}

		if claims.TokenType != jwt.TokenTypeAccess {
			response.Unauthorized(c, 10002, "Token 类型无效")
			c.Abort()
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxRole, claims.Role)
		c.Set(CtxVenueID, claims.VenueID)

		c.Next()
	}
}

// PatronAuth 顾客追踪 Token 认证，只允许访问 Token 绑定的那条排队记录
func PatronAuth(jwtMgr *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, jwtMgr)
		if !ok {
			return
		}

		if claims.TokenType != jwt.TokenTypePatron || claims.EntryID == "" {
			response.Unauthorized(c, 10002, "Token 类型无效")
			c.Abort()
			return
		}

		c.Set(CtxEntryID, claims.EntryID)
		c.Set(CtxVenueID, claims.VenueID)

		c.Next()
	}
}

// RoleAuth 角色权限中间件
// 检查当前用户是否具有指定角色之一
func RoleAuth(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(CtxRole)
		if !exists {
			response.Unauthorized(c, 10002, "未认证")
			c.Abort()
			return
		}

		userRole, _ := role.(string)
		for _, r := range allowedRoles {
			if userRole == r {
				c.Next()
				return
			}
		}

		response.Forbidden(c, 10003, "无权限访问")
		c.Abort()
	}
}

// VenueScope 校验路径中的 :venue_id 与员工 Token 所属门店一致
func VenueScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		pathVenue := c.Param("venue_id")
		if pathVenue == "" {
			c.Next()
			return
		}

		tokenVenue, _ := c.Get(CtxVenueID)
		if v, _ := tokenVenue.(string); v != pathVenue {
			response.Forbidden(c, 10003, "无权访问该门店")
			c.Abort()
			return
		}

		c.Next()
	}
}
