package jwt

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tableready/config"
)

var (
	ErrTokenExpired = errors.New("token 已过期")
	ErrTokenInvalid = errors.New("token 无效")
)

// Token 类型
const (
	TokenTypeAccess = "access" // 商家员工
	TokenTypePatron = "patron" // 排队顾客（仅能操作自己的记录）
)

const issuer = "tableready"

// Claims 自定义 JWT 声明
type Claims struct {
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role,omitempty"`
	VenueID   string `json:"venue_id"`
	EntryID   string `json:"entry_id,omitempty"` // 仅 patron token
	TokenType string `json:"token_type"`
	jwtv5.RegisteredClaims
}

// Manager JWT 管理器
// 员工 token 由外部认证服务签发，本服务只负责校验；patron token 在入队时签发。
type Manager struct {
	secret         []byte
	accessTokenTTL time.Duration
	patronTokenTTL time.Duration
}

// NewManager 创建 JWT 管理器
func NewManager(cfg *config.AuthConfig) *Manager {
	return &Manager{
		secret:         []byte(cfg.JWTSecret),
		accessTokenTTL: cfg.AccessTokenTTL,
		patronTokenTTL: cfg.PatronTokenTTL,
	}
}

// GenerateAccessToken 生成员工 Access Token
func (m *Manager) GenerateAccessToken(userID, role, venueID string) (string, error) {
	return m.sign(Claims{
		UserID:    userID,
		Role:      role,
		VenueID:   venueID,
		TokenType: TokenTypeAccess,
	}, m.accessTokenTTL)
}

// GeneratePatronToken 生成顾客追踪 Token，绑定到单条排队记录
func (m *Manager) GeneratePatronToken(entryID, venueID string) (string, error) {
	return m.sign(Claims{
		VenueID:   venueID,
		EntryID:   entryID,
		TokenType: TokenTypePatron,
	}, m.patronTokenTTL)
}

func (m *Manager) sign(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwtv5.RegisteredClaims{
		ID:        uuid.New().String(),
		IssuedAt:  jwtv5.NewNumericDate(now),
		ExpiresAt: jwtv5.NewNumericDate(now.Add(ttl)),
		Issuer:    issuer,
	}
	token := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ParseToken 解析并验证 Token
func (m *Manager) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwtv5.ParseWithClaims(tokenString, &Claims{}, func(t *jwtv5.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return m.secret, nil
	}, jwtv5.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
