package authorization

import (
	"net/http"
	"strings"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"

	"tabula_back/access"
)

// Guard 封装 JWT 中间件以提供授权辅助方法。
type Guard struct {
	jwt *jwt.GinJWTMiddleware
}

// NewGuard 根据给定的 JWT 中间件构建守卫辅助。
func NewGuard(jwtMiddleware *jwt.GinJWTMiddleware) *Guard {
	if jwtMiddleware == nil {
		return nil
	}
	return &Guard{jwt: jwtMiddleware}
}

// Guard 返回模块内部复用的守卫实例。
func (m *Module) Guard() *Guard {
	if m == nil {
		return nil
	}
	return NewGuard(m.jwtMiddleware)
}

// RequireAuthenticated 确保请求携带有效的 JWT。
func (g *Guard) RequireAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		}
	}
	return g.jwt.MiddlewareFunc()
}

// RequireRole 要求请求者的最高角色不低于给定角色。
func (g *Guard) RequireRole(minimum access.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if actor.Role < minimum {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": minimum.String() + " role required"})
			return
		}
		c.Next()
	}
}

// CurrentActor 从请求的 JWT 声明里重建访问主体。角色取所有声明角色中
// 权限最高的一个。
func CurrentActor(c *gin.Context) (access.Actor, bool) {
	claims := jwt.ExtractClaims(c)
	if len(claims) == 0 {
		return access.Actor{}, false
	}

	userID := extractUserID(claims)
	if userID == 0 {
		return access.Actor{}, false
	}

	companyKey, _ := claims["company_key"].(string)

	return access.Actor{
		UserID:     uint64(userID),
		Role:       access.ParseRole(extractRoles(claims)),
		CompanyKey: strings.TrimSpace(companyKey),
	}, true
}
