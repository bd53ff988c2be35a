package auth

import "github.com/gin-gonic/gin"

// RegisterRoutes registers auth routes. /auth/me sits behind the token middleware.
func RegisterRoutes(r *gin.RouterGroup, handler *Handler, tokens *TokenManager) {
	authGroup := r.Group("/auth")
	{
		authGroup.GET("/ping", handler.Ping)
		authGroup.GET("/me", tokens.Middleware(), handler.Me)
	}
}
