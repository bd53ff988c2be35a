package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the caller's identity
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// Ping endpoint
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "auth service alive!"})
}

// Me returns the principal decoded from the bearer token
func (h *Handler) Me(c *gin.Context) {
	p := PrincipalFrom(c)
	if p == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           p.ID,
		"username":     p.Username,
		"is_superuser": p.IsSuperuser,
		"roles":        p.RoleCodes(),
	})
}
