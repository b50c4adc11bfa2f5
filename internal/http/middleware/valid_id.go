package middleware

import (
	"net/http"

	"github.com/edirooss/groundstation/internal/domain/stream"
	"github.com/gin-gonic/gin"
)

// RequireValidStreamID rejects requests whose ":id" path param is not a
// well-formed stream id.
func RequireValidStreamID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := stream.ValidateID(c.Param("id")); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		c.Next()
	}
}
