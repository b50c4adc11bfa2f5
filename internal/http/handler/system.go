package handler

import (
	"net/http"
	"runtime"

	"github.com/edirooss/groundstation/internal/config"
	"github.com/gin-gonic/gin"
)

// Ping handles GET /api/ping.
func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Version handles GET /api/version.
func Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    config.Version,
		"git_commit": config.GitCommit,
		"build_date": config.BuildDate,
		"go_version": runtime.Version(),
	})
}
