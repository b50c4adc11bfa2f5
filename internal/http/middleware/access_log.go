package middleware

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AccessLog writes one "request" entry per request once the handlers return.
// Server errors log at error, client errors at warn, the rest at info.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("access")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ce := log.Check(levelFor(status), "request")
		if ce == nil {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path // unmatched
		}
		fields := append(make([]zap.Field, 0, 7),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
		if id := GetRequestID(c); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if err := handlerErrors(c); err != nil {
			fields = append(fields, zap.Error(err))
		}
		ce.Write(fields...)
	}
}

func levelFor(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// handlerErrors joins everything handlers attached with c.Error.
func handlerErrors(c *gin.Context) error {
	errs := make([]error, 0, len(c.Errors))
	for _, ge := range c.Errors {
		if ge.Err != nil {
			errs = append(errs, ge.Err)
		}
	}
	return errors.Join(errs...)
}
