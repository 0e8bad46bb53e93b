package controlplane

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

var errUnauthorized = errors.New("unauthorized")

var corsConfig = cors.Config{
	AllowAllOrigins: true,
	AllowMethods:    []string{"GET", "POST", "HEAD"},
	AllowHeaders: []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Authorization",
	},
	MaxAge: 12 * time.Hour,
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(corsConfig)
}

func gzipMiddleware() gin.HandlerFunc {
	return gzip.Gzip(gzip.DefaultCompression)
}

// rateLimit allows limit requests per second and client address.
func rateLimit(limit int64) gin.HandlerFunc {
	store := memory.NewStore()
	return mgin.NewMiddleware(limiter.New(store, limiter.Rate{
		Period: time.Second,
		Limit:  limit,
	}))
}

// tokenAuth accepts the token as a bearer header or as the token query
// parameter. An empty token disables auth.
func tokenAuth(token string) gin.HandlerFunc {
	if token == "" {
		slog.Info("control plane auth disabled")
		return func(c *gin.Context) { c.Next() }
	}

	expected := []byte(token)
	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if got == "" {
			got = c.Query("token")
		}

		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			slog.Debug("control plane rejected token", "ip", c.ClientIP(), "path", c.FullPath())
			abortWithError(c, http.StatusUnauthorized, ErrCodeUnauthorized, errUnauthorized)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	httpLogger := slog.Default().WithGroup("http")

	return slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		WithRequestID:    true,
	})
}

// secureHeaders sets the browser hardening headers. The API is plain http
// on loopback, so there is no TLS redirect or HSTS.
func secureHeaders() gin.HandlerFunc {
	return secure.New(secure.Config{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IENoOpen:           true,
	})
}
