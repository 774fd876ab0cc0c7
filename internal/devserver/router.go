// Package devserver — router assembly.
package devserver

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clioworks/engagechat/internal/config"
)

// RegisterRoutes attaches all middleware and endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. RequestID: generate/propagate correlation id
//  2. AccessLog: structured request logs
//  3. Recovery: capture panics after the logger is in place
//  4. Metrics
//  5. Gzip (websocket endpoint excluded)
//  6. Rate limiter (per credential/IP)
//  7. CORS
func RegisterRoutes(r *gin.Engine, s *Server, cfg config.StubConfig) {
	r.HandleMethodNotAllowed = true

	r.Use(RequestID())
	r.Use(AccessLog(s.Log))
	r.Use(Recovery())

	r.Use(Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/realtime"})))

	rl := NewRateLimiter(cfg.RateRPS, cfg.RateBurst)
	r.Use(rl.Handler())

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "Prefer"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "Prefer"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", s.healthz)

	r.GET("/engagements/:id/chat-room", s.getEngagementRoom)

	rooms := r.Group("/chat/rooms")
	{
		rooms.POST("", s.createRoom)
		rooms.GET("/:roomID", s.getRoom)
		rooms.POST("/:roomID/members", s.addMembers)
		rooms.GET("/:roomID/messages", s.listMessages)
		rooms.POST("/:roomID/messages", s.sendMessage)
	}
	r.POST("/chat/upload", s.upload)

	// Low-latency write path: a bare row insert, PostgREST style.
	r.POST("/rest/v1/messages", s.directInsert)

	r.GET("/realtime", s.realtime)
	r.Static("/files", s.UploadsDir)
}
