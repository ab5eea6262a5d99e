package api

import (
	"github.com/aragora/aragora/internal/auth"
	"github.com/aragora/aragora/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the engine's full gin route table, grounded on
// internal/server/server.go's registration block but reshaped around the
// Storage Adapter / WebSocket Hub / Debate Orchestrator instead of the
// teacher's database/conversation globals.
func (s *Server) Router(allowedOrigins []string, authGate *auth.Auth, limiter *ratelimit.Limiter) *gin.Engine {
	if s.Metrics == nil {
		s.Metrics = NewMetrics()
	}

	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggingMiddleware(s.Metrics))
	r.Use(CORSMiddleware(allowedOrigins))
	r.Use(ErrorHandlerMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// OptionalMiddleware resolves auth.Subject before the rate limiter runs,
	// so an authenticated caller's bucket is keyed on its token (PerTokenRPM)
	// rather than its IP (PerIPRPM) even on routes that don't require auth.
	api := r.Group("/api")
	if authGate != nil {
		api.Use(authGate.OptionalMiddleware())
	}
	if limiter != nil {
		api.Use(limiter.Middleware())
	}
	{
		api.GET("/health", s.handleHealth)
		api.GET("/debates", s.handleListDebates)
		api.GET("/debates/:slug", s.handleGetDebate)
		api.GET("/leaderboard", s.handleLeaderboard)
		api.GET("/matches/recent", s.handleRecentMatches)
		api.GET("/flips/recent", s.handleRecentFlips)
		api.GET("/agent/:name/consistency", s.handleAgentConsistency)

		write := api.Group("")
		if authGate != nil {
			write.Use(authGate.Middleware())
		}
		write.POST("/debates", s.handleCreateDebate)
	}

	ws := r.Group("/ws")
	if authGate != nil {
		ws.Use(authGate.OptionalMiddleware())
	}
	if limiter != nil {
		ws.Use(limiter.Middleware())
	}
	ws.GET("", s.handleWebSocket)

	return r
}
