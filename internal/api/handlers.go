package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/auth"
	"github.com/aragora/aragora/internal/events"
	"github.com/aragora/aragora/internal/logging"
	"github.com/aragora/aragora/internal/orchestrator"
	"github.com/aragora/aragora/internal/ranking"
	"github.com/aragora/aragora/internal/storage"
	"github.com/aragora/aragora/internal/types"
	"github.com/aragora/aragora/internal/wshub"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// semver is the engine's reported version, bumped alongside tagged releases.
const semver = "0.1.0"

// Server wires the Storage Adapter, WebSocket Hub, and Debate Orchestrator
// into one gin-routable handler set, grounded on internal/server/server.go's
// Server struct (trimmed to the capabilities the API actually calls).
//
// NewOrchestrator builds one Orchestrator per debate run rather than the API
// holding a single long-lived instance: agent names are caller-supplied
// (the --agents flag and POST /api/debates body name arbitrary
// participants, not a fixed roster), and a Deps.Invokers map has to be
// populated with exactly the agents a given debate uses before Run is
// called.
type Server struct {
	Storage         storage.Adapter
	Hub             *wshub.Hub
	NewOrchestrator func(agents []string) (*orchestrator.Orchestrator, error)
	Metrics         *Metrics
}

func (s *Server) handleHealth(c *gin.Context) {
	components := gin.H{
		"storage": true,
		"events":  true,
	}
	if s.NewOrchestrator != nil {
		components["orchestrator"] = true
	}
	if s.Hub != nil {
		components["websocket_hub"] = true
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"version":    semver,
		"components": components,
	})
}

func (s *Server) handleListDebates(c *gin.Context) {
	limit := parseLimit(c, 20, 200)
	cursor := c.Query("cursor")

	debates, next, err := s.Storage.ListDebates(c.Request.Context(), limit, cursor)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"debates": debates, "next_cursor": next})
}

func (s *Server) handleGetDebate(c *gin.Context) {
	slug := c.Param("slug")
	if slug == "" {
		c.Error(apperr.New(apperr.KindInput, "missing_slug", "debate slug or id is required"))
		return
	}

	debate, messages, err := s.Storage.GetDebate(c.Request.Context(), slug)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"debate": debate, "messages": messages})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	domainTag := c.DefaultQuery("domain", "general")
	limit := parseLimit(c, 20, 100)

	ratings, err := s.Storage.Leaderboard(c.Request.Context(), domainTag, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": ratings, "domain": domainTag})
}

func (s *Server) handleRecentMatches(c *gin.Context) {
	limit := parseLimit(c, 20, 200)
	matches, err := s.Storage.RecentMatches(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) handleRecentFlips(c *gin.Context) {
	limit := parseLimit(c, 20, 200)
	flips, err := s.Storage.RecentFlips(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flips": flips})
}

func (s *Server) handleAgentConsistency(c *gin.Context) {
	agent := c.Param("name")
	if agent == "" {
		c.Error(apperr.New(apperr.KindInput, "missing_agent", "agent name is required"))
		return
	}

	contradictions, retractions, total, err := s.Storage.ConsistencyCounts(c.Request.Context(), agent)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent":          agent,
		"consistency":    ranking.Consistency(contradictions, retractions, total),
		"contradictions": contradictions,
		"retractions":    retractions,
		"total":          total,
	})
}

// createDebateRequest is the JSON body for POST /api/debates, mirrored by
// `aragora debate start`.
type createDebateRequest struct {
	Task            string   `json:"task" binding:"required"`
	Agents          []string `json:"agents" binding:"required,min=2"`
	Domain          string   `json:"domain"`
	RoundsPlanned   int      `json:"rounds_planned"`
	ConsensusPolicy string   `json:"consensus_policy"`
}

func (s *Server) handleCreateDebate(c *gin.Context) {
	var req createDebateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperr.Wrap(apperr.KindInput, "invalid_request", "request body failed validation", err))
		return
	}
	if s.NewOrchestrator == nil {
		c.Error(apperr.New(apperr.KindInternal, "orchestrator_unavailable", "debate orchestration is not configured"))
		return
	}
	orch, err := s.NewOrchestrator(req.Agents)
	if err != nil {
		c.Error(err)
		return
	}

	cfg := orchestrator.Config{
		RoundsPlanned:      req.RoundsPlanned,
		ConsensusPolicy:    types.ConsensusPolicy(req.ConsensusPolicy),
		ConsensusThreshold: 0.66,
		Domain:             req.Domain,
	}
	debateID := uuid.New().String()
	slug := debateID
	createdBy, _ := auth.Subject(c)

	if s.Metrics != nil {
		s.Metrics.DebatesStarted.Inc()
	}

	// The debate outlives this request, so it runs detached from the
	// request's own context rather than under c.Request.Context(), which
	// is canceled the moment this handler returns.
	go func() {
		debate, runErr := orch.Run(context.Background(), orchestrator.Request{
			DebateID:  debateID,
			Slug:      slug,
			Task:      req.Task,
			Agents:    req.Agents,
			CreatedBy: createdBy,
			Cfg:       cfg,
		})
		if runErr != nil {
			logging.Error("debate run ended with error", map[string]interface{}{
				"debate_id": debateID,
				"error":     runErr.Error(),
			})
		}
		if s.Metrics != nil {
			outcome := "error"
			if debate != nil && debate.Outcome != "" {
				outcome = string(debate.Outcome)
			}
			s.Metrics.DebatesCompleted.WithLabelValues(outcome).Inc()
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"debate_id": debateID, "slug": slug, "status": "running"})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	if s.Hub == nil {
		c.Error(apperr.New(apperr.KindInternal, "hub_unavailable", "websocket hub is not configured"))
		return
	}

	filter := events.Filter{}
	if debateID := c.Query("debate_id"); debateID != "" {
		filter.DebateID = debateID
	}

	if s.Metrics != nil {
		s.Metrics.WebSocketConns.Inc()
		defer s.Metrics.WebSocketConns.Dec()
	}

	if err := s.Hub.ServeSubscriber(c.Writer, c.Request, filter); err != nil {
		c.Error(apperr.Wrap(apperr.KindInternal, "ws_upgrade_failed", "failed to upgrade websocket connection", err))
	}
}

func parseLimit(c *gin.Context, fallback, max int) int {
	limit := fallback
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}
