package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/agent"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/auth"
	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/health"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/llm"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/observability"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// tokenPayload is the wire shape of a token pair.
type tokenPayload struct {
	AccessToken      string          `json:"accessToken"`
	AccessExpiresAt  time.Time       `json:"accessExpiresAt"`
	RefreshToken     string          `json:"refreshToken"`
	RefreshExpiresAt time.Time       `json:"refreshExpiresAt"`
	SessionID        string          `json:"sessionId"`
	User             auth.PublicUser `json:"user"`
}

func tokenPayloadFrom(pair auth.TokenPair) tokenPayload {
	return tokenPayload{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        pair.SessionID,
		User:             pair.User,
	}
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errs.NewConfigError("invalid request body"))
		return
	}
	ctx := c.Request.Context()
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanAuthLogin, observability.UserAttrs(req.Username)...)
	defer span.End()

	pair, err := s.auth.Login(ctx, req.Username, req.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		s.collector.RecordAuthEvent(ctx, "login", authOutcome(err))
		s.writeError(c, err)
		return
	}
	s.collector.RecordAuthEvent(ctx, "login", "ok")
	writeData(c, http.StatusOK, tokenPayloadFrom(pair))
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errs.NewConfigError("invalid request body"))
		return
	}
	ctx := c.Request.Context()
	pair, err := s.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		s.collector.RecordAuthEvent(ctx, "refresh", authOutcome(err))
		s.writeError(c, err)
		return
	}
	s.collector.RecordAuthEvent(ctx, "refresh", "ok")
	writeData(c, http.StatusOK, tokenPayloadFrom(pair))
}

func (s *Server) handleLogout(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		s.writeError(c, errs.NewAuthError(errs.CodeTokenInvalid, "no authenticated session"))
		return
	}
	ctx := c.Request.Context()
	if err := s.auth.Logout(ctx, principal.SessionID); err != nil {
		s.collector.RecordAuthEvent(ctx, "logout", authOutcome(err))
		s.writeError(c, err)
		return
	}
	s.collector.RecordAuthEvent(ctx, "logout", "ok")
	writeData(c, http.StatusOK, gin.H{"revoked": true, "sessionId": principal.SessionID})
}

type queryRequest struct {
	Query             string `json:"query"`
	AcceptApproximate bool   `json:"acceptApproximate"`
	ContextBudget     int    `json:"contextBudget"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errs.NewConfigError("invalid request body"))
		return
	}
	ctx := c.Request.Context()
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanAgentQuery)
	defer span.End()

	resp, err := s.agent.Process(ctx, agent.Request{
		AccessToken:       c.GetString(ctxAccessToken),
		Query:             req.Query,
		AcceptApproximate: req.AcceptApproximate,
		ContextBudget:     req.ContextBudget,
	})
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		s.writeError(c, err)
		return
	}

	tier := string(resp.Result.CacheHitType)
	span.SetAttributes(observability.CacheAttrs(tier)...)
	span.SetAttributes(observability.UserAttrs(resp.User)...)
	s.collector.RecordCacheLookup(ctx, tier)
	s.contextMetrics.RecordAssembly(resp.Reasoning.ContextTokens, resp.Reasoning.HistoryEntries, resp.Reasoning.MemoriesUsed)

	writeData(c, http.StatusOK, resp)
}

func (s *Server) handleCacheStats(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		s.writeError(c, errs.NewAuthError(errs.CodeTokenInvalid, "no authenticated session"))
		return
	}
	decision := s.auth.CheckPermission(c.Request.Context(), principal.UserID, "cache", "read", nil)
	if !decision.Allowed {
		s.writeError(c, errs.NewPermissionDenied(decision.Reason))
		return
	}
	writeData(c, http.StatusOK, s.agent.Statistics())
}

// healthPayload aggregates provider snapshots into one answer for probes.
type healthPayload struct {
	Status    string               `json:"status"`
	Uptime    string               `json:"uptime"`
	Providers []llm.ProviderHealth `json:"providers,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	payload := healthPayload{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}
	status := http.StatusOK
	if s.health != nil {
		payload.Providers = s.health.GetAllHealth()
		for _, provider := range payload.Providers {
			switch provider.State {
			case llm.HealthStateDown:
				payload.Status = "down"
				status = http.StatusServiceUnavailable
			case llm.HealthStateDegraded:
				if payload.Status == "ok" {
					payload.Status = "degraded"
				}
			}
		}
	}
	c.JSON(status, apiResponse{Success: status == http.StatusOK, Data: payload})
}

// handleReady reports the probe registry's latest snapshot. Degraded still
// counts as ready so load balancers keep routing while the cache answers;
// only a critical probe failure pulls the endpoint to 503.
func (s *Server) handleReady(c *gin.Context) {
	if s.probes == nil {
		writeData(c, http.StatusOK, gin.H{"status": "ready"})
		return
	}
	report := s.probes.Snapshot()
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, apiResponse{Success: status == http.StatusOK, Data: report})
}
