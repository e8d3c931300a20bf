// Package api exposes the OpenClapp operations as JSON over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openclapp/openclapp/internal/service"
	"github.com/openclapp/openclapp/internal/store"
	"github.com/openclapp/openclapp/internal/verify"
	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/sirupsen/logrus"
)

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	Service *service.Service
	Verify  *verify.Workflow
	Log     logrus.FieldLogger
}

// Routes registers the public endpoints. write runs before every handler
// that changes state.
func (h *Handler) Routes(r gin.IRoutes, write ...gin.HandlerFunc) {
	w := func(hf gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, write...), hf)
	}

	r.GET("/healthz", h.Health)

	r.POST("/agents/register", w(h.Register)...)
	r.POST("/agents/clap", w(h.Clap)...)
	r.POST("/agents/heartbeat", w(h.Heartbeat)...)
	r.GET("/agents", h.ListAgents)
	r.GET("/agent", h.GetAgent)

	r.GET("/stats/current", h.CurrentStats)
	r.GET("/stats/history", h.History)
	r.GET("/events", h.Events)

	r.POST("/verifications/x/start", w(h.VerifyStart)...)
	r.POST("/verifications/x/check", w(h.VerifyCheck)...)
}

// AdminRoutes registers the bulk wipe endpoints.
func (h *Handler) AdminRoutes(r gin.IRoutes) {
	r.POST("/agents/wipe", h.WipeAgents)
	r.POST("/agents/wipe-unverified", h.WipeUnverifiedAgents)
	r.POST("/events/wipe", h.WipeEvents)
}

// StatusFor maps an operation error to its HTTP status.
func StatusFor(err error) int {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, verify.ErrInvalidHandle),
		errors.Is(err, verify.ErrPostNotFound),
		errors.Is(err, store.ErrNameTaken),
		errors.Is(err, store.ErrHandleTaken),
		errors.Is(err, store.ErrChallengeCompleted),
		errors.Is(err, store.ErrChallengeExpired):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrAgentNotFound),
		errors.Is(err, store.ErrChallengeNotFound):
		return http.StatusNotFound
	case errors.Is(err, verify.ErrFinderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger().WithError(err).WithField("path", c.FullPath()).Error("request failed")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, schema.ErrorResponse{OK: false, Error: msg})
}

func (h *Handler) logger() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, schema.ErrorResponse{OK: false, Error: msg})
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, key+" must be an integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, schema.Health{OK: true, Service: "openclapp"})
}

// --- agents ---

func (h *Handler) Register(c *gin.Context) {
	var req schema.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	a, err := h.Service.Register(c.Request.Context(), req.Name, req.XHandle)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, schema.RegisterResponse{OK: true, AgentID: a.ID, Name: a.Name})
}

func (h *Handler) Clap(c *gin.Context) {
	var req schema.ClapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "agentId and clapping are required")
		return
	}
	res, err := h.Service.SetClapping(c.Request.Context(), req.AgentID, *req.Clapping)
	if err != nil {
		h.fail(c, err)
		return
	}
	res.OK = true
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Heartbeat(c *gin.Context) {
	var req schema.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "agentId is required")
		return
	}
	res, err := h.Service.Heartbeat(c.Request.Context(), req.AgentID, req.Clapping)
	if err != nil {
		h.fail(c, err)
		return
	}
	res.OK = true
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListAgents(c *gin.Context) {
	page, ok := queryInt(c, "page")
	if !ok {
		return
	}
	pageSize, ok := queryInt(c, "pageSize")
	if !ok {
		return
	}
	var verifiedOnly bool
	if raw := c.Query("verifiedOnly"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "verifiedOnly must be true or false")
			return
		}
		verifiedOnly = v
	}

	res, err := h.Service.ListAgents(c.Request.Context(), service.ListQuery{
		Sort:         c.Query("sort"),
		Page:         page,
		PageSize:     pageSize,
		VerifiedOnly: verifiedOnly,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	res.OK = true
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetAgent(c *gin.Context) {
	a, err := h.Service.GetAgent(c.Request.Context(), c.Query("id"), c.Query("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, schema.AgentResponse{OK: true, Agent: *a})
}

// --- stats and ticker ---

func (h *Handler) CurrentStats(c *gin.Context) {
	res, err := h.Service.CurrentStats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	res.OK = true
	c.JSON(http.StatusOK, res)
}

func (h *Handler) History(c *gin.Context) {
	res, err := h.Service.History(c.Request.Context(), c.Query("range"))
	if err != nil {
		h.fail(c, err)
		return
	}
	res.OK = true
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Events(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	events, err := h.Service.Events(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, schema.EventList{OK: true, Events: events})
}

// --- verification ---

func (h *Handler) VerifyStart(c *gin.Context) {
	var req schema.VerifyStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "agentId and xHandle are required")
		return
	}
	ch, err := h.Verify.Start(c.Request.Context(), req.AgentID, req.XHandle)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, schema.VerifyStartResponse{
		OK:            true,
		ChallengeID:   ch.ID,
		ChallengeText: ch.Text,
		XHandle:       ch.Handle,
		ExpiresAt:     ch.ExpiresAt,
	})
}

func (h *Handler) VerifyCheck(c *gin.Context) {
	var req schema.VerifyCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "challengeId is required")
		return
	}
	res, err := h.Verify.Check(c.Request.Context(), req.ChallengeID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, schema.VerifyCheckResponse{
		OK:       true,
		Verified: res.Agent.Verified,
		AgentID:  res.Agent.ID,
		XHandle:  res.Agent.XHandle,
		PostURL:  res.Challenge.PostURL,
	})
}

// --- admin ---

func (h *Handler) WipeAgents(c *gin.Context) {
	h.wipe(c, h.Service.WipeAgents)
}

func (h *Handler) WipeUnverifiedAgents(c *gin.Context) {
	h.wipe(c, h.Service.WipeUnverifiedAgents)
}

func (h *Handler) WipeEvents(c *gin.Context) {
	h.wipe(c, h.Service.WipeEvents)
}

func (h *Handler) wipe(c *gin.Context, fn func(ctx context.Context, confirm string) (*schema.WipeResponse, error)) {
	var req schema.WipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "confirm is required")
		return
	}
	res, err := fn(c.Request.Context(), req.Confirm)
	if err != nil {
		h.fail(c, err)
		return
	}
	res.OK = true
	c.JSON(http.StatusOK, res)
}
