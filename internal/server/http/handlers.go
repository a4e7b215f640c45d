package http

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nestor/internal/agent/ports"
	"nestor/internal/audit"
	"nestor/internal/confirm"
	nerrors "nestor/internal/errors"
)

// errorBody is the uniform error envelope: {error, kind}.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func respondError(c *gin.Context, err error) {
	kind := nerrors.KindOf(err)
	c.JSON(nerrors.HTTPStatus(kind), errorBody{Error: err.Error(), Kind: string(kind)})
}

func (s *Server) handleHealth(c *gin.Context) {
	services := make(map[string]string)
	status := "ok"
	for name, healthy := range s.deps.Pool.HealthAll(c.Request.Context()) {
		if healthy {
			services[name] = "healthy"
		} else {
			services[name] = "unreachable"
			status = "degraded"
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "services": services})
}

type commandRequest struct {
	Text    string         `json:"text"`
	UserID  string         `json:"user_id"`
	Context map[string]any `json:"context"`
}

func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, nerrors.Wrap(nerrors.KindValidation, "invalid request body", err))
		return
	}

	for key, value := range req.Context {
		s.deps.Store.SetVariable(req.UserID, key, value)
	}

	resp, err := s.deps.Dispatcher.Handle(c.Request.Context(), req.UserID, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type contextResetRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleContextReset(c *gin.Context) {
	var req contextResetRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		respondError(c, nerrors.New(nerrors.KindValidation, "user_id is required"))
		return
	}
	s.deps.Store.Clear(req.UserID)
	s.deps.Store.Get(req.UserID)
	c.JSON(http.StatusOK, gin.H{
		"user_id": req.UserID,
		"context": s.deps.Store.Exchanges(req.UserID),
		"created": true,
	})
}

func (s *Server) handleContextGet(c *gin.Context) {
	userID := c.Param("user_id")
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"context": s.deps.Store.Exchanges(userID),
	})
}

func (s *Server) handleContextClear(c *gin.Context) {
	userID := c.Param("user_id")
	s.deps.Store.Clear(userID)
	c.JSON(http.StatusOK, gin.H{"message": "context cleared for " + userID})
}

type execRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Timeout int      `json:"timeout"`
	Cwd     string   `json:"cwd"`
	UserID  string   `json:"user_id"`
}

// handleExec is the direct executor surface. It goes through the same gated
// pipeline as the agent, so the permission screen and audit apply unchanged.
func (s *Server) handleExec(c *gin.Context) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, nerrors.Wrap(nerrors.KindValidation, "invalid request body", err))
		return
	}

	principal := req.UserID
	if principal == "" {
		principal = "api"
	}
	args := map[string]any{"command": req.Command}
	if len(req.Args) > 0 {
		args["args"] = req.Args
	}
	if req.Timeout > 0 {
		args["timeout"] = req.Timeout
	}

	obs := s.deps.Executor.Execute(c.Request.Context(), ports.ToolCall{
		Name:      "run_terminal",
		Arguments: args,
		Principal: principal,
	})
	if obs.Status != ports.ObservationSuccess {
		kind := nerrors.Kind(obs.ErrorKind)
		c.JSON(nerrors.HTTPStatus(kind), errorBody{Error: obs.Error, Kind: obs.ErrorKind})
		return
	}
	c.JSON(http.StatusOK, obs.Data)
}

type confirmRequest struct {
	Approved bool `json:"approved"`
}

func (s *Server) handleConfirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, nerrors.Wrap(nerrors.KindValidation, "invalid request body", err))
		return
	}

	err := s.deps.Broker.Resolve(c.Param("id"), req.Approved)
	if stderrors.Is(err, confirm.ErrAlreadyResolved) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "already_resolved": true})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handlePending(c *gin.Context) {
	requests := make(map[string]confirm.Request)
	for _, req := range s.deps.Broker.Pending(c.Query("principal")) {
		requests[req.ID] = req
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (s *Server) handleAuditRecent(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, nerrors.New(nerrors.KindValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	entries, err := s.deps.Audit.Recent(limit)
	if err != nil {
		respondError(c, nerrors.Wrap(nerrors.KindInternal, "audit read failed", err))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleAuditPrincipal(c *gin.Context) {
	summary, err := s.deps.Audit.PerPrincipal(c.Param("principal"))
	if err != nil {
		respondError(c, nerrors.Wrap(nerrors.KindInternal, "audit read failed", err))
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleStats(c *gin.Context) {
	payload := gin.H{"sessions": s.deps.Store.Len()}
	if s.deps.Agent != nil {
		payload["agent"] = s.deps.Agent.Stats()
	}
	c.JSON(http.StatusOK, payload)
}
