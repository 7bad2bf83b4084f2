// Package api wires the orchestrator's HTTP surface together: gin
// routing, the read API over workflow/issue state, the ingress and
// trigger-control handlers, and graceful shutdown, following the
// teacher's api.Server pattern.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kvnkishore11/agentickanban/internal/config"
	"github.com/kvnkishore11/agentickanban/internal/connmgr"
	"github.com/kvnkishore11/agentickanban/internal/db/repositories"
	"github.com/kvnkishore11/agentickanban/internal/ingress"
	"github.com/kvnkishore11/agentickanban/internal/launcher"
	"github.com/kvnkishore11/agentickanban/internal/logging"
	"github.com/kvnkishore11/agentickanban/internal/monitor"
	"github.com/kvnkishore11/agentickanban/internal/wsctl"
	"github.com/kvnkishore11/agentickanban/pkg/events"
	"github.com/kvnkishore11/agentickanban/pkg/models"
)

// Server is the orchestrator's HTTP + WS entrypoint.
type Server struct {
	cfg    *config.Config
	repos  *repositories.Repositories
	conns  *connmgr.Manager
	logs   *monitor.LogStreamer
	launch *launcher.Launcher

	eventCh    chan events.Event
	httpServer *http.Server
	startedAt  time.Time
}

// New constructs a Server, wiring the connection manager, filesystem
// monitor registry, and worker launcher together. The channel bridging
// Monitor goroutines into the broadcast fan-out holds 1024 events; a
// full channel drops events rather than blocking a monitor's poll
// loop, per spec.md §4.E.
func New(cfg *config.Config, repos *repositories.Repositories) *Server {
	conns := connmgr.NewManager()
	eventCh := make(chan events.Event, 1024)

	launch := launcher.New(repos, launcher.Options{
		RepoRoot:      cfg.RepoRoot,
		AgentsDir:     cfg.AgentsDir,
		EnvFile:       cfg.EnvFile,
		GitHubPAT:     cfg.GitHubPAT,
		DisableNotify: cfg.DisableWebSocketNotifications,
	})

	return &Server{
		cfg:     cfg,
		repos:   repos,
		conns:   conns,
		logs:    monitor.NewLogStreamer(cfg.AgentsDir, cfg.SpecsDir, eventCh),
		launch:    launch,
		eventCh:   eventCh,
		startedAt: time.Now().UTC(),
	}
}

// Conns exposes the connection manager so the supervisor can reap
// idle sessions and broadcast heartbeats.
func (s *Server) Conns() *connmgr.Manager { return s.conns }

// LogStreamer exposes the monitor registry so other components (the
// launcher's caller, tests) can start monitoring a newly triggered
// workflow.
func (s *Server) LogStreamer() *monitor.LogStreamer { return s.logs }

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully, mirroring the teacher's api.Server.Start.
func (s *Server) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", s.health)
	router.GET("/ws/trigger", gin.WrapF(wsctl.NewHandler(s.conns, s.launch).ServeHTTP))

	api := router.Group("/api")
	ingress.New(s.conns, s.repos).RegisterRoutes(api)
	s.registerReadRoutes(api)

	go s.consumeMonitorEvents(ctx)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.BackendPort),
		Handler: router,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("api: server error: %v", err)
		}
	}()

	<-ctx.Done()

	logging.Info("api: shutting down")
	s.logs.StopAll()
	s.conns.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// consumeMonitorEvents is the single consumer bridging every Monitor's
// shared channel into the connection manager, implementing the
// thread-to-async handoff described in spec.md §4.E: producers never
// touch the connection manager directly.
func (s *Server) consumeMonitorEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.eventCh:
			if !ok {
				return
			}
			if adwID, scoped := ev.ADWScoped(); scoped {
				s.conns.BroadcastForADW(adwID, ev)
			} else {
				s.conns.Broadcast(ev, false)
			}
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	report := s.repos.Workflows.Health(s.cfg.DatabaseURL)
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":                   boolToStatus(report.Healthy),
		"service":                  "adwd",
		"db":                       report,
		"active_connections":       s.conns.Count(),
		"total_workflows_triggered": s.launch.TotalLaunched(),
		"uptime_seconds":           time.Since(s.startedAt).Seconds(),
	})
}

func boolToStatus(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

// registerReadRoutes mounts the workflow/issue read-and-mutate API
// described in spec.md §4.B's callers: listing, filtering, activity
// pagination, issue allocation, and the trigger endpoint used by
// clients that prefer plain HTTP over the WS control plane.
func (s *Server) registerReadRoutes(api *gin.RouterGroup) {
	api.GET("/adws", s.listWorkflows)
	api.POST("/adws", s.createWorkflow)
	api.GET("/adws/:adw_id", s.getWorkflow)
	api.PATCH("/adws/:adw_id", s.updateWorkflow)
	api.GET("/adws/:adw_id/activity", s.listActivity)
	api.POST("/adws/:adw_id/activity", s.appendActivity)

	api.POST("/issues/allocate", s.allocateIssue)
	api.GET("/issues", s.listIssues)
	api.GET("/issues/:number", s.getIssue)
	api.DELETE("/issues/:number", s.deleteIssue)

	api.POST("/trigger", s.triggerWorkflow)
	api.POST("/issues/deduplicate", s.deduplicateIssues)
}

func (s *Server) listWorkflows(c *gin.Context) {
	filter := models.WorkflowFilter{
		Status:         c.Query("status"),
		Stage:          c.Query("stage"),
		IncludeDeleted: c.Query("include_deleted") == "true",
	}
	if v := c.Query("is_stuck"); v != "" {
		stuck := v == "true"
		filter.IsStuck = &stuck
	}

	rows, err := s.repos.Workflows.ListWorkflows(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": rows})
}

// createWorkflowRequest is the body of POST /api/adws: a direct,
// out-of-band way for callers (tests, maintenance tooling) to seed a
// workflow record without going through the trigger/launch path, per
// spec.md §8 scenario S3.
type createWorkflowRequest struct {
	ADWID        string          `json:"adw_id" binding:"required"`
	IssueNumber  *int64          `json:"issue_number"`
	IssueTitle   string          `json:"issue_title"`
	IssueBody    string          `json:"issue_body"`
	IssueClass   models.IssueClass `json:"issue_class"`
	WorkflowName string          `json:"workflow_name"`
	ModelSet     models.ModelSet `json:"model_set"`
	DataSource   models.DataSource `json:"data_source"`
}

func (s *Server) createWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "adw_id is required: "+err.Error())
		return
	}

	w := &models.Workflow{
		ADWID:        req.ADWID,
		IssueNumber:  req.IssueNumber,
		IssueTitle:   req.IssueTitle,
		IssueBody:    req.IssueBody,
		IssueClass:   req.IssueClass,
		WorkflowName: req.WorkflowName,
		ModelSet:     req.ModelSet,
		DataSource:   req.DataSource,
	}
	created, err := s.repos.Workflows.CreateWorkflow(w)
	if err != nil {
		respondRepoError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getWorkflow(c *gin.Context) {
	w, err := s.repos.Workflows.GetWorkflow(c.Param("adw_id"))
	if err != nil {
		respondRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) updateWorkflow(c *gin.Context) {
	var body models.WorkflowUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid update body: "+err.Error())
		return
	}
	w, err := s.repos.Workflows.UpdateWorkflow(c.Param("adw_id"), body)
	if err != nil {
		respondRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) listActivity(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))

	entries, total, err := s.repos.Workflows.ListActivity(c.Param("adw_id"), page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries, "total": total})
}

func (s *Server) appendActivity(c *gin.Context) {
	var entry models.ActivityLogEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		badRequest(c, "invalid activity entry: "+err.Error())
		return
	}
	entry.ADWID = c.Param("adw_id")
	if err := s.repos.Workflows.AppendActivity(entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}

type allocateIssueRequest struct {
	Title     string `json:"issue_title" binding:"required"`
	ProjectID string `json:"project_id"`
	ADWID     string `json:"adw_id"`
}

func (s *Server) allocateIssue(c *gin.Context) {
	var req allocateIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "issue_title is required: "+err.Error())
		return
	}
	number, err := s.repos.Issues.Allocate(req.Title, req.ProjectID, req.ADWID)
	if err != nil {
		if _, contention := err.(*repositories.ContentionError); contention {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"issue_number": number})
}

func (s *Server) listIssues(c *gin.Context) {
	rows, err := s.repos.Issues.List(c.Query("project_id"), c.Query("include_deleted") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": rows})
}

func (s *Server) getIssue(c *gin.Context) {
	number, err := strconv.ParseInt(c.Param("number"), 10, 64)
	if err != nil {
		badRequest(c, "number must be an integer")
		return
	}
	row, err := s.repos.Issues.Get(number)
	if err != nil {
		respondRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) deleteIssue(c *gin.Context) {
	number, err := strconv.ParseInt(c.Param("number"), 10, 64)
	if err != nil {
		badRequest(c, "number must be an integer")
		return
	}
	permanent := c.Query("permanent") == "true"
	if err := s.repos.Issues.Delete(number, permanent); err != nil {
		respondRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) triggerWorkflow(c *gin.Context) {
	var req launcher.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid trigger request: "+err.Error())
		return
	}
	result, err := s.launch.Launch(req)
	if err != nil {
		if _, ok := err.(*launcher.ValidationError); ok {
			badRequest(c, err.Error())
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.logs.Start(result.ADWID); err != nil {
		logging.Warn("api: failed to start monitor for %s: %v", result.ADWID, err)
	}
	c.JSON(http.StatusAccepted, result)
}

func (s *Server) deduplicateIssues(c *gin.Context) {
	result, err := s.repos.Workflows.DeduplicateIssueNumbers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

func respondRepoError(c *gin.Context, err error) {
	switch err.(type) {
	case *repositories.NotFoundError:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case *repositories.ConflictError:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
