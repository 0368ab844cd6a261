// Package server exposes the mashup engine over HTTP: job creation,
// status polling, recipe revision, and rendered audio retrieval.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nzoschke/mashlab/pkg/brief"
	"github.com/nzoschke/mashlab/pkg/config"
	"github.com/nzoschke/mashlab/pkg/jobs"
	"github.com/nzoschke/mashlab/pkg/mash"
	"github.com/nzoschke/mashlab/pkg/recipe"
	"github.com/nzoschke/mashlab/pkg/render"
	"github.com/nzoschke/mashlab/pkg/revise"
)

// Server wires the job store, rendering engine, and revision chain behind
// the HTTP handlers. Each job runs in its own goroutine; within a job the
// build and render stages are strictly sequential.
type Server struct {
	store  jobs.Store
	engine *render.Engine
	chain  *revise.Chain
}

// New builds a server from injected collaborators.
func New(store jobs.Store, engine *render.Engine, chain *revise.Chain) *Server {
	return &Server{store: store, engine: engine, chain: chain}
}

// Run wires dependencies from the config and serves until the process
// exits.
func Run(cfg config.Config) error {
	ws, err := render.NewWorkspace(cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	var store jobs.Store
	if cfg.JobsDB != "" {
		sqliteStore, err := jobs.NewSQLiteStore(cfg.JobsDB)
		if err != nil {
			return fmt.Errorf("job store: %w", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
	} else {
		store = jobs.NewMemoryStore()
	}

	chain := revise.NewChain(revise.NewOllamaProvider(cfg.OllamaHost, cfg.OllamaModel))
	s := New(store, render.NewEngine(ws), chain)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	s.Register(e)

	return e.Start(fmt.Sprintf(":%d", cfg.Port))
}

// Register attaches the API routes to an Echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/api/mashup/create", s.createMashup)
	e.GET("/api/mashup/status/:id", s.getStatus)
	e.POST("/api/mashup/revise", s.reviseMashup)
	e.GET("/api/mashup/audio/:filename", s.serveAudio)
}

type createRequest struct {
	Briefs []brief.Brief `json:"briefs"`
}

type reviseRequest struct {
	CurrentRecipe recipe.Recipe `json:"current_recipe"`
	UserCommand   string        `json:"user_command"`
}

type jobAccepted struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// createMashup validates the briefs, registers a pending job, and kicks
// off the build-and-render worker.
func (s *Server) createMashup(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Briefs) < 2 {
		return echo.NewHTTPError(http.StatusBadRequest, "provide at least two briefs")
	}
	for _, b := range req.Briefs {
		if err := b.Validate(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	jobID := newJobID()
	job := jobs.Job{ID: jobID, Status: jobs.StatusPending, Progress: "queued"}
	if err := s.store.Create(c.Request().Context(), job); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	go s.runCreate(jobID, req.Briefs)

	return c.JSON(http.StatusAccepted, jobAccepted{
		JobID:   jobID,
		Status:  string(jobs.StatusPending),
		Message: "Mashup creation initiated. Use job_id to check status.",
	})
}

// reviseMashup registers a revision job: the recipe is rewritten by the
// revision chain and re-rendered.
func (s *Server) reviseMashup(c echo.Context) error {
	var req reviseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.UserCommand == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing user_command")
	}
	if err := req.CurrentRecipe.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	jobID := newJobID()
	job := jobs.Job{ID: jobID, Status: jobs.StatusPending, Progress: "queued for revision"}
	if err := s.store.Create(c.Request().Context(), job); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	go s.runRevise(jobID, req.CurrentRecipe, req.UserCommand)

	return c.JSON(http.StatusAccepted, jobAccepted{
		JobID:   jobID,
		Status:  string(jobs.StatusPending),
		Message: "Mashup revision initiated. Use job_id to check status.",
	})
}

// getStatus returns the job document for an ID.
func (s *Server) getStatus(c echo.Context) error {
	job, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if err == jobs.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}

// serveAudio serves a rendered mashup file from the workspace.
func (s *Server) serveAudio(c echo.Context) error {
	name := c.Param("filename")
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return echo.NewHTTPError(http.StatusForbidden, "invalid filename")
	}
	path := filepath.Join(s.engine.Workspace.MashupsDir(), name)
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	return c.Attachment(path, name)
}

// runCreate is the worker for a creation job: build the recipe, render it,
// record the result. All failures land in the job's terminal status.
func (s *Server) runCreate(jobID string, briefs []brief.Brief) {
	ctx := context.Background()
	s.setProgress(ctx, jobID, "Generating recipe...")

	rec, err := mash.Build(briefs)
	if err != nil {
		s.fail(ctx, jobID, err)
		return
	}
	s.renderAndFinish(ctx, jobID, rec)
}

// runRevise is the worker for a revision job: rewrite the recipe through
// the provider chain (a no-op if every provider fails), then re-render.
func (s *Server) runRevise(jobID string, rec recipe.Recipe, command string) {
	ctx := context.Background()
	s.setProgress(ctx, jobID, "Revising recipe...")

	revised := s.chain.Revise(ctx, rec, command)
	s.renderAndFinish(ctx, jobID, revised)
}

func (s *Server) renderAndFinish(ctx context.Context, jobID string, rec recipe.Recipe) {
	s.setProgress(ctx, jobID, "Rendering audio...")

	filename, err := s.engine.Render(rec)
	if err != nil {
		s.fail(ctx, jobID, err)
		return
	}

	recJSON, err := json.Marshal(rec)
	if err != nil {
		s.fail(ctx, jobID, err)
		return
	}

	s.update(ctx, jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusComplete
		j.Progress = "Done"
		j.Result = &jobs.Result{
			MashupID: strings.TrimSuffix(filename, filepath.Ext(filename)),
			AudioURL: "/api/mashup/audio/" + filename,
			Recipe:   recJSON,
		}
	})
}

func (s *Server) setProgress(ctx context.Context, jobID, progress string) {
	s.update(ctx, jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusProcessing
		j.Progress = progress
	})
}

func (s *Server) fail(ctx context.Context, jobID string, err error) {
	log.Printf("job %s failed: %v", jobID, err)
	s.update(ctx, jobID, func(j *jobs.Job) {
		j.Status = jobs.StatusFailed
		j.Error = err.Error()
	})
}

func (s *Server) update(ctx context.Context, jobID string, fn func(*jobs.Job)) {
	if err := s.store.Update(ctx, jobID, fn); err != nil {
		log.Printf("job %s: update failed: %v", jobID, err)
	}
}

func newJobID() string {
	return "mashup_job_" + uuid.NewString()
}
