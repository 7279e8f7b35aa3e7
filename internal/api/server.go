// Package api serves batch runs over HTTP: upload a traffic table, fetch its alerts and
// behaviour patterns, and follow completed runs over a websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nshruti113/threatdna/internal/config"
	"github.com/nshruti113/threatdna/internal/export"
	"github.com/nshruti113/threatdna/internal/ingest"
	"github.com/nshruti113/threatdna/internal/models"
	"github.com/nshruti113/threatdna/internal/pipeline"
	"github.com/nshruti113/threatdna/internal/storage"
)

// Server wires the HTTP surface to the batch pipeline
type Server struct {
	cfg      config.ServerConfig
	levels   bool
	pipeline *pipeline.Pipeline
	store    *storage.ReportStore
	sinks    *storage.Fanout
	hub      *Hub
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	router   *gin.Engine
}

// NewServer builds the router. gatherer backs /metrics.
func NewServer(cfg *config.Config, p *pipeline.Pipeline, store *storage.ReportStore, sinks *storage.Fanout,
	gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		cfg:      cfg.Server,
		levels:   cfg.Patterns.IncludeThreatLevel,
		pipeline: p,
		store:    store,
		sinks:    sinks,
		hub:      NewHub(logger),
		gatherer: gatherer,
		logger:   logger,
		router:   router,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Enable CORS
	s.router.Use(corsMiddleware())

	api := s.router.Group("/api")
	{
		api.POST("/runs", s.createRun)
		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)
		api.GET("/runs/:id/alerts", s.getAlerts)
		api.GET("/runs/:id/patterns", s.getPatterns)
	}

	// WebSocket endpoint
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.Serve(c.Writer, c.Request)
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "runs": s.store.Len()})
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on the configured address until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// createRun reads a traffic table from the body or the multipart "file" field and runs
// it through the pipeline
func (s *Server) createRun(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	body, source, err := uploadBody(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	defer body.Close()

	table, err := ingest.ReadLimit(body, s.cfg.MaxUploadBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, ingest.ErrTooLarge):
			s.fail(c, http.StatusRequestEntityTooLarge,
				fmt.Errorf("upload exceeds %d bytes after decompression", s.cfg.MaxUploadBytes))
		case errors.Is(err, ingest.ErrEmptyInput):
			s.fail(c, http.StatusBadRequest, errors.New("upload is empty: expected a CSV table with a header row"))
		default:
			s.fail(c, http.StatusBadRequest, err)
		}
		return
	}

	report, err := s.pipeline.Run(c.Request.Context(), table)
	if err != nil {
		s.logger.Error("Run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run failed"})
		return
	}
	report.Source = source

	if len(report.Mapping) == 0 {
		s.fail(c, http.StatusUnprocessableEntity,
			errors.New("none of the input columns match a known traffic field"))
		return
	}

	s.store.Put(report)
	s.publish(c.Request.Context(), report)

	c.JSON(http.StatusCreated, report.Summarize())
}

func uploadBody(c *gin.Context) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType != "multipart/form-data" {
		return c.Request.Body, "upload", nil
	}

	header, err := c.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("multipart upload needs a %q field: %w", "file", err)
	}
	f, err := header.Open()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open upload: %w", err)
	}
	return f, header.Filename, nil
}

// publish pushes a completed run to websocket clients and the external sinks
func (s *Server) publish(ctx context.Context, report *models.Report) {
	msgs := storage.RunMessages(report)
	out := make([]any, len(msgs))
	for i := range msgs {
		out[i] = msgs[i]
	}
	s.hub.Broadcast(out...)

	// sink failures are logged and counted by the fanout
	_ = s.sinks.PublishRun(ctx, report)
}

func (s *Server) listRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": s.store.Summaries()})
}

func (s *Server) lookup(c *gin.Context) (*models.Report, bool) {
	report, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run %s not found", c.Param("id"))})
		return nil, false
	}
	return report, true
}

func (s *Server) getRun(c *gin.Context) {
	report, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":    report.Summarize(),
		"mapping":    report.Mapping,
		"violations": report.Violations,
	})
}

func (s *Server) getAlerts(c *gin.Context) {
	report, ok := s.lookup(c)
	if !ok {
		return
	}
	if c.Query("format") == "csv" {
		s.csv(c, "alerts-"+report.RunID+".csv", func(w io.Writer) error {
			return export.WriteAlerts(w, report.Alerts)
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": report.RunID, "alerts": report.Alerts})
}

func (s *Server) getPatterns(c *gin.Context) {
	report, ok := s.lookup(c)
	if !ok {
		return
	}
	if c.Query("format") == "csv" {
		s.csv(c, "patterns-"+report.RunID+".csv", func(w io.Writer) error {
			return export.WritePatterns(w, report.Patterns, s.levels)
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":     report.RunID,
		"patterns":   report.Patterns,
		"consistent": report.Consistent,
	})
}

func (s *Server) csv(c *gin.Context, filename string, render func(io.Writer) error) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)
	if err := render(c.Writer); err != nil {
		s.logger.Error("Failed to write CSV", "file", filename, "error", err)
	}
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	s.logger.Warn("Rejected upload", "status", status, "error", err)
	c.JSON(status, gin.H{"error": err.Error()})
}

// requestLogger logs one line per request
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// corsMiddleware handles CORS
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Content-Encoding, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
