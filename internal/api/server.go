package api

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/certly/internal/archive"
	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/config"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/ipfilter"
	"github.com/foxzi/certly/internal/issuance"
	"github.com/foxzi/certly/internal/metrics"
	"github.com/foxzi/certly/internal/ratelimit"
	"github.com/foxzi/certly/internal/render"
)

// Deps are the services the API exposes
type Deps struct {
	Store    *certificate.Store
	Registry *element.Registry
	Env      *element.Env
	Renderer *render.Renderer
	Archiver *archive.Archiver
	Issuance *issuance.Service
	Files    filestore.Store
	// Limiter throttles verification lookups; nil disables it
	Limiter *ratelimit.Limiter
	// ArchiveMaxSize bounds imported archives
	ArchiveMaxSize int64
	Version        string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.APIConfig
	filter     *ipfilter.Filter
	tlsConfig  *tls.Config
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		filter:    ipfilter.New(cfg.AllowedIPs, logger),
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check and verification (no auth required)
	s.router.Get("/health", s.handleHealth)
	s.router.With(s.verifyLimitMiddleware).Get("/verify/{code}", s.handleVerify)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.filter.Middleware)
		r.Use(s.authMiddleware)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{id}", s.handleGetTemplate)
			r.Put("/{id}", s.handleUpdateTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
			r.Post("/{id}/duplicate", s.handleDuplicateTemplate)
			r.Get("/{id}/preview", s.handlePreviewPDF)

			r.Post("/{id}/pages", s.handleAddPage)
			r.Put("/{id}/pages/{pageID}", s.handleUpdatePage)
			r.Delete("/{id}/pages/{pageID}", s.handleDeletePage)
			r.Get("/{id}/pages/{pageID}/preview", s.handlePreviewMarkup)

			r.Post("/{id}/pages/{pageID}/elements", s.handleAddElement)
			r.Put("/{id}/elements/{elementID}", s.handleUpdateElement)
			r.Delete("/{id}/elements/{elementID}", s.handleDeleteElement)
		})

		r.Get("/element-types", s.handleElementTypes)
		r.Get("/element-types/{type}", s.handleElementSchema)

		r.Post("/export", s.handleExport)
		r.Post("/import", s.handleImport)

		r.Route("/activities", func(r chi.Router) {
			r.Get("/", s.handleListActivities)
			r.Post("/", s.handleCreateActivity)
			r.Get("/{id}", s.handleGetActivity)
			r.Delete("/{id}", s.handleDeleteActivity)
			r.Get("/{id}/issues", s.handleListIssues)
			r.Post("/{id}/issues", s.handleCreateIssue)
			r.Get("/{id}/certificate", s.handleDownload)
		})

		r.Get("/issues/{id}", s.handleGetIssue)
		r.Delete("/issues/{id}", s.handleDeleteIssue)

		r.Post("/files", s.handleUploadFile)
		r.Get("/files/{id}", s.handleGetFile)
	})
}

// UseTLS serves the API over HTTPS with c
func (s *Server) UseTLS(c *tls.Config) {
	s.tlsConfig = c
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		TLSConfig:      s.tlsConfig,
	}

	var err error
	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS API server", "addr", s.config.ListenAddr)
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
