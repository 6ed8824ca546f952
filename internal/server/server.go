// Package server exposes the HTTP API: chat, upload, summarize,
// conversation context, and diagram retrieval.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ashoksuthar14/Askpro-Chatbot/internal/config"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/kb"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/llm"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/memory"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/ratelimit"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/summarizer"
	"github.com/ashoksuthar14/Askpro-Chatbot/internal/verifier"
)

// KnowledgeBase is what the handlers need from the kb manager.
type KnowledgeBase interface {
	IngestDocument(ctx context.Context, path string) (string, error)
	Retrieve(ctx context.Context, query string, topK int) []kb.Result
	DocumentText(ctx context.Context, id string) (string, error)
}

// Memory is what the handlers need from the memory store.
type Memory interface {
	AddMessage(ctx context.Context, sessionID, role, text string) error
	Recent(ctx context.Context, sessionID string, limit int) ([]memory.Message, error)
}

// Summarizer produces three-point summaries.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (summarizer.Result, error)
}

// SourceVerifier enriches answers with encyclopedia sources.
type SourceVerifier interface {
	Verify(ctx context.Context, query string) []verifier.Source
}

// DiagramRenderer turns a graph spec into a stored image.
type DiagramRenderer interface {
	GenerateFromSpec(spec string) (string, error)
	FilePath(id string) (string, error)
}

// Deps carries everything the server serves with.
type Deps struct {
	KB         KnowledgeBase
	Memory     Memory
	Completion llm.Client
	Summarizer Summarizer
	Verifier   SourceVerifier
	Visualizer DiagramRenderer
	Limiter    *ratelimit.Limiter
}

type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	deps   Deps
	logger zerolog.Logger
}

func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info().
				Str("method", c.Request().Method).
				Str("uri", c.Request().RequestURI).
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Msg("http request")
			return err
		}
	})

	s := &Server{echo: e, cfg: cfg, deps: deps, logger: logger}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.echo.Group("/api")
	api.GET("/context/:session_id", s.handleContext)
	api.POST("/upload", s.handleUpload)
	api.POST("/summarize", s.handleSummarize)
	api.POST("/chat", s.handleChat)
	api.GET("/diagram/:id", s.handleDiagram)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info().Str("addr", addr).Msg("starting http server")
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// clientKey identifies a client for throttling: the first forwarded
// address when present, else the connection's peer address.
func clientKey(c echo.Context) string {
	if xff := c.Request().Header.Get(echo.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}
