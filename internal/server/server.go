package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/vizier/internal/broadcast"
	"github.com/mohammad-safakhou/vizier/internal/runtime"
	"github.com/mohammad-safakhou/vizier/internal/sources"
	"github.com/mohammad-safakhou/vizier/internal/store"
	"github.com/mohammad-safakhou/vizier/internal/tracker"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("vizier/internal/server")

// Service is the research pipeline as seen by the HTTP layer. Every method
// scopes its lookup to userID.
type Service interface {
	CreateQuery(ctx context.Context, userID, text string) (string, error)
	GetQuery(ctx context.Context, userID, id string) (store.QueryRecord, error)
	Refine(ctx context.Context, userID, id string) (string, error)
	CollectSources(ctx context.Context, userID, id string) error
	SubmitReview(ctx context.Context, userID, id string, review sources.Review) ([]sources.Source, error)
	QueryState(ctx context.Context, userID, id string) (tracker.State, error)
	QueryHistory(ctx context.Context, userID, id string) ([]tracker.Transition, error)
	SubscribeQuery(ctx context.Context, userID, id string) (*broadcast.Subscription, error)

	GenerateDraft(ctx context.Context, userID, queryID string) (string, error)
	GetDraft(ctx context.Context, userID, id string) (store.DraftRecord, error)
	DraftState(ctx context.Context, userID, id string) (tracker.State, error)
	SubscribeDraft(ctx context.Context, userID, id string) (*broadcast.Subscription, error)
	AcceptDraft(ctx context.Context, userID, id string) error
	RejectDraft(ctx context.Context, userID, id, feedback string) error
}

// Options configures the HTTP server.
type Options struct {
	Service        Service
	Secret         []byte
	AllowedOrigins []string
	// Heartbeat is the keepalive interval on progress streams.
	Heartbeat time.Duration
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	// Health reports readiness for /healthz; nil means always healthy.
	Health func(ctx context.Context) error
	Logger *log.Logger
}

// HTTPError is the JSON body of every failed request.
type HTTPError struct {
	Error string `json:"error"`
}

// Server is the echo application serving the research API.
type Server struct {
	e         *echo.Echo
	svc       Service
	heartbeat time.Duration
	logger    *log.Logger
}

// New builds the router. Service and Secret are required.
func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("server: service is required")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("server: jwt secret is required")
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{e: echo.New(), svc: opts.Service, heartbeat: opts.Heartbeat, logger: opts.Logger}
	e := s.e
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     opts.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
		AllowCredentials: true,
	}))

	health := opts.Health
	e.GET("/healthz", func(c echo.Context) error {
		if health != nil {
			if err := health(c.Request().Context()); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
			}
		}
		return c.String(http.StatusOK, "ok")
	})
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	api := e.Group("/api", runtime.EchoAuthMiddleware(opts.Secret))
	api.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"user_id": userID(c)})
	})
	s.registerQueries(api.Group("/queries"))
	s.registerDrafts(api.Group("/drafts"))
	return s, nil
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo { return s.e }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// handleError logs every failed request and writes {"error": msg}.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, HTTPError{Error: msg})
}

func userID(c echo.Context) string {
	id, _ := c.Get("user_id").(string)
	return id
}
