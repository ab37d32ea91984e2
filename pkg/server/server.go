// Package server exposes chat sessions to the page widget over HTTP. Session output is
// streamed as Server-Sent Events.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/fractionalquest/copilot/pkg/catalog"
	"github.com/fractionalquest/copilot/pkg/dispatch"
	"github.com/fractionalquest/copilot/pkg/hitl"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/usecase/chat"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"
)

var ErrRateLimited = goerr.New("too many messages")

// PageSource resolves the page a widget is mounted on
type PageSource interface {
	Page(slug string) (*model.Page, error)
}

// Server is the HTTP front of the session manager
type Server struct {
	app     *fiber.App
	manager *chat.Manager
	pages   PageSource

	messageRate  rate.Limit
	messageBurst int
	keepAlive    time.Duration
	limiters     sync.Map // model.SessionID -> *rate.Limiter
}

// Option configures a Server
type Option func(*Server)

// WithMessageRate limits how fast one session may post messages
func WithMessageRate(every time.Duration, burst int) Option {
	return func(s *Server) {
		if every > 0 {
			s.messageRate = rate.Every(every)
		}
		if burst > 0 {
			s.messageBurst = burst
		}
	}
}

// WithKeepAlive sets the interval of SSE comment frames
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// New builds the fiber app and registers the routes
func New(manager *chat.Manager, pages PageSource, opts ...Option) *Server {
	s := &Server{
		manager:      manager,
		pages:        pages,
		messageRate:  rate.Every(time.Second),
		messageBurst: 3,
		keepAlive:    15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "copilot",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.routes()
	return s
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called
func (s *Server) Listen(addr string) error {
	if err := s.app.Listen(addr); err != nil {
		return goerr.Wrap(err, "failed to serve", goerr.V("addr", addr))
	}
	return nil
}

// Shutdown stops accepting requests and unmounts every session
func (s *Server) Shutdown(ctx context.Context) error {
	s.manager.Shutdown(ctx)
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return goerr.Wrap(err, "failed to shutdown http server")
	}
	return nil
}

func (s *Server) routes() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e any) {
			logging.From(c.UserContext()).Error("handler panicked", "panic", e, "path", c.Path())
		},
	}))
	s.app.Use(requestLogger)

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.app.Post("/api/sessions", s.createSession)

	api := s.app.Group("/api/sessions")
	api.Delete("/:id", s.deleteSession)
	api.Get("/:id/events", s.events)
	api.Post("/:id/messages", s.postMessage)
	api.Get("/:id/state", s.getState)
	api.Patch("/:id/state", s.patchState)
	api.Get("/:id/graph", s.getGraph)
	api.Get("/:id/tool-calls", s.listToolCalls)
	api.Get("/:id/tool-calls/:call_id", s.renderToolCall)
	api.Post("/:id/tool-calls/:call_id/retry", s.retryToolCall)
	api.Post("/:id/invocations", s.invoke)
	api.Post("/:id/confirmations/:call_id", s.confirm)
}

func requestLogger(c *fiber.Ctx) error {
	ctx := logging.WithAttrs(c.UserContext(), "method", c.Method(), "path", c.Path())
	c.SetUserContext(ctx)

	start := time.Now()
	err := c.Next()
	logging.From(ctx).Debug("request handled",
		"status", c.Response().StatusCode(), "duration", time.Since(start), "error", err)
	return err
}

// errorHandler maps domain errors to status codes with a JSON body
func errorHandler(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		logging.From(c.UserContext()).Error("request failed", "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func statusOf(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, chat.ErrSessionClosed),
		errors.Is(err, catalog.ErrPageNotFound),
		errors.Is(err, dispatch.ErrToolCallNotFound),
		errors.Is(err, hitl.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrBusy),
		errors.Is(err, chat.ErrNotRetryable),
		errors.Is(err, hitl.ErrAlreadyResolved),
		errors.Is(err, hitl.ErrNotAwaiting):
		return http.StatusConflict
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, hitl.ErrInvalidArguments),
		errors.Is(err, model.ErrUnknownTool),
		errors.Is(err, model.ErrInvalidToolArgs):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(err error) error {
	return fiber.NewError(http.StatusBadRequest, "invalid request body: "+err.Error())
}

func (s *Server) session(c *fiber.Ctx) (*chat.Session, error) {
	return s.manager.Get(model.SessionID(c.Params("id")))
}

func (s *Server) limiter(id model.SessionID) *rate.Limiter {
	if l, ok := s.limiters.Load(id); ok {
		return l.(*rate.Limiter)
	}
	l, _ := s.limiters.LoadOrStore(id, rate.NewLimiter(s.messageRate, s.messageBurst))
	return l.(*rate.Limiter)
}
