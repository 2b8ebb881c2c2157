// Package httpapi exposes the dispatcher over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/LotuxPunk/Hermes"
)

// maxBodyBytes bounds request bodies. A batch of a few hundred mails with
// attributes fits comfortably.
const maxBodyBytes = 4 << 20

// Dispatcher is the part of *hermes.Dispatcher the API serves.
type Dispatcher interface {
	SendMail(ctx context.Context, input *hermes.MailInput) (hermes.SendOperationResult, error)
	SendMails(ctx context.Context, inputs []hermes.MailInput) (hermes.SendOperationResult, error)
	SendContactForm(ctx context.Context, form *hermes.ContactForm) (hermes.SendOperationResult, error)
	GetChallenge(ctx context.Context, configID string) (hermes.Challenge, error)
	QueueStats() hermes.QueueStats
}

// Config holds HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP front of the dispatcher.
type Server struct {
	router     chi.Router
	config     Config
	dispatcher Dispatcher
	logger     zerolog.Logger
	httpServer *http.Server
	startTime  time.Time
}

// New creates a server. Call Start to listen.
func New(cfg Config, dispatcher Dispatcher, logger zerolog.Logger) *Server {
	s := &Server{
		config:     cfg,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "httpapi").Logger(),
		startTime:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/mail", func(r chi.Router) {
			r.Post("/", s.handleSendMail)
			r.Post("/batch", s.handleSendMails)
			r.Post("/contact", s.handleSendContactForm)
		})
		r.Get("/challenge", s.handleGetChallenge)
		r.Get("/queue/stats", s.handleQueueStats)
	})

	s.router = r
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// Start listens until ctx is done or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info().Str("addr", s.config.Addr).Msg("starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Stop stops accepting requests and waits for in-flight ones until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}
