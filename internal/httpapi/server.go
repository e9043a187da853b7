// Package httpapi implements the REST + Server-Sent-Events surface of
// spec.md §6: a thin chi router translating HTTP verbs into the same
// typed Commands the MQTT and KNX adapters produce, and fanning
// StatusEvents out to subscribed clients over `GET /events`. Grounded on
// ManuGH-xg2g's chi.Router + middleware-stack server shape (auth
// middleware, httprate rate limiting), generalized from xg2g's media
// endpoints to SnapDog's zone/client/health surface.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/bus"
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/config"
	"github.com/snapdog/snapdog/internal/health"
	"github.com/snapdog/snapdog/internal/zone"
)

// ClientLister is satisfied by *snapcast.ClientController; kept as a
// narrow local interface so this package never imports internal/snapcast
// directly, matching the rest of the tree's port-style wiring.
type ClientLister interface {
	All() []zone.ClientState
}

// Server wires the dispatcher, client listing, and health registry to an
// HTTP surface. Its SSE hub, returned by Adapter, satisfies bus.Adapter;
// subscribing that hub to the dispatcher is all callers need to do to get
// SSE push working.
type Server struct {
	cfg     config.APIConfig
	disp    *bus.Dispatcher
	clients ClientLister
	health  *health.Registry
	log     zerolog.Logger
	hub     *sseHub

	httpSrv *http.Server
}

// New builds a Server. disp is used both to dispatch inbound commands and
// to read zone snapshots for GET /zones; clients serves GET /clients.
func New(cfg config.APIConfig, disp *bus.Dispatcher, clients ClientLister, reg *health.Registry, log zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		disp:    disp,
		clients: clients,
		health:  reg,
		log:     log.With().Str("component", "httpapi").Logger(),
		hub:     newSSEHub(),
	}
}

// Adapter returns the bus.Adapter the dispatcher should subscribe so
// StatusEvents reach SSE clients.
func (s *Server) Adapter() bus.Adapter { return s.hub }

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.log))
	r.Use(rateLimit(600))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Group(func(r chi.Router) {
		r.Use(s.apiKeyAuth)

		r.Get("/events", s.handleEvents)

		r.Get("/zones", s.handleListZones)
		r.Get("/zones/{zoneIndex}", s.handleGetZone)
		r.Post("/zones/{zoneIndex}/play", s.handleZoneTransport(command.CmdPlay))
		r.Post("/zones/{zoneIndex}/pause", s.handleZoneTransport(command.CmdPause))
		r.Post("/zones/{zoneIndex}/stop", s.handleZoneTransport(command.CmdStop))
		r.Post("/zones/{zoneIndex}/next", s.handleZoneTransport(command.CmdNext))
		r.Post("/zones/{zoneIndex}/previous", s.handleZoneTransport(command.CmdPrev))
		r.Put("/zones/{zoneIndex}/volume", s.handleZoneVolume)
		r.Put("/zones/{zoneIndex}/mute", s.handleZoneMute)
		r.Put("/zones/{zoneIndex}/seek", s.handleZoneSeek)

		r.Get("/clients", s.handleListClients)
		r.Put("/clients/{mac}/volume", s.handleClientVolume)
		r.Put("/clients/{mac}/mute", s.handleClientMute)
		r.Put("/clients/{mac}/zone", s.handleClientZone)
	})

	return r
}

// Run starts the HTTP server on cfg.Port and blocks until ctx is
// cancelled, at which point it shuts down gracefully within 5s.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              addrFor(s.cfg.Port),
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpSrv.Addr).Msg("http api listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func addrFor(port int) string {
	if port <= 0 {
		port = 5000
	}
	return ":" + strconv.Itoa(port)
}

func loggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
