// Package server exposes the engine to the editor webview over HTTP and
// websocket: engine events stream out, user actions come back in.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chatpanel-ai/chatpanel/internal/app"
	"github.com/chatpanel-ai/chatpanel/internal/config"
	"github.com/chatpanel-ai/chatpanel/internal/event"
	"github.com/chatpanel-ai/chatpanel/internal/logging"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

// Server hosts the websocket bridge.
type Server struct {
	app  *app.App
	cfg  config.ServerConfig
	log  zerolog.Logger
	http *http.Server

	upgrader websocket.Upgrader
}

// New creates a server for the given engine.
func New(a *app.App, cfg config.ServerConfig) *Server {
	s := &Server{
		app: a,
		cfg: cfg,
		log: logging.For("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/timeline", s.handleTimeline)
	r.Get("/conversations", s.handleConversations)
	r.Get("/ws", s.handleWS)
	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) > 0 {
		return s.cfg.AllowedOrigins
	}
	return []string{"vscode-webview://*", "http://localhost:*"}
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{Addr: addr, Handler: s.Routes()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.log.Info().Str("addr", addr).Msg("listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTimeline(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Timeline())
}

func (s *Server) handleConversations(w http.ResponseWriter, _ *http.Request) {
	metas, err := s.app.Conversations.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

// handleWS upgrades the connection and bridges engine events to the client
// and client actions back to the engine.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	writeCh := make(chan event.Event, 128)
	unsubscribe := s.app.Bus.SubscribeAll(func(ev event.Event) {
		select {
		case writeCh <- ev:
		default:
			// Slow client; drop rather than block the engine.
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			var cmd types.OutboundCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if err := s.app.Action(ctx, cmd); err != nil {
				s.log.Warn().Err(err).Str("type", string(cmd.Type)).Msg("action failed")
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-writeCh:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
