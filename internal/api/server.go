package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gistchat/gistchat/internal/client"
	"github.com/gistchat/gistchat/internal/config"
	"github.com/gistchat/gistchat/internal/types"
)

// Server is the local widget gateway: it serves the browser widget a
// WebSocket event feed plus a couple of read-only REST endpoints, all on
// localhost. Everything chat-related behind it goes through the
// synchronizer; the gateway holds no chat state of its own.
type Server struct {
	log     zerolog.Logger
	cfg     *config.Config
	session *client.Session
	srv     *http.Server

	mu    sync.RWMutex
	chat  *client.Synchronizer
	conns map[*conn]struct{}
}

func NewServer(cfg *config.Config, session *client.Session, mux *http.ServeMux, logger zerolog.Logger) *Server {
	s := &Server{
		log:     logger,
		cfg:     cfg,
		session: session,
		conns:   make(map[*conn]struct{}),
	}

	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /api/rooms", s.getRooms)
	mux.HandleFunc("GET /api/session", s.getSession)

	var h http.Handler = handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)
	h = handlers.CombinedLoggingHandler(logger.With().Str("component", "http").Logger(), h)

	s.srv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.recoverHandler(h),
	}
	return s
}

// Attach hands the gateway its synchronizer. Wiring is two-phase because
// the synchronizer's callbacks broadcast through the gateway.
func (s *Server) Attach(sy *client.Synchronizer) {
	s.mu.Lock()
	s.chat = sy
	s.mu.Unlock()
}

func (s *Server) synchronizer() *client.Synchronizer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chat
}

// Callbacks returns the synchronizer callback set that fans events out to
// every connected widget.
func (s *Server) Callbacks() client.Callbacks {
	return client.Callbacks{
		OnRoomsUpdated: func(rooms map[string]types.Room) {
			s.broadcast(&ServerFrame{
				BaseFrame: BaseFrame{Timestamp: frameNow()},
				Rooms:     roomInfos(rooms, s.cfg.RoomTTL),
			})
		},
		OnMessage: func(msg types.Message, own bool) {
			s.broadcast(&ServerFrame{
				BaseFrame: BaseFrame{Timestamp: frameNow()},
				Message: &MessageEvent{
					Room:      msg.Room,
					Username:  msg.Username,
					Text:      msg.Text,
					Timestamp: msg.Timestamp,
					Own:       own,
				},
			})
		},
		OnSystemEvent: func(text string) {
			s.broadcast(&ServerFrame{
				BaseFrame: BaseFrame{Timestamp: frameNow()},
				System:    &SystemEvent{Text: text},
			})
		},
	}
}

func (s *Server) broadcast(frame *ServerFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.conns {
		c.queue(frame)
	}
}

func (s *Server) register(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregister(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return slices.Contains(s.cfg.AllowedOrigins, origin)
		},
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newConn(ws, s, s.log.With().Str("remote", r.RemoteAddr).Logger())
	s.register(c)

	go c.writePump()
	go c.readPump()

	// Seed the new widget with the current room list.
	if chat := s.synchronizer(); chat != nil {
		c.queue(&ServerFrame{
			BaseFrame: BaseFrame{Timestamp: frameNow()},
			Rooms:     roomInfos(chat.Rooms(), s.cfg.RoomTTL),
		})
	}
}

func (s *Server) getRooms(w http.ResponseWriter, r *http.Request) {
	chat := s.synchronizer()
	if chat == nil {
		s.writeJson(w, http.StatusServiceUnavailable, map[string]string{"error": "not ready"})
		return
	}
	s.writeJson(w, http.StatusOK, roomInfos(chat.Rooms(), s.cfg.RoomTTL))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	current := ""
	if chat := s.synchronizer(); chat != nil {
		current = chat.CurrentRoom()
	}

	remotes := make([]string, 0, len(s.session.Remotes))
	for _, remote := range s.session.AvailableRemotes() {
		remotes = append(remotes, remote.Name())
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"client_id": s.session.ID,
		"username":  s.session.Username(),
		"room":      current,
		"remotes":   remotes,
	})
}

func (s *Server) writeJson(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) recoverHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error().Interface("panic", err).Msg("handler panicked")
				w.Header().Set("Connection", "close")
				s.writeJson(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting widget gateway")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down widget gateway")

	s.mu.Lock()
	for c := range s.conns {
		c.ws.Close()
	}
	s.mu.Unlock()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}
