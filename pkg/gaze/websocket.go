package gaze

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketPath is where trackers connect.
const WebSocketPath = "/gaze"

// WebSocketSource accepts tracker connections and reads one sample per
// text message. Any number of trackers may be connected at once.
type WebSocketSource struct {
	Addr   string
	Logger logrus.FieldLogger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

var _ Source = (*WebSocketSource)(nil)

func NewWebSocketSource(addr string) *WebSocketSource {
	return &WebSocketSource{
		Addr:   addr,
		Logger: logrus.WithField("component", "gaze.websocket"),
		upgrader: websocket.Upgrader{
			// Trackers may connect from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*websocket.Conn),
	}
}

// Handler returns the HTTP handler feeding out.
func (s *WebSocketSource) Handler(out chan Sample) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.Logger.WithError(err).Warn("websocket upgrade failed")
			return
		}
		s.serve(conn, out)
	})
	return mux
}

// Run listens on Addr until ctx is done.
func (s *WebSocketSource) Run(ctx context.Context, out chan Sample) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(out),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.Logger.WithField("addr", s.Addr).Info("listening for gaze trackers")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	// Shutdown does not touch hijacked connections.
	s.closeAll()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *WebSocketSource) serve(conn *websocket.Conn, out chan Sample) {
	id := uuid.New().String()
	log := s.Logger.WithFields(logrus.Fields{"client": id, "remote": conn.RemoteAddr().String()})

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
		_ = conn.Close()
		log.Info("tracker disconnected")
	}()

	log.Info("tracker connected")
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Debug("read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		sample, err := ParseSample(msg)
		if err != nil {
			log.WithError(err).Debug("ignoring message")
			continue
		}
		if Offer(out, sample) {
			log.Debug("consumer behind, dropped stale sample")
		}
	}
}

// Clients returns the number of connected trackers.
func (s *WebSocketSource) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *WebSocketSource) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}
