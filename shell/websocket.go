package shell

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ---------------------------------------------------------------------------
// WebSocket transport
// ---------------------------------------------------------------------------
//
// The WebSocket endpoint carries the same line shell over text messages:
// one message in is one evaluated line, console output streams back as
// text messages.

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The shell has its own session model; origin policy is the host's
	// reverse proxy's problem.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ListenWebSocket serves the shell at /shell on addr.
func (s *Server) ListenWebSocket(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/shell", s.handleWebSocket)

	srv := &http.Server{Addr: addr, Handler: mux}
	s.mu.Lock()
	s.httpServers = append(s.httpServers, srv)
	s.mu.Unlock()
	s.loop.Hold()
	log.Infof("websocket shell listening on %s", addr)
	go func() {
		defer s.loop.Release()
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("websocket shell: %s", err)
		}
	}()
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade: %s", err)
		return
	}
	defer conn.Close()

	ws := &wsWriter{conn: conn}
	sess, err := s.openSession(ws)
	if err != nil {
		log.Errorf("session setup failed: %s", err)
		return
	}
	defer sess.Close()
	log.Infof("session %s connected via websocket from %s", sess.ID, conn.RemoteAddr())

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.TextMessage || len(data) == 0 {
			continue
		}
		sess.Eval(string(data))
	}
	log.Infof("session %s disconnected", sess.ID)
}

// wsWriter adapts a websocket connection to the session's output writer.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
