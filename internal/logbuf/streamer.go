package logbuf

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Streamer serves a Buffer over websocket: a new client first receives the
// retained history in chronological order, then every new entry as it is
// appended. Each message is one JSON-encoded Entry.
type Streamer struct {
	buf      *Buffer
	upgrader websocket.Upgrader

	quit     chan struct{}
	quitOnce sync.Once
}

// NewStreamer returns a Streamer for buf. checkOrigin may be nil to accept any
// origin, matching the server's CORS policy on a trusted LAN.
func NewStreamer(buf *Buffer, checkOrigin func(r *http.Request) bool) *Streamer {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Streamer{
		buf: buf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		quit: make(chan struct{}),
	}
}

// Close tells every connected client the server is going away. Hijacked
// connections are not tracked by http.Server.Shutdown, so the server calls
// this from RegisterOnShutdown.
func (s *Streamer) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		return
	}
	defer conn.Close()

	history, entries, cancel := s.buf.Subscribe()
	defer cancel()

	// Reader: handles pongs and notices the client going away.
	done := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, e := range history {
		if err := s.send(conn, e); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"),
					time.Now().Add(writeWait))
				return
			}
			if err := s.send(conn, e); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Streamer) send(conn *websocket.Conn, e Entry) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}
