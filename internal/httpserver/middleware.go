package httpserver

import (
	"bufio"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// withHeaders adds hardening headers, CORS, a request ID and an access log
// line to every response.
func (s *Server) withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h := w.Header()

		// Basic hardening / UX.
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")
		if strings.HasPrefix(r.URL.Path, "/media/") || r.URL.Path == "/api/thumb" {
			h.Set("Cache-Control", "private, max-age=60")
		} else {
			h.Set("Cache-Control", "no-store")
		}

		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		h.Set(requestIDHeader, id)

		if s.cors(w, r) {
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status == http.StatusForbidden {
			s.log.Warn("[%s] %s %s from %s -> %d", id, r.Method, r.URL.RequestURI(), r.RemoteAddr, rec.status)
			return
		}
		s.log.Debug("[%s] %s %s from %s -> %d (%d bytes, %s)",
			id, r.Method, r.URL.RequestURI(), r.RemoteAddr, rec.status, rec.bytes, time.Since(start).Round(time.Millisecond))
	})
}

// cors sets the CORS response headers and answers preflight requests. It
// reports whether the request has been fully handled.
func (s *Server) cors(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	allow := s.allowedOrigin(origin)
	if allow == "" {
		return false
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allow)
	if allow != "*" {
		h.Add("Vary", "Origin")
	}
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges, "+requestIDHeader)

	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PATCH, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Range, Range, "+requestIDHeader)
		h.Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// allowedOrigin returns the value for Access-Control-Allow-Origin, or "" if
// origin is not allowed.
func (s *Server) allowedOrigin(origin string) string {
	allowed := s.cfg.CORS.AllowedOrigins
	if slices.Contains(allowed, "*") {
		return "*"
	}
	if slices.Contains(allowed, origin) {
		return origin
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade reach the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
