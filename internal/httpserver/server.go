package httpserver

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/netutil"

	"lanmedia/internal/config"
	"lanmedia/internal/fsutil"
	"lanmedia/internal/logbuf"
	"lanmedia/internal/logger"
	"lanmedia/internal/media"
	"lanmedia/internal/netinfo"
	"lanmedia/internal/staging"
	"lanmedia/internal/upload"
)

type Options struct {
	Config config.Config

	// Log receives server events. Defaults to a discarding logger.
	Log *logger.Logger

	// Logs backs /api/logs and /api/logs/stream. It should be the buffer Log
	// writes into.
	Logs *logbuf.Buffer
}

type Server struct {
	cfg     config.Config
	log     *logger.Logger
	logs    *logbuf.Buffer
	lib     *media.Library
	accept  *upload.Acceptor
	uploads *upload.Manager
	stream  *logbuf.Streamer

	webFS fs.FS
}

//go:embed web/index.html
var embeddedWeb embed.FS

func New(opts Options) (*Server, error) {
	cfg := opts.Config
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	logs := opts.Logs
	if logs == nil {
		logs = logbuf.New(cfg.Logging.BufferSize)
	}

	reg, err := media.NewRegistry(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("media root: %w", err)
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	store, err := staging.New(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	acc := upload.NewAcceptor(store, cfg.Server.MaxUploadBytes, log)
	up, err := upload.NewManager(acc, cfg.Server.UploadSessionTTL)
	if err != nil {
		return nil, err
	}
	sub, err := fs.Sub(embeddedWeb, "web")
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		log:     log,
		logs:    logs,
		lib:     media.New(reg, cfg.StateDir, log),
		accept:  acc,
		uploads: up,
		webFS:   sub,
	}
	s.stream = logbuf.NewStreamer(logs, s.checkOrigin)
	return s, nil
}

// Root is the canonical directory being served.
func (s *Server) Root() (string, error) {
	return s.lib.Root()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		b, err := fs.ReadFile(s.webFS, "index.html")
		if err != nil {
			writeError(w, errors.New("missing ui"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	mux.HandleFunc("GET /api/files", s.handleList)
	mux.HandleFunc("GET /media/{name...}", s.handleMedia)
	mux.HandleFunc("GET /api/thumb", s.handleThumb)

	mux.HandleFunc("POST /api/upload", s.handleMultipartUpload)
	mux.HandleFunc("POST /api/uploads", s.handleUploadCreate)
	mux.HandleFunc("GET /api/uploads/{id}", s.handleUploadStatus)
	mux.HandleFunc("PATCH /api/uploads/{id}", s.handleUploadPatch)
	mux.HandleFunc("POST /api/uploads/{id}/finish", s.handleUploadFinish)

	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.Handle("GET /api/logs/stream", s.stream)
	mux.HandleFunc("GET /api/connect", s.handleConnect)

	return s.withHeaders(mux)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if n := s.cfg.Server.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}
	hs.RegisterOnShutdown(s.stream.Close)

	errc := make(chan error, 1)
	go func() { errc <- hs.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down (timeout %s)", s.cfg.Server.ShutdownTimeout)
	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		_ = hs.Close()
		<-errc
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errc
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.lib.List(q.Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	if q.Get("verbose") == "1" {
		writeJSON(w, items)
		return
	}
	writeJSON(w, media.Names(items))
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	m, err := s.lib.Open(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer m.Close()

	// Uploaded HTML or SVG must not run script with the dashboard's origin.
	w.Header().Set("Content-Security-Policy", "sandbox")
	w.Header().Set("Content-Type", m.ContentType)
	if r.URL.Query().Get("dl") == "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", m.Name))
	}
	http.ServeContent(w, r, m.Name, m.ModTime, m.File)
}

func (s *Server) handleMultipartUpload(w http.ResponseWriter, r *http.Request) {
	if max := s.cfg.Server.MaxUploadBytes; max > 0 {
		// room for the multipart envelope around the file part
		r.Body = http.MaxBytesReader(w, r.Body, max+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, fmt.Errorf("upload: %w", fsutil.ErrTooLarge))
			return
		}
		writeError(w, fmt.Errorf("bad multipart: %w", fsutil.ErrInvalidInput))
		return
	}
	defer r.MultipartForm.RemoveAll()

	fh := firstFile(r.MultipartForm)
	if fh == nil {
		writeError(w, fmt.Errorf("missing file: %w", fsutil.ErrInvalidInput))
		return
	}
	src, err := fh.Open()
	if err != nil {
		writeError(w, fmt.Errorf("open upload: %v: %w", err, fsutil.ErrRead))
		return
	}
	defer src.Close()

	root, err := s.lib.Root()
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.accept.Accept(r.Context(), root, fh.Filename, src)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"success":  true,
		"filename": entry.Name,
		"size":     entry.Size,
		"checksum": entry.Checksum,
	})
}

func firstFile(mf *multipart.Form) *multipart.FileHeader {
	if mf == nil || len(mf.File) == 0 {
		return nil
	}
	// Prefer key "file" if present.
	if v := mf.File["file"]; len(v) > 0 {
		return v[0]
	}
	// Else first key lexicographically for stable behavior.
	keys := make([]string, 0, len(mf.File))
	for k := range mf.File {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := mf.File[k]; len(v) > 0 {
			return v[0]
		}
	}
	return nil
}

func (s *Server) handleUploadCreate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	total := int64(-1)
	if v := q.Get("size"); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("invalid size %q: %w", v, fsutil.ErrInvalidInput))
			return
		}
		total = n
	}
	sess, err := s.uploads.Create(q.Get("name"), total)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Debug("upload session %s opened for %s", sess.ID, sess.Name)
	writeJSONStatus(w, http.StatusCreated, sessionJSON(sess))
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.uploads.Get(r.PathValue("id"))
	if !ok {
		writeError(w, fmt.Errorf("upload session: %w", fsutil.ErrNotFound))
		return
	}
	writeJSON(w, sessionJSON(sess))
}

func (s *Server) handleUploadPatch(w http.ResponseWriter, r *http.Request) {
	sess, err := s.uploads.Patch(r.Context(), r.PathValue("id"), r.Header.Get("Content-Range"), r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sessionJSON(sess))
}

func (s *Server) handleUploadFinish(w http.ResponseWriter, r *http.Request) {
	root, err := s.lib.Root()
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.uploads.Finish(r.Context(), root, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"success":  true,
		"filename": entry.Name,
		"size":     entry.Size,
		"checksum": entry.Checksum,
	})
}

func sessionJSON(sess *upload.Session) map[string]any {
	return map[string]any{"id": sess.ID, "name": sess.Name, "offset": sess.Offset, "size": sess.Size}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logs.Lines())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	addrs, err := netinfo.LANAddrs()
	if err != nil {
		s.log.Warn("connect: %v", err)
	}
	urls, err := netinfo.URLs(s.cfg.Addr, addrs)
	if err != nil {
		writeError(w, err)
		return
	}
	qr, err := netinfo.QRDataURL(urls[0], 256)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"urls": urls, "qr": qr})
}

func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if !s.cfg.Thumbnails.Enabled || !media.IsImage(name) {
		writeError(w, fmt.Errorf("thumbnail: %w", fsutil.ErrNotFound))
		return
	}
	m, err := s.lib.Open(name)
	if err != nil {
		writeError(w, err)
		return
	}
	defer m.Close()

	b, err := s.thumbnail(name, m)
	if err != nil {
		s.log.Info("thumbnail %s: %v", m.Name, err)
		writeError(w, fmt.Errorf("thumbnail: %w", fsutil.ErrNotFound))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(b)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowedOrigin(origin) != ""
}

// modTimeKey keeps cached thumbnails tied to the file version they were made
// from.
func modTimeKey(t time.Time, size int64) string {
	return strconv.FormatInt(t.Unix(), 10) + "-" + strconv.FormatInt(size, 10)
}
