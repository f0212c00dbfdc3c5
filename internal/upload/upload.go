package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lanmedia/internal/fsutil"
	"lanmedia/internal/media"
)

// A minimal resumable upload protocol:
// - POST   /api/uploads?name=<file>&size=<n>  => {id, offset}
// - PATCH  /api/uploads/<id> (Content-Range: bytes <start>-<end>/<total>) body=chunk
// - POST   /api/uploads/<id>/finish           => commit into the root as <file>
//
// State is stored on disk next to the staging files as <id>.{part,json}, so
// sessions survive a restart.

type Manager struct {
	accept   *Acceptor
	dir      string
	ttl      time.Duration
	mu       sync.Mutex
	sessions map[string]*Session
}

type Session struct {
	ID      string `json:"id"`
	Name    string `json:"name"`   // sanitized
	Size    int64  `json:"size"`   // total if known, else -1
	Offset  int64  `json:"offset"` // written bytes
	Created int64  `json:"created"`

	busy bool
}

// NewManager keeps session state in the acceptor's staging directory and
// reloads any sessions left there. Sessions created more than ttl ago are
// deleted instead, with their part files; ttl <= 0 keeps every session.
func NewManager(a *Acceptor, ttl time.Duration) (*Manager, error) {
	m := &Manager{
		accept:   a,
		dir:      a.stage.Dir(),
		ttl:      ttl,
		sessions: map[string]*Session{},
	}
	if err := m.loadExisting(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadExisting() error {
	ents, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var s Session
		if json.Unmarshal(b, &s) != nil {
			continue
		}
		if s.ID == "" || s.Name == "" || s.ID+".json" != e.Name() {
			continue
		}
		if m.expired(&s, now) {
			_ = os.Remove(m.partPath(s.ID))
			_ = os.Remove(filepath.Join(m.dir, e.Name()))
			m.accept.log.Info("dropped expired upload session %s for %s", s.ID, s.Name)
			continue
		}
		cp := s
		m.sessions[s.ID] = &cp
	}
	return nil
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(time.Unix(s.Created, 0)) > m.ttl
}

// Create opens a session for name. total is the full size if known, else -1.
func (m *Manager) Create(name string, total int64) (*Session, error) {
	clean, err := fsutil.SanitizeFilename(name)
	if err != nil {
		return nil, err
	}
	if max := m.accept.maxBytes; max > 0 && total > max {
		return nil, fmt.Errorf("upload %q: %w", clean, fsutil.ErrTooLarge)
	}
	s := &Session{
		ID:      uuid.NewString(),
		Name:    clean,
		Size:    total,
		Created: time.Now().Unix(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	if err := m.save(s); err != nil {
		return nil, fmt.Errorf("upload %q: %v: %w", clean, err, fsutil.ErrWrite)
	}
	cp := *s
	return &cp, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// acquire marks a session busy so two requests cannot write the same part
// file at once.
func (m *Manager) acquire(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("upload session %s: %w", id, fsutil.ErrNotFound)
	}
	if s.busy {
		return nil, fmt.Errorf("upload session %s busy: %w", id, fsutil.ErrInvalidInput)
	}
	s.busy = true
	return s, nil
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	s.busy = false
	m.mu.Unlock()
}

// Patch appends one chunk described by contentRange to the session.
func (m *Manager) Patch(ctx context.Context, id, contentRange string, body io.Reader) (*Session, error) {
	s, err := m.acquire(id)
	if err != nil {
		return nil, err
	}
	defer m.release(s)

	start, end, total, err := parseContentRange(contentRange)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, fsutil.ErrInvalidInput)
	}
	if start != s.Offset {
		return nil, fmt.Errorf("offset mismatch: have %d want %d: %w", s.Offset, start, fsutil.ErrInvalidInput)
	}
	size := s.Size
	if size < 0 && total >= 0 {
		size = total
	}
	if size >= 0 && total >= 0 && size != total {
		return nil, fmt.Errorf("size mismatch: have %d want %d: %w", size, total, fsutil.ErrInvalidInput)
	}
	if max := m.accept.maxBytes; max > 0 && end+1 > max {
		return nil, fmt.Errorf("upload %q: %w", s.Name, fsutil.ErrTooLarge)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	wrote, err := m.writeChunk(id, start, end-start+1, body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	s.Size = size
	s.Offset += wrote
	m.mu.Unlock()
	if err := m.save(s); err != nil {
		return nil, fmt.Errorf("%v: %w", err, fsutil.ErrWrite)
	}
	cp := *s
	return &cp, nil
}

// writeChunk writes exactly n bytes of body at start in the session's part
// file. On failure the part file is cut back to start, so a retried chunk
// never leaves stale bytes after the acknowledged offset.
func (m *Manager) writeChunk(id string, start, n int64, body io.Reader) (int64, error) {
	f, err := os.OpenFile(m.partPath(id), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%v: %w", err, fsutil.ErrWrite)
	}
	defer f.Close()

	fail := func(err error) (int64, error) {
		_ = f.Truncate(start)
		return 0, err
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return fail(fmt.Errorf("%v: %w", err, fsutil.ErrWrite))
	}
	wrote, err := io.CopyN(f, body, n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fail(fmt.Errorf("short body: %d != %d: %w", wrote, n, fsutil.ErrInvalidInput))
		}
		return fail(fmt.Errorf("%v: %w", err, fsutil.ErrWrite))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("%v: %w", err, fsutil.ErrWrite))
	}
	return wrote, nil
}

func (m *Manager) partPath(id string) string {
	return filepath.Join(m.dir, id+".part")
}

// Finish commits a complete session into root through the same sanitize,
// confine and rename path as a one-shot upload.
func (m *Manager) Finish(ctx context.Context, root, id string) (media.FileEntry, error) {
	s, err := m.acquire(id)
	if err != nil {
		return media.FileEntry{}, err
	}
	defer m.release(s)

	if s.Size >= 0 && s.Offset != s.Size {
		return media.FileEntry{}, fmt.Errorf("upload incomplete: offset=%d size=%d: %w", s.Offset, s.Size, fsutil.ErrInvalidInput)
	}

	// Only acknowledged bytes are committed. This also creates the part file
	// for a zero-length upload that never saw a PATCH.
	partPath := m.partPath(id)
	if err := truncateTo(partPath, s.Offset); err != nil {
		return media.FileEntry{}, fmt.Errorf("%v: %w", err, fsutil.ErrWrite)
	}

	clean, dst, err := m.accept.destination(root, s.Name)
	if err != nil {
		return media.FileEntry{}, err
	}
	st, err := m.accept.stage.Seal(ctx, partPath)
	if err != nil {
		return media.FileEntry{}, fmt.Errorf("%v: %w", err, fsutil.ErrWrite)
	}
	if s.Size >= 0 && st.Size != s.Size {
		return media.FileEntry{}, fmt.Errorf("size mismatch: file=%d expected=%d: %w", st.Size, s.Size, fsutil.ErrInvalidInput)
	}
	entry, err := m.accept.commit(st, clean, dst)
	if err != nil {
		return media.FileEntry{}, err
	}

	_ = os.Remove(filepath.Join(m.dir, id+".json"))
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return entry, nil
}

func truncateTo(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (m *Manager) save(s *Session) error {
	m.mu.Lock()
	b, _ := json.MarshalIndent(s, "", "  ")
	m.mu.Unlock()
	tmp := filepath.Join(m.dir, s.ID+".json.tmp")
	final := filepath.Join(m.dir, s.ID+".json")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func parseContentRange(v string) (start, end, total int64, err error) {
	// "bytes <start>-<end>/<total>" where total may be "*"
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, 0, 0, errors.New("missing Content-Range (expected: bytes start-end/total)")
	}
	v = strings.TrimPrefix(v, "bytes ")
	parts := strings.SplitN(v, "/", 2)
	if len(parts) != 2 {
		return 0, 0, 0, errors.New("invalid Content-Range")
	}
	rng := parts[0]
	tot := parts[1]
	se := strings.SplitN(rng, "-", 2)
	if len(se) != 2 {
		return 0, 0, 0, errors.New("invalid Content-Range range")
	}
	start, err = strconv.ParseInt(se[0], 10, 64)
	if err != nil || start < 0 {
		return 0, 0, 0, errors.New("invalid Content-Range start")
	}
	end, err = strconv.ParseInt(se[1], 10, 64)
	if err != nil || end < start {
		return 0, 0, 0, errors.New("invalid Content-Range end")
	}
	if tot == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(tot, 10, 64)
		if err != nil || total <= 0 || end >= total {
			return 0, 0, 0, errors.New("invalid Content-Range total")
		}
	}
	return start, end, total, nil
}
