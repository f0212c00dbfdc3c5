// Package media implements read access to the media root: the root registry,
// the flat directory lister and the confined file accessor.
package media

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"lanmedia/internal/fsutil"
)

// Logger receives human-readable event lines. *logger.Logger satisfies it.
type Logger interface {
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// FileEntry describes one regular file in the root.
type FileEntry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Mtime    int64  `json:"mtime"`
	Mime     string `json:"mime,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// Media is an open, confined file. The caller must Close it.
type Media struct {
	File        *os.File
	Name        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

func (m *Media) Close() error {
	return m.File.Close()
}

// Library binds the registry to the read operations and reports every
// outcome to the log. The state directory, if it lives under the root, is
// never listed or served.
type Library struct {
	reg    *Registry
	hidden string
	log    Logger
}

// New returns a Library over reg. stateDir may be "" or outside the root.
func New(reg *Registry, stateDir string, log Logger) *Library {
	if log == nil {
		log = nopLogger{}
	}
	l := &Library{reg: reg, log: log}
	if stateDir != "" {
		if real, err := fsutil.CanonicalRoot(stateDir); err == nil && fsutil.Within(reg.Path(), real) {
			l.hidden = real
		}
	}
	return l
}

// Root returns the registry's current root.
func (l *Library) Root() (string, error) {
	return l.reg.Get()
}

// List lists the directory rel under the root; "" lists the root itself.
func (l *Library) List(rel string) ([]FileEntry, error) {
	root, err := l.reg.Get()
	if err != nil {
		l.report("list", rel, err)
		return nil, err
	}
	dir := root
	if rel != "" {
		dir, err = fsutil.Confine(root, rel)
		if err != nil {
			l.report("list", rel, err)
			return nil, err
		}
		if l.isHidden(dir) {
			err = fmt.Errorf("list %q: %w", rel, fsutil.ErrNotFound)
			l.report("list", rel, err)
			return nil, err
		}
	}
	items, err := List(dir)
	if err != nil {
		l.report("list", rel, err)
		return nil, err
	}
	l.log.Info("listed %d files in /%s", len(items), fsutil.Rel(root, dir))
	return items, nil
}

// Open opens rel for streaming. See the package-level Open.
func (l *Library) Open(rel string) (*Media, error) {
	root, err := l.reg.Get()
	if err != nil {
		l.report("open", rel, err)
		return nil, err
	}
	m, err := open(root, rel, l.hidden)
	if err != nil {
		l.report("open", rel, err)
		return nil, err
	}
	l.log.Info("serving %s (%s, %s)", rel, m.ContentType, humanize.Bytes(uint64(m.Size)))
	return m, nil
}

func (l *Library) isHidden(p string) bool {
	return l.hidden != "" && fsutil.Within(l.hidden, p)
}

// report logs err at a level matching its kind: traversal attempts are
// warnings, client mistakes are informational, everything else is an error.
func (l *Library) report(op, rel string, err error) {
	switch {
	case errors.Is(err, fsutil.ErrForbidden):
		l.log.Warn("%s: blocked path %q: %v", op, rel, err)
	case errors.Is(err, fsutil.ErrNotFound), errors.Is(err, fsutil.ErrInvalidInput):
		l.log.Info("%s %q: %v", op, rel, err)
	default:
		l.log.Error("%s %q: %v", op, rel, err)
	}
}
