package media

import (
	"fmt"
	"os"

	"lanmedia/internal/fsutil"
)

// Registry holds the media root. It is set once at startup and has no setter:
// every request observes the same directory.
type Registry struct {
	root string
}

// NewRegistry creates dir if needed and pins its canonical form as the root.
func NewRegistry(dir string) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("media root: %w", fsutil.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	root, err := fsutil.CanonicalRoot(dir)
	if err != nil {
		return nil, err
	}
	return &Registry{root: root}, nil
}

// Get returns the root, or ErrNotFound if it has been removed or replaced by
// something that is not a directory since startup.
func (r *Registry) Get() (string, error) {
	st, err := os.Stat(r.root)
	if err != nil || !st.IsDir() {
		return "", fmt.Errorf("media root %s: %w", r.root, fsutil.ErrNotFound)
	}
	return r.root, nil
}

// Path returns the configured root without checking it.
func (r *Registry) Path() string {
	return r.root
}
