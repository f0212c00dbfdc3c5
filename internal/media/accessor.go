package media

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"lanmedia/internal/fsutil"
)

// Open confines rel to root and opens it for reading. A rejected path is
// ErrForbidden (ErrPathTraversal), a missing or non-regular target is
// ErrNotFound.
//
// The path is resolved at open time and the file is opened through an
// os.Root anchored at the canonical root, so a symlink swapped in after the
// check still cannot lead outside it.
func Open(root, rel string) (*Media, error) {
	return open(root, rel, "")
}

func open(root, rel, hidden string) (*Media, error) {
	rootReal, err := fsutil.CanonicalRoot(root)
	if err != nil {
		return nil, err
	}
	p, err := fsutil.Confine(rootReal, rel)
	if err != nil {
		return nil, err
	}
	if p == rootReal || (hidden != "" && fsutil.Within(hidden, p)) {
		return nil, fmt.Errorf("open %q: %w", rel, fsutil.ErrNotFound)
	}

	r, err := os.OpenRoot(rootReal)
	if err != nil {
		if fsutil.IsNotExist(err) {
			return nil, fmt.Errorf("open root: %w", fsutil.ErrNotFound)
		}
		return nil, fmt.Errorf("open root: %v: %w", err, fsutil.ErrRead)
	}
	defer r.Close()

	inner, err := filepath.Rel(rootReal, p)
	if err != nil {
		return nil, fmt.Errorf("open %q: %v: %w", rel, err, fsutil.ErrInternal)
	}
	f, err := r.Open(inner)
	if err != nil {
		if fsutil.IsNotExist(err) {
			return nil, fmt.Errorf("open %q: %w", rel, fsutil.ErrNotFound)
		}
		// os.Root refuses anything that escapes it; permission errors land
		// here too.
		return nil, fmt.Errorf("open %q: %v: %w", rel, err, fsutil.ErrForbidden)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %q: %v: %w", rel, err, fsutil.ErrRead)
	}
	if !st.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("open %q: not a regular file: %w", rel, fsutil.ErrNotFound)
	}

	name := path.Base(fsutil.CleanRelPath(rel))
	ct := ContentTypeForName(name)
	if ct == "" {
		ct = sniff(f)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("rewind %q: %v: %w", rel, err, fsutil.ErrRead)
		}
	}
	return &Media{
		File:        f,
		Name:        name,
		Size:        st.Size(),
		ModTime:     st.ModTime(),
		ContentType: ct,
	}, nil
}
