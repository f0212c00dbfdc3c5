package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
)

// CleanRelPath takes a user path like "", ".", "/a/b", "a//b", and returns a
// slash-based, no-leading-slash relative path ("" means root). It is a display
// normalization only; confinement is always decided by Confine.
func CleanRelPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "." || p == "/" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p) // force absolute for stable cleaning
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// CanonicalRoot returns root as an absolute path with every symlink resolved.
func CanonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("root %q: %w", root, ErrInternal)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("root %q: %w", root, ErrNotFound)
		}
		return "", fmt.Errorf("root %q: %v: %w", root, err, ErrInternal)
	}
	return real, nil
}

// Confine resolves rel against root and returns the canonical absolute path,
// or ErrPathTraversal if the real target lies outside root. Both sides are
// symlink-resolved before comparison, so a string that merely looks contained
// is not enough.
//
// rel must be relative: an absolute rel is rejected rather than re-rooted.
// Targets that do not exist yet (upload destinations) are canonicalized through
// their longest existing ancestor.
func Confine(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path: %w", ErrInvalidInput)
	}
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("nul byte in path: %w", ErrInvalidInput)
	}
	if isRooted(rel) {
		return "", fmt.Errorf("%q is absolute: %w", rel, ErrPathTraversal)
	}

	rootReal, err := CanonicalRoot(root)
	if err != nil {
		return "", err
	}

	joined := filepath.Join(rootReal, filepath.FromSlash(rel))
	candidate, err := canonicalize(joined)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %v: %w", rel, err, ErrInternal)
	}
	if !Within(rootReal, candidate) {
		return "", fmt.Errorf("%q resolves outside root: %w", rel, ErrPathTraversal)
	}
	return candidate, nil
}

// Within reports whether p equals root or lies beneath it. Both arguments
// must already be canonical.
func Within(root, p string) bool {
	if p == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}

// isRooted catches "/x", "\x" and volume-qualified paths on every platform,
// not only what filepath.IsAbs considers absolute on the host.
func isRooted(rel string) bool {
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, "\\") {
		return true
	}
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return true
	}
	return false
}

// maxLinkHops bounds how many dangling symlinks canonicalize will chase.
const maxLinkHops = 255

// canonicalize resolves symlinks in the longest existing prefix of p and
// re-appends the missing tail. A dangling symlink is followed to its target so
// that a link pointing at a not-yet-existing file outside the root is still
// seen as outside. p must be absolute and clean.
func canonicalize(p string) (string, error) {
	return canonicalizeHops(p, 0)
}

func canonicalizeHops(p string, hops int) (string, error) {
	real, err := filepath.EvalSymlinks(p)
	if err == nil {
		return real, nil
	}
	if !missing(err) {
		return "", err
	}

	if fi, lerr := os.Lstat(p); lerr == nil && fi.Mode()&fs.ModeSymlink != 0 {
		if hops >= maxLinkHops {
			return "", fmt.Errorf("too many links at %s", p)
		}
		target, rerr := os.Readlink(p)
		if rerr != nil {
			return "", rerr
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(p), target)
		}
		return canonicalizeHops(filepath.Clean(target), hops+1)
	}

	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	realParent, err := canonicalizeHops(parent, hops)
	if err != nil {
		return "", err
	}
	return filepath.Join(realParent, filepath.Base(p)), nil
}

// missing is true for errors meaning "nothing there": ENOENT, or ENOTDIR when
// a path component is a regular file.
func missing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// Rel returns the slash-separated path of p relative to root, for logging and
// API responses. p must be within root.
func Rel(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// IsNotExist reports whether err means the target is absent, including a
// non-directory used as a directory.
func IsNotExist(err error) bool {
	return missing(err)
}
