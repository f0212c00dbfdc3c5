package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"lanmedia/internal/fsutil"
	"lanmedia/internal/media"
	"lanmedia/internal/staging"
)

// Acceptor stores client uploads as flat files in the media root.
//
// An upload whose sanitized name matches an existing file replaces it. The
// replacement is a single rename, so concurrent uploads of the same name do
// not interleave: the last one to finish wins.
type Acceptor struct {
	stage    *staging.Store
	maxBytes int64
	log      media.Logger
}

// NewAcceptor returns an Acceptor staging through stage. maxBytes <= 0 means
// no size limit.
func NewAcceptor(stage *staging.Store, maxBytes int64, log media.Logger) *Acceptor {
	if log == nil {
		log = nop{}
	}
	return &Acceptor{stage: stage, maxBytes: maxBytes, log: log}
}

// Accept sanitizes name, confines it to root and writes src there.
//
// Errors: ErrInvalidFilename when nothing is left of name, ErrPathTraversal if
// the sanitized name still resolves outside root, ErrTooLarge over the size
// limit, ErrWrite for any I/O failure.
func (a *Acceptor) Accept(ctx context.Context, root, name string, src io.Reader) (media.FileEntry, error) {
	clean, dst, err := a.destination(root, name)
	if err != nil {
		return media.FileEntry{}, err
	}
	st, err := a.stage.Write(ctx, src, a.maxBytes)
	if err != nil {
		if errors.Is(err, staging.ErrLimit) {
			a.log.Warn("upload %q rejected: larger than %s", clean, humanize.Bytes(uint64(a.maxBytes)))
			return media.FileEntry{}, fmt.Errorf("upload %q: %w", clean, fsutil.ErrTooLarge)
		}
		a.log.Error("upload %q: staging failed: %v", clean, err)
		return media.FileEntry{}, fmt.Errorf("upload %q: %v: %w", clean, err, fsutil.ErrWrite)
	}
	return a.commit(st, clean, dst)
}

// destination returns the sanitized name and its absolute target. The
// sanitized name is confined again and must be a direct child of the root.
func (a *Acceptor) destination(root, name string) (string, string, error) {
	clean, err := fsutil.SanitizeFilename(name)
	if err != nil {
		a.log.Info("upload rejected: %v", err)
		return "", "", err
	}
	rootReal, err := fsutil.CanonicalRoot(root)
	if err != nil {
		a.log.Error("upload %q: %v", clean, err)
		return "", "", err
	}
	if _, err := fsutil.Confine(rootReal, clean); err != nil {
		a.log.Warn("upload: blocked name %q (from %q): %v", clean, name, err)
		return "", "", err
	}
	dst := filepath.Join(rootReal, clean)
	if filepath.Dir(dst) != rootReal {
		a.log.Warn("upload: blocked name %q (from %q): not a direct child of the root", clean, name)
		return "", "", fmt.Errorf("upload %q: %w", clean, fsutil.ErrPathTraversal)
	}
	return clean, dst, nil
}

func (a *Acceptor) commit(st *staging.Staged, clean, dst string) (media.FileEntry, error) {
	if err := a.stage.Commit(st, dst); err != nil {
		a.stage.Discard(st)
		a.log.Error("upload %q: %v", clean, err)
		return media.FileEntry{}, fmt.Errorf("upload %q: %v: %w", clean, err, fsutil.ErrWrite)
	}
	a.log.Info("stored %s (%s, blake2b %.12s)", clean, humanize.Bytes(uint64(st.Size)), st.Checksum)
	return media.FileEntry{
		Name:     clean,
		Size:     st.Size,
		Mtime:    time.Now().Unix(),
		Mime:     media.ContentTypeForName(clean),
		Checksum: st.Checksum,
	}, nil
}

type nop struct{}

func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}
