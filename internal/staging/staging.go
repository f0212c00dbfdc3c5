// Package staging holds upload bodies in the state directory until they are
// complete, then moves them into place in one rename.
package staging

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
)

const chunkSize = 1024 * 1024

// ErrLimit is returned by Write when the body exceeds the given limit.
var ErrLimit = errors.New("staging: size limit exceeded")

type Store struct {
	dir string
}

// Staged is a complete temporary file waiting to be committed.
type Staged struct {
	Path     string
	Size     int64
	Checksum string // hex BLAKE2b-256
}

// New creates the staging area at <stateDir>/uploads.
func New(stateDir string) (*Store, error) {
	dir := filepath.Join(stateDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the staging directory.
func (s *Store) Dir() string {
	return s.dir
}

// Write streams src into a new temporary file, hashing as it goes. A limit of
// zero or less means unlimited. On any error the temporary file is removed.
func (s *Store) Write(ctx context.Context, src io.Reader, limit int64) (*Staged, error) {
	f, err := os.CreateTemp(s.dir, "up-*.tmp")
	if err != nil {
		return nil, err
	}
	tmp := f.Name()

	h := newHash()
	n, err := copyCtx(ctx, io.MultiWriter(f, h), src, limit)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return &Staged{Path: tmp, Size: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

// Seal hashes an already written temporary file (a finished resumable upload)
// so it can be committed like one produced by Write.
func (s *Store) Seal(ctx context.Context, tmpFile string) (*Staged, error) {
	f, err := os.Open(tmpFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := newHash()
	n, err := copyCtx(ctx, h, f, 0)
	if err != nil {
		return nil, err
	}
	return &Staged{Path: tmpFile, Size: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

// Commit moves st to dst, replacing whatever is there. The rename is atomic
// within a filesystem, so concurrent commits to the same dst leave exactly one
// of them (the last) in place.
func (s *Store) Commit(st *Staged, dst string) error {
	if err := os.Rename(st.Path, dst); err != nil {
		// If rename failed due to cross-device, copy+fsync next to dst and
		// rename that.
		side := dst + ".lanmedia-tmp"
		if err2 := copyFile(st.Path, side); err2 != nil {
			_ = os.Remove(side)
			return fmt.Errorf("commit: rename=%v copy=%v", err, err2)
		}
		if err2 := os.Rename(side, dst); err2 != nil {
			_ = os.Remove(side)
			return fmt.Errorf("commit: rename=%v", err2)
		}
		_ = os.Remove(st.Path)
	}
	return nil
}

// Discard removes a staged file that will not be committed.
func (s *Store) Discard(st *Staged) {
	if st != nil {
		_ = os.Remove(st.Path)
	}
}

func newHash() hash.Hash {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
	return h
}

func copyCtx(ctx context.Context, dst io.Writer, src io.Reader, limit int64) (int64, error) {
	var n int64
	buf := make([]byte, chunkSize)
	for {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		rn, rerr := src.Read(buf)
		if rn > 0 {
			if limit > 0 && n+int64(rn) > limit {
				return n, ErrLimit
			}
			if _, werr := dst.Write(buf[:rn]); werr != nil {
				return n, werr
			}
			n += int64(rn)
		}
		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}
