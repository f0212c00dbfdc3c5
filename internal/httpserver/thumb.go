package httpserver

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	// decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"lanmedia/internal/fsutil"
	"lanmedia/internal/media"
)

// thumbnail returns a JPEG thumbnail for m, opened as rel, reading it from
// the cache under the state directory when the source has not changed.
func (s *Server) thumbnail(rel string, m *media.Media) ([]byte, error) {
	dir := filepath.Join(s.cfg.StateDir, "thumbs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	cached := filepath.Join(dir, safeKey(fsutil.CleanRelPath(rel))+"-"+modTimeKey(m.ModTime, m.Size)+".jpg")
	if b, err := os.ReadFile(cached); err == nil {
		return b, nil
	}

	b, err := renderThumb(m.File, s.cfg.Thumbnails.MaxSize)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, "thumb-*.tmp")
	if err == nil {
		_, werr := tmp.Write(b)
		cerr := tmp.Close()
		if werr != nil || cerr != nil || os.Rename(tmp.Name(), cached) != nil {
			_ = os.Remove(tmp.Name())
		}
	}
	return b, nil
}

// thumbQuality is the JPEG quality of generated thumbnails.
const thumbQuality = 82

// renderThumb decodes any registered image format from r and re-encodes it as
// a JPEG no larger than max on either side.
func renderThumb(r io.Reader, max int) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, os.ErrInvalid
	}

	dst := image.NewRGBA(image.Rectangle{Max: fitWithin(bounds.Size(), max)})
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// fitWithin scales size down, keeping its aspect ratio, until its longer side
// is at most max. Smaller sizes are returned unchanged and no side drops
// below one pixel.
func fitWithin(size image.Point, max int) image.Point {
	if max <= 0 {
		max = 256
	}
	long := size.X
	if size.Y > long {
		long = size.Y
	}
	if long <= max {
		return size
	}
	scale := func(v int) int {
		return int(math.Max(1, float64(v)*float64(max)/float64(long)))
	}
	return image.Pt(scale(size.X), scale(size.Y))
}

func safeKey(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "root"
	}
	return name
}
