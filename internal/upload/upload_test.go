package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanmedia/internal/fsutil"
	"lanmedia/internal/media"
	"lanmedia/internal/staging"
)

type env struct {
	root   string
	stage  *staging.Store
	accept *Acceptor
}

func newEnv(t *testing.T, maxBytes int64) *env {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	stage, err := staging.New(filepath.Join(root, ".lanmedia"))
	require.NoError(t, err)
	return &env{root: root, stage: stage, accept: NewAcceptor(stage, maxBytes, nil)}
}

func TestAccept_RoundTrip(t *testing.T) {
	e := newEnv(t, 0)
	body := bytes.Repeat([]byte{0, 1, 2, 3, 0xff}, 10_000)

	entry, err := e.accept.Accept(context.Background(), e.root, "holiday.mp4", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "holiday.mp4", entry.Name)
	assert.Equal(t, int64(len(body)), entry.Size)
	assert.Equal(t, "video/mp4", entry.Mime)
	assert.Len(t, entry.Checksum, 64)

	m, err := media.Open(e.root, entry.Name)
	require.NoError(t, err)
	defer m.Close()
	got, err := io.ReadAll(m.File)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	items, err := media.List(e.root)
	require.NoError(t, err)
	assert.Equal(t, []string{"holiday.mp4"}, media.Names(items))
}

func TestAccept_TraversalNameIsSanitized(t *testing.T) {
	e := newEnv(t, 0)

	entry, err := e.accept.Accept(context.Background(), e.root, "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "passwd", entry.Name)
	assert.NotContains(t, entry.Name, "/")

	_, err = os.Stat(filepath.Join(e.root, "passwd"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(e.root), "passwd"))
	assert.True(t, os.IsNotExist(err))
}

func TestAccept_InvalidFilename(t *testing.T) {
	e := newEnv(t, 0)
	for _, name := range []string{"", "..", "/", "a/..", " . "} {
		_, err := e.accept.Accept(context.Background(), e.root, name, strings.NewReader("x"))
		assert.ErrorIs(t, err, fsutil.ErrInvalidFilename, "%q", name)
	}
}

func TestAccept_SymlinkedNameOutsideRoot(t *testing.T) {
	e := newEnv(t, 0)
	outside := filepath.Join(t.TempDir(), "target.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(e.root, "clip.mp4")))

	_, err := e.accept.Accept(context.Background(), e.root, "clip.mp4", strings.NewReader("overwrite"))
	assert.ErrorIs(t, err, fsutil.ErrPathTraversal)

	b, _ := os.ReadFile(outside)
	assert.Equal(t, "keep", string(b))
}

func TestAccept_Overwrites(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()

	_, err := e.accept.Accept(ctx, e.root, "a.txt", strings.NewReader("first"))
	require.NoError(t, err)
	entry, err := e.accept.Accept(ctx, e.root, "a.txt", strings.NewReader("second!"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.Size)

	b, err := os.ReadFile(filepath.Join(e.root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second!", string(b))
}

func TestAccept_ConcurrentSameNameLastWriteWins(t *testing.T) {
	e := newEnv(t, 0)
	bodies := []string{"aaaa", "bbbbbbbb", "cccccccccccc", "dddddddddddddddd"}

	var wg sync.WaitGroup
	for _, b := range bodies {
		wg.Add(1)
		go func(b string) {
			defer wg.Done()
			_, err := e.accept.Accept(context.Background(), e.root, "race.bin", strings.NewReader(b))
			assert.NoError(t, err)
		}(b)
	}
	wg.Wait()

	got, err := os.ReadFile(filepath.Join(e.root, "race.bin"))
	require.NoError(t, err)
	assert.Contains(t, bodies, string(got), "file must hold exactly one complete upload")
}

func TestAccept_TooLarge(t *testing.T) {
	e := newEnv(t, 4)

	_, err := e.accept.Accept(context.Background(), e.root, "big.bin", strings.NewReader("12345"))
	assert.ErrorIs(t, err, fsutil.ErrTooLarge)
	_, err = os.Stat(filepath.Join(e.root, "big.bin"))
	assert.True(t, os.IsNotExist(err))
}

func TestAccept_OntoDirectory(t *testing.T) {
	e := newEnv(t, 0)
	require.NoError(t, os.MkdirAll(filepath.Join(e.root, "sub", "x"), 0o755))

	_, err := e.accept.Accept(context.Background(), e.root, "sub", strings.NewReader("x"))
	assert.ErrorIs(t, err, fsutil.ErrWrite)
}

func TestAccept_MissingRoot(t *testing.T) {
	e := newEnv(t, 0)
	_, err := e.accept.Accept(context.Background(), filepath.Join(e.root, "nope"), "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, fsutil.ErrNotFound)
}

func TestManager_Resumable(t *testing.T) {
	e := newEnv(t, 0)
	m, err := NewManager(e.accept, 0)
	require.NoError(t, err)
	ctx := context.Background()

	s, err := m.Create("../movie.mkv", 10)
	require.NoError(t, err)
	assert.Equal(t, "movie.mkv", s.Name)

	_, err = m.Patch(ctx, s.ID, "bytes 0-3/10", strings.NewReader("0123"))
	require.NoError(t, err)

	_, err = m.Patch(ctx, s.ID, "bytes 0-3/10", strings.NewReader("0123"))
	assert.ErrorIs(t, err, fsutil.ErrInvalidInput, "offset mismatch")

	_, err = m.Finish(ctx, e.root, s.ID)
	assert.ErrorIs(t, err, fsutil.ErrInvalidInput, "incomplete")

	// a restart reloads the session from disk
	m2, err := NewManager(e.accept, 0)
	require.NoError(t, err)
	got, ok := m2.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, int64(4), got.Offset)

	s2, err := m2.Patch(ctx, s.ID, "bytes 4-9/10", strings.NewReader("456789"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), s2.Offset)

	entry, err := m2.Finish(ctx, e.root, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "movie.mkv", entry.Name)
	assert.Equal(t, int64(10), entry.Size)

	b, err := os.ReadFile(filepath.Join(e.root, "movie.mkv"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(b))

	_, ok = m2.Get(s.ID)
	assert.False(t, ok)
	_, err = m2.Finish(ctx, e.root, s.ID)
	assert.ErrorIs(t, err, fsutil.ErrNotFound)
}

func TestManager_Errors(t *testing.T) {
	e := newEnv(t, 8)
	m, err := NewManager(e.accept, 0)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Create("..", 1)
	assert.ErrorIs(t, err, fsutil.ErrInvalidFilename)

	_, err = m.Create("big.bin", 9)
	assert.ErrorIs(t, err, fsutil.ErrTooLarge)

	s, err := m.Create("small.bin", -1)
	require.NoError(t, err)

	_, err = m.Patch(ctx, s.ID, "nonsense", strings.NewReader("x"))
	assert.ErrorIs(t, err, fsutil.ErrInvalidInput)

	_, err = m.Patch(ctx, s.ID, "bytes 0-3/*", strings.NewReader("ab"))
	assert.ErrorIs(t, err, fsutil.ErrInvalidInput, "short body")

	_, err = m.Patch(ctx, "missing", "bytes 0-0/1", strings.NewReader("a"))
	assert.ErrorIs(t, err, fsutil.ErrNotFound)
}

func TestManager_EmptyUpload(t *testing.T) {
	e := newEnv(t, 0)
	m, err := NewManager(e.accept, 0)
	require.NoError(t, err)

	s, err := m.Create("empty.txt", 0)
	require.NoError(t, err)
	entry, err := m.Finish(context.Background(), e.root, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.Size)
}

func TestParseContentRange(t *testing.T) {
	start, end, total, err := parseContentRange("bytes 0-99/200")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 99, 200}, []int64{start, end, total})

	_, _, total, err = parseContentRange("bytes 5-9/*")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), total)

	for _, bad := range []string{"", "bytes", "bytes 9-5/10", "bytes 0-10/10", "bytes a-b/c", "items 0-1/2"} {
		_, _, _, err := parseContentRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestManager_FailedChunkIsDiscarded(t *testing.T) {
	e := newEnv(t, 0)
	m, err := NewManager(e.accept, 0)
	require.NoError(t, err)
	ctx := context.Background()

	s, err := m.Create("clip.mp4", -1)
	require.NoError(t, err)

	// the body ends before the announced range
	_, err = m.Patch(ctx, s.ID, "bytes 0-9/*", strings.NewReader("XXXXXXX"))
	require.ErrorIs(t, err, fsutil.ErrInvalidInput)

	got, err := m.Patch(ctx, s.ID, "bytes 0-2/*", strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Offset)

	entry, err := m.Finish(ctx, e.root, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Size)

	b, err := os.ReadFile(filepath.Join(e.root, "clip.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
}

func TestManager_FailedChunkKnownSize(t *testing.T) {
	e := newEnv(t, 0)
	m, err := NewManager(e.accept, 0)
	require.NoError(t, err)
	ctx := context.Background()

	s, err := m.Create("song.mp3", 6)
	require.NoError(t, err)

	_, err = m.Patch(ctx, s.ID, "bytes 0-2/6", strings.NewReader("abc"))
	require.NoError(t, err)
	_, err = m.Patch(ctx, s.ID, "bytes 3-5/6", strings.NewReader("d"))
	require.ErrorIs(t, err, fsutil.ErrInvalidInput)

	info, err := os.Stat(filepath.Join(e.stage.Dir(), s.ID+".part"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())

	_, err = m.Patch(ctx, s.ID, "bytes 3-5/6", strings.NewReader("def"))
	require.NoError(t, err)
	_, err = m.Finish(ctx, e.root, s.ID)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(e.root, "song.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(b))
}

func TestManager_ConcurrentGetDuringPatch(t *testing.T) {
	e := newEnv(t, 0)
	m, err := NewManager(e.accept, 0)
	require.NoError(t, err)

	s, err := m.Create("stream.bin", -1)
	require.NoError(t, err)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				got, ok := m.Get(s.ID)
				if assert.True(t, ok) {
					_ = got.Size
				}
			}
		}
	}()

	for i := int64(0); i < 50; i++ {
		_, err := m.Patch(context.Background(), s.ID, fmt.Sprintf("bytes %d-%d/100", i*2, i*2+1), strings.NewReader("ab"))
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, int64(100), got.Size)
	assert.Equal(t, int64(100), got.Offset)
}

func TestManager_ExpiredSessionsDropped(t *testing.T) {
	e := newEnv(t, 0)
	m, err := NewManager(e.accept, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	fresh, err := m.Create("fresh.bin", 4)
	require.NoError(t, err)
	stale, err := m.Create("stale.bin", 4)
	require.NoError(t, err)
	_, err = m.Patch(ctx, stale.ID, "bytes 0-1/4", strings.NewReader("ab"))
	require.NoError(t, err)

	// backdate the stale session on disk
	path := filepath.Join(e.stage.Dir(), stale.ID+".json")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var sess Session
	require.NoError(t, json.Unmarshal(b, &sess))
	sess.Created = time.Now().Add(-2 * time.Hour).Unix()
	b, err = json.Marshal(&sess)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	m2, err := NewManager(e.accept, time.Hour)
	require.NoError(t, err)
	_, ok := m2.Get(fresh.ID)
	assert.True(t, ok)
	_, ok = m2.Get(stale.ID)
	assert.False(t, ok)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, filepath.Join(e.stage.Dir(), stale.ID+".part"))

	// without a ttl nothing expires
	m3, err := NewManager(e.accept, 0)
	require.NoError(t, err)
	_, ok = m3.Get(fresh.ID)
	assert.True(t, ok)
}
