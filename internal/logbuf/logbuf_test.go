package logbuf

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(i int) Entry {
	return Entry{Time: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC), Level: "INFO", Message: fmt.Sprintf("line %d", i)}
}

func messages(es []Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Message
	}
	return out
}

func TestBuffer_PartialFill(t *testing.T) {
	b := New(5)
	assert.Empty(t, b.Snapshot())

	for i := 0; i < 3; i++ {
		b.Append(entry(i))
	}
	assert.Equal(t, []string{"line 0", "line 1", "line 2"}, messages(b.Snapshot()))
}

func TestBuffer_EvictsOldestFirst(t *testing.T) {
	b := New(DefaultCapacity)
	for i := 0; i < 250; i++ {
		b.Append(entry(i))
	}
	snap := b.Snapshot()
	require.Len(t, snap, DefaultCapacity)
	assert.Equal(t, "line 150", snap[0].Message)
	assert.Equal(t, "line 249", snap[len(snap)-1].Message)
}

func TestBuffer_SnapshotIsACopy(t *testing.T) {
	b := New(2)
	b.Append(entry(1))
	snap := b.Snapshot()
	snap[0].Message = "mutated"
	assert.Equal(t, "line 1", b.Snapshot()[0].Message)
}

func TestBuffer_Lines(t *testing.T) {
	b := New(0)
	b.Append(Entry{Time: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC), Level: "WARN", Message: "blocked"})
	assert.Equal(t, []string{"2026-10-18 09:30:00 [WARN] blocked"}, b.Lines())
}

func TestBuffer_ConcurrentAppend(t *testing.T) {
	b := New(50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Append(entry(i))
				_ = b.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, b.Snapshot(), 50)
}

func TestBuffer_Subscribe(t *testing.T) {
	b := New(10)
	b.Append(entry(0))

	history, ch, cancel := b.Subscribe()
	assert.Equal(t, []string{"line 0"}, messages(history))

	b.Append(entry(1))
	select {
	case e := <-ch:
		assert.Equal(t, "line 1", e.Message)
	case <-time.After(time.Second):
		t.Fatal("no entry delivered")
	}

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	b.Append(entry(2)) // must not panic on the closed channel
}

func TestBuffer_SlowSubscriberDropped(t *testing.T) {
	b := New(10)
	_, ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < subscriberQueue+5; i++ {
		b.Append(entry(i))
	}
	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, subscriberQueue, n)
}

func TestStreamer(t *testing.T) {
	b := New(10)
	b.Append(Entry{Time: time.Now(), Level: "INFO", Message: "before connect"})

	srv := httptest.NewServer(NewStreamer(b, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var got Entry
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "before connect", got.Message)

	b.Append(Entry{Time: time.Now(), Level: "WARN", Message: "after connect"})
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "after connect", got.Message)
	assert.Equal(t, "WARN", got.Level)
}

func TestStreamer_Close(t *testing.T) {
	b := New(10)
	st := NewStreamer(b, nil)
	srv := httptest.NewServer(st)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	st.Close()
	st.Close()

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
