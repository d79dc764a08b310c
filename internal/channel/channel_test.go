package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// echoServer upgrades each request and echoes text frames until the
// peer closes or closeAfter frames were seen.
func echoServer(t *testing.T, closeAfter int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		seen := 0
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
			seen++
			if closeAfter > 0 && seen >= closeAfter {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestDialSendReceive(t *testing.T) {
	srv := echoServer(t, 0)

	var opens atomic.Int32
	received := make(chan []byte, 8)
	closed := make(chan struct{})

	c, err := Dial(context.Background(), wsURL(srv), Handler{
		OnOpen:    func() { opens.Add(1) },
		OnMessage: func(data []byte) { received <- data },
		OnClose:   func() { close(closed) },
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), opens.Load())

	require.NoError(t, c.TrySend([]byte(`{"type":"ping","ts":1}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"type":"ping","ts":1}`, string(data))
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	c.Close(websocket.CloseNormalClosure, "leaving")
	waitClosed(t, closed)

	require.ErrorIs(t, c.TrySend([]byte("late")), ErrClosed)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", Handler{})
	require.Error(t, err)
}

func TestOnCloseOnceOnLocalClose(t *testing.T) {
	srv := echoServer(t, 0)

	var closes atomic.Int32
	closed := make(chan struct{})
	c, err := Dial(context.Background(), wsURL(srv), Handler{
		OnClose: func() {
			if closes.Add(1) == 1 {
				close(closed)
			}
		},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close(websocket.CloseNormalClosure, "bye")
		}()
	}
	wg.Wait()
	waitClosed(t, closed)

	// The read pump also notices the dead conn; give it a moment.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), closes.Load())
}

func TestOnCloseOnceOnServerClose(t *testing.T) {
	srv := echoServer(t, 1)

	var closes atomic.Int32
	closed := make(chan struct{})
	c, err := Dial(context.Background(), wsURL(srv), Handler{
		OnClose: func() {
			closes.Add(1)
			close(closed)
		},
	})
	require.NoError(t, err)

	require.NoError(t, c.TrySend([]byte("one")))
	waitClosed(t, closed)
	assert.Equal(t, int32(1), closes.Load())

	err = c.TrySend([]byte("after"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestTrySendBackpressure(t *testing.T) {
	// A server that never reads lets the queue fill once the write
	// pump blocks on the kernel buffer.
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-block
		ws.Close()
	}))
	t.Cleanup(func() { close(block); srv.Close() })

	c, err := Dial(context.Background(), wsURL(srv), Handler{})
	require.NoError(t, err)
	defer c.Close(websocket.CloseNormalClosure, "done")

	// Large frames defeat socket buffering faster.
	payload := make([]byte, 1<<16)
	sawBackpressure := false
	for i := 0; i < sendQueueSize*4; i++ {
		if err := c.TrySend(payload); err != nil {
			require.ErrorIs(t, err, ErrBackpressure)
			sawBackpressure = true
			break
		}
	}
	assert.True(t, sawBackpressure, "queue never filled")
}
