package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/observability/log"
	"github.com/zeusync/cartsync/internal/core/wire"
	"github.com/zeusync/cartsync/internal/realtime"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server, *realtime.Database) {
	t.Helper()
	db := realtime.NewDatabase(realtime.NewMemoryBackend(), nil, realtime.DefaultConfig(), nil)
	verifier := NewStaticVerifier(map[string]string{
		"tok-u1":    "u1",
		"tok-u2":    "u2",
		"tok-admin": AdminUID,
	})
	srv := New(cfg, db, verifier, log.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, db
}

func dialStream(t *testing.T, ts *httptest.Server, uid, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/carts/" + uid + "/ws"
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := wire.Decode(data)
	require.NoError(t, err)
	return f
}

func TestWebSocketStreamAuth(t *testing.T) {
	_, ts, _ := newTestServer(t, DefaultServerConfig())
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/carts/u1/ws"

	// Test without token
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Test with invalid token
	_, resp, err = websocket.DefaultDialer.Dial(u+"?token=invalid", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Test with another user's token
	_, resp, err = websocket.DefaultDialer.Dial(u+"?token=tok-u2", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Test with valid query token
	conn, _, err := websocket.DefaultDialer.Dial(u+"?token=tok-u1", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, wire.FrameSnapshot, readFrame(t, conn).Type)
}

func TestWebSocketStreamsSnapshots(t *testing.T) {
	_, ts, db := newTestServer(t, DefaultServerConfig())
	conn := dialStream(t, ts, "u1", "tok-u1")

	first := readFrame(t, conn)
	assert.Equal(t, wire.FrameSnapshot, first.Type)
	assert.True(t, first.Cart().IsEmpty())

	_, err := db.SetLine(context.Background(), "u1", "p1", cart.Line{Quantity: 2})
	require.NoError(t, err)
	_, err = db.SetLine(context.Background(), "u2", "p9", cart.Line{Quantity: 1})
	require.NoError(t, err)
	_, err = db.UpdateQuantity(context.Background(), "u1", "p1", 4)
	require.NoError(t, err)

	second := readFrame(t, conn)
	l, ok := second.Cart().Line("p1")
	require.True(t, ok)
	assert.Equal(t, 2, l.Quantity)

	third := readFrame(t, conn)
	assert.Greater(t, third.Seq, second.Seq)
	assert.Equal(t, []string{"p1"}, third.Cart().ProductIDs())
	l, _ = third.Cart().Line("p1")
	assert.Equal(t, 4, l.Quantity)
}

func TestStreamOverflowMarksSlowConsumer(t *testing.T) {
	st := newStream(nil, "u1", 1, log.NewNop())
	st.offer(realtime.Change{UserUID: "u1", Seq: 1, Cart: cart.New()})
	assert.False(t, st.overflow.Load())

	st.offer(realtime.Change{UserUID: "u1", Seq: 2, Cart: cart.New()})
	assert.True(t, st.overflow.Load())
	select {
	case <-st.done:
	default:
		t.Fatal("stream not stopped")
	}
	// Offers after the stop are ignored.
	st.offer(realtime.Change{UserUID: "u1", Seq: 3, Cart: cart.New()})
	assert.Len(t, st.out, 1)
}

func TestStopClosesStreams(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	db := realtime.NewDatabase(realtime.NewMemoryBackend(), nil, realtime.DefaultConfig(), nil)
	srv := New(cfg, db, NewStaticVerifier(map[string]string{"tok-u1": "u1"}), nil)

	require.NoError(t, srv.Start(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), ErrServerAlreadyRunning)

	u := "ws://" + srv.Addr().String() + "/v1/carts/u1/ws?token=tok-u1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.StreamCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.ErrorIs(t, srv.Stop(ctx), ErrServerNotRunning)
	assert.ErrorIs(t, srv.Start(ctx), ErrServerClosed)
}

type fakeIDTokens struct {
	uid string
}

func (f fakeIDTokens) VerifyIDToken(_ context.Context, token string) (*auth.Token, error) {
	if token != "good" {
		return nil, errors.New("token expired")
	}
	return &auth.Token{UID: f.uid}, nil
}

func TestFirebaseVerifier(t *testing.T) {
	v := NewFirebaseVerifier(fakeIDTokens{uid: "u1"})

	p, err := v.Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.True(t, p.CanAccess("u1"))
	assert.False(t, p.CanAccess("u2"))

	_, err = v.Verify(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier(map[string]string{"a": "u1", "root": AdminUID})

	p, err := v.Verify(context.Background(), "root")
	require.NoError(t, err)
	assert.True(t, p.CanAccess("anyone"))

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
