package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/cartsync/internal/core/observability/log"
	"github.com/zeusync/cartsync/internal/core/wire"
	"github.com/zeusync/cartsync/internal/realtime"
)

// stream is one websocket subscriber. Database listeners only enqueue into
// out; the writer goroutine owns the connection's write side.
type stream struct {
	conn     *websocket.Conn
	uid      string
	out      chan wire.Frame
	done     chan struct{}
	once     sync.Once
	overflow atomic.Bool
	logger   log.Log
}

func newStream(conn *websocket.Conn, uid string, buffer int, logger log.Log) *stream {
	return &stream{
		conn:   conn,
		uid:    uid,
		out:    make(chan wire.Frame, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// offer never blocks. A subscriber that falls a whole buffer behind is cut
// off with a slow_consumer error frame.
func (st *stream) offer(change realtime.Change) {
	select {
	case <-st.done:
		return
	default:
	}
	select {
	case st.out <- wire.SnapshotFrame(st.uid, change.Seq, change.Cart):
	default:
		st.overflow.Store(true)
		st.stop()
	}
}

func (st *stream) stop() {
	st.once.Do(func() { close(st.done) })
}

func (st *stream) write(f wire.Frame, timeout time.Duration) error {
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	_ = st.conn.SetWriteDeadline(time.Now().Add(timeout))
	return st.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop drains client frames so close and pong control frames are seen.
func (st *stream) readLoop(pongWait time.Duration) {
	defer st.stop()
	st.conn.SetReadLimit(4 << 10)
	if pongWait > 0 {
		_ = st.conn.SetReadDeadline(time.Now().Add(pongWait))
		st.conn.SetPongHandler(func(string) error {
			return st.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	for {
		if _, _, err := st.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (st *stream) writeLoop(writeTimeout, pingInterval time.Duration) {
	var ping <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case f := <-st.out:
			if err := st.write(f, writeTimeout); err != nil {
				st.logger.Debug("Stream write failed", log.Error(err))
				return
			}
		case <-ping:
			if err := st.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-st.done:
			if st.overflow.Load() {
				st.logger.Warn("Dropping slow stream subscriber")
				_ = st.write(wire.ErrorFrame(wire.CodeSlowConsumer, "subscriber fell behind"), writeTimeout)
			}
			_ = st.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
			return
		}
	}
}

// handleStream upgrades to a websocket and streams the cart: the current
// value first, then every change.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	uid := pathParam(r, "uid")
	logger := s.requestLogger(r).With(log.UserUID(uid))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Websocket upgrade failed", log.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	st := newStream(conn, uid, s.cfg.OutboundBuffer, logger)
	s.track(st)
	defer s.untrack(st)
	if s.closed.Load() {
		return
	}

	sub, err := s.db.Listen(r.Context(), uid, st.offer)
	if err != nil {
		logger.Error("Cart listen failed", log.Error(err))
		_, code := errorStatus(err)
		_ = st.write(wire.ErrorFrame(code, "cart unavailable"), s.cfg.WriteTimeout)
		return
	}
	defer func() { _ = sub.Cancel() }()

	logger.Debug("Stream opened")
	go st.readLoop(2 * s.cfg.PingInterval)
	st.writeLoop(s.cfg.WriteTimeout, s.cfg.PingInterval)
	st.stop()
	logger.Debug("Stream closed")
}
