// Package wsremote talks to the cart server: a websocket per subscription
// streams full snapshots, and point mutations go over REST.
package wsremote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/observability/log"
	"github.com/zeusync/cartsync/internal/core/remote"
	"github.com/zeusync/cartsync/internal/core/wire"
)

var _ remote.Channel = (*Channel)(nil)

type Config struct {
	BaseURL          string        `yaml:"base_url"`
	Token            string        `yaml:"token"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	// ReadTimeout ends a stream that has been silent this long. The server
	// pings every 30s by default, so keep it well above that. Zero disables it.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:8080",
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   15 * time.Second,
		MaxMessageSize:   1 << 20,
		ReadTimeout:      75 * time.Second,
	}
}

type Channel struct {
	cfg    Config
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer
	token  atomic.Value // string
	logger log.Log
}

// New validates cfg.BaseURL and builds a channel. A nil httpClient gets one
// with cfg.RequestTimeout.
func New(cfg Config, httpClient *http.Client, logger log.Log) (*Channel, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("wsremote: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("wsremote: base url %q must be http or https", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	c := &Channel{
		cfg:    cfg,
		base:   base,
		http:   httpClient,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger: log.OrNop(logger).With(log.Component("wsremote")),
	}
	c.token.Store(cfg.Token)
	return c, nil
}

// SetToken replaces the bearer token, e.g. after a sign-in.
func (c *Channel) SetToken(token string) {
	c.token.Store(token)
}

func (c *Channel) bearer() string {
	token, _ := c.token.Load().(string)
	return token
}

// cartURL joins unescaped path segments under /v1/carts/{uid}.
func (c *Channel) cartURL(uid string, parts ...string) string {
	segs := append([]string{"v1", "carts", uid}, parts...)
	escaped := make([]string, len(segs))
	for i, seg := range segs {
		escaped[i] = url.PathEscape(seg)
	}
	u := *c.base
	u.Path = c.base.Path + "/" + strings.Join(segs, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *Channel) streamURL(uid string) string {
	u, _ := url.Parse(c.cartURL(uid, "ws"))
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String()
}

type subscription struct {
	*remote.Guard

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// Subscribe dials in the background; dial and read failures reach onError.
func (c *Channel) Subscribe(uid string, onSnapshot remote.SnapshotFunc, onError remote.ErrorFunc) (remote.Subscription, error) {
	if uid == "" {
		return nil, remote.ErrEmptyUserUID
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{cancel: cancel}
	s.Guard = remote.NewGuard(uid, onSnapshot, onError, s.close)
	go c.stream(ctx, s, uid)
	return s, nil
}

func (c *Channel) stream(ctx context.Context, s *subscription, uid string) {
	logger := c.logger.With(log.UserUID(uid), log.String("subscription_id", s.ID()))

	header := http.Header{}
	if token := c.bearer(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL(uid), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if s.Active() {
			logger.Warn("Cart stream dial failed", log.Error(err))
		}
		base := remote.ErrUnavailable
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			base = remote.ErrUnauthorized
		}
		s.Fail(fmt.Errorf("%w: %v", base, err))
		return
	}

	s.mu.Lock()
	if !s.Active() {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.extendRead(conn)
	conn.SetPingHandler(func(appData string) error {
		c.extendRead(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	logger.Debug("Cart stream connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.Active() {
				logger.Warn("Cart stream closed", log.Error(err))
				s.Fail(fmt.Errorf("%w: %v", remote.ErrUnavailable, err))
			}
			return
		}
		c.extendRead(conn)
		frame, err := wire.Decode(data)
		if err != nil {
			logger.Warn("Dropping undecodable frame", log.Error(err))
			continue
		}
		switch frame.Type {
		case wire.FrameSnapshot:
			s.Snapshot(frame.Cart())
		case wire.FrameError:
			s.Fail(frameError(frame))
			_ = conn.Close()
			return
		}
	}
}

func (c *Channel) extendRead(conn *websocket.Conn) {
	if c.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
}

func frameError(f wire.Frame) error {
	base := remote.ErrUnavailable
	if f.Code == wire.CodeUnauthorized || f.Code == wire.CodeForbidden {
		base = remote.ErrUnauthorized
	}
	return fmt.Errorf("%w: %s: %s", base, f.Code, f.Message)
}

func (c *Channel) SetLine(ctx context.Context, uid, productID string, line cart.Line) error {
	err := c.send(ctx, http.MethodPut, uid, productID, wire.SetLineRequest{Line: line})
	return remote.NewRemoteError(remote.OpSetLine, uid, productID, err)
}

func (c *Channel) UpdateQuantity(ctx context.Context, uid, productID string, quantity int) error {
	err := c.send(ctx, http.MethodPatch, uid, productID, wire.UpdateQuantityRequest{Quantity: quantity})
	return remote.NewRemoteError(remote.OpUpdateQuantity, uid, productID, err)
}

func (c *Channel) RemoveLine(ctx context.Context, uid, productID string) error {
	err := c.send(ctx, http.MethodDelete, uid, productID, nil)
	return remote.NewRemoteError(remote.OpRemoveLine, uid, productID, err)
}

func (c *Channel) send(ctx context.Context, method, uid, productID string, body any) error {
	if uid == "" {
		return remote.ErrEmptyUserUID
	}
	if productID == "" {
		return remote.ErrEmptyProductID
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cartURL(uid, "items", productID), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return statusError(resp)
}

func statusError(resp *http.Response) error {
	var body wire.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var base error
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		base = remote.ErrUnauthorized
	case http.StatusNotFound:
		base = remote.ErrLineNotFound
	default:
		if resp.StatusCode >= 500 {
			base = remote.ErrUnavailable
		}
	}
	err := fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	if base != nil {
		return errors.Join(base, err)
	}
	return err
}
