package injector

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cartsync/internal/config"
	"github.com/zeusync/cartsync/internal/realtime"
	"github.com/zeusync/cartsync/internal/server"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Log.Level = "silent"
	cfg.Local.Dir = t.TempDir()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

func TestInitializeClient(t *testing.T) {
	c, cleanup, err := InitializeClient(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.Empty(t, c.Cart().UserUID)
}

func TestInitializeClientRedisLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Local.Backend = config.LocalRedis
	cfg.Local.RedisAddr = mr.Addr()

	c, cleanup, err := InitializeClient(context.Background(), cfg)
	require.NoError(t, err)
	cleanup()
	assert.True(t, c.IsClosed())
}

func TestInitializeClientBadRemote(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.Websocket.BaseURL = "ftp://example.com"
	_, _, err := InitializeClient(context.Background(), cfg)
	assert.Error(t, err)
}

func TestInitializeServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Auth.Tokens = map[string]string{"t1": "u1"}

	srv, cleanup, err := InitializeServer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	assert.NotNil(t, srv.Addr())
	require.NoError(t, srv.Stop(ctx))
}

func TestProvideBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Server.Backend = config.BackendRedis
	cfg.Server.RedisAddr = mr.Addr()

	backend, cleanup, err := ProvideBackend(cfg, nil)
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &realtime.RedisBackend{}, backend)
}

func TestProvideVerifierStatic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Auth.Tokens = map[string]string{"t1": "u1"}
	v, err := ProvideVerifier(context.Background(), cfg)
	require.NoError(t, err)

	p, err := v.Verify(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserUID)

	_, err = v.Verify(context.Background(), "nope")
	assert.ErrorIs(t, err, server.ErrInvalidToken)
}

func TestProvideTokenSetter(t *testing.T) {
	ch, cleanup, err := ProvideRemoteChannel(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, ProvideTokenSetter(ch))

	loop := realtime.NewLoopback(realtime.NewDatabase(realtime.NewMemoryBackend(), nil, realtime.DefaultConfig(), nil))
	assert.Nil(t, ProvideTokenSetter(loop))
}
