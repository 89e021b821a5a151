// Package injector assembles the cart client and the cart server from
// config with google/wire.
package injector

import (
	"context"
	"fmt"
	"net/http"

	firebase "firebase.google.com/go/v4"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/zeusync/cartsync/internal/catalog"
	"github.com/zeusync/cartsync/internal/config"
	"github.com/zeusync/cartsync/internal/core/events/bus"
	"github.com/zeusync/cartsync/internal/core/observability/log"
	"github.com/zeusync/cartsync/internal/core/reconciler"
	"github.com/zeusync/cartsync/internal/core/remote"
	"github.com/zeusync/cartsync/internal/core/remote/fsremote"
	"github.com/zeusync/cartsync/internal/core/remote/wsremote"
	"github.com/zeusync/cartsync/internal/core/session"
	"github.com/zeusync/cartsync/internal/core/storage/local"
	"github.com/zeusync/cartsync/internal/realtime"
	"github.com/zeusync/cartsync/internal/server"
	"github.com/zeusync/cartsync/sdk/go/client"
)

var CommonSet = wire.NewSet(ProvideLogger, ProvideEventBus)

var ClientSet = wire.NewSet(
	CommonSet,
	ProvideLocalStore,
	ProvideRemoteChannel,
	ProvideTokenSetter,
	ProvideReconciler,
	ProvideSessionManager,
	ProvideCatalog,
	ProvideClient,
)

var ServerSet = wire.NewSet(
	CommonSet,
	ProvideBackend,
	ProvideDatabase,
	ProvideVerifier,
	ProvideServer,
)

func ProvideLogger(cfg config.Config) log.Log {
	return log.New(cfg.Level())
}

func ProvideEventBus() bus.EventBus {
	return bus.New()
}

func ProvideLocalStore(cfg config.Config, logger log.Log) (local.Store, func(), error) {
	switch cfg.Local.Backend {
	case config.LocalRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Local.RedisAddr})
		return local.NewRedisStore(rdb, cfg.Local.RedisTTL, logger), func() { _ = rdb.Close() }, nil
	default:
		store, err := local.NewOSFileStore(cfg.Local.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func ProvideRemoteChannel(ctx context.Context, cfg config.Config, logger log.Log) (remote.Channel, func(), error) {
	switch cfg.Remote.Backend {
	case config.RemoteFirestore:
		ch, err := fsremote.Dial(ctx, cfg.Remote.Firestore, logger)
		if err != nil {
			return nil, nil, err
		}
		return ch, func() { _ = ch.Close() }, nil
	default:
		ch, err := wsremote.New(cfg.Remote.Websocket, nil, logger)
		if err != nil {
			return nil, nil, err
		}
		return ch, func() {}, nil
	}
}

// ProvideTokenSetter returns nil for channels that do not take bearer tokens.
func ProvideTokenSetter(ch remote.Channel) client.TokenSetter {
	if ts, ok := ch.(client.TokenSetter); ok {
		return ts
	}
	return nil
}

func ProvideReconciler(cfg config.Config, store local.Store, ch remote.Channel, eventBus bus.EventBus, logger log.Log) (*reconciler.Reconciler, func()) {
	r := reconciler.New(cfg.Reconciler(), store, ch, eventBus, logger)
	return r, func() { _ = r.Close() }
}

func ProvideSessionManager(eventBus bus.EventBus, r *reconciler.Reconciler, logger log.Log) *session.Manager {
	return session.NewManager(eventBus, r, logger)
}

func ProvideCatalog(cfg config.Config, logger log.Log) *catalog.Client {
	return catalog.NewClient(cfg.Catalog, &http.Client{Timeout: cfg.Catalog.Timeout}, logger)
}

func ProvideClient(r *reconciler.Reconciler, sessions *session.Manager, products *catalog.Client, eventBus bus.EventBus, tokens client.TokenSetter, logger log.Log) (*client.Client, func()) {
	c := client.NewClient(r, sessions, products, eventBus, tokens, logger)
	return c, func() { _ = c.Close() }
}

func ProvideBackend(cfg config.Config, logger log.Log) (realtime.Backend, func(), error) {
	var backend realtime.Backend
	switch cfg.Server.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Server.RedisAddr})
		backend = realtime.NewRedisBackend(rdb, logger)
	default:
		backend = realtime.NewMemoryBackend()
	}
	return backend, func() { _ = backend.Close() }, nil
}

func ProvideDatabase(cfg config.Config, backend realtime.Backend, eventBus bus.EventBus, logger log.Log) *realtime.Database {
	return realtime.NewDatabase(backend, eventBus, realtime.Config{Shards: cfg.Server.Shards}, logger)
}

func ProvideVerifier(ctx context.Context, cfg config.Config) (server.Verifier, error) {
	auth := cfg.Server.Auth
	if auth.Mode != config.AuthFirebase {
		return server.NewStaticVerifier(auth.Tokens), nil
	}
	var opts []option.ClientOption
	if auth.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(auth.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: auth.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("injector: firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("injector: firebase auth: %w", err)
	}
	return server.NewFirebaseVerifier(authClient), nil
}

func ProvideServer(cfg config.Config, db *realtime.Database, verifier server.Verifier, logger log.Log) *server.Server {
	return server.New(cfg.Server.Config, db, verifier, logger)
}
