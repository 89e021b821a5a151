//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/cartsync/internal/config"
	"github.com/zeusync/cartsync/internal/server"
	"github.com/zeusync/cartsync/sdk/go/client"
)

func InitializeClient(ctx context.Context, cfg config.Config) (*client.Client, func(), error) {
	wire.Build(ClientSet)
	return nil, nil, nil
}

func InitializeServer(ctx context.Context, cfg config.Config) (*server.Server, func(), error) {
	wire.Build(ServerSet)
	return nil, nil, nil
}
