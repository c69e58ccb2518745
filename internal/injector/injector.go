//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"

	"github.com/zeusync/topicrpc/internal/app"
	"github.com/zeusync/topicrpc/internal/config"
	"github.com/zeusync/topicrpc/pkg/observability/log"
)

var appSet = wire.NewSet(
	app.ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	app.ProvideTransport,
	app.ProvideChannel,
	app.ProvideTracerProvider,
	app.ProvideRegistry,
	app.ProvideInterceptors,
	app.NewApp,
)

// InitializeApp connects a process described by cfg.
func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	wire.Build(appSet)
	return nil, nil, nil
}
