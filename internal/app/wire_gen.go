//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject

package app

import (
	"tradesync/internal/config"
)

func buildAppWithWire(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	appBuilder := provideAppBuilder(cfg, opts...)
	app, err := provideAppFromBuilder(appBuilder)
	if err != nil {
		return nil, err
	}
	return app, nil
}

type appBuilderDeps interface {
	Build() (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps) (*App, error) {
	return b.Build()
}

func provideAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	return NewAppBuilder(cfg, opts...)
}
