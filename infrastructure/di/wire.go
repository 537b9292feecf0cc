//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"ailego/infrastructure/config"

	"github.com/google/wire"
)

// ConfigProviders provides the logger and observability shared by every layer
var ConfigProviders = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideTracer,
)

// InfrastructureProviders provides the AWS clients, the remote store and the
// outbound notification adapters
var InfrastructureProviders = wire.NewSet(
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideRemoteStore,
	ProvideConnectionStore,
	ProvideEventPublisher,
	ProvideViewNotifier,
)

// ApplicationProviders provides the sessions and the buses
var ApplicationProviders = wire.NewSet(
	ProvideTemplates,
	ProvideSessionManager,
	ProvideCommandBus,
	ProvideQueryBus,
)

// InterfaceProviders provides the HTTP surface
var InterfaceProviders = wire.NewSet(
	ProvideErrorHandler,
	ProvideIdentityVerifier,
	ProvideRateLimiter,
	ProvideReadinessCheck,
	ProvideRouter,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ConfigProviders,
	InfrastructureProviders,
	ApplicationProviders,
	InterfaceProviders,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
