package di

import (
	"ailego/application/commands/bus"
	"ailego/application/ports"
	querybus "ailego/application/queries/bus"
	"ailego/application/sessions"
	"ailego/infrastructure/config"
	"ailego/infrastructure/persistence/dynamodb"
	"ailego/interfaces/http/rest/middleware"
	"ailego/pkg/observability"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Store       ports.RemoteStore
	Sessions    *sessions.Manager
	CommandBus  *bus.CommandBus
	QueryBus    *querybus.QueryBus
	Router      *chi.Mux
	Metrics     *observability.Collector
	Connections *dynamodb.ConnectionStore
	Verifier    middleware.Verifier
}
