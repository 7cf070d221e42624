package catalogservice

import (
	"log/slog"

	httpadapter "circulate/contexts/circulation/catalog-service/adapters/http"
	"circulate/contexts/circulation/catalog-service/adapters/memory"
	"circulate/contexts/circulation/catalog-service/application"
	"circulate/contexts/circulation/catalog-service/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Service application.Service
	Store   *memory.Store
}

type Dependencies struct {
	Books       ports.BookStore
	Access      ports.CapabilityChecker
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Logger      *slog.Logger
}

func NewModule(deps Dependencies) Module {
	service := application.Service{
		Books:  deps.Books,
		Access: deps.Access,
		Clock:  deps.Clock,
		IDGen:  deps.IDGenerator,
		Logger: deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Service: service,
			Logger:  deps.Logger,
		},
		Service: service,
	}
}

// NewInMemoryModule wires the catalog against its memory store; used by tests
// and local development.
func NewInMemoryModule(access ports.CapabilityChecker, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Books:       store,
		Access:      access,
		Clock:       store,
		IDGenerator: store,
		Logger:      logger,
	})
	module.Store = store
	return module
}
