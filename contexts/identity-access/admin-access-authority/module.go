package adminaccessauthority

import (
	"log/slog"

	httpadapter "circulate/contexts/identity-access/admin-access-authority/adapters/http"
	"circulate/contexts/identity-access/admin-access-authority/adapters/memory"
	"circulate/contexts/identity-access/admin-access-authority/application"
	"circulate/contexts/identity-access/admin-access-authority/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Service application.Service
	Store   *memory.Store
}

type Dependencies struct {
	Grants ports.GrantStore
	Clock  ports.Clock
	Logger *slog.Logger
}

func NewModule(deps Dependencies) Module {
	service := application.Service{
		Grants: deps.Grants,
		Clock:  deps.Clock,
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

// NewInMemoryModule wires the authority against its memory store; used by
// tests and local development.
func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Grants: store,
		Clock:  store,
		Logger: logger,
	})
	module.Store = store
	return module
}
