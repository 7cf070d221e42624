package lendingledger

import (
	"log/slog"
	"time"

	httpadapter "circulate/contexts/circulation/lending-ledger/adapters/http"
	"circulate/contexts/circulation/lending-ledger/adapters/memory"
	"circulate/contexts/circulation/lending-ledger/application"
	"circulate/contexts/circulation/lending-ledger/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Service application.Service
	Store   *memory.Store
}

type Dependencies struct {
	Loans                    ports.LoanStore
	Access                   ports.CapabilityChecker
	Outbox                   ports.OutboxWriter
	Clock                    ports.Clock
	IDGenerator              ports.IDGenerator
	LoanPeriod               time.Duration
	DailyFine                float64
	SingleLoanPerBook        bool
	DisableLoanEventEmission bool
	Logger                   *slog.Logger
}

func NewModule(deps Dependencies) Module {
	service := application.Service{
		Loans:                    deps.Loans,
		Access:                   deps.Access,
		Outbox:                   deps.Outbox,
		Clock:                    deps.Clock,
		IDGen:                    deps.IDGenerator,
		LoanPeriod:               deps.LoanPeriod,
		DailyFine:                deps.DailyFine,
		SingleLoanPerBook:        deps.SingleLoanPerBook,
		DisableLoanEventEmission: deps.DisableLoanEventEmission,
		Logger:                   deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Service: service,
			Logger:  deps.Logger,
		},
		Service: service,
	}
}

// NewInMemoryModule wires the ledger against its memory store; used by tests
// and local development.
func NewInMemoryModule(access ports.CapabilityChecker, logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Loans:             store,
		Access:            access,
		Outbox:            store,
		Clock:             store,
		IDGenerator:       store,
		LoanPeriod:        14 * 24 * time.Hour,
		DailyFine:         1,
		SingleLoanPerBook: true,
		Logger:            logger,
	})
	module.Store = store
	return module
}
