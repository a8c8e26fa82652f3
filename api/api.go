package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/state"
	stg "github.com/veilpay/rollup/storage"
)

// APIConfig type represents the configuration for the API HTTP server.
// It includes the host, port and the storage and ledger instances to serve.
type APIConfig struct {
	Host    string
	Port    int
	Storage *stg.Storage
	Ledger  *state.Store
}

// API type represents the API HTTP server.
type API struct {
	router  *chi.Mux
	server  *http.Server
	addr    net.Addr
	storage *stg.Storage
	ledger  *state.Store
}

// New creates a new API instance with the given configuration and starts the
// HTTP server. Port zero binds a random free port; Addr reports the bound
// address.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Storage == nil {
		return nil, fmt.Errorf("missing storage instance")
	}
	if conf.Ledger == nil {
		return nil, fmt.Errorf("missing ledger instance")
	}
	a := &API{
		storage: conf.Storage,
		ledger:  conf.Ledger,
	}
	a.initRouter()

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", conf.Host, conf.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind the API address: %w", err)
	}
	a.addr = ln.Addr()
	a.server = &http.Server{Handler: a.router}
	go func() {
		log.Infow("starting API server", "address", a.addr.String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to serve the API: %v", err)
		}
	}()
	return a, nil
}

// Addr returns the bound address of the API server.
func (a *API) Addr() net.Addr {
	return a.addr
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// Stop shuts the HTTP server down, waiting for in-flight requests.
func (a *API) Stop(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", TransfersEndpoint, "method", "POST")
	a.router.Post(TransfersEndpoint, a.submitTransfer)
	log.Infow("register handler", "endpoint", LedgerRootEndpoint, "method", "GET")
	a.router.Get(LedgerRootEndpoint, a.ledgerRoot)
	log.Infow("register handler", "endpoint", LedgerPathEndpoint, "method", "GET")
	a.router.Get(LedgerPathEndpoint, a.leafPath)
	log.Infow("register handler", "endpoint", DepositsEndpoint, "method", "POST")
	a.router.Post(DepositsEndpoint, a.registerDeposit)
	log.Infow("register handler", "endpoint", DepositsEndpoint, "method", "GET")
	a.router.Get(DepositsEndpoint, a.listDeposits)
	log.Infow("register handler", "endpoint", BatchesEndpoint, "method", "GET")
	a.router.Get(BatchesEndpoint, a.listBatches)
	log.Infow("register handler", "endpoint", BatchEndpoint, "method", "GET")
	a.router.Get(BatchEndpoint, a.batchStatus)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	// Register the API handlers
	a.registerHandlers()
}
