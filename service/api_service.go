package service

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/veilpay/rollup/api"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
)

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	storage *storage.Storage
	ledger  *state.Store
	api     *api.API
	mu      sync.Mutex
	cancel  context.CancelFunc
	host    string
	port    int
}

// NewAPI creates a new APIService instance serving the given storage and
// ledger.
func NewAPI(storage *storage.Storage, ledger *state.Store, host string, port int) *APIService {
	return &APIService{
		storage: storage,
		ledger:  ledger,
		host:    host,
		port:    port,
	}
}

// Start begins the API server. It returns an error if the service
// is already running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}

	_, as.cancel = context.WithCancel(ctx)

	// Create API instance with existing storage and ledger
	var err error
	as.api, err = api.New(&api.APIConfig{
		Host:    as.host,
		Port:    as.port,
		Storage: as.storage,
		Ledger:  as.ledger,
	})
	if err != nil {
		as.cancel = nil
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop halts the API server. The storage and ledger stay open, their owner
// closes them.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		as.cancel()
		as.cancel = nil
	}
	if as.api != nil {
		_ = as.api.Stop(context.Background())
		as.api = nil
	}
}

// Addr returns the bound address of the API server, nil when stopped.
func (as *APIService) Addr() net.Addr {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.api == nil {
		return nil
	}
	return as.api.Addr()
}

// HostPort returns the host and port the API server was configured with.
func (as *APIService) HostPort() (string, int) {
	return as.host, as.port
}
