package service

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
	"go.vocdoni.io/dvote/db/metadb"
)

func TestAPIService(t *testing.T) {
	c := qt.New(t)

	// Setup storage and ledger
	store := storage.New(metadb.NewTest(t))
	defer store.Close()
	ledger, err := state.New(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	defer func() { _ = ledger.Close() }()

	// Create API service with a random available port
	apiService := NewAPI(store, ledger, "127.0.0.1", 0) // Port 0 lets the OS choose an available port

	// Start service in background
	ctx := context.Background()

	err = apiService.Start(ctx)
	c.Assert(err, qt.IsNil)
	defer apiService.Stop()
	c.Assert(apiService.Addr(), qt.Not(qt.IsNil))

	// Give the service time to start
	time.Sleep(time.Second)

	// Test stopping and restarting
	apiService.Stop()
	err = apiService.Start(ctx)
	c.Assert(err, qt.IsNil)

	// Test starting an already running service
	err = apiService.Start(ctx)
	c.Assert(err, qt.ErrorMatches, "service already running")
}
