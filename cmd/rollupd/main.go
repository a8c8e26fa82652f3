package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/veilpay/rollup/crypto/ethereum"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/sequencer"
	"github.com/veilpay/rollup/service"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/verifier"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
)

func main() {
	dataDir := flag.String("dataDir", defaultDataDir(), "directory where the databases live")
	host := flag.String("host", "0.0.0.0", "API host to bind")
	port := flag.Int("port", 9090, "API port to bind")
	roundDeadline := flag.Duration("roundDeadline", 30*time.Second,
		"how long a round waits for transfers before closing short of a full batch")
	allowMints := flag.Bool("allowMints", true, "accept minting transfers backed by deposit tickets")
	operatorKey := flag.String("operatorKey", "", "hex private key used to attest batches, random when empty")
	artifactsTimeout := flag.Duration("artifactsTimeout", 30*time.Minute,
		"maximum wait for circuit artifact preparation on first run")
	logLevel := flag.String("logLevel", "info", "log level (debug, info, warn, error)")

	flag.Parse()
	log.Init(*logLevel, "stdout", nil)

	// The first run compiles both circuits, which takes a while. Nothing is
	// served until the artifacts are ready.
	log.Infow("preparing circuit artifacts", "timeout", artifactsTimeout.String())
	if err := service.PrepareArtifacts(*artifactsTimeout); err != nil {
		log.Fatalf("failed to prepare circuit artifacts: %v", err)
	}

	stgDB, err := metadb.New(db.TypePebble, filepath.Join(*dataDir, "storage"))
	if err != nil {
		log.Fatalf("failed to open the storage database: %v", err)
	}
	stg := storage.New(stgDB)

	ledgerDB, err := metadb.New(db.TypePebble, filepath.Join(*dataDir, "ledger"))
	if err != nil {
		log.Fatalf("failed to open the ledger database: %v", err)
	}
	ledger, err := state.New(ledgerDB)
	if err != nil {
		log.Fatalf("failed to load the ledger: %v", err)
	}

	// The verifier replays every batch on its own replica of the ledger, so
	// it gets a separate database.
	replicaDB, err := metadb.New(db.TypePebble, filepath.Join(*dataDir, "replica"))
	if err != nil {
		log.Fatalf("failed to open the replica database: %v", err)
	}
	replica, err := state.New(replicaDB)
	if err != nil {
		log.Fatalf("failed to load the ledger replica: %v", err)
	}

	signer := ethereum.NewSignKeys()
	if *operatorKey != "" {
		err = signer.AddHexKey(*operatorKey)
	} else {
		err = signer.Generate()
	}
	if err != nil {
		log.Fatalf("failed to load the operator key: %v", err)
	}
	log.Infow("operator key ready", "address", signer.AddressString())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sequencerService := service.NewSequencer(stg, ledger, sequencer.Config{
		RoundDeadline:      *roundDeadline,
		Signer:             signer,
		AllowSupplyChanges: *allowMints,
	})
	if err := sequencerService.Start(ctx); err != nil {
		log.Fatalf("failed to start the sequencer: %v", err)
	}

	verifierService := service.NewVerifier(stg, replica, verifier.Config{
		Operator: signer.Address(),
	})
	if err := verifierService.Start(ctx); err != nil {
		log.Fatalf("failed to start the verifier: %v", err)
	}

	apiService := service.NewAPI(stg, ledger, *host, *port)
	if err := apiService.Start(ctx); err != nil {
		log.Fatalf("failed to start the API: %v", err)
	}
	log.Infow("rollup node running", "api", apiService.Addr().String(), "dataDir", *dataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("shutting down", "signal", sig.String())

	apiService.Stop()
	sequencerService.Stop()
	verifierService.Stop()
	cancel()

	stg.Close()
	if err := ledger.Close(); err != nil {
		log.Warnw("failed to close the ledger", "error", err.Error())
	}
	if err := replica.Close(); err != nil {
		log.Warnw("failed to close the ledger replica", "error", err.Error())
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "rollup")
	}
	return filepath.Join(home, ".rollup")
}
