package circuits

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/veilpay/rollup/log"
)

// BaseDir is the path where the circuit artifact cache is expected to be
// found. If the artifacts are not found there, they will be compiled and
// stored. It can be set to a different path if needed from other packages,
// before the first LoadAll call. Defaults to the env var ROLLUP_ARTIFACTS_DIR
// or the user home directory.
var BaseDir string

func init() {
	// if the ROLLUP_ARTIFACTS_DIR environment variable is set, it will be used
	// as the BaseDir, otherwise it will use the user home directory
	if dir := os.Getenv("ROLLUP_ARTIFACTS_DIR"); dir != "" {
		BaseDir = dir
	} else {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			log.Warnf("unable to access user home directory, using temporary directory: %v", err)
			BaseDir = filepath.Join(os.TempDir(), "rollup-artifacts")
		} else {
			BaseDir = filepath.Join(home, ".cache", "rollup-artifacts")
		}
	}
}

// CircuitArtifacts is a struct that holds the artifacts of a zkSNARK circuit
// (definition, proving and verification key). The first LoadAll call compiles
// the circuit and runs the Groth16 setup, persisting the results under
// BaseDir; later calls, and later runs, read them back from disk. Artifacts
// of circuits that verify each other are only coherent when produced
// together, so the cache directory is managed as a unit: wipe the whole
// directory to force a recompile, never single files.
type CircuitArtifacts struct {
	name    string
	curve   ecc.ID
	compile func() (constraint.ConstraintSystem, error)

	mtx sync.Mutex
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// NewCircuitArtifacts creates a new CircuitArtifacts struct for the circuit
// with the provided cache name, native curve and compile function. Nothing is
// compiled or loaded until LoadAll is called.
func NewCircuitArtifacts(name string, curve ecc.ID, compile func() (constraint.ConstraintSystem, error)) *CircuitArtifacts {
	return &CircuitArtifacts{
		name:    name,
		curve:   curve,
		compile: compile,
	}
}

// LoadAll method loads the circuit artifacts into memory, reading them from
// the disk cache when present or compiling the circuit otherwise. It is safe
// to call from multiple goroutines and returns immediately once the
// artifacts are loaded.
func (ca *CircuitArtifacts) LoadAll() error {
	ca.mtx.Lock()
	defer ca.mtx.Unlock()
	if ca.ccs != nil {
		return nil
	}
	if err := os.MkdirAll(BaseDir, 0o755); err != nil {
		return fmt.Errorf("error creating artifact cache directory: %w", err)
	}
	if err := ca.loadFromCache(); err == nil {
		log.Debugw("circuit artifacts loaded from cache", "circuit", ca.name, "dir", BaseDir)
		return nil
	}
	log.Infow("compiling circuit, this can take a while", "circuit", ca.name, "curve", ca.curve.String())
	ccs, err := ca.compile()
	if err != nil {
		return fmt.Errorf("error compiling %s circuit: %w", ca.name, err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return fmt.Errorf("error generating %s circuit keys: %w", ca.name, err)
	}
	if err := StoreConstraintSystem(ccs, ca.path("ccs")); err != nil {
		return fmt.Errorf("error storing %s constraint system: %w", ca.name, err)
	}
	if err := StoreProvingKey(pk, ca.path("pk")); err != nil {
		return fmt.Errorf("error storing %s proving key: %w", ca.name, err)
	}
	if err := StoreVerificationKey(vk, ca.path("vk")); err != nil {
		return fmt.Errorf("error storing %s verification key: %w", ca.name, err)
	}
	ca.ccs, ca.pk, ca.vk = ccs, pk, vk
	log.Infow("circuit compiled and cached", "circuit", ca.name,
		"constraints", ccs.GetNbConstraints(), "dir", BaseDir)
	return nil
}

func (ca *CircuitArtifacts) path(ext string) string {
	return filepath.Join(BaseDir, fmt.Sprintf("%s.%s", ca.name, ext))
}

func (ca *CircuitArtifacts) loadFromCache() error {
	ccs, err := LoadConstraintSystem(ca.curve, ca.path("ccs"))
	if err != nil {
		return err
	}
	pk, err := LoadProvingKey(ca.curve, ca.path("pk"))
	if err != nil {
		return err
	}
	vk, err := LoadVerificationKey(ca.curve, ca.path("vk"))
	if err != nil {
		return err
	}
	ca.ccs, ca.pk, ca.vk = ccs, pk, vk
	return nil
}

// CircuitDefinition returns the compiled constraint system. If LoadAll has
// not been called yet, it returns nil.
func (ca *CircuitArtifacts) CircuitDefinition() constraint.ConstraintSystem {
	ca.mtx.Lock()
	defer ca.mtx.Unlock()
	return ca.ccs
}

// ProvingKey returns the proving key. If LoadAll has not been called yet, it
// returns nil.
func (ca *CircuitArtifacts) ProvingKey() groth16.ProvingKey {
	ca.mtx.Lock()
	defer ca.mtx.Unlock()
	return ca.pk
}

// VerifyingKey returns the verification key. If LoadAll has not been called
// yet, it returns nil.
func (ca *CircuitArtifacts) VerifyingKey() groth16.VerifyingKey {
	ca.mtx.Lock()
	defer ca.mtx.Unlock()
	return ca.vk
}
