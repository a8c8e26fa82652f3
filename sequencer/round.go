package sequencer

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"runtime"
	"slices"
	"sort"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	stdgroth16 "github.com/consensys/gnark/std/recursion/groth16"
	"github.com/veilpay/rollup/circuits"
	"github.com/veilpay/rollup/circuits/aggregator"
	"github.com/veilpay/rollup/log"
	"github.com/veilpay/rollup/state"
	"github.com/veilpay/rollup/storage"
	"github.com/veilpay/rollup/types"
	"golang.org/x/sync/errgroup"
)

// Phase tags the stage a round is in.
type Phase string

const (
	// PhaseCollecting is the open window where admitted transfers gather
	// for the next round.
	PhaseCollecting Phase = "collecting"
	// PhaseOrdering fixes the batch order by arrival number.
	PhaseOrdering Phase = "ordering"
	// PhaseFolding re-checks every transfer against the round root and
	// folds the surviving proofs into the batch proof.
	PhaseFolding Phase = "folding"
	// PhaseCommitted is the terminal phase of a round whose transition was
	// appended to the ledger and whose batch artifact was stored.
	PhaseCommitted Phase = "committed"
	// PhaseRejected is the terminal phase of a round that produced no
	// transition. Its surviving transfers return to the queue and are
	// retried from a fresh Collecting window.
	PhaseRejected Phase = "rejected"
)

// phaseTransitions lists the legal moves of the round state machine.
var phaseTransitions = map[Phase][]Phase{
	PhaseCollecting: {PhaseOrdering, PhaseRejected},
	PhaseOrdering:   {PhaseFolding},
	PhaseFolding:    {PhaseCommitted, PhaseRejected},
}

// Round is one pass of the sequencer over the verified queue. Seq is the
// ledger sequence the round aims to commit and Root the root every folded
// transfer must have been proved against.
type Round struct {
	Seq     uint64
	Root    *big.Int
	Phase   Phase
	entries []*roundEntry
}

// advance moves the round to the next phase, panicking on a move the state
// machine does not allow.
func (r *Round) advance(next Phase) {
	for _, allowed := range phaseTransitions[r.Phase] {
		if allowed == next {
			r.Phase = next
			return
		}
	}
	panic(fmt.Sprintf("illegal round transition %s -> %s", r.Phase, next))
}

// roundEntry is one pulled transfer with the screening results of the folding
// phase attached. A non-nil reject drops the entry from the round.
type roundEntry struct {
	transfer  *storage.VerifiedTransfer
	key       []byte
	statement circuits.Statement[*big.Int]
	hash      *big.Int
	proof     groth16.Proof
	reject    error
}

// startRoundProcessor starts the background goroutine that watches the
// verified queue and runs a round once it holds a full batch, or once the
// collecting window of a partial batch exceeds the round deadline. The window
// opens with the first pending transfer and resets when the queue drains.
func (s *Sequencer) startRoundProcessor() error {
	const tickInterval = time.Second
	ticker := time.NewTicker(tickInterval)
	go func() {
		defer ticker.Stop()
		var opened time.Time
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				count := s.stg.CountVerifiedTransfers()
				if count == 0 {
					opened = time.Time{}
					continue
				}
				if opened.IsZero() {
					opened = time.Now()
				}
				if count < circuits.TransfersPerBatch && time.Since(opened) < s.cfg.RoundDeadline {
					continue
				}
				if err := s.runRound(); err != nil {
					log.Errorw(err, "round failed")
				}
				opened = time.Time{}
			}
		}
	}()
	return nil
}

// runRound drives one round through its phases. A round that cannot commit
// moves to Rejected: its dropped transfers are discarded for good, while
// transfers that survived folding return to the queue for the next round.
// Once past Collecting the round ignores shutdown and runs to the end.
func (s *Sequencer) runRound() error {
	startTime := time.Now()
	root, err := s.ledger.RootAsBigInt()
	if err != nil {
		return fmt.Errorf("failed to read the ledger root: %w", err)
	}
	round := &Round{Seq: s.ledger.Seq() + 1, Root: root, Phase: PhaseCollecting}

	transfers, keys, err := s.stg.PullVerifiedTransfers(circuits.TransfersPerBatch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to pull verified transfers: %w", err)
	}
	round.entries = make([]*roundEntry, len(transfers))
	for i := range transfers {
		round.entries[i] = &roundEntry{transfer: transfers[i], key: keys[i]}
	}

	round.advance(PhaseOrdering)
	orderEntries(round.entries)

	round.advance(PhaseFolding)
	s.foldEntries(round)

	survivors := make([]*roundEntry, 0, len(round.entries))
	for _, e := range round.entries {
		if e.reject == nil {
			survivors = append(survivors, e)
			continue
		}
		log.Warnw("transfer dropped from round",
			"round", round.Seq,
			"transfer", hex.EncodeToString(e.key),
			"reason", e.reject.Error())
		if err := s.stg.MarkVerifiedTransferDone(e.key); err != nil {
			log.Errorw(err, "failed to discard dropped transfer")
		}
	}
	if len(survivors) == 0 {
		round.advance(PhaseRejected)
		log.Warnw("round rejected, no transfer survived folding", "round", round.Seq)
		return nil
	}

	batch, committed, err := s.commitRound(round, survivors)
	if err != nil && !committed {
		for _, e := range survivors {
			if rerr := s.stg.ReleaseVerifiedTransfer(e.key); rerr != nil {
				log.Errorw(rerr, "failed to return transfer to the queue")
			}
		}
		round.advance(PhaseRejected)
		log.Warnw("round rejected, surviving transfers returned to the queue",
			"round", round.Seq,
			"transfers", len(survivors),
			"error", err.Error())
		return nil
	}

	// the transition is on the ledger, the survivors are spent either way
	failedMarks := 0
	for _, e := range survivors {
		if merr := s.stg.MarkVerifiedTransferDone(e.key); merr != nil {
			failedMarks++
		}
	}
	if failedMarks > 0 {
		log.Warnw("could not mark all folded transfers done",
			"round", round.Seq, "count", failedMarks)
	}
	round.advance(PhaseCommitted)
	if err != nil {
		return fmt.Errorf("round %d committed but its batch was not stored: %w", round.Seq, err)
	}

	log.Infow("round committed",
		"round", round.Seq,
		"transfers", len(survivors),
		"dropped", len(round.entries)-len(survivors),
		"newRoot", batch.NewRoot.String(),
		"duration", time.Since(startTime).String())
	return nil
}

// orderEntries fixes the deterministic batch order: by arrival number, with
// the bytes of the first nullifier breaking ties.
func orderEntries(entries []*roundEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].transfer, entries[j].transfer
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return bytes.Compare(firstNullifier(a), firstNullifier(b)) < 0
	})
}

func firstNullifier(t *storage.VerifiedTransfer) []byte {
	if len(t.Nullifiers) == 0 || t.Nullifiers[0] == nil {
		return nil
	}
	return t.Nullifiers[0].Bytes()
}

// foldEntries screens every entry of the round in parallel and then resolves
// nullifier collisions across the round in batch order, keeping the first
// spender.
func (s *Sequencer) foldEntries(round *Round) {
	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())
	for _, e := range round.entries {
		g.Go(func() error {
			e.reject = s.screenFolded(round, e)
			return nil
		})
	}
	_ = g.Wait()
	resolveCollisions(round.entries)
}

// resolveCollisions walks the surviving entries in batch order and rejects any
// entry that respends a nullifier staged by an earlier one. A rejected entry
// stages nothing, so its other nullifiers stay spendable by later entries.
func resolveCollisions(entries []*roundEntry) {
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.reject != nil {
			continue
		}
		var staged []string
		for _, nf := range e.statement.Nullifiers {
			if nf.Sign() == 0 {
				continue
			}
			k := nf.String()
			if _, spent := seen[k]; spent || slices.Contains(staged, k) {
				e.reject = fmt.Errorf("nullifier %s already spent earlier in the round", nf.String())
				break
			}
			staged = append(staged, k)
		}
		if e.reject != nil {
			continue
		}
		for _, k := range staged {
			seen[k] = struct{}{}
		}
	}
}

// screenFolded re-checks one entry against the round: statement still parses,
// it was proved against the round root, the stored hash matches the
// statement, the inner proof verifies and no nullifier has been spent since
// admission. A proof that fails here would make the batch proof unsatisfiable,
// so screening drops the one entry instead of losing the round.
func (s *Sequencer) screenFolded(round *Round, e *roundEntry) error {
	st, err := e.transfer.Statement()
	if err != nil {
		return fmt.Errorf("malformed transfer: %w", err)
	}
	if st.Root.Cmp(round.Root) != 0 {
		return fmt.Errorf("transfer root %s is stale, round root is %s",
			st.Root.String(), round.Root.String())
	}
	hash := circuits.TransferHash(st)
	if e.transfer.TransferHash == nil || hash.Cmp(e.transfer.TransferHash.MathBigInt()) != 0 {
		return fmt.Errorf("stored transfer hash does not match the statement")
	}
	effects := false
	for _, nf := range st.Nullifiers {
		effects = effects || nf.Sign() != 0
	}
	for _, cm := range st.Commitments {
		effects = effects || cm.Sign() != 0
	}
	if !effects {
		return fmt.Errorf("transfer has no ledger effect")
	}

	proof, err := circuits.DecodeProof(ecc.BLS12_377, e.transfer.Proof)
	if err != nil {
		return fmt.Errorf("failed to decode the transfer proof: %w", err)
	}
	pubWitness, err := aggregator.TransferPublicWitness(hash)
	if err != nil {
		return fmt.Errorf("failed to build the public witness: %w", err)
	}
	if err := groth16.Verify(proof, s.transferVk, pubWitness,
		stdgroth16.GetNativeVerifierOptions(ecc.BW6_761.ScalarField(),
			ecc.BLS12_377.ScalarField()),
	); err != nil {
		return fmt.Errorf("transfer proof does not verify: %w", err)
	}

	for _, nf := range st.Nullifiers {
		if nf.Sign() == 0 {
			continue
		}
		spent, err := s.ledger.HasNullifier(nf)
		if err != nil {
			return fmt.Errorf("failed to check nullifier: %w", err)
		}
		if spent {
			return fmt.Errorf("nullifier %s is already spent", nf.String())
		}
	}

	e.statement = st
	e.hash = hash
	e.proof = proof
	return nil
}

// commitRound proves and appends the batch of survivors. The batch artifact,
// its proof and its attestation are all built against the previewed root
// before the append, so any failure up to and including the append leaves the
// ledger untouched and reports committed false. Once the append went through
// committed is true regardless of the batch store outcome.
func (s *Sequencer) commitRound(round *Round, survivors []*roundEntry) (*storage.Batch, bool, error) {
	var leaves, nullifiers, hashes []*big.Int
	proofs := make([]groth16.Proof, 0, len(survivors))
	effects := make([]*storage.BatchTransfer, 0, len(survivors))
	for _, e := range survivors {
		for _, cm := range e.statement.Commitments {
			if cm.Sign() != 0 {
				leaves = append(leaves, cm)
			}
		}
		for _, nf := range e.statement.Nullifiers {
			if nf.Sign() != 0 {
				nullifiers = append(nullifiers, nf)
			}
		}
		hashes = append(hashes, e.hash)
		proofs = append(proofs, e.proof)
		effects = append(effects, e.transfer.Effects())
	}

	newRoot, err := s.ledger.Preview(leaves)
	if err != nil {
		return nil, false, fmt.Errorf("failed to preview the root transition: %w", err)
	}
	assignment, err := aggregator.Assignment(round.Root, newRoot, hashes, proofs)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build the batch assignment: %w", err)
	}
	witness, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, false, fmt.Errorf("failed to build the batch witness: %w", err)
	}
	batchProof, err := groth16.Prove(s.aggregateCcs, s.aggregatePk, witness)
	if err != nil {
		return nil, false, fmt.Errorf("failed to prove the batch: %w", err)
	}
	encodedProof, err := circuits.EncodeProof(batchProof)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode the batch proof: %w", err)
	}

	batch := &storage.Batch{
		Seq:            round.Seq,
		OldRoot:        (*types.BigInt)(round.Root),
		NewRoot:        (*types.BigInt)(newRoot),
		BatchHash:      (*types.BigInt)(circuits.BatchHash(round.Root, newRoot, hashes)),
		ValidTransfers: len(survivors),
		Transfers:      effects,
		Proof:          encodedProof,
	}
	if s.cfg.Signer != nil {
		digest, err := batch.Digest()
		if err != nil {
			return nil, false, fmt.Errorf("failed to digest the batch: %w", err)
		}
		signature, err := s.cfg.Signer.SignEthereum(digest)
		if err != nil {
			return nil, false, fmt.Errorf("failed to attest the batch: %w", err)
		}
		batch.Attestation = signature
	}

	transition, err := s.ledger.AppendBatch(leaves, nullifiers)
	if err != nil {
		if errors.Is(err, state.ErrTreeFull) || errors.Is(err, state.ErrDuplicateNullifier) {
			return nil, false, fmt.Errorf("ledger refused the batch: %w", err)
		}
		return nil, false, fmt.Errorf("failed to append the batch: %w", err)
	}
	if transition.Seq != round.Seq || transition.NewRoot.Cmp(newRoot) != 0 {
		panic(fmt.Sprintf("committed transition %d -> %s does not match the proved one %d -> %s",
			transition.Seq, transition.NewRoot.String(), round.Seq, newRoot.String()))
	}

	if err := s.stg.PushBatch(batch); err != nil {
		return batch, true, fmt.Errorf("failed to store the committed batch: %w", err)
	}
	return batch, true, nil
}
