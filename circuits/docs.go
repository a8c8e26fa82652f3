package circuits

// The circuits package contains the circuits used by the rollup. The main goal
// of these circuits is to provide a verifiable way to prove a valid shielded
// transfer without disclosing the notes being spent, their owners or their
// values, and to compress a whole batch of such proofs into a single one.
// To achieve that goal, the circuits are used following these steps:
//  1. The client proves that a transfer is valid (the spent notes exist in the
//     commitment tree, their nullifiers are well formed, value is conserved
//     and the spender knows the spend key) using the Transfer circuit.
//  2. The sequencer verifies each transfer proof natively, orders the valid
//     ones into a batch and folds them into a single proof using the
//     Aggregator circuit.
//  3. The verifier checks the single aggregated proof against the batch it
//     claims to cover, re-deriving the public statement on its own.
//
// The circuits are defined in the following way:
//
// +------------+
// |  Transfer  |  BLS12-377			<- native
// +------------+
//
// +------------+  BW6-761				<- native
// | Aggregator |  (BLS12-377 inside)	<- inner
// +------------+
//
// The commitment tree transition between batches is checked natively by the
// sequencer and re-derived independently by the verifier, so no further
// recursion layer is needed on top of the aggregator.
