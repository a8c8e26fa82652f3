package types

const (
	// StateTreeMaxLevels is the number of levels in the commitment merkle tree.
	StateTreeMaxLevels = 32
	// InputsPerTransfer is the fixed number of input note slots per transfer.
	InputsPerTransfer = 2
	// OutputsPerTransfer is the fixed number of output note slots per transfer.
	OutputsPerTransfer = 2
	// TransfersPerBatch is the number of transfers folded into one batch proof.
	TransfersPerBatch = 10
	// ValueBits bounds every note value, fee and mint amount.
	ValueBits = 64
)
