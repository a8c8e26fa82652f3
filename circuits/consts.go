package circuits

import "github.com/veilpay/rollup/types"

// used across different circuits
const (
	InputsPerTransfer   = types.InputsPerTransfer
	OutputsPerTransfer  = types.OutputsPerTransfer
	TransfersPerBatch   = types.TransfersPerBatch
	StateProofMaxLevels = types.StateTreeMaxLevels
	ValueBits           = types.ValueBits
)
