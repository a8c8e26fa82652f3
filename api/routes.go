package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// TransfersEndpoint is the endpoint for submitting a proved transfer
	TransfersEndpoint = "/transfers"
	// LedgerRootEndpoint is the endpoint to get the current commitment tree root
	LedgerRootEndpoint = "/ledger/root"
	// LedgerPathEndpoint is the endpoint to get a membership path by leaf index
	LeafIndexURLParam  = "leafIndex"
	LedgerPathEndpoint = "/ledger/paths/{" + LeafIndexURLParam + "}"
	// DepositsEndpoint is the endpoint for registering and listing deposit
	// tickets. A ticket authorizes a single minting transfer for its amount.
	DepositsEndpoint = "/deposits"
	// BatchesEndpoint is the endpoint to list committed batches
	BatchesEndpoint = "/batches"
	// BatchEndpoint is the endpoint to get a batch with its verdict and
	// settlement record, when the verifier has produced them.
	BatchSeqURLParam = "batchSeq"
	BatchEndpoint    = "/batches/{" + BatchSeqURLParam + "}"
)
