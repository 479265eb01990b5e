package solana

import "context"

// Commitment levels accepted by the RPC node.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// RPCClient defines the Solana RPC HTTP calls used by the payment workflow
// and the server-side verifier.
type RPCClient interface {
	// GetLatestBlockhash returns a fresh blockhash to build a transaction against.
	GetLatestBlockhash(ctx context.Context) (*LatestBlockhash, error)

	// SendTransaction submits a signed wire transaction and returns its signature.
	SendTransaction(ctx context.Context, tx []byte) (string, error)

	// GetSignatureStatuses returns one status per signature, nil when unknown.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetTransaction retrieves a parsed transaction by signature. Returns nil if not found.
	GetTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)
}

// LatestBlockhash is the result of getLatestBlockhash.
type LatestBlockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// SignatureStatus is a single entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64
	Err                interface{}
	ConfirmationStatus string
}

// Reached reports whether the status satisfies the given commitment.
// Finalized implies confirmed which implies processed.
func (s *SignatureStatus) Reached(commitment string) bool {
	if s == nil {
		return false
	}
	rank := map[string]int{CommitmentProcessed: 1, CommitmentConfirmed: 2, CommitmentFinalized: 3}
	want, ok := rank[commitment]
	if !ok {
		want = rank[CommitmentConfirmed]
	}
	return rank[s.ConfirmationStatus] >= want
}

// ParsedTransaction represents a transaction fetched with jsonParsed encoding.
type ParsedTransaction struct {
	Slot      int64
	Signature string
	BlockTime int64 // Unix timestamp (seconds)
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err          interface{}
	Fee          uint64
	PreBalances  []uint64
	PostBalances []uint64
	LogMessages  []string
}

// TransactionMessage contains the parsed transaction message.
type TransactionMessage struct {
	AccountKeys  []string
	Instructions []ParsedInstruction
}

// ParsedInstruction is an instruction as decoded by the RPC node.
// Program and Type are empty for instructions the node could not parse.
type ParsedInstruction struct {
	Program   string
	ProgramID string
	Type      string
	Info      map[string]interface{}
}

// Transfers returns the System Program transfer instructions of the message.
func (m *TransactionMessage) Transfers() []Transfer {
	if m == nil {
		return nil
	}
	var out []Transfer
	for _, ix := range m.Instructions {
		if ix.ProgramID != SystemProgramID.String() || ix.Type != "transfer" {
			continue
		}
		t, ok := transferFromInfo(ix.Info)
		if ok {
			out = append(out, t)
		}
	}
	return out
}

// Transfer is a decoded System Program transfer.
type Transfer struct {
	Source      string
	Destination string
	Lamports    uint64
}

func transferFromInfo(info map[string]interface{}) (Transfer, bool) {
	src, _ := info["source"].(string)
	dst, _ := info["destination"].(string)
	if src == "" || dst == "" {
		return Transfer{}, false
	}
	// encoding/json decodes numbers into float64; lamport amounts stay well under 2^53.
	lamports, ok := info["lamports"].(float64)
	if !ok || lamports < 0 {
		return Transfer{}, false
	}
	return Transfer{Source: src, Destination: dst, Lamports: uint64(lamports)}, true
}
