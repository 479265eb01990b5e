// Package payment runs the Tuzemoon workflow: pay a fixed SOL fee from the
// user's wallet, have the server verify it on-chain, then feature the meme.
package payment

import (
	"time"

	"tuzemoon/internal/solana"
)

// State is a step of the workflow.
type State string

const (
	StateIdle              State = "idle"
	StateWalletConnecting  State = "wallet_connecting"
	StateWalletConnected   State = "wallet_connected"
	StateAwaitingSignature State = "awaiting_signature"
	StateSubmitted         State = "submitted"
	StateConfirming        State = "confirming"
	StateVerified          State = "verified"
	StateFailed            State = "failed"
)

// IsTerminal reports whether the workflow stops in s.
func (s State) IsTerminal() bool {
	return s == StateVerified || s == StateFailed
}

// allowed lists the legal successors of each state. Failed is reachable from
// every non-terminal state; Verified from Idle only through the admin bypass.
var allowed = map[State][]State{
	StateIdle:              {StateWalletConnecting, StateVerified},
	StateWalletConnecting:  {StateWalletConnected},
	StateWalletConnected:   {StateAwaitingSignature},
	StateAwaitingSignature: {StateSubmitted},
	StateSubmitted:         {StateConfirming},
	StateConfirming:        {StateVerified},
}

func canTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is reported to the OnTransition hook on every state change.
type Transition struct {
	AttemptID string
	UserID    string
	MemeID    int64
	From      State
	To        State
	Signature string // set once submitted
	Err       error  // set when To is StateFailed
	At        time.Time
}

// Result describes a finished run.
type Result struct {
	AttemptID     string
	State         State
	Signature     string
	PaymentID     string
	Wallet        solana.PublicKey
	FeaturedUntil time.Time
	AdminBypass   bool
}
