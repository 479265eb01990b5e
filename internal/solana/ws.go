package solana

import "context"

// WSClient defines the Solana WebSocket subscription interface.
type WSClient interface {
	// WaitSignature subscribes to a signature and blocks until the node reports
	// it at the given commitment, the context ends or the connection drops.
	WaitSignature(ctx context.Context, signature, commitment string) (*SignatureNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification is the one-shot result of signatureSubscribe.
type SignatureNotification struct {
	Signature string
	Slot      int64
	Err       interface{}
}
