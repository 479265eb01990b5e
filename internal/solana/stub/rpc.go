package stub

import (
	"context"
	"fmt"
	"sync"

	"tuzemoon/internal/solana"
)

// RPCClient implements solana.RPCClient for testing. Error hooks are consulted
// before the canned data; a nil hook means success.
type RPCClient struct {
	mu sync.Mutex

	Blockhash    string
	Transactions map[string]*solana.ParsedTransaction
	Statuses     map[string]*solana.SignatureStatus
	// DefaultStatus is reported for signatures missing from Statuses.
	DefaultStatus *solana.SignatureStatus

	// NextSignature is returned by SendTransaction; defaults to the id of the
	// submitted transaction when empty.
	NextSignature string

	BlockhashErr func(call int) error
	SendErr      func(call int) error
	StatusErr    func(call int) error
	TxErr        func(call int) error

	Sent  [][]byte
	calls map[string]int
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Blockhash:    "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
		Transactions: make(map[string]*solana.ParsedTransaction),
		Statuses:     make(map[string]*solana.SignatureStatus),
		calls:        make(map[string]int),
	}
}

// Calls returns how many times method was invoked.
func (c *RPCClient) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// TotalCalls returns the number of invocations of any method.
func (c *RPCClient) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

// SetStatus records the status reported for signature.
func (c *RPCClient) SetStatus(signature string, status *solana.SignatureStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[signature] = status
}

func (c *RPCClient) record(method string) int {
	c.calls[method]++
	return c.calls[method]
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (*solana.LatestBlockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.record("getLatestBlockhash")
	if c.BlockhashErr != nil {
		if err := c.BlockhashErr(n); err != nil {
			return nil, err
		}
	}
	return &solana.LatestBlockhash{Blockhash: c.Blockhash, LastValidBlockHeight: 1000}, nil
}

// SendTransaction stores the raw bytes and returns a signature.
func (c *RPCClient) SendTransaction(_ context.Context, tx []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.record("sendTransaction")
	if c.SendErr != nil {
		if err := c.SendErr(n); err != nil {
			return "", err
		}
	}
	c.Sent = append(c.Sent, append([]byte(nil), tx...))
	if c.NextSignature != "" {
		return c.NextSignature, nil
	}
	if len(tx) < 1+solana.SignatureSize {
		return "", fmt.Errorf("transaction too short")
	}
	var sig solana.Signature
	copy(sig[:], tx[1:1+solana.SignatureSize])
	return sig.String(), nil
}

// GetSignatureStatuses returns the configured statuses, nil for unknown ones.
func (c *RPCClient) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.record("getSignatureStatuses")
	if c.StatusErr != nil {
		if err := c.StatusErr(n); err != nil {
			return nil, err
		}
	}
	out := make([]*solana.SignatureStatus, len(signatures))
	for i, s := range signatures {
		st, ok := c.Statuses[s]
		if !ok {
			st = c.DefaultStatus
		}
		out[i] = st
	}
	return out, nil
}

// GetTransaction returns the stored transaction or nil.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.ParsedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.record("getTransaction")
	if c.TxErr != nil {
		if err := c.TxErr(n); err != nil {
			return nil, err
		}
	}
	return c.Transactions[signature], nil
}
