package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/solana"
)

// Approver is asked before the wallet connects or signs. Returning false is a
// user rejection.
type Approver func(ctx context.Context, prompt string) bool

// AutoApprove approves every prompt.
func AutoApprove(context.Context, string) bool { return true }

// KeypairWallet signs with a local ed25519 keypair, as stored by the Solana CLI.
type KeypairWallet struct {
	key     ed25519.PrivateKey
	pub     solana.PublicKey
	approve Approver
}

// NewKeypairWallet wraps a 64-byte ed25519 private key.
func NewKeypairWallet(key ed25519.PrivateKey, approve Approver) (*KeypairWallet, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair: expected %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	if approve == nil {
		approve = AutoApprove
	}
	w := &KeypairWallet{key: key, approve: approve}
	copy(w.pub[:], key.Public().(ed25519.PublicKey))
	return w, nil
}

// LoadKeypairFile reads a Solana CLI keypair file: a JSON array of 64 bytes.
func LoadKeypairFile(path string, approve Approver) (*KeypairWallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	var raw []byte
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	for _, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse keypair %s: byte out of range: %d", path, v)
		}
		raw = append(raw, byte(v))
	}
	w, err := NewKeypairWallet(ed25519.PrivateKey(raw), approve)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	// The stored public half must match the seed.
	if string(raw[32:]) != string(w.pub[:]) {
		return nil, fmt.Errorf("%s: public key does not match private key", path)
	}
	return w, nil
}

// PublicKey returns the wallet address without prompting.
func (w *KeypairWallet) PublicKey() solana.PublicKey { return w.pub }

// Connect implements Wallet.
func (w *KeypairWallet) Connect(ctx context.Context) (solana.PublicKey, error) {
	if !w.approve(ctx, fmt.Sprintf("Connect wallet %s?", w.pub)) {
		return solana.PublicKey{}, fmt.Errorf("connect: %w", domain.ErrUserRejected)
	}
	return w.pub, nil
}

// SignTransaction implements Wallet.
func (w *KeypairWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	prompt := fmt.Sprintf("Sign transaction from %s?", tx.Message.FeePayer())
	if !w.approve(ctx, prompt) {
		return fmt.Errorf("sign: %w", domain.ErrUserRejected)
	}
	var sig solana.Signature
	copy(sig[:], ed25519.Sign(w.key, tx.Message.Serialize()))
	return tx.SetSignature(w.pub, sig)
}
