// Package wallet abstracts the user's Solana wallet: connecting to obtain the
// public key and approving/signing a transaction.
package wallet

import (
	"context"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/solana"
)

// DefaultInstallURL is where users without a wallet are sent.
const DefaultInstallURL = "https://phantom.app/"

// Wallet is a connected-or-connectable signer. Implementations return an error
// wrapping domain.ErrUserRejected when the user declines a prompt.
type Wallet interface {
	// Connect asks the user to share their public key.
	Connect(ctx context.Context) (solana.PublicKey, error)

	// SignTransaction asks the user to approve and sign tx in place.
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// Provider locates the wallet, reporting domain.ErrWalletNotInstalled when
// there is none.
type Provider interface {
	Detect() (Wallet, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() (Wallet, error)

// Detect implements Provider.
func (f ProviderFunc) Detect() (Wallet, error) { return f() }

// Installed returns a Provider that always finds w.
func Installed(w Wallet) Provider {
	return ProviderFunc(func() (Wallet, error) { return w, nil })
}

// NotInstalled is a Provider with no wallet available.
var NotInstalled Provider = ProviderFunc(func() (Wallet, error) {
	return nil, domain.ErrWalletNotInstalled
})
