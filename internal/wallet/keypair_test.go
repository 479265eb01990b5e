package wallet

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/solana"
)

func testKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{3}, ed25519.SeedSize))
}

func TestKeypairWallet_ConnectAndSign(t *testing.T) {
	w, err := NewKeypairWallet(testKey(), nil)
	require.NoError(t, err)

	pub, err := w.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey(), pub)
	assert.NoError(t, solana.ValidatePublicKey(pub.String()))

	msg, err := solana.NewTransferMessage(pub, solana.MustPublicKey("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"), 1000, solana.Hash{9})
	require.NoError(t, err)
	tx := solana.NewTransaction(msg)

	require.NoError(t, w.SignTransaction(context.Background(), tx))
	raw, err := tx.Serialize()
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pub[:]), msg.Serialize(), raw[1:65]))
}

func TestKeypairWallet_Rejected(t *testing.T) {
	reject := func(context.Context, string) bool { return false }
	w, err := NewKeypairWallet(testKey(), reject)
	require.NoError(t, err)

	_, err = w.Connect(context.Background())
	assert.True(t, errors.Is(err, domain.ErrUserRejected))

	msg, err := solana.NewTransferMessage(w.PublicKey(), solana.MustPublicKey("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"), 1, solana.Hash{})
	require.NoError(t, err)
	err = w.SignTransaction(context.Background(), solana.NewTransaction(msg))
	assert.True(t, errors.Is(err, domain.ErrUserRejected))
}

func TestLoadKeypairFile(t *testing.T) {
	key := testKey()
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	w, err := LoadKeypairFile(path, nil)
	require.NoError(t, err)
	pub := w.PublicKey()
	assert.Equal(t, []byte(key.Public().(ed25519.PublicKey)), pub[:])

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[1,2,3]`), 0o600))
	_, err = LoadKeypairFile(bad, nil)
	assert.Error(t, err)
}

func TestProviders(t *testing.T) {
	_, err := NotInstalled.Detect()
	assert.ErrorIs(t, err, domain.ErrWalletNotInstalled)

	w, err := NewKeypairWallet(testKey(), nil)
	require.NoError(t, err)
	got, err := Installed(w).Detect()
	require.NoError(t, err)
	assert.Same(t, w, got)
}
