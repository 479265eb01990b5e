package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"testing"
)

func TestAppendCompactU16(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{255, []byte{0xff, 0x01}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{65535, []byte{0xff, 0xff, 0x03}},
	}
	for _, tc := range cases {
		got := appendCompactU16(nil, tc.n)
		if !bytes.Equal(got, tc.want) {
			t.Errorf("compact-u16(%d): expected %x, got %x", tc.n, tc.want, got)
		}
	}
}

func newKey(t *testing.T, seed byte) (PublicKey, ed25519.PrivateKey) {
	t.Helper()
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	var pk PublicKey
	copy(pk[:], priv.Public().(ed25519.PublicKey))
	return pk, priv
}

func TestNewTransferMessage_Layout(t *testing.T) {
	from, _ := newKey(t, 1)
	to, _ := newKey(t, 2)
	var bh Hash
	bh[0] = 0xAB

	msg, err := NewTransferMessage(from, to, 100_000_000, bh)
	if err != nil {
		t.Fatalf("NewTransferMessage: %v", err)
	}

	raw := msg.Serialize()

	// header(3) + keys(1+3*32) + blockhash(32) + ixs(1) + ix(1+1+2+1+12)
	wantLen := 3 + 1 + 96 + 32 + 1 + 1 + 1 + 2 + 1 + 12
	if len(raw) != wantLen {
		t.Fatalf("expected %d bytes, got %d", wantLen, len(raw))
	}
	if !bytes.Equal(raw[:3], []byte{1, 0, 1}) {
		t.Errorf("unexpected header %v", raw[:3])
	}
	if raw[3] != 3 {
		t.Errorf("expected 3 account keys, got %d", raw[3])
	}
	if !bytes.Equal(raw[4:36], from[:]) {
		t.Error("fee payer must be the first account key")
	}
	if !bytes.Equal(raw[36:68], to[:]) {
		t.Error("recipient must be the second account key")
	}
	if !bytes.Equal(raw[68:100], SystemProgramID[:]) {
		t.Error("system program must be the third account key")
	}
	if raw[100] != 0xAB {
		t.Error("blockhash not serialized after the account keys")
	}

	ix := raw[132:]
	if ix[0] != 1 {
		t.Fatalf("expected 1 instruction, got %d", ix[0])
	}
	if ix[1] != 2 {
		t.Errorf("expected program index 2, got %d", ix[1])
	}
	if !bytes.Equal(ix[2:5], []byte{2, 0, 1}) {
		t.Errorf("unexpected account indexes %v", ix[2:5])
	}
	if ix[5] != 12 {
		t.Errorf("expected 12 data bytes, got %d", ix[5])
	}
	data := ix[6:]
	if binary.LittleEndian.Uint32(data[:4]) != 2 {
		t.Errorf("expected transfer discriminator 2, got %d", binary.LittleEndian.Uint32(data[:4]))
	}
	if binary.LittleEndian.Uint64(data[4:]) != 100_000_000 {
		t.Errorf("unexpected lamports %d", binary.LittleEndian.Uint64(data[4:]))
	}
}

func TestNewTransferMessage_Rejects(t *testing.T) {
	from, _ := newKey(t, 1)
	to, _ := newKey(t, 2)

	if _, err := NewTransferMessage(from, from, 1, Hash{}); err == nil {
		t.Error("expected error for self transfer")
	}
	if _, err := NewTransferMessage(from, to, 0, Hash{}); err == nil {
		t.Error("expected error for zero amount")
	}
}

func TestTransaction_SignAndSerialize(t *testing.T) {
	from, priv := newKey(t, 1)
	to, _ := newKey(t, 2)

	msg, err := NewTransferMessage(from, to, 5000, Hash{1})
	if err != nil {
		t.Fatalf("NewTransferMessage: %v", err)
	}
	tx := NewTransaction(msg)

	if _, err := tx.Serialize(); err == nil {
		t.Fatal("expected error for unsigned transaction")
	}

	var sig Signature
	copy(sig[:], ed25519.Sign(priv, msg.Serialize()))
	if err := tx.SetSignature(to, sig); err == nil {
		t.Error("expected error when a non-signer signs")
	}
	if err := tx.SetSignature(from, sig); err != nil {
		t.Fatalf("SetSignature: %v", err)
	}

	raw, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if raw[0] != 1 {
		t.Errorf("expected 1 signature, got %d", raw[0])
	}
	if !bytes.Equal(raw[1:65], sig[:]) {
		t.Error("signature not serialized first")
	}
	if !bytes.Equal(raw[65:], msg.Serialize()) {
		t.Error("message bytes must follow the signatures")
	}
	if !ed25519.Verify(ed25519.PublicKey(from[:]), raw[65:], raw[1:65]) {
		t.Error("signature does not verify against serialized message")
	}
	if tx.ID() != sig.String() {
		t.Errorf("expected id %s, got %s", sig.String(), tx.ID())
	}
}

func TestParsePublicKey(t *testing.T) {
	pk, err := ParsePublicKey("11111111111111111111111111111111")
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if pk != SystemProgramID {
		t.Error("expected system program id")
	}
	if pk.String() != "11111111111111111111111111111111" {
		t.Errorf("round trip mismatch: %s", pk.String())
	}

	if _, err := ParsePublicKey("not-base58-0OIl"); err == nil {
		t.Error("expected error for invalid base58")
	}
	if _, err := ParsePublicKey("1111"); err == nil {
		t.Error("expected error for short key")
	}
}

func TestValidatePublicKey(t *testing.T) {
	pk, _ := newKey(t, 7)
	if err := ValidatePublicKey(pk.String()); err != nil {
		t.Errorf("expected generated wallet key to be valid: %v", err)
	}
	if err := ValidatePublicKey("abc"); err == nil {
		t.Error("expected error for malformed key")
	}
	if errors.Is(ValidatePublicKey(pk.String()), ErrOffCurve) {
		t.Error("wallet key reported off curve")
	}
}
