package solana

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// systemTransferIndex is the System Program instruction discriminator for Transfer.
const systemTransferIndex uint32 = 2

// MessageHeader counts the signer and read-only accounts at the front of AccountKeys.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index into Message.AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is a legacy (unversioned) transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash Hash
	Instructions    []CompiledInstruction
}

// NewTransferMessage builds a single System Program transfer paid for by from.
// Account order: fee payer (writable signer), recipient (writable), system program (read-only).
func NewTransferMessage(from, to PublicKey, lamports uint64, blockhash Hash) (*Message, error) {
	if from == to {
		return nil, errors.New("transfer source and destination are the same account")
	}
	if lamports == 0 {
		return nil, errors.New("transfer amount must be positive")
	}

	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	return &Message{
		Header: MessageHeader{
			NumRequiredSignatures:       1,
			NumReadonlySignedAccounts:   0,
			NumReadonlyUnsignedAccounts: 1,
		},
		AccountKeys:     []PublicKey{from, to, SystemProgramID},
		RecentBlockhash: blockhash,
		Instructions: []CompiledInstruction{{
			ProgramIDIndex: 2,
			Accounts:       []uint8{0, 1},
			Data:           data,
		}},
	}, nil
}

// FeePayer returns the first account key.
func (m *Message) FeePayer() PublicKey {
	if len(m.AccountKeys) == 0 {
		return PublicKey{}
	}
	return m.AccountKeys[0]
}

// Serialize encodes the message in the legacy wire format. These bytes are
// what every required signer signs.
func (m *Message) Serialize() []byte {
	buf := make([]byte, 0, 3+1+len(m.AccountKeys)*PublicKeySize+HashSize+64)
	buf = append(buf,
		m.Header.NumRequiredSignatures,
		m.Header.NumReadonlySignedAccounts,
		m.Header.NumReadonlyUnsignedAccounts,
	)

	buf = appendCompactU16(buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf = append(buf, k[:]...)
	}

	buf = append(buf, m.RecentBlockhash[:]...)

	buf = appendCompactU16(buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf = append(buf, ix.ProgramIDIndex)
		buf = appendCompactU16(buf, len(ix.Accounts))
		buf = append(buf, ix.Accounts...)
		buf = appendCompactU16(buf, len(ix.Data))
		buf = append(buf, ix.Data...)
	}
	return buf
}

// Transaction is a message plus one signature per required signer.
type Transaction struct {
	Signatures []Signature
	Message    *Message
}

// NewTransaction wraps a message with zeroed signature slots.
func NewTransaction(m *Message) *Transaction {
	return &Transaction{
		Signatures: make([]Signature, m.Header.NumRequiredSignatures),
		Message:    m,
	}
}

// SetSignature places sig into the slot of signer.
func (t *Transaction) SetSignature(signer PublicKey, sig Signature) error {
	n := int(t.Message.Header.NumRequiredSignatures)
	for i := 0; i < n && i < len(t.Message.AccountKeys); i++ {
		if t.Message.AccountKeys[i] == signer {
			t.Signatures[i] = sig
			return nil
		}
	}
	return fmt.Errorf("%s is not a required signer", signer)
}

// ID returns the transaction id, which is the fee payer's signature.
func (t *Transaction) ID() string {
	if len(t.Signatures) == 0 {
		return ""
	}
	return t.Signatures[0].String()
}

// Serialize encodes the signed transaction for sendTransaction.
func (t *Transaction) Serialize() ([]byte, error) {
	if len(t.Signatures) != int(t.Message.Header.NumRequiredSignatures) {
		return nil, fmt.Errorf("expected %d signatures, got %d",
			t.Message.Header.NumRequiredSignatures, len(t.Signatures))
	}
	var zero Signature
	for i, s := range t.Signatures {
		if s == zero {
			return nil, fmt.Errorf("signature %d is missing", i)
		}
	}

	msg := t.Message.Serialize()
	buf := make([]byte, 0, 1+len(t.Signatures)*SignatureSize+len(msg))
	buf = appendCompactU16(buf, len(t.Signatures))
	for _, s := range t.Signatures {
		buf = append(buf, s[:]...)
	}
	return append(buf, msg...), nil
}

// appendCompactU16 writes n using the shortvec encoding: 7 bits per byte,
// high bit set on every byte except the last.
func appendCompactU16(buf []byte, n int) []byte {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}
