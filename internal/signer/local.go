// local.go - In-process secp256k1 signer standing in for an L1 wallet.

package signer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLen is r || s || v.
const SignatureLen = 65

var ErrInvalidSignature = errors.New("signer: invalid signature")

// Local holds a secp256k1 key and signs EIP-191 personal messages with it.
type Local struct {
	key     *secp256k1.PrivateKey
	address common.Address
}

// NewLocal wraps an existing key.
func NewLocal(key *secp256k1.PrivateKey) *Local {
	return &Local{key: key, address: PubkeyToAddress(key.PubKey())}
}

// Generate creates a signer with a fresh random key.
func Generate() (*Local, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return NewLocal(key), nil
}

// FromHex loads a 32-byte hex private key.
func FromHex(s string) (*Local, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("signer: bad key hex: %w", err)
	}
	if len(b) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("signer: key must be %d bytes", secp256k1.PrivKeyBytesLen)
	}
	return NewLocal(secp256k1.PrivKeyFromBytes(b)), nil
}

// Hex returns the private key for backup.
func (l *Local) Hex() string { return hexutil.Encode(l.key.Serialize()) }

func (l *Local) Address(context.Context) (common.Address, error) {
	return l.address, nil
}

// SignMessage signs the EIP-191 hash of message and returns r || s || v with
// v in {27, 28}.
func (l *Local) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	compact := ecdsa.SignCompact(l.key, TextHash(message), false)
	sig := make([]byte, SignatureLen)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig, nil
}

// PubkeyToAddress returns the Ethereum address of pub.
func PubkeyToAddress(pub *secp256k1.PublicKey) common.Address {
	raw := pub.SerializeUncompressed()
	return common.BytesToAddress(crypto.Keccak256(raw[1:])[12:])
}

// TextHash is keccak256("\x19Ethereum Signed Message:\n" + len + message).
func TextHash(message []byte) []byte {
	prefix := "\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message))
	return crypto.Keccak256([]byte(prefix), message)
}

// RecoverAddress returns the address that produced sig over message.
func RecoverAddress(message, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLen || (sig[64] != 27 && sig[64] != 28) {
		return common.Address{}, ErrInvalidSignature
	}
	compact := make([]byte, SignatureLen)
	compact[0] = sig[64]
	copy(compact[1:], sig[:64])
	pub, _, err := ecdsa.RecoverCompact(compact, TextHash(message))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return PubkeyToAddress(pub), nil
}
