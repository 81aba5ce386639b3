// keys.go - Privacy key derivation from wallet signatures.
//
// The view and spend keys are BN254 scalars derived by asking the L1 wallet to
// sign two fixed, human readable messages. Whoever can produce those signatures
// can recover the keys, so the messages carry a nonce chosen by an explicit
// NoncePolicy.

package keys

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNoAccount is returned when the signer exposes no address.
	ErrNoAccount = errors.New("keys: signer has no account")
	// ErrZeroScalar is returned when a signature hashes to zero mod r.
	ErrZeroScalar = errors.New("keys: derived scalar is zero")
)

const (
	viewLabel  = "shielded-wallet/view"
	spendLabel = "shielded-wallet/spend"

	viewMessage = "Shielded Wallet: derive VIEW key\n\n" +
		"Signing this message lets this device detect incoming private payments.\n" +
		"It does not authorise any transaction.\n\nNonce: %s"
	spendMessage = "Shielded Wallet: derive SPEND key\n\n" +
		"Signing this message lets this device spend private notes.\n" +
		"Only sign it on a device you trust.\n\nNonce: %s"
)

// Signer is the L1 wallet used to derive keys.
type Signer interface {
	Address(ctx context.Context) (common.Address, error)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// NoncePolicy supplies the nonce embedded in the derivation messages.
type NoncePolicy func() string

// TimestampNonce salts each derivation with the current time in milliseconds.
// Keys derived this way cannot be recovered from the signer alone and must be
// persisted.
func TimestampNonce() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// FixedNonce returns a policy that always uses tag, so the same signer always
// yields the same keys.
func FixedNonce(tag string) NoncePolicy {
	return func() string { return tag }
}

// WalletKeys holds both privacy key pairs for one L1 account.
type WalletKeys struct {
	Address         common.Address
	ViewPrivateKey  fr.Element
	ViewPublicKey   bn254.G1Affine
	SpendPrivateKey fr.Element
	SpendPublicKey  bn254.G1Affine
}

// DeriveKeys asks signer for the view and spend signatures and hashes them into
// key pairs.
func DeriveKeys(ctx context.Context, signer Signer, nonce NoncePolicy) (*WalletKeys, error) {
	addr, err := signer.Address(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAccount, err)
	}
	if addr == (common.Address{}) {
		return nil, ErrNoAccount
	}
	if nonce == nil {
		nonce = TimestampNonce
	}
	n := nonce()

	viewPriv, err := deriveScalar(ctx, signer, viewMessage, viewLabel, n)
	if err != nil {
		return nil, fmt.Errorf("view key: %w", err)
	}
	spendPriv, err := deriveScalar(ctx, signer, spendMessage, spendLabel, n)
	if err != nil {
		return nil, fmt.Errorf("spend key: %w", err)
	}

	k := &WalletKeys{Address: addr, ViewPrivateKey: viewPriv, SpendPrivateKey: spendPriv}
	k.ViewPublicKey = publicKey(&viewPriv)
	k.SpendPublicKey = publicKey(&spendPriv)
	return k, nil
}

func deriveScalar(ctx context.Context, signer Signer, format, label, nonce string) (fr.Element, error) {
	sig, err := signer.SignMessage(ctx, []byte(fmt.Sprintf(format, nonce)))
	if err != nil {
		return fr.Element{}, fmt.Errorf("sign: %w", err)
	}
	return scalarFromDigest(crypto.Keccak256(crypto.Keccak256(sig, []byte(label))))
}

func scalarFromDigest(digest []byte) (fr.Element, error) {
	var s fr.Element
	s.SetBytes(digest)
	if s.IsZero() {
		return s, ErrZeroScalar
	}
	return s, nil
}

func publicKey(priv *fr.Element) bn254.G1Affine {
	var p bn254.G1Affine
	p.ScalarMultiplicationBase(priv.BigInt(new(big.Int)))
	return p
}

// ExportPublicKeys returns the shareable half of k.
func (k *WalletKeys) ExportPublicKeys() PublicKeys {
	return PublicKeys{ViewPublicKey: k.ViewPublicKey, SpendPublicKey: k.SpendPublicKey}
}

// Valid reports whether both public keys match their private keys.
func (k *WalletKeys) Valid() bool {
	v, s := publicKey(&k.ViewPrivateKey), publicKey(&k.SpendPrivateKey)
	return !k.ViewPrivateKey.IsZero() && !k.SpendPrivateKey.IsZero() &&
		v.Equal(&k.ViewPublicKey) && s.Equal(&k.SpendPublicKey)
}
