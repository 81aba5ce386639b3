// stealth.go - One-time stealth addresses over BN254 G1.
//
// A sender who knows a recipient's view and spend public keys derives a fresh
// address per payment via ECDH. Only the view key holder can recognise it and
// only the spend key holder can derive its private key.

package stealth

import (
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrInvalidEphemeralKey is returned when an ephemeral point cannot be decoded.
	ErrInvalidEphemeralKey = errors.New("stealth: invalid ephemeral key")
	// ErrNotOwned is returned when an address does not belong to the scanning keys.
	ErrNotOwned = errors.New("stealth: address not owned")
)

// SharedSecret is keccak256 of the compressed ECDH point.
type SharedSecret [32]byte

// ViewTag returns the first byte of the secret, used to skip most foreign addresses cheaply.
func (s SharedSecret) ViewTag() byte { return s[0] }

// Tweak reduces the secret into the scalar field.
func (s SharedSecret) Tweak() fr.Element {
	var t fr.Element
	t.SetBytes(s[:])
	return t
}

// StealthAddress is a one-time destination plus what its owner needs to scan for it.
type StealthAddress struct {
	Address            common.Address
	EphemeralPublicKey bn254.G1Affine
	ViewTag            byte
}

func sharedSecret(priv *fr.Element, pub *bn254.G1Affine) SharedSecret {
	var s bn254.G1Affine
	s.ScalarMultiplication(pub, priv.BigInt(new(big.Int)))
	enc := s.Bytes()
	var out SharedSecret
	copy(out[:], crypto.Keccak256(enc[:]))
	return out
}

// stealthPublicKey computes spendPub + tweak·G.
func stealthPublicKey(spendPub *bn254.G1Affine, secret SharedSecret) bn254.G1Affine {
	tweak := secret.Tweak()
	var tG, p bn254.G1Affine
	tG.ScalarMultiplicationBase(tweak.BigInt(new(big.Int)))
	p.Add(spendPub, &tG)
	return p
}

// AddressOf returns the last 20 bytes of keccak256 over the uncompressed x||y coordinates.
func AddressOf(pub *bn254.G1Affine) common.Address {
	raw := pub.RawBytes()
	return common.BytesToAddress(crypto.Keccak256(raw[:])[12:])
}

// GenerateForNote derives a stealth address for the recipient and also returns
// the shared secret, which the sender uses to encrypt the note opening.
func GenerateForNote(viewPub, spendPub *bn254.G1Affine) (*StealthAddress, SharedSecret, error) {
	var e fr.Element
	for e.IsZero() {
		if _, err := e.SetRandom(); err != nil {
			return nil, SharedSecret{}, err
		}
	}
	var ephemeral bn254.G1Affine
	ephemeral.ScalarMultiplicationBase(e.BigInt(new(big.Int)))

	secret := sharedSecret(&e, viewPub)
	p := stealthPublicKey(spendPub, secret)
	return &StealthAddress{
		Address:            AddressOf(&p),
		EphemeralPublicKey: ephemeral,
		ViewTag:            secret.ViewTag(),
	}, secret, nil
}

// Generate derives a fresh stealth address for the holder of viewPub and spendPub.
func Generate(viewPub, spendPub *bn254.G1Affine) (*StealthAddress, error) {
	sa, _, err := GenerateForNote(viewPub, spendPub)
	return sa, err
}

// Recover recomputes the shared secret on the recipient side and reports whether
// the address was derived for these keys. The view tag is checked first.
func Recover(sa *StealthAddress, viewPriv *fr.Element, spendPub *bn254.G1Affine) (SharedSecret, bool) {
	secret := sharedSecret(viewPriv, &sa.EphemeralPublicKey)
	if secret.ViewTag() != sa.ViewTag {
		return secret, false
	}
	p := stealthPublicKey(spendPub, secret)
	return secret, AddressOf(&p) == sa.Address
}

// CheckOwnership reports whether sa was generated for the given view and spend keys.
func CheckOwnership(sa *StealthAddress, viewPriv *fr.Element, spendPub *bn254.G1Affine) bool {
	_, ok := Recover(sa, viewPriv, spendPub)
	return ok
}

// ComputeStealthPrivateKey returns spendPriv + tweak mod r, the discrete log of
// the stealth public key.
func ComputeStealthPrivateKey(ephemeralPub *bn254.G1Affine, viewPriv, spendPriv *fr.Element) fr.Element {
	tweak := sharedSecret(viewPriv, ephemeralPub).Tweak()
	var k fr.Element
	k.Add(spendPriv, &tweak)
	return k
}
