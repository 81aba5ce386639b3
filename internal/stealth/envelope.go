package stealth

import (
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/chacha20poly1305"
)

const openingLen = 32 + fr.Bytes + common.AddressLength

var (
	envelopeKeyLabel = []byte("shielded-wallet/note-envelope")

	ErrInvalidEnvelope = errors.New("stealth: invalid note envelope")
)

// Opening is the secret part of a note: enough to rebuild and spend the commitment.
type Opening struct {
	Amount   *uint256.Int
	Blinding fr.Element
	Token    common.Address
}

// Envelope travels with an output commitment on chain. It names the stealth
// address and carries the opening encrypted to its owner.
type Envelope struct {
	Address    common.Address
	Ephemeral  [bn254.SizeOfG1AffineCompressed]byte
	ViewTag    byte
	Ciphertext []byte
}

// StealthAddress decodes the addressing part of the envelope.
func (e *Envelope) StealthAddress() (*StealthAddress, error) {
	var p bn254.G1Affine
	if _, err := p.SetBytes(e.Ephemeral[:]); err != nil {
		return nil, ErrInvalidEphemeralKey
	}
	return &StealthAddress{Address: e.Address, EphemeralPublicKey: p, ViewTag: e.ViewTag}, nil
}

func envelopeAEAD(secret SharedSecret) (cipher.AEAD, error) {
	key := crypto.Keccak256(secret[:], envelopeKeyLabel)
	return chacha20poly1305.New(key)
}

// EncryptNote seals the opening for the owner of sa. The key is unique per
// shared secret, so a zero nonce is never reused under one key.
func EncryptNote(secret SharedSecret, sa *StealthAddress, o *Opening) (*Envelope, error) {
	if o.Amount == nil {
		return nil, fmt.Errorf("%w: nil amount", ErrInvalidEnvelope)
	}
	aead, err := envelopeAEAD(secret)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, 0, openingLen)
	amount := o.Amount.Bytes32()
	blinding := o.Blinding.Bytes()
	plain = append(plain, amount[:]...)
	plain = append(plain, blinding[:]...)
	plain = append(plain, o.Token.Bytes()...)

	nonce := make([]byte, aead.NonceSize())
	return &Envelope{
		Address:    sa.Address,
		Ephemeral:  sa.EphemeralPublicKey.Bytes(),
		ViewTag:    sa.ViewTag,
		Ciphertext: aead.Seal(nil, nonce, plain, sa.Address.Bytes()),
	}, nil
}

// DecryptNote checks ownership and decrypts the opening. It returns ErrNotOwned
// for envelopes addressed to someone else.
func DecryptNote(env *Envelope, viewPriv *fr.Element, spendPub *bn254.G1Affine) (*Opening, error) {
	sa, err := env.StealthAddress()
	if err != nil {
		return nil, err
	}
	secret, ok := Recover(sa, viewPriv, spendPub)
	if !ok {
		return nil, ErrNotOwned
	}
	aead, err := envelopeAEAD(secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	plain, err := aead.Open(nil, nonce, env.Ciphertext, env.Address.Bytes())
	if err != nil || len(plain) != openingLen {
		return nil, ErrInvalidEnvelope
	}
	o := &Opening{Amount: new(uint256.Int).SetBytes32(plain[:32])}
	if err := o.Blinding.SetBytesCanonical(plain[32 : 32+fr.Bytes]); err != nil {
		return nil, ErrInvalidEnvelope
	}
	o.Token = common.BytesToAddress(plain[32+fr.Bytes:])
	return o, nil
}

// Seal is a convenience for senders: derive an address for the recipient and
// encrypt the opening to it in one step.
func Seal(viewPub, spendPub *bn254.G1Affine, o *Opening) (*Envelope, error) {
	sa, secret, err := GenerateForNote(viewPub, spendPub)
	if err != nil {
		return nil, err
	}
	return EncryptNote(secret, sa, o)
}

// Encode serialises the envelope with RLP for use as an on-chain memo.
func (e *Envelope) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(e)
}

// DecodeEnvelope parses an RLP memo.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := rlp.DecodeBytes(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return &e, nil
}
