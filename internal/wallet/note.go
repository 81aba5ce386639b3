// note.go - Owned notes and their nullifiers.

package wallet

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/iden3/go-iden3-crypto/poseidon"

	"shieldwallet/internal/keys"
	"shieldwallet/internal/merkle"
	"shieldwallet/internal/pedersen"
	"shieldwallet/internal/stealth"
)

// ErrOpeningMismatch is returned when an opening does not reproduce its commitment.
var ErrOpeningMismatch = errors.New("note opening does not match commitment")

// Note is one spendable output owned by this wallet.
// Spent only ever goes from false to true; notes are never removed.
type Note struct {
	Commitment  common.Hash    `json:"commitment"`
	Amount      *uint256.Int   `json:"amount"`
	Blinding    common.Hash    `json:"blinding"`
	Token       common.Address `json:"token"`
	LeafIndex   uint64         `json:"leafIndex"`
	Nullifier   common.Hash    `json:"nullifier"`
	Spent       bool           `json:"spent"`
	BlockNumber uint64         `json:"blockNumber"`
}

// Clone returns a deep copy safe to hand out of the lock.
func (n *Note) Clone() *Note {
	cp := *n
	cp.Amount = n.Amount.Clone()
	return &cp
}

// BlindingScalar parses the stored blinding factor.
func (n *Note) BlindingScalar() (fr.Element, error) {
	return pedersen.BlindingFromBytes(n.Blinding[:])
}

// NoteFromOpening builds a note for an owned commitment after checking that
// the opening reproduces it.
func NoteFromOpening(k *keys.WalletKeys, commitment common.Hash, o *stealth.Opening, leafIndex, block uint64) (*Note, error) {
	if !pedersen.Verify(commitment[:], o.Amount, &o.Blinding) {
		return nil, ErrOpeningMismatch
	}
	return &Note{
		Commitment:  commitment,
		Amount:      o.Amount.Clone(),
		Blinding:    common.Hash(o.Blinding.Bytes()),
		Token:       o.Token,
		LeafIndex:   leafIndex,
		Nullifier:   ComputeNullifier(&k.SpendPrivateKey, leafIndex, commitment),
		BlockNumber: block,
	}, nil
}

// ComputeNullifier is Poseidon(spendPriv, leafIndex, commitment mod p). It is
// deterministic, so the same note always reveals the same nullifier, and
// unlinkable to the commitment without the spend key.
func ComputeNullifier(spendPriv *fr.Element, leafIndex uint64, commitment common.Hash) common.Hash {
	c := merkle.ToField(commitment[:])
	out, err := poseidon.Hash([]*big.Int{
		spendPriv.BigInt(new(big.Int)),
		new(big.Int).SetUint64(leafIndex),
		c.Big(),
	})
	if err != nil {
		panic(fmt.Sprintf("wallet: nullifier hash: %v", err))
	}
	return common.BigToHash(out)
}

// ParseNullifier accepts a 32-byte hex nullifier with or without 0x prefix,
// in any letter case.
func ParseNullifier(s string) (common.Hash, error) {
	switch {
	case strings.HasPrefix(s, "0X"):
		s = "0x" + s[2:]
	case !strings.HasPrefix(s, "0x"):
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid nullifier: %w", err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid nullifier length %d", len(b))
	}
	return common.BytesToHash(b), nil
}
