package merkle

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Hasher is the two-to-one compression function of the tree. Implementations
// must match the on-chain tree bit for bit.
type Hasher interface {
	Name() string
	// ZeroLeaf is the hash that stands in for an empty leaf.
	ZeroLeaf() Node
	Hash(left, right Node) Node
}

const (
	PoseidonName = "poseidon"
	MiMCName     = "mimc"
)

// HasherByName returns the hasher registered under name.
func HasherByName(name string) (Hasher, error) {
	switch name {
	case PoseidonName, "":
		return Poseidon{}, nil
	case MiMCName:
		return MiMC{}, nil
	}
	return nil, fmt.Errorf("merkle: unknown hasher %q", name)
}

// Poseidon hashes with the circom-compatible BN254 Poseidon permutation.
type Poseidon struct{}

func (Poseidon) Name() string { return PoseidonName }

func (Poseidon) ZeroLeaf() Node {
	return poseidonHash(new(big.Int))
}

func (Poseidon) Hash(left, right Node) Node {
	return poseidonHash(left.Big(), right.Big())
}

func poseidonHash(inputs ...*big.Int) Node {
	out, err := poseidon.Hash(inputs)
	if err != nil {
		// inputs are always reduced field elements
		panic(fmt.Sprintf("merkle: poseidon: %v", err))
	}
	return NodeFromBig(out)
}

// MiMC hashes with gnark-crypto's BN254 MiMC sponge.
type MiMC struct{}

func (MiMC) Name() string { return MiMCName }

func (MiMC) ZeroLeaf() Node {
	var zero Node
	return mimcHash(zero)
}

func (MiMC) Hash(left, right Node) Node {
	return mimcHash(left, right)
}

func mimcHash(blocks ...Node) Node {
	h := mimc.NewMiMC()
	for _, b := range blocks {
		if _, err := h.Write(b[:]); err != nil {
			panic(fmt.Sprintf("merkle: mimc: %v", err))
		}
	}
	var out Node
	copy(out[:], h.Sum(nil))
	return out
}

// ToField reduces arbitrary bytes into the BN254 scalar field.
func ToField(b []byte) Node {
	var e fr.Element
	e.SetBytes(b)
	return Node(e.Bytes())
}
