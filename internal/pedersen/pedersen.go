// pedersen.go - Pedersen commitments that hide note amounts.
//
// A commitment is C = H·amount + G·blinding over the BN254 G1 group. G is the
// standard generator and H is hashed to the curve from a fixed domain string, so
// nobody knows the discrete log of H with respect to G.

package pedersen

import (
	"crypto/subtle"
	"errors"
	"math"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
)

// EncodedLen is the length of a compressed commitment point.
const EncodedLen = bn254.SizeOfG1AffineCompressed

var (
	// G is the blinding generator, H the amount generator.
	G bn254.G1Affine
	H bn254.G1Affine

	// MaxAmount bounds committed amounts so sums of many notes stay far below the group order.
	MaxAmount = uint256.NewInt(math.MaxUint64)

	ErrAmountOverflow     = errors.New("pedersen: amount exceeds 64 bits")
	ErrInvalidCommitment  = errors.New("pedersen: invalid commitment encoding")
	ErrInvalidBlinding    = errors.New("pedersen: invalid blinding factor")
	ErrNoOutputs          = errors.New("pedersen: at least one output is required")
	ErrMissingAmount      = errors.New("pedersen: nil amount")
	errHashToCurveFailure = errors.New("pedersen: cannot derive generator H")
)

var (
	hMessage = []byte("ShieldedWalletPedersenGeneratorH")
	hDomain  = []byte("SHIELDWALLET-V1-BN254G1_XMD:SHA-256_SSWU_RO_")
)

func init() {
	_, _, g1, _ := bn254.Generators()
	G = g1

	h, err := bn254.HashToG1(hMessage, hDomain)
	if err != nil {
		panic(errHashToCurveFailure)
	}
	H = h
}

// Commitment is an opened Pedersen commitment: the point plus the secrets that open it.
type Commitment struct {
	Point    bn254.G1Affine
	Amount   *uint256.Int
	Blinding fr.Element
}

// Bytes returns the compressed point encoding published on chain.
func (c *Commitment) Bytes() [EncodedLen]byte {
	return c.Point.Bytes()
}

// BlindingBytes returns the canonical big-endian blinding scalar.
func (c *Commitment) BlindingBytes() [fr.Bytes]byte {
	return c.Blinding.Bytes()
}

func checkAmount(amount *uint256.Int) error {
	if amount == nil {
		return ErrMissingAmount
	}
	if amount.Gt(MaxAmount) {
		return ErrAmountOverflow
	}
	return nil
}

// commit computes H·amount + G·blinding.
func commit(amount *uint256.Int, blinding *fr.Element) bn254.G1Affine {
	var vH, rG, out bn254.G1Affine
	vH.ScalarMultiplication(&H, amount.ToBig())
	rG.ScalarMultiplicationBase(blinding.BigInt(new(big.Int)))
	out.Add(&vH, &rG)
	return out
}

// Commit builds a commitment with a caller-chosen blinding factor.
func Commit(amount *uint256.Int, blinding *fr.Element) (*Commitment, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	return &Commitment{
		Point:    commit(amount, blinding),
		Amount:   amount.Clone(),
		Blinding: *blinding,
	}, nil
}

// Create samples a fresh blinding scalar and commits to amount.
func Create(amount *uint256.Int) (*Commitment, error) {
	blinding, err := randomScalar()
	if err != nil {
		return nil, err
	}
	return Commit(amount, &blinding)
}

// CommitPublic commits to a publicly known amount with a zero blinding factor.
// Withdrawals use it to account for value leaving the shielded pool.
func CommitPublic(amount *uint256.Int) (bn254.G1Affine, error) {
	if err := checkAmount(amount); err != nil {
		return bn254.G1Affine{}, err
	}
	var zero fr.Element
	return commit(amount, &zero), nil
}

// Verify recomputes the commitment from its opening and compares encodings in
// constant time.
func Verify(encoded []byte, amount *uint256.Int, blinding *fr.Element) bool {
	if len(encoded) != EncodedLen || checkAmount(amount) != nil {
		return false
	}
	p := commit(amount, blinding)
	expected := p.Bytes()
	return subtle.ConstantTimeCompare(encoded, expected[:]) == 1
}

// Decode parses a compressed commitment point.
func Decode(encoded []byte) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	if len(encoded) != EncodedLen {
		return p, ErrInvalidCommitment
	}
	if _, err := p.SetBytes(encoded); err != nil {
		return p, ErrInvalidCommitment
	}
	return p, nil
}

// BlindingFromBytes parses a canonical 32-byte blinding scalar.
func BlindingFromBytes(b []byte) (fr.Element, error) {
	var r fr.Element
	if len(b) != fr.Bytes {
		return r, ErrInvalidBlinding
	}
	if err := r.SetBytesCanonical(b); err != nil {
		return r, ErrInvalidBlinding
	}
	return r, nil
}

func randomScalar() (fr.Element, error) {
	var r fr.Element
	if _, err := r.SetRandom(); err != nil {
		return r, err
	}
	return r, nil
}
