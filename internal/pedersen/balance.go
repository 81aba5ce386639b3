package pedersen

import (
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
)

// Balanced is a set of commitments whose points sum to the same value on both sides.
type Balanced struct {
	Inputs  []*Commitment
	Outputs []*Commitment
}

// CreateBalanced commits to totalIn as a single input and splits it into outputs
// whose blinding factors sum to the input blinding.
func CreateBalanced(totalIn *uint256.Int, outputs []*uint256.Int) (*Balanced, error) {
	in, err := Create(totalIn)
	if err != nil {
		return nil, err
	}
	outs, err := BalanceOutputs([]fr.Element{in.Blinding}, outputs)
	if err != nil {
		return nil, err
	}
	return &Balanced{Inputs: []*Commitment{in}, Outputs: outs}, nil
}

// BalanceOutputs commits to each output amount. Every output except the last gets
// a fresh blinding; the last takes sum(inputBlindings) - sum(others) so the
// blinding terms cancel when input and output points are compared.
func BalanceOutputs(inputBlindings []fr.Element, outputs []*uint256.Int) ([]*Commitment, error) {
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}
	var remaining fr.Element
	for i := range inputBlindings {
		remaining.Add(&remaining, &inputBlindings[i])
	}

	out := make([]*Commitment, 0, len(outputs))
	for i, amount := range outputs {
		var (
			c   *Commitment
			err error
		)
		if i == len(outputs)-1 {
			c, err = Commit(amount, &remaining)
		} else {
			c, err = Create(amount)
		}
		if err != nil {
			return nil, err
		}
		remaining.Sub(&remaining, &c.Blinding)
		out = append(out, c)
	}
	return out, nil
}

// Sum adds points together. The empty sum is the point at infinity.
func Sum(points []bn254.G1Affine) bn254.G1Affine {
	var acc bn254.G1Jac
	for i := range points {
		acc.AddMixed(&points[i])
	}
	var out bn254.G1Affine
	out.FromJacobian(&acc)
	return out
}

// VerifyBalance reports whether the input points and output points sum to the
// same group element.
func VerifyBalance(inputs, outputs []bn254.G1Affine) bool {
	in := Sum(inputs)
	out := Sum(outputs)
	return in.Equal(&out)
}

// Points extracts the curve points of a list of commitments.
func Points(cs []*Commitment) []bn254.G1Affine {
	ps := make([]bn254.G1Affine, len(cs))
	for i, c := range cs {
		ps[i] = c.Point
	}
	return ps
}
