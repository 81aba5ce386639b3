package pedersen

import (
	"math"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/holiman/uint256"
)

func TestCreateAndVerify(t *testing.T) {
	c, err := Create(uint256.NewInt(100))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	enc := c.Bytes()

	if !Verify(enc[:], uint256.NewInt(100), &c.Blinding) {
		t.Errorf("commitment should open to its own amount and blinding")
	}
	if Verify(enc[:], uint256.NewInt(101), &c.Blinding) {
		t.Errorf("commitment must not open to a different amount")
	}

	other, err := Create(uint256.NewInt(100))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if Verify(enc[:], uint256.NewInt(100), &other.Blinding) {
		t.Errorf("commitment must not open with a foreign blinding")
	}
	otherEnc := other.Bytes()
	if enc == otherEnc {
		t.Errorf("two commitments to the same amount should differ")
	}
}

func TestAmountBounds(t *testing.T) {
	t.Run("max 64-bit amount", func(t *testing.T) {
		if _, err := Create(uint256.NewInt(math.MaxUint64)); err != nil {
			t.Fatalf("2^64-1 should be accepted: %v", err)
		}
	})
	t.Run("overflow", func(t *testing.T) {
		tooBig := new(uint256.Int).Lsh(uint256.NewInt(1), 64)
		if _, err := Create(tooBig); err != ErrAmountOverflow {
			t.Fatalf("expected ErrAmountOverflow, got %v", err)
		}
	})
	t.Run("zero", func(t *testing.T) {
		c, err := Create(new(uint256.Int))
		if err != nil {
			t.Fatalf("zero amount should be accepted: %v", err)
		}
		enc := c.Bytes()
		if !Verify(enc[:], new(uint256.Int), &c.Blinding) {
			t.Errorf("zero commitment should verify")
		}
	})
	t.Run("nil", func(t *testing.T) {
		if _, err := Create(nil); err != ErrMissingAmount {
			t.Fatalf("expected ErrMissingAmount, got %v", err)
		}
	})
}

func TestDecodeRoundTrip(t *testing.T) {
	c, err := Create(uint256.NewInt(7))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	enc := c.Bytes()
	p, err := Decode(enc[:])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !p.Equal(&c.Point) {
		t.Errorf("decoded point differs")
	}
	if _, err := Decode(enc[:31]); err != ErrInvalidCommitment {
		t.Errorf("short encoding should be rejected, got %v", err)
	}
	blinding := c.BlindingBytes()
	r, err := BlindingFromBytes(blinding[:])
	if err != nil {
		t.Fatalf("BlindingFromBytes failed: %v", err)
	}
	if !r.Equal(&c.Blinding) {
		t.Errorf("blinding round trip mismatch")
	}
}

func TestBalancedCommitments(t *testing.T) {
	outs := []*uint256.Int{uint256.NewInt(60), uint256.NewInt(40)}
	b, err := CreateBalanced(uint256.NewInt(100), outs)
	if err != nil {
		t.Fatalf("CreateBalanced failed: %v", err)
	}
	if !VerifyBalance(Points(b.Inputs), Points(b.Outputs)) {
		t.Fatalf("balanced set should verify")
	}
	for i, o := range b.Outputs {
		enc := o.Bytes()
		if !Verify(enc[:], outs[i], &o.Blinding) {
			t.Errorf("output %d should open", i)
		}
	}

	other, err := CreateBalanced(uint256.NewInt(100), []*uint256.Int{uint256.NewInt(50), uint256.NewInt(50)})
	if err != nil {
		t.Fatalf("CreateBalanced failed: %v", err)
	}
	if VerifyBalance(Points(b.Inputs), Points(other.Outputs)) {
		t.Errorf("inputs of one set must not balance outputs of another")
	}

	if _, err := CreateBalanced(uint256.NewInt(1), nil); err != ErrNoOutputs {
		t.Errorf("expected ErrNoOutputs, got %v", err)
	}
}

func TestBalanceWithPublicAmount(t *testing.T) {
	in, err := Create(uint256.NewInt(100))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	change, err := Commit(uint256.NewInt(30), &in.Blinding)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	public, err := CommitPublic(uint256.NewInt(70))
	if err != nil {
		t.Fatalf("CommitPublic failed: %v", err)
	}
	if !VerifyBalance([]bn254.G1Affine{in.Point}, []bn254.G1Affine{change.Point, public}) {
		t.Errorf("input should balance change plus public amount")
	}
}

func TestEmptyBalance(t *testing.T) {
	if !VerifyBalance(nil, nil) {
		t.Errorf("two empty sums are both the identity")
	}
}
