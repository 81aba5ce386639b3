package prover

import (
	"context"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"shieldwallet/internal/merkle"
	"shieldwallet/internal/pedersen"
)

type fixture struct {
	tree  *merkle.Tree
	input *pedersen.Commitment
	req   *Request
}

func newFixture(t *testing.T, total uint64, outs ...uint64) *fixture {
	t.Helper()
	tree := merkle.New(merkle.Poseidon{})
	// unrelated leaf so the input is not alone in the tree
	other, _ := pedersen.Create(uint256.NewInt(5))
	tree.InsertLeaf(merkle.Node(other.Bytes()))

	in, err := pedersen.Create(uint256.NewInt(total))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	idx, _ := tree.InsertLeaf(merkle.Node(in.Bytes()))
	proof, err := tree.GenerateProof(idx)
	if err != nil {
		t.Fatalf("GenerateProof failed: %v", err)
	}

	amounts := make([]*uint256.Int, len(outs))
	for i, o := range outs {
		amounts[i] = uint256.NewInt(o)
	}
	outputs, err := pedersen.BalanceOutputs([]fr.Element{in.Blinding}, amounts)
	if err != nil {
		t.Fatalf("BalanceOutputs failed: %v", err)
	}

	req := &Request{
		InputNotes: []InputNote{{
			Commitment:   common.Hash(in.Bytes()),
			Amount:       in.Amount,
			Blinding:     common.Hash(in.BlindingBytes()),
			LeafIndex:    idx,
			Nullifier:    common.HexToHash("0x01"),
			PathElements: proof.PathElements,
			PathIndices:  proof.PathIndices,
		}},
		CurrentRoot: common.Hash(tree.Root()),
		Token:       common.HexToAddress("0xaa"),
	}
	for _, o := range outputs {
		req.OutputNotes = append(req.OutputNotes, OutputNote{
			Amount:     o.Amount,
			Commitment: common.Hash(o.Bytes()),
			Blinding:   common.Hash(o.BlindingBytes()),
			Memo:       []byte{0xc0},
		})
	}
	return &fixture{tree: tree, input: in, req: req}
}

func TestDevProveTransfer(t *testing.T) {
	f := newFixture(t, 100, 60, 40)
	resp, err := NewDev(merkle.Poseidon{}).Prove(context.Background(), f.req)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %q", resp.Error)
	}
	pi := resp.PublicInputs
	if len(pi.Nullifiers) != 1 || len(pi.OutputCommitments) != 2 || len(pi.Memos) != 2 {
		t.Errorf("unexpected public inputs %+v", pi)
	}
	if !VerifyTranscript(&pi, resp.ProofBytes) {
		t.Errorf("transcript should verify")
	}
	pi.Nullifiers[0] = common.HexToHash("0x02")
	if VerifyTranscript(&pi, resp.ProofBytes) {
		t.Errorf("transcript must bind the nullifiers")
	}
}

func TestDevProveWithdraw(t *testing.T) {
	f := newFixture(t, 100, 30)
	// single output carries all the blinding; the public part has none
	f.req.PublicAmount = uint256.NewInt(70)
	f.req.Recipient = common.HexToAddress("0xbeef")
	resp, err := NewDev(merkle.Poseidon{}).Prove(context.Background(), f.req)
	if err != nil || !resp.Success {
		t.Fatalf("withdraw proof failed: %v %q", err, resp.Error)
	}
	if !resp.PublicInputs.PublicAmount.Eq(uint256.NewInt(70)) {
		t.Errorf("public amount not carried through")
	}
}

func TestDevRejects(t *testing.T) {
	dev := NewDev(merkle.Poseidon{})
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(f *fixture)
	}{
		{"stale root", func(f *fixture) {
			f.tree.InsertLeaf(merkle.Node{1})
			f.req.CurrentRoot = common.Hash(f.tree.Root())
		}},
		{"wrong amount", func(f *fixture) {
			f.req.InputNotes[0].Amount = uint256.NewInt(101)
		}},
		{"unbalanced", func(f *fixture) {
			f.req.PublicAmount = uint256.NewInt(1)
		}},
		{"bad output opening", func(f *fixture) {
			f.req.OutputNotes[0].Amount = uint256.NewInt(61)
		}},
		{"duplicate nullifier", func(f *fixture) {
			f.req.InputNotes = append(f.req.InputNotes, f.req.InputNotes[0])
		}},
		{"no outputs", func(f *fixture) {
			f.req.OutputNotes = nil
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 100, 60, 40)
			tc.mutate(f)
			resp, err := dev.Prove(ctx, f.req)
			if err != nil {
				t.Fatalf("rejection should not be an error: %v", err)
			}
			if resp.Success {
				t.Errorf("expected rejection")
			}
			if resp.Error == "" {
				t.Errorf("rejection should carry a reason")
			}
		})
	}
}

func TestDevHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDev(merkle.Poseidon{}).Prove(ctx, newFixture(t, 10, 10).req); err == nil {
		t.Errorf("cancelled context should fail")
	}
}
