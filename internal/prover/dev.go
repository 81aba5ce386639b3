// dev.go - Development prover that checks the witness in the clear.
//
// Dev enforces the statement a real circuit would prove (membership, openings,
// value balance) but the proof it emits is only a keccak transcript of the
// public inputs. It is for local chains and tests, never for production.

package prover

import (
	"bytes"
	"context"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"shieldwallet/internal/merkle"
	"shieldwallet/internal/pedersen"
)

var transcriptDomain = []byte("shielded-wallet/dev-proof/v1")

type Dev struct {
	hasher merkle.Hasher
}

func NewDev(h merkle.Hasher) *Dev {
	return &Dev{hasher: h}
}

func reject(format string, args ...interface{}) *Response {
	msg := fmt.Sprintf(format, args...)
	log.Debug("Dev prover rejected witness", "reason", msg)
	return &Response{Success: false, Error: msg}
}

func (d *Dev) Prove(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.InputNotes) == 0 {
		return reject("no input notes"), nil
	}
	if len(req.OutputNotes) == 0 {
		return reject("no output notes"), nil
	}

	root := merkle.Node(req.CurrentRoot)
	inPoints := make([]bn254.G1Affine, 0, len(req.InputNotes))
	seen := make(map[common.Hash]struct{}, len(req.InputNotes))
	pi := PublicInputs{
		Root:         req.CurrentRoot,
		PublicAmount: new(uint256.Int),
		Recipient:    req.Recipient,
		Token:        req.Token,
	}
	if req.PublicAmount != nil {
		pi.PublicAmount.Set(req.PublicAmount)
	}

	for i, in := range req.InputNotes {
		p, ok := openCommitment(in.Commitment, in.Amount, in.Blinding)
		if !ok {
			return reject("input %d: commitment does not open", i), nil
		}
		proof := &merkle.Proof{
			Leaf:         merkle.Node(in.Commitment),
			LeafIndex:    in.LeafIndex,
			PathElements: in.PathElements,
			PathIndices:  in.PathIndices,
		}
		if !merkle.VerifyProof(d.hasher, proof, root) {
			return reject("input %d: not a member of root %s", i, req.CurrentRoot.Hex()), nil
		}
		if _, dup := seen[in.Nullifier]; dup {
			return reject("input %d: duplicate nullifier", i), nil
		}
		seen[in.Nullifier] = struct{}{}
		inPoints = append(inPoints, p)
		pi.Nullifiers = append(pi.Nullifiers, in.Nullifier)
	}

	outPoints := make([]bn254.G1Affine, 0, len(req.OutputNotes)+1)
	for i, out := range req.OutputNotes {
		p, ok := openCommitment(out.Commitment, out.Amount, out.Blinding)
		if !ok {
			return reject("output %d: commitment does not open", i), nil
		}
		outPoints = append(outPoints, p)
		pi.OutputCommitments = append(pi.OutputCommitments, out.Commitment)
		pi.Memos = append(pi.Memos, out.Memo)
	}
	public, err := pedersen.CommitPublic(pi.PublicAmount)
	if err != nil {
		return reject("public amount: %v", err), nil
	}
	outPoints = append(outPoints, public)
	if !pedersen.VerifyBalance(inPoints, outPoints) {
		return reject("inputs and outputs do not balance"), nil
	}

	return &Response{PublicInputs: pi, ProofBytes: Transcript(&pi), Success: true}, nil
}

func openCommitment(c common.Hash, amount *uint256.Int, blinding common.Hash) (bn254.G1Affine, bool) {
	r, err := pedersen.BlindingFromBytes(blinding[:])
	if err != nil {
		return bn254.G1Affine{}, false
	}
	if !pedersen.Verify(c[:], amount, &r) {
		return bn254.G1Affine{}, false
	}
	p, err := pedersen.Decode(c[:])
	return p, err == nil
}

// Transcript hashes every public input in a fixed order.
func Transcript(pi *PublicInputs) []byte {
	var buf bytes.Buffer
	buf.Write(transcriptDomain)
	buf.Write(pi.Root[:])
	for _, n := range pi.Nullifiers {
		buf.Write(n[:])
	}
	for i, c := range pi.OutputCommitments {
		buf.Write(c[:])
		if i < len(pi.Memos) {
			buf.Write(crypto.Keccak256(pi.Memos[i]))
		}
	}
	amount := new(uint256.Int)
	if pi.PublicAmount != nil {
		amount = pi.PublicAmount
	}
	a := amount.Bytes32()
	buf.Write(a[:])
	buf.Write(pi.Recipient[:])
	buf.Write(pi.Token[:])
	return crypto.Keccak256(buf.Bytes())
}

// VerifyTranscript checks a Dev proof against its public inputs.
func VerifyTranscript(pi *PublicInputs, proof []byte) bool {
	return bytes.Equal(Transcript(pi), proof)
}
