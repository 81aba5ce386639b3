// prover.go - Proof generation collaborator.
//
// The wallet hands the prover the private witness of a spend (input openings,
// Merkle paths, output openings) and gets back the public inputs plus an opaque
// proof to submit on chain.

package prover

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"shieldwallet/internal/keys"
	"shieldwallet/internal/merkle"
)

// InputNote is a note being spent.
type InputNote struct {
	Commitment   common.Hash
	Amount       *uint256.Int
	Blinding     common.Hash
	LeafIndex    uint64
	Nullifier    common.Hash
	PathElements [merkle.Depth]merkle.Node
	PathIndices  [merkle.Depth]uint8
}

// OutputNote is a note being created.
type OutputNote struct {
	Amount             *uint256.Int
	RecipientPublicKey keys.PublicKeys
	Commitment         common.Hash
	Blinding           common.Hash
	// Memo is the encoded stealth envelope published with the commitment.
	Memo []byte
}

// Request is the full witness for one spend.
type Request struct {
	InputNotes   []InputNote
	OutputNotes  []OutputNote
	CurrentRoot  common.Hash
	PublicAmount *uint256.Int
	Recipient    common.Address
	Token        common.Address
}

// PublicInputs is what the on-chain verifier sees.
type PublicInputs struct {
	Root              common.Hash
	Nullifiers        []common.Hash
	OutputCommitments []common.Hash
	Memos             [][]byte
	PublicAmount      *uint256.Int
	Recipient         common.Address
	Token             common.Address
}

// Response reports the proving outcome. Success false with a nil error means
// the witness was rejected.
type Response struct {
	PublicInputs PublicInputs
	ProofBytes   []byte
	Success      bool
	Error        string
}

type Prover interface {
	Prove(ctx context.Context, req *Request) (*Response, error)
}
