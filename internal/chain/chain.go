// chain.go - Contract the wallet expects from the shielded pool on L1.

package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"shieldwallet/internal/prover"
)

// TxHandle identifies a submitted transaction until it is confirmed.
type TxHandle string

// Receipt is the confirmed outcome of a transaction. Success false means the
// transaction was mined but reverted. Leaves holds the tree index of every
// commitment the transaction appended, in output order.
type Receipt struct {
	Success     bool     `json:"success"`
	BlockNumber uint64   `json:"block_number"`
	Reason      string   `json:"reason,omitempty"`
	Leaves      []uint64 `json:"leaves,omitempty"`
}

// CommitmentEvent is emitted for every leaf appended to the on-chain tree.
type CommitmentEvent struct {
	Commitment  common.Hash   `json:"commitment"`
	Memo        hexutil.Bytes `json:"memo"`
	LeafIndex   uint64        `json:"leaf_index"`
	BlockNumber uint64        `json:"block_number"`
}

// Deposit moves public funds into the pool as a new commitment.
type Deposit struct {
	Token      common.Address
	Amount     *uint256.Int
	Commitment common.Hash
	Memo       []byte
}

// Chain is the L1 collaborator. Implementations must return events in leaf
// order and bound each GetNewCommitmentEvents call to a block range.
// GetNewCommitmentEvents also returns the first block it did not scan, so
// callers can move past ranges without events. It never exceeds head+1.
type Chain interface {
	SubmitDeposit(ctx context.Context, d *Deposit) (TxHandle, error)
	SubmitTransfer(ctx context.Context, inputs *prover.PublicInputs, proof []byte) (TxHandle, error)
	SubmitWithdraw(ctx context.Context, inputs *prover.PublicInputs, proof []byte) (TxHandle, error)
	WaitForConfirmation(ctx context.Context, h TxHandle) (*Receipt, error)
	GetNewCommitmentEvents(ctx context.Context, fromBlock uint64) (events []CommitmentEvent, scannedTo uint64, err error)
	IsNullifierUsed(ctx context.Context, nullifier common.Hash) (bool, error)
}
