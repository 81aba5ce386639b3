// mirror.go - Keeps the local tree a prefix of the pool tree.

package wallet

import (
	"context"
	"fmt"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/merkle"
)

// AppendEvent places ev at the leaf index the chain assigned it. Events the
// tree already holds are checked, not re-added. It reports whether a leaf was
// appended. The tree is left untouched on error.
func AppendEvent(tree *merkle.Tree, ev chain.CommitmentEvent) (bool, error) {
	leaf := merkle.Node(ev.Commitment)
	switch n := tree.Len(); {
	case ev.LeafIndex < n:
		have, err := tree.Leaf(ev.LeafIndex)
		if err != nil {
			return false, err
		}
		if have != leaf {
			return false, fmt.Errorf("%w: leaf %d is %s locally, %s on chain", ErrTreeDiverged, ev.LeafIndex, have, ev.Commitment.Hex())
		}
		return false, nil
	case ev.LeafIndex > n:
		return false, fmt.Errorf("%w: chain leaf %d but local tree ends at %d", ErrTreeDiverged, ev.LeafIndex, n)
	}
	if _, err := tree.InsertLeaf(leaf); err != nil {
		return false, fmt.Errorf("append leaf %d: %w", ev.LeafIndex, err)
	}
	return true, nil
}

// catchUp appends chain leaves from block from until the tree holds index.
// Each appended leaf is a chain leaf at its chain index, so a partial catch-up
// still leaves a valid prefix.
func (w *Wallet) catchUp(ctx context.Context, tree *merkle.Tree, from, index uint64) error {
	for tree.Len() <= index {
		events, next, err := w.chain.GetNewCommitmentEvents(ctx, from)
		if err != nil {
			return w.collaboratorFailed("commitment_events", err)
		}
		for _, ev := range events {
			if _, err := AppendEvent(tree, ev); err != nil {
				return err
			}
		}
		if next <= from {
			return fmt.Errorf("%w: leaf %d not found by block %d", ErrStaleTree, index, from)
		}
		from = next
	}
	return nil
}
