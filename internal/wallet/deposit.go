package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/logging"
	"shieldwallet/internal/pedersen"
	"shieldwallet/internal/stealth"
)

func (w *Wallet) collaboratorFailed(op string, err error) error {
	w.opts.Metrics.RecordCollaboratorError(op)
	w.log.Warn("Collaborator call failed", "op", op, "err", err)
	return collaboratorError(op, err)
}

func (w *Wallet) collaboratorRejected(op, reason string) error {
	w.opts.Metrics.RecordCollaboratorError(op)
	w.log.Warn("Collaborator rejected request", "op", op, "reason", reason)
	return rejected(op, reason)
}

// confirm waits for h and turns a reverted receipt into an error.
func (w *Wallet) confirm(ctx context.Context, op string, h chain.TxHandle) (*chain.Receipt, error) {
	start := time.Now()
	rcpt, err := w.chain.WaitForConfirmation(ctx, h)
	if err != nil {
		return nil, w.collaboratorFailed(op, err)
	}
	w.opts.Metrics.RecordConfirmation(time.Since(start))
	if !rcpt.Success {
		return nil, w.collaboratorRejected(op, rcpt.Reason)
	}
	return rcpt, nil
}

// Deposit commits amount of token into the pool and records the resulting
// note once the chain confirms it. The opening is also published as an
// envelope addressed to ourselves so a restore from chain data finds it.
func (w *Wallet) Deposit(ctx context.Context, token common.Address, amount *uint256.Int) (*Note, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroAmount
	}
	var out *Note
	err := w.Update(func(st *State) error {
		c, err := pedersen.Create(amount)
		if err != nil {
			return err
		}
		env, err := stealth.Seal(&st.Keys.ViewPublicKey, &st.Keys.SpendPublicKey, &stealth.Opening{
			Amount:   amount,
			Blinding: c.Blinding,
			Token:    token,
		})
		if err != nil {
			return fmt.Errorf("seal deposit envelope: %w", err)
		}
		memo, err := env.Encode()
		if err != nil {
			return fmt.Errorf("encode deposit envelope: %w", err)
		}
		commitment := common.Hash(c.Bytes())

		h, err := w.chain.SubmitDeposit(ctx, &chain.Deposit{
			Token:      token,
			Amount:     amount.Clone(),
			Commitment: commitment,
			Memo:       memo,
		})
		if err != nil {
			return w.collaboratorFailed("submit_deposit", err)
		}
		rcpt, err := w.confirm(ctx, "submit_deposit", h)
		if err != nil {
			return err
		}

		if n := st.FindNote(commitment); n != nil {
			out = n.Clone()
			return nil
		}
		if len(rcpt.Leaves) != 1 {
			return w.collaboratorFailed("submit_deposit", fmt.Errorf("receipt reports %d leaves for one deposit", len(rcpt.Leaves)))
		}
		idx := rcpt.Leaves[0]
		ev := chain.CommitmentEvent{Commitment: commitment, LeafIndex: idx, BlockNumber: rcpt.BlockNumber}
		if idx > st.Tree.Len() {
			// blocks since the last sync hold other leaves
			if err := w.catchUp(ctx, st.Tree, st.LastSyncedBlock, idx); err != nil {
				w.log.Warn("Deposit leaf left for sync", "leaf", idx, "err", err)
			}
		}
		if idx <= st.Tree.Len() {
			if _, err := AppendEvent(st.Tree, ev); err != nil {
				w.log.Warn("Deposit leaf left for sync", "leaf", idx, "err", err)
			}
		}
		n := &Note{
			Commitment:  commitment,
			Amount:      amount.Clone(),
			Blinding:    common.Hash(c.BlindingBytes()),
			Token:       token,
			LeafIndex:   idx,
			Nullifier:   ComputeNullifier(&st.Keys.SpendPrivateKey, idx, commitment),
			BlockNumber: rcpt.BlockNumber,
		}
		st.Notes = append(st.Notes, n)
		out = n.Clone()

		w.opts.Metrics.RecordDeposit(token.Hex())
		logging.Audit("deposit", "token", token, "amount", amount, "commitment", commitment,
			"leaf", idx, "tx", h, "block", rcpt.BlockNumber)
		w.log.Info("Deposit confirmed", "token", token, "amount", amount, "leaf", idx, "block", rcpt.BlockNumber)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
