package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/keys"
	"shieldwallet/internal/logging"
	"shieldwallet/internal/pedersen"
	"shieldwallet/internal/prover"
	"shieldwallet/internal/stealth"
)

// Recipient is one transfer output.
type Recipient struct {
	Amount     *uint256.Int
	PublicKeys keys.PublicKeys
}

// SpendResult describes a confirmed transfer or withdrawal.
type SpendResult struct {
	Tx          chain.TxHandle
	BlockNumber uint64
	// Nullifiers of the notes consumed.
	Spent []common.Hash
	// Output commitments in submission order; change, if any, is last.
	Outputs []common.Hash
	Change  *uint256.Int
}

type spendKind string

const (
	kindTransfer spendKind = "transfer"
	kindWithdraw spendKind = "withdraw"
)

type spendRequest struct {
	kind       spendKind
	token      common.Address
	recipients []Recipient
	public     *uint256.Int
	to         common.Address
}

// Transfer pays recipients from the unspent notes of token. Change returns to
// this wallet as a new note that the next sync picks up.
func (w *Wallet) Transfer(ctx context.Context, token common.Address, recipients []Recipient) (*SpendResult, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	return w.spend(ctx, &spendRequest{kind: kindTransfer, token: token, recipients: recipients})
}

// Withdraw releases amount of token from the pool to the L1 address to.
func (w *Wallet) Withdraw(ctx context.Context, token common.Address, amount *uint256.Int, to common.Address) (*SpendResult, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if to == (common.Address{}) {
		return nil, fmt.Errorf("%w: withdraw to the zero address", ErrNoRecipients)
	}
	return w.spend(ctx, &spendRequest{kind: kindWithdraw, token: token, public: amount.Clone(), to: to})
}

func (w *Wallet) spend(ctx context.Context, req *spendRequest) (*SpendResult, error) {
	need := new(uint256.Int)
	for i, r := range req.recipients {
		if r.Amount == nil || r.Amount.IsZero() {
			return nil, fmt.Errorf("recipient %d: %w", i, ErrZeroAmount)
		}
		if _, overflow := need.AddOverflow(need, r.Amount); overflow {
			return nil, ErrAmountOverflow
		}
	}
	if req.public != nil {
		if _, overflow := need.AddOverflow(need, req.public); overflow {
			return nil, ErrAmountOverflow
		}
	}

	var res *SpendResult
	err := w.Update(func(st *State) error {
		balance := st.UnspentTotal(req.token)
		if balance.Lt(need) {
			return fmt.Errorf("%w: have %s, need %s of %s", ErrInsufficientBalance, balance, need, req.token.Hex())
		}
		sel := st.SelectNotesForAmount(req.token, need)
		change := new(uint256.Int).Sub(sel.Total, need)

		outs := append([]Recipient(nil), req.recipients...)
		// a withdrawal without change still needs one output to carry the blinding
		if !change.IsZero() || len(outs) == 0 {
			outs = append(outs, Recipient{Amount: change, PublicKeys: st.Keys.ExportPublicKeys()})
		}

		inputs, blindings, err := buildInputs(st, sel.Notes)
		if err != nil {
			return err
		}
		outputs, err := buildOutputs(req.token, blindings, outs)
		if err != nil {
			return err
		}

		start := time.Now()
		resp, err := w.prover.Prove(ctx, &prover.Request{
			InputNotes:   inputs,
			OutputNotes:  outputs,
			CurrentRoot:  common.Hash(st.Tree.Root()),
			PublicAmount: req.public,
			Recipient:    req.to,
			Token:        req.token,
		})
		if err != nil {
			return w.collaboratorFailed("prove", err)
		}
		if !resp.Success {
			return w.collaboratorRejected("prove", resp.Error)
		}
		w.opts.Metrics.RecordProofGeneration(time.Since(start))

		op := "submit_" + string(req.kind)
		var h chain.TxHandle
		if req.kind == kindWithdraw {
			h, err = w.chain.SubmitWithdraw(ctx, &resp.PublicInputs, resp.ProofBytes)
		} else {
			h, err = w.chain.SubmitTransfer(ctx, &resp.PublicInputs, resp.ProofBytes)
		}
		if err != nil {
			return w.collaboratorFailed(op, err)
		}
		rcpt, err := w.confirm(ctx, op, h)
		if err != nil {
			return err
		}

		res = &SpendResult{
			Tx:          h,
			BlockNumber: rcpt.BlockNumber,
			Spent:       make([]common.Hash, len(inputs)),
			Outputs:     make([]common.Hash, len(outputs)),
			Change:      change,
		}
		for i := range inputs {
			res.Spent[i] = inputs[i].Nullifier
		}
		for i := range outputs {
			res.Outputs[i] = outputs[i].Commitment
		}
		st.MarkNotesSpent(res.Spent)

		if req.kind == kindWithdraw {
			w.opts.Metrics.RecordWithdraw(req.token.Hex(), len(inputs))
			logging.Audit("withdraw", "token", req.token, "amount", req.public, "to", req.to,
				"inputs", len(inputs), "change", change, "tx", h, "block", rcpt.BlockNumber)
		} else {
			w.opts.Metrics.RecordTransfer(req.token.Hex(), len(inputs), len(outputs))
			logging.Audit("transfer", "token", req.token, "amount", need, "inputs", len(inputs),
				"outputs", len(outputs), "change", change, "tx", h, "block", rcpt.BlockNumber)
		}
		w.log.Info("Spend confirmed", "kind", req.kind, "token", req.token, "inputs", len(inputs),
			"outputs", len(outputs), "block", rcpt.BlockNumber)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// buildInputs collects the witness for each selected note.
func buildInputs(st *State, notes []*Note) ([]prover.InputNote, []fr.Element, error) {
	inputs := make([]prover.InputNote, len(notes))
	blindings := make([]fr.Element, len(notes))
	for i, n := range notes {
		b, err := n.BlindingScalar()
		if err != nil {
			return nil, nil, fmt.Errorf("note %s: %w", n.Commitment.Hex(), err)
		}
		if n.LeafIndex >= st.Tree.Len() {
			return nil, nil, fmt.Errorf("note %s at leaf %d: %w", n.Commitment.Hex(), n.LeafIndex, ErrStaleTree)
		}
		p, err := st.Tree.GenerateProof(n.LeafIndex)
		if err != nil {
			return nil, nil, fmt.Errorf("note %s: %w", n.Commitment.Hex(), err)
		}
		if common.Hash(p.Leaf) != n.Commitment {
			return nil, nil, fmt.Errorf("note %s: leaf %d holds %s: %w", n.Commitment.Hex(), n.LeafIndex, p.Leaf, ErrTreeDiverged)
		}
		blindings[i] = b
		inputs[i] = prover.InputNote{
			Commitment:   n.Commitment,
			Amount:       n.Amount.Clone(),
			Blinding:     n.Blinding,
			LeafIndex:    n.LeafIndex,
			Nullifier:    n.Nullifier,
			PathElements: p.PathElements,
			PathIndices:  p.PathIndices,
		}
	}
	return inputs, blindings, nil
}

// buildOutputs commits to each output so the blindings cancel against the
// inputs, and seals an envelope for each recipient.
func buildOutputs(token common.Address, inputBlindings []fr.Element, outs []Recipient) ([]prover.OutputNote, error) {
	amounts := make([]*uint256.Int, len(outs))
	for i, o := range outs {
		amounts[i] = o.Amount
	}
	commits, err := pedersen.BalanceOutputs(inputBlindings, amounts)
	if err != nil {
		return nil, err
	}
	outputs := make([]prover.OutputNote, len(outs))
	for i, o := range outs {
		env, err := stealth.Seal(&o.PublicKeys.ViewPublicKey, &o.PublicKeys.SpendPublicKey, &stealth.Opening{
			Amount:   o.Amount,
			Blinding: commits[i].Blinding,
			Token:    token,
		})
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		memo, err := env.Encode()
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		outputs[i] = prover.OutputNote{
			Amount:             o.Amount.Clone(),
			RecipientPublicKey: o.PublicKeys,
			Commitment:         common.Hash(commits[i].Bytes()),
			Blinding:           common.Hash(commits[i].BlindingBytes()),
			Memo:               memo,
		}
	}
	return outputs, nil
}
