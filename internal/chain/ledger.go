// ledger.go - In-process simulation of the shielded pool contract.
//
// The Ledger records commitments, nullifiers and known roots the way the pool
// contract does. Every submission mines one block. It is append-only, rejects
// double spends, and is persisted as a single JSON file.

package chain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"shieldwallet/internal/merkle"
	"shieldwallet/internal/pedersen"
	"shieldwallet/internal/prover"
)

// DefaultMaxBlockRange bounds a single event query.
const DefaultMaxBlockRange = 1000

// Ledger is the canonical, append-only state of the simulated pool.
type Ledger struct {
	mu sync.Mutex

	Height        uint64                          `json:"height"`
	Events        []CommitmentEvent               `json:"events"`
	SnList        []common.Hash                   `json:"nullifiers"`
	Roots         []common.Hash                   `json:"roots"`
	Receipts      map[TxHandle]*Receipt           `json:"receipts"`
	Pool          map[common.Address]*uint256.Int `json:"pool"`
	MaxBlockRange uint64                          `json:"max_block_range"`

	tree  *merkle.Tree
	spent map[common.Hash]struct{}
	roots map[common.Hash]struct{}
}

var _ Chain = (*Ledger)(nil)

// NewLedger creates an empty ledger whose tree uses h.
func NewLedger(h merkle.Hasher) *Ledger {
	l := &Ledger{
		Events:        make([]CommitmentEvent, 0),
		SnList:        make([]common.Hash, 0),
		Receipts:      make(map[TxHandle]*Receipt),
		Pool:          make(map[common.Address]*uint256.Int),
		MaxBlockRange: DefaultMaxBlockRange,
		tree:          merkle.New(h),
		spent:         make(map[common.Hash]struct{}),
		roots:         make(map[common.Hash]struct{}),
	}
	l.recordRoot()
	return l
}

func (l *Ledger) recordRoot() {
	r := common.Hash(l.tree.Root())
	if _, ok := l.roots[r]; ok {
		return
	}
	l.roots[r] = struct{}{}
	l.Roots = append(l.Roots, r)
}

// mine opens a new block and returns a handle for the transaction in it.
func (l *Ledger) mine(kind string) (TxHandle, uint64) {
	l.Height++
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], l.Height)
	return TxHandle(crypto.Keccak256Hash([]byte(kind), h[:]).Hex()), l.Height
}

func (l *Ledger) revert(h TxHandle, block uint64, reason string) {
	log.Debug("Simulated transaction reverted", "tx", h, "block", block, "reason", reason)
	l.Receipts[h] = &Receipt{Success: false, BlockNumber: block, Reason: reason}
}

func (l *Ledger) appendCommitment(c common.Hash, memo []byte, block uint64) (uint64, error) {
	idx, err := l.tree.InsertLeaf(merkle.Node(c))
	if err != nil {
		return 0, err
	}
	l.Events = append(l.Events, CommitmentEvent{
		Commitment:  c,
		Memo:        append([]byte(nil), memo...),
		LeafIndex:   idx,
		BlockNumber: block,
	})
	return idx, nil
}

func (l *Ledger) SubmitDeposit(ctx context.Context, d *Deposit) (TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h, block := l.mine("deposit")
	if d.Amount == nil || d.Amount.IsZero() {
		l.revert(h, block, "zero deposit")
		return h, nil
	}
	if _, err := pedersen.Decode(d.Commitment[:]); err != nil {
		l.revert(h, block, "invalid commitment")
		return h, nil
	}
	pool := l.poolFor(d.Token)
	if _, overflow := pool.AddOverflow(pool, d.Amount); overflow {
		return "", errors.New("pool balance overflow")
	}
	idx, err := l.appendCommitment(d.Commitment, d.Memo, block)
	if err != nil {
		return "", errors.Wrap(err, "append deposit commitment")
	}
	l.recordRoot()
	l.Receipts[h] = &Receipt{Success: true, BlockNumber: block, Leaves: []uint64{idx}}
	return h, nil
}

func (l *Ledger) poolFor(token common.Address) *uint256.Int {
	p, ok := l.Pool[token]
	if !ok {
		p = new(uint256.Int)
		l.Pool[token] = p
	}
	return p
}

func (l *Ledger) SubmitTransfer(ctx context.Context, pi *prover.PublicInputs, proof []byte) (TxHandle, error) {
	return l.submitSpend(ctx, "transfer", pi, proof)
}

func (l *Ledger) SubmitWithdraw(ctx context.Context, pi *prover.PublicInputs, proof []byte) (TxHandle, error) {
	return l.submitSpend(ctx, "withdraw", pi, proof)
}

func (l *Ledger) submitSpend(ctx context.Context, kind string, pi *prover.PublicInputs, proof []byte) (TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h, block := l.mine(kind)
	if reason := l.checkSpend(kind, pi, proof); reason != "" {
		l.revert(h, block, reason)
		return h, nil
	}

	for _, n := range pi.Nullifiers {
		l.spent[n] = struct{}{}
		l.SnList = append(l.SnList, n)
	}
	leaves := make([]uint64, len(pi.OutputCommitments))
	for i, c := range pi.OutputCommitments {
		idx, err := l.appendCommitment(c, pi.Memos[i], block)
		if err != nil {
			return "", errors.Wrapf(err, "append %s output %d", kind, i)
		}
		leaves[i] = idx
	}
	if kind == "withdraw" {
		pool := l.poolFor(pi.Token)
		pool.Sub(pool, pi.PublicAmount)
	}
	l.recordRoot()
	l.Receipts[h] = &Receipt{Success: true, BlockNumber: block, Leaves: leaves}
	return h, nil
}

// checkSpend returns a revert reason, or "" if the spend is valid.
func (l *Ledger) checkSpend(kind string, pi *prover.PublicInputs, proof []byte) string {
	if !prover.VerifyTranscript(pi, proof) {
		return "invalid proof"
	}
	if _, ok := l.roots[pi.Root]; !ok {
		return "unknown root"
	}
	if len(pi.Memos) != len(pi.OutputCommitments) {
		return "memo count mismatch"
	}
	seen := make(map[common.Hash]struct{}, len(pi.Nullifiers))
	for _, n := range pi.Nullifiers {
		if _, ok := l.spent[n]; ok {
			return "double-spend detected: nullifier already in ledger"
		}
		if _, ok := seen[n]; ok {
			return "duplicate nullifier"
		}
		seen[n] = struct{}{}
	}
	hasPublic := pi.PublicAmount != nil && !pi.PublicAmount.IsZero()
	switch kind {
	case "transfer":
		if hasPublic {
			return "transfer cannot release public funds"
		}
	case "withdraw":
		if !hasPublic {
			return "zero withdrawal"
		}
		if pi.Recipient == (common.Address{}) {
			return "missing recipient"
		}
		if l.poolFor(pi.Token).Lt(pi.PublicAmount) {
			return "pool balance too low"
		}
	}
	return ""
}

func (l *Ledger) WaitForConfirmation(ctx context.Context, h TxHandle) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.Receipts[h]
	if !ok {
		return nil, errors.Errorf("unknown transaction %s", h)
	}
	cp := *r
	cp.Leaves = append([]uint64(nil), r.Leaves...)
	return &cp, nil
}

// GetNewCommitmentEvents returns the events mined in
// [fromBlock, min(fromBlock+MaxBlockRange, head+1)) and the upper bound of
// that window.
func (l *Ledger) GetNewCommitmentEvents(ctx context.Context, fromBlock uint64) ([]CommitmentEvent, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	to := l.Height + 1
	if l.MaxBlockRange > 0 && fromBlock+l.MaxBlockRange < to {
		to = fromBlock + l.MaxBlockRange
	}
	if to < fromBlock {
		to = fromBlock
	}
	out := make([]CommitmentEvent, 0)
	for _, ev := range l.Events {
		if ev.BlockNumber < fromBlock {
			continue
		}
		if ev.BlockNumber >= to {
			break
		}
		ev.Memo = append([]byte(nil), ev.Memo...)
		out = append(out, ev)
	}
	return out, to, nil
}

func (l *Ledger) IsNullifierUsed(ctx context.Context, n common.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.spent[n]
	return ok, nil
}

// HasCommitment reports whether c is a leaf of the pool tree.
func (l *Ledger) HasCommitment(c common.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tree.FindLeafIndex(merkle.Node(c))
	return ok
}

// Root returns the current pool root.
func (l *Ledger) Root() common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return common.Hash(l.tree.Root())
}

// PoolBalance returns the public value locked for token.
func (l *Ledger) PoolBalance(token common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poolFor(token).Clone()
}

// BlockNumber returns the latest mined block.
func (l *Ledger) BlockNumber() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Height
}

// SaveToFile writes the ledger as indented JSON, overwriting path.
func (l *Ledger) SaveToFile(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create ledger file")
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(l), "encode ledger")
}

// LoadLedgerFromFile reads a ledger written by SaveToFile and rebuilds its tree
// with h. The stored roots must match the rebuilt tree.
func LoadLedgerFromFile(path string, h merkle.Hasher) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger file")
	}
	defer f.Close()

	l := NewLedger(h)
	l.Roots = nil
	l.roots = make(map[common.Hash]struct{})
	if err := json.NewDecoder(f).Decode(l); err != nil {
		return nil, errors.Wrap(err, "decode ledger")
	}
	for _, ev := range l.Events {
		if _, err := l.tree.InsertLeaf(merkle.Node(ev.Commitment)); err != nil {
			return nil, errors.Wrap(err, "rebuild ledger tree")
		}
	}
	for _, r := range l.Roots {
		l.roots[r] = struct{}{}
	}
	if _, ok := l.roots[common.Hash(l.tree.Root())]; !ok {
		return nil, errors.Errorf("ledger %s: rebuilt root %s not in root history", path, l.tree.Root())
	}
	for _, n := range l.SnList {
		l.spent[n] = struct{}{}
	}
	if l.Receipts == nil {
		l.Receipts = make(map[TxHandle]*Receipt)
	}
	if l.Pool == nil {
		l.Pool = make(map[common.Address]*uint256.Int)
	}
	return l, nil
}
