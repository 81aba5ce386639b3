// Package syncer reconciles a wallet against the pool contract: it mirrors new
// commitments into the local tree, picks up notes addressed to the wallet and
// flags notes whose nullifiers the chain has seen.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/merkle"
	"shieldwallet/internal/metrics"
	"shieldwallet/internal/stealth"
	"shieldwallet/internal/wallet"
)

// ErrSync matches every error returned by Sync.
var ErrSync = errors.New("sync failed")

// Error records the stage a sync attempt failed in. Nothing was applied.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sync failed at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSync) hold for every *Error.
func (e *Error) Is(target error) bool { return target == ErrSync }

// Report summarises one sync attempt.
type Report struct {
	FromBlock  uint64
	ToBlock    uint64
	Events     int
	Appended   int
	Discovered int
	NewlySpent int
	// Reindexed counts notes whose leaf index and nullifier were corrected.
	Reindexed int
	// Rebuilt is set when the local tree was replayed from the first block.
	Rebuilt bool
	// Skipped is set when the wallet had nothing to reconcile.
	Skipped bool
}

type Syncer struct {
	wallet  *wallet.Wallet
	chain   chain.Chain
	metrics *metrics.Collector
	log     log.Logger

	mu          sync.Mutex
	lastSuccess time.Time
	lastErr     error
}

func New(w *wallet.Wallet, c chain.Chain, m *metrics.Collector) *Syncer {
	return &Syncer{wallet: w, chain: c, metrics: m, log: log.New("module", "syncer")}
}

// Sync runs one reconciliation pass. An empty wallet at block zero returns a
// skipped report without contacting the chain; use Rescan to scan anyway.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	return s.run(ctx, false)
}

// Rescan replays the pool from its first block into a fresh tree. Use it for
// wallets that have only ever received funds, or to repair a local tree.
func (s *Syncer) Rescan(ctx context.Context) (*Report, error) {
	return s.run(ctx, true)
}

func (s *Syncer) run(ctx context.Context, rescan bool) (*Report, error) {
	start := time.Now()
	var rep *Report
	err := s.wallet.Update(func(st *wallet.State) error {
		var err error
		rep, err = s.reconcile(ctx, st, rescan)
		return err
	})
	if err != nil {
		var se *Error
		if !errors.As(err, &se) {
			err = &Error{Stage: "wallet", Err: err}
		}
		s.metrics.RecordError("sync")
		s.setResult(err)
		return nil, err
	}
	s.setResult(nil)
	if !rep.Skipped {
		s.metrics.RecordSync(time.Since(start), rep.Discovered, rep.NewlySpent, rep.ToBlock)
	}
	return rep, nil
}

// reconcile stages every change on copies and only writes them into st once
// all chain calls have succeeded.
func (s *Syncer) reconcile(ctx context.Context, st *wallet.State, rescan bool) (*Report, error) {
	rep := &Report{FromBlock: st.LastSyncedBlock, ToBlock: st.LastSyncedBlock}
	if !rescan && len(st.Notes) == 0 && st.LastSyncedBlock == 0 {
		rep.Skipped = true
		return rep, nil
	}

	tree, from := st.Tree.Clone(), st.LastSyncedBlock
	if rescan {
		tree, from = merkle.New(st.Tree.Hasher()), 0
		rep.FromBlock, rep.Rebuilt = 0, true
	}
	events, to, err := s.fetch(ctx, from)
	if err != nil {
		return nil, err
	}
	appended, err := mirror(tree, events)
	if errors.Is(err, wallet.ErrTreeDiverged) && !rep.Rebuilt {
		s.log.Warn("Local tree diverged from chain, replaying from the first block", "err", err)
		tree, rep.FromBlock, rep.Rebuilt = merkle.New(st.Tree.Hasher()), 0, true
		if events, to, err = s.fetch(ctx, 0); err != nil {
			return nil, err
		}
		appended, err = mirror(tree, events)
	}
	if err != nil {
		return nil, &Error{Stage: "append", Err: err}
	}
	rep.Events, rep.Appended = len(events), appended
	if to > rep.ToBlock {
		rep.ToBlock = to
	}

	var found []*wallet.Note
	for _, ev := range events {
		if len(ev.Memo) == 0 || st.FindNote(ev.Commitment) != nil || containsNote(found, ev.Commitment) {
			continue
		}
		if n := s.claim(st, ev); n != nil {
			found = append(found, n)
		}
	}

	// leaf indexes follow the chain; nullifiers follow the indexes
	notes := make([]*wallet.Note, len(st.Notes))
	for i, n := range st.Notes {
		notes[i] = n
		idx, ok := tree.FindLeafIndex(merkle.Node(n.Commitment))
		if !ok || idx == n.LeafIndex {
			continue
		}
		s.log.Warn("Correcting note leaf index", "commitment", n.Commitment, "local", n.LeafIndex, "chain", idx)
		fixed := n.Clone()
		fixed.LeafIndex = idx
		fixed.Nullifier = wallet.ComputeNullifier(&st.Keys.SpendPrivateKey, idx, n.Commitment)
		notes[i] = fixed
		rep.Reindexed++
	}

	// discovered notes may already be spent if we are catching up
	var unspent []*wallet.Note
	for _, n := range notes {
		if !n.Spent {
			unspent = append(unspent, n)
		}
	}
	unspent = append(unspent, found...)
	var spent []common.Hash
	for _, n := range unspent {
		used, err := s.chain.IsNullifierUsed(ctx, n.Nullifier)
		if err != nil {
			s.metrics.RecordCollaboratorError("nullifier_status")
			return nil, &Error{Stage: "nullifier_status", Err: errors.Wrapf(err, "nullifier %s", n.Nullifier.Hex())}
		}
		if used {
			spent = append(spent, n.Nullifier)
		}
	}

	st.Tree = tree
	st.Notes = append(notes, found...)
	st.LastSyncedBlock = rep.ToBlock
	rep.Discovered = len(found)
	rep.NewlySpent = st.MarkNotesSpent(spent)

	if rep.Events > 0 || rep.NewlySpent > 0 || rep.Reindexed > 0 {
		s.log.Info("Wallet synced", "from", rep.FromBlock, "to", rep.ToBlock, "events", rep.Events,
			"appended", rep.Appended, "discovered", rep.Discovered, "spent", rep.NewlySpent,
			"reindexed", rep.Reindexed, "rebuilt", rep.Rebuilt)
	} else {
		s.log.Debug("Wallet up to date", "block", rep.ToBlock)
	}
	return rep, nil
}

// fetch pages through commitment events from block from up to the chain head.
// It returns the events and the first block not scanned.
func (s *Syncer) fetch(ctx context.Context, from uint64) ([]chain.CommitmentEvent, uint64, error) {
	var all []chain.CommitmentEvent
	for {
		events, next, err := s.chain.GetNewCommitmentEvents(ctx, from)
		if err != nil {
			s.metrics.RecordCollaboratorError("commitment_events")
			return nil, 0, &Error{Stage: "commitment_events", Err: errors.Wrapf(err, "from block %d", from)}
		}
		all = append(all, events...)
		if n := len(events); n > 0 && events[n-1].BlockNumber+1 > next {
			next = events[n-1].BlockNumber + 1
		}
		if next <= from {
			return all, from, nil
		}
		from = next
	}
}

// mirror places events into tree by their chain leaf index.
func mirror(tree *merkle.Tree, events []chain.CommitmentEvent) (int, error) {
	appended := 0
	for _, ev := range events {
		ok, err := wallet.AppendEvent(tree, ev)
		if err != nil {
			return appended, err
		}
		if ok {
			appended++
		}
	}
	return appended, nil
}

// claim decrypts an envelope addressed to us. Foreign or malformed memos are
// not errors; the pool carries everybody's notes.
func (s *Syncer) claim(st *wallet.State, ev chain.CommitmentEvent) *wallet.Note {
	env, err := stealth.DecodeEnvelope(ev.Memo)
	if err != nil {
		s.log.Debug("Skipping undecodable memo", "commitment", ev.Commitment, "err", err)
		return nil
	}
	o, err := stealth.DecryptNote(env, &st.Keys.ViewPrivateKey, &st.Keys.SpendPublicKey)
	if err != nil {
		if !errors.Is(err, stealth.ErrNotOwned) {
			s.log.Warn("Envelope failed to open", "commitment", ev.Commitment, "err", err)
		}
		return nil
	}
	if o.Amount.IsZero() {
		// zero change outputs only balance blindings
		return nil
	}
	n, err := wallet.NoteFromOpening(st.Keys, ev.Commitment, o, ev.LeafIndex, ev.BlockNumber)
	if err != nil {
		s.log.Warn("Envelope opening does not match commitment", "commitment", ev.Commitment, "err", err)
		return nil
	}
	s.log.Info("Discovered note", "commitment", ev.Commitment, "token", n.Token, "amount", n.Amount, "leaf", ev.LeafIndex)
	return n
}

func containsNote(notes []*wallet.Note, c common.Hash) bool {
	for _, n := range notes {
		if n.Commitment == c {
			return true
		}
	}
	return false
}

// Tick runs Sync and logs failures instead of returning them, so a scheduler
// can retry on its next tick.
func (s *Syncer) Tick(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil {
		s.log.Warn("Sync attempt failed, will retry", "err", err)
	}
}

func (s *Syncer) setResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if err == nil {
		s.lastSuccess = time.Now()
	}
}

// LastSuccess returns when a sync last completed, or the zero time.
func (s *Syncer) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

// LastError returns the error of the most recent attempt, nil if it succeeded.
func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
