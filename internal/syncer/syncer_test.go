package syncer

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/keys"
	"shieldwallet/internal/merkle"
	"shieldwallet/internal/metrics"
	"shieldwallet/internal/prover"
	"shieldwallet/internal/signer"
	"shieldwallet/internal/store"
	"shieldwallet/internal/wallet"
)

var token = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// flakyChain fails selected calls while the flags are set.
type flakyChain struct {
	*chain.Ledger
	failEvents     bool
	failNullifiers bool
	eventCalls     int
}

func (c *flakyChain) GetNewCommitmentEvents(ctx context.Context, from uint64) ([]chain.CommitmentEvent, uint64, error) {
	c.eventCalls++
	if c.failEvents {
		return nil, 0, errors.New("rpc timeout")
	}
	return c.Ledger.GetNewCommitmentEvents(ctx, from)
}

func (c *flakyChain) IsNullifierUsed(ctx context.Context, n common.Hash) (bool, error) {
	if c.failNullifiers {
		return false, errors.New("rpc timeout")
	}
	return c.Ledger.IsNullifierUsed(ctx, n)
}

func newSigner(t *testing.T) *signer.Local {
	t.Helper()
	s, err := signer.Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return s
}

func newWallet(t *testing.T, c chain.Chain, sg keys.Signer) *wallet.Wallet {
	t.Helper()
	w := wallet.New(c, prover.NewDev(merkle.Poseidon{}), store.NewMemory(), wallet.Options{Nonce: keys.FixedNonce("test")})
	if err := w.Initialize(context.Background(), sg); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return w
}

func pubKeys(t *testing.T, w *wallet.Wallet) keys.PublicKeys {
	t.Helper()
	pk, err := w.PublicKeys()
	if err != nil {
		t.Fatalf("PublicKeys failed: %v", err)
	}
	return pk
}

func unspentAmounts(w *wallet.Wallet) []uint64 {
	var out []uint64
	for _, n := range w.UnspentNotes() {
		out = append(out, n.Amount.Uint64())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equal(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSyncEndToEnd(t *testing.T) {
	ctx := context.Background()
	l := chain.NewLedger(merkle.Poseidon{})
	w := newWallet(t, l, newSigner(t))
	m := metrics.NewCollector()
	s := New(w, l, m)

	orig, err := w.Deposit(ctx, token, uint256.NewInt(100))
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if got := unspentAmounts(w); !equal(got, []uint64{100}) {
		t.Fatalf("unspent after deposit = %v", got)
	}

	self := pubKeys(t, w)
	res, err := w.Transfer(ctx, token, []wallet.Recipient{
		{Amount: uint256.NewInt(60), PublicKeys: self},
		{Amount: uint256.NewInt(40), PublicKeys: self},
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if !res.Change.IsZero() || len(res.Outputs) != 2 {
		t.Fatalf("unexpected transfer result %+v", res)
	}

	rep, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Events != 3 || rep.Appended != 2 || rep.Discovered != 2 {
		t.Errorf("unexpected report %+v", rep)
	}
	if rep.ToBlock != l.BlockNumber()+1 || w.LastSyncedBlock() != rep.ToBlock {
		t.Errorf("watermark = %d, want %d", w.LastSyncedBlock(), l.BlockNumber()+1)
	}
	if got := unspentAmounts(w); !equal(got, []uint64{40, 60}) {
		t.Errorf("unspent after sync = %v, want [40 60]", got)
	}
	for _, n := range w.Notes() {
		if n.Commitment == orig.Commitment && !n.Spent {
			t.Error("original note should be spent")
		}
	}
	if w.Root() != l.Root() {
		t.Error("local root diverged from the chain")
	}
	if got := m.Counter(metrics.MetricNotesDiscovered, nil); got != 2 {
		t.Errorf("discovered counter = %d, want 2", got)
	}

	t.Run("idempotent", func(t *testing.T) {
		before := w.LastSyncedBlock()
		rep, err := s.Sync(ctx)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if rep.Events != 0 || rep.Discovered != 0 || w.LastSyncedBlock() != before {
			t.Errorf("repeat sync changed state: %+v", rep)
		}
		if got := len(w.Notes()); got != 3 {
			t.Errorf("notes = %d, want 3", got)
		}
	})

	t.Run("discovered notes are spendable", func(t *testing.T) {
		if _, err := w.Withdraw(ctx, token, uint256.NewInt(90), common.HexToAddress("0xcc")); err != nil {
			t.Fatalf("Withdraw failed: %v", err)
		}
		if _, err := s.Sync(ctx); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if got := unspentAmounts(w); !equal(got, []uint64{10}) {
			t.Errorf("unspent after withdraw = %v, want [10]", got)
		}
	})
}

func TestSyncShortCircuit(t *testing.T) {
	ctx := context.Background()
	c := &flakyChain{Ledger: chain.NewLedger(merkle.Poseidon{}), failEvents: true}
	w := newWallet(t, c, newSigner(t))
	s := New(w, c, nil)

	rep, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !rep.Skipped || c.eventCalls != 0 {
		t.Errorf("empty wallet contacted the chain: %+v, %d calls", rep, c.eventCalls)
	}

	if _, err := s.Rescan(ctx); !errors.Is(err, ErrSync) {
		t.Errorf("Rescan error = %v, want ErrSync", err)
	}
	if c.eventCalls != 1 {
		t.Errorf("event calls = %d, want 1", c.eventCalls)
	}
}

func TestSyncReceivesPayment(t *testing.T) {
	ctx := context.Background()
	l := chain.NewLedger(merkle.Poseidon{})
	alice := newWallet(t, l, newSigner(t))
	bob := newWallet(t, l, newSigner(t))

	if _, err := alice.Deposit(ctx, token, uint256.NewInt(50)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := alice.Transfer(ctx, token, []wallet.Recipient{{Amount: uint256.NewInt(20), PublicKeys: pubKeys(t, bob)}}); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	sb := New(bob, l, nil)
	rep, err := sb.Rescan(ctx)
	if err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}
	if rep.Discovered != 1 {
		t.Errorf("bob discovered %d notes, want 1", rep.Discovered)
	}
	if got := bob.Balance(token).Uint64(); got != 20 {
		t.Errorf("bob balance = %d, want 20", got)
	}

	sa := New(alice, l, nil)
	if _, err := sa.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if got := alice.Balance(token).Uint64(); got != 30 {
		t.Errorf("alice balance = %d, want 30 change", got)
	}

	// bob now has notes, so a plain sync runs and finds nothing new
	rep, err = sb.Sync(ctx)
	if err != nil || rep.Skipped || rep.Discovered != 0 {
		t.Errorf("second bob sync = %+v, %v", rep, err)
	}
}

func TestSyncMarksSpentElsewhere(t *testing.T) {
	ctx := context.Background()
	l := chain.NewLedger(merkle.Poseidon{})
	sg := newSigner(t)
	// two devices with the same account and nonce derive the same keys
	w1 := newWallet(t, l, sg)
	w2 := newWallet(t, l, sg)

	if _, err := w1.Deposit(ctx, token, uint256.NewInt(70)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	s2 := New(w2, l, nil)
	if _, err := s2.Rescan(ctx); err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}
	if got := w2.Balance(token).Uint64(); got != 70 {
		t.Fatalf("w2 balance = %d, want 70", got)
	}

	if _, err := w1.Withdraw(ctx, token, uint256.NewInt(70), common.HexToAddress("0xcc")); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	rep, err := s2.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.NewlySpent != 1 {
		t.Errorf("NewlySpent = %d, want 1", rep.NewlySpent)
	}
	if got := w2.Balance(token); !got.IsZero() {
		t.Errorf("w2 balance = %s, want 0", got)
	}
}

func TestSyncRollback(t *testing.T) {
	ctx := context.Background()
	c := &flakyChain{Ledger: chain.NewLedger(merkle.Poseidon{})}
	w := newWallet(t, c, newSigner(t))
	s := New(w, c, metrics.NewCollector())

	if _, err := w.Deposit(ctx, token, uint256.NewInt(9)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := w.Transfer(ctx, token, []wallet.Recipient{{Amount: uint256.NewInt(9), PublicKeys: pubKeys(t, w)}}); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	root, notes, mark := w.Root(), len(w.Notes()), w.LastSyncedBlock()

	for _, stage := range []string{"commitment_events", "nullifier_status"} {
		t.Run(stage, func(t *testing.T) {
			c.failEvents = stage == "commitment_events"
			c.failNullifiers = stage == "nullifier_status"
			_, err := s.Sync(ctx)
			var se *Error
			if !errors.As(err, &se) || se.Stage != stage {
				t.Fatalf("error = %v, want stage %s", err, stage)
			}
			if !errors.Is(err, ErrSync) {
				t.Error("error does not match ErrSync")
			}
			if w.Root() != root || len(w.Notes()) != notes || w.LastSyncedBlock() != mark {
				t.Error("failed sync applied partial state")
			}
			if s.LastError() == nil {
				t.Error("LastError not recorded")
			}
		})
	}

	c.failEvents, c.failNullifiers = false, false
	s.Tick(ctx)
	if s.LastError() != nil || s.LastSuccess().IsZero() {
		t.Fatalf("retry did not succeed: %v", s.LastError())
	}
	if got := unspentAmounts(w); !equal(got, []uint64{9}) {
		t.Errorf("unspent after retry = %v, want [9]", got)
	}
	if time.Since(s.LastSuccess()) > time.Minute {
		t.Error("LastSuccess not updated")
	}
}

func TestTickSwallowsErrors(t *testing.T) {
	c := &flakyChain{Ledger: chain.NewLedger(merkle.Poseidon{})}
	w := wallet.New(c, prover.NewDev(merkle.Poseidon{}), store.NewMemory(), wallet.Options{})
	s := New(w, c, nil)

	s.Tick(context.Background())
	err := s.LastError()
	if !errors.Is(err, ErrSync) || !errors.Is(err, wallet.ErrNotInitialized) {
		t.Errorf("LastError = %v, want ErrSync wrapping ErrNotInitialized", err)
	}
}

func TestSyncPastEmptyBlocks(t *testing.T) {
	ctx := context.Background()
	l := chain.NewLedger(merkle.Poseidon{})
	l.MaxBlockRange = 2
	w := newWallet(t, l, newSigner(t))
	s := New(w, l, nil)

	if _, err := w.Deposit(ctx, token, uint256.NewInt(100)); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		h, _ := l.SubmitDeposit(ctx, &chain.Deposit{Token: token, Amount: new(uint256.Int)})
		if r, _ := l.WaitForConfirmation(ctx, h); r.Success {
			t.Fatal("zero deposit should revert")
		}
	}

	rep, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Events != 0 || w.LastSyncedBlock() != l.BlockNumber()+1 {
		t.Errorf("watermark = %d after empty blocks, want %d", w.LastSyncedBlock(), l.BlockNumber()+1)
	}

	self := pubKeys(t, w)
	if _, err := w.Transfer(ctx, token, []wallet.Recipient{
		{Amount: uint256.NewInt(60), PublicKeys: self},
		{Amount: uint256.NewInt(40), PublicKeys: self},
	}); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		h, _ := l.SubmitDeposit(ctx, &chain.Deposit{Token: token, Amount: new(uint256.Int)})
		l.WaitForConfirmation(ctx, h)
	}
	if _, err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if got := unspentAmounts(w); !equal(got, []uint64{40, 60}) {
		t.Errorf("unspent = %v, want [40 60]", got)
	}
	if w.LastSyncedBlock() != l.BlockNumber()+1 || w.Root() != l.Root() {
		t.Errorf("wallet at block %d, chain head %d", w.LastSyncedBlock(), l.BlockNumber())
	}
}

// misplaceDeposit rewrites a wallet as if its only note had been appended at
// leaf 0 of an otherwise empty tree while the chain holds it at leaf 1.
func misplaceDeposit(t *testing.T, w *wallet.Wallet, watermark uint64) {
	t.Helper()
	err := w.Update(func(st *wallet.State) error {
		n := st.Notes[0]
		st.Tree = merkle.New(merkle.Poseidon{})
		if _, err := st.Tree.InsertLeaf(merkle.Node(n.Commitment)); err != nil {
			return err
		}
		n.LeafIndex = 0
		n.Nullifier = wallet.ComputeNullifier(&st.Keys.SpendPrivateKey, 0, n.Commitment)
		st.LastSyncedBlock = watermark
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestSyncRepairsMisplacedLeaves(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*chain.Ledger, *wallet.Wallet, *wallet.Wallet) {
		t.Helper()
		l := chain.NewLedger(merkle.Poseidon{})
		bob := newWallet(t, l, newSigner(t))
		alice := newWallet(t, l, newSigner(t))
		if _, err := bob.Deposit(ctx, token, uint256.NewInt(10)); err != nil {
			t.Fatalf("bob Deposit failed: %v", err)
		}
		if _, err := alice.Deposit(ctx, token, uint256.NewInt(100)); err != nil {
			t.Fatalf("alice Deposit failed: %v", err)
		}
		misplaceDeposit(t, alice, l.BlockNumber()+1)
		if alice.Root() == l.Root() {
			t.Fatal("setup should leave alice on a foreign root")
		}
		return l, alice, bob
	}
	check := func(t *testing.T, l *chain.Ledger, alice, bob *wallet.Wallet) {
		t.Helper()
		if alice.Root() != l.Root() {
			t.Fatal("alice root still differs from the chain")
		}
		n := alice.Notes()[0]
		if n.LeafIndex != 1 {
			t.Errorf("leaf = %d, want 1", n.LeafIndex)
		}
		if _, err := alice.Transfer(ctx, token, []wallet.Recipient{{Amount: uint256.NewInt(100), PublicKeys: pubKeys(t, bob)}}); err != nil {
			t.Fatalf("Transfer failed: %v", err)
		}
	}

	t.Run("rescan", func(t *testing.T) {
		l, alice, bob := setup(t)
		rep, err := New(alice, l, nil).Rescan(ctx)
		if err != nil {
			t.Fatalf("Rescan failed: %v", err)
		}
		if !rep.Rebuilt || rep.Reindexed != 1 || rep.Discovered != 0 {
			t.Errorf("unexpected report %+v", rep)
		}
		check(t, l, alice, bob)
	})

	t.Run("sync on the next event", func(t *testing.T) {
		l, alice, bob := setup(t)
		if _, err := bob.Deposit(ctx, token, uint256.NewInt(5)); err != nil {
			t.Fatalf("bob Deposit failed: %v", err)
		}
		rep, err := New(alice, l, nil).Sync(ctx)
		if err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if !rep.Rebuilt || rep.Reindexed != 1 || rep.Appended != 3 {
			t.Errorf("unexpected report %+v", rep)
		}
		check(t, l, alice, bob)
	})
}
