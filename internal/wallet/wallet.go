// wallet.go - Wallet instance, locking discipline and persistence.

package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"shieldwallet/internal/chain"
	"shieldwallet/internal/keys"
	"shieldwallet/internal/logging"
	"shieldwallet/internal/merkle"
	"shieldwallet/internal/metrics"
	"shieldwallet/internal/prover"
	"shieldwallet/internal/store"
)

// Store keys. Values are strings: hex for binary blobs, JSON for notes.
const (
	storePrefix        = "shielded_wallet:"
	KeyKeys            = storePrefix + "keys"
	KeyNotes           = storePrefix + "notes"
	KeyTree            = storePrefix + "merkle_tree"
	KeyLastSyncedBlock = storePrefix + "last_synced_block"
)

// Options tune a Wallet. The zero value uses Poseidon, timestamp nonces and no
// passphrase.
type Options struct {
	Hasher     merkle.Hasher
	Nonce      keys.NoncePolicy
	Passphrase []byte
	Scrypt     keys.ScryptParams
	Metrics    *metrics.Collector
}

// Wallet is one shielded account.
type Wallet struct {
	mu    sync.RWMutex
	state State

	chain  chain.Chain
	prover prover.Prover
	store  store.Store
	opts   Options
	log    log.Logger
}

// New wires a wallet to its collaborators. Call Initialize before use.
func New(c chain.Chain, p prover.Prover, s store.Store, opts Options) *Wallet {
	if opts.Hasher == nil {
		opts.Hasher = merkle.Poseidon{}
	}
	if opts.Nonce == nil {
		opts.Nonce = keys.TimestampNonce
	}
	if opts.Scrypt.N == 0 {
		opts.Scrypt = keys.StandardScrypt
	}
	return &Wallet{
		chain:  c,
		prover: p,
		store:  s,
		opts:   opts,
		log:    log.New("module", "wallet"),
	}
}

// Initialize loads persisted state for the signer's account, deriving and
// persisting keys on first use. Calling it again is a no-op.
func (w *Wallet) Initialize(ctx context.Context, signer keys.Signer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Initialized {
		return nil
	}

	addr, err := signer.Address(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", keys.ErrNoAccount, err)
	}
	if addr == (common.Address{}) {
		return keys.ErrNoAccount
	}

	k, err := w.loadKeys()
	if err != nil {
		return err
	}
	if k != nil && k.Address != addr {
		return fmt.Errorf("%w: stored %s, signer %s", ErrAccountMismatch, k.Address.Hex(), addr.Hex())
	}
	if k == nil {
		if k, err = keys.DeriveKeys(ctx, signer, w.opts.Nonce); err != nil {
			return err
		}
		// keys derived with a timestamp nonce cannot be re-derived, so a
		// failed write here is fatal rather than logged
		if err := w.saveKeys(k); err != nil {
			return fmt.Errorf("persist keys: %w", err)
		}
		logging.Audit("keys_derived", "address", addr)
		w.log.Info("Derived shielded keys", "address", addr)
	}

	st := State{Keys: k, Tree: merkle.New(w.opts.Hasher)}
	if err := w.loadState(&st); err != nil {
		return err
	}
	st.Initialized = true
	w.state = st
	w.log.Info("Wallet initialized", "address", addr, "notes", len(st.Notes),
		"leaves", st.Tree.Len(), "synced", st.LastSyncedBlock)
	return nil
}

// Update runs fn with exclusive access to the state and persists the result if
// fn succeeds. fn must not mutate state before its last fallible step.
func (w *Wallet) Update(fn func(st *State) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.state.Initialized {
		return ErrNotInitialized
	}
	if err := fn(&w.state); err != nil {
		return err
	}
	w.persist()
	return nil
}

// View runs fn with shared access to the state. fn must not modify it.
func (w *Wallet) View(fn func(st *State)) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	fn(&w.state)
}

func (w *Wallet) loadKeys() (*keys.WalletKeys, error) {
	v, ok, err := w.store.Get(KeyKeys)
	if err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var raw []byte
	if keys.IsSealed([]byte(v)) {
		if len(w.opts.Passphrase) == 0 {
			return nil, fmt.Errorf("load keys: sealed keys need a passphrase")
		}
		if raw, err = keys.Open([]byte(v), w.opts.Passphrase); err != nil {
			return nil, fmt.Errorf("load keys: %w", err)
		}
	} else if raw, err = hex.DecodeString(v); err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	defer clear(raw)
	return keys.Deserialize(raw)
}

func (w *Wallet) saveKeys(k *keys.WalletKeys) error {
	raw := k.Serialize()
	defer clear(raw)
	if len(w.opts.Passphrase) > 0 {
		sealed, err := keys.Seal(raw, w.opts.Passphrase, w.opts.Scrypt)
		if err != nil {
			return err
		}
		return w.store.Set(KeyKeys, string(sealed))
	}
	return w.store.Set(KeyKeys, hex.EncodeToString(raw))
}

func (w *Wallet) loadState(st *State) error {
	if v, ok, err := w.store.Get(KeyNotes); err != nil {
		return fmt.Errorf("load notes: %w", err)
	} else if ok {
		if err := json.Unmarshal([]byte(v), &st.Notes); err != nil {
			return fmt.Errorf("decode notes: %w", err)
		}
	}
	if v, ok, err := w.store.Get(KeyTree); err != nil {
		return fmt.Errorf("load merkle tree: %w", err)
	} else if ok {
		data, err := hex.DecodeString(v)
		if err != nil {
			return fmt.Errorf("decode merkle tree: %w", err)
		}
		if st.Tree, err = merkle.Deserialize(data, w.opts.Hasher); err != nil {
			return fmt.Errorf("decode merkle tree: %w", err)
		}
	}
	if v, ok, err := w.store.Get(KeyLastSyncedBlock); err != nil {
		return fmt.Errorf("load sync watermark: %w", err)
	} else if ok {
		if st.LastSyncedBlock, err = strconv.ParseUint(v, 10, 64); err != nil {
			return fmt.Errorf("decode sync watermark: %w", err)
		}
	}
	return nil
}

// persist writes notes, tree and watermark. Failures are logged; the in-memory
// state stays authoritative.
func (w *Wallet) persist() {
	st := &w.state
	notes, err := json.Marshal(st.Notes)
	if err != nil {
		w.log.Error("Failed to encode notes", "err", err)
	} else if err := w.store.Set(KeyNotes, string(notes)); err != nil {
		w.log.Error("Failed to persist notes", "err", err)
	}

	tree, err := st.Tree.Serialize()
	if err != nil {
		w.log.Error("Failed to encode merkle tree", "err", err)
	} else if err := w.store.Set(KeyTree, hex.EncodeToString(tree)); err != nil {
		w.log.Error("Failed to persist merkle tree", "err", err)
	}

	if err := w.store.Set(KeyLastSyncedBlock, strconv.FormatUint(st.LastSyncedBlock, 10)); err != nil {
		w.log.Error("Failed to persist sync watermark", "err", err)
	}
	w.opts.Metrics.SetGauge(metrics.MetricUnspentNotes, float64(len(st.UnspentNotes())), nil)
}

// Metrics returns the collector the wallet records into, possibly nil.
func (w *Wallet) Metrics() *metrics.Collector { return w.opts.Metrics }

// Initialized reports whether Initialize has completed.
func (w *Wallet) Initialized() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.Initialized
}

// Address returns the L1 account the wallet belongs to.
func (w *Wallet) Address() common.Address {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.state.Keys == nil {
		return common.Address{}
	}
	return w.state.Keys.Address
}

// PublicKeys returns the keys others need to pay this wallet.
func (w *Wallet) PublicKeys() (keys.PublicKeys, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.state.Initialized {
		return keys.PublicKeys{}, ErrNotInitialized
	}
	return w.state.Keys.ExportPublicKeys(), nil
}

// Balance returns the unspent total of token.
func (w *Wallet) Balance(token common.Address) *uint256.Int {
	var out *uint256.Int
	w.View(func(st *State) { out = st.UnspentTotal(token) })
	return out
}

// Balances returns unspent totals grouped by token.
func (w *Wallet) Balances() map[common.Address]*uint256.Int {
	var out map[common.Address]*uint256.Int
	w.View(func(st *State) { out = st.Balances() })
	return out
}

// Notes returns a copy of every note, spent or not.
func (w *Wallet) Notes() []*Note {
	var out []*Note
	w.View(func(st *State) { out = cloneNotes(st.Notes) })
	return out
}

// UnspentNotes returns a copy of the unspent notes.
func (w *Wallet) UnspentNotes() []*Note {
	var out []*Note
	w.View(func(st *State) { out = cloneNotes(st.UnspentNotes()) })
	return out
}

// NotesForToken returns a copy of all notes of token.
func (w *Wallet) NotesForToken(token common.Address) []*Note {
	var out []*Note
	w.View(func(st *State) { out = cloneNotes(st.NotesForToken(token)) })
	return out
}

// SelectNotesForAmount runs coin selection without reserving anything.
func (w *Wallet) SelectNotesForAmount(token common.Address, target *uint256.Int) Selection {
	var sel Selection
	w.View(func(st *State) {
		sel = st.SelectNotesForAmount(token, target)
		sel.Notes = cloneNotes(sel.Notes)
	})
	return sel
}

// MarkNotesSpent flags notes by nullifier and returns how many changed.
func (w *Wallet) MarkNotesSpent(nullifiers []common.Hash) (int, error) {
	var changed int
	err := w.Update(func(st *State) error {
		changed = st.MarkNotesSpent(nullifiers)
		return nil
	})
	return changed, err
}

// LastSyncedBlock returns the sync watermark.
func (w *Wallet) LastSyncedBlock() uint64 {
	var out uint64
	w.View(func(st *State) { out = st.LastSyncedBlock })
	return out
}

// Root returns the local tree root.
func (w *Wallet) Root() common.Hash {
	var out common.Hash
	w.View(func(st *State) {
		if st.Tree != nil {
			out = common.Hash(st.Tree.Root())
		}
	})
	return out
}
