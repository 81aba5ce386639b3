package wallet

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"shieldwallet/internal/keys"
	"shieldwallet/internal/merkle"
)

// State is everything the wallet owns. It is only touched through Wallet.Update
// and Wallet.View.
type State struct {
	Keys            *keys.WalletKeys
	Notes           []*Note
	Tree            *merkle.Tree
	LastSyncedBlock uint64
	Initialized     bool
}

// UnspentNotes returns every unspent note in insertion order.
func (s *State) UnspentNotes() []*Note {
	var out []*Note
	for _, n := range s.Notes {
		if !n.Spent {
			out = append(out, n)
		}
	}
	return out
}

// NotesForToken returns all notes of token, spent or not.
func (s *State) NotesForToken(token common.Address) []*Note {
	var out []*Note
	for _, n := range s.Notes {
		if n.Token == token {
			out = append(out, n)
		}
	}
	return out
}

func (s *State) unspentForToken(token common.Address) []*Note {
	var out []*Note
	for _, n := range s.Notes {
		if !n.Spent && n.Token == token {
			out = append(out, n)
		}
	}
	return out
}

// UnspentTotal sums unspent notes of token.
func (s *State) UnspentTotal(token common.Address) *uint256.Int {
	total := new(uint256.Int)
	for _, n := range s.unspentForToken(token) {
		total.Add(total, n.Amount)
	}
	return total
}

// Balances sums unspent notes grouped by token.
func (s *State) Balances() map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int)
	for _, n := range s.UnspentNotes() {
		b, ok := out[n.Token]
		if !ok {
			b = new(uint256.Int)
			out[n.Token] = b
		}
		b.Add(b, n.Amount)
	}
	return out
}

// Selection is the result of coin selection.
type Selection struct {
	Notes []*Note
	Total *uint256.Int
}

// SelectNotesForAmount picks unspent notes of token, largest first, until their
// sum reaches target. It may overshoot and does not minimise the note count.
// If the balance is short, every unspent note is returned and Total < target.
func (s *State) SelectNotesForAmount(token common.Address, target *uint256.Int) Selection {
	candidates := s.unspentForToken(token)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Amount.Gt(candidates[j].Amount)
	})

	sel := Selection{Total: new(uint256.Int)}
	for _, n := range candidates {
		if !sel.Total.Lt(target) {
			break
		}
		sel.Notes = append(sel.Notes, n)
		sel.Total.Add(sel.Total, n.Amount)
	}
	return sel
}

// MarkNotesSpent flags every note whose nullifier is in the set and returns how
// many notes changed. Already spent notes are left alone.
func (s *State) MarkNotesSpent(nullifiers []common.Hash) int {
	set := make(map[common.Hash]struct{}, len(nullifiers))
	for _, n := range nullifiers {
		set[n] = struct{}{}
	}
	changed := 0
	for _, n := range s.Notes {
		if _, ok := set[n.Nullifier]; ok && !n.Spent {
			n.Spent = true
			changed++
		}
	}
	return changed
}

// FindNote returns the note holding commitment, if any.
func (s *State) FindNote(commitment common.Hash) *Note {
	for _, n := range s.Notes {
		if n.Commitment == commitment {
			return n
		}
	}
	return nil
}

func cloneNotes(notes []*Note) []*Note {
	out := make([]*Note, len(notes))
	for i, n := range notes {
		out[i] = n.Clone()
	}
	return out
}
