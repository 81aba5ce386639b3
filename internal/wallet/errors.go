package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when unspent notes of a token cannot cover a spend.
	ErrInsufficientBalance = errors.New("insufficient shielded balance")
	// ErrNotInitialized is returned by operations that need keys before Initialize ran.
	ErrNotInitialized = errors.New("wallet not initialized")
	// ErrAccountMismatch is returned when persisted keys belong to another L1 account.
	ErrAccountMismatch = errors.New("persisted keys belong to a different account")
	// ErrNoRecipients is returned for transfers without outputs.
	ErrNoRecipients = errors.New("transfer needs at least one recipient")
	// ErrZeroAmount is returned for zero-value deposits, outputs or withdrawals.
	ErrZeroAmount = errors.New("amount must be positive")
	// ErrAmountOverflow is returned when output amounts do not fit in 256 bits.
	ErrAmountOverflow = errors.New("amount overflow")
	// ErrRejected marks a collaborator that answered but refused the request.
	ErrRejected = errors.New("rejected")
	// ErrStaleTree is returned when a note's leaf is not in the local tree yet.
	// A sync brings the tree up to the chain.
	ErrStaleTree = errors.New("local tree is behind the chain")
	// ErrTreeDiverged is returned when a chain event contradicts a local leaf.
	ErrTreeDiverged = errors.New("local tree diverged from the chain")
)

// CollaboratorError reports a failed chain or prover call. Nothing was mutated.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func collaboratorError(op string, err error) error {
	return &CollaboratorError{Op: op, Err: err}
}

func rejected(op, reason string) error {
	return &CollaboratorError{Op: op, Err: fmt.Errorf("%w: %s", ErrRejected, reason)}
}
