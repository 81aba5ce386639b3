// Package wallet keeps the notes a shielded account owns and builds its deposits,
// transfers and withdrawals.
//
// Overview:
//   - A Note is one committed amount of one token, spendable once
//   - The local Merkle tree is a prefix of the pool's on-chain tree, each leaf at the
//     index the chain assigned it, and supplies membership proofs
//   - Spends reveal a nullifier per input; the chain rejects any nullifier it has seen
//   - Outputs go to one-time stealth addresses with the opening encrypted in the memo
//
// Concurrency:
//   - All mutations run through Wallet.Update, which holds the wallet lock for the
//     whole operation including chain and prover calls
//   - Reads go through Wallet.View or the query helpers and may run in parallel
//   - State is persisted after every successful mutation; a failed write is logged
//     and the in-memory state stays authoritative
//
// Inputs are marked spent only after the chain confirms the spend. Outputs of a
// transfer are not added locally; the recipient and our own change are picked up
// by the next sync.
package wallet
