// tree.go - Append-only incremental Merkle tree of note commitments.
//
// The tree mirrors the on-chain accumulator: same depth, same hash, same empty
// subtree values, same left/right convention. Only non-empty nodes are stored,
// one slice per level; anything past the end of a level is the zero hash for
// that level.

package merkle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
)

// Depth of the tree. Capacity is 2^Depth leaves.
const Depth = 32

// Capacity is the number of leaves the tree can hold.
const Capacity = uint64(1) << Depth

var (
	ErrTreeFull          = errors.New("merkle: tree is full")
	ErrLeafOutOfRange    = errors.New("merkle: leaf index out of range")
	ErrHasherMismatch    = errors.New("merkle: hasher mismatch")
	ErrCorruptSerialized = errors.New("merkle: corrupt serialized tree")
)

// Node is a 32-byte big-endian field element.
type Node [32]byte

// Big returns the node as an integer.
func (n Node) Big() *big.Int { return new(big.Int).SetBytes(n[:]) }

// Hex returns the 0x-prefixed encoding.
func (n Node) Hex() string { return hexutil.Encode(n[:]) }

func (n Node) String() string { return n.Hex() }

// NodeFromBig left-pads b into a node. b must fit in 32 bytes.
func NodeFromBig(b *big.Int) Node {
	var n Node
	b.FillBytes(n[:])
	return n
}

// Tree is an incremental Merkle tree. It is not safe for concurrent use; the
// wallet serialises access to it.
type Tree struct {
	hasher Hasher
	zeros  [Depth + 1]Node
	levels [Depth + 1][]Node // levels[0] holds field-reduced leaves
	leaves []Node            // raw commitments in insertion order
	index  map[Node]uint64
	limit  uint64
}

// New returns an empty tree using h.
func New(h Hasher) *Tree {
	t := &Tree{hasher: h, index: make(map[Node]uint64), limit: Capacity}
	t.zeros[0] = h.ZeroLeaf()
	for i := 1; i <= Depth; i++ {
		t.zeros[i] = h.Hash(t.zeros[i-1], t.zeros[i-1])
	}
	return t
}

// Hasher returns the tree's hash function.
func (t *Tree) Hasher() Hasher { return t.hasher }

// Len returns the number of leaves inserted so far.
func (t *Tree) Len() uint64 { return uint64(len(t.leaves)) }

// Root returns the current root. An empty tree has the zero root of full depth.
func (t *Tree) Root() Node {
	return t.nodeAt(Depth, 0)
}

// ZeroRoot returns the root of the empty tree for this hasher.
func (t *Tree) ZeroRoot() Node { return t.zeros[Depth] }

// Leaf returns the raw leaf stored at index.
func (t *Tree) Leaf(index uint64) (Node, error) {
	if index >= t.Len() {
		return Node{}, ErrLeafOutOfRange
	}
	return t.leaves[index], nil
}

func (t *Tree) nodeAt(level int, pos uint64) Node {
	if pos < uint64(len(t.levels[level])) {
		return t.levels[level][pos]
	}
	return t.zeros[level]
}

func (t *Tree) set(level int, pos uint64, n Node) {
	if pos == uint64(len(t.levels[level])) {
		t.levels[level] = append(t.levels[level], n)
		return
	}
	t.levels[level][pos] = n
}

// InsertLeaf appends a commitment and returns its index. Only the path from the
// new leaf to the root is rehashed.
func (t *Tree) InsertLeaf(leaf Node) (uint64, error) {
	idx := t.Len()
	if idx >= t.limit {
		return 0, ErrTreeFull
	}
	t.leaves = append(t.leaves, leaf)
	if _, ok := t.index[leaf]; !ok {
		t.index[leaf] = idx
	}

	node := ToField(leaf[:])
	pos := idx
	for level := 0; level < Depth; level++ {
		t.set(level, pos, node)
		if pos%2 == 0 {
			node = t.hasher.Hash(node, t.nodeAt(level, pos+1))
		} else {
			node = t.hasher.Hash(t.nodeAt(level, pos-1), node)
		}
		pos /= 2
	}
	t.set(Depth, 0, node)
	return idx, nil
}

// FindLeafIndex returns the index of the first occurrence of leaf.
func (t *Tree) FindLeafIndex(leaf Node) (uint64, bool) {
	idx, ok := t.index[leaf]
	return idx, ok
}

// Proof is an authentication path from a leaf to the root.
type Proof struct {
	Leaf         Node
	LeafIndex    uint64
	PathElements [Depth]Node
	// PathIndices[i] is 1 when the tracked node at level i is a right child.
	PathIndices [Depth]uint8
	Root        Node
}

// GenerateProof builds the authentication path for the leaf at index.
func (t *Tree) GenerateProof(index uint64) (*Proof, error) {
	if index >= t.Len() {
		return nil, fmt.Errorf("%w: %d of %d", ErrLeafOutOfRange, index, t.Len())
	}
	p := &Proof{Leaf: t.leaves[index], LeafIndex: index, Root: t.Root()}
	pos := index
	for level := 0; level < Depth; level++ {
		if pos%2 == 0 {
			p.PathElements[level] = t.nodeAt(level, pos+1)
		} else {
			p.PathElements[level] = t.nodeAt(level, pos-1)
			p.PathIndices[level] = 1
		}
		pos /= 2
	}
	return p, nil
}

// ComputeRoot folds a leaf up its authentication path.
func ComputeRoot(h Hasher, leaf Node, elements *[Depth]Node, indices *[Depth]uint8) Node {
	node := ToField(leaf[:])
	for level := 0; level < Depth; level++ {
		if indices[level] == 0 {
			node = h.Hash(node, elements[level])
		} else {
			node = h.Hash(elements[level], node)
		}
	}
	return node
}

// VerifyProof reports whether p authenticates its leaf against root.
func VerifyProof(h Hasher, p *Proof, root Node) bool {
	for level := 0; level < Depth; level++ {
		if p.PathIndices[level] != uint8((p.LeafIndex>>level)&1) {
			return false
		}
	}
	return ComputeRoot(h, p.Leaf, &p.PathElements, &p.PathIndices) == root
}

// Clone returns an independent copy. Sync stages its appends on a clone so a
// failed pass leaves the live tree untouched.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		hasher: t.hasher,
		zeros:  t.zeros,
		leaves: append([]Node(nil), t.leaves...),
		index:  make(map[Node]uint64, len(t.index)),
		limit:  t.limit,
	}
	for i := range t.levels {
		c.levels[i] = append([]Node(nil), t.levels[i]...)
	}
	for k, v := range t.index {
		c.index[k] = v
	}
	return c
}

type serializedTree struct {
	Hasher string
	Leaves []Node
}

// Serialize encodes the hasher name and leaves with RLP. Internal nodes are
// rebuilt on load.
func (t *Tree) Serialize() ([]byte, error) {
	return rlp.EncodeToBytes(&serializedTree{Hasher: t.hasher.Name(), Leaves: t.leaves})
}

// Deserialize rebuilds a tree from Serialize output. When want is non-nil the
// stored hasher must match it.
func Deserialize(data []byte, want Hasher) (*Tree, error) {
	var s serializedTree
	if err := rlp.DecodeBytes(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSerialized, err)
	}
	h, err := HasherByName(s.Hasher)
	if err != nil {
		return nil, err
	}
	if want != nil && want.Name() != h.Name() {
		return nil, fmt.Errorf("%w: stored %s, configured %s", ErrHasherMismatch, h.Name(), want.Name())
	}
	t := New(h)
	for _, leaf := range s.Leaves {
		if _, err := t.InsertLeaf(leaf); err != nil {
			return nil, err
		}
	}
	return t, nil
}
