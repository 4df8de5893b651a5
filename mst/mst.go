package mst

import (
	"context"
	"errors"
	"fmt"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
)

// Blockstore is the content store a tree reads nodes from and saves nodes to. Any go-ipfs-blockstore Blockstore satisfies it.
type Blockstore interface {
	Has(ctx context.Context, c cid.Cid) (bool, error)
	Get(ctx context.Context, c cid.Cid) (blocks.Block, error)
	Put(ctx context.Context, blk blocks.Block) error
}

const DefaultFanout = 16

var ErrDuplicateKey = errors.New("mst: value already set at key")

var ErrKeyNotFound = errors.New("mst: could not find a record with key")

var ErrLayerMismatch = errors.New("mst: cannot merge nodes from different layers")

var ErrMalformedNode = errors.New("mst: malformed node")

var ErrMissingContent = errors.New("mst: missing node content")

var ErrInvalidKey = errors.New("mst: not a valid key")

var ErrInvalidFanout = errors.New("mst: not a valid fanout")

// A node of a Merkle Search Tree. The root node is the tree itself.
//
// Values are immutable from the caller's point of view: every mutating method returns a new tree and leaves the receiver (and every node reachable from it) untouched. The lazily loaded entries and memoized pointer are guarded by a mutex, so a single tree may be read from multiple goroutines.
type MerkleSearchTree struct {
	bs     Blockstore
	fanout int

	lk sync.Mutex
	// nil until loaded from the blockstore
	entries []NodeEntry
	// -1 until known
	layer int
	// CID of the node; only trusted when validPtr is set
	pointer  cid.Cid
	validPtr bool
}

// Low-level constructor. Callers should usually go through NewEmptyMST, LoadMST or NewMSTFromData, which check the fanout.
//
// ptr may be cid.Undef, in which case the pointer will be computed from entries on demand. entries may be nil if ptr is defined (lazy load). layer may be -1 if not known.
func NewMST(bs Blockstore, fanout int, ptr cid.Cid, entries []NodeEntry, layer int) *MerkleSearchTree {
	return &MerkleSearchTree{
		bs:       bs,
		fanout:   fanout,
		pointer:  ptr,
		layer:    layer,
		entries:  entries,
		validPtr: ptr.Defined(),
	}
}

// Creates a new, empty tree.
func NewEmptyMST(bs Blockstore, fanout int) (*MerkleSearchTree, error) {
	if err := checkFanout(fanout); err != nil {
		return nil, err
	}
	return NewMST(bs, fanout, cid.Undef, []NodeEntry{}, 0), nil
}

// Returns a tree rooted at the given CID. Nothing is read from the blockstore until the tree is used.
func LoadMST(bs Blockstore, fanout int, root cid.Cid) (*MerkleSearchTree, error) {
	if err := checkFanout(fanout); err != nil {
		return nil, err
	}
	if !root.Defined() {
		return nil, fmt.Errorf("loading tree: undefined root CID")
	}
	return NewMST(bs, fanout, root, nil, -1), nil
}

// Builds a tree node from already-decoded node data. Child nodes are loaded lazily from bs.
func NewMSTFromData(bs Blockstore, fanout int, nd *NodeData) (*MerkleSearchTree, error) {
	if err := checkFanout(fanout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedNode, err)
	}
	entries, layer, err := deserializeNodeData(bs, nd, -1, fanout)
	if err != nil {
		return nil, err
	}
	_, ptr, err := nd.Bytes()
	if err != nil {
		return nil, err
	}
	return NewMST(bs, fanout, ptr, entries, layer), nil
}

// We never mutate a node; every change returns a new node with an outdated pointer
func (mst *MerkleSearchTree) newTree(entries []NodeEntry) *MerkleSearchTree {
	mst.lk.Lock()
	layer := mst.layer
	mst.lk.Unlock()
	return NewMST(mst.bs, mst.fanout, cid.Undef, entries, layer)
}

func (mst *MerkleSearchTree) Fanout() int {
	return mst.fanout
}

// Returns a copy of this node's entries, loading them if needed.
func (mst *MerkleSearchTree) Entries(ctx context.Context) ([]NodeEntry, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]NodeEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Returns the layer of this node (zero at the bottom of the tree).
func (mst *MerkleSearchTree) Layer(ctx context.Context) (int, error) {
	return mst.getLayer(ctx)
}

// Returns the CID of this node, recomputing it (and any outdated child pointers) if the node was modified.
func (mst *MerkleSearchTree) GetPointer(ctx context.Context) (cid.Cid, error) {
	mst.lk.Lock()
	if mst.validPtr {
		ptr := mst.pointer
		mst.lk.Unlock()
		return ptr, nil
	}
	mst.lk.Unlock()

	entries, err := mst.getEntries(ctx)
	if err != nil {
		return cid.Undef, err
	}

	// children first; only outdated ones do any work
	for _, e := range entries {
		if e.isTree() {
			if _, err := e.Tree.GetPointer(ctx); err != nil {
				return cid.Undef, err
			}
		}
	}

	nptr, err := cidForEntries(ctx, entries)
	if err != nil {
		return cid.Undef, err
	}

	mst.lk.Lock()
	mst.pointer = nptr
	mst.validPtr = true
	mst.lk.Unlock()

	return nptr, nil
}

func (mst *MerkleSearchTree) getEntries(ctx context.Context) ([]NodeEntry, error) {
	mst.lk.Lock()
	defer mst.lk.Unlock()

	if mst.entries != nil {
		return mst.entries, nil
	}

	if !mst.pointer.Defined() {
		return nil, fmt.Errorf("%w: no entries or cid provided", ErrMalformedNode)
	}

	nd, err := loadNodeData(ctx, mst.bs, mst.pointer)
	if err != nil {
		return nil, err
	}

	entries, layer, err := deserializeNodeData(mst.bs, nd, mst.layer, mst.fanout)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", mst.pointer, err)
	}
	mst.entries = entries
	if mst.layer < 0 {
		mst.layer = layer
	}
	return entries, nil
}

// Layer comes from a hint on creation, or from the first leaf. Nodes with no leaves are one above their first child; an empty node is on layer zero.
func (mst *MerkleSearchTree) getLayer(ctx context.Context) (int, error) {
	mst.lk.Lock()
	layer := mst.layer
	mst.lk.Unlock()
	if layer >= 0 {
		return layer, nil
	}

	entries, err := mst.getEntries(ctx)
	if err != nil {
		return -1, err
	}

	layer = layerForEntries(entries, mst.fanout)
	if layer < 0 {
		if len(entries) > 0 && entries[0].isTree() {
			childLayer, err := entries[0].Tree.getLayer(ctx)
			if err != nil {
				return -1, err
			}
			layer = childLayer + 1
		} else {
			// still empty!
			layer = 0
		}
	}

	mst.lk.Lock()
	mst.layer = layer
	mst.lk.Unlock()
	return layer, nil
}

// Adds a new leaf for the given key/value pair. Fails with ErrDuplicateKey if a leaf with that key already exists.
//
// knownZeros is the layer of the key if the caller already computed it; pass -1 otherwise. A layer that does not match the key is ErrLayerMismatch.
func (mst *MerkleSearchTree) Add(ctx context.Context, key string, val cid.Cid, knownZeros int) (*MerkleSearchTree, error) {
	if err := ensureValidKey(key); err != nil {
		return nil, err
	}
	keyZeros := leadingZerosOnHash(key, mst.fanout)
	if knownZeros >= 0 && knownZeros != keyZeros {
		return nil, fmt.Errorf("%w: key %q is on layer %d, not %d", ErrLayerMismatch, key, keyZeros, knownZeros)
	}
	return mst.add(ctx, key, val, keyZeros)
}

// keyZeros must already be the layer of a valid key.
func (mst *MerkleSearchTree) add(ctx context.Context, key string, val cid.Cid, keyZeros int) (*MerkleSearchTree, error) {
	layer, err := mst.getLayer(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting layer failed: %w", err)
	}

	newLeaf := leafEntry(key, val)

	if keyZeros == layer {
		// it belongs to me
		index, err := mst.findGtOrEqualLeafIndex(ctx, key)
		if err != nil {
			return nil, err
		}

		found, err := mst.atIndex(ctx, index)
		if err != nil {
			return nil, err
		}

		if found.isLeaf() && found.Key == key {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}

		prevNode, err := mst.atIndex(ctx, index-1)
		if err != nil {
			return nil, err
		}

		if prevNode.isUndefined() || prevNode.isLeaf() {
			// if entry before is a leaf (or we're on far left) we can just splice in
			return mst.spliceIn(ctx, newLeaf, index)
		}

		// otherwise the key falls inside the preceding subtree, which must be split around it
		left, right, err := prevNode.Tree.splitAround(ctx, key)
		if err != nil {
			return nil, err
		}

		return mst.replaceWithSplit(ctx, index-1, left, newLeaf, right)
	} else if keyZeros < layer {
		// it belongs on a lower layer
		index, err := mst.findGtOrEqualLeafIndex(ctx, key)
		if err != nil {
			return nil, err
		}

		prevNode, err := mst.atIndex(ctx, index-1)
		if err != nil {
			return nil, err
		}

		if prevNode.isTree() {
			newSubtree, err := prevNode.Tree.add(ctx, key, val, keyZeros)
			if err != nil {
				return nil, err
			}

			return mst.updateEntry(ctx, index-1, treeEntry(newSubtree))
		}

		subTree, err := mst.createChild(ctx)
		if err != nil {
			return nil, err
		}

		newSubTree, err := subTree.add(ctx, key, val, keyZeros)
		if err != nil {
			return nil, fmt.Errorf("subtree add: %w", err)
		}

		return mst.spliceIn(ctx, treeEntry(newSubTree), index)
	}

	// it belongs on a higher layer, and the rest of the tree gets pushed down
	left, right, err := mst.splitAround(ctx, key)
	if err != nil {
		return nil, err
	}

	// if the new key is two or more layers above the current top, add structural nodes in between.
	// starting at 1, since the first layer is taken care of by the split
	extraLayersToAdd := keyZeros - layer
	for i := 1; i < extraLayersToAdd; i++ {
		if left != nil {
			par, err := left.createParent(ctx)
			if err != nil {
				return nil, fmt.Errorf("create left parent: %w", err)
			}
			left = par
		}

		if right != nil {
			par, err := right.createParent(ctx)
			if err != nil {
				return nil, fmt.Errorf("create right parent: %w", err)
			}
			right = par
		}
	}

	var updated []NodeEntry
	if left != nil {
		updated = append(updated, treeEntry(left))
	}
	updated = append(updated, newLeaf)
	if right != nil {
		updated = append(updated, treeEntry(right))
	}

	if err := checkTreeInvariant(updated); err != nil {
		return nil, err
	}

	return NewMST(mst.bs, mst.fanout, cid.Undef, updated, keyZeros), nil
}

// Gets the value at the given key. Returns nil (and no error) if the key is not in the tree.
func (mst *MerkleSearchTree) Get(ctx context.Context, key string) (*cid.Cid, error) {
	index, err := mst.findGtOrEqualLeafIndex(ctx, key)
	if err != nil {
		return nil, err
	}

	found, err := mst.atIndex(ctx, index)
	if err != nil {
		return nil, err
	}

	if found.isLeaf() && found.Key == key {
		val := found.Val
		return &val, nil
	}

	prev, err := mst.atIndex(ctx, index-1)
	if err != nil {
		return nil, err
	}

	if prev.isTree() {
		return prev.Tree.Get(ctx, key)
	}

	return nil, nil
}

// Edits the value at the given key. Fails with ErrKeyNotFound if the key does not exist.
func (mst *MerkleSearchTree) Edit(ctx context.Context, key string, val cid.Cid) (*MerkleSearchTree, error) {
	index, err := mst.findGtOrEqualLeafIndex(ctx, key)
	if err != nil {
		return nil, err
	}

	found, err := mst.atIndex(ctx, index)
	if err != nil {
		return nil, err
	}

	if found.isLeaf() && found.Key == key {
		return mst.updateEntry(ctx, index, leafEntry(key, val))
	}

	prev, err := mst.atIndex(ctx, index-1)
	if err != nil {
		return nil, err
	}

	if prev.isTree() {
		updatedTree, err := prev.Tree.Edit(ctx, key, val)
		if err != nil {
			return nil, err
		}
		return mst.updateEntry(ctx, index-1, treeEntry(updatedTree))
	}

	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

// Deletes the value at the given key. Fails with ErrKeyNotFound if the key does not exist.
func (mst *MerkleSearchTree) Delete(ctx context.Context, key string) (*MerkleSearchTree, error) {
	altered, err := mst.deleteRecurse(ctx, key)
	if err != nil {
		return nil, err
	}
	return altered.trimTop(ctx)
}

func (mst *MerkleSearchTree) deleteRecurse(ctx context.Context, key string) (*MerkleSearchTree, error) {
	index, err := mst.findGtOrEqualLeafIndex(ctx, key)
	if err != nil {
		return nil, err
	}

	found, err := mst.atIndex(ctx, index)
	if err != nil {
		return nil, err
	}

	// if found, remove it on this level
	if found.isLeaf() && found.Key == key {
		prev, err := mst.atIndex(ctx, index-1)
		if err != nil {
			return nil, err
		}

		next, err := mst.atIndex(ctx, index+1)
		if err != nil {
			return nil, err
		}

		if prev.isTree() && next.isTree() {
			merged, err := prev.Tree.appendMerge(ctx, next.Tree)
			if err != nil {
				return nil, err
			}

			entries, err := mst.getEntries(ctx)
			if err != nil {
				return nil, err
			}

			nents := make([]NodeEntry, 0, len(entries)-2)
			nents = append(nents, entries[:index-1]...)
			nents = append(nents, treeEntry(merged))
			nents = append(nents, entries[index+2:]...)

			if err := checkTreeInvariant(nents); err != nil {
				return nil, err
			}
			return mst.newTree(nents), nil
		}

		return mst.removeEntry(ctx, index)
	}

	// else recurse down to find it
	prev, err := mst.atIndex(ctx, index-1)
	if err != nil {
		return nil, err
	}

	if !prev.isTree() {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	subtree, err := prev.Tree.deleteRecurse(ctx, key)
	if err != nil {
		return nil, err
	}

	subTreeEntries, err := subtree.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	if len(subTreeEntries) == 0 {
		return mst.removeEntry(ctx, index-1)
	}

	return mst.updateEntry(ctx, index-1, treeEntry(subtree))
}

// Strips the top of the tree after a delete: a root which is just a pointer to a child is replaced by that child, and an empty root goes back to layer zero.
func (mst *MerkleSearchTree) trimTop(ctx context.Context) (*MerkleSearchTree, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	if len(entries) == 1 && entries[0].isTree() {
		return entries[0].Tree.trimTop(ctx)
	}

	if len(entries) == 0 {
		layer, err := mst.getLayer(ctx)
		if err != nil {
			return nil, err
		}
		if layer != 0 {
			return NewMST(mst.bs, mst.fanout, cid.Undef, []NodeEntry{}, 0), nil
		}
	}

	return mst, nil
}

func (mst *MerkleSearchTree) createParent(ctx context.Context) (*MerkleSearchTree, error) {
	layer, err := mst.getLayer(ctx)
	if err != nil {
		return nil, err
	}

	return NewMST(mst.bs, mst.fanout, cid.Undef, []NodeEntry{treeEntry(mst)}, layer+1), nil
}

func (mst *MerkleSearchTree) createChild(ctx context.Context) (*MerkleSearchTree, error) {
	layer, err := mst.getLayer(ctx)
	if err != nil {
		return nil, err
	}

	return NewMST(mst.bs, mst.fanout, cid.Undef, []NodeEntry{}, layer-1), nil
}

// Returns the entry at the given index, or an EntryUndefined entry when out of range.
func (mst *MerkleSearchTree) atIndex(ctx context.Context, ix int) (NodeEntry, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return NodeEntry{}, err
	}

	if ix < 0 || ix >= len(entries) {
		return NodeEntry{}, nil
	}

	return entries[ix], nil
}

// Returns a copy of entries[start:end]. end < 0 means to the end of the entries.
func (mst *MerkleSearchTree) slice(ctx context.Context, start, end int) ([]NodeEntry, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	if end < 0 || end > len(entries) {
		end = len(entries)
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		start = end
	}

	out := make([]NodeEntry, end-start)
	copy(out, entries[start:end])
	return out, nil
}

// finds index of the first leaf entry with a key greater than or equal to the given key. if there is none, we're on the end
func (mst *MerkleSearchTree) findGtOrEqualLeafIndex(ctx context.Context, key string) (int, error) {
	entries, err := mst.getEntries(ctx)
	if err != nil {
		return -1, err
	}

	for i, e := range entries {
		if e.isLeaf() && e.Key >= key {
			return i, nil
		}
	}

	return len(entries), nil
}
