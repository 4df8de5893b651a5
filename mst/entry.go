package mst

import (
	"github.com/ipfs/go-cid"
)

const (
	EntryUndefined = 0
	EntryLeaf      = 1
	EntryTree      = 2
)

// Represents an entry in a `MerkleSearchTree` node: either a key/CID leaf, or a pointer to a child node on the layer below.
//
// Leaf entries have Key and Val set; tree entries have Tree set. The zero value (EntryUndefined) is returned for out-of-range lookups.
type NodeEntry struct {
	Kind int
	Key  string
	Val  cid.Cid
	Tree *MerkleSearchTree
}

func leafEntry(key string, val cid.Cid) NodeEntry {
	return NodeEntry{
		Kind: EntryLeaf,
		Key:  key,
		Val:  val,
	}
}

func treeEntry(t *MerkleSearchTree) NodeEntry {
	return NodeEntry{
		Kind: EntryTree,
		Tree: t,
	}
}

func (ne NodeEntry) isTree() bool {
	return ne.Kind == EntryTree
}

func (ne NodeEntry) isLeaf() bool {
	return ne.Kind == EntryLeaf
}

func (ne NodeEntry) isUndefined() bool {
	return ne.Kind == EntryUndefined
}

// IsLeaf reports whether the entry is a key/CID pair.
func (ne NodeEntry) IsLeaf() bool {
	return ne.isLeaf()
}

// IsTree reports whether the entry points to a child node.
func (ne NodeEntry) IsTree() bool {
	return ne.isTree()
}
