/*
Implementation of the Merkle Search Tree (MST) data structure.

The MST is an ordered, insert-order-independent, deterministic tree. Each key is hashed and the leading zero "digits" of the hash (in the radix given by the tree fanout) decide which layer the key lives on. Nodes are addressed by the CID of their DAG-CBOR encoding, so two trees holding the same key/value set always have the same root CID.

## Terminology

node: any node in the tree, represented by a `MerkleSearchTree` value. nodes contain multiple entries. they should never be entirely "empty", unless the entire tree is a single empty node

entry: a `NodeEntry`. either a leaf (key/CID pair) or a pointer to a child node on the layer below. entries are always lexically sorted, and there are never two child pointers adjacent in a single node

layer: the height of a node or key, with zero at the bottom of the tree

fanout: the radix used to count leading zeros; one of 2, 8, 16, 32 or 64. trees built with different fanouts are not comparable

pointer: the CID of a node. nodes are lazily loaded from a `Blockstore` by pointer, and the pointer of a mutated node is only recomputed when asked for

## Tricky Bits

When inserting:

- the inserted key might be on a "higher" layer than the current top of the tree, in which case new parent nodes need to be created, possibly with intermediate single-child nodes
- inserting a leaf in a node might require "splitting" a child node, if the key falls within the lexical range of the child

When removing:

- removing a leaf from a node might result in a "merge" of the two child nodes on either side of it
- removing a leaf from the top of the tree might leave it a simple pointer down to a child. in this case the top of the tree is "trimmed"

## Hacking

Every mutation returns a new `MerkleSearchTree`; nodes reachable from an older root are never modified. Be careful with go slices: entry slices returned by getEntries are shared and must be copied before being changed.
*/
package mst
