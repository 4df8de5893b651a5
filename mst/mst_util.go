// Helpers for the MST implementation: layer hashing, key rules, and conversion between in-memory entries and NodeData.

package mst

import (
	"bytes"
	"context"
	"fmt"
	"math/bits"
	"regexp"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/minio/sha256-simd"
	"github.com/multiformats/go-multihash"
)

// maximum length, in bytes, of a key stored in the tree
const MaxKeyLength = 1024

// Returns the layer of the given key in a tree with the given fanout.
func LayerForKey(key string, fanout int) (int, error) {
	if err := checkFanout(fanout); err != nil {
		return -1, err
	}
	return leadingZerosOnHash(key, fanout), nil
}

func checkFanout(fanout int) error {
	switch fanout {
	case 2, 8, 16, 32, 64:
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidFanout, fanout)
	}
}

func log2(v int) int {
	var out int
	for v > 1 {
		out++
		v = v / 2
	}
	return out
}

// Used to determine the "depth" of keys in an MST. The SHA-256 of the key is read as a string of base-fanout digits, and leading zero digits are counted. Eg, with fanout 16 a leading 0x00 byte is 2 "zeros".
func leadingZerosOnHash(key string, fanout int) int {
	hv := sha256.Sum256([]byte(key))

	var total int
	for i := 0; i < len(hv); i++ {
		n := bits.LeadingZeros8(hv[i])
		total += n
		if n != 8 {
			break
		}
	}
	return total / log2(fanout)
}

// layer of the first leaf in the list, or -1 if there are no leaves
func layerForEntries(entries []NodeEntry, fanout int) int {
	for _, e := range entries {
		if e.isLeaf() {
			return leadingZerosOnHash(e.Key, fanout)
		}
	}
	return -1
}

// how many leading bytes are identical between the two strings?
func countPrefixLen(a, b string) int {
	count := min(len(a), len(b))
	for i := 0; i < count; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return count
}

// Checks that a key can be stored in the tree: non-empty printable ASCII, no longer than MaxKeyLength.
func IsValidKey(s string) bool {
	if len(s) == 0 || len(s) > MaxKeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

func ensureValidKey(s string) error {
	if !IsValidKey(s) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return nil
}

var reRecordPathChars = regexp.MustCompile("^[a-zA-Z0-9_:.~-]+$")

// Checks the conventional "{collection}/{recordKey}" key shape. The tree itself accepts any valid key; this is a convenience for callers which store records.
func IsValidRecordPath(s string) bool {
	if len(s) > 256 || strings.Count(s, "/") != 1 {
		return false
	}
	a, b, _ := strings.Cut(s, "/")
	return len(a) > 0 &&
		len(b) > 0 &&
		reRecordPathChars.MatchString(a) &&
		reRecordPathChars.MatchString(b)
}

// Wire representation of a tree node (a single block).
//
// Entries are key-compressed against the previous key in the same node. Left points to the subtree to the left of the first entry; each entry's Tree points to the subtree to its right.
type NodeData struct {
	Left    *cid.Cid    `cborgen:"l"`
	Entries []TreeEntry `cborgen:"e"`
}

// A leaf in the wire representation of a node.
type TreeEntry struct {
	PrefixLen int64    `cborgen:"p"`
	KeySuffix []byte   `cborgen:"k"`
	Val       cid.Cid  `cborgen:"v"`
	Tree      *cid.Cid `cborgen:"t"`
}

// Bytes encodes the node and computes its CID (dag-cbor, sha2-256).
func (nd *NodeData) Bytes() ([]byte, cid.Cid, error) {
	buf := new(bytes.Buffer)
	if err := nd.MarshalCBOR(buf); err != nil {
		return nil, cid.Undef, err
	}
	c, err := cid.NewPrefixV1(cid.DagCBOR, multihash.SHA2_256).Sum(buf.Bytes())
	if err != nil {
		return nil, cid.Undef, err
	}
	return buf.Bytes(), c, nil
}

// Computes (but does not persist) the CID of a node with the given entries. Child pointers must already be up to date.
func cidForEntries(ctx context.Context, entries []NodeEntry) (cid.Cid, error) {
	nd, err := serializeNodeData(ctx, entries)
	if err != nil {
		return cid.Undef, fmt.Errorf("serializing new entries: %w", err)
	}

	_, c, err := nd.Bytes()
	return c, err
}

// Fetches and decodes a single node from the blockstore.
func loadNodeData(ctx context.Context, bs Blockstore, c cid.Cid) (*NodeData, error) {
	blk, err := bs.Get(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w (%s): %w", ErrMissingContent, c, err)
	}

	var nd NodeData
	if err := nd.UnmarshalCBOR(bytes.NewReader(blk.RawData())); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrMalformedNode, c, err)
	}
	nodesLoaded.Inc()
	return &nd, nil
}

func serializeNodeData(ctx context.Context, entries []NodeEntry) (*NodeData, error) {
	data := NodeData{
		Entries: []TreeEntry{},
	}

	i := 0
	if len(entries) > 0 && entries[0].isTree() {
		i++

		ptr, err := entries[0].Tree.GetPointer(ctx)
		if err != nil {
			return nil, err
		}
		data.Left = &ptr
	}

	var lastKey string
	for i < len(entries) {
		leaf := entries[i]

		if !leaf.isLeaf() {
			return nil, fmt.Errorf("%w: two subtrees next to each other (%d, %d)", ErrMalformedNode, i, len(entries))
		}
		i++

		var subtree *cid.Cid

		if i < len(entries) {
			next := entries[i]

			if next.isTree() {
				ptr, err := next.Tree.GetPointer(ctx)
				if err != nil {
					return nil, fmt.Errorf("getting subtree pointer: %w", err)
				}

				subtree = &ptr
				i++
			}
		}

		prefixLen := countPrefixLen(lastKey, leaf.Key)
		data.Entries = append(data.Entries, TreeEntry{
			PrefixLen: int64(prefixLen),
			KeySuffix: []byte(leaf.Key[prefixLen:]),
			Val:       leaf.Val,
			Tree:      subtree,
		})

		lastKey = leaf.Key
	}

	return &data, nil
}

// Rebuilds entries from node data. Child nodes are not loaded; they are created with the pointer from the data and the layer below this one.
//
// layer is the expected layer of the node, or -1 if not known. Returns the layer of the node as determined from its leaves (or the hint, if there are no leaves).
func deserializeNodeData(bs Blockstore, nd *NodeData, layer int, fanout int) ([]NodeEntry, int, error) {
	if len(nd.Entries) > 0 {
		first := nd.Entries[0]
		if first.PrefixLen != 0 {
			return nil, -1, fmt.Errorf("%w: first entry has non-zero prefix length", ErrMalformedNode)
		}
		leafLayer := leadingZerosOnHash(string(first.KeySuffix), fanout)
		if layer >= 0 && leafLayer != layer {
			return nil, -1, fmt.Errorf("%w: expected layer %d, found leaves on layer %d", ErrMalformedNode, layer, leafLayer)
		}
		layer = leafLayer
	}

	childLayer := -1
	if layer > 0 {
		childLayer = layer - 1
	}

	entries := make([]NodeEntry, 0, 2*len(nd.Entries)+1)
	if nd.Left != nil {
		if layer == 0 {
			return nil, -1, fmt.Errorf("%w: subtree pointer on layer zero", ErrMalformedNode)
		}
		entries = append(entries, treeEntry(NewMST(bs, fanout, *nd.Left, nil, childLayer)))
	}

	var lastKey string
	for i, e := range nd.Entries {
		if e.PrefixLen < 0 || int(e.PrefixLen) > len(lastKey) {
			return nil, -1, fmt.Errorf("%w: invalid prefix length %d at entry %d", ErrMalformedNode, e.PrefixLen, i)
		}

		key := lastKey[:e.PrefixLen] + string(e.KeySuffix)
		if !IsValidKey(key) {
			return nil, -1, fmt.Errorf("%w: invalid key %q", ErrMalformedNode, key)
		}
		if i > 0 && key <= lastKey {
			return nil, -1, fmt.Errorf("%w: keys out of order (%q after %q)", ErrMalformedNode, key, lastKey)
		}
		if kl := leadingZerosOnHash(key, fanout); kl != layer {
			return nil, -1, fmt.Errorf("%w: key %q belongs on layer %d, not %d", ErrMalformedNode, key, kl, layer)
		}

		entries = append(entries, leafEntry(key, e.Val))

		if e.Tree != nil {
			if layer == 0 {
				return nil, -1, fmt.Errorf("%w: subtree pointer on layer zero", ErrMalformedNode)
			}
			entries = append(entries, treeEntry(NewMST(bs, fanout, *e.Tree, nil, childLayer)))
		}
		lastKey = key
	}

	return entries, layer, nil
}
