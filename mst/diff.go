package mst

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ipfs/go-cid"
	"go.opentelemetry.io/otel/attribute"
)

type DataAdd struct {
	Key string
	Cid cid.Cid
}

type DataUpdate struct {
	Key  string
	Prev cid.Cid
	Cid  cid.Cid
}

type DataDelete struct {
	Key string
	Cid cid.Cid
}

// The set of changes between two trees, plus the CIDs of tree nodes which exist in the newer tree but not the older one.
type DataDiff struct {
	adds    map[string]DataAdd
	updates map[string]DataUpdate
	deletes map[string]DataDelete

	newCids map[cid.Cid]struct{}
}

func NewDataDiff() *DataDiff {
	return &DataDiff{
		adds:    make(map[string]DataAdd),
		updates: make(map[string]DataUpdate),
		deletes: make(map[string]DataDelete),
		newCids: make(map[cid.Cid]struct{}),
	}
}

// Records a key added in the newer tree. An earlier delete of the same key turns into an update (or nothing, if the value is unchanged).
func (d *DataDiff) RecordAdd(key string, c cid.Cid) {
	if del, ok := d.deletes[key]; ok {
		delete(d.deletes, key)
		if del.Cid != c {
			d.updates[key] = DataUpdate{Key: key, Prev: del.Cid, Cid: c}
		}
		return
	}
	d.adds[key] = DataAdd{Key: key, Cid: c}
}

func (d *DataDiff) RecordUpdate(key string, prev, c cid.Cid) {
	d.updates[key] = DataUpdate{Key: key, Prev: prev, Cid: c}
}

// Records a key removed in the newer tree. An earlier add of the same key turns into an update (or nothing, if the value is unchanged).
func (d *DataDiff) RecordDelete(key string, c cid.Cid) {
	if add, ok := d.adds[key]; ok {
		delete(d.adds, key)
		if add.Cid != c {
			d.updates[key] = DataUpdate{Key: key, Prev: c, Cid: add.Cid}
		}
		return
	}
	d.deletes[key] = DataDelete{Key: key, Cid: c}
}

func (d *DataDiff) RecordNewCid(c cid.Cid) {
	d.newCids[c] = struct{}{}
}

func (d *DataDiff) AddList() []DataAdd {
	out := make([]DataAdd, 0, len(d.adds))
	for _, a := range d.adds {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (d *DataDiff) UpdateList() []DataUpdate {
	out := make([]DataUpdate, 0, len(d.updates))
	for _, u := range d.updates {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (d *DataDiff) DeleteList() []DataDelete {
	out := make([]DataDelete, 0, len(d.deletes))
	for _, del := range d.deletes {
		out = append(out, del)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// CIDs of the nodes of the newer tree which are not part of the older tree.
func (d *DataDiff) NewCids() []cid.Cid {
	out := make([]cid.Cid, 0, len(d.newCids))
	for c := range d.newCids {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyString() < out[j].KeyString() })
	return out
}

// Sorted list of every key touched by the diff.
func (d *DataDiff) UpdatedKeys() []string {
	keys := make([]string, 0, len(d.adds)+len(d.updates)+len(d.deletes))
	for k := range d.adds {
		keys = append(keys, k)
	}
	for k := range d.updates {
		keys = append(keys, k)
	}
	for k := range d.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *DataDiff) IsEmpty() bool {
	return len(d.adds) == 0 && len(d.updates) == 0 && len(d.deletes) == 0
}

// Computes the changes needed to go from this tree to other.
//
// Both trees are walked as sorted "frontiers" of entries. Subtrees with equal pointers are skipped without being loaded; other subtrees are replaced in the frontier by their entries until leaves can be compared.
func (mst *MerkleSearchTree) Diff(ctx context.Context, other *MerkleSearchTree) (*DataDiff, error) {
	ctx, span := tracer.Start(ctx, "Diff")
	defer span.End()

	start := time.Now()
	defer func() {
		diffDuration.Observe(time.Since(start).Seconds())
	}()

	if mst.fanout != other.fanout {
		return nil, fmt.Errorf("%w: cannot diff trees with different fanouts (%d, %d)", ErrInvalidFanout, mst.fanout, other.fanout)
	}

	diff := NewDataDiff()

	// pointers of older-tree nodes; a node can be opened up on the newer side before its twin shows up on the older side
	seenFrom := make(map[cid.Cid]struct{})

	// frontiers are stacks: the next entry to compare is at the end
	from := []NodeEntry{treeEntry(mst)}
	to := []NodeEntry{treeEntry(other)}

	for len(from) > 0 && len(to) > 0 {
		ef := from[len(from)-1]
		et := to[len(to)-1]

		if ef.isLeaf() && et.isLeaf() {
			switch {
			case ef.Key == et.Key:
				if ef.Val != et.Val {
					diff.RecordUpdate(ef.Key, ef.Val, et.Val)
				}
				from = from[:len(from)-1]
				to = to[:len(to)-1]
			case ef.Key < et.Key:
				// only walk forward the side that was 'behind'
				diff.RecordDelete(ef.Key, ef.Val)
				from = from[:len(from)-1]
			default:
				diff.RecordAdd(et.Key, et.Val)
				to = to[:len(to)-1]
			}
			continue
		}

		if ef.isTree() && et.isTree() {
			fptr, err := ef.Tree.GetPointer(ctx)
			if err != nil {
				return nil, err
			}
			seenFrom[fptr] = struct{}{}
			tptr, err := et.Tree.GetPointer(ctx)
			if err != nil {
				return nil, err
			}

			if fptr == tptr {
				from = from[:len(from)-1]
				to = to[:len(to)-1]
				continue
			}

			flayer, err := ef.Tree.getLayer(ctx)
			if err != nil {
				return nil, err
			}
			tlayer, err := et.Tree.getLayer(ctx)
			if err != nil {
				return nil, err
			}

			if flayer >= tlayer {
				from, err = expandFrontier(ctx, from)
				if err != nil {
					return nil, err
				}
			}
			if tlayer >= flayer {
				diff.RecordNewCid(tptr)
				to, err = expandFrontier(ctx, to)
				if err != nil {
					return nil, err
				}
			}
			continue
		}

		// a leaf against a subtree: open up the subtree, and compare again
		if ef.isTree() {
			fptr, err := ef.Tree.GetPointer(ctx)
			if err != nil {
				return nil, err
			}
			seenFrom[fptr] = struct{}{}
			from, err = expandFrontier(ctx, from)
			if err != nil {
				return nil, err
			}
		} else {
			tptr, err := et.Tree.GetPointer(ctx)
			if err != nil {
				return nil, err
			}
			diff.RecordNewCid(tptr)
			to, err = expandFrontier(ctx, to)
			if err != nil {
				return nil, err
			}
		}
	}

	// whatever is left on one side has no counterpart on the other
	for i := len(from) - 1; i >= 0; i-- {
		e := from[i]
		if e.isLeaf() {
			diff.RecordDelete(e.Key, e.Val)
			continue
		}
		fptr, err := e.Tree.GetPointer(ctx)
		if err != nil {
			return nil, err
		}
		seenFrom[fptr] = struct{}{}
		if err := e.Tree.Walk(ctx, func(ne NodeEntry) error {
			if ne.isLeaf() {
				diff.RecordDelete(ne.Key, ne.Val)
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	for i := len(to) - 1; i >= 0; i-- {
		e := to[i]
		if e.isLeaf() {
			diff.RecordAdd(e.Key, e.Val)
			continue
		}
		if err := e.Tree.Walk(ctx, func(ne NodeEntry) error {
			if ne.isLeaf() {
				diff.RecordAdd(ne.Key, ne.Val)
				return nil
			}
			ptr, err := ne.Tree.GetPointer(ctx)
			if err != nil {
				return err
			}
			diff.RecordNewCid(ptr)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	for c := range seenFrom {
		delete(diff.newCids, c)
	}

	diffOps.WithLabelValues("add").Add(float64(len(diff.adds)))
	diffOps.WithLabelValues("mut").Add(float64(len(diff.updates)))
	diffOps.WithLabelValues("del").Add(float64(len(diff.deletes)))
	span.SetAttributes(
		attribute.Int("adds", len(diff.adds)),
		attribute.Int("updates", len(diff.updates)),
		attribute.Int("deletes", len(diff.deletes)),
	)

	return diff, nil
}

// Replaces the subtree at the top of the frontier stack with its entries.
func expandFrontier(ctx context.Context, front []NodeEntry) ([]NodeEntry, error) {
	top := front[len(front)-1]
	front = front[:len(front)-1]

	entries, err := top.Tree.getEntries(ctx)
	if err != nil {
		return nil, err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		front = append(front, entries[i])
	}
	return front, nil
}

type DiffOp struct {
	Op     string
	Rpath  string
	OldCid cid.Cid
	NewCid cid.Cid
}

// Loads two trees by root CID and returns the operations which turn the first into the second, ordered by key. If from is undefined, every leaf of the second tree is an "add".
func DiffTrees(ctx context.Context, bs Blockstore, fanout int, from, to cid.Cid) ([]*DiffOp, error) {
	if !from.Defined() {
		return identityDiff(ctx, bs, fanout, to)
	}

	ft, err := LoadMST(bs, fanout, from)
	if err != nil {
		return nil, err
	}

	tt, err := LoadMST(bs, fanout, to)
	if err != nil {
		return nil, err
	}

	diff, err := ft.Diff(ctx, tt)
	if err != nil {
		return nil, err
	}

	var out []*DiffOp
	for _, a := range diff.AddList() {
		out = append(out, &DiffOp{
			Op:     "add",
			Rpath:  a.Key,
			NewCid: a.Cid,
		})
	}
	for _, u := range diff.UpdateList() {
		out = append(out, &DiffOp{
			Op:     "mut",
			Rpath:  u.Key,
			OldCid: u.Prev,
			NewCid: u.Cid,
		})
	}
	for _, d := range diff.DeleteList() {
		out = append(out, &DiffOp{
			Op:     "del",
			Rpath:  d.Key,
			OldCid: d.Cid,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Rpath < out[j].Rpath })
	return out, nil
}

func identityDiff(ctx context.Context, bs Blockstore, fanout int, root cid.Cid) ([]*DiffOp, error) {
	tt, err := LoadMST(bs, fanout, root)
	if err != nil {
		return nil, err
	}

	var ops []*DiffOp
	if err := tt.WalkLeavesFrom(ctx, "", func(key string, val cid.Cid) error {
		ops = append(ops, &DiffOp{
			Op:     "add",
			Rpath:  key,
			NewCid: val,
		})
		return nil
	}); err != nil {
		return nil, err
	}
	return ops, nil
}
