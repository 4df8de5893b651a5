package mst

import (
	"context"
	mrand "math/rand"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeCids(t *testing.T, tree *MerkleSearchTree) map[cid.Cid]bool {
	t.Helper()
	ctx := context.Background()
	nodes, err := tree.AllNodes(ctx)
	require.NoError(t, err)
	out := make(map[cid.Cid]bool, len(nodes))
	for _, n := range nodes {
		ptr, err := n.GetPointer(ctx)
		require.NoError(t, err)
		out[ptr] = true
	}
	return out
}

func TestDiffSameTree(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	rng := mrand.New(mrand.NewSource(20))

	keys := randomKeys(rng, 200)
	vals := make(map[string]cid.Cid, len(keys))
	for _, k := range keys {
		vals[k] = cidForString(k)
	}
	tree := cidMapToMst(t, memBs(), 16, vals)
	root, err := tree.GetPointer(ctx)
	require.NoError(t, err)

	diff, err := tree.Diff(ctx, tree)
	require.NoError(t, err)
	assert.True(diff.IsEmpty())
	assert.Empty(diff.NewCids())

	// nothing is in this blockstore, so any attempt to descend would fail
	a, err := LoadMST(memBs(), 16, root)
	require.NoError(t, err)
	b, err := LoadMST(memBs(), 16, root)
	require.NoError(t, err)
	diff, err = a.Diff(ctx, b)
	require.NoError(t, err)
	assert.True(diff.IsEmpty())
}

func TestDiffSingleChanges(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	rng := mrand.New(mrand.NewSource(21))

	keys := randomKeys(rng, 300)
	vals := make(map[string]cid.Cid, len(keys))
	for _, k := range keys {
		vals[k] = cidForString(k)
	}
	base := cidMapToMst(t, memBs(), 16, vals)

	for _, k := range []string{"asdf", "com.example.record/9ba1c7247ede", "app.bsky.feed.post/9adeb165882c", "zzz"} {
		v1 := randCid()
		v2 := randCid()

		added, err := base.Add(ctx, k, v1, -1)
		require.NoError(t, err)

		// add
		diff, err := base.Diff(ctx, added)
		require.NoError(t, err)
		assert.Equal([]DataAdd{{Key: k, Cid: v1}}, diff.AddList())
		assert.Empty(diff.UpdateList())
		assert.Empty(diff.DeleteList())
		assert.NotEmpty(diff.NewCids())

		// delete
		diff, err = added.Diff(ctx, base)
		require.NoError(t, err)
		assert.Empty(diff.AddList())
		assert.Empty(diff.UpdateList())
		assert.Equal([]DataDelete{{Key: k, Cid: v1}}, diff.DeleteList())

		// update
		other, err := base.Add(ctx, k, v2, -1)
		require.NoError(t, err)
		diff, err = added.Diff(ctx, other)
		require.NoError(t, err)
		assert.Empty(diff.AddList())
		assert.Equal([]DataUpdate{{Key: k, Prev: v1, Cid: v2}}, diff.UpdateList())
		assert.Empty(diff.DeleteList())
		assert.Equal([]string{k}, diff.UpdatedKeys())
	}
}

func TestDiffFromEmpty(t *testing.T) {
	ctx := context.Background()
	rng := mrand.New(mrand.NewSource(22))

	keys := randomKeys(rng, 100)
	vals := make(map[string]cid.Cid, len(keys))
	for _, k := range keys {
		vals[k] = cidForString(k)
	}
	tree := cidMapToMst(t, memBs(), 16, vals)
	empty, err := NewEmptyMST(memBs(), 16)
	require.NoError(t, err)

	diff, err := empty.Diff(ctx, tree)
	require.NoError(t, err)
	adds := diff.AddList()
	require.Len(t, adds, len(keys))
	for i, k := range sortedKeys(vals) {
		assert.Equal(t, k, adds[i].Key)
		assert.Equal(t, vals[k], adds[i].Cid)
	}

	// every node of the new tree is new
	expected := nodeCids(t, tree)
	assert.Len(t, diff.NewCids(), len(expected))
	for _, c := range diff.NewCids() {
		assert.True(t, expected[c])
	}

	// dropping a whole tree deletes every leaf under every old subtree
	for _, fanout := range []int{2, 16} {
		old := cidMapToMst(t, memBs(), fanout, vals)
		empty, err := NewEmptyMST(memBs(), fanout)
		require.NoError(t, err)

		diff, err = old.Diff(ctx, empty)
		require.NoError(t, err)
		dels := diff.DeleteList()
		require.Len(t, dels, len(keys))
		for i, k := range sortedKeys(vals) {
			assert.Equal(t, k, dels[i].Key)
			assert.Equal(t, vals[k], dels[i].Cid)
		}
		assert.Empty(t, diff.AddList())
		assert.Empty(t, diff.UpdateList())
	}
}

func TestDiffRandomChanges(t *testing.T) {
	ctx := context.Background()
	rng := mrand.New(mrand.NewSource(23))

	for _, fanout := range []int{2, 16, 32} {
		keys := randomKeys(rng, 500)
		vals := make(map[string]cid.Cid, len(keys))
		for _, k := range keys {
			vals[k] = cidForString(k)
		}
		from := cidMapToMst(t, memBs(), fanout, vals)
		to := from

		expAdds := map[string]cid.Cid{}
		expUpdates := map[string][2]cid.Cid{}
		expDeletes := map[string]cid.Cid{}

		for _, k := range keys[:50] {
			var err error
			to, err = to.Delete(ctx, k)
			require.NoError(t, err)
			expDeletes[k] = vals[k]
		}
		for _, k := range keys[50:100] {
			nv := randCid()
			var err error
			to, err = to.Edit(ctx, k, nv)
			require.NoError(t, err)
			expUpdates[k] = [2]cid.Cid{vals[k], nv}
		}
		for _, k := range randomKeys(rng, 50) {
			if _, ok := vals[k]; ok {
				continue
			}
			nv := randCid()
			var err error
			to, err = to.Add(ctx, k, nv, -1)
			require.NoError(t, err)
			expAdds[k] = nv
		}

		diff, err := from.Diff(ctx, to)
		require.NoError(t, err)

		adds := diff.AddList()
		assert.Len(t, adds, len(expAdds), "fanout %d", fanout)
		for _, a := range adds {
			assert.Equal(t, expAdds[a.Key], a.Cid)
		}

		updates := diff.UpdateList()
		assert.Len(t, updates, len(expUpdates), "fanout %d", fanout)
		for _, u := range updates {
			assert.Equal(t, expUpdates[u.Key][0], u.Prev)
			assert.Equal(t, expUpdates[u.Key][1], u.Cid)
		}

		deletes := diff.DeleteList()
		assert.Len(t, deletes, len(expDeletes), "fanout %d", fanout)
		for _, d := range deletes {
			assert.Equal(t, expDeletes[d.Key], d.Cid)
		}

		// exactly the nodes of the new tree which the old one lacks
		fromNodes := nodeCids(t, from)
		toNodes := nodeCids(t, to)
		expected := map[cid.Cid]bool{}
		for c := range toNodes {
			if !fromNodes[c] {
				expected[c] = true
			}
		}
		got := map[cid.Cid]bool{}
		for _, c := range diff.NewCids() {
			got[c] = true
		}
		assert.Equal(t, expected, got, "fanout %d", fanout)
	}
}

func TestDiffTrimmedRoot(t *testing.T) {
	ctx := context.Background()
	cid1 := strToCid("bafyreie5cvv4h45feadgeuwhbcutmh6t2ceseocckahdoe6uat64zmz454")

	// deleting the only layer 1 key leaves the old left subtree as the new root
	from := cidMapToMst(t, memBs(), 16, map[string]cid.Cid{
		"com.example.record/40c73105b48f": cid1,
		"com.example.record/893e6c08b450": cid1,
		"com.example.record/9cd8b6c0cc02": cid1,
		"com.example.record/a15e33ba0f6c": cid1,
		"com.example.record/cbe72d33d12a": cid1,
		"com.example.record/e99bf3ced34b": cid1,
	})
	to, err := from.Delete(ctx, "com.example.record/a15e33ba0f6c")
	require.NoError(t, err)

	diff, err := from.Diff(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, []DataDelete{{Key: "com.example.record/a15e33ba0f6c", Cid: cid1}}, diff.DeleteList())
	assert.Empty(t, diff.AddList())
	assert.Empty(t, diff.UpdateList())

	fromNodes := nodeCids(t, from)
	for _, c := range diff.NewCids() {
		assert.False(t, fromNodes[c], "%s is not new", c)
	}
}

func TestDiffFanoutMismatch(t *testing.T) {
	a, err := NewEmptyMST(memBs(), 16)
	require.NoError(t, err)
	b, err := NewEmptyMST(memBs(), 32)
	require.NoError(t, err)

	_, err = a.Diff(context.Background(), b)
	assert.ErrorIs(t, err, ErrInvalidFanout)
}

func TestDataDiffCancellation(t *testing.T) {
	assert := assert.New(t)
	v1 := randCid()
	v2 := randCid()

	d := NewDataDiff()
	d.RecordDelete("a", v1)
	d.RecordAdd("a", v1)
	assert.True(d.IsEmpty())

	d.RecordAdd("b", v2)
	d.RecordDelete("b", v1)
	assert.Equal([]DataUpdate{{Key: "b", Prev: v1, Cid: v2}}, d.UpdateList())
	assert.Empty(d.AddList())
	assert.Empty(d.DeleteList())
}

func TestDiffTrees(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	bs := memBs()

	vals := map[string]cid.Cid{
		"asdf":     randCid(),
		"88bfafc7": randCid(),
		"2a92d355": randCid(),
	}
	from := cidMapToMst(t, bs, 16, vals)
	fromRoot, err := from.Save(ctx)
	require.NoError(t, err)

	to, err := from.Delete(ctx, "88bfafc7")
	require.NoError(t, err)
	nv := randCid()
	to, err = to.Edit(ctx, "asdf", nv)
	require.NoError(t, err)
	to, err = to.Add(ctx, "blue", vals["asdf"], -1)
	require.NoError(t, err)
	toRoot, err := to.Save(ctx)
	require.NoError(t, err)

	ops, err := DiffTrees(ctx, bs, 16, fromRoot, toRoot)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(&DiffOp{Op: "del", Rpath: "88bfafc7", OldCid: vals["88bfafc7"]}, ops[0])
	assert.Equal(&DiffOp{Op: "mut", Rpath: "asdf", OldCid: vals["asdf"], NewCid: nv}, ops[1])
	assert.Equal(&DiffOp{Op: "add", Rpath: "blue", NewCid: vals["asdf"]}, ops[2])

	ops, err = DiffTrees(ctx, bs, 16, cid.Undef, fromRoot)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal("2a92d355", ops[0].Rpath)
	assert.Equal("88bfafc7", ops[1].Rpath)
	assert.Equal("asdf", ops[2].Rpath)
	for _, op := range ops {
		assert.Equal("add", op.Op)
	}
}
