package mst

import (
	"context"
	mrand "math/rand"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkerEmptyTree(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)

	tree, err := NewEmptyMST(memBs(), 16)
	require.NoError(t, err)

	w := NewWalker(tree)
	assert.False(w.Done())
	assert.True(w.Current().IsTree())

	layer, err := w.Layer(ctx)
	assert.NoError(err)
	assert.Equal(1, layer)

	require.NoError(t, w.StepInto(ctx))
	assert.True(w.Done())

	_, err = w.Layer(ctx)
	assert.ErrorIs(err, ErrWalkerDone)
}

func TestWalkerVisitsEverything(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	rng := mrand.New(mrand.NewSource(30))

	keys := randomKeys(rng, 300)
	vals := make(map[string]cid.Cid, len(keys))
	for _, k := range keys {
		vals[k] = cidForString(k)
	}
	tree := cidMapToMst(t, memBs(), 16, vals)
	rootLayer, err := tree.Layer(ctx)
	require.NoError(t, err)

	var leafKeys []string
	var nodes int
	w := NewWalker(tree)
	for !w.Done() {
		cur := w.Current()
		layer, err := w.Layer(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(layer, rootLayer+1)

		if cur.IsLeaf() {
			kl, err := LayerForKey(cur.Key, 16)
			require.NoError(t, err)
			assert.Equal(kl, layer, cur.Key)
			leafKeys = append(leafKeys, cur.Key)
		} else {
			nodes++
		}
		require.NoError(t, w.Advance(ctx))
	}

	assert.Equal(sortedKeys(vals), leafKeys)

	all, err := tree.AllNodes(ctx)
	require.NoError(t, err)
	assert.Equal(len(all), nodes)
}

func TestWalkerStepOver(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	rng := mrand.New(mrand.NewSource(31))

	keys := randomKeys(rng, 300)
	vals := make(map[string]cid.Cid, len(keys))
	for _, k := range keys {
		vals[k] = cidForString(k)
	}
	tree := cidMapToMst(t, memBs(), 16, vals)

	rootEntries, err := tree.Entries(ctx)
	require.NoError(t, err)

	// stepping over every subtree visits exactly the root's entries
	w := NewWalker(tree)
	require.NoError(t, w.StepInto(ctx))
	var seen []NodeEntry
	for !w.Done() {
		seen = append(seen, w.Current())
		require.NoError(t, w.StepOver(ctx))
	}
	require.Len(t, seen, len(rootEntries))
	for i := range seen {
		assert.Equal(rootEntries[i].Kind, seen[i].Kind)
		assert.Equal(rootEntries[i].Key, seen[i].Key)
	}

	// stepping over the root ends the walk
	w = NewWalker(tree)
	require.NoError(t, w.StepOver(ctx))
	assert.True(w.Done())
}

func TestWalkerStepIntoLeaf(t *testing.T) {
	ctx := context.Background()

	tree := cidMapToMst(t, memBs(), 16, map[string]cid.Cid{"asdf": randCid()})
	w := NewWalker(tree)
	require.NoError(t, w.StepInto(ctx))
	require.True(t, w.Current().IsLeaf())

	assert.ErrorIs(t, w.StepInto(ctx), ErrWalkerNotTree)
}

func TestWalkerMissingNode(t *testing.T) {
	ctx := context.Background()

	tree, err := LoadMST(memBs(), 16, randCid())
	require.NoError(t, err)

	w := NewWalker(tree)
	assert.ErrorIs(t, w.StepInto(ctx), ErrMissingContent)
}
