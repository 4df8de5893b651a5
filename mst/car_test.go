package mst

import (
	"bytes"
	"context"
	mrand "math/rand"
	"testing"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCarRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)
	rng := mrand.New(mrand.NewSource(50))

	bs := memBs()
	cst := cbor.NewCborStore(bs)
	cst.DefaultMultihash = mh.SHA2_256

	keys := randomKeys(rng, 150)
	vals := make(map[string]cid.Cid, len(keys))
	for i, k := range keys {
		// some values are stored as real blocks, the rest dangle
		if i%2 == 0 {
			c, err := cst.Put(ctx, map[string]any{"key": k})
			require.NoError(t, err)
			vals[k] = c
		} else {
			vals[k] = cidForString(k)
		}
	}
	tree := cidMapToMst(t, bs, 16, vals)
	root, err := tree.Save(ctx)
	require.NoError(t, err)

	nodes, err := tree.AllNodes(ctx)
	require.NoError(t, err)

	for _, withValues := range []bool{false, true} {
		buf := new(bytes.Buffer)
		require.NoError(t, tree.WriteCar(ctx, buf, withValues))

		nbs := memBs()
		roots, err := ReadCarToBlockstore(ctx, nbs, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal([]cid.Cid{root}, roots)

		expected := len(nodes)
		if withValues {
			expected += (len(keys) + 1) / 2
		}
		assert.Equal(expected, nbs.Len())

		loaded, err := LoadFromCar(ctx, memBs(), 16, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		require.NoError(t, loaded.Verify(ctx))
		lroot, err := loaded.GetPointer(ctx)
		require.NoError(t, err)
		assert.Equal(root, lroot)

		count, err := loaded.LeafCount(ctx)
		require.NoError(t, err)
		assert.Equal(len(keys), count)
	}
}

func TestCarUnsavedTree(t *testing.T) {
	ctx := context.Background()

	// an in-memory tree can be written out without touching the blockstore
	tree := cidMapToMst(t, memBs(), 32, map[string]cid.Cid{
		"a": randCid(),
		"b": randCid(),
		"s": randCid(),
	})
	buf := new(bytes.Buffer)
	require.NoError(t, tree.WriteCar(ctx, buf, false))

	loaded, err := LoadFromCar(ctx, memBs(), 32, buf)
	require.NoError(t, err)
	assert.Equal(t, rootString(t, tree), rootString(t, loaded))
	assert.NoError(t, loaded.Verify(ctx))
}

func TestCarGarbage(t *testing.T) {
	ctx := context.Background()

	_, err := LoadFromCar(ctx, memBs(), 16, bytes.NewReader([]byte("not a car file")))
	assert.Error(t, err)
}
