package util

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testBlock(t *testing.T, i int) blockformat.Block {
	t.Helper()
	raw := []byte(fmt.Sprintf("block number %d", i))
	c, err := cid.NewPrefixV1(cid.Raw, mh.SHA2_256).Sum(raw)
	require.NoError(t, err)
	blk, err := blockformat.NewBlockWithCid(raw, c)
	require.NoError(t, err)
	return blk
}

// behavior every blockstore in this package shares
func testBlockstore(t *testing.T, bs blockstore.Blockstore) {
	ctx := context.Background()
	assert := assert.New(t)

	blk := testBlock(t, 0)

	has, err := bs.Has(ctx, blk.Cid())
	require.NoError(t, err)
	assert.False(has)

	_, err = bs.Get(ctx, blk.Cid())
	assert.True(ipld.IsNotFound(err), "expected not found, got %v", err)

	require.NoError(t, bs.Put(ctx, blk))
	// putting the same block twice is fine
	require.NoError(t, bs.Put(ctx, blk))

	has, err = bs.Has(ctx, blk.Cid())
	require.NoError(t, err)
	assert.True(has)

	got, err := bs.Get(ctx, blk.Cid())
	require.NoError(t, err)
	assert.Equal(blk.RawData(), got.RawData())
	assert.Equal(blk.Cid(), got.Cid())

	size, err := bs.GetSize(ctx, blk.Cid())
	require.NoError(t, err)
	assert.Equal(len(blk.RawData()), size)

	var many []blockformat.Block
	for i := 1; i <= 20; i++ {
		many = append(many, testBlock(t, i))
	}
	require.NoError(t, bs.PutMany(ctx, many))
	for _, b := range many {
		got, err := bs.Get(ctx, b.Cid())
		require.NoError(t, err)
		assert.Equal(b.RawData(), got.RawData())
	}

	keys, err := bs.AllKeysChan(ctx)
	require.NoError(t, err)
	seen := map[string]bool{}
	for c := range keys {
		// some stores only keep the multihash
		seen[string(c.Hash())] = true
	}
	assert.Len(seen, len(many)+1)
	assert.True(seen[string(blk.Cid().Hash())])

	require.NoError(t, bs.DeleteBlock(ctx, blk.Cid()))
	has, err = bs.Has(ctx, blk.Cid())
	require.NoError(t, err)
	assert.False(has)
}

func TestMemBlockstore(t *testing.T) {
	bs := NewMemBlockstore()
	testBlockstore(t, bs)
	assert.Equal(t, 20, bs.Len())
}

func TestMapBlockstore(t *testing.T) {
	testBlockstore(t, NewMapBlockstore())
}

func TestFlatfsBlockstore(t *testing.T) {
	bs, err := NewFlatfsBlockstore(filepath.Join(t.TempDir(), "blocks"))
	require.NoError(t, err)
	testBlockstore(t, bs)
}

func TestPebbleBlockstore(t *testing.T) {
	dir := t.TempDir()
	bs, err := NewPebbleBlockstore(dir)
	require.NoError(t, err)
	testBlockstore(t, bs)

	// blocks survive a reopen
	blk := testBlock(t, 3)
	require.NoError(t, bs.Close())
	bs, err = NewPebbleBlockstore(dir)
	require.NoError(t, err)
	defer bs.Close()

	got, err := bs.Get(context.Background(), blk.Cid())
	require.NoError(t, err)
	assert.Equal(t, blk.RawData(), got.RawData())
}

func TestGormBlockstore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "blocks.sqlite")), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)

	bs, err := NewGormBlockstore(db)
	require.NoError(t, err)
	testBlockstore(t, bs)
}

func TestCacheBlockstore(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)

	base := NewMemBlockstore()
	cbs, err := NewCacheBlockstore(base, 64)
	require.NoError(t, err)
	testBlockstore(t, cbs)

	// a cached block is served even after it is gone from the base store
	blk := testBlock(t, 100)
	require.NoError(t, cbs.Put(ctx, blk))
	require.NoError(t, base.DeleteBlock(ctx, blk.Cid()))

	got, err := cbs.Get(ctx, blk.Cid())
	require.NoError(t, err)
	assert.Equal(blk.RawData(), got.RawData())
	assert.True(cbs.GetCache().Contains(blk.Cid().KeyString()))

	_, err = NewCacheBlockstore(base, 0)
	assert.Error(err)
}

func TestReadThroughBstore(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)

	testBlockstore(t, NewReadThroughBstore(NewMemBlockstore(), NewMemBlockstore()))

	base := NewMemBlockstore()
	fresh := NewMemBlockstore()
	old := testBlock(t, 1)
	require.NoError(t, base.Put(ctx, old))

	rt := NewReadThroughBstore(base, fresh)

	// reads fall through to the base
	got, err := rt.Get(ctx, old.Cid())
	require.NoError(t, err)
	assert.Equal(old.RawData(), got.RawData())
	has, err := rt.Has(ctx, old.Cid())
	require.NoError(t, err)
	assert.True(has)

	// writes stay in fresh until flushed
	var staged []blockformat.Block
	for i := 2; i < 12; i++ {
		staged = append(staged, testBlock(t, i))
	}
	require.NoError(t, rt.PutMany(ctx, staged))
	assert.Equal(1, base.Len())
	assert.Equal(10, fresh.Len())

	n, err := rt.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(10, n)
	assert.Equal(11, base.Len())
}

func TestLoggingBstore(t *testing.T) {
	ctx := context.Background()
	assert := assert.New(t)

	base := NewMemBlockstore()
	var blks []blockformat.Block
	for i := 0; i < 5; i++ {
		blk := testBlock(t, i)
		require.NoError(t, base.Put(ctx, blk))
		blks = append(blks, blk)
	}

	lbs := NewLoggingBstore(base)
	for _, i := range []int{3, 1, 3, 4} {
		_, err := lbs.Get(ctx, blks[i].Cid())
		require.NoError(t, err)
	}

	logged := lbs.GetLoggedBlocks()
	require.Len(t, logged, 3)
	assert.Equal(blks[3].Cid(), logged[0].Cid())
	assert.Equal(blks[1].Cid(), logged[1].Cid())
	assert.Equal(blks[4].Cid(), logged[2].Cid())

	assert.Error(lbs.Put(ctx, testBlock(t, 10)))
	assert.Error(lbs.DeleteBlock(ctx, blks[0].Cid()))
}
