package util

import (
	"context"
	"fmt"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
)

// Layers a "fresh" blockstore over a read-only base. Reads check fresh first and fall through to base; every write goes to fresh.
//
// Used to stage a new tree (eg, a dry run build, or an imported CAR file) without writing to the persistent store.
type ReadThroughBstore struct {
	base  blockstore.Blockstore
	fresh blockstore.Blockstore
}

func NewReadThroughBstore(base, fresh blockstore.Blockstore) *ReadThroughBstore {
	return &ReadThroughBstore{
		base:  base,
		fresh: fresh,
	}
}

var _ blockstore.Blockstore = (*ReadThroughBstore)(nil)

func (bs *ReadThroughBstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return bs.fresh.DeleteBlock(ctx, c)
}

func (bs *ReadThroughBstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	h, err := bs.fresh.Has(ctx, c)
	if err != nil {
		return false, err
	}

	if h {
		return true, nil
	}

	return bs.base.Has(ctx, c)
}

func (bs *ReadThroughBstore) Get(ctx context.Context, c cid.Cid) (blockformat.Block, error) {
	blk, err := bs.fresh.Get(ctx, c)
	if err == nil {
		return blk, nil
	}

	if !ipld.IsNotFound(err) {
		return nil, err
	}

	return bs.base.Get(ctx, c)
}

func (bs *ReadThroughBstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	size, err := bs.fresh.GetSize(ctx, c)
	if err == nil {
		return size, nil
	}

	if !ipld.IsNotFound(err) {
		return -1, err
	}

	return bs.base.GetSize(ctx, c)
}

func (bs *ReadThroughBstore) Put(ctx context.Context, blk blockformat.Block) error {
	return bs.fresh.Put(ctx, blk)
}

func (bs *ReadThroughBstore) PutMany(ctx context.Context, blks []blockformat.Block) error {
	return bs.fresh.PutMany(ctx, blks)
}

// Iterates only the fresh blocks.
func (bs *ReadThroughBstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	return bs.fresh.AllKeysChan(ctx)
}

func (bs *ReadThroughBstore) HashOnRead(enabled bool) {

}

// Copies every fresh block into the base store.
func (bs *ReadThroughBstore) Flush(ctx context.Context) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys, err := bs.fresh.AllKeysChan(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	for c := range keys {
		blk, err := bs.fresh.Get(ctx, c)
		if err != nil {
			return n, fmt.Errorf("reading staged block %s: %w", c, err)
		}
		if err := bs.base.Put(ctx, blk); err != nil {
			return n, err
		}
		n++
	}
	return n, ctx.Err()
}
