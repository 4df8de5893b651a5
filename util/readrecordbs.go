package util

import (
	"context"
	"fmt"
	"sync"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
)

// Read-only blockstore which remembers every block read through it, in the order first read.
//
// Loading a tree node by node through one of these and then calling GetLoggedBlocks gives exactly the set of nodes needed to re-check the operation elsewhere (eg, the nodes of a key proof).
type LoggingBstore struct {
	base blockstore.Blockstore

	lk    sync.Mutex
	seen  map[cid.Cid]struct{}
	order []blockformat.Block
}

func NewLoggingBstore(base blockstore.Blockstore) *LoggingBstore {
	return &LoggingBstore{
		base: base,
		seen: make(map[cid.Cid]struct{}),
	}
}

var _ blockstore.Blockstore = (*LoggingBstore)(nil)

func (bs *LoggingBstore) GetLoggedBlocks() []blockformat.Block {
	bs.lk.Lock()
	defer bs.lk.Unlock()

	out := make([]blockformat.Block, len(bs.order))
	copy(out, bs.order)
	return out
}

func (bs *LoggingBstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	return bs.base.Has(ctx, c)
}

func (bs *LoggingBstore) Get(ctx context.Context, c cid.Cid) (blockformat.Block, error) {
	blk, err := bs.base.Get(ctx, c)
	if err != nil {
		return nil, err
	}

	bs.lk.Lock()
	if _, ok := bs.seen[c]; !ok {
		bs.seen[c] = struct{}{}
		bs.order = append(bs.order, blk)
	}
	bs.lk.Unlock()

	return blk, nil
}

func (bs *LoggingBstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	return bs.base.GetSize(ctx, c)
}

func (bs *LoggingBstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	return fmt.Errorf("deletes not allowed on logging blockstore")
}

func (bs *LoggingBstore) Put(context.Context, blockformat.Block) error {
	return fmt.Errorf("writes not allowed on logging blockstore")
}

func (bs *LoggingBstore) PutMany(context.Context, []blockformat.Block) error {
	return fmt.Errorf("writes not allowed on logging blockstore")
}

func (bs *LoggingBstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	return nil, fmt.Errorf("iteration not allowed on logging blockstore")
}

func (bs *LoggingBstore) HashOnRead(enabled bool) {

}
