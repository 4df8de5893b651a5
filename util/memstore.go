package util

import (
	"context"
	"fmt"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/puzpuzpuz/xsync/v3"
)

// In-memory blockstore, safe for concurrent use. Blocks are keyed by CID.
type MemBlockstore struct {
	blocks *xsync.MapOf[string, blockformat.Block]
}

func NewMemBlockstore() *MemBlockstore {
	return &MemBlockstore{
		blocks: xsync.NewMapOf[string, blockformat.Block](),
	}
}

var _ blockstore.Blockstore = (*MemBlockstore)(nil)

func (bs *MemBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	bs.blocks.Delete(c.KeyString())
	return nil
}

func (bs *MemBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	_, ok := bs.blocks.Load(c.KeyString())
	return ok, nil
}

func (bs *MemBlockstore) Get(ctx context.Context, c cid.Cid) (blockformat.Block, error) {
	blk, ok := bs.blocks.Load(c.KeyString())
	if !ok {
		return nil, ipld.ErrNotFound{Cid: c}
	}
	return blk, nil
}

func (bs *MemBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	blk, ok := bs.blocks.Load(c.KeyString())
	if !ok {
		return -1, ipld.ErrNotFound{Cid: c}
	}
	return len(blk.RawData()), nil
}

func (bs *MemBlockstore) Put(ctx context.Context, blk blockformat.Block) error {
	bs.blocks.Store(blk.Cid().KeyString(), blk)
	return nil
}

func (bs *MemBlockstore) PutMany(ctx context.Context, blks []blockformat.Block) error {
	for _, blk := range blks {
		if err := bs.Put(ctx, blk); err != nil {
			return err
		}
	}
	return nil
}

func (bs *MemBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	out := make(chan cid.Cid)
	go func() {
		defer close(out)
		bs.blocks.Range(func(_ string, blk blockformat.Block) bool {
			select {
			case out <- blk.Cid():
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out, nil
}

func (bs *MemBlockstore) HashOnRead(enabled bool) {

}

// Number of blocks held.
func (bs *MemBlockstore) Len() int {
	return bs.blocks.Size()
}

func (bs *MemBlockstore) String() string {
	return fmt.Sprintf("memory(%d blocks)", bs.Len())
}
