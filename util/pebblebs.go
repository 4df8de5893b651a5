package util

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	"go.opentelemetry.io/otel"
)

const pebbleBlockPrefix = "b/"

// Blockstore on a local pebble database. Keys are the binary CID of each block.
type PebbleBlockstore struct {
	db  *pebble.DB
	log *slog.Logger
}

func NewPebbleBlockstore(path string) (*PebbleBlockstore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	return &PebbleBlockstore{
		db:  db,
		log: slog.Default().With("system", "pebblebs", "path", path),
	}, nil
}

var _ blockstore.Blockstore = (*PebbleBlockstore)(nil)

func (bs *PebbleBlockstore) Close() error {
	return bs.db.Close()
}

func pebbleBlockKey(c cid.Cid) []byte {
	return append([]byte(pebbleBlockPrefix), c.Bytes()...)
}

func (bs *PebbleBlockstore) DeleteBlock(ctx context.Context, c cid.Cid) error {
	err := bs.db.Delete(pebbleBlockKey(c), pebble.Sync)
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	return nil
}

func (bs *PebbleBlockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	_, closer, err := bs.db.Get(pebbleBlockKey(c))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (bs *PebbleBlockstore) Get(ctx context.Context, c cid.Cid) (blockformat.Block, error) {
	_, span := otel.Tracer("pebblebs").Start(ctx, "Get")
	defer span.End()

	val, closer, err := bs.db.Get(pebbleBlockKey(c))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ipld.ErrNotFound{Cid: c}
		}
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	defer closer.Close()

	// val is only valid until the closer is closed
	raw := make([]byte, len(val))
	copy(raw, val)

	return blockformat.NewBlockWithCid(raw, c)
}

func (bs *PebbleBlockstore) GetSize(ctx context.Context, c cid.Cid) (int, error) {
	val, closer, err := bs.db.Get(pebbleBlockKey(c))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return -1, ipld.ErrNotFound{Cid: c}
		}
		return -1, err
	}
	defer closer.Close()
	return len(val), nil
}

func (bs *PebbleBlockstore) Put(ctx context.Context, blk blockformat.Block) error {
	return bs.db.Set(pebbleBlockKey(blk.Cid()), blk.RawData(), pebble.Sync)
}

func (bs *PebbleBlockstore) PutMany(ctx context.Context, blks []blockformat.Block) error {
	_, span := otel.Tracer("pebblebs").Start(ctx, "PutMany")
	defer span.End()

	batch := bs.db.NewBatch()
	defer batch.Close()

	for _, blk := range blks {
		if err := batch.Set(pebbleBlockKey(blk.Cid()), blk.RawData(), nil); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.Sync)
}

func (bs *PebbleBlockstore) AllKeysChan(ctx context.Context) (<-chan cid.Cid, error) {
	iter, err := bs.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pebbleBlockPrefix),
		UpperBound: []byte(pebbleBlockPrefix[:len(pebbleBlockPrefix)-1] + "0"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}

	out := make(chan cid.Cid)
	go func() {
		defer close(out)
		defer iter.Close()

		for iter.First(); iter.Valid(); iter.Next() {
			_, c, err := cid.CidFromBytes(iter.Key()[len(pebbleBlockPrefix):])
			if err != nil {
				bs.log.Warn("skipping bad block key", "err", err)
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if err := iter.Error(); err != nil {
			bs.log.Error("block iteration failed", "err", err)
		}
	}()
	return out, nil
}

func (bs *PebbleBlockstore) HashOnRead(enabled bool) {

}
