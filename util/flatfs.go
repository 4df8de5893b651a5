package util

import (
	"fmt"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	flatfs "github.com/ipfs/go-ds-flatfs"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
)

// Blockstore on a flatfs directory (one file per block, sharded by the next-to-last two characters of the key).
func NewFlatfsBlockstore(dir string) (blockstore.Blockstore, error) {
	ds, err := flatfs.CreateOrOpen(dir, flatfs.NextToLast(2), false)
	if err != nil {
		return nil, fmt.Errorf("opening flatfs datastore: %w", err)
	}
	return blockstore.NewBlockstoreNoPrefix(ds), nil
}

// The stock go-ipfs-blockstore over a thread-safe in-memory map datastore.
func NewMapBlockstore() blockstore.Blockstore {
	return blockstore.NewBlockstore(dssync.MutexWrap(datastore.NewMapDatastore()))
}
