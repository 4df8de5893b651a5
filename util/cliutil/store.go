package cliutil

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bluesky-social/go-mst/util"

	blockstore "github.com/ipfs/go-ipfs-blockstore"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Opens a blockstore from a URL-ish string:
//
//	memory           in-process map (xsync)
//	map              go-ipfs-blockstore over a map datastore
//	flatfs://DIR     go-ipfs-blockstore over flatfs
//	pebble://DIR     pebble database
//	sqlite://FILE    SQL table through gorm
//	postgres://...   SQL table through gorm
//
// If cacheSize is positive, the store is wrapped in a 2Q block cache. The returned closer must be called when done.
func OpenBlockstore(storeURL string, cacheSize int) (blockstore.Blockstore, io.Closer, error) {
	var bs blockstore.Blockstore
	var closer io.Closer = nopCloser{}

	switch {
	case storeURL == "" || storeURL == "memory":
		bs = util.NewMemBlockstore()
	case storeURL == "map":
		bs = util.NewMapBlockstore()
	case strings.HasPrefix(storeURL, "flatfs://"):
		fbs, err := util.NewFlatfsBlockstore(storeURL[len("flatfs://"):])
		if err != nil {
			return nil, nil, err
		}
		bs = fbs
	case strings.HasPrefix(storeURL, "pebble://"):
		pbs, err := util.NewPebbleBlockstore(storeURL[len("pebble://"):])
		if err != nil {
			return nil, nil, err
		}
		bs = pbs
		closer = pbs
	case strings.HasPrefix(storeURL, "sqlite") || strings.HasPrefix(storeURL, "postgres"):
		db, err := SetupDatabase(storeURL, 20)
		if err != nil {
			return nil, nil, err
		}
		gbs, err := util.NewGormBlockstore(db)
		if err != nil {
			return nil, nil, err
		}
		bs = gbs
		if sqldb, err := db.DB(); err == nil {
			closer = sqldb
		}
	default:
		return nil, nil, fmt.Errorf("unsupported blockstore: %q", storeURL)
	}

	if cacheSize > 0 {
		cbs, err := util.NewCacheBlockstore(bs, cacheSize)
		if err != nil {
			return nil, nil, err
		}
		bs = cbs
	}

	slog.Debug("opened blockstore", "store", storeURL, "cache", cacheSize)
	return bs, closer, nil
}
