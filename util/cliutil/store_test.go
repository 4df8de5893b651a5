package cliutil

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/bluesky-social/go-mst/util"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBlockstore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	blk := blockformat.NewBlock([]byte("some block"))

	for _, storeURL := range []string{
		"memory",
		"map",
		"flatfs://" + filepath.Join(dir, "flatfs"),
		"pebble://" + filepath.Join(dir, "pebble"),
		"sqlite://" + filepath.Join(dir, "db", "blocks.sqlite"),
	} {
		t.Run(storeURL, func(t *testing.T) {
			for _, cacheSize := range []int{0, 16} {
				bs, closer, err := OpenBlockstore(storeURL, cacheSize)
				require.NoError(t, err)

				if cacheSize > 0 {
					_, ok := bs.(*util.CacheBlockstore)
					assert.True(t, ok)
				}

				require.NoError(t, bs.Put(ctx, blk))
				got, err := bs.Get(ctx, blk.Cid())
				require.NoError(t, err)
				assert.Equal(t, blk.RawData(), got.RawData())

				require.NoError(t, closer.Close())
			}
		})
	}

	_, _, err := OpenBlockstore("s3://bucket", 0)
	assert.Error(t, err)
}

func TestSetupSlog(t *testing.T) {
	buf := new(bytes.Buffer)
	logger, err := SetupSlog(LogOptions{
		LogFormat: "json",
		LogLevel:  "debug",
		Out:       buf,
	})
	require.NoError(t, err)

	logger.Debug("hello", "tree", "bafyrei")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = SetupSlog(LogOptions{LogFormat: "yaml", Out: buf})
	assert.Error(t, err)
}
