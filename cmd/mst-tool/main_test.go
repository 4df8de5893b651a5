package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/bluesky-social/go-mst/mst"
	"github.com/bluesky-social/go-mst/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndQuery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	records := map[string]map[string]any{
		"app.example.post/3jzfcijpj2z2a": {"text": "first"},
		"app.example.post/3jzfcijpj2z2b": {"text": "second"},
		"app.example.like/3jzfcijpj2z2c": {"subject": "at://example/post"},
	}
	raw, err := json.Marshal(records)
	require.NoError(t, err)
	input := filepath.Join(dir, "records.json")
	require.NoError(t, os.WriteFile(input, raw, 0o644))

	// the same tree, built in memory
	bs := util.NewMemBlockstore()
	cst := util.CborStore(bs)
	tree, err := mst.NewEmptyMST(bs, mst.DefaultFanout)
	require.NoError(t, err)
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c, err := util.PutRecord(ctx, cst, records[k])
		require.NoError(t, err)
		tree, err = tree.Add(ctx, k, c, -1)
		require.NoError(t, err)
	}
	root, err := tree.GetPointer(ctx)
	require.NoError(t, err)

	store := "pebble://" + filepath.Join(dir, "store")
	carPath := filepath.Join(dir, "tree.car")
	mstTool := func(args ...string) error {
		return run(append([]string{"mst-tool", "--log-level", "warn", "--store", store}, args...))
	}

	require.NoError(t, mstTool("build", "--record-paths", "--car", carPath, input))
	require.NoError(t, mstTool("verify", root.String()))
	require.NoError(t, mstTool("get", "--record", root.String(), "app.example.post/3jzfcijpj2z2b"))
	require.NoError(t, mstTool("list", "--prefix", "app.example.post/", root.String()))
	require.NoError(t, mstTool("stats", root.String()))
	require.NoError(t, mstTool("diff", "-", root.String()))
	require.NoError(t, mstTool("pretty", root.String()))
	require.NoError(t, mstTool("proof", "--car", filepath.Join(dir, "proof.car"), root.String(), "app.example.like/3jzfcijpj2z2c"))
	require.NoError(t, mstTool("export-car", "--values", "-o", filepath.Join(dir, "export.car"), root.String()))

	assert.ErrorIs(t, mstTool("get", root.String(), "app.example.post/nope"), mst.ErrKeyNotFound)

	// a CAR file carries the tree to another store
	store = "sqlite://" + filepath.Join(dir, "other.sqlite")
	require.NoError(t, mstTool("import-car", carPath))
	require.NoError(t, mstTool("get", "--record", root.String(), "app.example.like/3jzfcijpj2z2c"))

	// keys must look like record paths when asked
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"no-slash": {"a": "b"}}`), 0o644))
	assert.Error(t, mstTool("build", "--record-paths", bad))
}
