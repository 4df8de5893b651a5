package mst

import (
	"context"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugTree(t *testing.T) {
	ctx := context.Background()

	vals := map[string]cid.Cid{
		"asdf":                            cidForString("asdf"),
		"88bfafc7":                        cidForString("88bfafc7"),
		"2a92d355":                        cidForString("2a92d355"),
		"app.bsky.feed.post/454397e440ec": cidForString("app.bsky.feed.post/454397e440ec"),
		"app.bsky.feed.post/9adeb165882c": cidForString("app.bsky.feed.post/9adeb165882c"),
	}
	tree := cidMapToMst(t, memBs(), 16, vals)

	out, err := tree.DebugTree(ctx)
	require.NoError(t, err)
	s := out.String()

	assert.True(t, strings.HasPrefix(s, rootString(t, tree)+" (layer 4)"), s)
	for k, v := range vals {
		assert.Contains(t, s, k+" -> "+v.String())
	}
}
