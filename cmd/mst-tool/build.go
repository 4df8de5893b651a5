package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/bluesky-social/go-mst/mst"
	"github.com/bluesky-social/go-mst/util"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/ipfs/go-cid"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	"github.com/urfave/cli/v2"
)

var buildFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "car",
		Usage: "also write the tree (and record blocks) to a CAR file at this path",
	},
	&cli.BoolFlag{
		Name:  "dry-run",
		Usage: "build the tree in memory on top of the store, without writing anything to it",
	},
}

var cmdBuild = &cli.Command{
	Name:      "build",
	Usage:     "build a tree from a JSON object of key/record pairs",
	ArgsUsage: "<json-path>",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "record-paths",
			Usage: "require keys to be of the form collection/record-key",
		},
	}, buildFlags...),
	Action: runBuild,
}

var cmdGenFake = &cli.Command{
	Name:  "gen-fake",
	Usage: "build a tree of randomly generated records",
	Flags: append([]cli.Flag{
		&cli.IntFlag{
			Name:  "count",
			Usage: "number of records to generate",
			Value: 1000,
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "random seed (0 for a random seed)",
		},
	}, buildFlags...),
	Action: runGenFake,
}

func runBuild(cctx *cli.Context) error {
	p := cctx.Args().First()
	if p == "" {
		return fmt.Errorf("need to provide path to JSON file")
	}

	raw, err := os.ReadFile(p)
	if err != nil {
		return err
	}

	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("parsing %s: %w", p, err)
	}

	records := make(map[string]map[string]any, len(input))
	for k, v := range input {
		if cctx.Bool("record-paths") && !mst.IsValidRecordPath(k) {
			return fmt.Errorf("not a record path: %q", k)
		}
		switch val := v.(type) {
		case map[string]any:
			records[k] = val
		default:
			records[k] = map[string]any{"value": val}
		}
	}

	return buildTree(cctx, records)
}

func runGenFake(cctx *cli.Context) error {
	seed := cctx.Int64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(seed)
	collections := []string{"app.example.post", "app.example.like", "app.example.follow"}

	count := cctx.Int("count")
	records := make(map[string]map[string]any, count)
	for len(records) < count {
		key := faker.RandomString(collections) + "/" + faker.LetterN(13)
		records[key] = map[string]any{
			"text":      faker.Sentence(10),
			"createdAt": faker.Date().UTC().Format(time.RFC3339),
		}
	}
	slog.Debug("generated records", "count", len(records), "seed", seed)

	return buildTree(cctx, records)
}

func buildTree(cctx *cli.Context, records map[string]map[string]any) error {
	ctx := cctx.Context

	base, cleanup, err := setup(cctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var bs blockstore.Blockstore = base
	if cctx.Bool("dry-run") {
		bs = util.NewReadThroughBstore(base, util.NewMemBlockstore())
	}
	cst := util.CborStore(bs)

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tree, err := mst.NewEmptyMST(bs, cctx.Int("fanout"))
	if err != nil {
		return err
	}

	for _, k := range keys {
		c, err := util.PutRecord(ctx, cst, records[k])
		if err != nil {
			return fmt.Errorf("storing record %s: %w", k, err)
		}

		tree, err = tree.Add(ctx, k, c, -1)
		if err != nil {
			return fmt.Errorf("adding %s: %w", k, err)
		}
	}

	root, err := tree.Save(ctx)
	if err != nil {
		return err
	}
	slog.Info("built tree", "root", root, "records", len(keys))

	if p := cctx.String("car"); p != "" {
		if err := writeTreeCar(ctx, tree, p, true); err != nil {
			return err
		}
	}

	fmt.Println(root)
	return nil
}

func writeTreeCar(ctx context.Context, tree *mst.MerkleSearchTree, path string, withValues bool) error {
	out, err := openOutput(path)
	if err != nil {
		return err
	}
	defer out.Close()

	return tree.WriteCar(ctx, out, withValues)
}

// pretty-prints a record value for get
func recordJSON(ctx context.Context, bs blockstore.Blockstore, c cid.Cid) (string, error) {
	rec, err := util.GetRecord(ctx, util.CborStore(bs), c)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
