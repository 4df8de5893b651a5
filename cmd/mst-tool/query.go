package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/bluesky-social/go-mst/mst"
	"github.com/bluesky-social/go-mst/util"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	"github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"
)

var cmdGet = &cli.Command{
	Name:      "get",
	Usage:     "look up the value for a key",
	ArgsUsage: "<root> <key>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "record",
			Usage: "also print the record the value points to",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		bs, cleanup, err := setup(cctx)
		if err != nil {
			return err
		}
		defer cleanup()

		tree, err := loadTreeArg(cctx, bs, 0)
		if err != nil {
			return err
		}
		key := cctx.Args().Get(1)

		val, err := tree.Get(ctx, key)
		if err != nil {
			return err
		}
		if val == nil {
			return fmt.Errorf("%w: %s", mst.ErrKeyNotFound, key)
		}
		fmt.Println(val)

		if cctx.Bool("record") {
			s, err := recordJSON(ctx, bs, *val)
			if err != nil {
				return err
			}
			fmt.Println(s)
		}
		return nil
	},
}

var cmdList = &cli.Command{
	Name:      "list",
	Usage:     "list keys and values of a tree, in order",
	ArgsUsage: "<root>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "only list keys with this prefix",
		},
		&cli.StringFlag{
			Name:  "after",
			Usage: "only list keys after this one",
		},
		&cli.StringFlag{
			Name:  "before",
			Usage: "only list keys before this one",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "maximum number of entries to list (0 for no limit)",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		bs, cleanup, err := setup(cctx)
		if err != nil {
			return err
		}
		defer cleanup()

		tree, err := loadTreeArg(cctx, bs, 0)
		if err != nil {
			return err
		}

		var leaves []mst.NodeEntry
		if prefix := cctx.String("prefix"); prefix != "" {
			leaves, err = tree.ListWithPrefix(ctx, prefix, cctx.Int("limit"))
		} else {
			leaves, err = tree.List(ctx, cctx.Int("limit"), cctx.String("after"), cctx.String("before"))
		}
		if err != nil {
			return err
		}

		for _, l := range leaves {
			fmt.Printf("%s\t%s\n", l.Key, l.Val)
		}
		return nil
	},
}

var cmdDiff = &cli.Command{
	Name:      "diff",
	Usage:     "show the changes between two trees (use - as the first root for an empty tree)",
	ArgsUsage: "<from-root> <to-root>",
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		bs, cleanup, err := setup(cctx)
		if err != nil {
			return err
		}
		defer cleanup()

		from := cid.Undef
		if s := cctx.Args().Get(0); s != "-" {
			from, err = cid.Decode(s)
			if err != nil {
				return fmt.Errorf("parsing from CID: %w", err)
			}
		}
		to, err := cid.Decode(cctx.Args().Get(1))
		if err != nil {
			return fmt.Errorf("parsing to CID: %w", err)
		}

		ops, err := mst.DiffTrees(ctx, bs, cctx.Int("fanout"), from, to)
		if err != nil {
			return err
		}

		for _, op := range ops {
			switch op.Op {
			case "add":
				fmt.Printf("add\t%s\t%s\n", op.Rpath, op.NewCid)
			case "mut":
				fmt.Printf("mut\t%s\t%s -> %s\n", op.Rpath, op.OldCid, op.NewCid)
			case "del":
				fmt.Printf("del\t%s\t%s\n", op.Rpath, op.OldCid)
			}
		}
		return nil
	},
}

var cmdVerify = &cli.Command{
	Name:      "verify",
	Usage:     "load a whole tree and check its structure",
	ArgsUsage: "<root>",
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		bs, cleanup, err := setup(cctx)
		if err != nil {
			return err
		}
		defer cleanup()

		tree, err := loadTreeArg(cctx, bs, 0)
		if err != nil {
			return err
		}

		if err := tree.Verify(ctx); err != nil {
			return err
		}
		fmt.Println("verified tree")
		return nil
	},
}

var cmdStats = &cli.Command{
	Name:      "stats",
	Usage:     "load a whole tree and print some counts",
	ArgsUsage: "<root>",
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		bs, cleanup, err := setup(cctx)
		if err != nil {
			return err
		}
		defer cleanup()

		tree, err := loadTreeArg(cctx, bs, 0)
		if err != nil {
			return err
		}

		if err := tree.Hydrate(ctx); err != nil {
			return err
		}

		leaves, err := tree.LeafCount(ctx)
		if err != nil {
			return err
		}
		nodes, err := tree.AllNodes(ctx)
		if err != nil {
			return err
		}
		layer, err := tree.Layer(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("leaves:\t%d\nnodes:\t%d\nlayer:\t%d\n", leaves, len(nodes), layer)
		return nil
	},
}

var cmdPretty = &cli.Command{
	Name:      "pretty",
	Usage:     "print the node structure of a tree, reading raw nodes from the store",
	ArgsUsage: "<root>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "full-cid",
			Usage: "display full CIDs",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		bs, cleanup, err := setup(cctx)
		if err != nil {
			return err
		}
		defer cleanup()

		root, err := cid.Decode(cctx.Args().First())
		if err != nil {
			return fmt.Errorf("parsing root CID: %w", err)
		}

		cst := util.CborStore(bs)
		opts := prettyOptions{fullCID: cctx.Bool("full-cid")}

		exists, err := bs.Has(ctx, root)
		if err != nil {
			return err
		}
		tree := treeprint.NewWithRoot(displayCID(&root, exists, opts))
		if exists {
			if err := walkNodes(ctx, bs, cst, root, tree, opts); err != nil {
				return err
			}
		}
		fmt.Println(tree.String())
		return nil
	},
}

type prettyOptions struct {
	fullCID bool
}

func walkNodes(ctx context.Context, bs mst.Blockstore, cst *cbor.BasicIpldStore, c cid.Cid, tree treeprint.Tree, opts prettyOptions) error {
	var node mst.NodeData
	if err := cst.Get(ctx, c, &node); err != nil {
		return err
	}

	branch := func(ptr *cid.Cid) error {
		exists, err := bs.Has(ctx, *ptr)
		if err != nil {
			return err
		}
		subtree := tree.AddBranch(displayCID(ptr, exists, opts))
		if exists {
			return walkNodes(ctx, bs, cst, *ptr, subtree, opts)
		}
		return nil
	}

	if node.Left != nil {
		if err := branch(node.Left); err != nil {
			return err
		}
	}
	for _, entry := range node.Entries {
		exists, err := bs.Has(ctx, entry.Val)
		if err != nil {
			return err
		}
		tree.AddNode(displayEntryVal(&entry, exists, opts))
		if entry.Tree != nil {
			if err := branch(entry.Tree); err != nil {
				return err
			}
		}
	}
	return nil
}

func displayEntryVal(entry *mst.TreeEntry, exists bool, opts prettyOptions) string {
	divider := " "
	if opts.fullCID {
		divider = "\n"
	}
	return strings.Repeat("∙", int(entry.PrefixLen)) + string(entry.KeySuffix) + divider + displayCID(&entry.Val, exists, opts)
}

func displayCID(c *cid.Cid, exists bool, opts prettyOptions) string {
	cidDisplay := c.String()
	if !opts.fullCID {
		cidDisplay = "…" + cidDisplay[len(cidDisplay)-7:]
	}
	connector := "─◉"
	if !exists {
		connector = "─◌"
	}
	return "[" + cidDisplay + "]" + connector
}

var cmdProof = &cli.Command{
	Name:      "proof",
	Usage:     "print the nodes proving the presence (or absence) of a key",
	ArgsUsage: "<root> <key>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "car",
			Usage: "write the proof nodes to a CAR file at this path",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		bs, cleanup, err := setup(cctx)
		if err != nil {
			return err
		}
		defer cleanup()

		// only the nodes on the path to the key get loaded, so the logged blocks are the proof
		lbs := util.NewLoggingBstore(bs)
		tree, err := loadTreeArg(cctx, lbs, 0)
		if err != nil {
			return err
		}
		key := cctx.Args().Get(1)

		proof, err := tree.CoveringProof(ctx, key)
		if err != nil {
			return err
		}

		val, err := tree.Get(ctx, key)
		if err != nil {
			return err
		}
		if val != nil {
			fmt.Printf("present\t%s\n", val)
		} else {
			fmt.Println("absent")
		}
		for _, c := range proof {
			fmt.Println(c)
		}

		if p := cctx.String("car"); p != "" {
			return writeBlocksCar(proof[0], lbs.GetLoggedBlocks(), p)
		}
		return nil
	},
}
