package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bluesky-social/go-mst/mst"
	"github.com/bluesky-social/go-mst/util"

	blockformat "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	"github.com/urfave/cli/v2"
)

var cmdImportCar = &cli.Command{
	Name:      "import-car",
	Usage:     "load a CAR file into the store, verify the tree at its root, and print the root CID",
	ArgsUsage: "<car-path>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "skip-verify",
			Usage: "don't load and check the whole tree after import",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context
		p := cctx.Args().First()
		if p == "" {
			return fmt.Errorf("need to provide path to CAR file")
		}

		bs, cleanup, err := setup(cctx)
		if err != nil {
			return err
		}
		defer cleanup()

		// stage blocks in memory until the tree checks out
		staged := util.NewReadThroughBstore(bs, util.NewMemBlockstore())

		fi, err := os.Open(p)
		if err != nil {
			return err
		}
		defer fi.Close()

		tree, err := mst.LoadFromCar(ctx, staged, cctx.Int("fanout"), fi)
		if err != nil {
			return err
		}
		root, err := tree.GetPointer(ctx)
		if err != nil {
			return err
		}

		if !cctx.Bool("skip-verify") {
			if err := tree.Verify(ctx); err != nil {
				return fmt.Errorf("verifying tree %s: %w", root, err)
			}
		}

		n, err := staged.Flush(ctx)
		if err != nil {
			return err
		}
		slog.Info("imported CAR file", "path", p, "root", root, "blocks", n)

		fmt.Println(root)
		return nil
	},
}

var cmdExportCar = &cli.Command{
	Name:      "export-car",
	Usage:     "write the tree at a root to a CAR file",
	ArgsUsage: "<root>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "file path for CAR output (- for stdout)",
			Value:   "-",
		},
		&cli.BoolFlag{
			Name:  "values",
			Usage: "include the blocks that leaf values point to",
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

		return writeTreeCar(ctx, tree, cctx.String("output"), cctx.Bool("values"))
	},
}

// Writes an arbitrary set of blocks as a CARv1 file with a single root.
func writeBlocksCar(root cid.Cid, blks []blockformat.Block, path string) error {
	out, err := openOutput(path)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := car.WriteHeader(&car.CarHeader{
		Roots:   []cid.Cid{root},
		Version: 1,
	}, out); err != nil {
		return err
	}

	for _, blk := range blks {
		if err := carutil.LdWrite(out, blk.Cid().Bytes(), blk.RawData()); err != nil {
			return err
		}
	}
	return nil
}
