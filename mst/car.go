package mst

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	ipld "github.com/ipfs/go-ipld-format"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	carv2 "github.com/ipld/go-car/v2"
	"go.opentelemetry.io/otel/attribute"
)

// Writes the tree as a CARv1 file, with the root pointer as the only root. If withValues is set, the blocks for leaf values are copied out of the blockstore too; values missing from the blockstore are skipped.
func (mst *MerkleSearchTree) WriteCar(ctx context.Context, w io.Writer, withValues bool) error {
	ctx, span := tracer.Start(ctx, "WriteCar")
	defer span.End()

	root, err := mst.GetPointer(ctx)
	if err != nil {
		return err
	}

	if err := car.WriteHeader(&car.CarHeader{
		Roots:   []cid.Cid{root},
		Version: 1,
	}, w); err != nil {
		return err
	}

	var nodes, values int
	err = mst.Walk(ctx, func(ne NodeEntry) error {
		if ne.isTree() {
			entries, err := ne.Tree.getEntries(ctx)
			if err != nil {
				return err
			}
			nd, err := serializeNodeData(ctx, entries)
			if err != nil {
				return err
			}
			raw, c, err := nd.Bytes()
			if err != nil {
				return err
			}
			if err := carutil.LdWrite(w, c.Bytes(), raw); err != nil {
				return err
			}
			nodes++
			return nil
		}

		if !withValues {
			return nil
		}
		blk, err := mst.bs.Get(ctx, ne.Val)
		if err != nil {
			if ipld.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("reading value for %s: %w", ne.Key, err)
		}
		if err := carutil.LdWrite(w, blk.Cid().Bytes(), blk.RawData()); err != nil {
			return err
		}
		values++
		return nil
	})
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("nodes", nodes), attribute.Int("values", values))
	return nil
}

// Copies every block of a CAR file (v1 or v2) into the blockstore, and returns the roots from the header.
func ReadCarToBlockstore(ctx context.Context, bs Blockstore, r io.Reader) ([]cid.Cid, error) {
	ctx, span := tracer.Start(ctx, "ReadCarToBlockstore")
	defer span.End()

	br, err := carv2.NewBlockReader(r)
	if err != nil {
		return nil, err
	}

	var count int
	for {
		blk, err := br.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		if err := bs.Put(ctx, blk); err != nil {
			return nil, err
		}
		count++
	}
	span.SetAttributes(attribute.Int("blocks", count))

	return br.Roots, nil
}

// Reads a CAR file into the blockstore and returns the tree at its first root.
func LoadFromCar(ctx context.Context, bs Blockstore, fanout int, r io.Reader) (*MerkleSearchTree, error) {
	roots, err := ReadCarToBlockstore(ctx, bs, r)
	if err != nil {
		return nil, err
	}
	if len(roots) < 1 {
		return nil, fmt.Errorf("CAR file missing root CID")
	}
	return LoadMST(bs, fanout, roots[0])
}
