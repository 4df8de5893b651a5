package mst

import (
	"context"
	"fmt"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// how many nodes Hydrate loads at once
var HydrateConcurrency = 16

// Writes every node of the tree which the blockstore does not already have, and returns the root pointer.
//
// A node which is already stored is assumed to be stored along with all of its children.
func (mst *MerkleSearchTree) Save(ctx context.Context) (cid.Cid, error) {
	ctx, span := tracer.Start(ctx, "Save")
	defer span.End()

	ptr, err := mst.GetPointer(ctx)
	if err != nil {
		return cid.Undef, err
	}

	n, err := mst.saveNode(ctx)
	if err != nil {
		return cid.Undef, fmt.Errorf("saving tree %s: %w", ptr, err)
	}
	span.SetAttributes(attribute.Int("written", n))

	return ptr, nil
}

func (mst *MerkleSearchTree) saveNode(ctx context.Context) (int, error) {
	ptr, err := mst.GetPointer(ctx)
	if err != nil {
		return 0, err
	}

	has, err := mst.bs.Has(ctx, ptr)
	if err != nil {
		return 0, err
	}
	if has {
		return 0, nil
	}

	entries, err := mst.getEntries(ctx)
	if err != nil {
		return 0, err
	}

	nd, err := serializeNodeData(ctx, entries)
	if err != nil {
		return 0, err
	}

	raw, c, err := nd.Bytes()
	if err != nil {
		return 0, err
	}
	if c != ptr {
		return 0, fmt.Errorf("node pointer out of date (%s != %s)", ptr, c)
	}

	blk, err := blocks.NewBlockWithCid(raw, c)
	if err != nil {
		return 0, err
	}

	if err := mst.bs.Put(ctx, blk); err != nil {
		return 0, err
	}
	nodesWritten.Inc()

	written := 1
	for _, e := range entries {
		if e.isTree() {
			n, err := e.Tree.saveNode(ctx)
			if err != nil {
				return written, err
			}
			written += n
		}
	}
	return written, nil
}

// Loads every node of the tree into memory. Each layer of the tree is fetched concurrently.
func (mst *MerkleSearchTree) Hydrate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Hydrate")
	defer span.End()

	var loaded int
	level := []*MerkleSearchTree{mst}
	for len(level) > 0 {
		var lk sync.Mutex
		var next []*MerkleSearchTree

		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(HydrateConcurrency)
		for _, n := range level {
			eg.Go(func() error {
				entries, err := n.getEntries(ectx)
				if err != nil {
					return err
				}

				lk.Lock()
				defer lk.Unlock()
				for _, e := range entries {
					if e.isTree() {
						next = append(next, e.Tree)
					}
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}

		loaded += len(level)
		level = next
	}

	span.SetAttributes(attribute.Int("nodes", loaded))
	return nil
}
