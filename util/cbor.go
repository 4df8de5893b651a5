package util

import (
	"context"

	"github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	mh "github.com/multiformats/go-multihash"
)

// IPLD store hashing with sha2-256, matching tree node CIDs.
func CborStore(bs cbor.IpldBlockstore) *cbor.BasicIpldStore {
	cst := cbor.NewCborStore(bs)
	cst.DefaultMultihash = mh.SHA2_256
	return cst
}

// Stores a simple record object as DAG-CBOR, returning its CID for use as a tree value.
func PutRecord(ctx context.Context, cst cbor.IpldStore, rec map[string]any) (cid.Cid, error) {
	return cst.Put(ctx, rec)
}

// Reads back a record stored with PutRecord.
func GetRecord(ctx context.Context, cst cbor.IpldStore, c cid.Cid) (map[string]any, error) {
	var rec map[string]any
	if err := cst.Get(ctx, c, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
