package documents

import (
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ContentAddress derives the CIDv1 (raw codec, sha2-256) of data. It matches
// what a pinning service reports for the same bytes uploaded as a raw leaf.
func ContentAddress(data []byte) (string, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, hash).String(), nil
}

// ValidAddress reports whether s parses as a content identifier.
func ValidAddress(s string) bool {
	_, err := cid.Decode(s)
	return err == nil
}
