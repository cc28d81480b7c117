// Package contenthash provides MD5 digesting and verification for the
// container's chunk, frame, and blob checksums, built on
// github.com/opencontainers/go-digest the same way SHA-256 content
// addressing is usually built on that package.
package contenthash

import (
	"crypto"
	_ "crypto/md5" // register crypto.MD5 with the stdlib hash registry
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/kestrelgames/cask/internal/hashkey"
)

// MD5 is the digest algorithm used for index, encoding, and BLTE checksums.
// go-digest ships only SHA-2 family algorithms by default; the container's
// wire formats predate SHA-2 and use MD5 throughout, so we register it.
const MD5 = digest.Algorithm("md5")

func init() {
	digest.RegisterAlgorithm(MD5, crypto.MD5)
}

// Sum computes the MD5 digest of b as a Hash.
func Sum(b []byte) hashkey.Hash {
	d := MD5.FromBytes(b)
	h, err := hashkey.ParseHash(d.Hex())
	if err != nil {
		// MD5.FromBytes always yields 32 hex chars; a parse failure here
		// would mean go-digest itself is broken.
		panic(fmt.Sprintf("contenthash: unreachable: %v", err))
	}
	return h
}

// Verify checks that the MD5 digest of b equals want, returning a
// descriptive error (not a boolean) so callers can surface the
// invalid-hash error kind with context.
func Verify(b []byte, want hashkey.Hash, context string) error {
	got := Sum(b)
	if got != want {
		return &InvalidHashError{Expected: want, Actual: got, Context: context}
	}
	return nil
}

// VerifyReader streams r through MD5 and checks the result against want.
// Used when the checked data is too large, or too awkward, to buffer first.
func VerifyReader(r io.Reader, want hashkey.Hash, context string) error {
	d, err := MD5.FromReader(r)
	if err != nil {
		return fmt.Errorf("contenthash: digest %s: %w", context, err)
	}
	got, err := hashkey.ParseHash(d.Hex())
	if err != nil {
		panic(fmt.Sprintf("contenthash: unreachable: %v", err))
	}
	if got != want {
		return &InvalidHashError{Expected: want, Actual: got, Context: context}
	}
	return nil
}

// InvalidHashError reports a checksum mismatch.
type InvalidHashError struct {
	Expected hashkey.Hash
	Actual   hashkey.Hash
	Context  string
}

func (e *InvalidHashError) Error() string {
	return fmt.Sprintf("contenthash: %s: hash mismatch: expected %s, got %s", e.Context, e.Expected, e.Actual)
}
