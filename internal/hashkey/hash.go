// Package hashkey implements the fixed-width hash and storage-key types
// shared by every layer of the container: content hashes, storage keys,
// and the bucket function that routes a key to one of 16 index shards.
package hashkey

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// HashSize is the width of a content hash or storage hash.
const HashSize = 16

// KeySize is the width of a storage key: the first 9 bytes of a Hash.
const KeySize = 9

// Hash is a 16-byte content-addressed identifier. Hashes compare as
// unsigned big-endian integers, which is simply lexicographic byte order.
type Hash [HashSize]byte

// ParseHash decodes a hex string (case-insensitive) into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hashkey: parse hash %q: %w", s, err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("hashkey: hash %q has %d bytes, want %d", s, len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

// String returns the canonical lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Compare returns -1, 0, or 1 as h is less than, equal to, or greater than other.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Key truncates h to its first 9 bytes, producing the StorageKey used to
// look up an entry in the local index.
func (h Hash) Key() StorageKey {
	var k StorageKey
	copy(k[:], h[:KeySize])
	return k
}

// StorageKey is the 9-byte prefix of a 16-byte Hash used as an index key.
type StorageKey [KeySize]byte

// ParseStorageKey decodes a hex string into a StorageKey.
func ParseStorageKey(s string) (StorageKey, error) {
	var k StorageKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("hashkey: parse storage key %q: %w", s, err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("hashkey: storage key %q has %d bytes, want %d", s, len(b), KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// String returns the canonical lowercase hex form.
func (k StorageKey) String() string {
	return hex.EncodeToString(k[:])
}

// Compare returns -1, 0, or 1 as k is less than, equal to, or greater than other.
func (k StorageKey) Compare(other StorageKey) int {
	return bytes.Compare(k[:], other[:])
}

// Bucket computes the 4-bit bucket id that selects which of the 16 index
// shards holds this key: fold the XOR of all 9 bytes by XOR-ing its
// high and low nibbles.
//
// Bucket is defined over a plain byte slice (not the StorageKey array) so
// that it behaves identically regardless of whether the caller holds an
// array or a slice view of the same 9 bytes.
func (k StorageKey) Bucket() uint8 {
	return Bucket(k[:])
}

// Bucket computes the bucket id for any 9-byte key, array- or slice-backed.
func Bucket(key []byte) uint8 {
	var x byte
	for _, b := range key {
		x ^= b
	}
	return (x >> 4) ^ (x & 0x0F)
}
