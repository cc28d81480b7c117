package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kestrelgames/cask/internal/formaterr"
	"github.com/kestrelgames/cask/internal/hashkey"
)

// Entry is a resolved local-index record: a storage key's physical
// location within a data file.
type Entry struct {
	Key         hashkey.StorageKey
	FileOrdinal uint8
	Offset      uint64
	Size        uint32
}

// shardHeader is this implementation's own fixed encoding of a shard's
// key/location/length sizes and offset shift; the historical byte layout
// beyond those fields isn't pinned down, so the header below is
// deliberately minimal — see DESIGN.md.
type shardHeader struct {
	keySize      uint8
	locationSize uint8
	lengthSize   uint8
	shift        uint8
	entryCount   uint32
}

const shardHeaderSize = 1 + 1 + 1 + 1 + 4

// shardPath returns the path of the active shard file for a bucket, named
// "<bucket hex digit><version>.idx" under dataDir.
func shardPath(dataDir string, bucket int, version uint32) string {
	return filepath.Join(dataDir, fmt.Sprintf("%X%d.idx", bucket, version))
}

// parseShard reads one bucket's shard file: a shardHeader followed by
// entryCount sorted (key, location, length) triples.
func parseShard(path string, offsetShift uint) ([]Entry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-controlled install path
	if err != nil {
		return nil, fmt.Errorf("index: read shard %s: %w", path, err)
	}
	if len(data) < shardHeaderSize {
		return nil, formaterr.Errorf("index", "shard %s: truncated header", path)
	}

	h := shardHeader{
		keySize:      data[0],
		locationSize: data[1],
		lengthSize:   data[2],
		shift:        data[3],
	}
	h.entryCount = uint32(data[4]) | uint32(data[5])<<8 | uint32(data[6])<<16 | uint32(data[7])<<24

	if h.keySize != hashkey.KeySize || h.locationSize != 5 || h.lengthSize != 4 {
		return nil, formaterr.Errorf("index", "shard %s: unexpected layout key=%d location=%d length=%d",
			path, h.keySize, h.locationSize, h.lengthSize)
	}

	shift := offsetShift
	if h.shift != 0 {
		shift = uint(h.shift)
	}
	mask := uint64(1)<<shift - 1

	recordSize := int(h.keySize) + int(h.locationSize) + int(h.lengthSize)
	body := data[shardHeaderSize:]
	if len(body) < int(h.entryCount)*recordSize {
		return nil, formaterr.Errorf("index", "shard %s: truncated body: want %d entries", path, h.entryCount)
	}

	entries := make([]Entry, h.entryCount)
	for i := range entries {
		rec := body[i*recordSize:]
		var key hashkey.StorageKey
		copy(key[:], rec[:hashkey.KeySize])

		location, err := hashkey.ReadUint40BE(rec[hashkey.KeySize:])
		if err != nil {
			return nil, fmt.Errorf("index: shard %s: entry %d: %w", path, i, err)
		}

		lengthOff := hashkey.KeySize + 5
		length := uint32(rec[lengthOff]) | uint32(rec[lengthOff+1])<<8 |
			uint32(rec[lengthOff+2])<<16 | uint32(rec[lengthOff+3])<<24
		length &= 0x3FFFFFFF // only the low 30 bits are used

		entries[i] = Entry{
			Key:         key,
			FileOrdinal: uint8(location >> shift),
			Offset:      location & mask,
			Size:        length,
		}
	}
	return entries, nil
}
