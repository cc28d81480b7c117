// Package shmem parses the shared-memory descriptor that enumerates index
// generations and data-file capacities.
//
// The descriptor's real on-disk byte layout is not pinned down here; the
// layout below is this implementation's own fixed-width little-endian
// encoding of the fields that are: see DESIGN.md for the rationale.
package shmem

import (
	"encoding/binary"
	"io"

	"github.com/kestrelgames/cask/internal/formaterr"
	"github.com/kestrelgames/cask/internal/hashkey"
)

// BucketCount is the number of index buckets (and shmem generation/version slots).
const BucketCount = 16

const headerSize = 4 + 4 + BucketCount*4 + BucketCount*4 + 4

// Descriptor holds the parsed shmem contents.
type Descriptor struct {
	// MaxDataFileSize is the maximum size a data.NNN file may reach; used
	// to derive the offset/ordinal bit shift for index locations.
	MaxDataFileSize uint64

	// Generations is the per-bucket index generation number, used to break
	// ties when the same key is present in more than one loaded shard.
	Generations [BucketCount]uint32

	// Versions is the per-bucket shard version, used to name the active
	// "<bucket><version>.idx" file.
	Versions [BucketCount]uint32

	// DataFileSizes is the current size of each data.NNN file, indexed by
	// file ordinal.
	DataFileSizes []uint64
}

// Parse reads a Descriptor from r.
func Parse(r io.Reader) (*Descriptor, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, formaterr.Errorf("shmem", "read header: %w", err)
	}

	d := &Descriptor{}
	off := 0
	_ = binary.LittleEndian.Uint32(header[off:]) // reserved block-size field
	off += 4
	d.MaxDataFileSize = uint64(binary.LittleEndian.Uint32(header[off:]))
	off += 4
	for i := 0; i < BucketCount; i++ {
		d.Generations[i] = binary.LittleEndian.Uint32(header[off:])
		off += 4
	}
	for i := 0; i < BucketCount; i++ {
		d.Versions[i] = binary.LittleEndian.Uint32(header[off:])
		off += 4
	}
	fileCount := binary.LittleEndian.Uint32(header[off:])

	sizes := make([]uint64, fileCount)
	buf := make([]byte, 8)
	for i := range sizes {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, formaterr.Errorf("shmem", "read data-file size %d: %w", i, err)
		}
		sizes[i] = binary.LittleEndian.Uint64(buf)
	}
	d.DataFileSizes = sizes

	return d, nil
}

// Shift returns the bit shift S used to split a 40-bit index location into
// a data-file ordinal and byte offset: S = ceil(log2(MaxDataFileSize)).
func (d *Descriptor) Shift() uint {
	return hashkey.CeilLog2(d.MaxDataFileSize)
}
