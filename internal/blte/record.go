package blte

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kestrelgames/cask/internal/hashkey"
)

// RecordHeaderSize is the size of the archive record header preceding a
// BLTE payload within a data file.
const RecordHeaderSize = 30

// RecordHeader is the 30-byte header at the start of every stored record:
// a byte-reversed storage key, the total record size (header included),
// and 10 reserved bytes.
type RecordHeader struct {
	Key        hashkey.Hash // storage key, already un-reversed
	RecordSize uint32
}

// ParseRecordHeader reads and decodes a RecordHeader from r.
func ParseRecordHeader(r io.Reader) (RecordHeader, error) {
	var buf [RecordHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return RecordHeader{}, fmt.Errorf("blte: record header: %w", err)
	}

	var reversed hashkey.Hash
	copy(reversed[:], buf[:hashkey.HashSize])

	return RecordHeader{
		Key:        reverseKey(reversed),
		RecordSize: binary.LittleEndian.Uint32(buf[hashkey.HashSize : hashkey.HashSize+4]),
	}, nil
}

// reverseKey restores the on-disk, byte-reversed archive key to the
// storage key's natural byte order. Compare after reversal; this function
// produces a new value and never mutates its argument.
func reverseKey(key hashkey.Hash) hashkey.Hash {
	var out hashkey.Hash
	for i := range key {
		out[i] = key[len(key)-1-i]
	}
	return out
}
