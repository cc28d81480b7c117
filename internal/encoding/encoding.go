// Package encoding parses the two-tier chunked encoding table mapping a
// content hash to one or more storage keys.
//
// Chunks are walked with an explicit cursor-based parser rather than by
// overlaying a struct onto the buffer: every field is read with its
// documented width and endianness.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kestrelgames/cask/internal/contenthash"
	"github.com/kestrelgames/cask/internal/formaterr"
	"github.com/kestrelgames/cask/internal/hashkey"
)

// ErrNotFound is returned when a content hash has no entry in either table.
var ErrNotFound = errors.New("encoding: not found")

const (
	headerSize = 22
	chunkSize  = 4096
	headSize   = 32 // first-key (16) + md5 (16)
	magic      = 0x4E45
)

// chunkHead records the smallest key in a chunk's body and the MD5 of the
// chunk's 4 KiB body.
type chunkHead struct {
	first    hashkey.Hash
	checksum hashkey.Hash
}

// Entry is one decoded content-hash → storage-key(s) mapping.
type Entry struct {
	ContentHash hashkey.Hash
	FileSize    uint32
	Keys        []hashkey.Hash
}

// Table is the parsed two-tier encoding table. Table holds onto the raw
// bytes it was parsed from; chunk bodies are re-read from it lazily on
// each Find so a table can be kept around cheaply without pre-decoding
// every chunk.
type Table struct {
	data []byte

	hashSizeA, hashSizeB uint8

	aHeads  []chunkHead
	aBodies [][]byte

	bHeads  []chunkHead
	bBodies [][]byte

	logger *slog.Logger
}

// Parse decodes a complete encoding-table blob. Chunk checksum failures
// encountered on later Find calls are logged at Warn through logger before
// the error is returned; a nil logger discards them.
//
// The provided data is retained by the Table; callers must not modify it
// afterward.
func Parse(data []byte, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(data) < headerSize {
		return nil, formaterr.Errorf("encoding", "truncated header: %d bytes", len(data))
	}

	gotMagic := binary.LittleEndian.Uint16(data[0:2])
	if gotMagic != magic {
		return nil, formaterr.Errorf("encoding", "bad magic %#x, want %#x", gotMagic, magic)
	}

	hashSizeA := data[3]
	hashSizeB := data[4]
	tableSizeA := binary.BigEndian.Uint32(data[9:13])
	tableSizeB := binary.BigEndian.Uint32(data[13:17])
	stringTableSize := binary.BigEndian.Uint32(data[18:22])

	cursor := headerSize
	cursor += int(stringTableSize) // string table is not needed for lookups

	t := &Table{data: data, hashSizeA: hashSizeA, hashSizeB: hashSizeB, logger: logger}

	var err error
	cursor, t.aHeads, err = readHeads(data, cursor, int(tableSizeA))
	if err != nil {
		return nil, fmt.Errorf("encoding: table A heads: %w", err)
	}
	cursor, t.aBodies, err = readBodies(data, cursor, int(tableSizeA))
	if err != nil {
		return nil, fmt.Errorf("encoding: table A bodies: %w", err)
	}

	cursor, t.bHeads, err = readHeads(data, cursor, int(tableSizeB))
	if err != nil {
		return nil, fmt.Errorf("encoding: table B heads: %w", err)
	}
	_, t.bBodies, err = readBodies(data, cursor, int(tableSizeB))
	if err != nil {
		return nil, fmt.Errorf("encoding: table B bodies: %w", err)
	}

	return t, nil
}

func readHeads(data []byte, cursor, count int) (int, []chunkHead, error) {
	heads := make([]chunkHead, count)
	for i := range heads {
		if cursor+headSize > len(data) {
			return 0, nil, formaterr.Errorf("encoding", "head %d: truncated", i)
		}
		copy(heads[i].first[:], data[cursor:cursor+hashkey.HashSize])
		copy(heads[i].checksum[:], data[cursor+hashkey.HashSize:cursor+headSize])
		cursor += headSize
	}
	return cursor, heads, nil
}

func readBodies(data []byte, cursor, count int) (int, [][]byte, error) {
	bodies := make([][]byte, count)
	for i := range bodies {
		if cursor+chunkSize > len(data) {
			return 0, nil, formaterr.Errorf("encoding", "body %d: truncated", i)
		}
		bodies[i] = data[cursor : cursor+chunkSize]
		cursor += chunkSize
	}
	return cursor, bodies, nil
}

// Find looks up a content hash, searching table A and falling through to
// table B on an A miss; see DESIGN.md for why B is always searched on a
// miss rather than treated as an alternate-variant-only table.
func (t *Table) Find(h hashkey.Hash) ([]hashkey.Hash, error) {
	keys, err := t.find(h, t.aHeads, t.aBodies, t.hashSizeA)
	if err == nil {
		return keys, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return t.find(h, t.bHeads, t.bBodies, t.hashSizeB)
}

func (t *Table) find(h hashkey.Hash, heads []chunkHead, bodies [][]byte, hashSize uint8) ([]hashkey.Hash, error) {
	if len(heads) == 0 {
		return nil, ErrNotFound
	}

	// Highest index i such that heads[i].first <= h.
	i := sort.Search(len(heads), func(idx int) bool {
		return heads[idx].first.Compare(h) > 0
	}) - 1
	if i < 0 {
		return nil, ErrNotFound
	}

	body := bodies[i]
	if err := contenthash.Verify(body, heads[i].checksum, "encoding chunk body"); err != nil {
		t.logger.Warn("encoding chunk checksum mismatch", "chunk", i, "error", err)
		return nil, err
	}

	return scanChunk(body, h, hashSize)
}

// scanChunk linearly walks a chunk body's densely-packed entries, stopping
// at key_count == 0 or end of buffer.
func scanChunk(body []byte, want hashkey.Hash, hashSize uint8) ([]hashkey.Hash, error) {
	cursor := 0
	for cursor+2 <= len(body) {
		keyCount := binary.LittleEndian.Uint16(body[cursor:])
		cursor += 2
		if keyCount == 0 {
			break
		}

		if cursor+4 > len(body) {
			return nil, formaterr.Errorf("encoding", "chunk: truncated file_size")
		}
		fileSize := binary.BigEndian.Uint32(body[cursor:])
		_ = fileSize
		cursor += 4

		if cursor+int(hashSize) > len(body) {
			return nil, formaterr.Errorf("encoding", "chunk: truncated content hash")
		}
		var contentHash hashkey.Hash
		copy(contentHash[:], body[cursor:cursor+int(hashSize)])
		cursor += int(hashSize)

		keysLen := int(keyCount) * int(hashSize)
		if cursor+keysLen > len(body) {
			return nil, formaterr.Errorf("encoding", "chunk: truncated key list")
		}
		keysBytes := body[cursor : cursor+keysLen]
		cursor += keysLen

		if contentHash == want {
			keys := make([]hashkey.Hash, keyCount)
			for i := range keys {
				copy(keys[i][:], keysBytes[i*int(hashSize):(i+1)*int(hashSize)])
			}
			return keys, nil
		}
	}
	return nil, ErrNotFound
}
