package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelgames/cask/internal/hashkey"
	"github.com/kestrelgames/cask/internal/shmem"
)

// writeShard builds one shard file on disk with the given entries, all
// using the given offset shift.
func writeShard(t *testing.T, dir string, bucket int, version uint32, shift uint8, entries []Entry) {
	t.Helper()

	var body []byte
	for _, e := range entries {
		var rec [hashkey.KeySize + 5 + 4]byte
		copy(rec[:], e.Key[:])
		location := uint64(e.FileOrdinal)<<shift | e.Offset
		hashkey.PutUint40BE(rec[hashkey.KeySize:], location)
		lengthOff := hashkey.KeySize + 5
		rec[lengthOff] = byte(e.Size)
		rec[lengthOff+1] = byte(e.Size >> 8)
		rec[lengthOff+2] = byte(e.Size >> 16)
		rec[lengthOff+3] = byte(e.Size >> 24)
		body = append(body, rec[:]...)
	}

	header := make([]byte, shardHeaderSize)
	header[0] = hashkey.KeySize
	header[1] = 5
	header[2] = 4
	header[3] = shift
	count := uint32(len(entries))
	header[4] = byte(count)
	header[5] = byte(count >> 8)
	header[6] = byte(count >> 16)
	header[7] = byte(count >> 24)

	path := shardPath(dir, bucket, version)
	require.NoError(t, os.WriteFile(path, append(header, body...), 0o600))
}

func TestLoadResolvesConcreteScenario(t *testing.T) {
	dir := t.TempDir()

	var desc shmem.Descriptor
	desc.MaxDataFileSize = 1 << 30 // shift 30

	key, err := hashkey.ParseStorageKey("41ee1986acc533cc00")
	require.NoError(t, err)

	for b := 0; b < shmem.BucketCount; b++ {
		var entries []Entry
		if b == int(key.Bucket()) {
			entries = []Entry{{Key: key, FileOrdinal: 1, Offset: 42, Size: 1000}}
		}
		writeShard(t, dir, b, 0, 30, entries)
	}

	idx, err := Load(dir, &desc, nil)
	require.NoError(t, err)

	entry, ok := idx.LookupKey(key)
	require.True(t, ok)
	assert.Equal(t, uint8(1), entry.FileOrdinal)
	assert.EqualValues(t, 42, entry.Offset)
	assert.EqualValues(t, 1000, entry.Size)
}

func TestLoadPrefersHigherGeneration(t *testing.T) {
	dir := t.TempDir()

	var desc shmem.Descriptor
	desc.MaxDataFileSize = 1 << 20

	key, err := hashkey.ParseStorageKey("00ee1986acc533cc00")
	require.NoError(t, err)
	bucket := int(key.Bucket())
	other := (bucket + 1) % shmem.BucketCount

	desc.Generations[bucket] = 1
	desc.Generations[other] = 5

	for b := 0; b < shmem.BucketCount; b++ {
		switch b {
		case bucket:
			writeShard(t, dir, b, 0, 20, []Entry{{Key: key, FileOrdinal: 0, Offset: 1, Size: 10}})
		case other:
			writeShard(t, dir, b, 0, 20, []Entry{{Key: key, FileOrdinal: 9, Offset: 99, Size: 20}})
		default:
			writeShard(t, dir, b, 0, 20, nil)
		}
	}

	idx, err := Load(dir, &desc, nil)
	require.NoError(t, err)

	entry, ok := idx.LookupKey(key)
	require.True(t, ok)
	assert.Equal(t, uint8(9), entry.FileOrdinal, "higher-generation shard should win")
}

func TestLoadMissingShard(t *testing.T) {
	dir := t.TempDir()
	var desc shmem.Descriptor
	desc.MaxDataFileSize = 1 << 20
	_, err := Load(filepath.Join(dir, "missing"), &desc, nil)
	require.Error(t, err)
}
