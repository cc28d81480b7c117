package hashkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashRoundTrip(t *testing.T) {
	const s = "41ee1986acc533cc00112233445566ff"
	h, err := ParseHash(s)
	require.NoError(t, err)
	assert.Equal(t, s, h.String())
}

func TestBucketConcreteScenario(t *testing.T) {
	// Hex("41ee1986acc533cc00") folds to bucket 0.
	key, err := ParseStorageKey("41ee1986acc533cc00")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), key.Bucket())
}

func TestBucketArrayAndSliceAgree(t *testing.T) {
	key, err := ParseStorageKey("41ee1986acc533cc00")
	require.NoError(t, err)

	fromArray := key.Bucket()
	fromSlice := Bucket(key[:])
	assert.Equal(t, fromArray, fromSlice)

	// A freshly-copied slice of equal bytes, not backed by the array, must
	// still agree.
	cp := make([]byte, KeySize)
	copy(cp, key[:])
	assert.Equal(t, fromArray, Bucket(cp))
}

func TestBucketInRange(t *testing.T) {
	for i := 0; i < 256; i++ {
		key := StorageKey{byte(i), byte(i * 3), byte(i * 7), 0, 0, 0, 0, 0, byte(i)}
		b := key.Bucket()
		assert.LessOrEqual(t, b, uint8(15))
	}
}

func TestHashKeyTruncation(t *testing.T) {
	h, err := ParseHash("41ee1986acc533cc00112233445566ff")
	require.NoError(t, err)
	assert.Equal(t, "41ee1986acc533cc00", h.Key().String())
}

func TestCeilLog2(t *testing.T) {
	cases := map[uint64]uint{
		1:          0,
		2:          1,
		3:          2,
		1 << 30:    30,
		1<<30 + 1:  31,
		1024 * 1024 * 1024 * 4: 32,
	}
	for n, want := range cases {
		assert.Equal(t, want, CeilLog2(n), "n=%d", n)
	}
}
