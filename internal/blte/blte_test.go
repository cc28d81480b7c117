package blte

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelgames/cask/internal/contenthash"
	"github.com/kestrelgames/cask/internal/hashkey"
)

// buildRecord assembles a full archive record: the 30-byte reversed-key
// header followed by a BLTE payload built from encodedFrames (each frame
// already includes its leading mode byte).
func buildRecord(t *testing.T, encodedFrames [][]byte, decodedSizes []int) ([]byte, hashkey.Hash) {
	t.Helper()
	require.Equal(t, len(encodedFrames), len(decodedSizes))

	var blte bytes.Buffer
	blte.WriteString("BLTE")

	if len(encodedFrames) == 1 {
		// Exercise the implicit-single-frame path: header_size == 0.
		_ = binary.Write(&blte, binary.BigEndian, uint32(0))
		blte.Write(encodedFrames[0])
	} else {
		headerBody := new(bytes.Buffer)
		headerBody.WriteByte(0x0F) // flags, unchecked by this implementation
		frameCountBytes := []byte{0, 0, byte(len(encodedFrames))}
		headerBody.Write(frameCountBytes)
		for i, f := range encodedFrames {
			_ = binary.Write(headerBody, binary.BigEndian, uint32(len(f)))
			_ = binary.Write(headerBody, binary.BigEndian, uint32(decodedSizes[i]))
			sum := contenthash.Sum(f)
			headerBody.Write(sum[:])
		}
		_ = binary.Write(&blte, binary.BigEndian, uint32(headerBody.Len()))
		blte.Write(headerBody.Bytes())
		for _, f := range encodedFrames {
			blte.Write(f)
		}
	}

	payload := blte.Bytes()

	// Storage keys are the MD5 of the raw framed bytes, so building a
	// synthetic record is just: digest the payload, reverse it into the
	// on-disk key field.
	var record bytes.Buffer
	key := contenthash.Sum(payload)
	reversed := reverseKey(key)
	record.Write(reversed[:])
	_ = binary.Write(&record, binary.LittleEndian, uint32(RecordHeaderSize+len(payload)))
	record.Write(make([]byte, 10)) // reserved
	record.Write(payload)

	return record.Bytes(), key
}

func zlibFrame(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteByte('Z')
	w := zlib.NewWriter(&buf)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func rawFrame(raw []byte) []byte {
	return append([]byte{'N'}, raw...)
}

type readerAtBytes []byte

func (r readerAtBytes) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r)) {
		return 0, io.EOF
	}
	n := copy(p, r[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func TestOpenSingleRawFrame(t *testing.T) {
	payload := []byte("hello, archive")
	record, _ := buildRecord(t, [][]byte{rawFrame(payload)}, []int{len(payload)})

	s, err := Open(readerAtBytes(record), 0, NewHandlerSet(), nil)
	require.NoError(t, err)

	got, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.EqualValues(t, len(payload), s.Len())
}

func TestOpenTwoZlibFramesSeekSecond(t *testing.T) {
	first := bytes.Repeat([]byte("A"), 100)
	second := bytes.Repeat([]byte("B"), 100)

	f1 := zlibFrame(t, first)
	f2 := zlibFrame(t, second)
	record, _ := buildRecord(t, [][]byte{f1, f2}, []int{len(first), len(second)})

	s, err := Open(readerAtBytes(record), 0, NewHandlerSet(), nil)
	require.NoError(t, err)

	mid := int64(len(first)) + 50
	_, err = s.Seek(mid, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, second[50:50+n], buf[:n])
}

func TestOpenDetectsHashMismatch(t *testing.T) {
	payload := []byte("hello")
	record, _ := buildRecord(t, [][]byte{rawFrame(payload)}, []int{len(payload)})

	// Corrupt the reversed key so it no longer matches the payload MD5.
	record[0] ^= 0xFF

	_, err := Open(readerAtBytes(record), 0, NewHandlerSet(), nil)
	require.Error(t, err)
	var hashErr *contenthash.InvalidHashError
	require.ErrorAs(t, err, &hashErr)
}

func TestOpenDetectsFrameChecksumMismatch(t *testing.T) {
	first := bytes.Repeat([]byte("A"), 50)
	second := bytes.Repeat([]byte("B"), 50)
	f1 := rawFrame(first)
	f2 := rawFrame(second)

	// Build the frame table from the original, uncorrupted frames, then
	// corrupt frame 2's encoded bytes afterward and recompute only the
	// outer raw-blob key — simulating a frame that was damaged after the
	// table was written, independent of the whole-blob check.
	headerBody := new(bytes.Buffer)
	headerBody.WriteByte(0)
	headerBody.Write([]byte{0, 0, 2})
	for _, f := range [][]byte{f1, f2} {
		_ = binary.Write(headerBody, binary.BigEndian, uint32(len(f)))
		_ = binary.Write(headerBody, binary.BigEndian, uint32(50))
		sum := contenthash.Sum(f)
		headerBody.Write(sum[:])
	}

	var blte bytes.Buffer
	blte.WriteString("BLTE")
	_ = binary.Write(&blte, binary.BigEndian, uint32(headerBody.Len()))
	blte.Write(headerBody.Bytes())
	blte.Write(f1)
	f2Corrupt := append([]byte{}, f2...)
	f2Corrupt[5] ^= 0xFF
	blte.Write(f2Corrupt)

	payload := blte.Bytes()
	key := contenthash.Sum(payload)
	reversed := reverseKey(key)

	var record bytes.Buffer
	record.Write(reversed[:])
	_ = binary.Write(&record, binary.LittleEndian, uint32(RecordHeaderSize+len(payload)))
	record.Write(make([]byte, 10))
	record.Write(payload)

	s, err := Open(readerAtBytes(record.Bytes()), 0, NewHandlerSet(), nil)
	require.NoError(t, err, "outer raw-blob MD5 matches the corrupted payload")

	_, err = s.ReadAll()
	require.Error(t, err, "frame 2's own checksum must still catch the corruption")
}

func TestUnsupportedModeIsFatal(t *testing.T) {
	hs := NewHandlerSet()
	_, err := hs.Decode([]byte{'E', 1, 2, 3})
	require.Error(t, err)
	var unsupported *UnsupportedCompressionError
	require.ErrorAs(t, err, &unsupported)
}

func TestRegisterCustomHandler(t *testing.T) {
	hs := NewHandlerSet()
	hs.Register('E', func(encoded []byte) ([]byte, error) {
		return bytes.ToUpper(encoded[1:]), nil
	})
	decoded, err := hs.Decode([]byte{'E', 'h', 'i'})
	require.NoError(t, err)
	assert.Equal(t, []byte("HI"), decoded)
}
