package blte

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/kestrelgames/cask/internal/contenthash"
	"github.com/kestrelgames/cask/internal/hashkey"
)

// frameInfo locates one frame's encoded bytes within Stream.payload and,
// once known, its decoded length.
type frameInfo struct {
	offset      int64
	encodedSize int64
	decodedSize int64
	checksum    hashkey.Hash
	hasChecksum bool
}

// Stream exposes a BLTE blob's decoded frames as a single seekable byte
// stream. Frames of a frame table are decoded lazily on first touch and
// the most recently decoded frame is cached: forward-skew access never
// re-decodes, and random seeks cost at most one decode per frame visited.
// An implicit single frame (header_size == 0) is decoded by Open itself.
//
// A Stream is not shared between callers: each Open call returns an
// independent Stream with its own decode cache.
type Stream struct {
	payload  []byte
	frames   []frameInfo
	cumulative []int64 // cumulative[i] = total decoded bytes before frame i
	handlers *HandlerSet
	key      hashkey.Hash
	logger   *slog.Logger

	mu         sync.Mutex
	pos        int64
	cachedIdx  int
	cachedData []byte
}

// Open reads the archive record at recordOffset from src, verifies the raw
// framed blob's MD5 against the record's storage key, parses the BLTE
// frame table, and returns a Stream over the decoded bytes. Checksum
// failures (the raw blob here, individual frames on first decode) are
// logged at Warn through logger before the error is returned; a nil
// logger discards them.
func Open(src io.ReaderAt, recordOffset int64, handlers *HandlerSet, logger *slog.Logger) (*Stream, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	header, err := ParseRecordHeader(io.NewSectionReader(src, recordOffset, RecordHeaderSize))
	if err != nil {
		return nil, err
	}

	payloadSize := int64(header.RecordSize) - RecordHeaderSize
	if payloadSize < 8 {
		return nil, fmt.Errorf("blte: record at %d: %w", recordOffset, ErrTruncated)
	}
	payload := make([]byte, payloadSize)
	if _, err := src.ReadAt(payload, recordOffset+RecordHeaderSize); err != nil {
		return nil, fmt.Errorf("blte: record at %d: read payload: %w", recordOffset, err)
	}

	if err := contenthash.Verify(payload, header.Key, "raw framed blob"); err != nil {
		logger.Warn("blte raw blob checksum mismatch", "record_offset", recordOffset, "error", err)
		return nil, err
	}

	parsed, err := parseHeader(payload)
	if err != nil {
		return nil, err
	}

	s := &Stream{payload: payload, handlers: handlers, key: header.Key, logger: logger, cachedIdx: -1}

	if parsed.implicit {
		frameSize := payloadSize - 8
		decoded, err := handlers.Decode(payload[8:])
		if err != nil {
			return nil, err
		}
		s.frames = []frameInfo{{offset: 8, encodedSize: frameSize, decodedSize: int64(len(decoded))}}
		s.cachedIdx, s.cachedData = 0, decoded
	} else {
		cursor := 8 + parsed.headerSize
		s.frames = make([]frameInfo, len(parsed.frames))
		for i, fd := range parsed.frames {
			s.frames[i] = frameInfo{
				offset:      cursor,
				encodedSize: int64(fd.EncodedSize),
				decodedSize: int64(fd.DecodedSize),
				checksum:    fd.Checksum,
				hasChecksum: true,
			}
			cursor += int64(fd.EncodedSize)
		}
	}

	s.cumulative = make([]int64, len(s.frames)+1)
	for i, f := range s.frames {
		s.cumulative[i+1] = s.cumulative[i] + f.decodedSize
	}

	return s, nil
}

// Len returns the total decoded length of the stream.
func (s *Stream) Len() int64 {
	return s.cumulative[len(s.cumulative)-1]
}

// Key returns the storage key that located this blob, taken from the
// archive record header (already un-reversed).
func (s *Stream) Key() hashkey.Hash {
	return s.key
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.cumulative[len(s.cumulative)-1]
	if s.pos >= total {
		return 0, io.EOF
	}

	idx := s.frameIndexForOffset(s.pos)
	decoded, err := s.decodeFrameLocked(idx)
	if err != nil {
		return 0, err
	}

	within := s.pos - s.cumulative[idx]
	n := copy(p, decoded[within:])
	s.pos += int64(n)
	return n, nil
}

// Seek implements io.Seeker.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.cumulative[len(s.cumulative)-1]
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		target = total + offset
	default:
		return 0, fmt.Errorf("blte: seek: invalid whence %d", whence)
	}
	if target < 0 || target > total {
		return 0, fmt.Errorf("blte: seek: offset %d out of range [0,%d]", target, total)
	}
	s.pos = target
	return s.pos, nil
}

// Close releases the stream's buffers. Streams are not pooled or shared,
// so Close is just a hint to the garbage collector.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = nil
	s.cachedData = nil
	return nil
}

func (s *Stream) frameIndexForOffset(pos int64) int {
	return sort.Search(len(s.frames), func(i int) bool {
		return s.cumulative[i+1] > pos
	})
}

// decodeFrameLocked returns frame idx's decoded bytes, using and updating
// the single-entry cache. s.mu must be held.
func (s *Stream) decodeFrameLocked(idx int) ([]byte, error) {
	if s.cachedIdx == idx {
		return s.cachedData, nil
	}

	f := s.frames[idx]
	encoded := s.payload[f.offset : f.offset+f.encodedSize]

	if f.hasChecksum {
		if err := contenthash.Verify(encoded, f.checksum, fmt.Sprintf("blte frame %d", idx)); err != nil {
			s.logger.Warn("blte frame checksum mismatch", "frame", idx, "error", err)
			return nil, err
		}
	}

	decoded, err := s.handlers.Decode(encoded)
	if err != nil {
		return nil, err
	}
	if int64(len(decoded)) != f.decodedSize {
		return nil, fmt.Errorf("blte: frame %d: decoded %d bytes, frame table says %d", idx, len(decoded), f.decodedSize)
	}

	s.cachedIdx, s.cachedData = idx, decoded
	return decoded, nil
}

// ReadAll seeks to the start, then decodes and returns the stream's entire
// contents, advancing pos to the end. It copies into a buffer pre-sized to
// Len, so the whole blob is read without the buffer regrowing.
func (s *Stream) ReadAll() ([]byte, error) {
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	buf.Grow(int(s.Len()))
	if _, err := io.Copy(buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
