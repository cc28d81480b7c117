package blte

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// ModeHandler decodes one encoded frame (including its leading mode byte)
// into decoded bytes. Handlers are added by registration, not inheritance.
type ModeHandler func(encoded []byte) ([]byte, error)

// HandlerSet is an explicit mode-byte → ModeHandler registry. The zero
// value is not usable; construct one with NewHandlerSet.
type HandlerSet struct {
	mu       sync.RWMutex
	handlers map[byte]ModeHandler
	zlibPool sync.Pool
}

// NewHandlerSet returns a HandlerSet with two modes pre-registered:
// 'N' (raw passthrough) and 'Z' (zlib).
func NewHandlerSet() *HandlerSet {
	hs := &HandlerSet{handlers: make(map[byte]ModeHandler)}
	hs.zlibPool.New = func() any { return nil }
	hs.Register('N', decodeRaw)
	hs.Register('Z', hs.decodeZlib)
	return hs
}

// Register adds or replaces the handler for mode.
func (hs *HandlerSet) Register(mode byte, h ModeHandler) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.handlers[mode] = h
}

// Decode dispatches an encoded frame to its mode's handler. An unregistered
// mode is always fatal.
func (hs *HandlerSet) Decode(encoded []byte) ([]byte, error) {
	if len(encoded) == 0 {
		return nil, fmt.Errorf("blte: empty frame")
	}
	mode := encoded[0]

	hs.mu.RLock()
	h, ok := hs.handlers[mode]
	hs.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedCompressionError{Mode: mode}
	}
	return h(encoded)
}

func decodeRaw(encoded []byte) ([]byte, error) {
	return encoded[1:], nil
}

// decodeZlib decompresses a 'Z' frame using klauspost/compress/zlib, with
// a sync.Pool of resettable readers (generalized from a zstd decoder pool,
// since BLTE frames never use zstd).
func (hs *HandlerSet) decodeZlib(encoded []byte) ([]byte, error) {
	r := bytes.NewReader(encoded[1:])

	if v := hs.zlibPool.Get(); v != nil {
		zr := v.(zlibResetReadCloser)
		if err := zr.Reset(r, nil); err == nil {
			defer hs.zlibPool.Put(zr)
			return io.ReadAll(zr)
		}
		_ = zr.Close()
	}

	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("blte: zlib: %w", err)
	}
	defer func() {
		if resettable, ok := zr.(zlibResetReadCloser); ok {
			hs.zlibPool.Put(resettable)
		} else {
			_ = zr.Close()
		}
	}()
	return io.ReadAll(zr)
}

// zlibResetReadCloser matches both stdlib's and klauspost's zlib.Reader,
// which implement zlib.Resetter in addition to io.ReadCloser.
type zlibResetReadCloser interface {
	io.ReadCloser
	Reset(r io.Reader, dict []byte) error
}
