package cask

import (
	"errors"

	"github.com/kestrelgames/cask/internal/blte"
	"github.com/kestrelgames/cask/internal/contenthash"
	"github.com/kestrelgames/cask/internal/encoding"
	"github.com/kestrelgames/cask/internal/formaterr"
	"github.com/kestrelgames/cask/internal/index"
)

// ErrNotImplemented is returned by the write-path stubs.
var ErrNotImplemented = errors.New("cask: not implemented")

// ErrKeyNotFound and ErrHashNotFound are the two "not-found" cases,
// surfaced at the layer that actually resolved (or failed to resolve)
// the lookup: the local index for a storage key, the encoding table for
// a content hash. Both are recoverable; callers may fall back.
var (
	ErrKeyNotFound  = index.ErrNotFound
	ErrHashNotFound = encoding.ErrNotFound
)

// InvalidHashError, InvalidSignatureError, UnsupportedCompressionError, and
// FormatError are re-exported here so callers never need to import this
// module's internal packages directly to use errors.As against them.
// FormatError is the format-error(context) kind: a malformed length field
// or truncated body detected while parsing an index shard, an encoding
// table, or the shmem descriptor.
type (
	InvalidHashError            = contenthash.InvalidHashError
	InvalidSignatureError       = blte.InvalidSignatureError
	UnsupportedCompressionError = blte.UnsupportedCompressionError
	FormatError                 = formaterr.Error
)
