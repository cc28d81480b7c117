package cask

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kestrelgames/cask/internal/blte"
	"github.com/kestrelgames/cask/internal/config"
	"github.com/kestrelgames/cask/internal/encoding"
	"github.com/kestrelgames/cask/internal/hashkey"
	"github.com/kestrelgames/cask/internal/index"
	"github.com/kestrelgames/cask/internal/shmem"
)

// Container is the read path over one installed build: build-info,
// build configuration, shmem, the merged local index, and (lazily) the
// encoding table.
//
// After Open returns, every read-only method is safe to call from
// multiple goroutines concurrently.
type Container struct {
	dataDirName string
	logger      *slog.Logger
	handlers    *blte.HandlerSet

	dataDir     string
	buildInfo   *config.BuildInfo
	buildConfig *config.Configuration
	shmem       *shmem.Descriptor
	index       *index.Index

	encGroup singleflight.Group
	encMu    sync.RWMutex
	enc      *encoding.Table

	filesMu sync.Mutex
	files   map[uint8]*os.File
}

// Open constructs a Container for the build installed under installRoot.
// It reads .build.info, selects the active row, locates and parses that
// row's build configuration, loads shmem, and loads all 16 local-index
// shards. The encoding table is not parsed until first needed; see
// Encoding.
func Open(installRoot string, opts ...Option) (*Container, error) {
	c := &Container{
		dataDirName: DefaultDataDirName,
		handlers:    blte.NewHandlerSet(),
		files:       make(map[uint8]*os.File),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("cask: option: %w", err)
		}
	}
	c.dataDir = filepath.Join(installRoot, c.dataDirName)

	buildInfoFile, err := os.Open(filepath.Join(installRoot, ".build.info"))
	if err != nil {
		return nil, fmt.Errorf("cask: open build-info: %w", err)
	}
	defer buildInfoFile.Close()

	c.buildInfo, err = config.ParseBuildInfo(buildInfoFile)
	if err != nil {
		return nil, fmt.Errorf("cask: parse build-info: %w", err)
	}

	row, err := c.buildInfo.ActiveRow()
	if err != nil {
		return nil, fmt.Errorf("cask: select active build: %w", err)
	}
	buildKeyHex, err := row.BuildKey()
	if err != nil {
		return nil, fmt.Errorf("cask: active row: %w", err)
	}
	buildKey, err := hashkey.ParseHash(buildKeyHex)
	if err != nil {
		return nil, fmt.Errorf("cask: build key: %w", err)
	}

	buildConfigFile, err := os.Open(configPath(c.dataDir, buildKey))
	if err != nil {
		return nil, fmt.Errorf("cask: open build config: %w", err)
	}
	defer buildConfigFile.Close()

	c.buildConfig, err = config.Parse(buildConfigFile)
	if err != nil {
		return nil, fmt.Errorf("cask: parse build config: %w", err)
	}

	shmemFile, err := os.Open(filepath.Join(c.dataDir, "shmem"))
	if err != nil {
		return nil, fmt.Errorf("cask: open shmem: %w", err)
	}
	defer shmemFile.Close()

	c.shmem, err = shmem.Parse(shmemFile)
	if err != nil {
		return nil, fmt.Errorf("cask: parse shmem: %w", err)
	}

	c.index, err = index.Load(c.dataDir, c.shmem, c.log())
	if err != nil {
		return nil, fmt.Errorf("cask: load index: %w", err)
	}
	c.log().Debug("container opened", "install_root", installRoot, "entries", c.index.Len())

	return c, nil
}

// log returns the container's logger, falling back to a discard logger
// when none was set via WithLogger.
func (c *Container) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// BuildConfig returns the parsed active build configuration.
func (c *Container) BuildConfig() *config.Configuration {
	return c.buildConfig
}

// Encoding returns the parsed encoding table, parsing it on first call.
// Concurrent first calls block on a single parse via singleflight rather
// than racing.
func (c *Container) Encoding() (*encoding.Table, error) {
	c.encMu.RLock()
	if c.enc != nil {
		t := c.enc
		c.encMu.RUnlock()
		return t, nil
	}
	c.encMu.RUnlock()

	v, err, _ := c.encGroup.Do("encoding", func() (any, error) {
		c.encMu.RLock()
		if c.enc != nil {
			t := c.enc
			c.encMu.RUnlock()
			return t, nil
		}
		c.encMu.RUnlock()

		hashes, err := c.buildConfig.Hashes("encoding")
		if err != nil {
			return nil, fmt.Errorf("cask: encoding: %w", err)
		}
		if len(hashes) < 2 {
			return nil, fmt.Errorf("cask: encoding: build config has %d hashes, want content hash and encoding key", len(hashes))
		}
		// hashes[0] is the encoding table's own content hash; hashes[1] is
		// the storage key that locates it. The table can't be used to find
		// its own location, so this looks it up directly through the index.
		stream, err := c.OpenFileByKey(hashes[1].Key())
		if err != nil {
			return nil, fmt.Errorf("cask: encoding: open table: %w", err)
		}
		data, err := stream.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("cask: encoding: read table: %w", err)
		}
		table, err := encoding.Parse(data, c.log())
		if err != nil {
			c.log().Warn("encoding table parse failed", "error", err)
			return nil, err
		}

		c.encMu.Lock()
		c.enc = table
		c.encMu.Unlock()
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*encoding.Table), nil
}

// OpenFileByHash resolves a content hash through the encoding table to a
// storage key, then opens that key's framed blob. When a content hash
// maps to more than one storage key, the first is used.
func (c *Container) OpenFileByHash(h hashkey.Hash) (*blte.Stream, error) {
	enc, err := c.Encoding()
	if err != nil {
		return nil, err
	}
	keys, err := enc.Find(h)
	if err != nil {
		return nil, err
	}
	return c.OpenFileByKey(keys[0].Key())
}

// OpenFileByKey resolves a storage key directly through the local index,
// skipping the encoding table.
func (c *Container) OpenFileByKey(k hashkey.StorageKey) (*blte.Stream, error) {
	entry, err := c.index.MustLookupKey(k)
	if err != nil {
		return nil, err
	}
	f, err := c.dataFile(entry.FileOrdinal)
	if err != nil {
		return nil, err
	}
	return blte.Open(f, int64(entry.Offset), c.handlers, c.log())
}

// dataFile returns the pooled *os.File for a data-file ordinal, opening
// it on first use. Handles are shared across callers: Stream reads go
// through io.ReaderAt (pread-style, offset passed explicitly on every
// call), so a shared *os.File needs no external locking to stay safe
// under concurrent reads — each read is atomic per call, with no shared
// cursor to race on.
func (c *Container) dataFile(ordinal uint8) (*os.File, error) {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()

	if f, ok := c.files[ordinal]; ok {
		return f, nil
	}
	f, err := os.Open(dataFilePath(c.dataDir, ordinal))
	if err != nil {
		return nil, fmt.Errorf("cask: open data file %d: %w", ordinal, err)
	}
	c.files[ordinal] = f
	return f, nil
}

// Close releases every pooled data-file handle.
func (c *Container) Close() error {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()

	var firstErr error
	for ordinal, f := range c.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cask: close data file %d: %w", ordinal, err)
		}
		delete(c.files, ordinal)
	}
	return firstErr
}

// Insert would rebuild the encoding table to add a new content-hash to
// storage-key mapping. The write path is left unspecified upstream, so
// this is a stub for API completeness rather than an inferred implementation.
func (c *Container) Insert(hash hashkey.Hash, key hashkey.StorageKey, fileSize uint32) error {
	return ErrNotImplemented
}

// Write would append a framed blob to the current data file and record
// an index entry for it. See Insert.
func (c *Container) Write(stream *blte.Stream, layout any) error {
	return ErrNotImplemented
}

// configPath returns the path of the text config file for a hash, under
// dataDir/config/<h0h1>/<h2h3>/<full-hash>.
func configPath(dataDir string, h hashkey.Hash) string {
	hex := h.String()
	return filepath.Join(dataDir, "config", hex[0:2], hex[2:4], hex)
}

// dataFilePath returns the path of a numbered data file.
func dataFilePath(dataDir string, ordinal uint8) string {
	return filepath.Join(dataDir, fmt.Sprintf("data.%03d", ordinal))
}
