// Package index loads and merges the 16 local-index shards ("*.idx" files)
// that map a 9-byte storage key to its (data-file, offset, size) triple.
package index

import (
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelgames/cask/internal/hashkey"
	"github.com/kestrelgames/cask/internal/shmem"
)

// Index is the merged, immutable view over all 16 bucket shards.
type Index struct {
	entries map[hashkey.StorageKey]Entry
}

// Load reads all 16 bucket shards under dataDir and merges them into one
// lookup table keyed by storage key. Shards are fetched concurrently,
// fanned out and joined through an errgroup over a fixed 16-item set.
// Each shard's outcome is logged individually: a successful load at Debug,
// a failed one at Warn before the error is returned to the caller.
//
// On a duplicate key — which the shards are not structurally guaranteed to
// avoid — the entry from the higher-generation shard wins.
func Load(dataDir string, desc *shmem.Descriptor, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	shift := desc.Shift()

	type shardResult struct {
		bucket     int
		generation uint32
		entries    []Entry
	}
	results := make([]shardResult, shmem.BucketCount)

	var g errgroup.Group
	for bucket := 0; bucket < shmem.BucketCount; bucket++ {
		bucket := bucket
		g.Go(func() error {
			path := shardPath(dataDir, bucket, desc.Versions[bucket])
			entries, err := parseShard(path, shift)
			if err != nil {
				logger.Warn("index shard load failed", "bucket", bucket, "path", path, "error", err)
				return err
			}
			logger.Debug("index shard loaded", "bucket", bucket, "path", path, "entries", len(entries))
			results[bucket] = shardResult{
				bucket:     bucket,
				generation: desc.Generations[bucket],
				entries:    entries,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[hashkey.StorageKey]Entry)
	generationOf := make(map[hashkey.StorageKey]uint32)
	for _, r := range results {
		for _, e := range r.entries {
			if existingGen, present := generationOf[e.Key]; present && existingGen >= r.generation {
				continue
			}
			merged[e.Key] = e
			generationOf[e.Key] = r.generation
		}
	}

	return &Index{entries: merged}, nil
}

// Lookup resolves a 16-byte storage hash to its physical location, by
// truncating it to a storage key first.
func (idx *Index) Lookup(h hashkey.Hash) (Entry, bool) {
	return idx.LookupKey(h.Key())
}

// LookupKey resolves a storage key directly, skipping the hash truncation.
func (idx *Index) LookupKey(k hashkey.StorageKey) (Entry, bool) {
	e, ok := idx.entries[k]
	return e, ok
}

// Len returns the number of merged entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// MustLookupKey resolves a storage key, returning a wrapped ErrNotFound
// instead of a bare boolean when callers need an error to propagate.
func (idx *Index) MustLookupKey(k hashkey.StorageKey) (Entry, error) {
	e, ok := idx.LookupKey(k)
	if !ok {
		return Entry{}, fmt.Errorf("index: key %s: %w", k, ErrNotFound)
	}
	return e, nil
}
