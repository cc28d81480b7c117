// Package cask opens a content-addressed game-asset container: a local
// index over numbered data files, a chunked encoding table mapping
// content hashes to storage keys, and a BLTE framed-blob reader, composed
// behind a single Container façade.
//
// A Container is opened from an install root directory and stays
// read-only for its lifetime; see Open for the on-disk layout it
// expects and Container for the concurrency guarantees it provides.
package cask
