// Package config parses the container's two text table formats: the
// key/value-list Configuration format and the pipe-delimited BuildInfo
// table.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kestrelgames/cask/internal/hashkey"
)

// ErrKeyNotFound is returned by Configuration.Values for a missing key.
var ErrKeyNotFound = errors.New("config: key not found")

// Configuration is a mapping from keys to ordered value lists, parsed from
// "key = v1 v2 ... vn" lines. Blank lines and lines starting with '#' are
// ignored. Whitespace around '=' and between values is insignificant.
type Configuration struct {
	values map[string][]string
	order  []string
}

// Parse reads a Configuration from r.
func Parse(r io.Reader) (*Configuration, error) {
	c := &Configuration{values: make(map[string][]string)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, rest, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("config: line %d: missing '=': %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("config: line %d: empty key", lineNo)
		}
		values := strings.Fields(rest)
		if _, exists := c.values[key]; !exists {
			c.order = append(c.order, key)
		}
		c.values[key] = values
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scan: %w", err)
	}
	return c, nil
}

// Values returns the ordered value list for key.
func (c *Configuration) Values(key string) ([]string, error) {
	v, ok := c.values[key]
	if !ok {
		return nil, fmt.Errorf("config: %q: %w", key, ErrKeyNotFound)
	}
	return v, nil
}

// Value returns the first value for key, a convenience for single-valued keys.
func (c *Configuration) Value(key string) (string, error) {
	v, err := c.Values(key)
	if err != nil {
		return "", err
	}
	if len(v) == 0 {
		return "", fmt.Errorf("config: %q has no values", key)
	}
	return v[0], nil
}

// Hashes parses every value under key as a hex-encoded Hash. Used for the
// root/encoding/install/download/size keys, whose value lists are hashes.
func (c *Configuration) Hashes(key string) ([]hashkey.Hash, error) {
	values, err := c.Values(key)
	if err != nil {
		return nil, err
	}
	hashes := make([]hashkey.Hash, len(values))
	for i, v := range values {
		h, err := hashkey.ParseHash(v)
		if err != nil {
			return nil, fmt.Errorf("config: %q[%d]: %w", key, i, err)
		}
		hashes[i] = h
	}
	return hashes, nil
}

// Keys returns all configuration keys in the order they first appeared.
func (c *Configuration) Keys() []string {
	return append([]string(nil), c.order...)
}
