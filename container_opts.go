package cask

import (
	"log/slog"

	"github.com/kestrelgames/cask/internal/blte"
)

// Option configures a Container.
type Option func(*Container) error

// DefaultDataDirName is the data-directory name used when Open is not
// given [WithDataDir].
const DefaultDataDirName = "data"

// WithDataDir overrides the data-directory name (default
// [DefaultDataDirName]), resolved relative to the install root passed to
// Open.
func WithDataDir(name string) Option {
	return func(c *Container) error {
		c.dataDirName = name
		return nil
	}
}

// WithLogger sets a logger for the container. If nil, or if this option
// is never applied, a discard logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) error {
		c.logger = logger
		return nil
	}
}

// WithCompressionHandler registers an additional (or replacement) BLTE
// frame-mode handler. 'N' and 'Z' are already registered by default.
func WithCompressionHandler(mode byte, handler blte.ModeHandler) Option {
	return func(c *Container) error {
		c.handlers.Register(mode, handler)
		return nil
	}
}
