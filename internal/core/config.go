package core

import (
	"strings"
	"time"
)

// WorkerConfig locates a worker script. The URL used to start the worker is
// ResourceRoot joined with WorkerFileName unless a handle enforces another.
type WorkerConfig struct {
	ResourceRoot   string
	WorkerFileName string
}

// URL returns the default worker URL.
func (c WorkerConfig) URL() string {
	if c.ResourceRoot == "" {
		return c.WorkerFileName
	}
	return strings.TrimRight(c.ResourceRoot, "/") + "/" + c.WorkerFileName
}

// Config holds host-level runtime configuration.
type Config struct {
	ResourceRoot      string        // prefix for worker URLs
	StreamTimeout     time.Duration // time slice of the streaming handler
	CompressThreshold int           // websocket frames above this many bytes are brotli-compressed; 0 disables
	MaxMessageBytes   int64         // largest accepted message after decompression
	SourceMapDSN      string        // sqlite DSN of the source-map store
	MemoryLimitMB     int           // per-VM memory limit for JS workers
	ExecutionTimeout  time.Duration // per-call limit for JS worker methods
}

// Defaults used when a Config field is left zero.
const (
	DefaultResourceRoot      = "assets/build"
	DefaultStreamTimeout     = 100 * time.Millisecond
	DefaultCompressThreshold = 64 * 1024
	DefaultMaxMessageBytes   = 64 * 1024 * 1024
	DefaultSourceMapDSN      = ":memory:"
	DefaultExecutionTimeout  = 30 * time.Second
)

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.ResourceRoot == "" {
		c.ResourceRoot = DefaultResourceRoot
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = DefaultStreamTimeout
	}
	if c.CompressThreshold == 0 {
		c.CompressThreshold = DefaultCompressThreshold
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.SourceMapDSN == "" {
		c.SourceMapDSN = DefaultSourceMapDSN
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = DefaultExecutionTimeout
	}
	return c
}

// Worker returns the WorkerConfig for a worker file under c.ResourceRoot.
func (c Config) Worker(fileName string) WorkerConfig {
	return WorkerConfig{ResourceRoot: c.ResourceRoot, WorkerFileName: fileName}
}
