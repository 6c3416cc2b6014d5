package tuning

import (
	"runtime/debug"
)

const (
	fallbackTotalMemory = 1024 * 1024 * 1024
	minMemoryLimit      = 64 * 1024 * 1024
)

// Config is the runtime GC setting applied at startup.
type Config struct {
	GCPercent   int
	MemoryLimit int64
}

// DefaultClientConfig caps the heap at a quarter of system memory. Response
// bodies are buffered whole, so a soft limit keeps bursts of large responses
// from growing the heap unchecked.
func DefaultClientConfig() Config {
	return clientConfig(systemTotalMemory())
}

func clientConfig(total uint64) Config {
	if total == 0 {
		total = fallbackTotalMemory
	}
	limit := int64(total / 4)
	if limit < minMemoryLimit {
		limit = minMemoryLimit
	}
	return Config{
		GCPercent:   100,
		MemoryLimit: limit,
	}
}

// Apply sets the GC percent and soft memory limit. Zero values are ignored.
func Apply(cfg Config) {
	if cfg.GCPercent > 0 {
		debug.SetGCPercent(cfg.GCPercent)
	}
	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
}
