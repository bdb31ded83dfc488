// Package pad contains cacheline padding primitives used to keep hot
// per-shard counters on distinct cache lines.
package pad

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is a reasonable default for most modern CPUs.
// std has runtime/internal/sys.CacheLineSize but it's unexported.
// 64 works well in practice.
const CacheLineSize = 64

// CacheLinePad is a dummy field used to separate hot fields into distinct
// cache lines and reduce false sharing. Place between groups of hot fields.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// AtomicInt64 is an atomic int64 padded to exactly one cache line.
// Use when many goroutines update different counters concurrently.
type AtomicInt64 struct {
	atomic.Int64
	_ [CacheLineSize - 8]byte
}

// AtomicBool is an atomic bool padded to one cache line.
type AtomicBool struct {
	atomic.Bool
	_ [CacheLineSize - 4]byte
}

// Compile-time size checks (must be exactly one cache line).
var (
	_ [CacheLineSize - int(unsafe.Sizeof(AtomicInt64{}))]byte
	_ [CacheLineSize - int(unsafe.Sizeof(AtomicBool{}))]byte
)
