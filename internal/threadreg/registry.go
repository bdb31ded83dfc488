// Package threadreg maps worker goroutines to small dense integer ids.
//
// The hot-index reference tally is a [stamps x workers] matrix; every worker
// that touches the fast path needs a stable column index in [0, Workers).
// Workers call Register once at startup; unregistered goroutines share
// column 0, which under-counts per worker but keeps the tally sums correct.
package threadreg

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Registry hands out dense worker ids. Append-only after startup: ids are
// never reused, and registration past the configured limit wraps the new
// worker onto column 0.
type Registry struct {
	mu      sync.Mutex
	limit   int
	next    int
	ids     sync.Map // goroutine id (uint64) -> worker id (int)
	dropped atomic.Int64
}

// New creates a registry for at most limit workers. limit must be >= 1.
func New(limit int) *Registry {
	if limit < 1 {
		limit = 1
	}
	return &Registry{limit: limit}
}

// Limit returns the configured worker limit.
func (r *Registry) Limit() int { return r.limit }

// Register assigns the calling goroutine a dense worker id and returns it.
// Calling twice from the same goroutine returns the already assigned id.
// Once the limit is reached, further registrations return 0.
func (r *Registry) Register() int {
	gid := goid()
	if id, ok := r.ids.Load(gid); ok {
		return id.(int)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids.Load(gid); ok {
		return id.(int)
	}
	if r.next >= r.limit {
		r.dropped.Add(1)
		r.ids.Store(gid, 0)
		return 0
	}
	id := r.next
	r.next++
	r.ids.Store(gid, id)
	return id
}

// Current returns the calling goroutine's worker id, or 0 when it never
// registered.
func (r *Registry) Current() int {
	if id, ok := r.ids.Load(goid()); ok {
		return id.(int)
	}
	return 0
}

// Registered returns how many distinct ids have been handed out.
func (r *Registry) Registered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// goid extracts the numeric goroutine id from the first stack header line
// ("goroutine 123 [running]: ..."). There is no portable runtime API for
// this; the parse costs one small runtime.Stack call.
func goid() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	const prefix = len("goroutine ")
	var id uint64
	for i := prefix; i < n; i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
