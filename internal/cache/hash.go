package cache

import (
	"sync"

	"github.com/zeebo/xxh3"
)

var hasherPool = sync.Pool{New: func() any { return xxh3.New() }}

// HashKey maps a key to the 32-bit routing hash. The low bits select the
// shard, the high bits index inside it, so the full word has to be well
// mixed; xxh3 gives that for free.
func HashKey(key []byte) uint32 {
	if len(key) <= 16 {
		return uint32(xxh3.Hash(key))
	}

	// acquire reusable hasher for large keys
	hasher := hasherPool.Get().(*xxh3.Hasher)
	hasher.Reset()
	_, _ = hasher.Write(key)
	h := hasher.Sum64()
	hasherPool.Put(hasher)

	return uint32(h)
}
