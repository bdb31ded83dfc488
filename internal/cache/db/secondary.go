package db

// ItemHelper carries the callbacks a secondary-cache-compatible entry needs:
// serialization on demotion and deletion of the in-memory object.
type ItemHelper struct {
	// SaveTo serializes the value for the secondary tier.
	SaveTo func(key []byte, value any) ([]byte, error)

	// Del frees the in-memory object. Used instead of the plain deleter for
	// secondary-compatible entries.
	Del DeleterFn
}

// CreateCallback rebuilds an in-memory object from secondary-tier bytes.
type CreateCallback func(data []byte) (value any, charge int64, err error)

// SecondaryCache is the overflow tier consulted on primary miss and
// populated on eviction. All calls happen outside the shard mutex; errors
// are tolerated (the secondary tier is best effort).
type SecondaryCache interface {
	Insert(key []byte, value any, helper *ItemHelper) error

	// Lookup returns nil on miss. With wait=false the returned handle may be
	// pending; the caller resolves it through WaitAll.
	Lookup(key []byte, create CreateCallback, wait bool) ResultHandle

	// WaitAll blocks until every handle is ready.
	WaitAll(handles []ResultHandle)
}

// ResultHandle is a maybe-pending secondary lookup result.
type ResultHandle interface {
	IsReady() bool
	Wait()
	Value() any
	Size() int64
}
