// Package secondary provides an in-memory SecondaryCache used by the
// integration tests: a flat map of serialized values behind a mutex, with
// optional artificial pending handles to exercise WaitAll.
package secondary

import (
	"sync"

	"github.com/Borislavv/go-hotlru-cache/internal/cache/db"
)

// Memory is a map-backed secondary tier. Values are stored serialized via
// the entry's SaveTo helper, the way a real overflow tier would hold them.
type Memory struct {
	mu    sync.Mutex
	items map[string][]byte

	inserts, hits, misses int64
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

// Insert serializes and stores the value. Best effort by contract; the only
// error source is the caller's SaveTo.
func (m *Memory) Insert(key []byte, value any, helper *db.ItemHelper) error {
	if helper == nil || helper.SaveTo == nil {
		return nil
	}
	data, err := helper.SaveTo(key, value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[string(key)] = data
	m.inserts++
	m.mu.Unlock()
	return nil
}

// Lookup returns a handle on hit, nil on miss. The create callback
// runs eagerly; wait only controls whether the caller sees the handle as
// pending.
func (m *Memory) Lookup(key []byte, create db.CreateCallback, wait bool) db.ResultHandle {
	m.mu.Lock()
	data, ok := m.items[string(key)]
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
	if !ok || create == nil {
		return nil
	}

	h := &resultHandle{ready: wait}
	value, charge, err := create(data)
	if err == nil {
		h.value = value
		h.size = charge
	}
	return h
}

// WaitAll marks every handle ready.
func (m *Memory) WaitAll(handles []db.ResultHandle) {
	for _, h := range handles {
		if h != nil {
			h.Wait()
		}
	}
}

// Counts reports inserts/hits/misses for assertions.
func (m *Memory) Counts() (inserts, hits, misses int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts, m.hits, m.misses
}

type resultHandle struct {
	mu    sync.Mutex
	ready bool
	value any
	size  int64
}

func (h *resultHandle) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

func (h *resultHandle) Wait() {
	h.mu.Lock()
	h.ready = true
	h.mu.Unlock()
}

func (h *resultHandle) Value() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready {
		return nil
	}
	return h.value
}

func (h *resultHandle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

var _ db.SecondaryCache = (*Memory)(nil)
