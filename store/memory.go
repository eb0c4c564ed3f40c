package store

import (
	"sync"
	"sync/atomic"
)

// MemoryStore keeps records in memory as encoded JSON strings, so reads
// decode exactly as they would from disk. Data is lost when the store is
// dropped. Safe for concurrent use.
//
// The table is guarded by a RWMutex and each entry by its own mutex:
// writers to different existing ids only share the table read lock.
type MemoryStore struct {
	table   rwGuard
	entries map[string]*entry
	enc     encoder
}

type entry struct {
	guard guard
	data  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

func (m *MemoryStore) save(id string, v any) error {
	data, err := m.enc.encode(v)
	if err != nil {
		return invalidData("save", id, err)
	}

	if m.replace(id, string(data)) {
		return nil
	}
	m.table.with(func() {
		if e, ok := m.entries[id]; ok {
			e.guard.with(func() { e.data = string(data) })
			return
		}
		m.entries[id] = &entry{data: string(data)}
	})
	return nil
}

// replace overwrites an existing entry under the table read lock.
func (m *MemoryStore) replace(id, data string) bool {
	m.table.rlock()
	defer m.table.runlock()
	e, ok := m.entries[id]
	if !ok {
		return false
	}
	e.guard.with(func() { e.data = data })
	return true
}

func (m *MemoryStore) load(id string, decode func([]byte) error) error {
	m.table.rlock()
	defer m.table.runlock()
	e, ok := m.entries[id]
	if !ok {
		return notFound("get", id)
	}
	var err error
	e.guard.with(func() { err = decode([]byte(e.data)) })
	if err != nil {
		return other("get", id, err)
	}
	return nil
}

func (m *MemoryStore) scan(fn func(id string, data []byte) error) error {
	m.table.rlock()
	defer m.table.runlock()
	for id, e := range m.entries {
		var err error
		e.guard.with(func() { err = fn(id, []byte(e.data)) })
		if err != nil {
			logger.Debug("skipping record", "id", id, "err", err)
		}
	}
	return nil
}

func (m *MemoryStore) remove(id string) error {
	var err error
	m.table.with(func() {
		if _, ok := m.entries[id]; !ok {
			err = notFound("delete", id)
			return
		}
		delete(m.entries, id)
	})
	return err
}

// guard is a mutex that is marked poisoned when its holder panics. The next
// holder logs the recovery and keeps using the last written value.
type guard struct {
	mu       sync.Mutex
	poisoned bool
}

func (g *guard) with(fn func()) {
	g.mu.Lock()
	if g.poisoned {
		logger.Error("entry lock poisoned, recovering last written value")
		g.poisoned = false
	}
	defer func() {
		if r := recover(); r != nil {
			g.poisoned = true
			g.mu.Unlock()
			panic(r)
		}
		g.mu.Unlock()
	}()
	fn()
}

// rwGuard is the table lock. Only a panic under the write lock poisons it;
// readers never leave the table half-modified.
type rwGuard struct {
	mu       sync.RWMutex
	poisoned atomic.Bool
}

func (g *rwGuard) rlock() {
	g.mu.RLock()
	g.checkPoison()
}

func (g *rwGuard) runlock() {
	g.mu.RUnlock()
}

func (g *rwGuard) with(fn func()) {
	g.mu.Lock()
	g.checkPoison()
	defer func() {
		if r := recover(); r != nil {
			g.poisoned.Store(true)
			g.mu.Unlock()
			panic(r)
		}
		g.mu.Unlock()
	}()
	fn()
}

func (g *rwGuard) checkPoison() {
	if g.poisoned.CompareAndSwap(true, false) {
		logger.Error("table lock poisoned, recovering last written value")
	}
}
