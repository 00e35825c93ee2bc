package session

import (
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/syssam/vela/model"
)

// identityMap maps entity and primary key to the canonical record.
type identityMap interface {
	load(key string) (*Record, bool)
	// loadOrStore returns the existing record for key, or stores r.
	loadOrStore(key string, r *Record) (*Record, bool)
	store(key string, r *Record)
	delete(key string)
	each(fn func(*Record) bool)
	len() int
}

func identityKey(e *model.Entity, kv model.KeyValue) string {
	return e.Name + "/" + kv.String()
}

type plainMap map[string]*Record

func (m plainMap) load(key string) (*Record, bool) {
	r, ok := m[key]
	return r, ok
}

func (m plainMap) loadOrStore(key string, r *Record) (*Record, bool) {
	if cur, ok := m[key]; ok {
		return cur, true
	}
	m[key] = r
	return r, false
}

func (m plainMap) store(key string, r *Record) { m[key] = r }
func (m plainMap) delete(key string)           { delete(m, key) }
func (m plainMap) len() int                    { return len(m) }

func (m plainMap) each(fn func(*Record) bool) {
	for _, r := range m {
		if !fn(r) {
			return
		}
	}
}

// syncMap serves concurrent read-only sessions.
type syncMap struct {
	m sync.Map
	n atomic.Int64
}

func (m *syncMap) load(key string) (*Record, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Record), true
}

func (m *syncMap) loadOrStore(key string, r *Record) (*Record, bool) {
	v, loaded := m.m.LoadOrStore(key, r)
	if !loaded {
		m.n.Add(1)
	}
	return v.(*Record), loaded
}

func (m *syncMap) store(key string, r *Record) {
	if _, loaded := m.m.Swap(key, r); !loaded {
		m.n.Add(1)
	}
}

func (m *syncMap) delete(key string) {
	if _, loaded := m.m.LoadAndDelete(key); loaded {
		m.n.Add(-1)
	}
}

func (m *syncMap) each(fn func(*Record) bool) {
	m.m.Range(func(_, v any) bool { return fn(v.(*Record)) })
}

func (m *syncMap) len() int { return int(m.n.Load()) }

// lru bounds the number of clean records kept in the identity map. Only
// loaded and stub records are members; records with pending changes are
// never evicted. Callers hold Session.mu.
type lru struct {
	c       *simplelru.LRU[*Record, struct{}]
	evicted []*Record
}

func newLRU(max int) *lru {
	l := &lru{}
	// NewLRU fails only for a non-positive size.
	l.c, _ = simplelru.NewLRU(max, func(r *Record, _ struct{}) {
		l.evicted = append(l.evicted, r)
	})
	return l
}

// touch marks r as most recently used and returns the records to evict.
func (l *lru) touch(r *Record) []*Record {
	l.c.Add(r, struct{}{})
	out := l.evicted
	l.evicted = nil
	return out
}

func (l *lru) remove(r *Record) {
	l.c.Remove(r)
	l.evicted = nil
}
