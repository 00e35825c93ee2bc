package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syssam/vela"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/query"
	"github.com/syssam/vela/schema"
)

// Kind selects what a session may do.
type Kind uint8

// Session kinds.
const (
	ReadWrite Kind = iota
	ReadOnly
	// ConcurrentReadOnly sessions may be shared by goroutines. Their
	// identity map is a sync.Map and loaded records are never refreshed.
	ConcurrentReadOnly
)

func (k Kind) String() string {
	switch k {
	case ReadWrite:
		return "read_write"
	case ReadOnly:
		return "read_only"
	case ConcurrentReadOnly:
		return "concurrent_read_only"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// LoadPolicy controls how Get consults storage.
type LoadPolicy uint8

// Load policies.
const (
	// LoadIfAbsent returns the tracked record and loads only when it is
	// missing or a stub.
	LoadIfAbsent LoadPolicy = iota
	// LoadStub never reads storage; an untracked key yields a stub.
	LoadStub
	// LoadForce always reads storage and refreshes the tracked record.
	LoadForce
)

// Hooks are callbacks around the save of records of one entity.
type Hooks struct {
	// OnSaving runs before validation and may change the record or create
	// other records.
	OnSaving func(ctx context.Context, r *Record) error
	// OnValidating reports an entity-level fault.
	OnValidating func(r *Record) error
	OnSaved      func(r *Record)
	OnAborted    func(r *Record, err error)
}

// Option configures a Session.
type Option func(*Session)

// WithKind sets the session kind. The default is ReadWrite.
func WithKind(k Kind) Option {
	return func(s *Session) { s.kind = k }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMaxTracked bounds the number of clean records kept in the identity
// map. Records with pending changes do not count and are never evicted.
func WithMaxTracked(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.lru = newLRU(n)
		}
	}
}

// WithHooks registers hooks for records of entity. An empty entity name
// registers them for all entities.
func WithHooks(entity string, h Hooks) Option {
	return func(s *Session) { s.hooks[entity] = append(s.hooks[entity], h) }
}

// WithCache sets the statement cache of the session translator.
func WithCache(c vela.StatementCache) Option {
	return func(s *Session) { s.cache = c }
}

// Session tracks the records of one unit of work. A ReadWrite or ReadOnly
// session must not be used by more than one goroutine at a time.
type Session struct {
	model      *model.Model
	store      Store
	kind       Kind
	logger     *zap.Logger
	cache      vela.StatementCache
	translator *query.Translator
	hooks      map[string][]Hooks

	ids identityMap
	// mu guards lru; it is the only state ConcurrentReadOnly sessions
	// mutate besides the identity map.
	mu  sync.Mutex
	lru *lru

	// changed holds records with pending changes in the order they were
	// first changed.
	changed   []*Record
	inChanged map[*Record]struct{}
	scheduled []*query.Command

	saving atomic.Bool
	closed atomic.Bool
	last   TransactionInfo
}

// Open returns a session over m persisting through store.
func Open(m *model.Model, store Store, opts ...Option) *Session {
	s := &Session{
		model:     m,
		store:     store,
		logger:    zap.NewNop(),
		cache:     query.DefaultCache,
		hooks:     make(map[string][]Hooks),
		inChanged: make(map[*Record]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.kind == ConcurrentReadOnly {
		s.ids = &syncMap{}
	} else {
		s.ids = plainMap{}
	}
	s.translator = query.NewTranslator(m, store.Dialect(), query.WithCache(s.cache), query.WithLogger(s.logger))
	return s
}

// Model returns the session model.
func (s *Session) Model() *model.Model { return s.model }

// Kind returns the session kind.
func (s *Session) Kind() Kind { return s.kind }

// LastTransaction describes the last successful SaveChanges.
func (s *Session) LastTransaction() TransactionInfo { return s.last }

// Tracked returns the number of records in the identity map.
func (s *Session) Tracked() int { return s.ids.len() }

func (s *Session) open() error {
	if s.closed.Load() {
		return vela.ErrSessionClosed
	}
	return nil
}

func (s *Session) writable() error {
	if err := s.open(); err != nil {
		return err
	}
	if s.kind != ReadWrite {
		return vela.ErrReadOnly
	}
	return nil
}

func (s *Session) entity(name string) (*model.Entity, error) {
	e := s.model.Entity(name)
	if e == nil {
		return nil, fmt.Errorf("session: unknown entity %q", name)
	}
	return e, nil
}

// New creates a tracked record of entity with default values. Keys with
// an auto new-id get a fresh UUID.
func (s *Session) New(entity string) (*Record, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}
	if e.Kind == model.KindView {
		return nil, fmt.Errorf("session: view %s cannot be created", e.Name)
	}
	r := newRecord(s, e, StatusNew)
	for _, m := range e.Columns() {
		switch {
		case m.Has(model.AutoValue) && m.AutoKind == schema.AutoNewID:
			r.values[m.ValueIndex] = uuid.New()
		case m.Default != nil:
			r.values[m.ValueIndex] = m.Default
		}
	}
	s.track(r)
	s.rekey(r)
	return r, nil
}

// Get returns the record of entity with primary key pk. A composite key
// is passed as model.KeyValue or []any.
func (s *Session) Get(ctx context.Context, entity string, pk any, policy LoadPolicy) (*Record, error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	e, err := s.entity(entity)
	if err != nil {
		return nil, err
	}
	kv, err := keyValue(e, pk)
	if err != nil {
		return nil, err
	}
	cur, ok := s.ids.load(identityKey(e, kv))
	switch policy {
	case LoadStub:
		if ok {
			return cur, nil
		}
		return s.stub(e, kv)
	case LoadIfAbsent:
		if ok && cur.status != StatusStub {
			return cur, nil
		}
	}
	b := query.From(e.Name)
	for i, km := range e.PrimaryKey.Columns {
		b.Where(query.Eq(query.C(km.Member.Name), query.V(kv[i])))
	}
	res, err := s.Execute(ctx, b.Command())
	if err != nil {
		return nil, err
	}
	recs := res.([]*Record)
	if len(recs) == 0 {
		return nil, vela.NewNotFoundError(e.Name, kv.String())
	}
	return recs[0], nil
}

// keyValue converts pk to the primary key column types of e.
func keyValue(e *model.Entity, pk any) (model.KeyValue, error) {
	if e.PrimaryKey == nil {
		return nil, fmt.Errorf("session: %s has no primary key", e.Name)
	}
	var vals []any
	switch v := pk.(type) {
	case model.KeyValue:
		vals = v
	case []any:
		vals = v
	default:
		vals = []any{pk}
	}
	cols := e.PrimaryKey.Columns
	if len(vals) != len(cols) {
		return nil, fmt.Errorf("session: %s key has %d columns, got %d values", e.Name, len(cols), len(vals))
	}
	kv := make(model.KeyValue, len(cols))
	for i, km := range cols {
		v, err := km.Member.DataType.Convert(vals[i])
		if err != nil {
			return nil, fmt.Errorf("session: %s key: %w", e.Name, err)
		}
		kv[i] = v
	}
	return kv, nil
}

// stub returns the tracked record of kv or a new stub holding only the
// key.
func (s *Session) stub(e *model.Entity, kv model.KeyValue) (*Record, error) {
	if e.PrimaryKey == nil {
		return nil, fmt.Errorf("session: %s has no primary key", e.Name)
	}
	r := newRecord(s, e, StatusStub)
	for i, km := range e.PrimaryKey.Columns {
		r.values[km.Member.ValueIndex] = kv[i]
		r.original[km.Member.ValueIndex] = kv[i]
	}
	r.key = identityKey(e, kv)
	cur, loaded := s.ids.loadOrStore(r.key, r)
	if !loaded {
		s.clean(cur)
	}
	return cur, nil
}

// Query starts a query over entity. Run it with Execute.
func (s *Session) Query(entity string) *query.Builder { return query.From(entity) }

// Execute translates and runs cmd. Selects without output return the
// matching records attached to the session, count and other scalar
// selects return the value, and other selects return the raw rows as
// [][]any. Set-based updates and deletes return the affected row count
// and drop the clean records of the entity from the identity map.
func (s *Session) Execute(ctx context.Context, cmd *query.Command) (any, error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	if cmd.Kind != query.KindSelect {
		if err := s.writable(); err != nil {
			return nil, err
		}
	}
	tr, err := s.translator.Translate(cmd)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("executing command",
		zap.Stringer("kind", cmd.Kind),
		zap.Strings("entities", cmd.Entities()))
	args := cmd.Args()
	if tr.Kind != query.KindSelect {
		n, err := s.store.Exec(ctx, tr.Statement, args)
		if err != nil {
			return nil, err
		}
		s.evict(tr.Entity)
		return n, nil
	}
	rows, err := s.store.Query(ctx, tr.Statement, args)
	if err != nil {
		return nil, err
	}
	switch {
	case tr.Scalar:
		if len(rows) == 0 || len(rows[0]) == 0 {
			return nil, nil
		}
		return rows[0][0], nil
	case tr.Columns == nil:
		return rows, nil
	}
	recs := make([]*Record, 0, len(rows))
	for _, row := range rows {
		r := newRecord(s, tr.Entity, StatusLoading)
		for i, m := range tr.Columns {
			v, err := m.DataType.Convert(row[i])
			if err != nil {
				return nil, fmt.Errorf("session: read %s: %w", m, err)
			}
			r.values[m.ValueIndex] = v
			r.original[m.ValueIndex] = v
		}
		recs = append(recs, s.Attach(r))
	}
	return recs, nil
}

// Attach returns the canonical record for the key of r. When the key is
// untracked r itself becomes canonical; otherwise the stored values of r
// are merged into the tracked record, keeping its pending changes.
func (s *Session) Attach(r *Record) *Record {
	kv := r.PrimaryKey()
	if kv.Empty() {
		r.session = s
		if r.status == StatusLoading {
			r.status = StatusLoaded
		}
		return r
	}
	key := identityKey(r.entity, kv)
	if r.status == StatusLoading {
		r.status = StatusLoaded
	}
	r.session, r.key = s, key
	cur, loaded := s.ids.loadOrStore(key, r)
	if !loaded {
		s.clean(r)
		return r
	}
	if cur == r {
		return r
	}
	if s.kind == ConcurrentReadOnly {
		if cur.status == StatusStub {
			s.ids.store(key, r)
			s.clean(r)
			return r
		}
		return cur
	}
	cur.load(r.original)
	s.clean(cur)
	return cur
}

// Detach removes r from the session. Pending changes of r are dropped.
func (s *Session) Detach(r *Record) {
	if r.session != s {
		return
	}
	s.untrack(r)
	if r.key != "" {
		if cur, ok := s.ids.load(r.key); ok && cur == r {
			s.ids.delete(r.key)
		}
	}
	s.mu.Lock()
	if s.lru != nil {
		s.lru.remove(r)
	}
	s.mu.Unlock()
	r.session = nil
}

// Delete marks r for deletion on the next save. A new record is discarded
// at once.
func (s *Session) Delete(r *Record) error {
	if err := s.writable(); err != nil {
		return err
	}
	if r.session != s {
		return ErrNotTracked
	}
	switch r.status {
	case StatusNew:
		r.status = StatusFantom
		s.Detach(r)
		return nil
	case StatusFantom, StatusDeleting:
		return nil
	case StatusLoading:
		return fmt.Errorf("session: %s is still loading", r.entity.Name)
	}
	r.status = StatusDeleting
	s.track(r)
	return nil
}

// CanDelete reports whether r can be deleted without violating a
// non-cascading reference. It runs one count query per such reference and
// returns the names of the referencing entities that still hold rows.
func (s *Session) CanDelete(ctx context.Context, r *Record) (bool, []string, error) {
	var blocking []string
	seen := make(map[string]bool)
	for _, m := range r.entity.IncomingRefs {
		if m.Ref.Cascade || seen[m.Entity.Name] || m.Entity.Kind == model.KindView {
			continue
		}
		b := query.From(m.Entity.Name)
		for _, fk := range m.ForeignKeyColumns() {
			b.Where(query.Eq(query.C(fk.Name), query.V(r.original[fk.RefTarget.ValueIndex])))
		}
		n, err := s.Execute(ctx, b.Count())
		if err != nil {
			return false, nil, err
		}
		if count, _ := schema.TypeInt64.Convert(n); count != nil && count.(int64) > 0 {
			seen[m.Entity.Name] = true
			blocking = append(blocking, m.Entity.Name)
		}
	}
	return len(blocking) == 0, blocking, nil
}

// Schedule queues a set-based update or delete to run at the end of the
// next save transaction.
func (s *Session) Schedule(cmd *query.Command) error {
	if err := s.writable(); err != nil {
		return err
	}
	if cmd.Kind == query.KindSelect {
		return fmt.Errorf("session: only updates and deletes can be scheduled")
	}
	s.scheduled = append(s.scheduled, cmd)
	return nil
}

// HasChanges reports whether a save would write anything.
func (s *Session) HasChanges() bool {
	return len(s.changed) > 0 || len(s.scheduled) > 0
}

// CancelChanges discards pending changes: new records are dropped and
// changed ones revert to their original values.
func (s *Session) CancelChanges() {
	for _, r := range s.changed {
		for _, l := range r.lists {
			l.added, l.removed = nil, nil
		}
		if r.status == StatusNew {
			r.status = StatusFantom
			s.Detach(r)
			continue
		}
		r.revert()
		s.clean(r)
	}
	s.changed = s.changed[:0]
	clear(s.inChanged)
	s.scheduled = nil
}

// Close detaches every record. Later calls fail with
// vela.ErrSessionClosed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	var all []*Record
	s.ids.each(func(r *Record) bool {
		all = append(all, r)
		return true
	})
	for _, r := range append(all, s.changed...) {
		s.Detach(r)
	}
	s.scheduled = nil
	return nil
}

// track records r as changed.
func (s *Session) track(r *Record) {
	if _, ok := s.inChanged[r]; ok {
		return
	}
	s.inChanged[r] = struct{}{}
	s.changed = append(s.changed, r)
	s.mu.Lock()
	if s.lru != nil {
		s.lru.remove(r)
	}
	s.mu.Unlock()
}

func (s *Session) untrack(r *Record) {
	if _, ok := s.inChanged[r]; !ok {
		return
	}
	delete(s.inChanged, r)
	if i := index(s.changed, r); i >= 0 {
		s.changed = append(s.changed[:i], s.changed[i+1:]...)
	}
}

// clean marks r as recently used and evicts the least recently used clean
// records beyond the bound.
func (s *Session) clean(r *Record) {
	if s.lru == nil || (r.status != StatusLoaded && r.status != StatusStub) {
		return
	}
	s.mu.Lock()
	evicted := s.lru.touch(r)
	s.mu.Unlock()
	for _, old := range evicted {
		if old.status == StatusLoaded || old.status == StatusStub {
			s.Detach(old)
		}
	}
}

// rekey stores r under its current primary key.
func (s *Session) rekey(r *Record) {
	key := ""
	if kv := r.PrimaryKey(); !kv.Empty() {
		key = identityKey(r.entity, kv)
	}
	if key == r.key {
		return
	}
	if r.key != "" {
		if cur, ok := s.ids.load(r.key); ok && cur == r {
			s.ids.delete(r.key)
		}
	}
	r.key = key
	if key == "" {
		return
	}
	if cur, ok := s.ids.load(key); ok && cur.status != StatusStub && cur.status != StatusFantom {
		return
	}
	s.ids.store(key, r)
}

// evict drops the clean records of e after a set-based write changed rows
// behind them.
func (s *Session) evict(e *model.Entity) {
	var stale []*Record
	s.ids.each(func(r *Record) bool {
		if r.entity == e && (r.status == StatusLoaded || r.status == StatusStub) {
			stale = append(stale, r)
		}
		return true
	})
	for _, r := range stale {
		s.Detach(r)
	}
}

func (s *Session) hooksFor(e *model.Entity) []Hooks {
	return slices.Concat(s.hooks[""], s.hooks[e.Name])
}
