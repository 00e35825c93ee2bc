package session

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/syssam/vela"
	"github.com/syssam/vela/model"
)

// Status is the tracking state of a record.
type Status uint8

// Record statuses.
const (
	// StatusNew is a record created in the session and not yet saved.
	StatusNew Status = iota + 1
	// StatusStub is a record known only by its key.
	StatusStub
	// StatusLoading is a record read from storage and not yet attached.
	StatusLoading
	StatusLoaded
	StatusModified
	// StatusDeleting is a record whose delete is pending.
	StatusDeleting
	// StatusFantom is a deleted or discarded record. It is terminal.
	StatusFantom
)

var statusNames = [...]string{
	StatusNew:      "new",
	StatusStub:     "stub",
	StatusLoading:  "loading",
	StatusLoaded:   "loaded",
	StatusModified: "modified",
	StatusDeleting: "deleting",
	StatusFantom:   "fantom",
}

func (s Status) String() string {
	if int(s) < len(statusNames) && statusNames[s] != "" {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", s)
}

// Errors returned by record operations.
var (
	ErrUnknownMember = errors.New("session: unknown member")
	ErrNotTracked    = errors.New("session: record is not tracked")
	ErrKeyChange     = errors.New("session: primary key of a saved record cannot change")
)

// Record is the tracked state of one entity instance.
type Record struct {
	entity   *model.Entity
	session  *Session
	status   Status
	original []any
	values   []any
	// key is the identity map key, set once the primary key is known.
	key string
	// mu guards refs and lists against concurrent readers of a shared
	// record in a ConcurrentReadOnly session.
	mu     sync.Mutex
	refs   map[*model.Member]*Record
	lists  map[*model.Member]*EntityList
	faults []vela.Fault

	// backup holds values and status while a save is in flight.
	backup     []any
	backupStat Status
}

func newRecord(s *Session, e *model.Entity, status Status) *Record {
	return &Record{
		entity:   e,
		session:  s,
		status:   status,
		original: make([]any, len(e.Members)),
		values:   make([]any, len(e.Members)),
	}
}

// Entity returns the entity of the record.
func (r *Record) Entity() *model.Entity { return r.entity }

// Status returns the tracking status.
func (r *Record) Status() Status { return r.status }

// Session returns the owning session, or nil for a detached record.
func (r *Record) Session() *Session { return r.session }

// Faults returns the validation faults of the last failed save.
func (r *Record) Faults() []vela.Fault { return r.faults }

// PrimaryKey returns the current primary key values.
func (r *Record) PrimaryKey() model.KeyValue {
	if r.entity.PrimaryKey == nil {
		return nil
	}
	return r.entity.PrimaryKey.ValueOf(r)
}

// Raw returns the stored value of m, bypassing interceptors.
func (r *Record) Raw(m *model.Member) any { return r.values[m.ValueIndex] }

// SetRaw stores v for m, bypassing interceptors and change tracking.
func (r *Record) SetRaw(m *model.Member, v any) { r.values[m.ValueIndex] = v }

// ColumnValue returns the current or original value of a column.
func (r *Record) ColumnValue(m *model.Member, original bool) any {
	if original {
		return r.original[m.ValueIndex]
	}
	return r.values[m.ValueIndex]
}

// Value returns the value of the named member through its accessor, or nil
// for an unknown member.
func (r *Record) Value(name string) any {
	m := r.entity.Member(name)
	if m == nil || m.Kind != model.MemberColumn && m.Kind != model.MemberTransient {
		return nil
	}
	return m.Accessor.Get(r)
}

// Get returns the value of a member. References return the target
// *Record and lists return the *EntityList.
func (r *Record) Get(name string) (any, error) {
	m := r.entity.Member(name)
	if m == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMember, r.entity.Name, name)
	}
	switch m.Kind {
	case model.MemberEntityRef:
		return r.GetRef(name)
	case model.MemberEntityList:
		return r.List(name)
	}
	return m.Accessor.Get(r), nil
}

// Set assigns a member value. A *Record value assigns a reference.
func (r *Record) Set(name string, v any) error {
	m := r.entity.Member(name)
	if m == nil {
		return fmt.Errorf("%w: %s.%s", ErrUnknownMember, r.entity.Name, name)
	}
	if err := r.writable(); err != nil {
		return err
	}
	switch m.Kind {
	case model.MemberEntityRef:
		target, ok := v.(*Record)
		if !ok && v != nil {
			return fmt.Errorf("session: %s expects a *Record, got %T", m, v)
		}
		return r.SetRef(name, target)
	case model.MemberEntityList:
		return fmt.Errorf("session: list %s cannot be assigned", m)
	}
	if m.Has(model.PrimaryKey) && r.status != StatusNew {
		return fmt.Errorf("%w: %s", ErrKeyChange, m)
	}
	if v != nil && m.Kind == model.MemberColumn {
		cv, err := m.DataType.Convert(v)
		if err != nil {
			return fmt.Errorf("session: %s: %w", m, err)
		}
		v = cv
	}
	if err := m.Accessor.Set(r, v); err != nil {
		return err
	}
	if m.RefOwner != nil {
		delete(r.refs, m.RefOwner)
	}
	r.touch()
	if m.Has(model.PrimaryKey) {
		r.session.rekey(r)
	}
	return nil
}

// GetRef returns the target of a reference. An untracked target is
// returned as a stub; load it with Session.Get.
func (r *Record) GetRef(name string) (*Record, error) {
	m, err := r.member(name, model.MemberEntityRef)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.refs[m]; ok {
		return t, nil
	}
	kv := make(model.KeyValue, len(m.ForeignKeyColumns()))
	for i, fk := range m.ForeignKeyColumns() {
		kv[i] = r.values[fk.ValueIndex]
	}
	if kv.Empty() || r.session == nil {
		return nil, nil
	}
	t, err := r.session.stub(m.Ref.Target, kv)
	if err != nil {
		return nil, err
	}
	r.cacheRef(m, t)
	return t, nil
}

// SetRef assigns a reference target and copies its key into the foreign
// key columns. A nil target clears the reference.
func (r *Record) SetRef(name string, target *Record) error {
	m, err := r.member(name, model.MemberEntityRef)
	if err != nil {
		return err
	}
	if err := r.writable(); err != nil {
		return err
	}
	if target != nil && target.entity != m.Ref.Target {
		return fmt.Errorf("session: %s expects %s, got %s", m, m.Ref.Target.Name, target.entity.Name)
	}
	if m.Has(model.PrimaryKey) && r.status != StatusNew {
		return fmt.Errorf("%w: %s", ErrKeyChange, m)
	}
	r.cacheRef(m, target)
	r.syncRef(m)
	r.touch()
	if m.Has(model.PrimaryKey) {
		r.session.rekey(r)
	}
	return nil
}

func (r *Record) cacheRef(m *model.Member, target *Record) {
	if r.refs == nil {
		r.refs = make(map[*model.Member]*Record)
	}
	r.refs[m] = target
}

// SyncRefs copies the keys of assigned reference targets into the
// foreign key columns. Targets with database identities get their key on
// insert, so storage calls it before writing the record.
func (r *Record) SyncRefs() {
	for m := range r.refs {
		r.syncRef(m)
	}
}

func (r *Record) syncRef(m *model.Member) {
	target := r.refs[m]
	for _, fk := range m.ForeignKeyColumns() {
		if target == nil {
			r.values[fk.ValueIndex] = nil
			continue
		}
		r.values[fk.ValueIndex] = target.values[fk.RefTarget.ValueIndex]
	}
}

// List returns an entity list member.
func (r *Record) List(name string) (*EntityList, error) {
	m, err := r.member(name, model.MemberEntityList)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.lists[m]; ok {
		return l, nil
	}
	if r.lists == nil {
		r.lists = make(map[*model.Member]*EntityList)
	}
	l := &EntityList{owner: r, member: m, loaded: r.status == StatusNew}
	r.lists[m] = l
	return l, nil
}

// IsChanged reports whether a column or reference differs from its
// original value.
func (r *Record) IsChanged(name string) bool {
	m := r.entity.Member(name)
	if m == nil {
		return false
	}
	if m.Kind == model.MemberEntityRef {
		for _, fk := range m.ForeignKeyColumns() {
			if !equal(r.values[fk.ValueIndex], r.original[fk.ValueIndex]) {
				return true
			}
		}
		_, assigned := r.refs[m]
		return assigned && r.status == StatusNew
	}
	return m.Kind == model.MemberColumn && !equal(r.values[m.ValueIndex], r.original[m.ValueIndex])
}

// ChangedColumns returns the columns whose value differs from the
// original.
func (r *Record) ChangedColumns() []*model.Member {
	var out []*model.Member
	for _, m := range r.entity.Members {
		if m.Kind == model.MemberColumn && !equal(r.values[m.ValueIndex], r.original[m.ValueIndex]) {
			out = append(out, m)
		}
	}
	return out
}

func (r *Record) member(name string, kind model.MemberKind) (*model.Member, error) {
	m := r.entity.Member(name)
	if m == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMember, r.entity.Name, name)
	}
	if m.Kind != kind {
		return nil, fmt.Errorf("session: %s is a %s member, not %s", m, m.Kind, kind)
	}
	return m, nil
}

func (r *Record) writable() error {
	if r.session == nil {
		return ErrNotTracked
	}
	if err := r.session.writable(); err != nil {
		return err
	}
	switch r.status {
	case StatusDeleting, StatusFantom:
		return fmt.Errorf("session: %s record %s cannot be changed", r.status, r.entity.Name)
	case StatusStub:
		return fmt.Errorf("session: stub %s must be loaded before it is changed", r.entity.Name)
	}
	return nil
}

// touch moves a loaded record to modified.
func (r *Record) touch() {
	if r.status == StatusLoaded {
		r.status = StatusModified
	}
	if r.status == StatusModified || r.status == StatusNew {
		r.session.track(r)
	}
}

// load refreshes the record with stored values. Values with pending
// changes are kept; all others take the stored value.
func (r *Record) load(values []any) {
	if r.status == StatusModified || r.status == StatusDeleting {
		for i, v := range values {
			if equal(r.values[i], r.original[i]) {
				r.values[i] = v
			}
		}
		copy(r.original, values)
		return
	}
	copy(r.original, values)
	copy(r.values, values)
	r.status = StatusLoaded
	r.refs = nil
}

// accept makes the current values the original ones after a save.
func (r *Record) accept() {
	copy(r.original, r.values)
	r.status = StatusLoaded
	r.faults = nil
	r.backup = nil
}

// revert discards pending changes.
func (r *Record) revert() {
	copy(r.values, r.original)
	r.refs = nil
	if r.status == StatusModified || r.status == StatusDeleting {
		r.status = StatusLoaded
	}
}

func (r *Record) String() string {
	return fmt.Sprintf("%s(%s)[%s]", r.entity.Name, r.PrimaryKey(), r.status)
}

// equal compares column values. Times compare by instant and byte slices
// by content.
func equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	if b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
