package model

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/syssam/vela/schema"
)

// ErrComputedMember is returned when setting a computed member.
var ErrComputedMember = errors.New("model: computed member cannot be set")

// Values is the raw value store of a record.
type Values interface {
	schema.Values
	Raw(m *Member) any
	SetRaw(m *Member, v any)
}

// Accessor reads and writes a member value through a record.
type Accessor interface {
	Get(r Values) any
	Set(r Values, v any) error
}

// Interceptor wraps an accessor. Interceptors of a member are composed once
// at build time in ascending (Priority, Name) order; the first one wraps the
// base accessor.
type Interceptor struct {
	Name     string
	Priority int
	Wrap     func(m *Member, inner Accessor) Accessor
}

// Interceptor priorities of the built-in processors.
const (
	PriorityComputed = 0
	PriorityUtc      = 10
	PriorityDateOnly = 20
	PriorityHash     = 30
	PrioritySecret   = 40
)

// AccessorFuncs adapts a pair of functions to Accessor.
type AccessorFuncs struct {
	GetFunc func(r Values) any
	SetFunc func(r Values, v any) error
}

func (a AccessorFuncs) Get(r Values) any          { return a.GetFunc(r) }
func (a AccessorFuncs) Set(r Values, v any) error { return a.SetFunc(r, v) }

type baseAccessor struct{ m *Member }

func (a baseAccessor) Get(r Values) any { return r.Raw(a.m) }

func (a baseAccessor) Set(r Values, v any) error {
	r.SetRaw(a.m, v)
	return nil
}

func composeAccessor(m *Member) {
	sort.SliceStable(m.interceptors, func(i, j int) bool {
		a, b := m.interceptors[i], m.interceptors[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Name < b.Name
	})
	var acc Accessor = baseAccessor{m: m}
	for _, ic := range m.interceptors {
		acc = ic.Wrap(m, acc)
	}
	m.Accessor = acc
}

func utcInterceptor() Interceptor {
	return Interceptor{
		Name:     schema.AttrUtc,
		Priority: PriorityUtc,
		Wrap: func(_ *Member, inner Accessor) Accessor {
			return AccessorFuncs{
				GetFunc: func(r Values) any {
					if t, ok := inner.Get(r).(time.Time); ok {
						return t.UTC()
					}
					return inner.Get(r)
				},
				SetFunc: func(r Values, v any) error {
					if t, ok := v.(time.Time); ok {
						v = t.UTC()
					}
					return inner.Set(r, v)
				},
			}
		},
	}
}

func dateOnlyInterceptor() Interceptor {
	return Interceptor{
		Name:     schema.AttrDateOnly,
		Priority: PriorityDateOnly,
		Wrap: func(_ *Member, inner Accessor) Accessor {
			return AccessorFuncs{
				GetFunc: inner.Get,
				SetFunc: func(r Values, v any) error {
					if t, ok := v.(time.Time); ok {
						y, mo, d := t.Date()
						v = time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
					}
					return inner.Set(r, v)
				},
			}
		},
	}
}

// hashInterceptor keeps target in sync with the source member it wraps.
func hashInterceptor(target *Member) Interceptor {
	return Interceptor{
		Name:     schema.AttrHashFor + ":" + target.Name,
		Priority: PriorityHash,
		Wrap: func(_ *Member, inner Accessor) Accessor {
			return AccessorFuncs{
				GetFunc: inner.Get,
				SetFunc: func(r Values, v any) error {
					if err := inner.Set(r, v); err != nil {
						return err
					}
					if v == nil {
						r.SetRaw(target, nil)
						return nil
					}
					r.SetRaw(target, Hash(fmt.Sprint(v)))
					return nil
				},
			}
		},
	}
}

// Hash returns the stable 32-bit hash stored in hash-for members.
func Hash(s string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int32(h.Sum32())
}

func secretInterceptor() Interceptor {
	return Interceptor{
		Name:     schema.AttrSecret,
		Priority: PrioritySecret,
		Wrap: func(m *Member, inner Accessor) Accessor {
			return AccessorFuncs{
				GetFunc: func(Values) any { return m.DataType.Zero() },
				SetFunc: inner.Set,
			}
		},
	}
}

func computedInterceptor(fn schema.ComputeFunc) Interceptor {
	return Interceptor{
		Name:     schema.AttrComputed,
		Priority: PriorityComputed,
		Wrap: func(m *Member, _ Accessor) Accessor {
			return AccessorFuncs{
				GetFunc: func(r Values) any { return fn(r) },
				SetFunc: func(Values, any) error {
					return fmt.Errorf("%w: %s", ErrComputedMember, m)
				},
			}
		},
	}
}
