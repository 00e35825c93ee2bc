package session

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syssam/vela"
	"github.com/syssam/vela/crud"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/schema"
)

// SaveChanges writes all pending changes in one storage transaction.
//
// Records first go through OnSaving until no record changes any more:
// auto values are assigned, hooks run and list changes become link
// records. All changed records are then validated; any fault aborts the
// save with a *vela.ValidationError before storage is called. On a storage
// failure the records are restored to their state before the save and
// discard-on-abort records are dropped.
func (s *Session) SaveChanges(ctx context.Context) error {
	if err := s.writable(); err != nil {
		return err
	}
	if !s.saving.CompareAndSwap(false, true) {
		return vela.ErrSaveInProgress
	}
	defer s.saving.Store(false)
	if !s.HasChanges() {
		return nil
	}
	start := time.Now()
	if err := s.onSaving(ctx); err != nil {
		s.abort(err)
		return err
	}
	if err := s.validate(); err != nil {
		s.abort(err)
		return err
	}
	cs, err := s.changeSet()
	if err != nil {
		s.abort(err)
		return err
	}
	if len(cs.Groups) == 0 && len(cs.Scheduled) == 0 {
		s.saved()
		return nil
	}
	if err := s.store.Submit(ctx, cs); err != nil {
		s.abort(err)
		return err
	}
	n := cs.Len()
	s.saved()
	s.last = TransactionInfo{ID: cs.ID, Start: start, Duration: time.Since(start), Records: n}
	s.logger.Debug("changes saved",
		zap.Stringer("transaction", cs.ID),
		zap.Int("records", n),
		zap.Int("scheduled", len(cs.Scheduled)),
		zap.Duration("duration", s.last.Duration))
	return nil
}

// onSaving runs the saving stage until a fixed point: hooks and list
// links may create, change or delete further records.
func (s *Session) onSaving(ctx context.Context) error {
	done := make(map[*Record]bool)
	for {
		progress := false
		for _, r := range append([]*Record(nil), s.changed...) {
			if done[r] {
				continue
			}
			done[r], progress = true, true
			r.backup = append([]any(nil), r.values...)
			r.backupStat = r.status
			if r.status == StatusNew || r.status == StatusModified {
				s.autoValues(r)
			}
			if r.status != StatusFantom {
				for _, h := range s.hooksFor(r.entity) {
					if h.OnSaving == nil {
						continue
					}
					if err := h.OnSaving(ctx, r); err != nil {
						return fmt.Errorf("session: saving %s: %w", r.entity.Name, err)
					}
				}
			}
			for _, l := range r.lists {
				if err := l.links(ctx); err != nil {
					return err
				}
			}
		}
		if !progress {
			return nil
		}
	}
}

// autoValues assigns created-on, updated-on and row version values.
// Modified records without an updatable change keep their values.
func (s *Session) autoValues(r *Record) {
	isNew := r.status == StatusNew
	if !isNew && len(crud.UpdateColumns(r.entity, r.ChangedColumns())) == 0 {
		return
	}
	now := time.Now().UTC()
	for _, m := range r.entity.Columns() {
		if !m.Has(model.AutoValue) {
			continue
		}
		switch m.AutoKind {
		case schema.AutoCreatedOn:
			if isNew {
				r.SetRaw(m, now)
			}
		case schema.AutoUpdatedOn:
			r.SetRaw(m, now)
		case schema.AutoRowVersion:
			next := int64(1)
			if !isNew {
				cur, _ := schema.TypeInt64.Convert(r.original[m.ValueIndex])
				if v, ok := cur.(int64); ok {
					next = v + 1
				}
			}
			v, _ := m.DataType.Convert(next)
			r.SetRaw(m, v)
		}
	}
}

// validate checks required values, sizes and entity validators of every
// new or modified record and collects all faults.
func (s *Session) validate() error {
	var faults []vela.Fault
	for _, r := range s.changed {
		if r.status != StatusNew && r.status != StatusModified {
			continue
		}
		r.faults = s.recordFaults(r)
		faults = append(faults, r.faults...)
	}
	if len(faults) > 0 {
		return &vela.ValidationError{Faults: faults}
	}
	return nil
}

func (s *Session) recordFaults(r *Record) []vela.Fault {
	var faults []vela.Fault
	fault := func(member string, code vela.FaultCode, msg string) {
		faults = append(faults, vela.Fault{
			Entity:  r.entity.Name,
			Key:     r.PrimaryKey().String(),
			Member:  member,
			Code:    code,
			Message: msg,
		})
	}
	for _, m := range r.entity.Members {
		switch m.Kind {
		case model.MemberColumn:
			if m.RefOwner != nil || m.Has(model.NoDbInsert) {
				continue
			}
			v := r.values[m.ValueIndex]
			if v == nil {
				if !m.Has(model.Nullable) && !m.Has(model.AutoValue) {
					fault(m.Name, vela.FaultValueMissing, "value is required")
				}
				continue
			}
			str, ok := v.(string)
			if !ok || m.Size <= 0 || m.DataType.Kind != schema.KindString || utf8.RuneCountInString(str) <= m.Size {
				continue
			}
			if m.Has(model.AutoValue) {
				r.SetRaw(m, string([]rune(str)[:m.Size]))
				continue
			}
			fault(m.Name, vela.FaultValueTooLong, fmt.Sprintf("value exceeds %d characters", m.Size))
		case model.MemberEntityRef:
			if m.Has(model.Nullable) {
				continue
			}
			if target, ok := r.refs[m]; ok {
				if target == nil || target.status == StatusFantom || target.status == StatusDeleting {
					fault(m.Name, vela.FaultValueMissing, "reference is required")
				}
				continue
			}
			for _, fk := range m.ForeignKeyColumns() {
				if r.values[fk.ValueIndex] == nil {
					fault(m.Name, vela.FaultValueMissing, "reference is required")
					break
				}
			}
		}
	}
	for _, fn := range r.entity.Validators {
		if err := fn(r); err != nil {
			fault("", vela.FaultCustom, err.Error())
		}
	}
	for _, h := range s.hooksFor(r.entity) {
		if h.OnValidating == nil {
			continue
		}
		if err := h.OnValidating(r); err != nil {
			fault("", vela.FaultCustom, err.Error())
		}
	}
	return faults
}

// changeSet groups the changed records by entity in topological order and
// translates the scheduled commands.
func (s *Session) changeSet() (*ChangeSet, error) {
	cs := &ChangeSet{ID: uuid.New()}
	groups := make(map[*model.Entity]*EntityChanges)
	group := func(e *model.Entity) *EntityChanges {
		g, ok := groups[e]
		if !ok {
			g = &EntityChanges{Entity: e}
			groups[e] = g
			cs.Groups = append(cs.Groups, g)
		}
		return g
	}
	for _, r := range s.changed {
		switch r.status {
		case StatusNew:
			g := group(r.entity)
			g.Inserts = append(g.Inserts, r)
		case StatusModified:
			if len(crud.UpdateColumns(r.entity, r.ChangedColumns())) == 0 {
				continue
			}
			if r.entity.Kind == model.KindView {
				return nil, fmt.Errorf("session: view %s cannot be updated", r.entity.Name)
			}
			g := group(r.entity)
			g.Updates = append(g.Updates, r)
		case StatusDeleting:
			g := group(r.entity)
			g.Deletes = append(g.Deletes, r)
		}
	}
	sort.SliceStable(cs.Groups, func(i, j int) bool {
		a, b := cs.Groups[i].Entity, cs.Groups[j].Entity
		if a.TopologicalIndex != b.TopologicalIndex {
			return a.TopologicalIndex < b.TopologicalIndex
		}
		return a.Name < b.Name
	})
	for _, cmd := range s.scheduled {
		tr, err := s.translator.Translate(cmd)
		if err != nil {
			return nil, err
		}
		cs.Scheduled = append(cs.Scheduled, Scheduled{Translation: tr, Args: cmd.Args()})
	}
	return cs, nil
}

// saved accepts the written values and detaches deleted records together
// with the tracked records their delete cascaded to.
func (s *Session) saved() {
	changed := s.changed
	s.changed = nil
	clear(s.inChanged)
	s.scheduled = nil
	for _, r := range changed {
		if r.status == StatusDeleting {
			s.cascade(r)
			r.status = StatusFantom
			r.backup = nil
			s.Detach(r)
		} else if r.status == StatusNew || r.status == StatusModified {
			r.accept()
			s.rekey(r)
			s.clean(r)
		} else {
			r.backup = nil
		}
		for _, h := range s.hooksFor(r.entity) {
			if h.OnSaved != nil {
				h.OnSaved(r)
			}
		}
	}
	s.ids.each(func(r *Record) bool {
		for _, l := range r.lists {
			l.reset()
		}
		return true
	})
}

// cascade detaches tracked records whose cascading reference points at
// the deleted record d.
func (s *Session) cascade(d *Record) {
	if !d.entity.Has(model.CascadeRelevant) {
		return
	}
	var children []*Record
	for _, m := range d.entity.IncomingRefs {
		if !m.Ref.Cascade {
			continue
		}
		s.ids.each(func(r *Record) bool {
			if r.entity != m.Entity || r.status == StatusFantom || r.status == StatusNew {
				return true
			}
			for _, fk := range m.ForeignKeyColumns() {
				if !equal(r.original[fk.ValueIndex], d.original[fk.RefTarget.ValueIndex]) {
					return true
				}
			}
			children = append(children, r)
			return true
		})
	}
	for _, c := range children {
		s.cascade(c)
		c.status = StatusFantom
		s.Detach(c)
	}
}

// abort restores the records to their state before the save.
func (s *Session) abort(err error) {
	var discarded []*Record
	for _, r := range s.changed {
		if r.backup != nil {
			copy(r.values, r.backup)
			r.status = r.backupStat
			r.backup = nil
		}
		if r.status == StatusNew && r.entity.Has(model.DiscardOnAbort) {
			discarded = append(discarded, r)
		}
		for _, h := range s.hooksFor(r.entity) {
			if h.OnAborted != nil {
				h.OnAborted(r, err)
			}
		}
	}
	for _, r := range discarded {
		r.status = StatusFantom
		s.Detach(r)
	}
	s.logger.Warn("save aborted",
		zap.Error(err),
		zap.Int("records", len(s.changed)),
		zap.Int("discarded", len(discarded)))
}
