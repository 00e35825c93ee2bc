// Package session tracks entity records and writes their changes.
//
// A Session is a unit of work over a model and a Store. Records created
// with New, loaded with Get or returned by Execute are kept in an identity
// map, so one primary key maps to one *Record per session. A record moves
// through these statuses:
//
//	New ──save──▶ Loaded ◀──load── Stub
//	               │  ▲
//	             Set  save
//	               ▼  │
//	            Modified
//
//	Loaded/Modified ──Delete──▶ Deleting ──save──▶ Fantom
//
// SaveChanges submits all pending inserts, updates and deletes as one
// ChangeSet. Entity groups are ordered by topological index so referenced
// rows are inserted before the rows referencing them and deleted after
// them:
//
//	s := session.Open(m, store)
//	pub, _ := s.New("Publisher")
//	_ = pub.Set("Name", "Ace")
//	book, _ := s.New("Book")
//	_ = book.Set("Title", "Dune")
//	_ = book.SetRef("Publisher", pub)
//	if err := s.SaveChanges(ctx); err != nil {
//		return err
//	}
package session
