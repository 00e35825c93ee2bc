// Package graph orders entities for multi-table writes.
//
// A Graph holds one vertex per entity and one edge per reference, pointing
// from the referencing entity to the referenced one. Order computes the
// strongly connected components with Tarjan's algorithm and assigns every
// vertex a topological index: referenced entities get lower indexes than
// the entities referencing them, and all vertices of a component share one
// index. Inserts run in ascending index order and deletes in descending
// order.
//
//	g := graph.New()
//	book, author := g.Add("Book", nil), g.Add("Author", nil)
//	book.Link(author)
//	if err := g.Order(); err != nil {
//	    return err
//	}
//	// author.Index < book.Index
package graph
