// Package query translates declarative commands into SQL statements.
//
// Commands are built fluently and describe selects, set-based updates and
// set-based deletes over model entities:
//
//	cmd := query.From("Book", "b").
//		Select(query.C("Title"), query.C("Publisher.Name")).
//		Where(query.Gt(query.C("Price"), query.V(price))).
//		OrderBy(query.Desc(query.C("PublishedOn"))).
//		Limit(10).
//		Command()
//
// Values captured with V become statement parameters; constants built with
// Lit and ListOf are rendered as literals. Navigating a reference in a
// column path, as in "Publisher.Name", adds a join.
//
// # Statement cache
//
// Before translation a command is preprocessed: locals are numbered and
// the command shape, its structure without local values, is computed. The
// Translator caches translations by model, dialect and shape, so two
// commands differing only in parameter values share one statement:
//
//	tr, err := query.Translate(m, d, cmd)
//	sql, args, err := tr.Statement.Bind(nil, cmd.Args())
package query
