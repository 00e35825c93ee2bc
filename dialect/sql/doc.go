// Package sql renders SQL fragment trees and executes them on database/sql.
//
// # Fragments
//
// A statement is built as an immutable tree of fragments and rendered by a
// dialect.Dialect into a Statement: SQL text plus the ordered bindings of
// its placeholders.
//
//	f := sql.Join(
//	    sql.Text("DELETE FROM "), sql.Ident("books"),
//	    sql.Text(" WHERE "), sql.Apply(dialect.OpEq, sql.Ident("id"), sql.Column(id, true)),
//	)
//	st, err := sql.Render(f, d)
//
// Three placeholder kinds exist:
//
//   - Arg: an external argument by index
//   - Column: a member value read from a record at bind time
//   - ListArg: an external list, bound as an array parameter on dialects
//     that support it and rendered as a literal list otherwise
//
// A Statement holds no values, so it can be cached and bound many times:
//
//	query, args, err := st.Bind(record, nil)
//
// # Drivers
//
// Driver wraps *sql.DB and implements dialect.Driver. StatsDriver collects
// query statistics and reports slow queries; DebugDriver logs every
// statement through zap.
package sql
