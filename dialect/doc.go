// Package dialect defines the database dialect contract of vela.
//
// A Dialect renders everything that differs between databases: operation
// templates, literal values, bound parameter placeholders, identifier
// quoting and list parameters. The engine never hardcodes SQL grammar
// beyond clause keywords; expressions are rendered through templates
// looked up by operation kind.
//
// # Templates
//
// A Template is SQL text with argument slots:
//
//	{0} = {1}          fixed arity
//	COALESCE({*})      any number of arguments joined by the separator
//
// # Reference dialects
//
// Three dialects are registered at init and resolved by name with Get:
//
//	dialect.SQLite   = "sqlite"
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//
// Only Postgres binds lists as array parameters (through pq.Array); the
// others render lists as literal text.
//
// # Driver Interface
//
// The Driver, Tx and ExecQuerier interfaces describe a database connection
// and are implemented by dialect/sql:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
package dialect
