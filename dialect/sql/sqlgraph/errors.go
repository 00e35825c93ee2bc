// Package sqlgraph classifies database driver errors raised by the statements
// vela executes.
package sqlgraph

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/syssam/vela"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
	mysqlNotNull                = 1048
)

// SQLite extended result codes.
const (
	sqliteCheck      = 275
	sqliteForeignKey = 787
	sqliteNotNull    = 1299
	sqlitePrimaryKey = 1555
	sqliteUnique     = 2067
)

// Constraint kinds returned by Kind.
const (
	Unique     = "unique"
	ForeignKey = "foreign key"
	Check      = "check"
	NotNull    = "not null"
)

// Kind returns the violated constraint kind of err, or "" when err is not
// a constraint violation.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		switch string(pe.Code) {
		case pgUniqueViolation:
			return Unique
		case pgForeignKeyViolation:
			return ForeignKey
		case pgCheckViolation:
			return Check
		case pgNotNullViolation:
			return NotNull
		}
		return ""
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDuplicateEntry:
			return Unique
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return ForeignKey
		case mysqlCheckConstraintViolate:
			return Check
		case mysqlNotNull:
			return NotNull
		}
		return ""
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqliteUnique, sqlitePrimaryKey:
			return Unique
		case sqliteForeignKey:
			return ForeignKey
		case sqliteCheck:
			return Check
		case sqliteNotNull:
			return NotNull
		}
	}
	// Fallback for wrapped or proxied drivers that lose the error type.
	msg := err.Error()
	switch {
	case containsAny(msg, "Error 1062", "violates unique constraint", "UNIQUE constraint failed"):
		return Unique
	case containsAny(msg, "Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"):
		return ForeignKey
	case containsAny(msg, "Error 3819", "violates check constraint", "CHECK constraint failed"):
		return Check
	case containsAny(msg, "violates not-null constraint", "NOT NULL constraint failed"):
		return NotNull
	}
	return ""
}

// IsConstraintError returns true if the error resulted from a database
// constraint violation.
func IsConstraintError(err error) bool {
	return vela.IsConstraintError(err) || Kind(err) != ""
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool { return Kind(err) == Unique }

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool { return Kind(err) == ForeignKey }

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool { return Kind(err) == Check }

// Classify wraps constraint violations in a vela.ConstraintError and
// returns other errors unchanged.
func Classify(err error) error {
	if k := Kind(err); k != "" && !vela.IsConstraintError(err) {
		return vela.NewConstraintError(k+" constraint violated", err)
	}
	return err
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
