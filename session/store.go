package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/vela/dialect"
	dsql "github.com/syssam/vela/dialect/sql"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/query"
)

// Store is the storage collaborator of a session. Implementations execute
// change sets transactionally and run translated statements.
type Store interface {
	// Dialect returns the dialect statements are translated for.
	Dialect() dialect.Dialect
	// Submit writes a change set in one transaction: inserts and updates
	// in ascending group order, deletes in descending group order, then
	// the scheduled commands.
	Submit(ctx context.Context, cs *ChangeSet) error
	// Query runs a select and returns the raw row values.
	Query(ctx context.Context, st *dsql.Statement, args []any) ([][]any, error)
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, st *dsql.Statement, args []any) (int64, error)
}

// ChangeSet is the unit of work submitted by SaveChanges.
type ChangeSet struct {
	ID uuid.UUID
	// Groups are ordered by ascending topological index, ties by entity
	// name.
	Groups    []*EntityChanges
	Scheduled []Scheduled
}

// Len returns the number of changed records.
func (cs *ChangeSet) Len() int {
	n := 0
	for _, g := range cs.Groups {
		n += len(g.Inserts) + len(g.Updates) + len(g.Deletes)
	}
	return n
}

// EntityChanges holds the changed records of one entity.
type EntityChanges struct {
	Entity  *model.Entity
	Inserts []*Record
	Updates []*Record
	Deletes []*Record
}

// Scheduled is a translated command run at the end of the transaction.
type Scheduled struct {
	Translation *query.Translation
	Args        []any
}

// TransactionInfo describes the last successful save.
type TransactionInfo struct {
	ID       uuid.UUID
	Start    time.Time
	Duration time.Duration
	Records  int
}
