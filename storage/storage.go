// Package storage executes session change sets and translated commands on
// a SQL database.
//
// A SQLStore writes a change set in one transaction. Entity groups arrive
// in ascending topological order: inserts and updates run in that order
// and deletes in reverse, so rows are written after the rows they
// reference and deleted before them. Scheduled commands run last.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/syssam/vela"
	"github.com/syssam/vela/crud"
	"github.com/syssam/vela/dialect"
	dsql "github.com/syssam/vela/dialect/sql"
	"github.com/syssam/vela/dialect/sql/sqlgraph"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/query"
	"github.com/syssam/vela/session"
)

// DefaultBatchSize bounds the rows of one insert-many or delete-many
// statement.
const DefaultBatchSize = 200

// SQLStore implements session.Store over a dialect.Driver.
type SQLStore struct {
	driver    dialect.Driver
	dialect   dialect.Dialect
	crud      *crud.Builder
	cache     vela.StatementCache
	logger    *zap.Logger
	batchSize int
	slow      time.Duration
	debug     bool
}

var _ session.Store = (*SQLStore)(nil)

// Option configures a SQLStore.
type Option func(*SQLStore)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLStore) { s.logger = l }
}

// WithCache sets the cache of CRUD statements.
func WithCache(c vela.StatementCache) Option {
	return func(s *SQLStore) { s.cache = c }
}

// WithBatchSize sets the maximum rows of batched inserts and deletes. A
// size below 2 disables batching.
func WithBatchSize(n int) Option {
	return func(s *SQLStore) { s.batchSize = n }
}

// WithSlowQueryThreshold logs statements slower than d at warn level. It
// applies to stores created with Open.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(s *SQLStore) { s.slow = d }
}

// WithDebug logs every statement at debug level. It applies to stores
// created with Open.
func WithDebug() Option {
	return func(s *SQLStore) { s.debug = true }
}

// New returns a store over drv.
func New(drv dialect.Driver, opts ...Option) (*SQLStore, error) {
	d, err := dialect.Get(drv.Dialect())
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	s := &SQLStore{
		driver:    drv,
		dialect:   d,
		cache:     query.DefaultCache,
		logger:    zap.NewNop(),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.crud = crud.New(d, crud.WithCache(s.cache))
	return s, nil
}

// Open opens a database with the named database/sql driver and returns a
// store over it.
func Open(driverName, dsn string, opts ...Option) (*SQLStore, error) {
	drv, err := dsql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driverName, err)
	}
	s, err := New(drv, opts...)
	if err != nil {
		return nil, errors.Join(err, drv.Close())
	}
	switch {
	case s.debug:
		s.driver = dsql.NewDebugDriver(drv, s.logger)
	case s.slow > 0:
		s.driver = dsql.NewStatsDriver(drv, dsql.WithSlowThreshold(s.slow), dsql.WithSlowQueryLog(s.logger))
	}
	return s, nil
}

// Dialect returns the store dialect.
func (s *SQLStore) Dialect() dialect.Dialect { return s.dialect }

// Driver returns the underlying driver.
func (s *SQLStore) Driver() dialect.Driver { return s.driver }

// Stats returns the statement counters of a store opened with a slow query
// threshold. It reports false for other stores.
func (s *SQLStore) Stats() (dsql.StatsSnapshot, bool) {
	sd, ok := s.driver.(*dsql.StatsDriver)
	if !ok {
		return dsql.StatsSnapshot{}, false
	}
	return sd.QueryStats().Stats(), true
}

// Close closes the driver.
func (s *SQLStore) Close() error {
	if snap, ok := s.Stats(); ok {
		s.logger.Debug("store closed", zap.Stringer("stats", snap))
	}
	return s.driver.Close()
}

// Query runs st and returns all row values.
func (s *SQLStore) Query(ctx context.Context, st *dsql.Statement, args []any) ([][]any, error) {
	rows, q, argv, err := dsql.QueryStatement(ctx, s.driver, st, nil, args)
	if err != nil {
		return nil, commandError(q, argv, err)
	}
	_, out, err := dsql.ScanValues(rows)
	if err != nil {
		return nil, commandError(q, argv, err)
	}
	return out, nil
}

// Exec runs st and returns the affected rows.
func (s *SQLStore) Exec(ctx context.Context, st *dsql.Statement, args []any) (int64, error) {
	n, q, argv, err := dsql.ExecStatement(ctx, s.driver, st, nil, args)
	if err != nil {
		return 0, commandError(q, argv, err)
	}
	return n, nil
}

// Submit writes cs in one transaction.
func (s *SQLStore) Submit(ctx context.Context, cs *session.ChangeSet) (err error) {
	tx, err := s.driver.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if rerr := tx.Rollback(); rerr != nil {
			err = errors.Join(err, &vela.RollbackError{Err: rerr})
		}
	}()
	for _, g := range cs.Groups {
		if err := s.insert(ctx, tx, g); err != nil {
			return err
		}
		for _, r := range g.Updates {
			if err := s.update(ctx, tx, r); err != nil {
				return err
			}
		}
	}
	for i := len(cs.Groups) - 1; i >= 0; i-- {
		if err := s.delete(ctx, tx, cs.Groups[i]); err != nil {
			return err
		}
	}
	for _, sc := range cs.Scheduled {
		_, q, argv, err := dsql.ExecStatement(ctx, tx, sc.Translation.Statement, nil, sc.Args)
		if err != nil {
			return commandError(q, argv, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	s.logger.Debug("change set committed",
		zap.Stringer("transaction", cs.ID),
		zap.Int("groups", len(cs.Groups)),
		zap.Int("records", cs.Len()))
	return nil
}

func (s *SQLStore) insert(ctx context.Context, tx dialect.Tx, g *session.EntityChanges) error {
	e := g.Entity
	for _, r := range g.Inserts {
		r.SyncRefs()
	}
	if s.batched(e, len(g.Inserts)) {
		for _, chunk := range chunks(g.Inserts, s.batchSize) {
			recs := make([]dsql.ColumnSource, len(chunk))
			for i, r := range chunk {
				recs[i] = r
			}
			st, err := s.crud.InsertMany(e, recs)
			if err != nil {
				return err
			}
			if _, q, argv, err := dsql.ExecStatement(ctx, tx, st, nil, nil); err != nil {
				return commandError(q, argv, err)
			}
		}
		return nil
	}
	st, err := s.crud.InsertOne(e)
	if err != nil {
		return err
	}
	for _, r := range g.Inserts {
		// Identities of earlier inserts in this group may be referenced.
		r.SyncRefs()
		if err := s.insertOne(ctx, tx, st, r); err != nil {
			return err
		}
	}
	return nil
}

// batched reports whether n inserts of e go into one statement. Entities
// with identities read their keys back one row at a time, and entities in
// a reference cycle are inserted in record order.
func (s *SQLStore) batched(e *model.Entity, n int) bool {
	return n > 1 && s.batchSize > 1 && e.IdentityMember == nil && !e.Has(model.NonTrivialGroup)
}

func (s *SQLStore) insertOne(ctx context.Context, tx dialect.Tx, st *dsql.Statement, r *session.Record) error {
	e := r.Entity()
	id := e.IdentityMember
	switch {
	case id == nil:
		if _, q, argv, err := dsql.ExecStatement(ctx, tx, st, r, nil); err != nil {
			return commandError(q, argv, err)
		}
		return nil
	case s.crud.Returning(e):
		rows, q, argv, err := dsql.QueryStatement(ctx, tx, st, r, nil)
		if err != nil {
			return commandError(q, argv, err)
		}
		_, out, err := dsql.ScanValues(rows)
		if err != nil {
			return commandError(q, argv, err)
		}
		if len(out) != 1 || len(out[0]) != 1 {
			return commandError(q, argv, fmt.Errorf("storage: insert %s returned %d rows", e.Name, len(out)))
		}
		return setIdentity(r, id, out[0][0])
	}
	q, argv, err := st.Bind(r, nil)
	if err != nil {
		return err
	}
	var res dsql.Result
	if err := tx.Exec(ctx, q, argv, &res); err != nil {
		return commandError(q, argv, err)
	}
	n, err := res.LastInsertId()
	if err != nil {
		return commandError(q, argv, err)
	}
	return setIdentity(r, id, n)
}

func setIdentity(r *session.Record, id *model.Member, v any) error {
	cv, err := id.DataType.Convert(v)
	if err != nil {
		return fmt.Errorf("storage: identity of %s: %w", id.Entity.Name, err)
	}
	r.SetRaw(id, cv)
	return nil
}

func (s *SQLStore) update(ctx context.Context, tx dialect.Tx, r *session.Record) error {
	e := r.Entity()
	r.SyncRefs()
	cols := crud.UpdateColumns(e, r.ChangedColumns())
	if len(cols) == 0 {
		return nil
	}
	st, err := s.crud.UpdateOne(e, cols)
	if err != nil {
		return err
	}
	n, q, argv, err := dsql.ExecStatement(ctx, tx, st, r, nil)
	if err != nil {
		return commandError(q, argv, err)
	}
	if n == 0 && e.RowVersion != nil {
		return &vela.ConflictError{Entity: e.Name, Key: r.PrimaryKey().String(), Op: "update"}
	}
	return nil
}

func (s *SQLStore) delete(ctx context.Context, tx dialect.Tx, g *session.EntityChanges) error {
	e := g.Entity
	if len(g.Deletes) == 0 {
		return nil
	}
	if crud.CanDeleteMany(e) && len(g.Deletes) > 1 && s.batchSize > 1 {
		st, err := s.crud.DeleteMany(e)
		if err != nil {
			return err
		}
		pk := e.PrimaryKey.Columns[0].Member
		for _, chunk := range chunks(g.Deletes, s.batchSize) {
			keys := make([]any, len(chunk))
			for i, r := range chunk {
				keys[i] = r.ColumnValue(pk, true)
			}
			if _, q, argv, err := dsql.ExecStatement(ctx, tx, st, nil, []any{keys}); err != nil {
				return deleteError(e, keys, q, argv, err)
			}
		}
		return nil
	}
	st, err := s.crud.DeleteOne(e)
	if err != nil {
		return err
	}
	for _, r := range g.Deletes {
		n, q, argv, err := dsql.ExecStatement(ctx, tx, st, r, nil)
		if err != nil {
			return deleteError(e, r.PrimaryKey().String(), q, argv, err)
		}
		if n == 0 && e.RowVersion != nil {
			return &vela.ConflictError{Entity: e.Name, Key: r.PrimaryKey().String(), Op: "delete"}
		}
	}
	return nil
}

// deleteError reports a foreign key violation on delete as a
// *vela.DeleteBlockedError naming the entities with non-cascading
// references to e.
func deleteError(e *model.Entity, key any, q string, argv []any, err error) error {
	cerr := commandError(q, argv, err)
	if !sqlgraph.IsForeignKeyConstraintError(err) {
		return cerr
	}
	var blocking []string
	seen := make(map[string]bool)
	for _, m := range e.IncomingRefs {
		if !m.Ref.Cascade && !seen[m.Entity.Name] {
			seen[m.Entity.Name] = true
			blocking = append(blocking, m.Entity.Name)
		}
	}
	return errors.Join(&vela.DeleteBlockedError{Entity: e.Name, Key: key, Blocking: blocking}, cerr)
}

func commandError(q string, argv []any, err error) error {
	var ce *vela.CommandError
	if errors.As(err, &ce) {
		return err
	}
	return &vela.CommandError{SQL: q, Args: argv, Err: sqlgraph.Classify(err)}
}

func chunks(rs []*session.Record, n int) [][]*session.Record {
	var out [][]*session.Record
	for len(rs) > n {
		out = append(out, rs[:n])
		rs = rs[n:]
	}
	return append(out, rs)
}
