package sql

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/syssam/vela/dialect"
)

// Verb classifies a statement by its leading keyword.
type Verb int

// Statement verbs counted by QueryStats.
const (
	VerbOther Verb = iota
	VerbSelect
	VerbInsert
	VerbUpdate
	VerbDelete
	numVerbs
)

var verbNames = [numVerbs]string{"other", "select", "insert", "update", "delete"}

func (v Verb) String() string {
	if v < 0 || v >= numVerbs {
		return "other"
	}
	return verbNames[v]
}

// VerbOf returns the verb of a SQL statement. Statements starting with WITH
// count as VerbOther.
func VerbOf(query string) Verb {
	q := strings.TrimLeft(query, " \t\r\n(")
	if len(q) < 6 {
		return VerbOther
	}
	switch strings.ToUpper(q[:6]) {
	case "SELECT":
		return VerbSelect
	case "INSERT":
		return VerbInsert
	case "UPDATE":
		return VerbUpdate
	case "DELETE":
		return VerbDelete
	}
	return VerbOther
}

// QueryStats counts statements run through a StatsDriver. All counters are
// safe for concurrent use.
type QueryStats struct {
	queries   atomic.Int64
	execs     atomic.Int64
	errors    atomic.Int64
	slow      atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	elapsed   atomic.Int64
	slowest   atomic.Int64
	verbs     [numVerbs]atomic.Int64
}

// StatsSnapshot is a copy of QueryStats taken at one instant.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	Errors        int64
	SlowQueries   int64
	Commits       int64
	Rollbacks     int64
	TotalDuration time.Duration
	Slowest       time.Duration
	ByVerb        map[Verb]int64
}

// Stats returns a snapshot of the counters.
func (s *QueryStats) Stats() StatsSnapshot {
	snap := StatsSnapshot{
		TotalQueries:  s.queries.Load(),
		TotalExecs:    s.execs.Load(),
		Errors:        s.errors.Load(),
		SlowQueries:   s.slow.Load(),
		Commits:       s.commits.Load(),
		Rollbacks:     s.rollbacks.Load(),
		TotalDuration: time.Duration(s.elapsed.Load()),
		Slowest:       time.Duration(s.slowest.Load()),
		ByVerb:        make(map[Verb]int64, numVerbs),
	}
	for v := range s.verbs {
		if n := s.verbs[v].Load(); n > 0 {
			snap.ByVerb[Verb(v)] = n
		}
	}
	return snap
}

// Reset zeroes every counter.
func (s *QueryStats) Reset() {
	for _, c := range []*atomic.Int64{&s.queries, &s.execs, &s.errors, &s.slow, &s.commits, &s.rollbacks, &s.elapsed, &s.slowest} {
		c.Store(0)
	}
	for v := range s.verbs {
		s.verbs[v].Store(0)
	}
}

func (s *QueryStats) observe(query string, read bool, d time.Duration, err error, slow bool) {
	if read {
		s.queries.Add(1)
	} else {
		s.execs.Add(1)
	}
	s.verbs[VerbOf(query)].Add(1)
	s.elapsed.Add(int64(d))
	for cur := s.slowest.Load(); int64(d) > cur; cur = s.slowest.Load() {
		if s.slowest.CompareAndSwap(cur, int64(d)) {
			break
		}
	}
	if err != nil {
		s.errors.Add(1)
	}
	if slow {
		s.slow.Add(1)
	}
}

// String formats the snapshot on one line.
func (s StatsSnapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "queries=%d execs=%d commits=%d rollbacks=%d slow=%d errors=%d total=%s slowest=%s",
		s.TotalQueries, s.TotalExecs, s.Commits, s.Rollbacks, s.SlowQueries, s.Errors, s.TotalDuration, s.Slowest)
	for v := VerbSelect; v < numVerbs; v++ {
		if n := s.ByVerb[v]; n > 0 {
			fmt.Fprintf(&b, " %s=%d", v, n)
		}
	}
	return b.String()
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement is counted as
// slow. The default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.threshold.Store(int64(d)) }
}

// WithSlowQueryLog reports slow statements to logger at warn level.
func WithSlowQueryLog(logger *zap.Logger) StatsOption {
	return func(s *StatsDriver) { s.logger = logger }
}

// StatsDriver is a Driver that counts statements and transaction outcomes.
type StatsDriver struct {
	*Driver
	stats     *QueryStats
	threshold atomic.Int64
	logger    *zap.Logger
}

// NewStatsDriver wraps drv with statement counting.
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, stats: &QueryStats{}, logger: zap.NewNop()}
	s.threshold.Store(int64(100 * time.Millisecond))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the live counters.
func (d *StatsDriver) QueryStats() *QueryStats { return d.stats }

// SlowThreshold returns the slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	return time.Duration(d.threshold.Load())
}

// SetSlowThreshold changes the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.threshold.Store(int64(threshold))
}

// Query implements dialect.Driver.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return d.timed(query, args, true, func() error { return d.Driver.Query(ctx, query, args, v) })
}

// Exec implements dialect.Driver.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return d.timed(query, args, false, func() error { return d.Driver.Exec(ctx, query, args, v) })
}

// Tx implements dialect.Driver. Commits and rollbacks of the returned
// transaction are counted.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &statsTx{Tx: tx, drv: d}, nil
}

func (d *StatsDriver) timed(query string, args any, read bool, run func() error) error {
	start := time.Now()
	err := run()
	elapsed := time.Since(start)
	slow := elapsed > d.SlowThreshold()
	d.stats.observe(query, read, elapsed, err, slow)
	if slow {
		n := 0
		if a, ok := args.([]any); ok {
			n = len(a)
		}
		d.logger.Warn("slow query detected",
			zap.Duration("duration", elapsed),
			zap.Stringer("verb", VerbOf(query)),
			zap.String("query", query),
			zap.Int("args", n))
	}
	return err
}

type statsTx struct {
	dialect.Tx
	drv *StatsDriver
}

func (tx *statsTx) Query(ctx context.Context, query string, args, v any) error {
	return tx.drv.timed(query, args, true, func() error { return tx.Tx.Query(ctx, query, args, v) })
}

func (tx *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.drv.timed(query, args, false, func() error { return tx.Tx.Exec(ctx, query, args, v) })
}

func (tx *statsTx) Commit() error {
	err := tx.Tx.Commit()
	if err == nil {
		tx.drv.stats.commits.Add(1)
	}
	return err
}

func (tx *statsTx) Rollback() error {
	tx.drv.stats.rollbacks.Add(1)
	return tx.Tx.Rollback()
}

// DebugDriver is a Driver that logs every statement at debug level.
type DebugDriver struct {
	*Driver
	logger *zap.Logger
}

// NewDebugDriver wraps drv with statement logging. A nil logger discards.
func NewDebugDriver(drv *Driver, logger *zap.Logger) *DebugDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DebugDriver{Driver: drv, logger: logger}
}

// Query implements dialect.Driver.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.logger.Debug("query", zap.String("sql", query), zap.Any("args", args))
	return d.Driver.Query(ctx, query, args, v)
}

// Exec implements dialect.Driver.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.logger.Debug("exec", zap.String("sql", query), zap.Any("args", args))
	return d.Driver.Exec(ctx, query, args, v)
}

// Tx implements dialect.Driver.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	d.logger.Debug("begin transaction")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &debugTx{Tx: tx, logger: d.logger}, nil
}

type debugTx struct {
	dialect.Tx
	logger *zap.Logger
}

func (tx *debugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.logger.Debug("tx query", zap.String("sql", query), zap.Any("args", args))
	return tx.Tx.Query(ctx, query, args, v)
}

func (tx *debugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.logger.Debug("tx exec", zap.String("sql", query), zap.Any("args", args))
	return tx.Tx.Exec(ctx, query, args, v)
}

func (tx *debugTx) Commit() error {
	tx.logger.Debug("commit transaction")
	return tx.Tx.Commit()
}

func (tx *debugTx) Rollback() error {
	tx.logger.Debug("rollback transaction")
	return tx.Tx.Rollback()
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*statsTx)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*debugTx)(nil)
)
