package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/syssam/vela/crud"
	"github.com/syssam/vela/dialect"
	dsql "github.com/syssam/vela/dialect/sql"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/query"
	"github.com/syssam/vela/session"
	"github.com/syssam/vela/storage"
)

func newSQLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sql <schema.yaml> [entity...]",
		Short: "Print the CRUD statements of entities in the configured dialect",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := envFrom(cmd)
			m, _, err := buildModel(e, args[0])
			if err != nil {
				return err
			}
			d, err := dialect.Get(e.cfg.Dialect)
			if err != nil {
				return err
			}
			entities := m.TopologicalOrder()
			if len(args) > 1 {
				entities = entities[:0:0]
				for _, name := range args[1:] {
					ent := m.Entity(name)
					if ent == nil {
						return fmt.Errorf("unknown entity %q", name)
					}
					entities = append(entities, ent)
				}
			}
			b := crud.New(d, crud.WithCache(query.NewCache(e.cfg.StatementCacheSize)))
			for _, ent := range entities {
				if err := printStatements(cmd.OutOrStdout(), b, ent); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printStatements(w io.Writer, b *crud.Builder, e *model.Entity) error {
	fmt.Fprintf(w, "-- %s\n", e.Name)
	emit := func(op string, st *dsql.Statement, err error) error {
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, e.Name, err)
		}
		fmt.Fprintf(w, "%-12s %s\n", op, st.SQL)
		return nil
	}
	if e.Kind != model.KindTable {
		return nil
	}
	st, err := b.InsertOne(e)
	if err := emit("insert", st, err); err != nil {
		return err
	}
	if cols := crud.UpdateColumns(e, e.Columns()); len(cols) > 0 {
		st, err := b.UpdateOne(e, cols)
		if err := emit("update", st, err); err != nil {
			return err
		}
	}
	st, err = b.DeleteOne(e)
	if err := emit("delete", st, err); err != nil {
		return err
	}
	if crud.CanDeleteMany(e) {
		st, err := b.DeleteMany(e)
		if err := emit("delete-many", st, err); err != nil {
			return err
		}
	}
	return nil
}

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <schema.yaml> <entity>",
		Short: "Count the rows of an entity in the configured database",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := envFrom(cmd)
			m, _, err := buildModel(e, args[0])
			if err != nil {
				return err
			}
			cache := query.NewCache(e.cfg.StatementCacheSize)
			opts := []storage.Option{
				storage.WithLogger(e.logger),
				storage.WithCache(cache),
				storage.WithBatchSize(e.cfg.BatchSize),
				storage.WithSlowQueryThreshold(e.cfg.SlowQueryThreshold),
			}
			if e.cfg.Debug {
				opts = append(opts, storage.WithDebug())
			}
			st, err := storage.Open(e.cfg.Dialect, e.cfg.DSN, opts...)
			if err != nil {
				return err
			}
			defer st.Close()
			s := session.Open(m, st,
				session.WithKind(session.ReadOnly),
				session.WithLogger(e.logger),
				session.WithCache(cache),
				session.WithMaxTracked(e.cfg.MaxTrackedRecords))
			defer s.Close()
			n, err := s.Execute(cmd.Context(), s.Query(args[1]).Count())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
