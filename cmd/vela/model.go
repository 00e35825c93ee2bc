package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/syssam/vela/model"
)

func newModelCmd() *cobra.Command {
	var showLog bool
	cmd := &cobra.Command{
		Use:   "model <schema.yaml>",
		Short: "Build a schema and print its entities in write order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, log, err := buildModel(envFrom(cmd), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if showLog {
				for _, entry := range log.Entries {
					fmt.Fprintln(out, entry)
				}
			}
			return printModel(out, m)
		},
	}
	cmd.Flags().BoolVar(&showLog, "log", false, "print build log entries")
	return cmd
}

func printModel(w io.Writer, m *model.Model) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range m.TopologicalOrder() {
		fmt.Fprintf(tw, "%d. %s (%s)\n", e.TopologicalIndex, e.Name, e.Table)
		for _, mem := range e.Members {
			col := mem.Column
			if col == "" {
				col = "-"
			}
			fmt.Fprintf(tw, "\t%s\t%s\t%s\t%s\t%s\n", mem.Name, mem.Kind, col, mem.DataType, strings.Join(flagNames(mem), ","))
		}
		for _, k := range e.Keys {
			var names []string
			for _, km := range k.Columns {
				names = append(names, km.Member.Name)
			}
			fmt.Fprintf(tw, "\tkey %s\t%s\t(%s)\n", k.Name, k.Kind, strings.Join(names, ", "))
		}
	}
	return tw.Flush()
}

var memberFlagNames = []struct {
	flag model.MemberFlags
	name string
}{
	{model.PrimaryKey, "pk"},
	{model.Nullable, "null"},
	{model.AutoValue, "auto"},
	{model.Identity, "identity"},
	{model.RowVersion, "version"},
	{model.ForeignKey, "fk"},
	{model.CascadeDelete, "cascade"},
	{model.Computed, "computed"},
	{model.Secret, "secret"},
}

func flagNames(m *model.Member) []string {
	var out []string
	for _, f := range memberFlagNames {
		if m.Has(f.flag) {
			out = append(out, f.name)
		}
	}
	return out
}
