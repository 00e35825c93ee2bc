package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/syssam/vela/config"
	"github.com/syssam/vela/model"
	"github.com/syssam/vela/schema"
)

// Version is set at build time.
var Version = "dev"

type envKey struct{}

// env is the state shared by subcommands.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func envFrom(cmd *cobra.Command) *env {
	e, _ := cmd.Context().Value(envKey{}).(*env)
	return e
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:     "vela",
		Short:   "Inspect vela schema models",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			logger, err := cfg.Logger()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, envKey{}, &env{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e := envFrom(cmd); e != nil {
				_ = e.logger.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./"+config.FileName+")")
	flags.String("dialect", "", "SQL dialect (sqlite|postgres|mysql)")
	flags.String("dsn", "", "data source name")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.Bool("randomize-processors", false, "shuffle attribute processors while building the model")

	root.AddCommand(newModelCmd(), newSQLCmd(), newCountCmd())
	return root
}

// buildModel loads the YAML schema at path and builds its model.
func buildModel(e *env, path string) (*model.Model, *model.Log, error) {
	decls, err := schema.LoadYAMLFile(path)
	if err != nil {
		return nil, nil, err
	}
	opts := []model.Option{model.WithLogger(e.logger)}
	if e.cfg.RandomizeProcessors {
		opts = append(opts, model.WithRandomizedOrder(time.Now().UnixNano()))
	}
	return model.Build(decls, opts...)
}
