package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gxo-labs/ruleflow/internal/config"
	"github.com/gxo-labs/ruleflow/internal/logger"
	rflog "github.com/gxo-labs/ruleflow/pkg/ruleflow/v1/log"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "ruleflow",
		Short: "Loan rule execution engine",
		Long: `ruleflow executes the rules of a loan workflow step concurrently, honouring
their dependencies, and aggregates the outcomes into an approval decision.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s, %s %s/%s)", version, commit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Settings file (YAML); RULEFLOW_* variables override it")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (text, json)")

	cmd.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newValidateCommand(),
		newMigrateCommand(opts),
	)
	return cmd
}

// settings loads the service settings and applies the logging flags.
func (o *globalOptions) settings() (*config.Settings, error) {
	s, err := config.LoadSettings(o.configFile)
	if err != nil {
		return nil, usageError(err)
	}
	if o.logLevel != "" {
		s.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		s.Log.Format = o.logFormat
	}
	return s, nil
}

func newLogger(s *config.Settings, w io.Writer) rflog.Logger {
	return logger.NewLogger(s.Log.Level, s.Log.Format, w)
}
