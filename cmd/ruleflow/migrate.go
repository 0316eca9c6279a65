package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gxo-labs/ruleflow/internal/execlog"
)

func newMigrateCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the execution log schema",
		Long:  "Apply or roll back the execution log migrations on the database configured under execlog.",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, g, func(m *execlog.Migrator) error {
					if err := m.Up(); err != nil {
						return err
					}
					return printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, g, func(m *execlog.Migrator) error {
					if err := m.Down(); err != nil {
						return err
					}
					return printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, g, func(m *execlog.Migrator) error {
					return printVersion(cmd, m)
				})
			},
		},
	)
	return cmd
}

func withMigrator(cmd *cobra.Command, g *globalOptions, fn func(*execlog.Migrator) error) error {
	s, err := g.settings()
	if err != nil {
		return err
	}
	if !s.ExecLog.Enabled() {
		return usageError(errors.New("no execution log database configured (execlog.driver)"))
	}
	store, err := execlog.Open(cmd.Context(), s.ExecLog.Driver, s.ExecLog.DSN)
	if err != nil {
		return failure(err)
	}
	defer store.Close()

	m, err := execlog.NewMigrator(store.DB(), store.Dialect())
	if err != nil {
		return failure(err)
	}
	if err := fn(m); err != nil {
		return failure(fmt.Errorf("migration failed: %w", err))
	}
	return nil
}

func printVersion(cmd *cobra.Command, m *execlog.Migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	state := "clean"
	if dirty {
		state = "dirty"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "execution log schema version %d (%s)\n", v, state)
	return nil
}
