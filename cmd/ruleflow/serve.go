package main

import (
	"github.com/spf13/cobra"

	"github.com/gxo-labs/ruleflow/internal/catalog"
	"github.com/gxo-labs/ruleflow/internal/module"
	"github.com/gxo-labs/ruleflow/internal/transport"
	"github.com/gxo-labs/ruleflow/internal/trigger"
)

type serveOptions struct {
	catalogPath string
	addr        string
	watch       bool
}

func newServeCommand(g *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the cron trigger and the catalog watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, g, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.catalogPath, "catalog", "", "Catalog file (defaults to the catalog.path setting)")
	flags.StringVar(&opts.addr, "addr", "", "Listen address (defaults to the http.addr setting)")
	flags.BoolVar(&opts.watch, "watch", false, "Reload the catalog when the file changes")
	return cmd
}

func serve(cmd *cobra.Command, g *globalOptions, opts *serveOptions) error {
	s, err := g.settings()
	if err != nil {
		return err
	}
	if opts.catalogPath != "" {
		s.Catalog.Path = opts.catalogPath
	}
	if opts.addr != "" {
		s.HTTP.Addr = opts.addr
	}
	if cmd.Flags().Changed("watch") {
		s.Catalog.Watch = opts.watch
	}

	log := newLogger(s, cmd.ErrOrStderr())
	ctx := cmd.Context()
	svc, err := newServices(ctx, s, s.Catalog.Path, log)
	if err != nil {
		return err
	}
	svc.start(ctx)
	defer svc.close()

	publisher := transport.NewEventPublisher(svc.bus, log)
	scheduler, err := trigger.NewScheduler(svc.engine, publisher, log)
	if err != nil {
		return failure(err)
	}
	if err := scheduler.Sync(svc.catalog.AutomatedSteps()); err != nil {
		return usageError(err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if s.Catalog.Watch {
		watcher, err := catalog.NewWatcher(s.Catalog.Path, svc.catalog, module.DefaultRegistry, s.Catalog.Debounce, log)
		if err != nil {
			return usageError(err)
		}
		watcher.OnReload = func() {
			if err := scheduler.Sync(svc.catalog.AutomatedSteps()); err != nil {
				log.Errorf("Failed to reschedule automated steps after reload: %v", err)
			}
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Errorf("Catalog watcher stopped: %v", err)
			}
		}()
	}

	serverOpts := []transport.ServerOption{transport.WithMetrics(svc.metrics.Registry())}
	if svc.store != nil {
		serverOpts = append(serverOpts, transport.WithExecutionLog(svc.store))
	}
	server, err := transport.NewServer(svc.engine, svc.catalog, publisher, log, serverOpts...)
	if err != nil {
		return failure(err)
	}

	log.Infof("ruleflow %s serving %d rules in %d steps (%d scheduled).",
		version, len(svc.catalog.Rules()), len(svc.catalog.Steps()), len(scheduler.Jobs()))
	if err := server.ListenAndServe(ctx, s.HTTP.Addr, s.HTTP.ShutdownTimeout); err != nil {
		return failure(err)
	}
	log.Infof("ruleflow stopped.")
	return nil
}
