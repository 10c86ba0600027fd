package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/colloquy/internal/scheduler"
	"github.com/rendis/colloquy/pkg/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dialog engine as an MCP stdio server",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := mcp.NewColloquyServer(mcp.ColloquyServerDeps{
		Engine:    rt.engine,
		Store:     rt.store,
		Templates: rt.templates,
		Hub:       rt.hub,
		Logger:    rt.logger,
	})

	// Push waiting_input and terminal events to the driving sessions.
	notifier := mcp.NewMCPNotifier(srv.MCPServer(), srv.Sessions())
	go func() {
		_ = notifier.Watch(ctx, rt.hub)
	}()

	if rt.cfg.Scheduler {
		sched := scheduler.NewScheduler(rt.store, rt.engine, rt.logger)
		if err := sched.RecoverMissed(ctx); err != nil {
			rt.logger.Warn("recover missed schedules failed", "error", err.Error())
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	rt.logger.Info("mcp server listening on stdio")
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
