package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lattiam/batchanalysis/internal/apiserver"
	"github.com/lattiam/batchanalysis/internal/submit"
	"github.com/lattiam/batchanalysis/internal/trigger"
	"github.com/lattiam/batchanalysis/pkg/logging"
)

// ErrServerStopped is returned when the listener exits on its own
var ErrServerStopped = errors.New("server stopped unexpectedly")

func newServeCommand() *cobra.Command {
	var (
		port           int
		submissionRole string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept lifecycle events over HTTP",
		Long: `Run the HTTP intake. POST /api/v1/events runs a lifecycle event through the trigger, recording
one token per request id, and returns the submission outcome.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, port, submissionRole)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default: BATCHANALYSIS_PORT or 8080)")
	cmd.Flags().StringVar(&submissionRole, "submission-role", "", "Role ARN the controller submits as (default: the stack's submission role)")
	return cmd
}

func runServer(cmd *cobra.Command, port int, submissionRole string) error {
	logger := logging.Server

	cfg, err := loadStandardConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	batchClient, err := c.submitClient(ctx, submissionRole)
	if err != nil {
		return err
	}
	controller, err := submit.NewController(batchClient, submit.WithJobNamePrefix(cfg.Stack))
	if err != nil {
		return err
	}
	opts := []trigger.Option{trigger.WithTimeout(cfg.Trigger.Timeout)}
	if cfg.Trigger.Compensate {
		opts = append(opts, trigger.WithCompensation(controller))
	}
	trig, err := trigger.New(cfg.Stack, c.store, controller, opts...)
	if err != nil {
		return err
	}

	server, err := apiserver.NewAPIServer(cfg, trig)
	if err != nil {
		return err
	}

	logger.Info("Starting batchanalysis server v%s", version)
	logger.Info("Configuration:")
	logger.Info("  Stack: %s", cfg.Stack)
	logger.Info("  Port: %d", cfg.Server.Port)
	logger.Info("  State Store: %s", cfg.StateStore.Type)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return ErrServerStopped
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), apiserver.ShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
