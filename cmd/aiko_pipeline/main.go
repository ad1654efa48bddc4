// Command aiko_pipeline loads and runs a pipeline definition, or tells a
// running pipeline to terminate, grounded on the same cobra root shape as
// aiko_registrar.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/geekscape/aiko-services/internal/sexp"
	"github.com/geekscape/aiko-services/internal/service"
	"github.com/geekscape/aiko-services/public/aiko"
)

type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }

func main() {
	root := &cobra.Command{
		Use:   "aiko_pipeline",
		Short: "Run or terminate an Aiko pipeline",
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML process configuration file")

	var instance string
	createCmd := &cobra.Command{
		Use:   "create <definition.json>",
		Short: "Load and run a pipeline definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return create(configPath, instance, args[0])
		},
	}
	createCmd.Flags().StringVar(&instance, "instance", "default", "pipeline instance name, used in its topic path")

	deleteCmd := &cobra.Command{
		Use:   "delete <topic>",
		Short: "Terminate a running pipeline by its topic path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deletePipeline(configPath, args[0])
		},
	}

	root.AddCommand(createCmd, deleteCmd)

	if err := root.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			fmt.Fprintln(os.Stderr, ec.err)
			os.Exit(ec.code)
		}
		os.Exit(1)
	}
}

func create(configPath, instance, path string) error {
	proc, err := aiko.NewProcess(configPath)
	if err != nil {
		return &exitCodeError{code: 1, err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := proc.Connect(ctx); err != nil {
		return &exitCodeError{code: 2, err: err}
	}

	pl, err := proc.LoadPipeline(path, instance)
	if err != nil {
		return &exitCodeError{code: 1, err: err}
	}
	if err := pl.Start(ctx); err != nil {
		return &exitCodeError{code: 1, err: err}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		proc.Log.Info().Msg("aiko_pipeline: shutdown signal received")
		if err := proc.Shutdown(10 * time.Second); err != nil {
			proc.Log.Error().Err(err).Msg("aiko_pipeline: shutdown error")
		}
	}()

	proc.Run()
	return nil
}

func deletePipeline(configPath, topic string) error {
	proc, err := aiko.NewProcess(configPath)
	if err != nil {
		return &exitCodeError{code: 1, err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := proc.Bus.Connect(ctx); err != nil {
		return &exitCodeError{code: 2, err: err}
	}
	defer proc.Bus.Disconnect(ctx)

	payload := []byte(sexp.Serialize(sexp.List(sexp.Sym("terminate"))))
	if err := proc.Bus.Publish(ctx, service.Channel(topic, "in"), payload, false); err != nil {
		return &exitCodeError{code: 2, err: fmt.Errorf("aiko_pipeline: publish terminate: %w", err)}
	}
	return nil
}
