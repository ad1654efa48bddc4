// Command aiko_registrar runs the Registrar process for an Aiko
// namespace: it joins the bus, participates in primary election, and
// maintains the live discovery cache for other processes to query,
// grounded on cmd/orchestrator/main.go's cobra root + signal-driven
// shutdown shape.
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

	"github.com/geekscape/aiko-services/public/aiko"
)

type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }

func main() {
	root := &cobra.Command{
		Use:   "aiko_registrar",
		Short: "Run the Aiko registrar service for a namespace",
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML process configuration file")

	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runRegistrar(configPath)
	}

	if err := root.Execute(); err != nil {
		var ec *exitCodeError
		if errors.As(err, &ec) {
			fmt.Fprintln(os.Stderr, ec.err)
			os.Exit(ec.code)
		}
		os.Exit(1)
	}
}

func runRegistrar(configPath string) error {
	proc, err := aiko.NewProcess(configPath)
	if err != nil {
		return &exitCodeError{code: 1, err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := proc.Connect(ctx); err != nil {
		return &exitCodeError{code: 2, err: err}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		proc.Log.Info().Msg("aiko_registrar: shutdown signal received")
		if err := proc.Shutdown(10 * time.Second); err != nil {
			proc.Log.Error().Err(err).Msg("aiko_registrar: shutdown error")
		}
	}()

	proc.Run()
	return nil
}
