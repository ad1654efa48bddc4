// Package aiko wires together the config, logging, event loop, transport,
// and Registrar layers into the single embeddable entry point a process
// uses to join the bus and run pipelines, following a
// Config -> connect -> run lifecycle built around Registrar-centric
// identity.
package aiko

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/geekscape/aiko-services/internal/config"
	"github.com/geekscape/aiko-services/internal/eventloop"
	"github.com/geekscape/aiko-services/internal/logging"
	"github.com/geekscape/aiko-services/internal/pipeline"
	"github.com/geekscape/aiko-services/internal/service"
	"github.com/geekscape/aiko-services/internal/transport"
)

// Process is one running Aiko process: its configuration, logger, event
// loop, bus connection, and Registrar.
type Process struct {
	Config    *config.Config
	Log       zerolog.Logger
	Loop      *eventloop.Loop
	Bus       *transport.Client
	Registrar *service.Registrar

	host      string
	processID string
}

// NewProcess loads configuration (file, falling back to Default,
// overlaid by environment), builds the logger, event loop, transport
// client, and Registrar, but does not yet connect.
func NewProcess(configPath string) (*Process, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("aiko: load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	cfg = config.FromEnvironment(cfg)

	log := logging.New(logging.Config{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSON,
		BusMode:    logging.ParseBusMode(cfg.Logging.LogMQTT),
	})

	loop := eventloop.New(log)
	bus := transport.New(transport.Config{
		Host: cfg.Transport.Host,
		Port: cfg.Transport.Port,
		TLS:  cfg.Transport.TLS,
	}, log)

	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	processID := strconv.Itoa(os.Getpid())

	registrar := service.NewRegistrar(loop, bus, log, service.Config{
		Namespace: cfg.Namespace,
		Host:      host,
		ProcessID: processID,
		Instance:  "registrar",
		Name:      "registrar",
		Owner:     "aiko",
		Protocol:  "aiko-registrar",
		Transport: "mqtt",
	})

	return &Process{
		Config:    cfg,
		Log:       log,
		Loop:      loop,
		Bus:       bus,
		Registrar: registrar,
		host:      host,
		processID: processID,
	}, nil
}

// Connect dials the bus and starts the Registrar (subscribe, announce,
// attempt election).
func (p *Process) Connect(ctx context.Context) error {
	if err := p.Bus.Connect(ctx); err != nil {
		return fmt.Errorf("aiko: connect transport: %w", err)
	}
	if err := p.Registrar.Start(ctx); err != nil {
		return fmt.Errorf("aiko: start registrar: %w", err)
	}
	return nil
}

// LoadPipeline loads a pipeline definition file and constructs a running
// Pipeline wired to this process's loop, bus, and registrar.
func (p *Process) LoadPipeline(path, instance string) (*pipeline.Pipeline, error) {
	def, err := pipeline.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return pipeline.New(def, pipeline.Options{
		Loop:      p.Loop,
		Bus:       p.Bus,
		Registrar: p.Registrar,
		Log:       p.Log,
		Namespace: p.Config.Namespace,
		Host:      p.host,
		ProcessID: p.processID,
		Instance:  instance,
	})
}

// Run blocks, driving the event loop until Shutdown calls Terminate.
func (p *Process) Run() {
	p.Loop.Run()
}

// Shutdown stops the Registrar, terminates the event loop, and
// disconnects the bus, each bounded by timeout.
func (p *Process) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.Registrar.Stop(ctx); err != nil {
		p.Log.Warn().Err(err).Msg("aiko: registrar stop failed during shutdown")
	}
	p.Loop.Terminate()
	return p.Bus.Disconnect(ctx)
}
