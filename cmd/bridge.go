package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fmubridge/fmubridge/bridge"
	"github.com/fmubridge/fmubridge/bridge/bus"
	"github.com/fmubridge/fmubridge/bridge/bus/membus"
	"github.com/fmubridge/fmubridge/bridge/bus/natsbus"
	"github.com/fmubridge/fmubridge/bridge/config"
	"github.com/fmubridge/fmubridge/bridge/fmi"
	"github.com/fmubridge/fmubridge/bridge/fmi/loopback"
	"github.com/fmubridge/fmubridge/bridge/metrics"
)

// options are the command-line settings that override the configuration file.
type options struct {
	ConfigPath  string
	ModelPath   string
	Bus         string
	NATSURL     string
	Horizon     float64
	MetricsAddr string
	Realtime    bool
}

// loadConfig reads the configuration and model description and applies
// flag overrides and defaults.
func loadConfig(o options) (*config.Config, *fmi.ModelDescription, error) {
	cfg := &config.Config{}
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return nil, nil, err
		}
	}
	if o.ModelPath != "" {
		cfg.Model = o.ModelPath
	}
	if cfg.Model == "" {
		return nil, nil, errors.New("no model description: set model in the configuration or pass --model")
	}
	md, err := fmi.LoadModelDescription(cfg.Model)
	if err != nil {
		return nil, nil, err
	}
	if o.Bus != "" {
		cfg.Bus.Kind = o.Bus
	}
	if o.NATSURL != "" {
		cfg.Bus.NATS.URL = o.NATSURL
	}
	if o.Realtime {
		cfg.Simulation.Realtime = true
	}
	cfg.ApplyDefaults(md)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, md, nil
}

// newFMU instantiates the loopback FMU for md with the configured links.
func newFMU(cfg *config.Config, md *fmi.ModelDescription) (*fmi.Binding, error) {
	links, err := cfg.LoopbackLinks(md)
	if err != nil {
		return nil, err
	}
	opts := []loopback.Option{loopback.WithLinks(links...)}
	if cfg.Loopback.Async {
		opts = append(opts, loopback.WithAsyncSteps())
	}
	inst, err := loopback.New(md, opts...)
	if err != nil {
		return nil, err
	}
	return fmi.NewBinding(inst), nil
}

// openBus connects the configured bus adapter.
func openBus(cfg *config.Config) (bus.Bus, error) {
	switch cfg.Bus.Kind {
	case config.BusNATS:
		nc := cfg.NATSConfig()
		logrus.Infof("Connecting to NATS at %s (prefix %q)", nc.URL, nc.Prefix)
		b, err := natsbus.Connect(nc)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return membus.NewNetwork().Join(cfg.Bus.Name), nil
	}
}

// serveMetrics exposes m on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logrus.Infof("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("Metrics server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
}

// runBridge runs one session from the current time to the horizon.
func runBridge(ctx context.Context, o options) error {
	cfg, md, err := loadConfig(o)
	if err != nil {
		return err
	}
	end := o.Horizon
	if end == 0 {
		end = cfg.Simulation.Stop
	}
	if end <= cfg.Simulation.Start {
		return fmt.Errorf("horizon %g is not after start time %g: pass --horizon or set simulation.stop", end, cfg.Simulation.Start)
	}

	fmu, err := newFMU(cfg, md)
	if err != nil {
		return err
	}
	b, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logrus.Warnf("Closing bus: %v", err)
		}
	}()

	m := metrics.New()
	if o.MetricsAddr != "" {
		serveCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		serveMetrics(serveCtx, o.MetricsAddr, m)
	}

	s, err := bridge.New(cfg, fmu, b, bridge.WithMetrics(m))
	if err != nil {
		return err
	}
	logrus.Infof("Starting bridge for %s on the %s bus, step=%g, t=%g..%g",
		md.ModelName, cfg.Bus.Kind, cfg.Simulation.StepSize, cfg.Simulation.Start, end)
	if err := s.Initialize(ctx); err != nil {
		_ = s.Terminate()
		return err
	}
	runErr := s.Run(ctx, end)
	if err := s.Terminate(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// validateBridge configures a session without initializing it and writes
// its layout to w. CAN and RPC bindings are checked as well.
func validateBridge(w io.Writer, o options) error {
	cfg, md, err := loadConfig(o)
	if err != nil {
		return err
	}
	fmu, err := newFMU(cfg, md)
	if err != nil {
		return err
	}
	s, err := bridge.New(cfg, fmu, membus.NewNetwork().Join("validate"))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "model: %s (FMI %s), step %g\n", md.ModelName, md.FMIVersion, cfg.Simulation.StepSize); err != nil {
		return err
	}
	return s.Layout().WriteReport(w)
}
