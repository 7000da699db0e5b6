// Package config loads the bridge YAML configuration.
//
// Parsing is strict: unknown keys are rejected so typos surface as errors
// instead of silently falling back to defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fmubridge/fmubridge/bridge/bus/natsbus"
	bridgeerrors "github.com/fmubridge/fmubridge/bridge/errors"
	"github.com/fmubridge/fmubridge/bridge/fmi"
	"github.com/fmubridge/fmubridge/bridge/fmi/loopback"
	"github.com/fmubridge/fmubridge/bridge/pipeline"
	"github.com/fmubridge/fmubridge/bridge/transform"
	"github.com/fmubridge/fmubridge/bridge/types"
)

// Bus kinds.
const (
	BusMemory = "memory"
	BusNATS   = "nats"
)

// DefaultStepSize applies when neither the configuration nor the model
// description give one.
const DefaultStepSize = 0.01

// Config is the top-level bridge configuration.
type Config struct {
	// Model is the path of the model description. Relative paths are
	// resolved against the directory of the configuration file.
	Model      string      `yaml:"model"`
	Simulation Simulation  `yaml:"simulation"`
	Bus        Bus         `yaml:"bus"`
	Types      Types       `yaml:"types"`
	Variables  []Variable  `yaml:"variables"`
	Structures []Structure `yaml:"structures"`
	CAN        []CAN       `yaml:"can"`
	RPC        RPC         `yaml:"rpc"`
	Loopback   Loopback    `yaml:"loopback"`
}

// Simulation holds stepping parameters. Zero values are filled from the
// model description by ApplyDefaults.
type Simulation struct {
	StepSize float64 `yaml:"step_size"`
	Start    float64 `yaml:"start"`
	Stop     float64 `yaml:"stop"`
	// Synchronized aligns inbound messages with simulation time. When false,
	// every message is delivered on the next step regardless of its timestamp.
	Synchronized *bool `yaml:"synchronized"`
	// Realtime paces steps to wall-clock time.
	Realtime bool `yaml:"realtime"`
}

// Bus selects and configures the bus adapter.
type Bus struct {
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
	NATS NATS   `yaml:"nats"`
}

// NATS configures the NATS adapter.
type NATS struct {
	URL           string        `yaml:"url"`
	Prefix        string        `yaml:"prefix"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Types declares custom wire types.
type Types struct {
	Structs []Struct `yaml:"structs"`
	Enums   []Enum   `yaml:"enums"`
}

// Struct declares a struct type.
type Struct struct {
	Name    string   `yaml:"name"`
	Members []Member `yaml:"members"`
}

// Member is one struct member.
type Member struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Enum declares an enumeration.
type Enum struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

// EnumItem is one enumeration literal.
type EnumItem struct {
	Name  string `yaml:"name"`
	Value int64  `yaml:"value"`
}

// Variable overrides the exchange of one FMU variable.
type Variable struct {
	Name      string     `yaml:"name"`
	Topic     string     `yaml:"topic"`
	Type      string     `yaml:"type"`
	Skip      bool       `yaml:"skip"`
	Transform *Transform `yaml:"transform"`
}

// Transform is a linear transformation v·factor + offset.
type Transform struct {
	Factor           *float64 `yaml:"factor"`
	Offset           *float64 `yaml:"offset"`
	Reverse          bool     `yaml:"reverse"`
	TransmissionType string   `yaml:"transmission_type"`
}

// Structure configures the structure rooted at Name.
type Structure struct {
	Name  string `yaml:"name"`
	Topic string `yaml:"topic"`
	Type  string `yaml:"type"`
}

// CAN binds a CAN controller to four FMU variables: transmit and receive
// buffers (Binary) and their clocks.
type CAN struct {
	Controller string `yaml:"controller"`
	Tx         string `yaml:"tx"`
	TxClock    string `yaml:"tx_clock"`
	Rx         string `yaml:"rx"`
	RxClock    string `yaml:"rx_clock"`
}

// RPC lists the functions the FMU calls and serves.
type RPC struct {
	Clients []RPCFunction `yaml:"clients"`
	Servers []RPCFunction `yaml:"servers"`
}

// RPCFunction binds a remote function to two structures. For clients Args
// is an output structure and Result an input structure; for servers the
// other way round. Each structure must contain a clock.
type RPCFunction struct {
	Function string `yaml:"function"`
	Args     string `yaml:"args"`
	Result   string `yaml:"result"`
}

// Loopback configures the in-memory FMU used when no native FMU is loaded.
type Loopback struct {
	// Links copy a source variable into a target variable after every step.
	Links []Link `yaml:"links"`
	Async bool   `yaml:"async"`
}

// Link names a source and target variable.
type Link struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bridge config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Model != "" && !filepath.IsAbs(cfg.Model) {
		cfg.Model = filepath.Join(filepath.Dir(path), cfg.Model)
	}
	return cfg, nil
}

// Parse decodes a configuration document. An empty document is a valid,
// empty configuration.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, bridgeerrors.Configuration("bridge config", fmt.Errorf("%w: parsing YAML: %v", bridgeerrors.ErrInvalidConfig, err))
	}
	return &cfg, nil
}

// ApplyDefaults fills unset values, taking stepping parameters from md when
// it is not nil.
func (c *Config) ApplyDefaults(md *fmi.ModelDescription) {
	if c.Simulation.StepSize == 0 && md != nil {
		c.Simulation.StepSize = md.DefaultStepSize
	}
	if c.Simulation.StepSize == 0 {
		c.Simulation.StepSize = DefaultStepSize
	}
	if c.Simulation.Start == 0 && md != nil {
		c.Simulation.Start = md.StartTime
	}
	if c.Simulation.Stop == 0 && md != nil {
		c.Simulation.Stop = md.StopTime
	}
	if c.Simulation.Synchronized == nil {
		on := true
		c.Simulation.Synchronized = &on
	}
	if c.Bus.Kind == "" {
		c.Bus.Kind = BusMemory
	}
	def := natsbus.DefaultConfig()
	if c.Bus.NATS.URL == "" {
		c.Bus.NATS.URL = def.URL
	}
	if c.Bus.NATS.MaxReconnects == 0 {
		c.Bus.NATS.MaxReconnects = def.MaxReconnects
	}
	if c.Bus.NATS.ReconnectWait == 0 {
		c.Bus.NATS.ReconnectWait = def.ReconnectWait
	}
	if c.Bus.NATS.Timeout == 0 {
		c.Bus.NATS.Timeout = def.Timeout
	}
}

// IsSynchronized reports whether inbound delivery follows simulation time.
func (c *Config) IsSynchronized() bool {
	return c.Simulation.Synchronized == nil || *c.Simulation.Synchronized
}

// NATSConfig returns the NATS adapter settings.
func (c *Config) NATSConfig() natsbus.Config {
	cfg := natsbus.DefaultConfig()
	n := c.Bus.NATS
	if n.URL != "" {
		cfg.URL = n.URL
	}
	cfg.Prefix = n.Prefix
	if c.Bus.Name != "" {
		cfg.Name = c.Bus.Name
	}
	if n.MaxReconnects != 0 {
		cfg.MaxReconnects = n.MaxReconnects
	}
	if n.ReconnectWait != 0 {
		cfg.ReconnectWait = n.ReconnectWait
	}
	if n.Timeout != 0 {
		cfg.Timeout = n.Timeout
	}
	return cfg
}

// Validate checks the configuration for values that cannot work, reporting
// the offending entry as section[idx].field.
func (c *Config) Validate() error {
	invalid := func(subject, format string, args ...any) error {
		return bridgeerrors.Configurationf(subject, bridgeerrors.ErrInvalidConfig, format, args...)
	}
	s := c.Simulation
	if err := validateFinite("simulation.step_size", s.StepSize); err != nil {
		return err
	}
	if s.StepSize <= 0 {
		return invalid("simulation.step_size", "must be positive, got %g", s.StepSize)
	}
	if s.Stop != 0 && s.Stop < s.Start {
		return invalid("simulation.stop", "%g is before start %g", s.Stop, s.Start)
	}
	if c.Bus.Kind != BusMemory && c.Bus.Kind != BusNATS {
		return invalid("bus.kind", "unknown bus kind %q; valid: memory, nats", c.Bus.Kind)
	}

	for i, st := range c.Types.Structs {
		prefix := fmt.Sprintf("types.structs[%d]", i)
		if st.Name == "" {
			return invalid(prefix+".name", "must not be empty")
		}
		for j, m := range st.Members {
			if m.Name == "" || m.Type == "" {
				return invalid(fmt.Sprintf("%s.members[%d]", prefix, j), "name and type are required")
			}
		}
	}
	for i, e := range c.Types.Enums {
		prefix := fmt.Sprintf("types.enums[%d]", i)
		if e.Name == "" {
			return invalid(prefix+".name", "must not be empty")
		}
		if len(e.Items) == 0 {
			return invalid(prefix+".items", "enum %q has no items", e.Name)
		}
	}
	for i, v := range c.Variables {
		prefix := fmt.Sprintf("variables[%d]", i)
		if v.Name == "" {
			return invalid(prefix+".name", "must not be empty")
		}
		if v.Transform == nil {
			continue
		}
		if v.Transform.Factor != nil {
			f := *v.Transform.Factor
			if err := validateFinite(prefix+".transform.factor", f); err != nil {
				return err
			}
			if f == 0 {
				return invalid(prefix+".transform.factor", "must not be zero")
			}
		}
		if v.Transform.Offset != nil {
			if err := validateFinite(prefix+".transform.offset", *v.Transform.Offset); err != nil {
				return err
			}
		}
	}
	for i, st := range c.Structures {
		if st.Name == "" {
			return invalid(fmt.Sprintf("structures[%d].name", i), "must not be empty")
		}
	}

	controllers := make(map[string]bool)
	for i, ch := range c.CAN {
		prefix := fmt.Sprintf("can[%d]", i)
		if ch.Controller == "" {
			return invalid(prefix+".controller", "must not be empty")
		}
		if controllers[ch.Controller] {
			return bridgeerrors.Configurationf(prefix+".controller", bridgeerrors.ErrDuplicateName, "controller %q configured twice", ch.Controller)
		}
		controllers[ch.Controller] = true
		if ch.Tx == "" || ch.TxClock == "" || ch.Rx == "" {
			return invalid(prefix, "tx, tx_clock and rx are required")
		}
	}
	for _, group := range []struct {
		name string
		fns  []RPCFunction
	}{{"rpc.clients", c.RPC.Clients}, {"rpc.servers", c.RPC.Servers}} {
		seen := make(map[string]bool)
		for i, fn := range group.fns {
			prefix := fmt.Sprintf("%s[%d]", group.name, i)
			if fn.Function == "" || fn.Args == "" || fn.Result == "" {
				return invalid(prefix, "function, args and result are required")
			}
			if seen[fn.Function] {
				return bridgeerrors.Configurationf(prefix+".function", bridgeerrors.ErrDuplicateName, "function %q configured twice", fn.Function)
			}
			seen[fn.Function] = true
		}
	}
	for i, l := range c.Loopback.Links {
		if l.From == "" || l.To == "" {
			return invalid(fmt.Sprintf("loopback.links[%d]", i), "from and to are required")
		}
	}
	return nil
}

func validateFinite(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return bridgeerrors.Configurationf(name, bridgeerrors.ErrInvalidConfig, "must be a finite number, got %g", val)
	}
	return nil
}

// Registry builds a type registry from the declared structs and enums and
// resolves every member type.
func (c *Config) Registry() (*types.Registry, error) {
	reg := types.NewRegistry()
	for i, e := range c.Types.Enums {
		def := &types.EnumDefinition{Name: e.Name}
		for _, it := range e.Items {
			def.Items = append(def.Items, types.EnumItem{Name: it.Name, Value: it.Value})
		}
		if err := reg.AddEnum(def, fmt.Sprintf("types.enums[%d]", i)); err != nil {
			return nil, err
		}
	}
	for i, st := range c.Types.Structs {
		def := &types.StructDefinition{Name: st.Name}
		for j, m := range st.Members {
			d, err := types.Parse(m.Type)
			if err != nil {
				return nil, bridgeerrors.Configuration(fmt.Sprintf("types.structs[%d].members[%d]", i, j), err)
			}
			def.Members = append(def.Members, types.Member{Name: m.Name, Type: d})
		}
		if err := reg.AddStruct(def, fmt.Sprintf("types.structs[%d]", i)); err != nil {
			return nil, err
		}
	}
	if err := reg.ResolveAll(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Reserved returns the variables and structures served by CAN and RPC
// channels.
func (c *Config) Reserved() []string {
	var out []string
	for _, ch := range c.CAN {
		for _, name := range []string{ch.Tx, ch.TxClock, ch.Rx, ch.RxClock} {
			if name != "" {
				out = append(out, name)
			}
		}
	}
	for _, fn := range append(append([]RPCFunction(nil), c.RPC.Clients...), c.RPC.Servers...) {
		out = append(out, fn.Args, fn.Result)
	}
	return out
}

// PipelineOptions converts the variable and structure sections for
// pipeline.Configure, using reg for custom types.
func (c *Config) PipelineOptions(reg *types.Registry) pipeline.Options {
	opts := pipeline.Options{Registry: reg, Reserved: c.Reserved()}
	for _, v := range c.Variables {
		o := pipeline.VariableOverride{Name: v.Name, Topic: v.Topic, Type: v.Type, Skip: v.Skip}
		if t := v.Transform; t != nil {
			o.Transform = transform.New(t.Factor, t.Offset, t.Reverse, t.TransmissionType)
		}
		opts.Variables = append(opts.Variables, o)
	}
	for _, s := range c.Structures {
		opts.Structures = append(opts.Structures, pipeline.StructureOverride{Name: s.Name, Topic: s.Topic, Type: s.Type})
	}
	return opts
}

// LoopbackLinks resolves the configured loopback links against md.
func (c *Config) LoopbackLinks(md *fmi.ModelDescription) ([]loopback.Link, error) {
	var links []loopback.Link
	for i, l := range c.Loopback.Links {
		resolved, err := loopback.LinksByName(md, map[string]string{l.From: l.To})
		if err != nil {
			return nil, bridgeerrors.Configuration(fmt.Sprintf("loopback.links[%d]", i), fmt.Errorf("%w: %v", bridgeerrors.ErrInvalidConfig, err))
		}
		links = append(links, resolved...)
	}
	return links, nil
}
