// Package config loads run settings from an optional YAML file with
// AFFECT_ prefixed environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danielpatrickdp/affect-mpc/internal/eval"
	"github.com/danielpatrickdp/affect-mpc/internal/gate"
	"github.com/danielpatrickdp/affect-mpc/internal/logging"
	"github.com/danielpatrickdp/affect-mpc/internal/mpc"
	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/replay"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "AFFECT"

// Config holds the complete application configuration.
type Config struct {
	Plant      plant.Config     `mapstructure:"plant" yaml:"plant"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Logging    logging.Config   `mapstructure:"logging" yaml:"logging"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Gate       gate.GateConfig  `mapstructure:"gate" yaml:"gate"`
	Eval       eval.EvalConfig  `mapstructure:"eval" yaml:"eval"`
}

// ControllerConfig is the optimizer settings plus the candidate seed.
type ControllerConfig struct {
	mpc.Config `mapstructure:",squash" yaml:",inline"`

	// Seed feeds the candidate source; equal seeds replay identical runs.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`
}

// SimulationConfig scripts the scenario: run length and the shock event.
type SimulationConfig struct {
	Ticks             int     `mapstructure:"ticks" yaml:"ticks"`
	ShockTick         int     `mapstructure:"shock_tick" yaml:"shock_tick"` // negative disables the shock
	ShockArousal      float64 `mapstructure:"shock_arousal" yaml:"shock_arousal"`
	ShockInertiaRow   int     `mapstructure:"shock_inertia_row" yaml:"shock_inertia_row"`
	ShockInertiaCol   int     `mapstructure:"shock_inertia_col" yaml:"shock_inertia_col"`
	ShockInertiaValue float64 `mapstructure:"shock_inertia_value" yaml:"shock_inertia_value"`
	ShockRestoreAfter int     `mapstructure:"shock_restore_after" yaml:"shock_restore_after"` // 0 keeps the edit
}

// StoreConfig locates the SQLite database. An empty path disables persistence.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig holds the gRPC listen address.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the reference scenario.
func Default() Config {
	return Config{
		Plant:      plant.DefaultConfig(),
		Controller: ControllerConfig{Config: mpc.DefaultConfig(), Seed: 42},
		Simulation: SimulationConfig{
			Ticks:             60,
			ShockTick:         30,
			ShockArousal:      0.95,
			ShockInertiaRow:   2,
			ShockInertiaCol:   2,
			ShockInertiaValue: 0.6,
		},
		Store:   StoreConfig{Path: "affect.db"},
		Logging: logging.DefaultConfig(),
		Server:  ServerConfig{Addr: ":50061"},
		Gate:    gate.DefaultGateConfig(),
		Eval:    eval.DefaultEvalConfig(),
	}
}

// Scenario turns the settings into a replayable run description.
func (c Config) Scenario() *replay.Fixture {
	f := &replay.Fixture{
		Seed:       c.Controller.Seed,
		Plant:      c.Plant,
		Controller: c.Controller.Config,
		Ticks:      c.Simulation.Ticks,
	}
	if c.Simulation.ShockTick >= 0 {
		f.Events = append(f.Events, c.Simulation.Shock())
	}
	return f
}

// Shock builds the configured shock event.
func (s SimulationConfig) Shock() replay.Event {
	ev := replay.ShockEvent(s.ShockTick)
	ev.State = plant.StateOverride{Arousal: plant.Value(s.ShockArousal)}
	ev.Inertia = []replay.InertiaEdit{{Row: s.ShockInertiaRow, Col: s.ShockInertiaCol, Value: s.ShockInertiaValue}}
	ev.RestoreAfter = s.ShockRestoreAfter
	return ev
}

// Load reads configPath (optional) over the defaults and applies
// environment overrides such as AFFECT_CONTROLLER_SAMPLE_COUNT.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("affect")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Write saves cfg as YAML.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("plant.initial_state.arousal", d.Plant.InitialState.Arousal)
	v.SetDefault("plant.initial_state.valence", d.Plant.InitialState.Valence)
	v.SetDefault("plant.initial_state.habituation", d.Plant.InitialState.Habituation)
	v.SetDefault("plant.inertia", d.Plant.Inertia)
	v.SetDefault("plant.efficacy", d.Plant.Efficacy)
	v.SetDefault("plant.baseline", d.Plant.Baseline)
	v.SetDefault("plant.decay_rate", d.Plant.DecayRate)

	v.SetDefault("controller.target_arousal", d.Controller.TargetArousal)
	v.SetDefault("controller.horizon", d.Controller.Horizon)
	v.SetDefault("controller.sample_count", d.Controller.SampleCount)
	v.SetDefault("controller.control_effort_weight", d.Controller.ControlEffortWeight)
	v.SetDefault("controller.multi_step", d.Controller.MultiStep)
	v.SetDefault("controller.discount", d.Controller.Discount)
	v.SetDefault("controller.workers", d.Controller.Workers)
	v.SetDefault("controller.seed", d.Controller.Seed)

	v.SetDefault("simulation.ticks", d.Simulation.Ticks)
	v.SetDefault("simulation.shock_tick", d.Simulation.ShockTick)
	v.SetDefault("simulation.shock_arousal", d.Simulation.ShockArousal)
	v.SetDefault("simulation.shock_inertia_row", d.Simulation.ShockInertiaRow)
	v.SetDefault("simulation.shock_inertia_col", d.Simulation.ShockInertiaCol)
	v.SetDefault("simulation.shock_inertia_value", d.Simulation.ShockInertiaValue)
	v.SetDefault("simulation.shock_restore_after", d.Simulation.ShockRestoreAfter)

	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.pretty", d.Logging.Pretty)

	v.SetDefault("server.addr", d.Server.Addr)

	v.SetDefault("gate.min_component", d.Gate.MinComponent)
	v.SetDefault("gate.max_component", d.Gate.MaxComponent)
	v.SetDefault("gate.strict", d.Gate.Strict)

	v.SetDefault("eval.flow_band", d.Eval.FlowBand)
	v.SetDefault("eval.max_tracking_rmse", d.Eval.MaxTrackingRMSE)
	v.SetDefault("eval.min_flow_ratio", d.Eval.MinFlowRatio)
	v.SetDefault("eval.skip_ticks", d.Eval.SkipTicks)
}
