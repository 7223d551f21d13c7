// Package configs defines experiment configurations: what environment to
// run, how gameplay is paced, which seats are bots, what the renderer
// preloads, and where results are recorded. Configs are built with chainable
// section setters and serialize to JSON.
package configs

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/brazhou04/interactive-gym/internal/driver"
	"github.com/brazhou04/interactive-gym/internal/input"
	"github.com/brazhou04/interactive-gym/internal/rendering"
)

// EnvironmentSection configures the embedded environment.
type EnvironmentSection struct {
	// EnvName selects a registered built-in environment. Ignored when
	// InitCode is set directly.
	EnvName string `json:"env_name,omitempty"`
	// InitCode is the bootstrap source; it must bind a global env object.
	InitCode string `json:"environment_initialization_code,omitempty"`
	// OnStepCode runs inside the interpreter before each env.step.
	OnStepCode string `json:"on_game_step_code,omitempty"`
	// Packages are installed into the runtime before InitCode runs.
	Packages []string `json:"packages_to_install,omitempty"`
	// PackagesDir is a directory of <name>.js package sources. Required when
	// Packages are listed alongside inline InitCode; registry environments
	// ship their own package sources instead.
	PackagesDir string `json:"packages_dir,omitempty"`
}

// GameplaySection configures pacing and input.
type GameplaySection struct {
	NumEpisodes int     `json:"num_episodes"`
	MaxSteps    int     `json:"max_steps"`
	FPS         float64 `json:"fps"`
	// DefaultAction is used when a participant provides no input this tick.
	DefaultAction any `json:"default_action"`
	// ActionMapping maps key names to action values.
	ActionMapping map[string]any `json:"action_mapping,omitempty"`
	InputMode     input.Mode     `json:"input_mode,omitempty"`
	// ActionSet enumerates the discrete actions bot policies choose from.
	ActionSet []any `json:"action_set,omitempty"`
}

// PolicySection assigns a controller to each participant seat.
type PolicySection struct {
	// Mapping is participant id -> policy spec ("human", "random",
	// "static:<n>", "openai:<model>", "gemini:<model>").
	Mapping map[string]string `json:"policy_mapping,omitempty"`
	// FrameSkip consults bot policies every Nth step, repeating the last
	// action in between. Zero means every step.
	FrameSkip int `json:"frame_skip,omitempty"`
	// Task describes the objective for LLM-backed seats.
	Task string `json:"task,omitempty"`
	// Seed feeds random policies; zero selects a fixed default.
	Seed int64 `json:"seed,omitempty"`
}

// RenderingSection configures the rendering collaborator's canvas and the
// assets it preloads. The driver itself never draws.
type RenderingSection struct {
	GameWidth  int    `json:"game_width,omitempty"`
	GameHeight int    `json:"game_height,omitempty"`
	Background string `json:"background,omitempty"`
	// Preloads are asset specs (atlas/multi-atlas/img objects).
	Preloads []rendering.Object `json:"assets_to_preload,omitempty"`
}

// RecordingSection configures persistence and export.
type RecordingSection struct {
	DatabasePath string `json:"database_path,omitempty"`
	ExportDir    string `json:"export_dir,omitempty"`
	// BonusRate is a decimal string: payout currency per reward point.
	BonusRate string `json:"bonus_rate,omitempty"`
}

// ExperimentSection configures the run as a whole.
type ExperimentSection struct {
	// SessionTimeLimitSec ends the session after this many seconds.
	// Zero disables the limit.
	SessionTimeLimitSec int `json:"session_time_limit_sec,omitempty"`
	// MonitorAddr is the localhost observability listen address.
	MonitorAddr string `json:"monitor_addr,omitempty"`
}

// Config is a complete experiment configuration.
type Config struct {
	Name   string             `json:"name"`
	Env    EnvironmentSection `json:"environment"`
	Game   GameplaySection    `json:"gameplay"`
	Police PolicySection      `json:"policies"`
	Render RenderingSection   `json:"rendering"`
	Record RecordingSection   `json:"recording"`
	Exp    ExperimentSection  `json:"experiment"`
}

// New starts a config with workable gameplay defaults; sections are filled
// with the chainable setters.
func New(name string) *Config {
	return &Config{
		Name: name,
		Game: GameplaySection{
			NumEpisodes: 1,
			MaxSteps:    1000,
			FPS:         30,
		},
	}
}

// Environment sets the environment section.
func (c *Config) Environment(s EnvironmentSection) *Config {
	c.Env = s
	return c
}

// Gameplay sets the gameplay section.
func (c *Config) Gameplay(s GameplaySection) *Config {
	c.Game = s
	return c
}

// Policies sets the policy section.
func (c *Config) Policies(s PolicySection) *Config {
	c.Police = s
	return c
}

// Rendering sets the rendering section.
func (c *Config) Rendering(s RenderingSection) *Config {
	c.Render = s
	return c
}

// Recording sets the recording section.
func (c *Config) Recording(s RecordingSection) *Config {
	c.Record = s
	return c
}

// Experiment sets the experiment section.
func (c *Config) Experiment(s ExperimentSection) *Config {
	c.Exp = s
	return c
}

// Validate checks the config for internal consistency. It mirrors the
// driver's own requirements so misconfiguration surfaces before a runtime
// is booted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("configs: name is required")
	}
	if strings.TrimSpace(c.Env.InitCode) == "" && strings.TrimSpace(c.Env.EnvName) == "" {
		return fmt.Errorf("configs: either environment initialization code or a registered env name is required")
	}
	if c.Game.NumEpisodes <= 0 {
		return fmt.Errorf("configs: num_episodes must be positive, got %d", c.Game.NumEpisodes)
	}
	if c.Game.MaxSteps <= 0 {
		return fmt.Errorf("configs: max_steps must be positive, got %d", c.Game.MaxSteps)
	}
	if c.Game.FPS <= 0 {
		return fmt.Errorf("configs: fps must be positive, got %v", c.Game.FPS)
	}
	switch c.Game.InputMode {
	case "", input.ModePressedKeys, input.ModeSingleKeystroke:
	default:
		return fmt.Errorf("configs: unknown input_mode %q", c.Game.InputMode)
	}
	if c.Police.FrameSkip < 0 {
		return fmt.Errorf("configs: frame_skip must be >= 0, got %d", c.Police.FrameSkip)
	}
	for id, spec := range c.Police.Mapping {
		if strings.TrimSpace(spec) == "" {
			return fmt.Errorf("configs: empty policy spec for participant %q", id)
		}
	}
	if c.Record.BonusRate != "" {
		if _, err := decimal.NewFromString(c.Record.BonusRate); err != nil {
			return fmt.Errorf("configs: bad bonus_rate %q: %w", c.Record.BonusRate, err)
		}
	}
	if c.Exp.SessionTimeLimitSec < 0 {
		return fmt.Errorf("configs: session_time_limit_sec must be >= 0, got %d", c.Exp.SessionTimeLimitSec)
	}
	return nil
}

// BonusRate returns the parsed bonus rate, zero when unset.
func (c *Config) BonusRate() decimal.Decimal {
	if c.Record.BonusRate == "" {
		return decimal.Zero
	}
	rate, err := decimal.NewFromString(c.Record.BonusRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// ToDriver projects the driver's subset of the config. Loader, HUD, and
// logger are runtime collaborators the serialized config cannot carry.
func (c *Config) ToDriver(loader driver.PackageLoader, hud driver.HUD) driver.Config {
	return driver.Config{
		InitCode:    c.Env.InitCode,
		OnStepCode:  c.Env.OnStepCode,
		Packages:    c.Env.Packages,
		Loader:      loader,
		NumEpisodes: c.Game.NumEpisodes,
		MaxSteps:    c.Game.MaxSteps,
		FPS:         c.Game.FPS,
		HUD:         hud,
	}
}

// Load reads a config from a JSON file and validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configs: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("configs: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as indented JSON.
func (c *Config) Save(path string) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("configs: encode: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("configs: write %s: %w", path, err)
	}
	return nil
}
