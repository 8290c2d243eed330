// Package config loads the experiment driver's configuration, modeled
// on the teacher's own YAML config: a root struct of nested sections,
// loaded via gopkg.in/yaml.v3, overlaid with a .env/.env.local file via
// joho/godotenv, with human-friendly scalar units for durations and
// distances.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Policy names the three pluggable assignment policies.
type Policy string

const (
	PolicyGreedy         Policy = "greedy"
	PolicyRoundRobin     Policy = "round_robin"
	PolicyLoadBalancing  Policy = "load_balancing"
)

// ErrUnknownPolicy is returned when a config names an assignment
// policy other than greedy, round_robin, or load_balancing.
var ErrUnknownPolicy = errors.New("unknown assignment policy")

// Validate checks cfg's Policy against the three recognized values.
func (c *Config) Validate() error {
	switch c.Policy {
	case PolicyGreedy, PolicyRoundRobin, PolicyLoadBalancing:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, c.Policy)
	}
}

// UrgencyWeights holds the urgency -> weight mapping as loaded from
// config. It is not consulted by scoring: leaders always use the fixed
// weights in model.UrgencyWeight, so overriding it has no effect.
type UrgencyWeights struct {
	Low      float64 `yaml:"low"`
	Medium   float64 `yaml:"medium"`
	Critical float64 `yaml:"critical"`
}

// Config is the root experiment configuration.
type Config struct {
	Seed           uint64         `yaml:"seed"`
	NumPOIs        int            `yaml:"num_pois"`
	NumLeaders     int            `yaml:"num_leaders"`
	NumFollowers   int            `yaml:"num_followers"`
	BufferSize     int            `yaml:"buffer_size"` // M
	AreaSide       Distance       `yaml:"area_side"`
	LeaderSpeed    float64        `yaml:"leader_speed"`
	FollowerSpeed  float64        `yaml:"follower_speed"`
	CameraReach    Distance       `yaml:"camera_reach"`
	DetectionRadius Distance      `yaml:"detection_radius"`
	CommRange      Distance       `yaml:"comm_range"`
	Duration       Duration       `yaml:"duration"`
	Policy         Policy         `yaml:"policy"`
	UrgencyWeights UrgencyWeights `yaml:"urgency_weights"`
	EncounterGap   Duration       `yaml:"encounter_gap"`
	AssignCooldown Duration       `yaml:"assignment_cooldown"`
	CoordMatchEps  float64        `yaml:"coord_match_eps"`
	AssignTick     Duration       `yaml:"assign_tick"`
	HelloTick      Duration       `yaml:"hello_tick"`
	SatelliteTick  Duration       `yaml:"satellite_tick"`
	TelemetryTick  Duration       `yaml:"telemetry_tick"`
	Latency        Duration       `yaml:"latency"`

	BumpFreeOnAssignedDeliver bool `yaml:"bump_free_on_assigned_deliver"`
	MaxAssignPerEncounter     int  `yaml:"max_assign_per_encounter"`

	Log LogConfig `yaml:"log"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the spec's fixed constants and reasonable
// experiment defaults.
func DefaultConfig() *Config {
	return &Config{
		Seed:            1,
		NumPOIs:         20,
		NumLeaders:      1,
		NumFollowers:    3,
		BufferSize:      5,
		AreaSide:        Distance(1200),
		LeaderSpeed:     20,
		FollowerSpeed:   30,
		CameraReach:     Distance(150),
		DetectionRadius: Distance(30),
		CommRange:       Distance(2000),
		Duration:        Duration(600 * 1e9), // 600s, as ns
		Policy:          PolicyGreedy,
		UrgencyWeights:  UrgencyWeights{Low: 0.2, Medium: 0.5, Critical: 1.0},
		EncounterGap:    Duration(1.2 * 1e9),
		AssignCooldown:  Duration(0.1 * 1e9),
		CoordMatchEps:   0.2,
		AssignTick:      Duration(1 * 1e9),
		HelloTick:       Duration(1 * 1e9),
		SatelliteTick:   Duration(0.5 * 1e9),
		TelemetryTick:   Duration(0.1 * 1e9),
		Latency:         Duration(0),
		MaxAssignPerEncounter: math.MaxInt32,
		Log:             LogConfig{Level: "INFO"},
	}
}

// Load reads a YAML config from path, then overlays EQCSIM_* variables
// from the process environment (loading .env.local/.env via godotenv
// first so a checked-in file can seed them for scripted experiment
// sweeps). CLI flags, applied by the caller after Load, take final
// precedence over both the file and the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	_ = godotenv.Load(".env.local", ".env")
	if err := applyEnvOverlay(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverlay overlays recognized EQCSIM_* environment variables
// onto cfg, for scripted sweeps (e.g. experiments.py-style K/rho
// grids) that vary a run by environment rather than by flag.
func applyEnvOverlay(cfg *Config) error {
	if v, ok := os.LookupEnv("EQCSIM_SEED"); ok {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid EQCSIM_SEED %q: %w", v, err)
		}
		cfg.Seed = seed
	}
	if v, ok := os.LookupEnv("EQCSIM_DURATION"); ok {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid EQCSIM_DURATION %q: %w", v, err)
		}
		cfg.Duration = Duration(secs * 1e9)
	}
	if v, ok := os.LookupEnv("EQCSIM_POLICY"); ok {
		cfg.Policy = Policy(v)
	}
	return nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
