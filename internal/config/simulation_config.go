// File: internal/config/simulation_config.go
// SimulationConfig tunes the built-in arena the `run` command drives when no
// external simulation is attached. None of it affects the bridge itself.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SimulationConfig holds the parameters of the demo arena.
type SimulationConfig struct {
	MaxHealth float64 `mapstructure:"max_health" yaml:"max_health"`
	MaxFood   float64 `mapstructure:"max_food" yaml:"max_food"`
	// Speed is the distance covered per tick while moving.
	Speed float64 `mapstructure:"speed" yaml:"speed"`
	// AttackReach is the maximum distance at which an attack lands.
	AttackReach  float64 `mapstructure:"attack_reach" yaml:"attack_reach"`
	AttackDamage float64 `mapstructure:"attack_damage" yaml:"attack_damage"`
	// TargetDamage is what the target deals per tick while within reach.
	TargetDamage float64 `mapstructure:"target_damage" yaml:"target_damage"`
	// Seed drives target placement. Zero picks a time based seed.
	Seed int64 `mapstructure:"seed" yaml:"seed"`
}

func setSimulationDefaults(v *viper.Viper) {
	v.SetDefault("simulation.max_health", 20.0)
	v.SetDefault("simulation.max_food", 20.0)
	v.SetDefault("simulation.speed", 0.2)
	v.SetDefault("simulation.attack_reach", 3.0)
	v.SetDefault("simulation.attack_damage", 4.0)
	v.SetDefault("simulation.target_damage", 0.05)
	v.SetDefault("simulation.seed", 0)
}

// Validate checks the simulation parameters.
func (s *SimulationConfig) Validate() error {
	if s.MaxHealth <= 0 {
		return fmt.Errorf("max_health must be positive")
	}
	if s.MaxFood <= 0 {
		return fmt.Errorf("max_food must be positive")
	}
	if s.Speed < 0 || s.AttackReach < 0 || s.AttackDamage < 0 || s.TargetDamage < 0 {
		return fmt.Errorf("speed, attack_reach, attack_damage and target_damage must not be negative")
	}
	return nil
}
