package session

import "github.com/jacentio/arbor/model"

// Config holds configuration for a Session.
type Config struct {
	// DefaultMode is used by SaveDefault and DeleteDefault.
	// Default: model.EngineEnforced
	DefaultMode model.ConstraintMode

	// ValidateUnique runs the unique validator before engine-enforced writes.
	// Default: true
	ValidateUnique bool
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		DefaultMode:    model.EngineEnforced,
		ValidateUnique: true,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.DefaultMode != model.EngineEnforced && c.DefaultMode != model.StoreEnforced {
		c.DefaultMode = model.EngineEnforced
	}
}
