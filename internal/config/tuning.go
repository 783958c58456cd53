package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for analysis tuning
// parameters. The schema matches the /api/config endpoint so the same JSON
// can be used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Metrics params
	ZoneAreaM2 *float64 `json:"zone_area_m2,omitempty"`

	// Queue params
	ServiceRate *float64 `json:"service_rate,omitempty"` // persons per minute

	// Flow params
	CounterFlowAngle *float64 `json:"counter_flow_angle,omitempty"` // degrees

	// Session params
	TickInterval *string `json:"tick_interval,omitempty"` // duration string like "200ms"

	// Alert thresholds
	DensityWarning     *float64 `json:"density_warning,omitempty"`  // persons/m2
	DensityCritical    *float64 `json:"density_critical,omitempty"` // persons/m2
	VelocityWarning    *float64 `json:"velocity_warning,omitempty"` // m/s
	VelocityCritical   *float64 `json:"velocity_critical,omitempty"`
	QueueWaitWarning   *float64 `json:"queue_wait_warning,omitempty"` // minutes
	QueueWaitCritical  *float64 `json:"queue_wait_critical,omitempty"`
	AlertCooldown      *string  `json:"alert_cooldown,omitempty"`      // duration string like "60s"
	CongestionDuration *string  `json:"congestion_duration,omitempty"` // duration string like "120s"

	// Simulate-mode params
	SimulatedPersons *int `json:"simulated_persons,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches for the file in the current directory and
// common parent directories. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ZoneAreaM2 != nil && *c.ZoneAreaM2 <= 0 {
		return fmt.Errorf("zone_area_m2 must be positive, got %f", *c.ZoneAreaM2)
	}

	if c.ServiceRate != nil && *c.ServiceRate < 0.1 {
		return fmt.Errorf("service_rate must be at least 0.1, got %f", *c.ServiceRate)
	}

	if c.CounterFlowAngle != nil {
		if *c.CounterFlowAngle < 90 || *c.CounterFlowAngle > 180 {
			return fmt.Errorf("counter_flow_angle must be between 90 and 180, got %f", *c.CounterFlowAngle)
		}
	}

	if c.TickInterval != nil && *c.TickInterval != "" {
		if _, err := time.ParseDuration(*c.TickInterval); err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
	}

	if c.AlertCooldown != nil && *c.AlertCooldown != "" {
		if _, err := time.ParseDuration(*c.AlertCooldown); err != nil {
			return fmt.Errorf("invalid alert_cooldown '%s': %w", *c.AlertCooldown, err)
		}
	}

	if c.CongestionDuration != nil && *c.CongestionDuration != "" {
		if _, err := time.ParseDuration(*c.CongestionDuration); err != nil {
			return fmt.Errorf("invalid congestion_duration '%s': %w", *c.CongestionDuration, err)
		}
	}

	if c.DensityWarning != nil && c.DensityCritical != nil {
		if *c.DensityWarning >= *c.DensityCritical {
			return fmt.Errorf("density_warning %f must be below density_critical %f", *c.DensityWarning, *c.DensityCritical)
		}
	}

	if c.VelocityWarning != nil && c.VelocityCritical != nil {
		if *c.VelocityWarning <= *c.VelocityCritical {
			return fmt.Errorf("velocity_warning %f must be above velocity_critical %f", *c.VelocityWarning, *c.VelocityCritical)
		}
	}

	if c.QueueWaitWarning != nil && c.QueueWaitCritical != nil {
		if *c.QueueWaitWarning >= *c.QueueWaitCritical {
			return fmt.Errorf("queue_wait_warning %f must be below queue_wait_critical %f", *c.QueueWaitWarning, *c.QueueWaitCritical)
		}
	}

	if c.SimulatedPersons != nil && *c.SimulatedPersons < 0 {
		return fmt.Errorf("simulated_persons must be non-negative, got %d", *c.SimulatedPersons)
	}

	return nil
}

// GetZoneAreaM2 returns the zone_area_m2 value or the default.
func (c *TuningConfig) GetZoneAreaM2() float64 {
	if c.ZoneAreaM2 == nil {
		return 100.0 // default
	}
	return *c.ZoneAreaM2
}

// GetServiceRate returns the service_rate value or the default.
func (c *TuningConfig) GetServiceRate() float64 {
	if c.ServiceRate == nil {
		return 2.0 // persons per minute
	}
	return *c.ServiceRate
}

// GetCounterFlowAngle returns the counter_flow_angle value or the default.
func (c *TuningConfig) GetCounterFlowAngle() float64 {
	if c.CounterFlowAngle == nil {
		return 120.0
	}
	return *c.CounterFlowAngle
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *TuningConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 200 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil {
		return 200 * time.Millisecond // default on parse error
	}
	return d
}

// GetDensityWarning returns the density_warning value or the default.
func (c *TuningConfig) GetDensityWarning() float64 {
	if c.DensityWarning == nil {
		return 2.5
	}
	return *c.DensityWarning
}

// GetDensityCritical returns the density_critical value or the default.
func (c *TuningConfig) GetDensityCritical() float64 {
	if c.DensityCritical == nil {
		return 3.5
	}
	return *c.DensityCritical
}

// GetVelocityWarning returns the velocity_warning value or the default.
func (c *TuningConfig) GetVelocityWarning() float64 {
	if c.VelocityWarning == nil {
		return 0.5
	}
	return *c.VelocityWarning
}

// GetVelocityCritical returns the velocity_critical value or the default.
func (c *TuningConfig) GetVelocityCritical() float64 {
	if c.VelocityCritical == nil {
		return 0.3
	}
	return *c.VelocityCritical
}

// GetQueueWaitWarning returns the queue_wait_warning value or the default.
func (c *TuningConfig) GetQueueWaitWarning() float64 {
	if c.QueueWaitWarning == nil {
		return 45.0
	}
	return *c.QueueWaitWarning
}

// GetQueueWaitCritical returns the queue_wait_critical value or the default.
func (c *TuningConfig) GetQueueWaitCritical() float64 {
	if c.QueueWaitCritical == nil {
		return 60.0
	}
	return *c.QueueWaitCritical
}

// GetAlertCooldown parses and returns the AlertCooldown as a time.Duration.
func (c *TuningConfig) GetAlertCooldown() time.Duration {
	if c.AlertCooldown == nil || *c.AlertCooldown == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.AlertCooldown)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetCongestionDuration parses and returns the CongestionDuration as a
// time.Duration.
func (c *TuningConfig) GetCongestionDuration() time.Duration {
	if c.CongestionDuration == nil || *c.CongestionDuration == "" {
		return 120 * time.Second // default
	}
	d, err := time.ParseDuration(*c.CongestionDuration)
	if err != nil {
		return 120 * time.Second // default on parse error
	}
	return d
}

// GetSimulatedPersons returns the simulated_persons value or the default.
func (c *TuningConfig) GetSimulatedPersons() int {
	if c.SimulatedPersons == nil {
		return 25
	}
	return *c.SimulatedPersons
}
