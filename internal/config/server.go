package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Server holds process-level settings read from CROWDWATCH_* environment
// variables. Tuning parameters live in TuningConfig; these only say where
// the service listens and where it finds its inputs.
type Server struct {
	Addr       string `envconfig:"ADDR" default:":8080"`
	DataDir    string `envconfig:"DATA_DIR" default:"data"`
	TuningPath string `envconfig:"TUNING_PATH" default:""`
	Simulate   bool   `envconfig:"SIMULATE" default:"false"`
}

// LoadServer reads the server settings from the environment.
func LoadServer() (Server, error) {
	var s Server
	if err := envconfig.Process("crowdwatch", &s); err != nil {
		return Server{}, fmt.Errorf("read environment config: %w", err)
	}
	return s, nil
}
