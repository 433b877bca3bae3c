package main

/*------------------------------------------------------------------
 *
 * Purpose:	Optional YAML config file backing the -c flag, so the pipeline
 *		description can be pinned in a file instead of retyped on the
 *		command line. Sample rate (realtime mode), device selection,
 *		PTT, rig-control and control-protocol settings have no
 *		command-line flags and are set only here. Read once at
 *		startup; never touched after construction.
 *
 *----------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Pipeline   string  `yaml:"pipeline"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`

	Device string `yaml:"device,omitempty"`

	PTTChip string `yaml:"ptt_chip,omitempty"`
	PTTLine int    `yaml:"ptt_line,omitempty"`

	RigModel            int     `yaml:"rig_model,omitempty"`
	RigPort             string  `yaml:"rig_port,omitempty"`
	RigBaud             int     `yaml:"rig_baud,omitempty"`
	RigPassbandCenterHz float64 `yaml:"rig_passband_center_hz,omitempty"`

	ControlAddr string `yaml:"control_addr,omitempty"`
}

func loadConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return &cfg, nil
}
