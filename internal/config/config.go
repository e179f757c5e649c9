package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCutoff    = 2.5
	DefaultSkin      = 0.3
	DefaultMaxNbors  = 64
	DefaultAtoms     = 4000
	DefaultSteps     = 20
	DefaultBlockID   = 128
	DefaultBlockNbor = 64
	DefaultBlock2D   = 8
)

type Config struct {
	Scenario   string  `yaml:"scenario"`
	Mode       string  `yaml:"mode"`
	HostForce  string  `yaml:"host_force"`
	Family     string  `yaml:"family"`
	Packing    bool    `yaml:"packing"`
	Precut     bool    `yaml:"precut"`
	Cutoff     float64 `yaml:"cutoff"`
	Skin       float64 `yaml:"skin"`
	Atoms      int     `yaml:"atoms"`
	GhostFrac  float64 `yaml:"ghost_frac"`
	HostAtoms  int     `yaml:"host_atoms"`
	MaxNbors   int     `yaml:"max_nbors"`
	MaxSpecial int     `yaml:"max_special"`
	Steps      int     `yaml:"steps"`
	Seed       int64   `yaml:"seed"`
	MemLimitMB int     `yaml:"mem_limit_mb"`
	Tuning     Tuning  `yaml:"tuning"`
}

type Tuning struct {
	BlockCell2D    int `yaml:"block_cell_2d"`
	BlockCellID    int `yaml:"block_cell_id"`
	BlockNborBuild int `yaml:"block_nbor_build"`
}

func DefaultConfig() *Config {
	return &Config{
		Scenario:  "uniform",
		Mode:      "device",
		HostForce: "none",
		Family:    "cuda",
		Cutoff:    DefaultCutoff,
		Skin:      DefaultSkin,
		Atoms:     DefaultAtoms,
		GhostFrac: 0.15,
		MaxNbors:  DefaultMaxNbors,
		Steps:     DefaultSteps,
		Tuning: Tuning{
			BlockCell2D:    DefaultBlock2D,
			BlockCellID:    DefaultBlockID,
			BlockNborBuild: DefaultBlockNbor,
		},
	}
}

// CellSize is the binning cell edge: cutoff plus skin, so a built list
// stays valid for a few steps of particle motion.
func (c *Config) CellSize() float64 { return c.Cutoff + c.Skin }

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
