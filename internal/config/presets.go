package config

var Presets = map[string]*Config{
	"host": {
		Scenario: "uniform", Mode: "host", Family: "cuda", Packing: true,
		Cutoff: DefaultCutoff, Skin: DefaultSkin,
		Atoms: 4000, GhostFrac: 0.15, MaxNbors: 64, Steps: 20,
		Tuning: Tuning{BlockCell2D: 8, BlockCellID: 128, BlockNborBuild: 64},
	},
	"device": {
		Scenario: "uniform", Mode: "device", Family: "cuda",
		Cutoff: DefaultCutoff, Skin: DefaultSkin,
		Atoms: 4000, GhostFrac: 0.15, MaxNbors: 64, Steps: 20,
		Tuning: Tuning{BlockCell2D: 8, BlockCellID: 128, BlockNborBuild: 64},
	},
	"hostbin": {
		Scenario: "uniform", Mode: "hostbin", Family: "opencl",
		Cutoff: DefaultCutoff, Skin: DefaultSkin,
		Atoms: 4000, GhostFrac: 0.15, MaxNbors: 64, Steps: 20,
		Tuning: Tuning{BlockCell2D: 8, BlockCellID: 128, BlockNborBuild: 64},
	},
	"dense": {
		Scenario: "cluster", Mode: "device", Family: "cuda",
		Cutoff: DefaultCutoff, Skin: DefaultSkin,
		Atoms: 8000, GhostFrac: 0.1, MaxNbors: 128, Steps: 10,
		Tuning: Tuning{BlockCell2D: 8, BlockCellID: 128, BlockNborBuild: 64},
	},
}

func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	return names
}
