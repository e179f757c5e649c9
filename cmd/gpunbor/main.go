package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/gpunbor/internal/atom"
	"github.com/san-kum/gpunbor/internal/config"
	"github.com/san-kum/gpunbor/internal/device"
	"github.com/san-kum/gpunbor/internal/nbor"
	"github.com/san-kum/gpunbor/internal/scenario"
	"github.com/san-kum/gpunbor/internal/stats"
	"github.com/san-kum/gpunbor/internal/storage"
)

var (
	dataDir    string
	configFile string
	preset     string
	mode       string
	family     string
	hostForce  string
	scen       string
	atoms      int
	hostAtoms  int
	steps      int
	maxNbors   int
	maxSpecial int
	cutoff     float64
	skin       float64
	ghostFrac  float64
	packing    bool
	precut     bool
	seed       int64
	memLimitMB int
	verbose    bool
	noSave     bool
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gpunbor",
		Short: "accelerator neighbor-list lab",
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".gpunbor", "data directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a neighboring scenario",
		RunE:  runScenario,
	}
	addRunFlags(runCmd)
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "skip persisting the run")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "benchmark every neighboring mode on one scenario",
		RunE:  benchModes,
	}
	addRunFlags(benchCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list built-in presets",
		RunE:  listPresets,
	}

	rootCmd.AddCommand(runCmd, benchCmd, listCmd, exportCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file path (yaml)")
	f.StringVar(&preset, "preset", "", "use preset configuration")
	f.StringVar(&mode, "mode", "device", "neighboring mode (host|device|hostbin)")
	f.StringVar(&family, "family", "cuda", "device family (cuda|opencl)")
	f.StringVar(&hostForce, "host-force", "none", "host force list (none|half|full)")
	f.StringVar(&scen, "scenario", "uniform", "particle scenario (uniform|cluster)")
	f.IntVar(&atoms, "atoms", config.DefaultAtoms, "owned atom count")
	f.IntVar(&hostAtoms, "host-atoms", 0, "atoms kept on host-force styles")
	f.IntVar(&steps, "steps", config.DefaultSteps, "rebuild steps")
	f.IntVar(&maxNbors, "nbors", config.DefaultMaxNbors, "initial per-atom neighbor capacity")
	f.IntVar(&maxSpecial, "special", 0, "max special neighbors per atom (0 disables)")
	f.Float64Var(&cutoff, "cutoff", config.DefaultCutoff, "force cutoff")
	f.Float64Var(&skin, "skin", config.DefaultSkin, "neighbor skin")
	f.Float64Var(&ghostFrac, "ghosts", 0.15, "ghost fraction of owned atoms")
	f.BoolVar(&packing, "packing", true, "packed neighbor layout")
	f.BoolVar(&precut, "precut", false, "defer the cutoff test to the force kernel")
	f.Int64Var(&seed, "seed", 42, "random seed")
	f.IntVar(&memLimitMB, "mem-limit", 0, "device memory limit in MB (0 unlimited)")
}

// resolveConfig layers preset, config file and changed flags, in that
// order of increasing precedence.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		p := config.GetPreset(preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)",
				preset, config.ListPresets())
		}
		*cfg = *p
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	def := preset == "" && configFile == ""
	if def || changed("mode") {
		cfg.Mode = mode
	}
	if def || changed("family") {
		cfg.Family = family
	}
	if def || changed("host-force") {
		cfg.HostForce = hostForce
	}
	if def || changed("scenario") {
		cfg.Scenario = scen
	}
	if def || changed("atoms") {
		cfg.Atoms = atoms
	}
	if def || changed("host-atoms") {
		cfg.HostAtoms = hostAtoms
	}
	if def || changed("steps") {
		cfg.Steps = steps
	}
	if def || changed("nbors") {
		cfg.MaxNbors = maxNbors
	}
	if def || changed("special") {
		cfg.MaxSpecial = maxSpecial
	}
	if def || changed("cutoff") {
		cfg.Cutoff = cutoff
	}
	if def || changed("skin") {
		cfg.Skin = skin
	}
	if def || changed("ghosts") {
		cfg.GhostFrac = ghostFrac
	}
	if def || changed("packing") {
		cfg.Packing = packing
	}
	if def || changed("precut") {
		cfg.Precut = precut
	}
	if def || changed("seed") {
		cfg.Seed = seed
	}
	if def || changed("mem-limit") {
		cfg.MemLimitMB = memLimitMB
	}
	if cfg.Tuning.BlockNborBuild == 0 {
		cfg.Tuning = config.Tuning{
			BlockCell2D:    config.DefaultBlock2D,
			BlockCellID:    config.DefaultBlockID,
			BlockNborBuild: config.DefaultBlockNbor,
		}
	}
	return cfg, nil
}

func newLogger() *zap.Logger {
	zc := zap.NewProductionConfig()
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// runResult is one scenario execution's outcome.
type runResult struct {
	Mode     string
	Family   string
	Counts   []int32
	Summary  stats.Summary
	Rebuilds int
	GPUBytes float64
	NborSec  float64
	KernSec  float64
	Elapsed  time.Duration
}

func parseFamily(s string) (device.Family, error) {
	switch s {
	case "cuda":
		return device.FamilyCUDA, nil
	case "opencl":
		return device.FamilyOpenCL, nil
	default:
		return 0, fmt.Errorf("unknown device family: %q", s)
	}
}

// chainSpecial builds a linear bonded topology over the owned atoms:
// each atom's 1-2 partners are its chain neighbors, with no 1-3 or 1-4
// terms. Enough structure to drive the marking pass.
func chainSpecial(n, maxSpecial int) (nspecial [][3]int32, special [][]int32) {
	nspecial = make([][3]int32, n)
	special = make([][]int32, n)
	for i := 0; i < n; i++ {
		var s []int32
		if i > 0 {
			s = append(s, int32(i-1))
		}
		if i < n-1 {
			s = append(s, int32(i+1))
		}
		if len(s) > maxSpecial {
			s = s[:maxSpecial]
		}
		nspecial[i] = [3]int32{int32(len(s)), int32(len(s)), int32(len(s))}
		special[i] = s
	}
	return nspecial, special
}

// runOnce executes one scenario with its own device and kernel cache and
// returns the final step's neighbor statistics.
func runOnce(cfg *config.Config, logger *zap.Logger) (*runResult, error) {
	m, err := nbor.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	hf, err := nbor.ParseHostForce(cfg.HostForce)
	if err != nil {
		return nil, err
	}
	fam, err := parseFamily(cfg.Family)
	if err != nil {
		return nil, err
	}

	dev := device.New(device.Config{
		Family:   fam,
		MemLimit: int64(cfg.MemLimitMB) << 20,
	}, logger)
	defer dev.Close()

	cache := &nbor.KernelCache{}
	if err := cache.Compile(dev, m); err != nil {
		return nil, err
	}
	defer cache.Clear()

	sc, err := scenario.New(cfg.Scenario, cfg.Atoms, cfg.GhostFrac,
		cfg.CellSize(), cfg.Seed)
	if err != nil {
		return nil, err
	}

	hostInum := 0
	if m != nbor.ModeHostBuild && hf != nbor.HostForceNone {
		hostInum = cfg.HostAtoms
	}
	inum := sc.Nlocal - hostInum
	if inum <= 0 {
		return nil, fmt.Errorf("host atoms %d leave no device atoms of %d",
			hostInum, sc.Nlocal)
	}

	set, err := atom.NewSet(dev, sc.Nall)
	if err != nil {
		return nil, err
	}
	defer set.Clear()

	st := &nbor.Store{}
	st.SetPacking(cfg.Packing)
	st.SetCellSize(cfg.CellSize())
	tune := nbor.TuneParams{
		BlockCell2D:    cfg.Tuning.BlockCell2D,
		BlockCellID:    cfg.Tuning.BlockCellID,
		BlockNborBuild: cfg.Tuning.BlockNborBuild,
	}
	if !st.Init(cache, inum, hostInum, cfg.MaxNbors, cfg.MaxSpecial,
		dev, m, hf, cfg.Precut, tune) {
		return nil, fmt.Errorf("neighbor storage allocation failed")
	}
	defer st.Clear()

	var tags []int32
	var nspecial [][3]int32
	var special [][]int32
	if cfg.MaxSpecial > 0 && m != nbor.ModeHostBuild {
		tags = sc.Tags()
		nspecial, special = chainSpecial(inum+hostInum, cfg.MaxSpecial)
	}

	start := time.Now()
	rebuilds := 0
	for step := 0; step < cfg.Steps; step++ {
		if step > 0 {
			sc.Jitter(cfg.Skin * 0.5)
		}

		if m == nbor.ModeHostBuild {
			ilist, numj, firstneigh := sc.BuildHostList(cfg.CellSize())
			mn := st.MaxNborLoop(inum, numj, ilist)
			if !st.Resize(inum, mn) {
				return nil, fmt.Errorf("neighbor storage resize failed at step %d", step)
			}
			if err := st.GetHost(inum, ilist, numj, firstneigh,
				cfg.Tuning.BlockNborBuild); err != nil {
				return nil, err
			}
			continue
		}

		copy(set.X, sc.X)
		set.Upload(dev.Stream())
		for {
			mn, ok := st.BuildNborList(inum, hostInum, sc.Nall, set,
				sc.Lo, sc.Hi, tags, nspecial, special)
			if !ok {
				return nil, fmt.Errorf("neighbor build failed at step %d", step)
			}
			if mn <= st.MaxNbors() {
				break
			}
			// Overflow dropped entries; grow and rebuild before the
			// list is used.
			if !st.Resize(inum, mn) {
				return nil, fmt.Errorf("neighbor storage resize failed at step %d", step)
			}
			rebuilds++
		}
	}
	elapsed := time.Since(start)

	counts := st.Counts(inum)
	return &runResult{
		Mode:     cfg.Mode,
		Family:   cfg.Family,
		Counts:   counts,
		Summary:  stats.Summarize(counts),
		Rebuilds: rebuilds,
		GPUBytes: st.GPUBytes(),
		NborSec:  st.TimeNbor.Seconds(),
		KernSec:  st.TimeKernel.Seconds(),
		Elapsed:  elapsed,
	}, nil
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger()
	defer logger.Sync()

	fmt.Println(titleStyle.Render(fmt.Sprintf("neighboring %d atoms, %s scenario, %s mode",
		cfg.Atoms, cfg.Scenario, cfg.Mode)))

	res, err := runOnce(cfg, logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tFAMILY\tATOMS\tSTEPS\tMAX\tMEAN\tP99\tREBUILDS\tGPU MB\tTIME")
	fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1f\t%d\t%d\t%.1f\t%v\n",
		res.Mode, res.Family, res.Summary.Atoms, cfg.Steps,
		res.Summary.Max, res.Summary.Mean, res.Summary.P99,
		res.Rebuilds, res.GPUBytes/(1<<20), res.Elapsed.Round(time.Millisecond))
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println()
	hist := stats.Histogram(res.Counts, 24)
	if hist != nil {
		fmt.Println(asciigraph.Plot(hist,
			asciigraph.Height(8),
			asciigraph.Width(72),
			asciigraph.Caption("neighbor count distribution"),
		))
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("transfer %.3fs  kernels %.3fs",
		res.NborSec, res.KernSec)))
	if res.Rebuilds > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("%d overflow rebuilds; consider --nbors %d",
			res.Rebuilds, res.Summary.Max)))
	}

	if noSave {
		return nil
	}
	store := storage.New(dataDir)
	if err := store.Init(); err != nil {
		return err
	}
	runID, err := store.Save(storage.RunMetadata{
		Scenario: cfg.Scenario,
		Mode:     cfg.Mode,
		Family:   cfg.Family,
		Seed:     cfg.Seed,
		Atoms:    cfg.Atoms,
		Steps:    cfg.Steps,
		Stats: map[string]float64{
			"max":         float64(res.Summary.Max),
			"mean":        res.Summary.Mean,
			"p99":         float64(res.Summary.P99),
			"rebuilds":    float64(res.Rebuilds),
			"gpu_bytes":   res.GPUBytes,
			"nbor_sec":    res.NborSec,
			"kernel_sec":  res.KernSec,
			"elapsed_sec": res.Elapsed.Seconds(),
		},
	}, res.Counts)
	if err != nil {
		return err
	}
	fmt.Println(dimStyle.Render("run id: " + runID))
	return nil
}

func benchModes(cmd *cobra.Command, args []string) error {
	base, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger()
	defer logger.Sync()

	modes := []string{"host", "device", "hostbin"}
	fmt.Println(titleStyle.Render(fmt.Sprintf("benchmarking %d atoms, %s scenario, %s family",
		base.Atoms, base.Scenario, base.Family)))

	var mu sync.Mutex
	results := make(map[string]*runResult)
	skipped := make(map[string]error)

	var g errgroup.Group
	for _, m := range modes {
		cfg := *base
		cfg.Mode = m
		g.Go(func() error {
			res, err := runOnce(&cfg, logger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				skipped[cfg.Mode] = err
				return nil
			}
			results[cfg.Mode] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tMAX\tMEAN\tP99\tTRANSFER\tKERNELS\tGPU MB\tTIME\tBUILDS/SEC")
	for _, m := range modes {
		res, ok := results[m]
		if !ok {
			fmt.Fprintf(w, "%s\tskipped: %v\n", m, skipped[m])
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%.1f\t%d\t%.3fs\t%.3fs\t%.1f\t%v\t%.1f\n",
			m, res.Summary.Max, res.Summary.Mean, res.Summary.P99,
			res.NborSec, res.KernSec, res.GPUBytes/(1<<20),
			res.Elapsed.Round(time.Millisecond),
			float64(base.Steps)/res.Elapsed.Seconds())
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	runs, err := store.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tMODE\tFAMILY\tTIME\tATOMS\tSTEPS\tMAX")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%.0f\n",
			run.ID, run.Scenario, run.Mode, run.Family,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Atoms, run.Steps, run.Stats["max"])
	}
	return w.Flush()
}

func exportRun(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	meta, err := store.Load(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCENARIO\tMODE\tFAMILY\tATOMS\tNBORS\tSTEPS")
	for _, name := range config.ListPresets() {
		p := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			name, p.Scenario, p.Mode, p.Family, p.Atoms, p.MaxNbors, p.Steps)
	}
	return w.Flush()
}
