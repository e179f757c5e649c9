package nbor

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/san-kum/gpunbor/internal/atom"
	"github.com/san-kum/gpunbor/internal/device"
)

func newTestStore(t *testing.T, fam device.Family, mode Mode, hf HostForce,
	packing bool, precut bool, inum, hostInum, maxNbors, maxSpecial int,
	cellSize float64) (*Store, *device.Device) {
	t.Helper()

	dev := device.New(device.Config{Family: fam, Workers: 2}, nil)
	cache := &KernelCache{}
	if err := cache.Compile(dev, mode); err != nil {
		dev.Close()
		t.Fatalf("compile: %v", err)
	}

	st := &Store{}
	st.SetPacking(packing)
	st.SetCellSize(cellSize)
	if !st.Init(cache, inum, hostInum, maxNbors, maxSpecial, dev, mode, hf,
		precut, DefaultTuneParams()) {
		dev.Close()
		t.Fatal("store init failed")
	}
	t.Cleanup(func() {
		st.Clear()
		cache.Clear()
		dev.Close()
	})
	return st, dev
}

func uploadAtoms(t *testing.T, dev *device.Device, pos [][3]float64) *atom.Set {
	t.Helper()
	set, err := atom.NewSet(dev, len(pos))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(set.Clear)
	for i, p := range pos {
		set.SetPos(i, p[0], p[1], p[2], 1)
	}
	set.Upload(dev.Stream())
	return set
}

// bruteNeighbors mirrors the kernel's distance expression exactly so
// boundary pairs resolve the same way.
func bruteNeighbors(pos [][3]float64, i int, cutsq float64) map[int32]bool {
	out := make(map[int32]bool)
	for j := range pos {
		if j == i {
			continue
		}
		rx := pos[i][0] - pos[j][0]
		ry := pos[i][1] - pos[j][1]
		rz := pos[i][2] - pos[j][2]
		if rx*rx+ry*ry+rz*rz > cutsq {
			continue
		}
		out[int32(j)] = true
	}
	return out
}

func randomBox(n int, edge float64, seed int64) [][3]float64 {
	rng := rand.New(rand.NewSource(seed))
	pos := make([][3]float64, n)
	for i := range pos {
		pos[i] = [3]float64{
			rng.Float64() * edge,
			rng.Float64() * edge,
			rng.Float64() * edge,
		}
	}
	return pos
}

func TestInitRequiresCompiledCache(t *testing.T) {
	dev := device.New(device.Config{Workers: 1}, nil)
	defer dev.Close()

	st := &Store{}
	if st.Init(nil, 10, 0, 8, 0, dev, ModeDeviceBuild, HostForceNone,
		false, DefaultTuneParams()) {
		t.Error("init accepted a nil cache")
	}

	cache := &KernelCache{}
	if st.Init(cache, 10, 0, 8, 0, dev, ModeDeviceBuild, HostForceNone,
		false, DefaultTuneParams()) {
		t.Error("init accepted an uncompiled cache")
	}

	if err := cache.Compile(dev, ModeHostBuild); err != nil {
		t.Fatal(err)
	}
	defer cache.Clear()
	if st.Init(cache, 10, 0, 8, 0, dev, ModeDeviceBuild, HostForceNone,
		false, DefaultTuneParams()) {
		t.Error("init accepted a cache compiled for another mode")
	}
}

func TestResizeGrowth(t *testing.T) {
	st, _ := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		true, false, 100, 0, 50, 0, 1.0)

	if st.MaxAtoms() != 100 || st.MaxNbors() != 50 {
		t.Fatalf("initial capacity %d/%d", st.MaxAtoms(), st.MaxNbors())
	}

	// Fitting request is a no-op.
	if !st.Resize(100, 50) {
		t.Fatal("fitting resize failed")
	}
	if st.MaxAtoms() != 100 || st.MaxNbors() != 50 {
		t.Errorf("fitting resize changed capacity to %d/%d",
			st.MaxAtoms(), st.MaxNbors())
	}

	// Only the exceeding quantity grows, with 10% headroom rounded up.
	if !st.Resize(150, 50) {
		t.Fatal("resize failed")
	}
	if st.MaxAtoms() != 165 {
		t.Errorf("expected atom capacity 165, got %d", st.MaxAtoms())
	}
	if st.MaxNbors() != 50 {
		t.Errorf("neighbor capacity grew to %d without exceeding", st.MaxNbors())
	}

	if !st.Resize(150, 61) {
		t.Fatal("resize failed")
	}
	if st.MaxNbors() != 68 {
		t.Errorf("expected neighbor capacity 68, got %d", st.MaxNbors())
	}
	if st.MaxAtoms() != 165 {
		t.Errorf("atom capacity changed to %d", st.MaxAtoms())
	}
}

func TestResizeHostGrowth(t *testing.T) {
	st, _ := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceFull,
		true, false, 40, 10, 16, 0, 1.0)

	if !st.ResizeHost(40, 10, 16) {
		t.Fatal("fitting resize failed")
	}
	if st.MaxHost() != 10 {
		t.Errorf("fitting resize changed host capacity to %d", st.MaxHost())
	}

	if !st.ResizeHost(40, 20, 16) {
		t.Fatal("resize failed")
	}
	if st.MaxHost() != 22 {
		t.Errorf("expected host capacity 22, got %d", st.MaxHost())
	}
	if st.MaxAtoms() != 40 || st.MaxNbors() != 16 {
		t.Errorf("unrelated capacities changed: %d/%d", st.MaxAtoms(), st.MaxNbors())
	}
}

func TestMaxNborLoop(t *testing.T) {
	st := &Store{}
	numj := []int32{3, 7, 1, 2}
	ilist := []int32{0, 1, 2, 3}

	if mn := st.MaxNborLoop(4, numj, ilist); mn != 7 {
		t.Errorf("expected 7, got %d", mn)
	}
	// ilist indirection: slots name atoms in any order.
	if mn := st.MaxNborLoop(3, numj, []int32{2, 0, 1}); mn != 7 {
		t.Errorf("expected 7 through permuted ilist, got %d", mn)
	}
	// Only listed atoms participate.
	if mn := st.MaxNborLoop(2, numj, []int32{0, 2}); mn != 3 {
		t.Errorf("expected 3 over subset, got %d", mn)
	}
	if mn := st.MaxNborLoop(0, numj, ilist); mn != 0 {
		t.Errorf("expected 0 for empty list, got %d", mn)
	}
}

func TestBytesPerAtom(t *testing.T) {
	packed, _ := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		true, false, 10, 0, 8, 0, 1.0)
	if got := packed.BytesPerAtom(8); got != (8+3)*4 {
		t.Errorf("packed: expected %d bytes, got %d", (8+3)*4, got)
	}

	padded, _ := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		false, false, 10, 0, 8, 0, 1.0)
	if got := padded.BytesPerAtom(8); got != (8+3+8+2)*4 {
		t.Errorf("padded: expected %d bytes, got %d", (8+3+8+2)*4, got)
	}
}

func TestGPUBytesStagingAllowance(t *testing.T) {
	host, hdev := newTestStore(t, device.FamilyCUDA, ModeHostBuild, HostForceNone,
		true, false, 50, 0, 16, 0, 1.0)
	if got, want := host.GPUBytes(), float64(hdev.Allocated())+2*IJSize*4; got != want {
		t.Errorf("host-build: expected %.0f bytes, got %.0f", want, got)
	}

	devb, ddev := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		true, false, 50, 0, 16, 0, 1.0)
	if got, want := devb.GPUBytes(), float64(ddev.Allocated()); got != want {
		t.Errorf("device-build: expected %.0f bytes, got %.0f", want, got)
	}
}

func getHostRoundTrip(t *testing.T, packing bool) {
	pos := randomBox(80, 4.0, 7)
	cutsq := 1.0

	inum := len(pos)
	ilist := make([]int32, inum)
	numj := make([]int32, inum)
	firstneigh := make([][]int32, inum)
	maxN := 0
	for i := range pos {
		ilist[i] = int32(i)
		for j := range bruteNeighbors(pos, i, cutsq) {
			firstneigh[i] = append(firstneigh[i], j)
		}
		numj[i] = int32(len(firstneigh[i]))
		if len(firstneigh[i]) > maxN {
			maxN = len(firstneigh[i])
		}
	}

	st, _ := newTestStore(t, device.FamilyCUDA, ModeHostBuild, HostForceNone,
		packing, false, inum, 0, maxN, 0, 1.0)
	if err := st.GetHost(inum, ilist, numj, firstneigh, 64); err != nil {
		t.Fatal(err)
	}

	counts := st.Counts(inum)
	for i := 0; i < inum; i++ {
		if counts[i] != numj[i] {
			t.Fatalf("atom %d: expected count %d, got %d", i, numj[i], counts[i])
		}
		want := bruteNeighbors(pos, i, cutsq)
		got := st.NeighborsOf(i)
		if len(got) != len(want) {
			t.Fatalf("atom %d: expected %d neighbors, got %d", i, len(want), len(got))
		}
		for _, j := range got {
			if !want[j] {
				t.Fatalf("atom %d: unexpected neighbor %d", i, j)
			}
		}
	}
}

func TestGetHostRoundTripPacked(t *testing.T)   { getHostRoundTrip(t, true) }
func TestGetHostRoundTripUnpacked(t *testing.T) { getHostRoundTrip(t, false) }

func TestGetHostStagingWrap(t *testing.T) {
	// Four atoms whose runs together overflow one staging half twice,
	// forcing both halves to cycle with a synchronization in between.
	const inum = 4
	const perAtom = 40000
	ilist := []int32{0, 1, 2, 3}
	numj := []int32{perAtom, perAtom, perAtom, perAtom}
	firstneigh := make([][]int32, inum)
	for i := range firstneigh {
		run := make([]int32, perAtom)
		for k := range run {
			run[k] = int32(i*perAtom + k)
		}
		firstneigh[i] = run
	}

	st, _ := newTestStore(t, device.FamilyCUDA, ModeHostBuild, HostForceNone,
		true, false, inum, 0, perAtom, 0, 1.0)
	if err := st.GetHost(inum, ilist, numj, firstneigh, 64); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < inum; i++ {
		got := st.NeighborsOf(i)
		if len(got) != perAtom {
			t.Fatalf("atom %d: expected %d entries, got %d", i, perAtom, len(got))
		}
		if got[0] != int32(i*perAtom) || got[perAtom-1] != int32(i*perAtom+perAtom-1) {
			t.Fatalf("atom %d: run boundaries %d..%d", i, got[0], got[perAtom-1])
		}
	}
}

func TestGetHostWrongMode(t *testing.T) {
	st, _ := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		true, false, 4, 0, 8, 0, 1.0)
	err := st.GetHost(1, []int32{0}, []int32{0}, [][]int32{nil}, 64)
	if !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
}

func TestGetHostCapacityError(t *testing.T) {
	st, _ := newTestStore(t, device.FamilyCUDA, ModeHostBuild, HostForceNone,
		true, false, 2, 0, 2, 0, 1.0)
	ilist := []int32{0, 1}
	numj := []int32{4, 1}
	firstneigh := [][]int32{{5, 6, 7, 8}, {0}}
	err := st.GetHost(2, ilist, numj, firstneigh, 64)
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}

	// After the caller resizes, the same list goes through.
	if !st.Resize(2, 4) {
		t.Fatal("resize failed")
	}
	if err := st.GetHost(2, ilist, numj, firstneigh, 64); err != nil {
		t.Fatal(err)
	}
	if got := st.CountOf(0); got != 4 {
		t.Errorf("expected count 4, got %d", got)
	}
}

func deviceBuildMatchesBrute(t *testing.T, fam device.Family, mode Mode) {
	pos := randomBox(120, 5.0, 3)
	cellSize := 1.0
	cutsq := cellSize * cellSize
	inum := len(pos)

	st, dev := newTestStore(t, fam, mode, HostForceNone,
		true, false, inum, 0, 64, 0, cellSize)
	set := uploadAtoms(t, dev, pos)

	mn, ok := st.BuildNborList(inum, 0, inum, set,
		[3]float64{0, 0, 0}, [3]float64{5, 5, 5}, nil, nil, nil)
	if !ok {
		t.Fatal("build failed")
	}
	if mn > st.MaxNbors() {
		t.Fatalf("unexpected overflow: %d > %d", mn, st.MaxNbors())
	}

	counts := st.Counts(inum)
	for i := 0; i < inum; i++ {
		want := bruteNeighbors(pos, i, cutsq)
		if int(counts[i]) != len(want) {
			t.Fatalf("atom %d: expected %d neighbors, got %d",
				i, len(want), counts[i])
		}
		for _, j := range st.NeighborsOf(i) {
			if !want[NeighIndex(j)] {
				t.Fatalf("atom %d: unexpected neighbor %d", i, j)
			}
		}
	}
}

func TestDeviceBuildMatchesBruteForce(t *testing.T) {
	deviceBuildMatchesBrute(t, device.FamilyCUDA, ModeDeviceBuild)
}

func TestHostBinBuildMatchesBruteForce(t *testing.T) {
	deviceBuildMatchesBrute(t, device.FamilyOpenCL, ModeDeviceBuildHostBin)
}

func TestOverflowReportsTrueCountThenRebuilds(t *testing.T) {
	// Twenty atoms in one tight clump: every atom has 19 neighbors.
	const n = 20
	rng := rand.New(rand.NewSource(11))
	pos := make([][3]float64, n)
	for i := range pos {
		pos[i] = [3]float64{
			0.4 + rng.Float64()*0.2,
			0.4 + rng.Float64()*0.2,
			0.4 + rng.Float64()*0.2,
		}
	}

	st, dev := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		true, false, n, 0, 5, 0, 1.0)
	set := uploadAtoms(t, dev, pos)

	mn, ok := st.BuildNborList(n, 0, n, set,
		[3]float64{0, 0, 0}, [3]float64{1, 1, 1}, nil, nil, nil)
	if !ok {
		t.Fatal("build failed")
	}
	if mn != n-1 {
		t.Fatalf("expected true max %d reported past capacity, got %d", n-1, mn)
	}
	counts := st.Counts(n)
	for i, c := range counts {
		if c != n-1 {
			t.Fatalf("atom %d: true count %d not reported", i, c)
		}
	}
	// Stored entries are capped at the old capacity.
	if got := len(st.NeighborsOf(0)); got != 5 {
		t.Fatalf("expected 5 stored entries before resize, got %d", got)
	}

	if !st.Resize(n, mn) {
		t.Fatal("resize failed")
	}
	mn, ok = st.BuildNborList(n, 0, n, set,
		[3]float64{0, 0, 0}, [3]float64{1, 1, 1}, nil, nil, nil)
	if !ok {
		t.Fatal("rebuild failed")
	}
	if mn > st.MaxNbors() {
		t.Fatalf("still overflowing after resize: %d > %d", mn, st.MaxNbors())
	}
	if got := len(st.NeighborsOf(0)); got != n-1 {
		t.Fatalf("expected complete list of %d after rebuild, got %d", n-1, got)
	}
}

func TestPrecutDefersCutoff(t *testing.T) {
	// Same bin, separation past the cutoff: only the deferred-cutoff
	// store keeps the pair.
	pos := [][3]float64{{0.05, 0.05, 0.05}, {0.95, 0.95, 0.95}}

	strict, sdev := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		true, false, 2, 0, 4, 0, 1.0)
	sset := uploadAtoms(t, sdev, pos)
	mn, ok := strict.BuildNborList(2, 0, 2, sset,
		[3]float64{0, 0, 0}, [3]float64{1, 1, 1}, nil, nil, nil)
	if !ok {
		t.Fatal("build failed")
	}
	if mn != 0 {
		t.Errorf("cutoff test kept a distant pair: max count %d", mn)
	}

	deferred, ddev := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		true, true, 2, 0, 4, 0, 1.0)
	dset := uploadAtoms(t, ddev, pos)
	mn, ok = deferred.BuildNborList(2, 0, 2, dset,
		[3]float64{0, 0, 0}, [3]float64{1, 1, 1}, nil, nil, nil)
	if !ok {
		t.Fatal("build failed")
	}
	if mn != 1 {
		t.Errorf("deferred cutoff dropped a bin neighbor: max count %d", mn)
	}
}

func TestSpecialMarkingPreservesLayout(t *testing.T) {
	// Three atoms on a line, all pairs inside the cutoff. Bonds chain
	// 0-1-2, so 1-2 terms mark as class 1 and the 0..2 pair stays plain.
	pos := [][3]float64{{0.2, 0.5, 0.5}, {0.7, 0.5, 0.5}, {1.2, 0.5, 0.5}}
	tags := []int32{0, 1, 2}
	nspecial := [][3]int32{{1, 1, 1}, {2, 2, 2}, {1, 1, 1}}
	special := [][]int32{{1}, {0, 2}, {1}}

	st, dev := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		true, false, 3, 0, 4, 2, 2.0)
	set := uploadAtoms(t, dev, pos)

	mn, ok := st.BuildNborList(3, 0, 3, set,
		[3]float64{0, 0, 0}, [3]float64{2, 2, 2}, tags, nspecial, special)
	if !ok {
		t.Fatal("build failed")
	}
	if mn != 2 {
		t.Fatalf("expected every atom to see 2 neighbors, got max %d", mn)
	}

	// Counts are untouched by marking.
	for i, c := range st.Counts(3) {
		if c != 2 {
			t.Fatalf("atom %d: marking changed count to %d", i, c)
		}
	}

	marks := func(slot int) map[int32]int32 {
		out := make(map[int32]int32)
		for _, e := range st.NeighborsOf(slot) {
			out[NeighIndex(e)] = SpecialType(e)
		}
		return out
	}

	m0 := marks(0)
	if m0[1] != 1 {
		t.Errorf("atom 0: bonded neighbor 1 marked %d", m0[1])
	}
	if m0[2] != 0 {
		t.Errorf("atom 0: non-bonded neighbor 2 marked %d", m0[2])
	}
	m1 := marks(1)
	if m1[0] != 1 || m1[2] != 1 {
		t.Errorf("atom 1: bonded neighbors marked %d and %d", m1[0], m1[2])
	}
	m2 := marks(2)
	if m2[1] != 1 || m2[0] != 0 {
		t.Errorf("atom 2: marks %d and %d", m2[1], m2[0])
	}
}

func TestSpecialClasses(t *testing.T) {
	// One central atom with three bonded partners at increasing bond
	// distance: 1-2, 1-3 and 1-4 terms map to classes 1, 2 and 3.
	pos := [][3]float64{
		{0.5, 0.5, 0.5},
		{0.8, 0.5, 0.5},
		{0.5, 0.8, 0.5},
		{0.5, 0.5, 0.8},
	}
	tags := []int32{0, 1, 2, 3}
	nspecial := [][3]int32{{1, 2, 3}, {1, 1, 1}, {0, 1, 1}, {0, 0, 1}}
	special := [][]int32{{1, 2, 3}, {0}, {0}, {0}}

	st, dev := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		true, false, 4, 0, 4, 3, 1.0)
	set := uploadAtoms(t, dev, pos)

	if _, ok := st.BuildNborList(4, 0, 4, set,
		[3]float64{0, 0, 0}, [3]float64{1, 1, 1}, tags, nspecial, special); !ok {
		t.Fatal("build failed")
	}

	want := map[int32]int32{1: 1, 2: 2, 3: 3}
	for _, e := range st.NeighborsOf(0) {
		if got := SpecialType(e); got != want[NeighIndex(e)] {
			t.Errorf("neighbor %d: expected class %d, got %d",
				NeighIndex(e), want[NeighIndex(e)], got)
		}
	}
}

func TestHostForceMirror(t *testing.T) {
	// Four atoms in one clump; the last two are host-force atoms.
	pos := [][3]float64{
		{0.4, 0.5, 0.5},
		{0.5, 0.5, 0.5},
		{0.6, 0.5, 0.5},
		{0.7, 0.5, 0.5},
	}

	full, fdev := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceFull,
		true, false, 2, 2, 8, 0, 1.0)
	fset := uploadAtoms(t, fdev, pos)
	if _, ok := full.BuildNborList(2, 2, 4, fset,
		[3]float64{0, 0, 0}, [3]float64{1, 1, 1}, nil, nil, nil); !ok {
		t.Fatal("build failed")
	}

	ilist := full.HostIlist(2)
	if ilist[0] != 2 || ilist[1] != 3 {
		t.Fatalf("host ilist %v", ilist)
	}
	jlist := full.HostJlist(2)
	if len(jlist[0]) != 3 || len(jlist[1]) != 3 {
		t.Fatalf("full host lists sized %d and %d", len(jlist[0]), len(jlist[1]))
	}

	half, hdev := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceHalf,
		true, false, 2, 2, 8, 0, 1.0)
	hset := uploadAtoms(t, hdev, pos)
	if _, ok := half.BuildNborList(2, 2, 4, hset,
		[3]float64{0, 0, 0}, [3]float64{1, 1, 1}, nil, nil, nil); !ok {
		t.Fatal("build failed")
	}

	// Half lists keep only j > i for host atoms: atom 2 keeps 3, atom 3
	// keeps nothing.
	jlist = half.HostJlist(2)
	if len(jlist[0]) != 1 || jlist[0][0] != 3 {
		t.Errorf("host atom 2 half list %v", jlist[0])
	}
	if len(jlist[1]) != 0 {
		t.Errorf("host atom 3 half list %v", jlist[1])
	}
}

func TestCopyUnpacked(t *testing.T) {
	// Padded layout only: mirrors the leading matrix region into the
	// packed buffer for styles that read both.
	st, dev := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		false, false, 4, 0, 8, 0, 1.0)
	set := uploadAtoms(t, dev, [][3]float64{
		{0.4, 0.5, 0.5}, {0.5, 0.5, 0.5}, {0.6, 0.5, 0.5}, {0.7, 0.5, 0.5},
	})
	if _, ok := st.BuildNborList(4, 0, 4, set,
		[3]float64{0, 0, 0}, [3]float64{1, 1, 1}, nil, nil, nil); !ok {
		t.Fatal("build failed")
	}

	st.CopyUnpacked(4, 3)
	dev.Stream().Finish()

	n := 4 * (3 + 2)
	want := make([]int32, n)
	got := make([]int32, n)
	device.CopyIntToHost(dev.Stream(), want, st.devNbor, 0, n)
	device.CopyIntToHost(dev.Stream(), got, st.devPacked, 0, n)
	dev.Stream().Finish()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("element %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestBuildRejectedOnHostStore(t *testing.T) {
	st, dev := newTestStore(t, device.FamilyCUDA, ModeHostBuild, HostForceNone,
		true, false, 4, 0, 8, 0, 1.0)
	set := uploadAtoms(t, dev, [][3]float64{{0, 0, 0}})
	if _, ok := st.BuildNborList(1, 0, 1, set,
		[3]float64{0, 0, 0}, [3]float64{1, 1, 1}, nil, nil, nil); ok {
		t.Error("host-build store accepted a device build")
	}
}

func TestInitAllocFailure(t *testing.T) {
	dev := device.New(device.Config{Workers: 1, MemLimit: 1024}, nil)
	defer dev.Close()
	cache := &KernelCache{}
	if err := cache.Compile(dev, ModeDeviceBuild); err != nil {
		t.Fatal(err)
	}
	defer cache.Clear()

	st := &Store{}
	st.SetPacking(true)
	st.SetCellSize(1.0)
	if st.Init(cache, 10000, 0, 100, 0, dev, ModeDeviceBuild, HostForceNone,
		false, DefaultTuneParams()) {
		t.Fatal("init succeeded past the memory limit")
	}
	// A failed init must release everything it grabbed.
	if dev.Allocated() != 0 {
		t.Errorf("failed init leaked %d bytes", dev.Allocated())
	}
}

func TestClearAndReuse(t *testing.T) {
	st, dev := newTestStore(t, device.FamilyCUDA, ModeDeviceBuild, HostForceNone,
		true, false, 50, 0, 16, 0, 1.0)
	cache := st.shared

	st.Clear()
	st.Clear()
	if dev.Allocated() != 0 {
		t.Errorf("clear left %d bytes allocated", dev.Allocated())
	}

	if !st.Init(cache, 25, 0, 8, 0, dev, ModeDeviceBuild, HostForceNone,
		false, DefaultTuneParams()) {
		t.Fatal("reinit failed")
	}
	if st.MaxAtoms() != 25 || st.MaxNbors() != 8 {
		t.Errorf("reinit capacities %d/%d", st.MaxAtoms(), st.MaxNbors())
	}
}
