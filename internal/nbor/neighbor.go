package nbor

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/san-kum/gpunbor/internal/atom"
	"github.com/san-kum/gpunbor/internal/device"
)

// headerRows is the matrix prefix: atom index, neighbor count, packed
// run offset.
const headerRows = 3

// growth is the headroom factor applied to every capacity being grown.
// It amortizes reallocation across steps where counts drift slowly
// upward instead of reallocating every single step.
const growth = 1.10

// Store owns every device and host buffer describing the neighbor
// relation for one domain partition. It is driven from a single logical
// thread of control; resize must never race an in-flight build or
// ingest.
type Store struct {
	shared *KernelCache
	dev    *device.Device

	// Device neighbor matrix, column-major by atom with pitch MaxAtoms.
	devNbor *device.IntVec
	// Separate packed copy, allocated only when packing is off so
	// by-atom unpacking has a target (doubles neighbor memory).
	devPacked *device.IntVec
	// Host staging halves for ingesting host-built lists.
	hostPacked []int32
	// Host scratch for counts and accumulated offsets.
	hostAcc []int32

	// Host-copy set, allocated when hostInum capacity is nonzero.
	hostNbor    []int32
	devHostNbor *device.IntVec
	devHostNumj *device.IntVec
	hostIlist   []int32
	hostJlist   [][]int32

	// Special-neighbor tables.
	devNspecial *device.IntVec
	devSpecial  *device.IntVec
	devSpecialT *device.IntVec

	// Cell-binning transients, grown on demand, recomputed every build.
	devCellID     *device.IntVec
	devPermute    *device.IntVec
	devCellCounts *device.IntVec

	// TimeNbor covers transfers, TimeKernel the build/unpack kernels.
	TimeNbor   device.Timer
	TimeKernel device.Timer

	allocated   bool
	usePacking  bool
	allocPacked bool
	precut      bool
	mode        Mode
	hostForce   HostForce
	tune        TuneParams

	maxAtoms   int
	maxNbors   int
	maxHost    int
	maxSpecial int
	nborPitch  int
	cellSize   float64

	gpuBytes  int64
	cBytes    int64
	cellBytes int64
}

// SetPacking selects the packed layout. With packing off, twice the
// neighbor memory is reserved so lists can be unpacked by atom for
// coalesced access. Must be called before Init.
func (s *Store) SetPacking(use bool) { s.usePacking = use }

// SetCellSize sets the binning cell edge (cutoff plus skin).
func (s *Store) SetCellSize(size float64) { s.cellSize = size }

// CellSize returns the binning cell edge.
func (s *Store) CellSize() float64 { return s.cellSize }

// Init clears any old data and sets up for a new run. inum and hostInum
// are initial capacities for device and host-copy atom slots, maxNbors
// the initial per-atom neighbor capacity. maxSpecial > 0 enables
// special-neighbor handling. Returns false on allocation failure; the
// caller decides whether to abort or retry smaller.
func (s *Store) Init(cache *KernelCache, inum, hostInum, maxNbors, maxSpecial int,
	dev *device.Device, mode Mode, hostForce HostForce, precut bool,
	tune TuneParams) bool {

	s.Clear()
	if cache == nil || !cache.Compiled() || cache.Mode() != mode {
		if dev != nil {
			dev.Log().Error("neighbor store init with unready kernel cache",
				zap.String("mode", mode.String()))
		}
		return false
	}

	s.shared = cache
	s.dev = dev
	s.mode = mode
	s.hostForce = hostForce
	s.precut = precut
	s.tune = tune
	s.maxSpecial = maxSpecial

	s.maxAtoms = maxInt(inum, 1)
	s.maxNbors = maxInt(maxNbors, 1)
	s.maxHost = hostInum

	if mode == ModeHostBuild {
		s.hostPacked = make([]int32, 2*IJSize)
	}
	return s.alloc()
}

// Resize grows device atom and neighbor capacity when the request does
// not fit. Growth is destroy-and-recreate: buffer contents are not
// preserved and must be rebuilt by the caller. A fitting request is a
// no-op.
func (s *Store) Resize(inum, maxNbor int) bool {
	if inum <= s.maxAtoms && maxNbor <= s.maxNbors {
		return true
	}
	if inum > s.maxAtoms {
		s.maxAtoms = ceilGrow(inum)
	}
	if maxNbor > s.maxNbors {
		s.maxNbors = ceilGrow(maxNbor)
	}
	return s.alloc()
}

// ResizeHost additionally grows host-copy atom capacity.
func (s *Store) ResizeHost(inum, hostInum, maxNbor int) bool {
	if inum <= s.maxAtoms && maxNbor <= s.maxNbors && hostInum <= s.maxHost {
		return true
	}
	if inum > s.maxAtoms {
		s.maxAtoms = ceilGrow(inum)
	}
	if hostInum > s.maxHost {
		s.maxHost = ceilGrow(hostInum)
	}
	if maxNbor > s.maxNbors {
		s.maxNbors = ceilGrow(maxNbor)
	}
	return s.alloc()
}

func ceilGrow(n int) int {
	return int(math.Ceil(float64(n) * growth))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// alloc frees and recreates every capacity-sized buffer. Contents are
// undefined afterwards.
func (s *Store) alloc() bool {
	s.freeBuffers()

	nt := s.maxAtoms + s.maxHost
	var err error
	grab := func(n int) *device.IntVec {
		if err != nil || n == 0 {
			return nil
		}
		v, e := device.AllocInt(s.dev, n)
		if e != nil {
			err = e
		}
		return v
	}

	s.devNbor = grab((s.maxNbors + headerRows) * s.maxAtoms)
	if !s.usePacking {
		s.devPacked = grab((s.maxNbors + 2) * s.maxAtoms)
		s.allocPacked = true
	} else {
		s.allocPacked = false
	}
	s.hostAcc = make([]int32, 2*nt)
	if s.maxHost > 0 {
		s.devHostNbor = grab(s.maxNbors * s.maxHost)
		s.devHostNumj = grab(s.maxHost)
		s.hostNbor = make([]int32, s.maxNbors*s.maxHost)
		s.hostIlist = make([]int32, nt)
		s.hostJlist = make([][]int32, s.maxHost)
	}
	if s.maxSpecial > 0 {
		s.devNspecial = grab(3 * nt)
		s.devSpecial = grab(s.maxSpecial * nt)
		s.devSpecialT = grab(s.maxSpecial * nt)
	}

	if err != nil {
		s.dev.Log().Warn("neighbor buffer allocation failed",
			zap.Int("max_atoms", s.maxAtoms),
			zap.Int("max_nbors", s.maxNbors),
			zap.Int("max_host", s.maxHost),
			zap.Error(err))
		s.freeBuffers()
		return false
	}

	s.gpuBytes = s.devNbor.Bytes() + s.devPacked.Bytes() +
		s.devHostNbor.Bytes() + s.devHostNumj.Bytes() +
		s.devNspecial.Bytes() + s.devSpecial.Bytes() + s.devSpecialT.Bytes()
	s.nborPitch = s.maxAtoms
	s.allocated = true
	return true
}

func (s *Store) freeBuffers() {
	s.devNbor.Free()
	s.devPacked.Free()
	s.devHostNbor.Free()
	s.devHostNumj.Free()
	s.devNspecial.Free()
	s.devSpecial.Free()
	s.devSpecialT.Free()
	s.devNbor, s.devPacked = nil, nil
	s.devHostNbor, s.devHostNumj = nil, nil
	s.devNspecial, s.devSpecial, s.devSpecialT = nil, nil, nil
	s.hostNbor, s.hostIlist, s.hostJlist = nil, nil, nil
	s.gpuBytes = 0
}

// Clear releases every device and host buffer. Safe to call repeatedly.
func (s *Store) Clear() {
	s.freeBuffers()
	s.devCellID.Free()
	s.devPermute.Free()
	s.devCellCounts.Free()
	s.devCellID, s.devPermute, s.devCellCounts = nil, nil, nil
	s.hostPacked = nil
	s.hostAcc = nil
	s.cBytes, s.cellBytes = 0, 0
	s.TimeNbor.Zero()
	s.TimeKernel.Zero()
	s.allocated = false
}

// NborPitch returns the element stride between matrix rows.
func (s *Store) NborPitch() int { return s.nborPitch }

// MaxAtoms returns the current device atom-slot capacity.
func (s *Store) MaxAtoms() int { return s.maxAtoms }

// MaxNbors returns the current per-atom neighbor capacity.
func (s *Store) MaxNbors() int { return s.maxNbors }

// MaxHost returns the current host-copy atom capacity.
func (s *Store) MaxHost() int { return s.maxHost }

// Mode returns the neighboring mode the store was initialized with.
func (s *Store) Mode() Mode { return s.mode }

// BytesPerAtom reports the device bytes one atom slot costs at the
// given neighbor capacity, following the allocation shape.
func (s *Store) BytesPerAtom(maxNbors int) int {
	per := maxNbors + headerRows
	if !s.usePacking {
		per += maxNbors + 2
	}
	return per * 4
}

// HostMemoryUsage reports bytes held in host-side buffers.
func (s *Store) HostMemoryUsage() float64 {
	b := 4 * (len(s.hostPacked) + len(s.hostAcc) + len(s.hostNbor) + len(s.hostIlist))
	b += 24 * len(s.hostJlist) // slice headers
	return float64(b)
}

// GPUBytes reports device bytes in use. Host-build neighboring adds a
// fixed two-buffer staging allowance that models the transient transfer
// buffers even though they are not part of the persistent set.
func (s *Store) GPUBytes() float64 {
	res := float64(s.gpuBytes + s.cBytes + s.cellBytes)
	if s.mode == ModeHostBuild {
		res += 2 * IJSize * 4
	}
	return res
}

// MaxNborLoop scans a host neighbor-count array and returns the maximum
// count for any listed atom.
func (s *Store) MaxNborLoop(inum int, numj, ilist []int32) int {
	mn := 0
	for i := 0; i < inum; i++ {
		if n := int(numj[ilist[i]]); n > mn {
			mn = n
		}
	}
	return mn
}

// CopyUnpacked mirrors the leading inum*(maxj+2) elements of the matrix
// into the packed storage area, for styles that consume both layouts.
func (s *Store) CopyUnpacked(inum, maxj int) {
	if !s.allocPacked {
		return
	}
	device.CopyIntDeviceToDevice(s.dev.Stream(), s.devPacked, s.devNbor,
		inum*(maxj+2))
}

// packedTarget returns the buffer and base element offset where packed
// neighbor runs live: a separate buffer when one is allocated, otherwise
// the region of the matrix buffer past the header rows.
func (s *Store) packedTarget() (*device.IntVec, int) {
	if s.allocPacked {
		return s.devPacked, 0
	}
	return s.devNbor, headerRows * s.maxAtoms
}

// GetHost transcodes a host-built (ilist, numj, firstneigh) triple into
// device storage, uploading neighbors through the two staging halves so
// peak host staging stays bounded. Storage must already fit the list;
// an undersized store is a programming error reported as ErrCapacity
// before anything is uploaded.
func (s *Store) GetHost(inum int, ilist, numj []int32, firstneigh [][]int32,
	blockSize int) error {

	if s.mode != ModeHostBuild {
		return fmt.Errorf("%w: get_host requires host-build mode, have %s",
			ErrUnknownMode, s.mode)
	}
	mn := s.MaxNborLoop(inum, numj, ilist)
	if inum > s.maxAtoms || mn > s.maxNbors {
		return fmt.Errorf("%w: inum %d cap %d, max nbors %d cap %d",
			ErrCapacity, inum, s.maxAtoms, mn, s.maxNbors)
	}

	stream := s.dev.Stream()
	s.TimeNbor.Start(stream)

	// Header rows: slot i holds atom ilist[i], its count, and its run
	// offset in packed storage.
	offset := int32(0)
	for i := 0; i < inum; i++ {
		a := ilist[i]
		s.hostAcc[i] = numj[a]
		s.hostAcc[inum+i] = offset
		offset += numj[a]
	}
	pitch := s.nborPitch
	device.CopyIntToDevice(stream, s.devNbor, 0, ilist[:inum])
	device.CopyIntToDevice(stream, s.devNbor, pitch, s.hostAcc[:inum])
	device.CopyIntToDevice(stream, s.devNbor, 2*pitch, s.hostAcc[inum:2*inum])

	// Neighbor payload through alternating staging halves. A half is
	// reused only after the stream has drained the copy that read it.
	target, base := s.packedTarget()
	half, fill, pending := 0, 0, 0
	devOff := base
	flush := func() {
		if fill == 0 {
			return
		}
		device.CopyIntToDevice(stream, target,
			devOff, s.hostPacked[half*IJSize:half*IJSize+fill])
		devOff += fill
		fill = 0
		half ^= 1
		pending++
		if pending == 2 {
			stream.Finish()
			pending = 0
		}
	}
	for i := 0; i < inum; i++ {
		a := ilist[i]
		for _, j := range firstneigh[a][:numj[a]] {
			s.hostPacked[half*IJSize+fill] = j
			fill++
			if fill == IJSize {
				flush()
			}
		}
	}
	flush()
	s.TimeNbor.Stop(stream)

	if !s.usePacking {
		s.TimeKernel.Start(stream)
		stream.Launch(s.shared.unpack, inum, blockSize,
			s.devNbor.Data(), s.devPacked.Data(), pitch)
		s.TimeKernel.Stop(stream)
	}
	stream.Finish()
	return nil
}

// BuildNborList builds the neighbor list on the device with cell
// binning over [subLo, subHi]. Positions for all nall particles must
// already be resident in atoms.DevX. Returns the true maximum neighbor
// count observed; when it exceeds MaxNbors the overflowing entries were
// dropped and the caller must resize and rebuild before trusting the
// list. ok=false reports allocation failure.
func (s *Store) BuildNborList(inum, hostInum, nall int, atoms *atom.Set,
	subLo, subHi [3]float64, tags []int32,
	nspecial [][3]int32, special [][]int32) (int, bool) {

	if s.mode == ModeHostBuild {
		s.dev.Log().Error("device build requested on a host-build store")
		return 0, false
	}
	if !s.ResizeHost(inum, hostInum, s.maxNbors) {
		return 0, false
	}

	// Bin grid sized to the cell edge with one ghost layer each side.
	ncellx := int(math.Ceil((subHi[0]-subLo[0])/s.cellSize)) + 2
	ncelly := int(math.Ceil((subHi[1]-subLo[1])/s.cellSize)) + 2
	ncellz := int(math.Ceil((subHi[2]-subLo[2])/s.cellSize)) + 2
	ncells := ncellx * ncelly * ncellz
	if !s.resizeCells(nall, ncells) {
		return 0, false
	}

	stream := s.dev.Stream()
	nt := s.maxAtoms + s.maxHost
	lo := []float64{subLo[0], subLo[1], subLo[2]}

	s.TimeKernel.Start(stream)

	withSpecial := s.maxSpecial > 0 && len(special) > 0
	if withSpecial {
		s.uploadSpecial(stream, inum+hostInum, nt, nspecial, special)
	}

	switch s.mode {
	case ModeDeviceBuild:
		stream.Launch(s.shared.cellID, nall, s.tune.BlockCellID,
			atoms.DevX.Data(), s.devCellID.Data(), lo, s.cellSize,
			ncellx, ncelly, ncellz)
		stream.LaunchSerial(s.shared.cellCounts, 1,
			s.devCellID.Data(), s.devCellCounts.Data(), s.devPermute.Data(),
			nall, ncells)
	case ModeDeviceBuildHostBin:
		counts, permute := hostBin(atoms, nall, lo, s.cellSize,
			ncellx, ncelly, ncellz)
		device.CopyIntToDevice(stream, s.devCellCounts, 0, counts)
		device.CopyIntToDevice(stream, s.devPermute, 0, permute)
	}

	cutsq := -1.0
	if !s.precut {
		cutsq = s.cellSize * s.cellSize
	}
	var hostNborData, hostNumjData []int32
	if s.devHostNbor != nil {
		hostNborData = s.devHostNbor.Data()
		hostNumjData = s.devHostNumj.Data()
	}
	stream.Launch(s.shared.build, nall, s.tune.BlockNborBuild,
		atoms.DevX.Data(), s.devCellCounts.Data(), s.devPermute.Data(),
		s.devNbor.Data(), hostNborData, hostNumjData,
		s.nborPitch, s.maxNbors, inum, hostInum, s.maxHost,
		lo, s.cellSize, ncellx, ncelly, ncellz, cutsq,
		s.hostForce == HostForceHalf)

	if withSpecial {
		stream.Launch(s.shared.special, inum+hostInum, s.tune.BlockNborBuild,
			s.devNbor.Data(), hostNborData, hostNumjData,
			s.nborPitch, s.maxNbors, inum, s.maxHost,
			tags, s.devNspecial.Data(), s.devSpecial.Data(), nt)
	}
	s.TimeKernel.Stop(stream)

	if s.hostForce != HostForceNone && hostInum > 0 {
		s.TimeNbor.Start(stream)
		stream.Launch(s.shared.transpose, s.maxNbors*s.maxHost,
			s.tune.BlockCell2D*s.tune.BlockCell2D,
			s.hostNbor, s.devHostNbor.Data(), s.maxNbors, s.maxHost)
		device.CopyIntToHost(stream, s.hostAcc, s.devHostNumj, 0, hostInum)
		s.TimeNbor.Stop(stream)
	}

	// Counts come back to decide resize-or-not; this is the only point
	// the host blocks on.
	device.CopyIntToHost(stream, s.hostAcc[nt:], s.devNbor, s.nborPitch, inum)
	stream.Finish()

	mn := 0
	for i := 0; i < inum; i++ {
		if n := int(s.hostAcc[nt+i]); n > mn {
			mn = n
		}
	}
	for h := 0; h < hostInum; h++ {
		cnt := int(s.hostAcc[h])
		if cnt > mn {
			mn = cnt
		}
		if cnt > s.maxNbors {
			cnt = s.maxNbors
		}
		s.hostIlist[h] = int32(inum + h)
		s.hostJlist[h] = s.hostNbor[h*s.maxNbors : h*s.maxNbors+cnt]
	}
	return mn, true
}

// resizeCells grows the binning transients; contents are rebuilt every
// build so growth never preserves them.
func (s *Store) resizeCells(nall, ncells int) bool {
	var err error
	regrow := func(v **device.IntVec, n int) {
		if err != nil || (*v).Len() >= n {
			return
		}
		(*v).Free()
		*v, err = device.AllocInt(s.dev, n)
	}
	regrow(&s.devCellID, nall)
	regrow(&s.devPermute, nall)
	regrow(&s.devCellCounts, ncells+1)
	if err != nil {
		s.dev.Log().Warn("cell transient allocation failed", zap.Error(err))
		return false
	}
	s.cBytes = s.devCellID.Bytes() + s.devPermute.Bytes()
	s.cellBytes = s.devCellCounts.Bytes()
	return true
}

// uploadSpecial stages the per-atom exclusion tables: counts row-major,
// the tag lists transposed on the device so the marking kernel reads
// them coalesced.
func (s *Store) uploadSpecial(stream *device.Stream, nOwned, nt int,
	nspecial [][3]int32, special [][]int32) {

	flatCounts := make([]int32, 3*nt)
	flatSpec := make([]int32, nt*s.maxSpecial)
	for i := 0; i < nOwned; i++ {
		flatCounts[i*3] = nspecial[i][0]
		flatCounts[i*3+1] = nspecial[i][1]
		flatCounts[i*3+2] = nspecial[i][2]
		copy(flatSpec[i*s.maxSpecial:(i+1)*s.maxSpecial], special[i])
	}
	device.CopyIntToDevice(stream, s.devNspecial, 0, flatCounts)
	device.CopyIntToDevice(stream, s.devSpecialT, 0, flatSpec)
	// Row-major nt x maxSpecial becomes column-major with pitch nt.
	stream.Launch(s.shared.transpose, nt*s.maxSpecial,
		s.tune.BlockCell2D*s.tune.BlockCell2D,
		s.devSpecial.Data(), s.devSpecialT.Data(), nt, s.maxSpecial)
}

// hostBin performs the binning pass on the host for the binning-on-host
// mode: same grid, same clamping, counts and permutation uploaded.
func hostBin(atoms *atom.Set, nall int, lo []float64, cellSize float64,
	ncellx, ncelly, ncellz int) (counts, permute []int32) {

	ncells := ncellx * ncelly * ncellz
	counts = make([]int32, ncells+1)
	permute = make([]int32, nall)
	ids := make([]int32, nall)
	for i := 0; i < nall; i++ {
		x, y, z := atoms.Pos(i)
		ix := cellCoord(x, lo[0], cellSize, ncellx)
		iy := cellCoord(y, lo[1], cellSize, ncelly)
		iz := cellCoord(z, lo[2], cellSize, ncellz)
		ids[i] = int32((iz*ncelly+iy)*ncellx + ix)
	}
	for i := 0; i < nall; i++ {
		counts[ids[i]+1]++
	}
	for c := 0; c < ncells; c++ {
		counts[c+1] += counts[c]
	}
	next := make([]int32, ncells)
	for i := 0; i < nall; i++ {
		c := ids[i]
		permute[counts[c]+next[c]] = int32(i)
		next[c]++
	}
	return counts, permute
}

// HostIlist returns the host-copy atom indices after a device build.
func (s *Store) HostIlist(hostInum int) []int32 { return s.hostIlist[:hostInum] }

// HostJlist returns the per-atom host neighbor slices after a device
// build with a host-force mode.
func (s *Store) HostJlist(hostInum int) [][]int32 { return s.hostJlist[:hostInum] }

// Counts reads back the neighbor-count row for the first inum slots,
// synchronizing the stream.
func (s *Store) Counts(inum int) []int32 {
	out := make([]int32, inum)
	device.CopyIntToHost(s.dev.Stream(), out, s.devNbor, s.nborPitch, inum)
	s.dev.Stream().Finish()
	return out
}

// CountOf reads back slot i's neighbor count, synchronizing the stream.
func (s *Store) CountOf(slot int) int {
	out := make([]int32, 1)
	device.CopyIntToHost(s.dev.Stream(), out, s.devNbor, s.nborPitch+slot, 1)
	s.dev.Stream().Finish()
	return int(out[0])
}

// NeighborsOf reads back slot i's stored neighbor entries, marks
// included and capped at capacity, synchronizing the stream.
func (s *Store) NeighborsOf(slot int) []int32 {
	cnt := s.CountOf(slot)
	if cnt > s.maxNbors {
		cnt = s.maxNbors
	}
	out := make([]int32, cnt)
	if s.mode == ModeHostBuild && s.usePacking {
		// Packed runs live past the header rows.
		off := make([]int32, 1)
		device.CopyIntToHost(s.dev.Stream(), off, s.devNbor, 2*s.nborPitch+slot, 1)
		s.dev.Stream().Finish()
		target, base := s.packedTarget()
		device.CopyIntToHost(s.dev.Stream(), out, target, base+int(off[0]), cnt)
		s.dev.Stream().Finish()
		return out
	}
	for k := 0; k < cnt; k++ {
		device.CopyIntToHost(s.dev.Stream(), out[k:k+1], s.devNbor,
			(headerRows+k)*s.nborPitch+slot, 1)
	}
	s.dev.Stream().Finish()
	return out
}
