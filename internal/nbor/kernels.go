package nbor

import "github.com/san-kum/gpunbor/internal/device"

// Kernel bodies for the neighbor program. Argument unpacking is
// positional; the launch sites in Store are the only callers.

const (
	kCalcCellID    = "calc_cell_id"
	kCalcCellCount = "kernel_calc_cell_counts"
	kBuildNbor     = "calc_neigh_list_cell"
	kTranspose     = "transpose"
	kSpecial       = "kernel_special"
	kUnpack        = "kernel_unpack"
)

func cellCoord(v, lo, cellSize float64, ncell int) int {
	c := int((v-lo)/cellSize) + 1
	if c < 0 {
		c = 0
	} else if c >= ncell {
		c = ncell - 1
	}
	return c
}

// calcCellID assigns every particle, ghosts included, a bin id. One
// ghost cell layer surrounds the grid; out-of-box positions clamp into
// it.
func calcCellID(gid int, args []any) {
	x := args[0].([]float64)
	cellID := args[1].([]int32)
	lo := args[2].([]float64)
	cellSize := args[3].(float64)
	ncellx := args[4].(int)
	ncelly := args[5].(int)
	ncellz := args[6].(int)

	ix := cellCoord(x[gid*4], lo[0], cellSize, ncellx)
	iy := cellCoord(x[gid*4+1], lo[1], cellSize, ncelly)
	iz := cellCoord(x[gid*4+2], lo[2], cellSize, ncellz)
	cellID[gid] = int32((iz*ncelly+iy)*ncellx + ix)
}

// calcCellCounts reduces bin ids into per-cell offsets and a
// sorted-by-cell permutation, without moving position data. Scan-style:
// launched serially with one work item.
func calcCellCounts(_ int, args []any) {
	cellID := args[0].([]int32)
	counts := args[1].([]int32)
	permute := args[2].([]int32)
	nall := args[3].(int)
	ncells := args[4].(int)

	for c := 0; c <= ncells; c++ {
		counts[c] = 0
	}
	for i := 0; i < nall; i++ {
		counts[cellID[i]+1]++
	}
	for c := 0; c < ncells; c++ {
		counts[c+1] += counts[c]
	}
	next := make([]int32, ncells)
	for i := 0; i < nall; i++ {
		c := cellID[i]
		permute[counts[c]+next[c]] = int32(i)
		next[c]++
	}
}

// buildNborList enumerates the own cell plus the 26 surrounding ones for
// each owned particle. Entries beyond capacity are dropped but still
// counted, so row 1 carries the true count for overflow reporting.
func buildNborList(gid int, args []any) {
	x := args[0].([]float64)
	counts := args[1].([]int32)
	permute := args[2].([]int32)
	nbor := args[3].([]int32)
	hostNbor := args[4].([]int32)
	hostNumj := args[5].([]int32)
	pitch := args[6].(int)
	maxNbors := args[7].(int)
	inum := args[8].(int)
	hostInum := args[9].(int)
	maxHost := args[10].(int)
	lo := args[11].([]float64)
	cellSize := args[12].(float64)
	ncellx := args[13].(int)
	ncelly := args[14].(int)
	ncellz := args[15].(int)
	cutsq := args[16].(float64)
	halfHost := args[17].(bool)

	i := int(permute[gid])
	if i >= inum+hostInum {
		return
	}
	xi, yi, zi := x[i*4], x[i*4+1], x[i*4+2]
	ix := cellCoord(xi, lo[0], cellSize, ncellx)
	iy := cellCoord(yi, lo[1], cellSize, ncelly)
	iz := cellCoord(zi, lo[2], cellSize, ncellz)

	cnt := 0
	store := func(j int) {
		if i < inum {
			if cnt < maxNbors {
				nbor[(3+cnt)*pitch+i] = int32(j)
			}
		} else {
			h := i - inum
			if cnt < maxNbors {
				hostNbor[cnt*maxHost+h] = int32(j)
			}
		}
		cnt++
	}

	for dz := -1; dz <= 1; dz++ {
		cz := iz + dz
		if cz < 0 || cz >= ncellz {
			continue
		}
		for dy := -1; dy <= 1; dy++ {
			cy := iy + dy
			if cy < 0 || cy >= ncelly {
				continue
			}
			for dx := -1; dx <= 1; dx++ {
				cx := ix + dx
				if cx < 0 || cx >= ncellx {
					continue
				}
				c := (cz*ncelly+cy)*ncellx + cx
				for p := counts[c]; p < counts[c+1]; p++ {
					j := int(permute[p])
					if j == i {
						continue
					}
					if i >= inum && halfHost && j < i {
						continue
					}
					if cutsq >= 0 {
						rx := xi - x[j*4]
						ry := yi - x[j*4+1]
						rz := zi - x[j*4+2]
						if rx*rx+ry*ry+rz*rz > cutsq {
							continue
						}
					}
					store(j)
				}
			}
		}
	}

	if i < inum {
		nbor[i] = int32(i)
		nbor[pitch+i] = int32(cnt)
		nbor[2*pitch+i] = int32(i)
	} else {
		hostNumj[i-inum] = int32(cnt)
	}
}

// specialMark flags bonded-exclusion neighbors in place. Counts and
// column positions never change; force kernels skip marked entries.
func specialMark(gid int, args []any) {
	nbor := args[0].([]int32)
	hostNbor := args[1].([]int32)
	hostNumj := args[2].([]int32)
	pitch := args[3].(int)
	maxNbors := args[4].(int)
	inum := args[5].(int)
	maxHost := args[6].(int)
	tags := args[7].([]int32)
	nspecial := args[8].([]int32)
	special := args[9].([]int32)
	nt := args[10].(int)

	i := gid
	n1 := nspecial[i*3]
	n2 := nspecial[i*3+1]
	n3 := nspecial[i*3+2]
	if n3 == 0 {
		return
	}

	classify := func(entry int32) (int32, bool) {
		tj := tags[NeighIndex(entry)]
		for m := int32(0); m < n3; m++ {
			if special[int(m)*nt+i] != tj {
				continue
			}
			which := int32(3)
			if m < n1 {
				which = 1
			} else if m < n2 {
				which = 2
			}
			return markSpecial(entry, which), true
		}
		return entry, false
	}

	if i < inum {
		cnt := int(nbor[pitch+i])
		if cnt > maxNbors {
			cnt = maxNbors
		}
		for k := 0; k < cnt; k++ {
			idx := (3+k)*pitch + i
			if marked, ok := classify(nbor[idx]); ok {
				nbor[idx] = marked
			}
		}
		return
	}

	h := i - inum
	cnt := int(hostNumj[h])
	if cnt > maxNbors {
		cnt = maxNbors
	}
	for k := 0; k < cnt; k++ {
		idx := k*maxHost + h
		if marked, ok := classify(hostNbor[idx]); ok {
			hostNbor[idx] = marked
		}
	}
}

// transpose reshapes a row-major rows x cols matrix into its transpose.
// Serves both the special-table upload and the host-copy reshape.
func transpose(gid int, args []any) {
	dst := args[0].([]int32)
	src := args[1].([]int32)
	rows := args[2].(int)
	cols := args[3].(int)

	r := gid / cols
	c := gid % cols
	dst[c*rows+r] = src[gid]
}

// unpack expands packed per-atom runs into the padded matrix columns
// using the header rows written during ingest.
func unpack(gid int, args []any) {
	nbor := args[0].([]int32)
	packed := args[1].([]int32)
	pitch := args[2].(int)

	numj := int(nbor[pitch+gid])
	off := int(nbor[2*pitch+gid])
	for k := 0; k < numj; k++ {
		nbor[(3+k)*pitch+gid] = packed[off+k]
	}
}

func buildKernels(mode Mode) map[string]device.KernelFunc {
	switch mode {
	case ModeHostBuild:
		return map[string]device.KernelFunc{
			kUnpack: unpack,
		}
	case ModeDeviceBuild:
		return map[string]device.KernelFunc{
			kCalcCellID:    calcCellID,
			kCalcCellCount: calcCellCounts,
			kBuildNbor:     buildNborList,
			kTranspose:     transpose,
			kSpecial:       specialMark,
		}
	default:
		return map[string]device.KernelFunc{
			kBuildNbor: buildNborList,
			kTranspose: transpose,
			kSpecial:   specialMark,
		}
	}
}
