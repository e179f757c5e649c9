// Package scenario seeds particle configurations for neighbor-list runs
// and benchmarks: positions, domain bounds and per-step jitter that
// stands in for the integrator's motion.
package scenario

import (
	"fmt"
	"math"
	"math/rand"
)

// Scenario is a reproducible particle configuration.
type Scenario struct {
	Name string
	// Lo and Hi bound the owned domain partition.
	Lo, Hi [3]float64
	// X holds stride-4 packed positions (x, y, z, type) for Nall
	// particles; the first Nlocal are owned, the rest are ghosts.
	X      []float64
	Nlocal int
	Nall   int

	rng *rand.Rand
}

// Uniform fills a cubic box at roughly liquid density for the given
// cutoff, with a ghost shell past each face.
func Uniform(n int, ghostFrac float64, cellSize float64, seed int64) *Scenario {
	rng := rand.New(rand.NewSource(seed))
	// Box edge for ~1.0 number density.
	edge := math.Cbrt(float64(n))
	s := &Scenario{
		Name:   "uniform",
		Lo:     [3]float64{0, 0, 0},
		Hi:     [3]float64{edge, edge, edge},
		Nlocal: n,
		rng:    rng,
	}
	nghost := int(float64(n) * ghostFrac)
	s.Nall = n + nghost
	s.X = make([]float64, s.Nall*4)
	for i := 0; i < n; i++ {
		s.set(i, rng.Float64()*edge, rng.Float64()*edge, rng.Float64()*edge)
	}
	// Ghosts sit in a shell of one cell width outside the box.
	for i := n; i < s.Nall; i++ {
		s.set(i, shell(rng, edge, cellSize), shell(rng, edge, cellSize),
			shell(rng, edge, cellSize))
	}
	return s
}

// Cluster packs half the particles into a dense corner blob, a
// dam-break style worst case for per-atom neighbor counts.
func Cluster(n int, ghostFrac float64, cellSize float64, seed int64) *Scenario {
	s := Uniform(n, ghostFrac, cellSize, seed)
	s.Name = "cluster"
	edge := s.Hi[0]
	blob := edge * 0.25
	for i := 0; i < n/2; i++ {
		s.set(i, s.rng.Float64()*blob, s.rng.Float64()*blob, s.rng.Float64()*blob)
	}
	return s
}

// New builds a named scenario.
func New(name string, n int, ghostFrac, cellSize float64, seed int64) (*Scenario, error) {
	switch name {
	case "uniform":
		return Uniform(n, ghostFrac, cellSize, seed), nil
	case "cluster":
		return Cluster(n, ghostFrac, cellSize, seed), nil
	default:
		return nil, fmt.Errorf("scenario: unknown scenario %q", name)
	}
}

func (s *Scenario) set(i int, x, y, z float64) {
	s.X[i*4] = x
	s.X[i*4+1] = y
	s.X[i*4+2] = z
	s.X[i*4+3] = 1
}

// Jitter displaces every particle by a fraction of the skin, standing
// in for one timestep of motion between rebuilds.
func (s *Scenario) Jitter(scale float64) {
	for i := 0; i < s.Nall; i++ {
		s.X[i*4] += (s.rng.Float64() - 0.5) * scale
		s.X[i*4+1] += (s.rng.Float64() - 0.5) * scale
		s.X[i*4+2] += (s.rng.Float64() - 0.5) * scale
	}
}

// Tags returns identity tags, the simplest valid global numbering.
func (s *Scenario) Tags() []int32 {
	tags := make([]int32, s.Nall)
	for i := range tags {
		tags[i] = int32(i)
	}
	return tags
}

// BuildHostList runs the host-side neighbor search (cell binning over
// the owned box plus ghosts) and returns the (ilist, numj, firstneigh)
// triple in the shape the device ingest consumes.
func (s *Scenario) BuildHostList(cellSize float64) (ilist, numj []int32, firstneigh [][]int32) {
	nx := int((s.Hi[0]-s.Lo[0])/cellSize) + 3
	ny := int((s.Hi[1]-s.Lo[1])/cellSize) + 3
	nz := int((s.Hi[2]-s.Lo[2])/cellSize) + 3
	ncells := nx * ny * nz
	coord := func(v, lo float64, n int) int {
		c := int((v-lo)/cellSize) + 1
		if c < 0 {
			c = 0
		} else if c >= n {
			c = n - 1
		}
		return c
	}
	cells := make([][]int32, ncells)
	for i := 0; i < s.Nall; i++ {
		cx := coord(s.X[i*4], s.Lo[0], nx)
		cy := coord(s.X[i*4+1], s.Lo[1], ny)
		cz := coord(s.X[i*4+2], s.Lo[2], nz)
		c := (cz*ny+cy)*nx + cx
		cells[c] = append(cells[c], int32(i))
	}

	cutsq := cellSize * cellSize
	ilist = make([]int32, s.Nlocal)
	numj = make([]int32, s.Nlocal)
	firstneigh = make([][]int32, s.Nlocal)
	for i := 0; i < s.Nlocal; i++ {
		ilist[i] = int32(i)
		xi, yi, zi := s.X[i*4], s.X[i*4+1], s.X[i*4+2]
		cx := coord(xi, s.Lo[0], nx)
		cy := coord(yi, s.Lo[1], ny)
		cz := coord(zi, s.Lo[2], nz)
		var nbors []int32
		for dz := -1; dz <= 1; dz++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					gx, gy, gz := cx+dx, cy+dy, cz+dz
					if gx < 0 || gx >= nx || gy < 0 || gy >= ny || gz < 0 || gz >= nz {
						continue
					}
					for _, j := range cells[(gz*ny+gy)*nx+gx] {
						if int(j) == i {
							continue
						}
						rx := xi - s.X[j*4]
						ry := yi - s.X[j*4+1]
						rz := zi - s.X[j*4+2]
						if rx*rx+ry*ry+rz*rz <= cutsq {
							nbors = append(nbors, j)
						}
					}
				}
			}
		}
		numj[i] = int32(len(nbors))
		firstneigh[i] = nbors
	}
	return ilist, numj, firstneigh
}

func shell(rng *rand.Rand, edge, width float64) float64 {
	v := rng.Float64()*(edge+2*width) - width
	if v > 0 && v < edge {
		// Push interior picks onto a face.
		if rng.Intn(2) == 0 {
			return -rng.Float64() * width
		}
		return edge + rng.Float64()*width
	}
	return v
}
