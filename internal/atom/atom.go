// Package atom holds the slice of particle data the neighbor core reads:
// packed positions with type, and their device mirror. The full particle
// container (velocities, forces, per-type tables) lives upstream.
package atom

import (
	"github.com/san-kum/gpunbor/internal/device"
)

// Set is the position/type view for one domain partition, including
// ghost copies. Positions are packed stride 4 as x, y, z, type so one
// fetch per particle serves the distance test and the type lookup.
type Set struct {
	X    []float64
	DevX *device.FloatVec

	dev  *device.Device
	nall int
	cap  int
}

// NewSet allocates host and device storage for up to nall particles.
func NewSet(dev *device.Device, nall int) (*Set, error) {
	dx, err := device.AllocFloat(dev, nall*4)
	if err != nil {
		return nil, err
	}
	return &Set{
		X:    make([]float64, nall*4),
		DevX: dx,
		dev:  dev,
		nall: nall,
		cap:  nall,
	}, nil
}

// Resize grows storage for nall particles, discarding contents on
// growth. A shrinking request only trims the logical count.
func (s *Set) Resize(nall int) error {
	if nall <= s.cap {
		s.nall = nall
		return nil
	}
	s.DevX.Free()
	dx, err := device.AllocFloat(s.dev, nall*4)
	if err != nil {
		return err
	}
	s.X = make([]float64, nall*4)
	s.DevX = dx
	s.nall = nall
	s.cap = nall
	return nil
}

// Nall returns the particle count including ghosts.
func (s *Set) Nall() int { return s.nall }

// SetPos writes one particle on the host side.
func (s *Set) SetPos(i int, x, y, z float64, typ int) {
	s.X[i*4] = x
	s.X[i*4+1] = y
	s.X[i*4+2] = z
	s.X[i*4+3] = float64(typ)
}

// Pos reads one particle on the host side.
func (s *Set) Pos(i int) (x, y, z float64) {
	return s.X[i*4], s.X[i*4+1], s.X[i*4+2]
}

// Upload enqueues the host-to-device position transfer.
func (s *Set) Upload(stream *device.Stream) {
	device.CopyFloatToDevice(stream, s.DevX, 0, s.X[:s.nall*4])
}

// Clear releases the device mirror. Idempotent.
func (s *Set) Clear() {
	s.DevX.Free()
	s.DevX = nil
}
