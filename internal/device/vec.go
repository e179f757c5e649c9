package device

// IntVec is a device-resident vector of int32 elements. Host access to
// its contents goes through stream copies; kernels receive the backing
// slice directly.
type IntVec struct {
	dev  *Device
	data []int32
}

// AllocInt reserves a device int vector of n elements.
func AllocInt(dev *Device, n int) (*IntVec, error) {
	if err := dev.reserve(int64(n) * 4); err != nil {
		return nil, err
	}
	return &IntVec{dev: dev, data: make([]int32, n)}, nil
}

func (v *IntVec) Len() int {
	if v == nil {
		return 0
	}
	return len(v.data)
}

func (v *IntVec) Bytes() int64 { return int64(v.Len()) * 4 }

// Data exposes the device memory to kernel code. Host code must only
// touch it through stream copies.
func (v *IntVec) Data() []int32 { return v.data }

// Free releases the device memory. Safe on nil.
func (v *IntVec) Free() {
	if v == nil || v.data == nil {
		return
	}
	v.dev.release(v.Bytes())
	v.data = nil
}

// FloatVec is a device-resident vector of float64 elements.
type FloatVec struct {
	dev  *Device
	data []float64
}

// AllocFloat reserves a device float vector of n elements.
func AllocFloat(dev *Device, n int) (*FloatVec, error) {
	if err := dev.reserve(int64(n) * 8); err != nil {
		return nil, err
	}
	return &FloatVec{dev: dev, data: make([]float64, n)}, nil
}

func (v *FloatVec) Len() int {
	if v == nil {
		return 0
	}
	return len(v.data)
}

func (v *FloatVec) Bytes() int64 { return int64(v.Len()) * 8 }

func (v *FloatVec) Data() []float64 { return v.data }

func (v *FloatVec) Free() {
	if v == nil || v.data == nil {
		return
	}
	v.dev.release(v.Bytes())
	v.data = nil
}

// CopyIntToDevice enqueues a host-to-device copy of src into dst at
// element offset off. The src slice must stay untouched until the copy
// is known complete (a Finish or a later synchronizing read).
func CopyIntToDevice(s *Stream, dst *IntVec, off int, src []int32) {
	s.Enqueue(func() {
		copy(dst.data[off:off+len(src)], src)
	})
}

// CopyIntToHost enqueues a device-to-host copy of n elements from src at
// element offset off into dst.
func CopyIntToHost(s *Stream, dst []int32, src *IntVec, off, n int) {
	s.Enqueue(func() {
		copy(dst[:n], src.data[off:off+n])
	})
}

// CopyIntDeviceToDevice enqueues a device copy of n elements.
func CopyIntDeviceToDevice(s *Stream, dst *IntVec, src *IntVec, n int) {
	s.Enqueue(func() {
		copy(dst.data[:n], src.data[:n])
	})
}

// CopyFloatToDevice enqueues a host-to-device copy of src into dst.
func CopyFloatToDevice(s *Stream, dst *FloatVec, off int, src []float64) {
	s.Enqueue(func() {
		copy(dst.data[off:off+len(src)], src)
	})
}
