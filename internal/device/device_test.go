package device

import "testing"

func TestFamilyString(t *testing.T) {
	if FamilyCUDA.String() != "cuda" {
		t.Errorf("expected cuda, got %s", FamilyCUDA.String())
	}
	if FamilyOpenCL.String() != "opencl" {
		t.Errorf("expected opencl, got %s", FamilyOpenCL.String())
	}
}

func TestCanBuildOnDevice(t *testing.T) {
	cuda := New(Config{Family: FamilyCUDA, Workers: 1}, nil)
	defer cuda.Close()
	if !cuda.CanBuildOnDevice() {
		t.Error("cuda family should support device binning")
	}

	ocl := New(Config{Family: FamilyOpenCL, Workers: 1}, nil)
	defer ocl.Close()
	if ocl.CanBuildOnDevice() {
		t.Error("opencl family should not support device binning")
	}
}

func TestDefaultWorkers(t *testing.T) {
	dev := New(Config{}, nil)
	defer dev.Close()
	if dev.Workers() <= 0 {
		t.Errorf("expected positive worker count, got %d", dev.Workers())
	}
}
