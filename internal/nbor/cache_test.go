package nbor

import (
	"errors"
	"testing"

	"github.com/san-kum/gpunbor/internal/device"
)

func TestCacheCompileOnce(t *testing.T) {
	dev := device.New(device.Config{Workers: 1}, nil)
	defer dev.Close()

	cache := &KernelCache{}
	if cache.Compiled() {
		t.Fatal("fresh cache reports compiled")
	}
	if err := cache.Compile(dev, ModeDeviceBuild); err != nil {
		t.Fatal(err)
	}
	if !cache.Compiled() || cache.Mode() != ModeDeviceBuild {
		t.Fatalf("compiled=%v mode=%v", cache.Compiled(), cache.Mode())
	}
	if cache.CompileCount() != 1 {
		t.Fatalf("expected 1 compilation, got %d", cache.CompileCount())
	}

	// Second compile is a no-op, even with a different mode requested.
	if err := cache.Compile(dev, ModeHostBuild); err != nil {
		t.Fatal(err)
	}
	if cache.CompileCount() != 1 {
		t.Errorf("no-op compile recompiled: count %d", cache.CompileCount())
	}
	if cache.Mode() != ModeDeviceBuild {
		t.Errorf("no-op compile changed mode to %v", cache.Mode())
	}
}

func TestCacheClearThenCompile(t *testing.T) {
	dev := device.New(device.Config{Workers: 1}, nil)
	defer dev.Close()

	cache := &KernelCache{}
	if err := cache.Compile(dev, ModeHostBuild); err != nil {
		t.Fatal(err)
	}
	cache.Clear()
	cache.Clear()
	if cache.Compiled() {
		t.Fatal("cache still compiled after clear")
	}
	if err := cache.Compile(dev, ModeHostBuild); err != nil {
		t.Fatal(err)
	}
	if cache.CompileCount() != 2 {
		t.Errorf("expected 2 total compilations, got %d", cache.CompileCount())
	}
}

func TestCacheRejectsDeviceBinningOnOpenCL(t *testing.T) {
	dev := device.New(device.Config{Family: device.FamilyOpenCL, Workers: 1}, nil)
	defer dev.Close()

	cache := &KernelCache{}
	err := cache.Compile(dev, ModeDeviceBuild)
	if !errors.Is(err, ErrDeviceBinningUnsupported) {
		t.Fatalf("expected ErrDeviceBinningUnsupported, got %v", err)
	}
	if cache.Compiled() {
		t.Error("rejected compile left the cache compiled")
	}

	// Host-supplied binning stays available on the same family.
	if err := cache.Compile(dev, ModeDeviceBuildHostBin); err != nil {
		t.Errorf("hostbin on opencl: %v", err)
	}
}
