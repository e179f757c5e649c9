package device

import (
	"sync/atomic"
	"testing"
)

func TestStreamOrdering(t *testing.T) {
	dev := New(Config{Workers: 4}, nil)
	defer dev.Close()
	s := dev.Stream()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		s.Enqueue(func() { got = append(got, i) })
	}
	s.Finish()

	if len(got) != 100 {
		t.Fatalf("expected 100 commands executed, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("command %d executed out of order as %d", i, v)
		}
	}
}

func TestStreamFinishBarrier(t *testing.T) {
	dev := New(Config{Workers: 2}, nil)
	defer dev.Close()
	s := dev.Stream()

	var done atomic.Bool
	s.Enqueue(func() { done.Store(true) })
	s.Finish()
	if !done.Load() {
		t.Error("finish returned before enqueued command ran")
	}
}

func TestLaunchCoversEveryWorkItem(t *testing.T) {
	dev := New(Config{Workers: 4}, nil)
	defer dev.Close()
	s := dev.Stream()

	const global = 1000
	hits := make([]int32, global)
	k := &Kernel{name: "touch", fn: func(gid int, args []any) {
		atomic.AddInt32(&hits[gid], 1)
	}}

	s.Launch(k, global, 64)
	s.Finish()

	for gid, h := range hits {
		if h != 1 {
			t.Fatalf("work item %d ran %d times", gid, h)
		}
	}
}

func TestLaunchZeroGlobalIsNoop(t *testing.T) {
	dev := New(Config{Workers: 2}, nil)
	defer dev.Close()
	s := dev.Stream()

	ran := false
	k := &Kernel{name: "never", fn: func(int, []any) { ran = true }}
	s.Launch(k, 0, 64)
	s.Finish()
	if ran {
		t.Error("kernel ran for an empty global range")
	}
}

func TestLaunchSerialOrder(t *testing.T) {
	dev := New(Config{Workers: 8}, nil)
	defer dev.Close()
	s := dev.Stream()

	var order []int
	k := &Kernel{name: "scan", fn: func(gid int, args []any) {
		order = append(order, gid)
	}}
	s.LaunchSerial(k, 50)
	s.Finish()

	for i, v := range order {
		if v != i {
			t.Fatalf("serial work item %d ran as %d", i, v)
		}
	}
}

func TestLaunchInterleavesWithCopies(t *testing.T) {
	dev := New(Config{Workers: 4}, nil)
	defer dev.Close()
	s := dev.Stream()

	v, err := AllocInt(dev, 16)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Free()

	src := make([]int32, 16)
	for i := range src {
		src[i] = int32(i)
	}
	CopyIntToDevice(s, v, 0, src)

	double := &Kernel{name: "double", fn: func(gid int, args []any) {
		d := args[0].([]int32)
		d[gid] *= 2
	}}
	s.Launch(double, 16, 4, v.Data())

	out := make([]int32, 16)
	CopyIntToHost(s, out, v, 0, 16)
	s.Finish()

	for i, got := range out {
		if got != int32(2*i) {
			t.Fatalf("element %d: expected %d, got %d", i, 2*i, got)
		}
	}
}
