package stats

import "testing"

func TestSummarize(t *testing.T) {
	counts := []int32{4, 1, 9, 2, 4}
	s := Summarize(counts)

	if s.Atoms != 5 {
		t.Errorf("expected 5 atoms, got %d", s.Atoms)
	}
	if s.Min != 1 || s.Max != 9 {
		t.Errorf("expected min 1 max 9, got %d/%d", s.Min, s.Max)
	}
	if s.Mean != 4.0 {
		t.Errorf("expected mean 4.0, got %v", s.Mean)
	}
	if s.P99 != 4 {
		t.Errorf("expected p99 4, got %d", s.P99)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Atoms != 0 || s.Max != 0 {
		t.Errorf("empty summary %+v", s)
	}
}

func TestHistogram(t *testing.T) {
	counts := []int32{0, 1, 2, 3, 4, 5, 6, 7}
	hist := Histogram(counts, 4)
	if len(hist) != 4 {
		t.Fatalf("expected 4 bins, got %d", len(hist))
	}
	total := 0.0
	for _, h := range hist {
		total += h
	}
	if total != 8 {
		t.Errorf("expected 8 samples binned, got %v", total)
	}
	// Max of 7 with 4 bins gives width 2: pairs per bin.
	for b, h := range hist {
		if h != 2 {
			t.Errorf("bin %d holds %v", b, h)
		}
	}
}

func TestHistogramDegenerate(t *testing.T) {
	if Histogram(nil, 4) != nil {
		t.Error("expected nil for empty counts")
	}
	if Histogram([]int32{1}, 0) != nil {
		t.Error("expected nil for zero bins")
	}
}
