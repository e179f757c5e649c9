// Package stats summarizes per-atom neighbor counts for run reporting.
package stats

import "sort"

// Summary aggregates one build's neighbor-count distribution.
type Summary struct {
	Atoms int
	Min   int
	Max   int
	Mean  float64
	P99   int
}

// Summarize reduces a per-atom count slice.
func Summarize(counts []int32) Summary {
	if len(counts) == 0 {
		return Summary{}
	}
	sorted := make([]int, len(counts))
	total := 0
	for i, c := range counts {
		sorted[i] = int(c)
		total += int(c)
	}
	sort.Ints(sorted)
	return Summary{
		Atoms: len(counts),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  float64(total) / float64(len(counts)),
		P99:   sorted[(len(sorted)-1)*99/100],
	}
}

// Histogram bins counts for plotting; width is the bin size.
func Histogram(counts []int32, bins int) []float64 {
	if len(counts) == 0 || bins <= 0 {
		return nil
	}
	max := 0
	for _, c := range counts {
		if int(c) > max {
			max = int(c)
		}
	}
	width := max/bins + 1
	hist := make([]float64, bins)
	for _, c := range counts {
		b := int(c) / width
		if b >= bins {
			b = bins - 1
		}
		hist[b]++
	}
	return hist
}
