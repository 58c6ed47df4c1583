package dataset

import (
	"math"
	"sort"
)

// ColumnProfile holds descriptive statistics of a numeric column.
type ColumnProfile struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	// StdDev is the sample standard deviation, 0 when Count is 1.
	StdDev float64
}

// Stats computes statistics over every value of the column that parses as
// a number. It returns nil if no value does (including unknown columns).
func (d *Dataset) Stats(column string) *ColumnProfile {
	var values []float64
	for _, v := range d.Column(column) {
		if f, ok := parseFloat(v); ok {
			values = append(values, f)
		}
	}
	return Profile(values)
}

// Profile computes statistics for values, or nil if values is empty.
func Profile(values []float64) *ColumnProfile {
	n := len(values)
	if n == 0 {
		return nil
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	std := 0.0
	if n > 1 {
		ss := 0.0
		for _, v := range sorted {
			ss += (v - mean) * (v - mean)
		}
		std = math.Sqrt(ss / float64(n-1))
	}

	return &ColumnProfile{
		Count:  n,
		Mean:   mean,
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
		StdDev: std,
	}
}
