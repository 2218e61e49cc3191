package analysis

import (
	"math"
	"sort"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, v := range xs {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return 0.5 * (cp[mid-1] + cp[mid])
}

// mad is the median absolute deviation, floored at 1 so quiet baselines
// (all-zero days) still yield a finite robust score.
func mad(xs []float64) float64 {
	if len(xs) == 0 {
		return 1
	}
	m := median(xs)
	res := make([]float64, len(xs))
	for i, v := range xs {
		res[i] = math.Abs(v - m)
	}
	md := median(res)
	if md == 0 {
		return 1
	}
	return md
}

// RobustZ computes asinh((x - med)/(1.4826*MAD)) against a baseline sample.
// It compresses extreme spikes and stays finite when the sample is flat.
func RobustZ(x float64, sample []float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	s := 1.4826 * mad(sample)
	return math.Asinh((x - median(sample)) / s)
}
