// Package verify computes the expected sum on the host and compares device
// results against it.
package verify

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

var ErrMismatch = errors.New("result does not match expected output")

// Reference returns in1 + in2 computed on the host as 1*in1 + in2. The
// multiply by one is exact, so every element is rounded once and matches
// the device kernel bit for bit.
func Reference(in1, in2 []float32) ([]float32, error) {
	if len(in1) != len(in2) {
		return nil, fmt.Errorf("reference: input lengths differ: %d and %d", len(in1), len(in2))
	}
	out := make([]float32, len(in2))
	copy(out, in2)
	if len(out) == 0 {
		return out, nil
	}
	blas32.Axpy(1,
		blas32.Vector{N: len(in1), Inc: 1, Data: in1},
		blas32.Vector{N: len(out), Inc: 1, Data: out},
	)
	return out, nil
}

// Tolerance is the largest absolute difference accepted per element. Exact
// requires identical bit patterns, which also distinguishes NaN payloads and
// the sign of zero.
type Tolerance float64

const Exact Tolerance = 0

type Report struct {
	Length        int     `json:"length"`
	Mismatches    int     `json:"mismatches"`
	FirstMismatch int     `json:"first_mismatch"`
	MaxAbsDiff    float64 `json:"max_abs_diff"`
}

func (r Report) OK() bool {
	return r.Mismatches == 0
}

func (r Report) String() string {
	if r.OK() {
		return fmt.Sprintf("%d elements match", r.Length)
	}
	return fmt.Sprintf("%d of %d elements differ (first at %d, max abs diff %g)",
		r.Mismatches, r.Length, r.FirstMismatch, r.MaxAbsDiff)
}

// Compare checks got against want element by element. A length difference
// counts every unmatched element as a mismatch. The error wraps ErrMismatch.
func Compare(got, want []float32, tol Tolerance) (Report, error) {
	r := Report{Length: len(want), FirstMismatch: -1}
	n := min(len(got), len(want))
	for i := range n {
		if equal(got[i], want[i], tol) {
			continue
		}
		if r.FirstMismatch < 0 {
			r.FirstMismatch = i
		}
		r.Mismatches++
		d := math.Abs(float64(got[i]) - float64(want[i]))
		if math.IsNaN(d) {
			d = math.Inf(1)
		}
		r.MaxAbsDiff = max(r.MaxAbsDiff, d)
	}
	if len(got) != len(want) {
		if r.FirstMismatch < 0 {
			r.FirstMismatch = n
		}
		r.Mismatches += max(len(got), len(want)) - n
		r.MaxAbsDiff = math.Inf(1)
		return r, fmt.Errorf("%w: length %d, expected %d", ErrMismatch, len(got), len(want))
	}
	if r.Mismatches > 0 {
		return r, fmt.Errorf("%w: %s", ErrMismatch, r)
	}
	return r, nil
}

func equal(a, b float32, tol Tolerance) bool {
	if tol == Exact {
		return math.Float32bits(a) == math.Float32bits(b)
	}
	if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
		return math.IsNaN(float64(a)) && math.IsNaN(float64(b))
	}
	if a == b {
		return true
	}
	return math.Abs(float64(a)-float64(b)) <= float64(tol)
}
