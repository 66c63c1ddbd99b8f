package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReference(t *testing.T) {
	in1 := []float32{1, 2, 3, float32(math.Inf(1)), 0.1}
	in2 := []float32{10, 20, 30, float32(math.Inf(-1)), 0.2}

	got, err := Reference(in1, in2)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, []float32{11, 22, 33}, got[:3])
	assert.True(t, math.IsNaN(float64(got[3])))
	assert.Equal(t, math.Float32bits(in1[4]+in2[4]), math.Float32bits(got[4]))

	// inputs are not modified.
	assert.Equal(t, float32(10), in2[0])
}

func TestReferenceEmptyAndMismatch(t *testing.T) {
	got, err := Reference(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Reference([]float32{1}, nil)
	assert.Error(t, err)
}

func TestCompareExact(t *testing.T) {
	want := []float32{1, 2, 3}
	r, err := Compare([]float32{1, 2, 3}, want, Exact)
	require.NoError(t, err)
	assert.True(t, r.OK())
	assert.Equal(t, 3, r.Length)
	assert.Equal(t, -1, r.FirstMismatch)

	r, err = Compare([]float32{1, 2.5, 4}, want, Exact)
	require.ErrorIs(t, err, ErrMismatch)
	assert.Equal(t, 2, r.Mismatches)
	assert.Equal(t, 1, r.FirstMismatch)
	assert.InDelta(t, 1.0, r.MaxAbsDiff, 1e-9)
}

func TestCompareNaNAndSignedZero(t *testing.T) {
	quiet := math.Float32frombits(0x7fc00000)
	payload := math.Float32frombits(0x7fc00001)
	negZero := float32(math.Copysign(0, -1))

	_, err := Compare([]float32{quiet}, []float32{quiet}, Exact)
	assert.NoError(t, err)

	_, err = Compare([]float32{payload}, []float32{quiet}, Exact)
	assert.ErrorIs(t, err, ErrMismatch, "different NaN payloads")

	_, err = Compare([]float32{negZero}, []float32{0}, Exact)
	assert.ErrorIs(t, err, ErrMismatch, "exact comparison sees the sign of zero")

	_, err = Compare([]float32{payload, negZero}, []float32{quiet, 0}, 1e-6)
	assert.NoError(t, err, "tolerant comparison treats NaNs and zeros alike")

	r, err := Compare([]float32{1}, []float32{quiet}, 1e-3)
	assert.ErrorIs(t, err, ErrMismatch)
	assert.True(t, math.IsInf(r.MaxAbsDiff, 1))
}

func TestCompareTolerance(t *testing.T) {
	_, err := Compare([]float32{1.0005}, []float32{1}, 1e-3)
	assert.NoError(t, err)
	_, err = Compare([]float32{1.01}, []float32{1}, 1e-3)
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestCompareLength(t *testing.T) {
	r, err := Compare([]float32{1, 2}, []float32{1, 2, 3}, Exact)
	require.ErrorIs(t, err, ErrMismatch)
	assert.Equal(t, 1, r.Mismatches)
	assert.Equal(t, 2, r.FirstMismatch)
	assert.Contains(t, err.Error(), "length 2, expected 3")
}
