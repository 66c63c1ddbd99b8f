// Package kernel holds the elementwise addition kernel and its launch geometry.
package kernel

import "fmt"

// MaxBlockSize is the largest block accepted by LaunchConfig.Validate.
const MaxBlockSize = 1024

// VecAddName is the entry point exported by VecAddSource.
const VecAddName = "vecAdd"

// VecAddSource is the device-side form of VecAdd, compiled at runtime by
// back-ends that run real kernels.
const VecAddSource = `
extern "C" __global__ void vecAdd(const float *in1, const float *in2, float *out, int len)
{
    const int i = blockIdx.x * blockDim.x + threadIdx.x;
    if (i < len)
        out[i] = in1[i] + in2[i];
}
`

// LaunchConfig is a one-dimensional launch grid.
type LaunchConfig struct {
	Grid  int // number of blocks
	Block int // units per block
}

// NewLaunch sizes a grid so that every index in [0, n) has a unit.
func NewLaunch(n, block int) LaunchConfig {
	if n <= 0 || block <= 0 {
		return LaunchConfig{Grid: 0, Block: block}
	}
	return LaunchConfig{Grid: (n-1)/block + 1, Block: block}
}

// Units returns the total number of parallel units in the launch.
func (l LaunchConfig) Units() int {
	return l.Grid * l.Block
}

// Covers reports whether the launch has a unit for every index below n.
func (l LaunchConfig) Covers(n int) bool {
	return l.Units() >= n
}

func (l LaunchConfig) Validate() error {
	if l.Grid < 0 {
		return fmt.Errorf("grid must be >= 0, got %d", l.Grid)
	}
	if l.Block < 1 || l.Block > MaxBlockSize {
		return fmt.Errorf("block must be in [1, %d], got %d", MaxBlockSize, l.Block)
	}
	return nil
}

func (l LaunchConfig) String() string {
	return fmt.Sprintf("<<<%d, %d>>>", l.Grid, l.Block)
}

// ThreadID locates one unit inside a launch.
type ThreadID struct {
	BlockIdx  int
	ThreadIdx int
	BlockDim  int
}

// Global returns the unit's index across the whole grid.
func (t ThreadID) Global() int {
	return t.BlockIdx*t.BlockDim + t.ThreadIdx
}

// VecAdd is the body of one unit: out[i] = in1[i] + in2[i] for its own
// index i, or nothing when i is outside [0, n).
func VecAdd(tid ThreadID, in1, in2, out []float32, n int) {
	i := tid.Global()
	if i < n {
		out[i] = in1[i] + in2[i]
	}
}

// RunBlock executes every unit of one block sequentially.
func RunBlock(l LaunchConfig, block int, in1, in2, out []float32, n int) {
	tid := ThreadID{BlockIdx: block, BlockDim: l.Block}
	for t := 0; t < l.Block; t++ {
		tid.ThreadIdx = t
		VecAdd(tid, in1, in2, out, n)
	}
}
