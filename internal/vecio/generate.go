package vecio

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/samcharles93/vecstream/internal/verify"
)

// Dataset is a pair of addends and their sum.
type Dataset struct {
	In1      []float32
	In2      []float32
	Expected []float32
}

// Generate returns a reproducible dataset of n elements drawn from
// [-100, 100). The same seed always yields the same values.
func Generate(n int, seed uint64) (Dataset, error) {
	if n < 0 {
		return Dataset{}, fmt.Errorf("dataset length must be >= 0, got %d", n)
	}
	r := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	in1 := make([]float32, n)
	in2 := make([]float32, n)
	for i := range n {
		in1[i] = r.Float32()*200 - 100
		in2[i] = r.Float32()*200 - 100
	}
	expected, err := verify.Reference(in1, in2)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{In1: in1, In2: in2, Expected: expected}, nil
}

// DatasetPaths names the files of a dataset directory: input0, input1 and
// output, with the format's extension.
func DatasetPaths(dir string, format Format) (in1, in2, expected string) {
	return filepath.Join(dir, "input0"+format.Ext()),
		filepath.Join(dir, "input1"+format.Ext()),
		filepath.Join(dir, "output"+format.Ext())
}

// WriteDataset writes ds into dir, creating it if needed, and returns the
// three paths.
func WriteDataset(dir string, format Format, ds Dataset) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	p1, p2, pe := DatasetPaths(dir, format)
	for _, f := range []struct {
		path string
		v    []float32
	}{{p1, ds.In1}, {p2, ds.In2}, {pe, ds.Expected}} {
		if err := Write(f.path, f.v); err != nil {
			return nil, err
		}
	}
	return []string{p1, p2, pe}, nil
}
