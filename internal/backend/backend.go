// Package backend selects and opens the accelerator back-end.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/vecstream/internal/device"
	"github.com/samcharles93/vecstream/internal/device/sim"
)

const (
	Sim  = "sim"
	CUDA = "cuda"
	Auto = "auto"
)

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Sim, CUDA, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("%w %q (expected auto, sim, or cuda)", device.ErrUnknownBackend, backend)
	}
}

// Open returns a device for name. Auto prefers CUDA when it is compiled in
// and a device is present, and falls back to the simulator otherwise.
// simOpts only apply to the simulator.
func Open(name string, simOpts ...sim.Option) (device.Device, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch backend {
	case Sim:
		return sim.New(simOpts...), nil
	case CUDA:
		return newCUDA()
	default:
		if Has(CUDA) {
			if dev, err := newCUDA(); err == nil {
				return dev, nil
			}
		}
		return sim.New(simOpts...), nil
	}
}

// Info describes one back-end for listings.
type Info struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

func Describe() []Info {
	infos := []Info{{Name: Sim, Available: true, Detail: "in-process simulated accelerator"}}
	cuda := Info{Name: CUDA}
	switch count, err := cudaDevices(); {
	case err != nil:
		cuda.Detail = err.Error()
	case count == 0:
		cuda.Detail = device.ErrNoDevice.Error()
	default:
		cuda.Available = true
		cuda.Detail = fmt.Sprintf("%d device(s)", count)
	}
	return append(infos, cuda)
}
