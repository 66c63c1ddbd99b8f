//go:build !cuda

package backend

import (
	"fmt"

	"github.com/samcharles93/vecstream/internal/device"
)

const cudaEnabled = false

func newCUDA() (device.Device, error) {
	return nil, fmt.Errorf("%w: cuda (rebuild with -tags cuda)", device.ErrBackendUnavailable)
}

func cudaDevices() (int, error) {
	return 0, fmt.Errorf("%w: cuda", device.ErrBackendUnavailable)
}
