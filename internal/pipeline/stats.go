package pipeline

import "fmt"

// Stats counts the work a pipeline has issued.
type Stats struct {
	Rounds          int   `json:"rounds"`
	Segments        int   `json:"segments"`
	SegmentsSkipped int   `json:"segments_skipped"`
	Kernels         int   `json:"kernels"`
	Elements        int64 `json:"elements"`
	BytesToDevice   int64 `json:"bytes_to_device"`
	BytesFromDevice int64 `json:"bytes_from_device"`
}

// Sub returns the counters accumulated since prev.
func (s Stats) Sub(prev Stats) Stats {
	return Stats{
		Rounds:          s.Rounds - prev.Rounds,
		Segments:        s.Segments - prev.Segments,
		SegmentsSkipped: s.SegmentsSkipped - prev.SegmentsSkipped,
		Kernels:         s.Kernels - prev.Kernels,
		Elements:        s.Elements - prev.Elements,
		BytesToDevice:   s.BytesToDevice - prev.BytesToDevice,
		BytesFromDevice: s.BytesFromDevice - prev.BytesFromDevice,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("rounds=%d segments=%d skipped=%d kernels=%d h2d=%dB d2h=%dB",
		s.Rounds, s.Segments, s.SegmentsSkipped, s.Kernels, s.BytesToDevice, s.BytesFromDevice)
}
