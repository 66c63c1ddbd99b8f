package api

import (
	"math"
	"strconv"

	"github.com/samcharles93/vecstream/internal/backend"
	"github.com/samcharles93/vecstream/internal/pipeline"
	"github.com/samcharles93/vecstream/internal/plan"
)

// Vector marshals non-finite elements as null, which JSON has no number
// for. Sums of finite inputs can still overflow to infinity.
type Vector []float32

func (v Vector) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	buf := make([]byte, 0, 2+len(v)*8)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			buf = append(buf, "null"...)
			continue
		}
		buf = strconv.AppendFloat(buf, float64(f), 'g', -1, 32)
	}
	return append(buf, ']'), nil
}

type ConfigOverride struct {
	StreamCount *int `json:"stream_count,omitempty"`
	SegmentSize *int `json:"segment_size,omitempty"`
	BlockSize   *int `json:"block_size,omitempty"`
}

type VecAddRequest struct {
	In1    []float32       `json:"in1"`
	In2    []float32       `json:"in2"`
	Config *ConfigOverride `json:"config,omitempty"`
	Store  *bool           `json:"store,omitempty"`
}

type VecAddResponse struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	CreatedAt int64           `json:"created_at"`
	Device    string          `json:"device"`
	Length    int             `json:"length"`
	Output    Vector          `json:"output"`
	Stats     pipeline.Stats  `json:"stats"`
	Config    pipeline.Config `json:"config"`
	ElapsedMS float64         `json:"elapsed_ms"`
}

type DeleteResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type PlanResponse struct {
	Object        string           `json:"object"`
	InputLength   int              `json:"input_length"`
	SegmentSize   int              `json:"segment_size"`
	StreamCount   int              `json:"stream_count"`
	NumRounds     int              `json:"num_rounds"`
	EmptySegments int              `json:"empty_segments"`
	Rounds        [][]plan.Segment `json:"rounds"`
}

type DeviceResponse struct {
	Object    string          `json:"object"`
	Name      string          `json:"name"`
	Available string          `json:"available"`
	Backends  []backend.Info  `json:"backends"`
	Defaults  pipeline.Config `json:"defaults"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
