package vecio

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

func decodeJSON(r io.Reader) ([]float32, error) {
	var v []float32
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if v == nil {
		v = []float32{}
	}
	return v, nil
}

// encodeJSON fails on NaN and infinities, which JSON cannot represent.
func encodeJSON(w io.Writer, v []float32) error {
	if v == nil {
		v = []float32{}
	}
	return json.NewEncoder(w).Encode(v)
}
