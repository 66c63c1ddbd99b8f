package vecio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

const maxTextPrealloc = 1 << 20

// decodeText reads a count followed by that many values, separated by any
// whitespace.
func decodeText(r io.Reader) ([]float32, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	sc.Split(bufio.ScanWords)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: missing element count", ErrFormat)
	}
	n, err := strconv.Atoi(sc.Text())
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad element count %q", ErrFormat, sc.Text())
	}

	// the count is untrusted; grow past the first chunk as values arrive.
	v := make([]float32, 0, min(n, maxTextPrealloc))
	for len(v) < n && sc.Scan() {
		f, err := strconv.ParseFloat(sc.Text(), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: element %d: %q", ErrFormat, len(v), sc.Text())
		}
		v = append(v, float32(f))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(v) < n {
		return nil, fmt.Errorf("%w: expected %d elements, found %d", ErrFormat, n, len(v))
	}
	if sc.Scan() {
		return nil, fmt.Errorf("%w: trailing data after %d elements", ErrFormat, n)
	}
	return v, sc.Err()
}

func encodeText(w io.Writer, v []float32) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 32)
	buf = strconv.AppendInt(buf, int64(len(v)), 10)
	buf = append(buf, '\n')
	if _, err := bw.Write(buf); err != nil {
		return err
	}
	for _, f := range v {
		buf = strconv.AppendFloat(buf[:0], float64(f), 'g', -1, 32)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}
