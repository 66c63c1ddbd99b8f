// Package vecio reads and writes host vectors. The format is chosen by file
// extension: .raw and .txt hold an element count followed by the values as
// text, .json holds a number array, and .bin and .f32 hold little-endian
// float32 values.
package vecio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrFormat = errors.New("malformed vector file")

type Format string

const (
	Text   Format = "raw"
	JSON   Format = "json"
	Binary Format = "bin"
)

// ParseFormat accepts a format name or a file extension with or without the
// leading dot.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")) {
	case "raw", "txt", "text":
		return Text, nil
	case "json":
		return JSON, nil
	case "bin", "f32", "binary":
		return Binary, nil
	default:
		return "", fmt.Errorf("unknown vector format %q (expected raw, json, or bin)", name)
	}
}

// FormatOf picks the format from path's extension.
func FormatOf(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("cannot infer vector format of %q: no extension", path)
	}
	return ParseFormat(ext)
}

// Ext is the file extension written for f.
func (f Format) Ext() string {
	return "." + string(f)
}

func Read(path string) ([]float32, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	if format == Binary {
		v, err := readBinaryFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return v, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	v, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return v, nil
}

// ReadPair reads the two addends and rejects inputs of different length.
func ReadPair(path1, path2 string) ([]float32, []float32, error) {
	in1, err := Read(path1)
	if err != nil {
		return nil, nil, err
	}
	in2, err := Read(path2)
	if err != nil {
		return nil, nil, err
	}
	if len(in1) != len(in2) {
		return nil, nil, fmt.Errorf("%w: %s has %d elements, %s has %d", ErrFormat, path1, len(in1), path2, len(in2))
	}
	return in1, in2, nil
}

func Decode(r io.Reader, format Format) ([]float32, error) {
	switch format {
	case Text:
		return decodeText(r)
	case JSON:
		return decodeJSON(r)
	case Binary:
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return decodeBinary(data)
	default:
		return nil, fmt.Errorf("unknown vector format %q", format)
	}
}

func Encode(w io.Writer, format Format, v []float32) error {
	switch format {
	case Text:
		return encodeText(w, v)
	case JSON:
		return encodeJSON(w, v)
	case Binary:
		return encodeBinary(w, v)
	default:
		return fmt.Errorf("unknown vector format %q", format)
	}
}

// Write replaces path with v. The data is written to a temporary file in the
// same directory and renamed into place.
func Write(path string, v []float32) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := Encode(tmp, format, v); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
