package dataset

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sbinet/npyio/npy"
)

// array is a decoded .npy file converted to float64 for uniform handling.
type array struct {
	shape []int
	data  []float64
}

// readArray reads a .npy file, transparently gunzipping .npy.gz files.
func readArray(path string) (*array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	npr, err := npy.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy header %s: %w", path, err)
	}
	if npr.Header.Descr.Fortran {
		return nil, fmt.Errorf("%s: fortran-ordered arrays are not supported", path)
	}

	data, err := readData(npr)
	if err != nil {
		return nil, fmt.Errorf("failed to read npy data %s: %w", path, err)
	}

	shape := append([]int(nil), npr.Header.Descr.Shape...)
	return &array{shape: shape, data: data}, nil
}

func readData(r *npy.Reader) ([]float64, error) {
	switch r.Header.Descr.Type {
	case "<f8":
		var v []float64
		err := r.Read(&v)
		return v, err
	case "<f4":
		var v []float32
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "|u1":
		var v []uint8
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "|i1":
		var v []int8
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "<u2":
		var v []uint16
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "<i2":
		var v []int16
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "<u4":
		var v []uint32
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "<i4":
		var v []int32
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "<i8":
		var v []int64
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		return widen(v), nil
	case "|b1":
		var v []bool
		if err := r.Read(&v); err != nil {
			return nil, err
		}
		out := make([]float64, len(v))
		for i, b := range v {
			if b {
				out[i] = 1
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %q", r.Header.Descr.Type)
	}
}

type number interface {
	~float32 | ~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~int64
}

func widen[T number](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
