package science

import (
	"fmt"
	"math"
	"os"
	"reflect"

	"github.com/astrogo/fitsio"
	"gonum.org/v1/gonum/stat"
)

// FITSReader implements Reader for FITS binary tables.
type FITSReader struct {
	// HDU is the index of the table HDU to read.
	HDU int
}

// Ensure interface compliance.
var _ Reader = (*FITSReader)(nil)

// NewFITSReader creates a reader for the default science table HDU.
func NewFITSReader() *FITSReader {
	return &FITSReader{HDU: DefaultHDU}
}

// TimeBounds reads only the first and last rows of the table.
func (r *FITSReader) TimeBounds(path string) (Bounds, error) {
	var bounds Bounds

	err := r.withTable(path, func(tbl *fitsio.Table) error {
		n := tbl.NumRows()
		if n == 0 {
			return ErrEmptyTable
		}

		first, err := readTimestamps(tbl, 0, 1)
		if err != nil {
			return err
		}

		last, err := readTimestamps(tbl, n-1, n)
		if err != nil {
			return err
		}

		bounds = Bounds{First: first[0], Last: last[0]}

		return nil
	})

	return bounds, err
}

// Series reads every row of the table. The value of a row is the mean of all
// numeric cells after the timestamp column; rows without any are dropped.
func (r *FITSReader) Series(path string) (*Series, error) {
	series := &Series{Name: SeriesName(path)}

	err := r.withTable(path, func(tbl *fitsio.Table) error {
		n := tbl.NumRows()
		if n == 0 {
			return ErrEmptyTable
		}

		series.Time = make([]float64, 0, n)
		series.Value = make([]float64, 0, n)

		return scanRows(tbl, 0, n, func(cells []reflect.Value) error {
			ts := numbers(cells[0], nil)
			if len(ts) == 0 {
				return fmt.Errorf("timestamp column is not numeric")
			}

			var values []float64
			for _, cell := range cells[1:] {
				values = numbers(cell, values)
			}

			if len(values) == 0 {
				return nil
			}

			mean := stat.Mean(values, nil)
			if math.IsNaN(mean) || math.IsInf(mean, 0) {
				return nil
			}

			series.Time = append(series.Time, ts[0])
			series.Value = append(series.Value, mean)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return series, nil
}

// withTable opens path and calls fn with the configured table HDU.
func (r *FITSReader) withTable(path string, fn func(tbl *fitsio.Table) error) error {
	f, err := os.Open(path) //nolint:gosec // paths come from the crawled tree
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	ff, err := fitsio.Open(f)
	if err != nil {
		return fmt.Errorf("decoding FITS file %s: %w", path, err)
	}
	defer func() { _ = ff.Close() }()

	hdus := ff.HDUs()
	if r.HDU < 0 || r.HDU >= len(hdus) {
		return fmt.Errorf("%s: HDU %d not present (file has %d)", path, r.HDU, len(hdus))
	}

	tbl, ok := hdus[r.HDU].(*fitsio.Table)
	if !ok {
		return fmt.Errorf("%s: HDU %d is not a table", path, r.HDU)
	}

	if tbl.NumCols() == 0 {
		return fmt.Errorf("%s: table has no columns", path)
	}

	if err := fn(tbl); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	return nil
}

// readTimestamps returns the first numeric value of column 0 for rows
// [beg, end).
func readTimestamps(tbl *fitsio.Table, beg, end int64) ([]float64, error) {
	out := make([]float64, 0, end-beg)

	err := scanRows(tbl, beg, end, func(cells []reflect.Value) error {
		ts := numbers(cells[0], nil)
		if len(ts) == 0 {
			return fmt.Errorf("timestamp column is not numeric")
		}

		out = append(out, ts[0])

		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(out) == 0 {
		return nil, ErrEmptyTable
	}

	return out, nil
}

// scanRows decodes rows [beg, end) into freshly allocated cells, one per
// column, and hands them to fn.
func scanRows(
	tbl *fitsio.Table, beg, end int64, fn func(cells []reflect.Value) error,
) error {
	rows, err := tbl.Read(beg, end)
	if err != nil {
		return fmt.Errorf("reading rows [%d, %d): %w", beg, end, err)
	}
	defer func() { _ = rows.Close() }()

	cols := tbl.Cols()

	for rows.Next() {
		ptrs := make([]any, len(cols))
		cells := make([]reflect.Value, len(cols))

		for i := range cols {
			ptr := reflect.New(cols[i].Type())
			ptrs[i] = ptr.Interface()
			cells[i] = ptr.Elem()
		}

		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}

		if err := fn(cells); err != nil {
			return err
		}
	}

	return rows.Err()
}

// numbers appends every numeric value held by v (scalars, arrays and slices,
// flattened) to dst.
func numbers(v reflect.Value, dst []float64) []float64 {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return append(dst, float64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return append(dst, float64(v.Uint()))
	case reflect.Float32, reflect.Float64:
		return append(dst, v.Float())
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			dst = numbers(v.Index(i), dst)
		}

		return dst
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return dst
		}

		return numbers(v.Elem(), dst)
	default:
		return dst
	}
}
