package linalg

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix is an immutable dense matrix. The zero value has no rows.
type Matrix struct {
	m *mat.Dense
}

// NewMatrix builds a matrix from row slices. Empty or ragged input is rejected.
func NewMatrix(rows [][]float64) (Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Matrix{}, fmt.Errorf("new matrix: %w (empty)", ErrDimensionMismatch)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return Matrix{}, fmt.Errorf("new matrix row %d: %w", i, mismatch("row length", cols, len(row)))
		}
		data = append(data, row...)
	}
	return Matrix{m: mat.NewDense(len(rows), cols, data)}, nil
}

// MustMatrix is NewMatrix for literals known to be well formed.
func MustMatrix(rows [][]float64) Matrix {
	m, err := NewMatrix(rows)
	if err != nil {
		panic(err)
	}
	return m
}

// Identity returns the n×n identity matrix.
func Identity(n int) Matrix {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		rows[i][i] = 1
	}
	return MustMatrix(rows)
}

// Dims returns the number of rows and columns.
func (m Matrix) Dims() (r, c int) {
	if m.m == nil {
		return 0, 0
	}
	return m.m.Dims()
}

// Contains reports whether (i, j) addresses an entry of m.
func (m Matrix) Contains(i, j int) bool {
	r, c := m.Dims()
	return i >= 0 && i < r && j >= 0 && j < c
}

// At returns entry (i, j). It panics if the index is out of range.
func (m Matrix) At(i, j int) float64 {
	if !m.Contains(i, j) {
		r, c := m.Dims()
		panic(fmt.Sprintf("linalg: matrix index (%d,%d) out of range %dx%d", i, j, r, c))
	}
	return m.m.At(i, j)
}

// With returns a copy of m with entry (i, j) replaced by v.
func (m Matrix) With(i, j int, v float64) (Matrix, error) {
	if !m.Contains(i, j) {
		r, c := m.Dims()
		return Matrix{}, fmt.Errorf("set (%d,%d) in %dx%d: %w", i, j, r, c, ErrIndexOutOfRange)
	}
	out := mat.DenseCopyOf(m.m)
	out.Set(i, j, v)
	return Matrix{m: out}, nil
}

// Row returns row i as a vector.
func (m Matrix) Row(i int) Vector {
	r, _ := m.Dims()
	if i < 0 || i >= r {
		panic(fmt.Sprintf("linalg: row %d out of range [0,%d)", i, r))
	}
	return NewVector(m.m.RawRowView(i)...)
}

// Rows returns a copy of the entries as row slices.
func (m Matrix) Rows() [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		copy(out[i], m.m.RawRowView(i))
	}
	return out
}

// MulVec returns m × x.
func (m Matrix) MulVec(x Vector) (Vector, error) {
	r, c := m.Dims()
	if c != x.Len() || r == 0 {
		return Vector{}, mismatch("mulvec", c, x.Len())
	}
	out := mat.NewVecDense(r, nil)
	out.MulVec(m.m, x.vec)
	return Vector{vec: out}, nil
}
