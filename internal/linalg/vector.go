// Package linalg provides the small fixed-dimension vector and matrix values
// used by the plant model and the controller. Every operation is pure and
// returns a new value; operands of different dimension are rejected with
// ErrDimensionMismatch instead of being truncated.
package linalg

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// #region errors
var (
	// ErrDimensionMismatch is returned when two operands disagree in size.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrIndexOutOfRange is returned when a row or column index is outside the matrix.
	ErrIndexOutOfRange = errors.New("index out of range")
)

func mismatch(op string, a, b int) error {
	return fmt.Errorf("%s: %w (%d vs %d)", op, ErrDimensionMismatch, a, b)
}

// #endregion errors

// #region vector
// Vector is an immutable column vector. The zero value is the empty vector.
type Vector struct {
	vec *mat.VecDense
}

// NewVector copies data into a new vector.
func NewVector(data ...float64) Vector {
	if len(data) == 0 {
		return Vector{}
	}
	buf := make([]float64, len(data))
	copy(buf, data)
	return Vector{vec: mat.NewVecDense(len(buf), buf)}
}

// Zeros returns an n-dimensional zero vector.
func Zeros(n int) Vector {
	if n <= 0 {
		return Vector{}
	}
	return Vector{vec: mat.NewVecDense(n, nil)}
}

// Len returns the dimension of v.
func (v Vector) Len() int {
	if v.vec == nil {
		return 0
	}
	return v.vec.Len()
}

// At returns the i-th component. It panics if i is out of range, like a slice index.
func (v Vector) At(i int) float64 {
	if i < 0 || i >= v.Len() {
		panic(fmt.Sprintf("linalg: vector index %d out of range [0,%d)", i, v.Len()))
	}
	return v.vec.AtVec(i)
}

// Data returns a copy of the components.
func (v Vector) Data() []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.vec.AtVec(i)
	}
	return out
}

// Add returns v + w.
func (v Vector) Add(w Vector) (Vector, error) {
	if v.Len() != w.Len() {
		return Vector{}, mismatch("add", v.Len(), w.Len())
	}
	if v.Len() == 0 {
		return Vector{}, nil
	}
	out := mat.NewVecDense(v.Len(), nil)
	out.AddVec(v.vec, w.vec)
	return Vector{vec: out}, nil
}

// Sub returns v - w.
func (v Vector) Sub(w Vector) (Vector, error) {
	if v.Len() != w.Len() {
		return Vector{}, mismatch("sub", v.Len(), w.Len())
	}
	if v.Len() == 0 {
		return Vector{}, nil
	}
	out := mat.NewVecDense(v.Len(), nil)
	out.SubVec(v.vec, w.vec)
	return Vector{vec: out}, nil
}

// Scale returns s * v.
func (v Vector) Scale(s float64) Vector {
	if v.Len() == 0 {
		return Vector{}
	}
	out := mat.NewVecDense(v.Len(), nil)
	out.ScaleVec(s, v.vec)
	return Vector{vec: out}
}

// Hadamard returns the element-wise product of v and w.
func (v Vector) Hadamard(w Vector) (Vector, error) {
	if v.Len() != w.Len() {
		return Vector{}, mismatch("hadamard", v.Len(), w.Len())
	}
	if v.Len() == 0 {
		return Vector{}, nil
	}
	out := mat.NewVecDense(v.Len(), nil)
	out.MulElemVec(v.vec, w.vec)
	return Vector{vec: out}, nil
}

// Dot returns the inner product of v and w.
func (v Vector) Dot(w Vector) (float64, error) {
	if v.Len() != w.Len() {
		return 0, mismatch("dot", v.Len(), w.Len())
	}
	if v.Len() == 0 {
		return 0, nil
	}
	return mat.Dot(v.vec, w.vec), nil
}

// Magnitude returns the Euclidean norm of v.
func (v Vector) Magnitude() float64 {
	if v.Len() == 0 {
		return 0
	}
	return mat.Norm(v.vec, 2)
}

// String formats v with two decimals, e.g. "[0.20, 0.00, 0.00]".
func (v Vector) String() string {
	parts := make([]string, v.Len())
	for i := range parts {
		parts[i] = fmt.Sprintf("%.2f", v.vec.AtVec(i))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// #endregion vector
