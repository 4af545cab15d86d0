package sheetcalc

import (
	"math"

	"github.com/pkg/errors"
)

// matrixKey addresses one slot of the sparse backing store
type matrixKey struct {
	row int
	col int
}

// Matrix is a two-dimensional, possibly sparse container of Primitive
// values used for array-formula results and range arguments. Absent slots
// are "empty"; storing nil clears a slot. A Matrix is owned exclusively
// by the evaluation that produced it.
type Matrix struct {
	Width  int
	Height int

	cells map[matrixKey]Primitive
}

// NewMatrix creates an empty height x width matrix.
func NewMatrix(height, width int) *Matrix {
	if height < 0 || width < 0 {
		panic(errors.Errorf("sheetcalc: invalid matrix dimensions %dx%d", height, width))
	}
	return &Matrix{
		Width:  width,
		Height: height,
		cells:  make(map[matrixKey]Primitive),
	}
}

// UnitMatrix returns the n x n identity matrix.
func UnitMatrix(n int) *Matrix {
	m := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1.0)
	}
	return m
}

// checkBounds panics on out-of-range access. Bounds violations indicate a
// bug in the integration layer, not user input, so they fail loudly
// instead of being surfaced as a cell error.
func (m *Matrix) checkBounds(row, col int) {
	if row < 0 || row >= m.Height || col < 0 || col >= m.Width {
		panic(errors.Errorf("sheetcalc: matrix index (%d,%d) out of bounds %dx%d",
			row, col, m.Height, m.Width))
	}
}

// Get returns the stored value, or nil when the slot is empty.
func (m *Matrix) Get(row, col int) Primitive {
	m.checkBounds(row, col)
	return m.cells[matrixKey{row, col}]
}

// IsEmpty reports whether the slot holds no value.
func (m *Matrix) IsEmpty(row, col int) bool {
	m.checkBounds(row, col)
	_, ok := m.cells[matrixKey{row, col}]
	return !ok
}

// Set stores a value. Storing nil empties the slot.
func (m *Matrix) Set(row, col int, value Primitive) {
	m.checkBounds(row, col)
	if value == nil {
		delete(m.cells, matrixKey{row, col})
		return
	}
	m.cells[matrixKey{row, col}] = value
}

// Clone returns an independent copy of the matrix.
func (m *Matrix) Clone() *Matrix {
	clone := NewMatrix(m.Height, m.Width)
	for key, value := range m.cells {
		clone.cells[key] = value
	}
	return clone
}

// Each invokes fn for every cell, first across columns, then rows. When
// includeEmpty is false, empty slots do not invoke fn.
func (m *Matrix) Each(fn func(value Primitive, row, col int), includeEmpty bool) {
	for row := 0; row < m.Height; row++ {
		for col := 0; col < m.Width; col++ {
			value, ok := m.cells[matrixKey{row, col}]
			if !ok && !includeEmpty {
				continue
			}
			fn(value, row, col)
		}
	}
}

// Map produces a new matrix of identical dimensions by applying fn to
// each cell. When includeEmpty is false, empty slots are copied through
// unmodified (i.e. stay empty) without invoking fn.
func (m *Matrix) Map(fn func(value Primitive, row, col int) Primitive, includeEmpty bool) *Matrix {
	result := NewMatrix(m.Height, m.Width)
	for row := 0; row < m.Height; row++ {
		for col := 0; col < m.Width; col++ {
			value, ok := m.cells[matrixKey{row, col}]
			if !ok && !includeEmpty {
				continue
			}
			result.Set(row, col, fn(value, row, col))
		}
	}
	return result
}

// Transpose returns the width x height transpose of the matrix.
func (m *Matrix) Transpose() *Matrix {
	result := NewMatrix(m.Width, m.Height)
	for key, value := range m.cells {
		result.cells[matrixKey{key.col, key.row}] = value
	}
	return result
}

// Multiply returns the standard matrix product m x other. It requires
// m.Width == other.Height and returns ErrDimensionMismatch otherwise.
// Empty and non-numeric slots contribute zero.
func (m *Matrix) Multiply(other *Matrix) (*Matrix, error) {
	if m.Width != other.Height {
		return nil, errors.Wrapf(ErrDimensionMismatch, "%dx%d * %dx%d",
			m.Height, m.Width, other.Height, other.Width)
	}
	result := NewMatrix(m.Height, other.Width)
	for row := 0; row < m.Height; row++ {
		for col := 0; col < other.Width; col++ {
			sum := 0.0
			for k := 0; k < m.Width; k++ {
				sum += m.numberAt(row, k) * other.numberAt(k, col)
			}
			result.Set(row, col, sum)
		}
	}
	return result, nil
}

// numberAt reads a slot as a float64, treating empty and non-numeric
// slots as zero. Numeric-only operations validate their inputs through
// the type-specifier system before reaching this point.
func (m *Matrix) numberAt(row, col int) float64 {
	if num, ok := toNumber(m.cells[matrixKey{row, col}]); ok {
		return num
	}
	return 0
}

// toDense copies the matrix into a dense float64 grid
func (m *Matrix) toDense() [][]float64 {
	data := make([][]float64, m.Height)
	for row := range data {
		data[row] = make([]float64, m.Width)
		for col := 0; col < m.Width; col++ {
			data[row][col] = m.numberAt(row, col)
		}
	}
	return data
}

// Determinant computes the determinant via Gaussian elimination with
// partial pivoting. Precondition: the matrix is square and all-numeric;
// behavior for other inputs is unspecified and callers are expected to
// validate through the type system first.
func (m *Matrix) Determinant() float64 {
	n := m.Height
	if n == 0 {
		return 1
	}
	data := m.toDense()

	det := 1.0
	for col := 0; col < n; col++ {
		// pick the largest pivot in this column
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(data[row][col]) > math.Abs(data[pivot][col]) {
				pivot = row
			}
		}
		if data[pivot][col] == 0 {
			return 0
		}
		if pivot != col {
			data[pivot], data[col] = data[col], data[pivot]
			det = -det
		}
		det *= data[col][col]
		for row := col + 1; row < n; row++ {
			factor := data[row][col] / data[col][col]
			for k := col; k < n; k++ {
				data[row][k] -= factor * data[col][k]
			}
		}
	}
	return det
}

// Inverse computes the matrix inverse via Gauss-Jordan elimination. The
// second return value is false when no inverse exists (zero determinant);
// that is a sentinel, not an error. Same preconditions as Determinant.
func (m *Matrix) Inverse() (*Matrix, bool) {
	n := m.Height
	data := m.toDense()

	// augment with the identity
	aug := make([][]float64, n)
	for row := range aug {
		aug[row] = make([]float64, 2*n)
		copy(aug[row], data[row])
		aug[row][n+row] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(aug[row][col]) > math.Abs(aug[pivot][col]) {
				pivot = row
			}
		}
		if aug[pivot][col] == 0 {
			return nil, false
		}
		aug[pivot], aug[col] = aug[col], aug[pivot]

		scale := aug[col][col]
		for k := 0; k < 2*n; k++ {
			aug[col][k] /= scale
		}
		for row := 0; row < n; row++ {
			if row == col || aug[row][col] == 0 {
				continue
			}
			factor := aug[row][col]
			for k := 0; k < 2*n; k++ {
				aug[row][k] -= factor * aug[col][k]
			}
		}
	}

	result := NewMatrix(n, n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			result.Set(row, col, aug[row][n+col])
		}
	}
	return result, true
}

// Equal reports whether both matrices have the same dimensions and the
// same stored values, with identical empty slots.
func (m *Matrix) Equal(other *Matrix) bool {
	if m.Width != other.Width || m.Height != other.Height {
		return false
	}
	if len(m.cells) != len(other.cells) {
		return false
	}
	for key, value := range m.cells {
		otherValue, ok := other.cells[key]
		if !ok || otherValue != value {
			return false
		}
	}
	return true
}
