package sheetcalc

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// RegisterBuiltins registers the default primitive set with wall-clock
// time and the standard random source.
func RegisterBuiltins(r *Registry) {
	RegisterBuiltinsWith(r, &WallClock{}, &DefaultRandomGenerator{})
}

// RegisterBuiltinsWith registers the default primitive set with injected
// time and randomness, for deterministic tests.
func RegisterBuiltinsWith(r *Registry, clock Clock, rng RandomGenerator) {
	numbersOf := func(args []Primitive) []float64 {
		values := args[0].([]Primitive)
		numbers := make([]float64, len(values))
		for i, v := range values {
			numbers[i] = v.(float64)
		}
		return numbers
	}

	r.Define("SUM", func(ctx *Context, args []Primitive) (Primitive, error) {
		sum := 0.0
		for _, num := range numbersOf(args) {
			sum += num
		}
		return sum, nil
	}).Args(Arg{"values", []any{"collect", "number"}})

	r.Define("AVERAGE", func(ctx *Context, args []Primitive) (Primitive, error) {
		numbers := numbersOf(args)
		if len(numbers) == 0 {
			return nil, NewCalcError(ErrorCodeDiv0, "")
		}
		sum := 0.0
		for _, num := range numbers {
			sum += num
		}
		return sum / float64(len(numbers)), nil
	}).Args(Arg{"values", []any{"collect", "number"}})

	r.Define("MIN", func(ctx *Context, args []Primitive) (Primitive, error) {
		numbers := numbersOf(args)
		if len(numbers) == 0 {
			return 0.0, nil
		}
		min := math.Inf(1)
		for _, num := range numbers {
			if num < min {
				min = num
			}
		}
		return min, nil
	}).Args(Arg{"values", []any{"collect", "number"}})

	r.Define("MAX", func(ctx *Context, args []Primitive) (Primitive, error) {
		numbers := numbersOf(args)
		if len(numbers) == 0 {
			return 0.0, nil
		}
		max := math.Inf(-1)
		for _, num := range numbers {
			if num > max {
				max = num
			}
		}
		return max, nil
	}).Args(Arg{"values", []any{"collect", "number"}})

	r.Define("COUNT", func(ctx *Context, args []Primitive) (Primitive, error) {
		return float64(len(args[0].([]Primitive))), nil
	}).Args(Arg{"values", []any{"collect", "number"}})

	r.Define("COUNTCELLS", func(ctx *Context, args []Primitive) (Primitive, error) {
		return float64(args[0].(Reference).CellCount()), nil
	}).Args(Arg{"ref", "ref"})

	r.Define("JOIN", func(ctx *Context, args []Primitive) (Primitive, error) {
		values := args[1].([]Primitive)
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = toString(v)
		}
		return strings.Join(parts, args[0].(string)), nil
	}).Args(
		Arg{"separator", "string"},
		Arg{"values", []any{"#collect", "anyvalue"}},
	)

	r.Define("LOG", func(ctx *Context, args []Primitive) (Primitive, error) {
		return math.Log(args[0].(float64)) / math.Log(args[1].(float64)), nil
	}).Args(
		Arg{"x", "number++"},
		Arg{"base", []any{"and",
			[]any{"or", "number++", []any{"null", 10.0}},
			[]any{"assert", "$base != 1", "DIV/0"},
		}},
	)

	r.Define("TRUNCATE", func(ctx *Context, args []Primitive) (Primitive, error) {
		return args[0], nil
	}).Args(Arg{"value", "integer"})

	r.Define("ABS", func(ctx *Context, args []Primitive) (Primitive, error) {
		return math.Abs(args[0].(float64)), nil
	}).Args(Arg{"value", "number"})

	r.Define("SQRT", func(ctx *Context, args []Primitive) (Primitive, error) {
		return math.Sqrt(args[0].(float64)), nil
	}).Args(Arg{"value", []any{"and", "number", []any{"assert", "$value >= 0", "NUM"}}})

	r.Define("POWER", func(ctx *Context, args []Primitive) (Primitive, error) {
		return math.Pow(args[0].(float64), args[1].(float64)), nil
	}).Args(Arg{"base", "number"}, Arg{"exponent", "number"})

	r.Define("MOD", func(ctx *Context, args []Primitive) (Primitive, error) {
		return math.Mod(args[0].(float64), args[1].(float64)), nil
	}).Args(Arg{"dividend", "number"}, Arg{"divisor", "divisor"})

	r.Define("PI", func(ctx *Context, args []Primitive) (Primitive, error) {
		return math.Pi, nil
	}).Args()

	r.Define("DISTANCE", func(ctx *Context, args []Primitive) (Primitive, error) {
		dx := args[2].(float64) - args[0].(float64)
		dy := args[3].(float64) - args[1].(float64)
		return math.Hypot(dx, dy), nil
	}).Args(
		Arg{"x1", "number"}, Arg{"y1", "number"},
		Arg{"x2", "number"}, Arg{"y2", "number"},
	)

	r.Define("NOW", func(ctx *Context, args []Primitive) (Primitive, error) {
		return SerialFromTime(clock.Now()), nil
	}).Args().Volatile()

	r.Define("TODAY", func(ctx *Context, args []Primitive) (Primitive, error) {
		return math.Floor(SerialFromTime(clock.Now())), nil
	}).Args().Volatile()

	r.Define("RAND", func(ctx *Context, args []Primitive) (Primitive, error) {
		return rng.Float64(), nil
	}).Args().Volatile()

	r.Define("DATE", func(ctx *Context, args []Primitive) (Primitive, error) {
		return PackDate(int(args[0].(float64)), int(args[1].(float64)), int(args[2].(float64))), nil
	}).Args(Arg{"year", "integer"}, Arg{"month", "integer"}, Arg{"day", "integer"})

	r.Define("YEAR", func(ctx *Context, args []Primitive) (Primitive, error) {
		year, _, _ := UnpackDate(args[0].(float64))
		return float64(year), nil
	}).Args(Arg{"date", "date"})

	r.Define("MONTH", func(ctx *Context, args []Primitive) (Primitive, error) {
		_, month, _ := UnpackDate(args[0].(float64))
		return float64(month), nil
	}).Args(Arg{"date", "date"})

	r.Define("DAY", func(ctx *Context, args []Primitive) (Primitive, error) {
		_, _, day := UnpackDate(args[0].(float64))
		return float64(day), nil
	}).Args(Arg{"date", "date"})

	r.Define("TRANSPOSE", func(ctx *Context, args []Primitive) (Primitive, error) {
		return args[0].(*Matrix).Transpose(), nil
	}).Args(Arg{"matrix", "matrix"})

	r.Define("MMULT", func(ctx *Context, args []Primitive) (Primitive, error) {
		product, err := args[0].(*Matrix).Multiply(args[1].(*Matrix))
		if err != nil {
			return nil, NewCalcError(ErrorCodeValue, "incompatible matrix dimensions")
		}
		return product, nil
	}).Args(Arg{"a", "matrix"}, Arg{"b", "matrix"})

	r.Define("MDETERM", func(ctx *Context, args []Primitive) (Primitive, error) {
		m := args[0].(*Matrix)
		if err := requireSquareNumeric(m); err != nil {
			return nil, err
		}
		return m.Determinant(), nil
	}).Args(Arg{"matrix", "matrix"})

	r.Define("MINVERSE", func(ctx *Context, args []Primitive) (Primitive, error) {
		m := args[0].(*Matrix)
		if err := requireSquareNumeric(m); err != nil {
			return nil, err
		}
		inverse, ok := m.Inverse()
		if !ok {
			return nil, NewCalcError(ErrorCodeNum, "matrix is singular")
		}
		return inverse, nil
	}).Args(Arg{"matrix", "matrix"})

	r.Define("MUNIT", func(ctx *Context, args []Primitive) (Primitive, error) {
		return UnitMatrix(int(args[0].(float64))), nil
	}).Args(Arg{"n", "integer++"})
}

// requireSquareNumeric validates the preconditions of the determinant
// and inverse operations at the primitive boundary.
func requireSquareNumeric(m *Matrix) *CalcError {
	if m.Width != m.Height {
		return NewCalcError(ErrorCodeValue, "matrix must be square")
	}
	var failure *CalcError
	m.Each(func(value Primitive, row, col int) {
		if failure != nil {
			return
		}
		if _, ok := toNumber(value); !ok {
			failure = NewCalcError(ErrorCodeValue, "matrix must be numeric")
		}
	}, false)
	return failure
}
