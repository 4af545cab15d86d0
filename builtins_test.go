package sheetcalc

import (
	"math"
	"testing"
	"time"
)

// fixedClock pins NOW and TODAY for deterministic assertions
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// fixedRandom replays a canned sequence
type fixedRandom struct {
	values []float64
	pos    int
}

func (r *fixedRandom) Float64() float64 {
	v := r.values[r.pos%len(r.values)]
	r.pos++
	return v
}

func builtinRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// call runs a builtin and fails the test on any error
func call(t *testing.T, r *Registry, name string, args ...Primitive) Primitive {
	t.Helper()
	result, err := r.Call(nil, name, args)
	if err != nil {
		t.Fatalf("%s(%v) failed: %v", name, args, err)
	}
	return result
}

// callErr runs a builtin expecting a cell error with the given code
func callErr(t *testing.T, r *Registry, wantCode ErrorCode, name string, args ...Primitive) {
	t.Helper()
	_, err := r.Call(nil, name, args)
	ce := AsCalcError(err)
	if ce == nil || ce.Code != wantCode {
		t.Fatalf("%s(%v) error = %v, want %s", name, args, err, wantCode)
	}
}

func TestNumericBuiltins(t *testing.T) {
	r := builtinRegistry()

	tests := []struct {
		name string
		fn   string
		args []Primitive
		want Primitive
	}{
		{"sum", "SUM", []Primitive{1.0, 2.0, 3.0}, 6.0},
		{"sum filters text", "SUM", []Primitive{1.0, "text", 2.0, nil, 3.0}, 6.0},
		{"sum empty", "SUM", nil, 0.0},
		{"average", "AVERAGE", []Primitive{2.0, 4.0, 6.0}, 4.0},
		{"min", "MIN", []Primitive{3.0, -1.0, 2.0}, -1.0},
		{"max", "MAX", []Primitive{3.0, -1.0, 2.0}, 3.0},
		{"min empty", "MIN", nil, 0.0},
		{"count filters non-numbers", "COUNT", []Primitive{1.0, "x", 2.0, nil}, 2.0},
		{"truncate", "TRUNCATE", []Primitive{12.634}, 12.0},
		{"truncate negative", "TRUNCATE", []Primitive{-12.634}, -12.0},
		{"truncate coerces bool", "TRUNCATE", []Primitive{true}, 1.0},
		{"abs", "ABS", []Primitive{-3.5}, 3.5},
		{"sqrt", "SQRT", []Primitive{9.0}, 3.0},
		{"power", "POWER", []Primitive{2.0, 10.0}, 1024.0},
		{"mod", "MOD", []Primitive{7.0, 3.0}, 1.0},
		{"pi", "PI", nil, math.Pi},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := call(t, r, tt.fn, tt.args...); got != tt.want {
				t.Errorf("%s(%v) = %v, want %v", tt.fn, tt.args, got, tt.want)
			}
		})
	}
}

func TestBuiltinFailures(t *testing.T) {
	r := builtinRegistry()

	tests := []struct {
		name string
		code ErrorCode
		fn   string
		args []Primitive
	}{
		{"average of nothing", ErrorCodeDiv0, "AVERAGE", []Primitive{"x", nil}},
		{"sqrt of negative", ErrorCodeNum, "SQRT", []Primitive{-1.0}},
		{"mod by zero", ErrorCodeDiv0, "MOD", []Primitive{7.0, 0.0}},
		{"log of zero", ErrorCodeValue, "LOG", []Primitive{0.0}},
		{"log base one", ErrorCodeDiv0, "LOG", []Primitive{100.0, 1.0}},
		{"pi rejects extra args", ErrorCodeNA, "PI", []Primitive{1.0}},
		{"abs needs an argument", ErrorCodeNA, "ABS", nil},
		{"sum aborts on error value", ErrorCodeDiv0, "SUM", []Primitive{1.0, NewCalcError(ErrorCodeDiv0, ""), 2.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			callErr(t, r, tt.code, tt.fn, tt.args...)
		})
	}
}

func TestLog(t *testing.T) {
	r := builtinRegistry()

	if got := call(t, r, "LOG", 100.0); !closeTo(got.(float64), 2) {
		t.Errorf("LOG(100) = %v, want 2 (default base 10)", got)
	}
	if got := call(t, r, "LOG", 8.0, 2.0); !closeTo(got.(float64), 3) {
		t.Errorf("LOG(8, 2) = %v, want 3", got)
	}
}

func TestJoin(t *testing.T) {
	r := builtinRegistry()

	if got := call(t, r, "JOIN", "-", 1.0, 2.0, 3.0); got != "1-2-3" {
		t.Errorf("JOIN = %v, want 1-2-3", got)
	}
	if got := call(t, r, "JOIN", "."); got != "" {
		t.Errorf("JOIN with no values = %q, want empty string", got)
	}
	// #collect drops error values instead of aborting
	if got := call(t, r, "JOIN", ",", "a", NewCalcError(ErrorCodeDiv0, ""), "b"); got != "a,b" {
		t.Errorf("JOIN should skip error values, got %v", got)
	}
	if got := call(t, r, "JOIN", " ", true, 2.5); got != "TRUE 2.5" {
		t.Errorf("JOIN formatting = %v, want %q", got, "TRUE 2.5")
	}
}

func TestDistance(t *testing.T) {
	r := builtinRegistry()

	if got := call(t, r, "DISTANCE", 0.0, 0.0, 3.0, 4.0); got != 5.0 {
		t.Errorf("DISTANCE = %v, want 5", got)
	}
	if got := call(t, r, "DISTANCE", 1.0, 1.0, 1.0, 1.0); got != 0.0 {
		t.Errorf("distance between identical points = %v, want 0", got)
	}
	forward := call(t, r, "DISTANCE", -2.0, 7.0, 5.0, -1.0)
	backward := call(t, r, "DISTANCE", 5.0, -1.0, -2.0, 7.0)
	if forward != backward {
		t.Errorf("distance should be symmetric: %v vs %v", forward, backward)
	}
}

func TestCountCells(t *testing.T) {
	r := builtinRegistry()

	cell := CellRef{Sheet: "S", Row: 0, Col: 0}
	block := MakeRange(cell, CellRef{Sheet: "S", Row: 2, Col: 2})

	if got := call(t, r, "COUNTCELLS", cell); got != 1.0 {
		t.Errorf("COUNTCELLS(cell) = %v, want 1", got)
	}
	if got := call(t, r, "COUNTCELLS", block); got != 9.0 {
		t.Errorf("COUNTCELLS(3x3) = %v, want 9", got)
	}
	// overlapping union members are counted independently
	union := UnionRef{block, CellRef{Sheet: "S", Row: 1, Col: 1}, cell}
	if got := call(t, r, "COUNTCELLS", union); got != 11.0 {
		t.Errorf("COUNTCELLS(union) = %v, want 11", got)
	}
	callErr(t, r, ErrorCodeValue, "COUNTCELLS", 5.0)
}

func TestClockBuiltins(t *testing.T) {
	r := NewRegistry()
	moment := time.Date(2026, 8, 26, 18, 0, 0, 0, time.UTC)
	RegisterBuiltinsWith(r, &fixedClock{now: moment}, &DefaultRandomGenerator{})

	now := call(t, r, "NOW").(float64)
	if back := TimeFromSerial(now); !back.Equal(moment) {
		t.Errorf("NOW round-trips to %v, want %v", back, moment)
	}

	today := call(t, r, "TODAY").(float64)
	if today != math.Floor(now) {
		t.Errorf("TODAY = %v, want the date part of NOW (%v)", today, math.Floor(now))
	}
	if def, _ := r.Lookup("NOW"); !def.Volatile {
		t.Errorf("NOW must be volatile")
	}
}

func TestRand(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltinsWith(r, &WallClock{}, &fixedRandom{values: []float64{0.25, 0.75}})

	if got := call(t, r, "RAND"); got != 0.25 {
		t.Errorf("RAND = %v, want 0.25", got)
	}
	if got := call(t, r, "RAND"); got != 0.75 {
		t.Errorf("RAND = %v, want 0.75", got)
	}
	if def, _ := r.Lookup("RAND"); !def.Volatile {
		t.Errorf("RAND must be volatile")
	}
}

func TestDateBuiltins(t *testing.T) {
	r := builtinRegistry()

	serial := call(t, r, "DATE", 2024.0, 2.0, 29.0).(float64)
	if got := call(t, r, "YEAR", serial); got != 2024.0 {
		t.Errorf("YEAR = %v, want 2024", got)
	}
	if got := call(t, r, "MONTH", serial); got != 2.0 {
		t.Errorf("MONTH = %v, want 2", got)
	}
	if got := call(t, r, "DAY", serial); got != 29.0 {
		t.Errorf("DAY = %v, want 29", got)
	}
	// the date tag truncates a datetime serial to its date part
	if got := call(t, r, "DAY", serial+0.75); got != 29.0 {
		t.Errorf("DAY of an afternoon serial = %v, want 29", got)
	}
}

func numericMatrix(t *testing.T, values [][]float64) [][]Primitive {
	t.Helper()
	grid := make([][]Primitive, len(values))
	for row, cols := range values {
		grid[row] = make([]Primitive, len(cols))
		for col, v := range cols {
			grid[row][col] = v
		}
	}
	return grid
}

func matrixCtx() *Context {
	wb := NewMemoryWorkbook()
	wb.AddSheet("Sheet1")
	return NewContext(wb, CellRef{Sheet: "Sheet1", Row: 0, Col: 0})
}

func TestMatrixBuiltins(t *testing.T) {
	r := builtinRegistry()
	ctx := matrixCtx()

	a := numericMatrix(t, [][]float64{{1, 2}, {3, 4}})

	result, err := r.Call(ctx, "TRANSPOSE", []Primitive{a})
	if err != nil {
		t.Fatalf("TRANSPOSE failed: %v", err)
	}
	tr := result.(*Matrix)
	if tr.Get(0, 1) != 3.0 || tr.Get(1, 0) != 2.0 {
		t.Errorf("TRANSPOSE wrong: %v / %v", tr.Get(0, 1), tr.Get(1, 0))
	}

	result, err = r.Call(ctx, "MDETERM", []Primitive{a})
	if err != nil {
		t.Fatalf("MDETERM failed: %v", err)
	}
	if !closeTo(result.(float64), -2) {
		t.Errorf("MDETERM = %v, want -2", result)
	}

	result, err = r.Call(ctx, "MMULT", []Primitive{a, numericMatrix(t, [][]float64{{1, 0}, {0, 1}})})
	if err != nil {
		t.Fatalf("MMULT failed: %v", err)
	}
	product := result.(*Matrix)
	if product.Get(1, 0) != 3.0 {
		t.Errorf("MMULT by identity altered the matrix")
	}

	result, err = r.Call(ctx, "MINVERSE", []Primitive{a})
	if err != nil {
		t.Fatalf("MINVERSE failed: %v", err)
	}
	inverse := result.(*Matrix)
	am, err := ctx.AsMatrix(a)
	if err != nil {
		t.Fatalf("AsMatrix failed: %v", err)
	}
	identity, err := am.Multiply(inverse)
	if err != nil {
		t.Fatalf("Multiply failed: %v", err)
	}
	if got, _ := toNumber(identity.Get(0, 0)); !closeTo(got, 1) {
		t.Errorf("a * a^-1 top-left = %v, want 1", got)
	}

	result, err = r.Call(ctx, "MUNIT", []Primitive{3.0})
	if err != nil {
		t.Fatalf("MUNIT failed: %v", err)
	}
	unit := result.(*Matrix)
	if unit.Width != 3 || unit.Height != 3 {
		t.Errorf("MUNIT dimensions = %dx%d, want 3x3", unit.Height, unit.Width)
	}
}

func TestMatrixBuiltinFailures(t *testing.T) {
	r := builtinRegistry()
	ctx := matrixCtx()

	twoByThree := numericMatrix(t, [][]float64{{1, 2, 3}, {4, 5, 6}})
	square := numericMatrix(t, [][]float64{{1, 2}, {3, 4}})
	singular := numericMatrix(t, [][]float64{{1, 2}, {2, 4}})

	cases := []struct {
		name string
		code ErrorCode
		fn   string
		args []Primitive
	}{
		{"mmult dimension mismatch", ErrorCodeValue, "MMULT", []Primitive{twoByThree, square}},
		{"mdeterm non-square", ErrorCodeValue, "MDETERM", []Primitive{twoByThree}},
		{"minverse singular", ErrorCodeNum, "MINVERSE", []Primitive{singular}},
		{"munit rejects zero", ErrorCodeValue, "MUNIT", []Primitive{0.0}},
		{"matrix rejects scalar text", ErrorCodeValue, "MDETERM", []Primitive{"nope"}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Call(ctx, tt.fn, tt.args)
			ce := AsCalcError(err)
			if ce == nil || ce.Code != tt.code {
				t.Errorf("%s error = %v, want %s", tt.fn, err, tt.code)
			}
		})
	}
}
