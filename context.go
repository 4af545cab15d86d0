package sheetcalc

import "github.com/pkg/errors"

// Workbook is the external owner of sheet data. The engine treats it as
// read-mostly during a recalculation pass; any writes a primitive
// performs through side channels are outside this contract.
type Workbook interface {
	// CellValue returns the current value stored at ref. ok=false means
	// the referenced location no longer exists (deleted sheet, row or
	// column); readers observe such references as NullRef semantics.
	CellValue(ref CellRef) (value Primitive, ok bool)

	// NeedsRecalc reports whether ref holds a formula whose value is
	// stale and must be computed before it can be read.
	NeedsRecalc(ref CellRef) bool

	// Recalc evaluates the formula at ref and stores its result
	// (including *CalcError results) as the cell's value. ctx carries
	// the in-progress circular-reference guard and must be threaded
	// into any nested primitive invocation.
	Recalc(ref CellRef, ctx *Context) (Primitive, error)
}

// Context is the per-invocation object handed to every primitive. It
// exposes the invoking formula's own location, the owning workbook, and
// reference resolution with circular-dependency detection. A Context is
// ephemeral: created when a formula invocation starts and discarded when
// it completes.
type Context struct {
	// location of the formula being evaluated
	Sheet string
	Row   int
	Col   int

	workbook Workbook

	// cells currently being evaluated somewhere up the resolution
	// chain. Shared (not copied) across nested contexts so the check
	// sees the whole in-progress stack.
	guard map[CellRef]struct{}
}

// NewContext creates an evaluation context for the formula at the given
// location.
func NewContext(workbook Workbook, at CellRef) *Context {
	return &Context{
		Sheet:    at.Sheet,
		Row:      at.Row,
		Col:      at.Col,
		workbook: workbook,
		guard:    map[CellRef]struct{}{at: {}},
	}
}

// Workbook returns the owning workbook for primitives needing
// cross-sheet or formatting queries.
func (c *Context) Workbook() Workbook {
	return c.workbook
}

// At returns the invoking formula's own location.
func (c *Context) At() CellRef {
	return CellRef{Sheet: c.Sheet, Row: c.Row, Col: c.Col}
}

// child derives the context used to evaluate a dependency cell. The
// guard set is shared, not copied: every frame of the resolution chain
// must see all in-progress cells.
func (c *Context) child(at CellRef) *Context {
	return &Context{
		Sheet:    at.Sheet,
		Row:      at.Row,
		Col:      at.Col,
		workbook: c.workbook,
		guard:    c.guard,
	}
}

// ResolveCells ensures every reference among args has an up-to-date
// computed value, triggering evaluation of stale formula cells.
// Non-reference args pass through unaffected.
//
// This is the engine's sole cycle-detection checkpoint: if any requested
// cell is already being evaluated somewhere up the chain (including the
// current formula's own location) the call fails with a CIRCULAR cell
// error instead of resolving. Primitives may call ResolveCells repeatedly
// and on nested references; the check runs every time.
func (c *Context) ResolveCells(args ...Primitive) error {
	for _, arg := range args {
		ref, ok := arg.(Reference)
		if !ok {
			continue
		}
		for cell := range ref.Cells() {
			if _, inProgress := c.guard[cell]; inProgress {
				return NewCalcError(ErrorCodeCircular, "")
			}
			if !c.workbook.NeedsRecalc(cell) {
				continue
			}
			c.guard[cell] = struct{}{}
			_, err := c.workbook.Recalc(cell, c.child(cell))
			delete(c.guard, cell)
			if err != nil {
				// cell errors become the dependency's stored value
				// and surface later through value extraction; only
				// circular failures and integration faults abort
				// resolution itself.
				ce := AsCalcError(err)
				if ce == nil {
					return errors.Wrapf(err, "recalc %s!R%dC%d", cell.Sheet, cell.Row, cell.Col)
				}
				if ce.Code == ErrorCodeCircular {
					return ce
				}
			}
		}
	}
	return nil
}

// CellValues flattens references among args into their scalar values: a
// single value per cell, an expanded list for ranges and unions.
// Non-reference args are passed through untouched. Values are read as-is;
// call ResolveCells first if freshness matters.
func (c *Context) CellValues(args ...Primitive) []Primitive {
	var values []Primitive
	for _, arg := range args {
		ref, ok := arg.(Reference)
		if !ok {
			values = append(values, arg)
			continue
		}
		if ref.Kind() == RefKindNull {
			values = append(values, NewCalcError(ErrorCodeRef, ""))
			continue
		}
		for cell := range ref.Cells() {
			values = append(values, c.cellData(cell))
		}
	}
	return values
}

// GetRefData returns the current value(s) behind ref without triggering
// resolution: a single scalar for a cell, a flat slice for ranges and
// unions, and a REF error value for NullRef.
func (c *Context) GetRefData(ref Reference) Primitive {
	switch ref.Kind() {
	case RefKindCell:
		return c.cellData(ref.(CellRef))
	case RefKindNull:
		return NewCalcError(ErrorCodeRef, "")
	default:
		values := make([]Primitive, 0, ref.CellCount())
		for cell := range ref.Cells() {
			values = append(values, c.cellData(cell))
		}
		return values
	}
}

// cellData reads one cell, mapping deleted locations to a REF error
func (c *Context) cellData(cell CellRef) Primitive {
	value, ok := c.workbook.CellValue(cell)
	if !ok {
		return NewCalcError(ErrorCodeRef, "")
	}
	return value
}

// AsMatrix converts arg into a Matrix: a Matrix passes through
// unchanged, a range reference resolves into its cell grid, a single
// cell becomes 1x1, and non-empty literal sequences ([]Primitive as one
// row, [][]Primitive as a rectangular grid) convert elementwise. Anything
// else, including empty and ragged literals, fails with a VALUE cell
// error.
func (c *Context) AsMatrix(arg Primitive) (*Matrix, error) {
	switch v := arg.(type) {
	case *Matrix:
		return v, nil
	case CellRef:
		if err := c.ResolveCells(v); err != nil {
			return nil, err
		}
		m := NewMatrix(1, 1)
		m.Set(0, 0, c.cellData(v))
		return m, nil
	case RangeRef:
		if err := c.ResolveCells(v); err != nil {
			return nil, err
		}
		m := NewMatrix(v.Height(), v.Width())
		for cell := range v.Cells() {
			m.Set(cell.Row-v.TopLeft.Row, cell.Col-v.TopLeft.Col, c.cellData(cell))
		}
		return m, nil
	case []Primitive:
		if len(v) == 0 {
			return nil, NewCalcError(ErrorCodeValue, "empty literal cannot convert to matrix")
		}
		m := NewMatrix(1, len(v))
		for col, value := range v {
			m.Set(0, col, value)
		}
		return m, nil
	case [][]Primitive:
		if len(v) == 0 || len(v[0]) == 0 {
			return nil, NewCalcError(ErrorCodeValue, "empty literal cannot convert to matrix")
		}
		m := NewMatrix(len(v), len(v[0]))
		for row, cols := range v {
			if len(cols) != m.Width {
				return nil, NewCalcError(ErrorCodeValue, "ragged literal cannot convert to matrix")
			}
			for col, value := range cols {
				m.Set(row, col, value)
			}
		}
		return m, nil
	default:
		return nil, NewCalcError(ErrorCodeValue, "argument cannot convert to matrix")
	}
}
