package sheetcalc

import "github.com/pkg/errors"

// FormulaFunc is a compiled formula body. Formula text parsing belongs
// to the external evaluator, so the in-memory host stores formulas as
// closures that receive the evaluation context and typically invoke
// primitives through a Registry.
type FormulaFunc func(ctx *Context) (Primitive, error)

type cellKey struct {
	row int
	col int
}

// MemorySheet stores one sheet's cells: plain values plus formula cells
// with dirty tracking.
type MemorySheet struct {
	name     string
	values   map[cellKey]Primitive
	formulas map[cellKey]FormulaFunc
	dirty    map[cellKey]struct{}
}

func newMemorySheet(name string) *MemorySheet {
	return &MemorySheet{
		name:     name,
		values:   make(map[cellKey]Primitive),
		formulas: make(map[cellKey]FormulaFunc),
		dirty:    make(map[cellKey]struct{}),
	}
}

// MemoryWorkbook is an in-memory Workbook implementation. It serves as
// the reference integration for external evaluators and as the test
// host for the engine: it owns sheet data, tracks stale formula cells
// and recalculates them through the engine's Context on demand.
type MemoryWorkbook struct {
	sheets map[string]*MemorySheet
}

// NewMemoryWorkbook creates a workbook with no sheets.
func NewMemoryWorkbook() *MemoryWorkbook {
	return &MemoryWorkbook{sheets: make(map[string]*MemorySheet)}
}

// AddSheet creates (or returns) the named sheet.
func (wb *MemoryWorkbook) AddSheet(name string) *MemorySheet {
	if sheet, ok := wb.sheets[name]; ok {
		return sheet
	}
	sheet := newMemorySheet(name)
	wb.sheets[name] = sheet
	return sheet
}

// RemoveSheet deletes a sheet. References into it become invalid:
// readers, including evaluations suspended mid-resolution, observe them
// as NullRef semantics rather than stale data.
func (wb *MemoryWorkbook) RemoveSheet(name string) {
	delete(wb.sheets, name)
}

// SetValue stores a plain value and drops any formula at ref.
func (wb *MemoryWorkbook) SetValue(ref CellRef, value Primitive) {
	sheet := wb.AddSheet(ref.Sheet)
	key := cellKey{ref.Row, ref.Col}
	sheet.values[key] = value
	delete(sheet.formulas, key)
	delete(sheet.dirty, key)
}

// SetFormula stores a formula cell, marked stale until recalculated.
func (wb *MemoryWorkbook) SetFormula(ref CellRef, fn FormulaFunc) {
	sheet := wb.AddSheet(ref.Sheet)
	key := cellKey{ref.Row, ref.Col}
	sheet.formulas[key] = fn
	sheet.dirty[key] = struct{}{}
	delete(sheet.values, key)
}

// Clear empties a cell completely.
func (wb *MemoryWorkbook) Clear(ref CellRef) {
	sheet, ok := wb.sheets[ref.Sheet]
	if !ok {
		return
	}
	key := cellKey{ref.Row, ref.Col}
	delete(sheet.values, key)
	delete(sheet.formulas, key)
	delete(sheet.dirty, key)
}

// MarkDirty flags a formula cell for recalculation.
func (wb *MemoryWorkbook) MarkDirty(ref CellRef) {
	sheet, ok := wb.sheets[ref.Sheet]
	if !ok {
		return
	}
	key := cellKey{ref.Row, ref.Col}
	if _, isFormula := sheet.formulas[key]; isFormula {
		sheet.dirty[key] = struct{}{}
	}
}

// CellValue implements Workbook. ok is false only for locations that no
// longer exist (removed sheets); empty cells read as nil.
func (wb *MemoryWorkbook) CellValue(ref CellRef) (Primitive, bool) {
	sheet, ok := wb.sheets[ref.Sheet]
	if !ok {
		return nil, false
	}
	return sheet.values[cellKey{ref.Row, ref.Col}], true
}

// NeedsRecalc implements Workbook.
func (wb *MemoryWorkbook) NeedsRecalc(ref CellRef) bool {
	sheet, ok := wb.sheets[ref.Sheet]
	if !ok {
		return false
	}
	_, stale := sheet.dirty[cellKey{ref.Row, ref.Col}]
	return stale
}

// Recalc implements Workbook: it runs the formula at ref with the given
// context and stores the outcome, including error outcomes, as the
// cell's value.
func (wb *MemoryWorkbook) Recalc(ref CellRef, ctx *Context) (Primitive, error) {
	sheet, ok := wb.sheets[ref.Sheet]
	if !ok {
		return nil, errors.Errorf("sheetcalc: recalc on removed sheet %q", ref.Sheet)
	}
	key := cellKey{ref.Row, ref.Col}
	fn, isFormula := sheet.formulas[key]
	if !isFormula {
		return nil, errors.Errorf("sheetcalc: recalc on non-formula cell %s!R%dC%d",
			ref.Sheet, ref.Row, ref.Col)
	}

	// a cell is evaluated at most once per pass: clear the dirty flag
	// up front so re-entrant resolution of the same dependency does not
	// re-trigger it
	delete(sheet.dirty, key)

	result, err := fn(ctx)
	if err != nil {
		if ce := AsCalcError(err); ce != nil {
			sheet.values[key] = ce
			return ce, ce
		}
		return nil, err
	}
	sheet.values[key] = result
	return result, nil
}

// Evaluate recalculates the formula at ref with a fresh context, the way
// an external evaluator drives the engine for one cell.
func (wb *MemoryWorkbook) Evaluate(ref CellRef) (Primitive, error) {
	return wb.Recalc(ref, NewContext(wb, ref))
}
