package sheetcalc

import "iter"

// RefKind discriminates the closed set of reference variants.
type RefKind uint8

const (
	RefKindNull  RefKind = 0
	RefKindCell  RefKind = 1
	RefKindRange RefKind = 2
	RefKindUnion RefKind = 3
)

// Reference identifies a cell, range or union location without carrying
// data. References are pure values produced by the external formula
// parser; malformed coordinates are prevented by construction there.
type Reference interface {
	Kind() RefKind

	// CellCount returns the number of cell locations the reference
	// covers. Union members are counted independently: overlapping
	// members are not deduplicated.
	CellCount() int

	// Cells iterates the covered cell locations. Ranges iterate first
	// across columns, then rows; unions iterate members in order.
	Cells() iter.Seq[CellRef]
}

// CellRef identifies a single cell by sheet name and zero-based
// row/column indices.
type CellRef struct {
	Sheet string
	Row   int
	Col   int
}

func (CellRef) Kind() RefKind { return RefKindCell }

func (CellRef) CellCount() int { return 1 }

func (c CellRef) Cells() iter.Seq[CellRef] {
	return func(yield func(CellRef) bool) {
		yield(c)
	}
}

// RangeRef identifies a rectangular block of cells. Invariant:
// TopLeft.Row <= BottomRight.Row and TopLeft.Col <= BottomRight.Col, and
// both endpoints share a sheet. Use MakeRange to normalize endpoints.
type RangeRef struct {
	TopLeft     CellRef
	BottomRight CellRef
}

// MakeRange builds a RangeRef from two corner cells in any order,
// normalizing so the invariant holds.
func MakeRange(a, b CellRef) RangeRef {
	if b.Row < a.Row {
		a.Row, b.Row = b.Row, a.Row
	}
	if b.Col < a.Col {
		a.Col, b.Col = b.Col, a.Col
	}
	b.Sheet = a.Sheet
	return RangeRef{TopLeft: a, BottomRight: b}
}

func (RangeRef) Kind() RefKind { return RefKindRange }

// Width returns the inclusive column count of the range.
func (r RangeRef) Width() int {
	return r.BottomRight.Col - r.TopLeft.Col + 1
}

// Height returns the inclusive row count of the range.
func (r RangeRef) Height() int {
	return r.BottomRight.Row - r.TopLeft.Row + 1
}

func (r RangeRef) CellCount() int {
	return r.Width() * r.Height()
}

func (r RangeRef) Cells() iter.Seq[CellRef] {
	return func(yield func(CellRef) bool) {
		for row := r.TopLeft.Row; row <= r.BottomRight.Row; row++ {
			for col := r.TopLeft.Col; col <= r.BottomRight.Col; col++ {
				if !yield(CellRef{Sheet: r.TopLeft.Sheet, Row: row, Col: col}) {
					return
				}
			}
		}
	}
}

// UnionRef is an ordered sequence of references produced by combining
// disjoint references. It may be empty.
type UnionRef []Reference

func (UnionRef) Kind() RefKind { return RefKindUnion }

func (u UnionRef) CellCount() int {
	total := 0
	for _, ref := range u {
		total += ref.CellCount()
	}
	return total
}

func (u UnionRef) Cells() iter.Seq[CellRef] {
	return func(yield func(CellRef) bool) {
		for _, ref := range u {
			for cell := range ref.Cells() {
				if !yield(cell) {
					return
				}
			}
		}
	}
}

// nullRef is the type of the NullRef sentinel. It is unexported so the
// sentinel below is the only value in circulation and equality is
// effectively by identity.
type nullRef struct{}

func (nullRef) Kind() RefKind { return RefKindNull }

func (nullRef) CellCount() int { return 0 }

func (nullRef) Cells() iter.Seq[CellRef] {
	return func(yield func(CellRef) bool) {}
}

// NullRef represents "no such reference": the intersection of disjoint
// ranges, or a reference to a deleted cell or column.
var NullRef Reference = nullRef{}

// IsReference reports whether value is a Reference primitive.
func IsReference(value Primitive) bool {
	_, ok := value.(Reference)
	return ok
}
