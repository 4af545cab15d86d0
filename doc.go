// Package sheetcalc implements the formula-function runtime of a
// spreadsheet calculation engine: a registry of named primitives, a
// declarative argument-specifier language compiled into validator
// pipelines, a cell/range/union reference model with circular-reference
// detection, and matrix evaluation for array-producing formulas.
//
// The formula text parser is an external collaborator. It is expected to
// tokenize "=SUM(A1:B2)" style expressions itself and hand this package
// already-parsed argument values: scalars, Reference values, nested
// literal sequences, or Matrix values. Results flow back as a scalar, a
// *Matrix (to be spilled by the caller), or a *CalcError carrying one of
// the fixed spreadsheet error codes.
package sheetcalc
