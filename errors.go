package sheetcalc

import "errors"

// Primitive represents basic spreadsheet value types.
// types:
//   - float64: numeric values (integers are converted to float64)
//   - string: text values
//   - bool: boolean values (TRUE/FALSE)
//   - nil: empty/null cells
//   - *CalcError: error values (#DIV/0!, #VALUE!, etc.)
//   - Reference: an unresolved cell/range/union reference
//   - *Matrix: an array value
//   - []Primitive / [][]Primitive: literal sequences from array syntax
type Primitive any

// ErrorCode identifies a calculation error. The string values are the
// external vocabulary other components (cell rendering, hosts) key on and
// must never be renamed.
type ErrorCode string

const (
	ErrorCodeDiv0     ErrorCode = "DIV/0"    // division by zero
	ErrorCodeValue    ErrorCode = "VALUE"    // wrong type of argument or operand
	ErrorCodeRef      ErrorCode = "REF"      // invalid or deleted cell reference
	ErrorCodeNA       ErrorCode = "N/A"      // not applicable / wrong argument count
	ErrorCodeCircular ErrorCode = "CIRCULAR" // formula depends on its own cell
	ErrorCodeNum      ErrorCode = "NUM"      // number outside the representable domain
)

// errorDisplay maps error codes to their in-cell display strings
var errorDisplay = map[ErrorCode]string{
	ErrorCodeDiv0:     "#DIV/0!",
	ErrorCodeValue:    "#VALUE!",
	ErrorCodeRef:      "#REF!",
	ErrorCodeNA:       "#N/A",
	ErrorCodeCircular: "#CIRCULAR!",
	ErrorCodeNum:      "#NUM!",
}

// CalcError is the uniform representation of argument, computation and
// reference errors. It is a normal terminal state of a single cell's
// evaluation, never a process-level fault: it travels both as a Primitive
// value and as a Go error.
type CalcError struct {
	Code    ErrorCode
	Message string
}

func (e *CalcError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return errorDisplay[e.Code]
}

// Display returns the in-cell rendering of the error, e.g. "#DIV/0!".
func (e *CalcError) Display() string {
	return errorDisplay[e.Code]
}

// NewCalcError creates a calculation error with the given code
func NewCalcError(code ErrorCode, message string) *CalcError {
	if message == "" {
		message = errorDisplay[code]
	}
	return &CalcError{
		Code:    code,
		Message: message,
	}
}

// AsCalcError returns the *CalcError carried by value, or nil. It
// recognizes both the Primitive form and the wrapped Go error form.
func AsCalcError(value Primitive) *CalcError {
	switch v := value.(type) {
	case *CalcError:
		return v
	case error:
		var ce *CalcError
		if errors.As(v, &ce) {
			return ce
		}
	}
	return nil
}

// Matrix contract-violation sentinels. These indicate integration bugs
// (wrong shapes handed to matrix operations), not user input, and are
// therefore plain errors rather than CalcError cell values.
var (
	// ErrDimensionMismatch is returned by Multiply when the left matrix
	// width does not equal the right matrix height.
	ErrDimensionMismatch = errors.New("sheetcalc: matrix dimension mismatch")
)
