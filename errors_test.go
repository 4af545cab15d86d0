package sheetcalc

import (
	"testing"

	"github.com/pkg/errors"
)

func TestCalcErrorDisplay(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{ErrorCodeDiv0, "#DIV/0!"},
		{ErrorCodeValue, "#VALUE!"},
		{ErrorCodeRef, "#REF!"},
		{ErrorCodeNA, "#N/A"},
		{ErrorCodeCircular, "#CIRCULAR!"},
		{ErrorCodeNum, "#NUM!"},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			ce := NewCalcError(tt.code, "")
			if ce.Display() != tt.want {
				t.Errorf("Display() = %q, want %q", ce.Display(), tt.want)
			}
			if ce.Error() != tt.want {
				t.Errorf("Error() with no message = %q, want the display string", ce.Error())
			}
		})
	}
}

func TestCalcErrorMessage(t *testing.T) {
	ce := NewCalcError(ErrorCodeNum, "overflow in POWER")
	if ce.Error() != "overflow in POWER" {
		t.Errorf("Error() = %q, want the message", ce.Error())
	}
	if ce.Display() != "#NUM!" {
		t.Errorf("Display() = %q, want #NUM! regardless of message", ce.Display())
	}
}

func TestAsCalcError(t *testing.T) {
	ce := NewCalcError(ErrorCodeRef, "")

	if got := AsCalcError(ce); got != ce {
		t.Errorf("plain *CalcError should pass through")
	}
	// wrapped error chains unwrap to the cell error
	wrapped := errors.Wrap(ce, "resolving A1")
	if got := AsCalcError(wrapped); got != ce {
		t.Errorf("wrapped cell error should unwrap, got %v", got)
	}

	for _, notCellError := range []Primitive{nil, 1.0, "REF", errors.New("io failure")} {
		if got := AsCalcError(notCellError); got != nil {
			t.Errorf("AsCalcError(%v) = %v, want nil", notCellError, got)
		}
	}
}

func TestCalcErrorIsBothValueAndError(t *testing.T) {
	ce := NewCalcError(ErrorCodeDiv0, "")
	var value Primitive = ce
	var err error = ce
	if AsCalcError(value) == nil || AsCalcError(err) == nil {
		t.Errorf("the same cell error must be recognizable in both roles")
	}
}
