package sheetcalc

import (
	"fmt"
	"strconv"
	"time"
)

// toNumber converts value to a number, returning ok=false if conversion
// fails. Booleans map to 1/0, numeric strings parse, time values pack to
// their day serial. nil (empty) does not convert.
func toNumber(value Primitive) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		num, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return num, true
	case time.Time:
		return SerialFromTime(v), true
	default:
		return 0, false
	}
}

// toString converts value to its text form. Empty cells render as "".
func toString(value Primitive) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case *CalcError:
		return v.Display()
	default:
		return fmt.Sprint(v)
	}
}

// isTruthy checks if value is truthy: FALSE, 0, "" and empty are falsy.
func isTruthy(value Primitive) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != ""
	case nil:
		return false
	default:
		return true
	}
}
