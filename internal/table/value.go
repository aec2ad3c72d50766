package table

import (
	"fmt"
	"math"
	"strconv"
)

// AsInt64 converts integer-typed cells. Floats with no fractional part are
// accepted since some drivers surface numeric columns as float64.
func AsInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	}
	return 0, false
}

// IsInteger reports whether v is an integer-typed cell (floats excluded).
func IsInteger(v interface{}) bool {
	switch v.(type) {
	case int64, int, int32, int16, int8, uint32, uint16, uint8:
		return true
	}
	return false
}

// Normalize maps driver values onto the cell types Table works with.
func Normalize(v interface{}) interface{} {
	switch n := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(n)
	case int, int32, int16, int8, uint32, uint16, uint8:
		i, _ := AsInt64(n)
		return i
	case float32:
		return float64(n)
	case fmt.Stringer:
		return n.String()
	}
	return v
}

// String renders a cell for display.
func String(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Compare orders two cells: nil first, then numbers, then strings, with a
// fallback on the rendered form for anything else.
func Compare(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	switch {
	case aNum && bNum:
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case aNum:
		return -1
	case bNum:
		return 1
	}
	as, bs := String(a), String(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func asFloat(v interface{}) (float64, bool) {
	if i, ok := AsInt64(v); ok {
		return float64(i), true
	}
	if f, ok := v.(float64); ok {
		return f, true
	}
	return 0, false
}
