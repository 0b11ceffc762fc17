package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value conversions
// ---------------------------------------------------------------------------
//
// Conversions are numeric-first-then-string: operands try to become numbers
// before strings, and a string that cannot parse as a number raises
// CannotConvertStringToNumber at the call site.

// Truthy computes the boolean interpretation of a value. Undefined, null,
// false, numeric zero and the empty string are falsy.
func (eu *ExecutionUnit) Truthy(v Value) bool {
	v = eu.unbox(v)
	switch {
	case v == Undefined || v == Null || v == False:
		return false
	case v == True:
		return true
	case v.IsInt():
		return v.Int32() != 0
	case v.IsFloat():
		return v.Float64() != 0
	case v.IsString():
		return eu.heap.String(v.StringID()) != ""
	default:
		return true
	}
}

// unbox resolves container stand-ins (iterators) to their current value.
func (eu *ExecutionUnit) unbox(v Value) Value {
	if obj := eu.heap.ObjectOf(v); obj != nil {
		if inner, ok := obj.Unbox(eu); ok {
			return inner
		}
	}
	return v
}

// ToNumber converts to an Int32 or Float value. Reports false when the
// value has no numeric interpretation.
func (eu *ExecutionUnit) ToNumber(v Value) (Value, bool) {
	v = eu.unbox(v)
	switch {
	case v.IsInt() || v.IsFloat():
		return v, true
	case v == True:
		return IntValue(1), true
	case v == False, v == Null:
		return IntValue(0), true
	case v.IsString():
		return parseNumber(eu.heap.String(v.StringID()), true)
	default:
		return Undefined, false
	}
}

// ToIntValue converts to a 32-bit integer, truncating floats.
func (eu *ExecutionUnit) ToIntValue(v Value) (int32, bool) {
	n, ok := eu.ToNumber(v)
	if !ok {
		return 0, false
	}
	if n.IsFloat() {
		return int32(n.Float64()), true
	}
	return n.Int32(), true
}

// ToFloatValue converts to a float64.
func (eu *ExecutionUnit) ToFloatValue(v Value) (float64, bool) {
	n, ok := eu.ToNumber(v)
	if !ok {
		return 0, false
	}
	if n.IsFloat() {
		return n.Float64(), true
	}
	return float64(n.Int32()), true
}

// parseNumber parses a decimal or 0x-prefixed integer, or a float. The
// allowWs flag permits surrounding whitespace, the default for the toInt
// and toFloat globals.
func parseNumber(s string, allowWs bool) (Value, bool) {
	if allowWs {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return Undefined, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		u, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return Undefined, false
		}
		return IntValue(int32(uint32(u))), true
	}
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		return IntValue(int32(i)), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return FloatValue(f), true
	}
	return Undefined, false
}

// parseUint parses an unsigned integer for toUInt.
func parseUint(s string, allowWs bool) (uint32, bool) {
	if allowWs {
		s = strings.TrimSpace(s)
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	u, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, false
	}
	return uint32(u), true
}

// ToStringValue renders a value for print and concatenation. Objects that
// unbox (iterators, string wrappers) render their inner value; objects with a
// toString member are asked to render themselves; arrays render as their
// comma-joined elements; other objects render as "[" + type name + "]".
func (eu *ExecutionUnit) ToStringValue(v Value) string {
	v = eu.resolveRef(v)
	switch {
	case v == Undefined:
		return "undefined"
	case v == Null:
		return "null"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsInt():
		return strconv.FormatInt(int64(v.Int32()), 10)
	case v.IsFloat():
		return formatFloat(v.Float64())
	case v.IsAtom():
		return eu.program.Atoms().Resolve(v.Atom())
	case v.IsString():
		return eu.heap.String(v.StringID())
	case v.IsObject():
		obj := eu.heap.ObjectOf(v)
		if obj == nil {
			return "null"
		}
		if inner, ok := obj.Unbox(eu); ok {
			return eu.ToStringValue(inner)
		}
		if ts, ok := obj.Property(AtomToString); ok {
			if s, ok := eu.callToString(ts, v); ok {
				return s
			}
		}
		if obj.IsArray() {
			parts := make([]string, obj.ElementCount())
			for i := range parts {
				e, _ := obj.Element(i)
				parts[i] = eu.ToStringValue(e)
			}
			return strings.Join(parts, ",")
		}
		return "[" + obj.TypeName() + "]"
	default:
		return ""
	}
}

// formatFloat prints a float the way the console expects: integral values
// keep one decimal, everything else uses the shortest round-trip form.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// callToString invokes a toString member and returns its rendering.
// Suspension inside toString is not allowed; it renders as failure.
func (eu *ExecutionUnit) callToString(fn Value, this Value) (string, bool) {
	res, crv := eu.CallValue(fn, this, nil)
	if !crv.IsReturn() || crv.Count() == 0 {
		return "", false
	}
	if res.IsString() {
		return eu.heap.String(res.StringID()), true
	}
	return eu.ToStringValue(res), true
}

// Format implements printf-style formatting for script values. Supported
// verbs: %d %i %u %s %f %x %%. Anything else fails the format.
func (eu *ExecutionUnit) Format(format string, args []Value) (string, bool) {
	var sb strings.Builder
	argi := 0
	next := func() (Value, bool) {
		if argi >= len(args) {
			return Undefined, false
		}
		v := args[argi]
		argi++
		return v, true
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return "", false
		}
		switch format[i] {
		case '%':
			sb.WriteByte('%')
		case 'd', 'i':
			v, ok := next()
			if !ok {
				return "", false
			}
			n, ok := eu.ToIntValue(v)
			if !ok {
				return "", false
			}
			fmt.Fprintf(&sb, "%d", n)
		case 'u':
			v, ok := next()
			if !ok {
				return "", false
			}
			n, ok := eu.ToIntValue(v)
			if !ok {
				return "", false
			}
			fmt.Fprintf(&sb, "%d", uint32(n))
		case 'x':
			v, ok := next()
			if !ok {
				return "", false
			}
			n, ok := eu.ToIntValue(v)
			if !ok {
				return "", false
			}
			fmt.Fprintf(&sb, "%x", uint32(n))
		case 'f':
			v, ok := next()
			if !ok {
				return "", false
			}
			f, ok := eu.ToFloatValue(v)
			if !ok {
				return "", false
			}
			fmt.Fprintf(&sb, "%f", f)
		case 's':
			v, ok := next()
			if !ok {
				return "", false
			}
			sb.WriteString(eu.ToStringValue(v))
		default:
			return "", false
		}
	}
	return sb.String(), true
}
