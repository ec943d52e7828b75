// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mathexpr implements the Math Expression Engine (X): a small
// scalar expression parser shared by the Macro Engine's `${...}` blocks
// and the Query Editor's virtual columns.
package mathexpr

import (
	"fmt"
	"time"
)

// Kind tags the variant a Value currently holds. Every transformation in
// this package preserves the tag, per the "polymorphic any row values"
// design note.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindDate     // platform-neutral LocalDate: day precision, UTC midnight
	KindDateTime // platform-neutral LocalDateTime
	KindDuration // time-of-day span
	KindPeriod   // calendar span (years/months/days)
	KindList
	KindMap
)

// Period is a calendar-relative span, as opposed to Duration's
// fixed-length time-of-day span. Adding a Period to a LocalDate walks
// calendar months/years rather than fixed 24h days.
type Period struct {
	Years, Months, Days int
}

func (p Period) String() string {
	return fmt.Sprintf("P%dY%dM%dD", p.Years, p.Months, p.Days)
}

// Value is the tagged variant every expression evaluates to.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float64
	S    string
	T    time.Time
	Dur  time.Duration
	Per  Period
	L    []Value
	M    map[string]Value
}

func Null() Value                 { return Value{Kind: KindNull} }
func BoolVal(b bool) Value        { return Value{Kind: KindBool, B: b} }
func IntVal(i int64) Value        { return Value{Kind: KindInt, I: i} }
func FloatVal(f float64) Value    { return Value{Kind: KindFloat, F: f} }
func StringVal(s string) Value    { return Value{Kind: KindString, S: s} }
func DateVal(t time.Time) Value   { return Value{Kind: KindDate, T: t} }
func DateTimeVal(t time.Time) Value { return Value{Kind: KindDateTime, T: t} }
func DurationVal(d time.Duration) Value { return Value{Kind: KindDuration, Dur: d} }
func PeriodVal(p Period) Value    { return Value{Kind: KindPeriod, Per: p} }
func ListVal(l []Value) Value     { return Value{Kind: KindList, L: l} }
func MapVal(m map[string]Value) Value { return Value{Kind: KindMap, M: m} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsFloat64 coerces a numeric value to float64; ok is false for
// non-numeric kinds.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

// IsNumeric reports whether v holds an int or float.
func (v Value) IsNumeric() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// FromAny lifts a Go value (as produced by JSON decoding or a flattened
// row) into a Value, preserving the tagged-variant invariant.
func FromAny(a any) Value {
	switch x := a.(type) {
	case nil:
		return Null()
	case bool:
		return BoolVal(x)
	case int:
		return IntVal(int64(x))
	case int32:
		return IntVal(int64(x))
	case int64:
		return IntVal(x)
	case float32:
		return FloatVal(float64(x))
	case float64:
		// JSON numbers decode as float64; keep integral floats as-is
		// here, the Row Parser normalizes specific columns separately.
		return FloatVal(x)
	case string:
		return StringVal(x)
	case []any:
		l := make([]Value, len(x))
		for i, e := range x {
			l[i] = FromAny(e)
		}
		return ListVal(l)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromAny(e)
		}
		return MapVal(m)
	case Value:
		return x
	default:
		return StringVal(fmt.Sprintf("%v", x))
	}
}

// ToAny lowers a Value back to a plain Go value, the inverse of FromAny,
// used when handing a result back to callers outside this package.
func (v Value) ToAny() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.B
	case KindInt:
		return v.I
	case KindFloat:
		return v.F
	case KindString:
		return v.S
	case KindDate:
		return v.T.Format("2006-01-02")
	case KindDateTime:
		return v.T.Format("2006-01-02T15:04:05")
	case KindDuration:
		return v.Dur.String()
	case KindPeriod:
		return v.Per.String()
	case KindList:
		out := make([]any, len(v.L))
		for i, e := range v.L {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.M))
		for k, e := range v.M {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// InferredPrimitiveType names the primitive scalar type a constant
// Value would project as, per X's "detect-constant" capability.
func (v Value) InferredPrimitiveType() string {
	switch v.Kind {
	case KindInt:
		return "int64"
	case KindFloat:
		return "double"
	default:
		return "string"
	}
}
