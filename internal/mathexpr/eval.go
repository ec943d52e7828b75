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

package mathexpr

import (
	"fmt"
	"strings"
	"time"

	"github.com/sosodev/duration"

	"github.com/googleapis/ads-report-fetcher/internal/util"
)

// Clock is swappable so tests can pin today()/now() to a fixed instant;
// production code leaves it at the default wall-clock implementation.
var Clock = func() time.Time { return time.Now().UTC() }

func isClockFunction(name string) bool {
	switch name {
	case "today", "yesterday", "tomorrow", "now":
		return true
	default:
		return false
	}
}

// applyBinaryOp implements arithmetic with the date/time overloads: a
// Date/DateTime can be offset by a Duration, a Period, or a bare integer
// (interpreted as days); subtracting two Dates yields a Period of whole
// days, and any other pair of points in time a Duration.
func applyBinaryOp(op byte, l, r Value) (Value, error) {
	switch {
	case l.IsNumeric() && r.IsNumeric():
		return applyNumericOp(op, l, r)
	case l.Kind == KindString || r.Kind == KindString:
		if op == '+' {
			return StringVal(stringify(l) + stringify(r)), nil
		}
		return Value{}, util.NewQueryError(util.KindInvalidQuery, "only + is defined for string operands", nil)
	case (l.Kind == KindDate || l.Kind == KindDateTime) && op == '+':
		return addToTime(l, r)
	case (l.Kind == KindDate || l.Kind == KindDateTime) && op == '-':
		if r.Kind == KindDate || r.Kind == KindDateTime {
			if l.Kind == KindDate && r.Kind == KindDate {
				return PeriodVal(Period{Days: int(l.T.Sub(r.T) / (24 * time.Hour))}), nil
			}
			return DurationVal(l.T.Sub(r.T)), nil
		}
		return addToTime(l, negate(r))
	default:
		return Value{}, util.NewQueryError(util.KindInvalidQuery,
			fmt.Sprintf("operator %q is not defined for these operand types", string(op)), nil)
	}
}

func negate(v Value) Value {
	switch v.Kind {
	case KindInt:
		return IntVal(-v.I)
	case KindFloat:
		return FloatVal(-v.F)
	case KindDuration:
		return DurationVal(-v.Dur)
	case KindPeriod:
		return PeriodVal(Period{Years: -v.Per.Years, Months: -v.Per.Months, Days: -v.Per.Days})
	default:
		return v
	}
}

func addToTime(t Value, delta Value) (Value, error) {
	switch delta.Kind {
	case KindDuration:
		return withSameKind(t, t.T.Add(delta.Dur)), nil
	case KindPeriod:
		return withSameKind(t, t.T.AddDate(delta.Per.Years, delta.Per.Months, delta.Per.Days)), nil
	case KindInt:
		return withSameKind(t, t.T.AddDate(0, 0, int(delta.I))), nil
	default:
		return Value{}, util.NewQueryError(util.KindInvalidQuery,
			"a date/datetime can only be offset by a duration, period, or integer day count", nil)
	}
}

func withSameKind(original Value, t time.Time) Value {
	if original.Kind == KindDate {
		return DateVal(t)
	}
	return DateTimeVal(t)
}

func applyNumericOp(op byte, l, r Value) (Value, error) {
	if l.Kind == KindInt && r.Kind == KindInt && op != '/' {
		switch op {
		case '+':
			return IntVal(l.I + r.I), nil
		case '-':
			return IntVal(l.I - r.I), nil
		case '*':
			return IntVal(l.I * r.I), nil
		case '%':
			if r.I == 0 {
				return Value{}, util.NewQueryError(util.KindInvalidQuery, "modulo by zero", nil)
			}
			return IntVal(l.I % r.I), nil
		}
	}
	lf, _ := l.AsFloat64()
	rf, _ := r.AsFloat64()
	switch op {
	case '+':
		return FloatVal(lf + rf), nil
	case '-':
		return FloatVal(lf - rf), nil
	case '*':
		return FloatVal(lf * rf), nil
	case '/':
		if rf == 0 {
			return Value{}, util.NewQueryError(util.KindInvalidQuery, "division by zero", nil)
		}
		return FloatVal(lf / rf), nil
	case '%':
		if rf == 0 {
			return Value{}, util.NewQueryError(util.KindInvalidQuery, "modulo by zero", nil)
		}
		return FloatVal(float64(int64(lf) % int64(rf))), nil
	default:
		return Value{}, util.NewQueryError(util.KindInvalidQuery, fmt.Sprintf("unknown operator %q", string(op)), nil)
	}
}

func stringify(v Value) string {
	switch v.Kind {
	case KindString:
		return v.S
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindFloat:
		return fmt.Sprintf("%v", v.F)
	case KindDate:
		return v.T.Format("2006-01-02")
	case KindDateTime:
		return v.T.Format("2006-01-02T15:04:05")
	case KindDuration:
		return v.Dur.String()
	case KindPeriod:
		return v.Per.String()
	case KindBool:
		return fmt.Sprintf("%v", v.B)
	default:
		return ""
	}
}

// callBuiltin dispatches the fixed set of date/time helper functions the
// math expression language exposes to macros and virtual columns.
func callBuiltin(name string, args []Value) (Value, error) {
	switch name {
	case "today":
		return DateVal(truncateToDay(Clock())), nil
	case "yesterday":
		return DateVal(truncateToDay(Clock()).AddDate(0, 0, -1)), nil
	case "tomorrow":
		return DateVal(truncateToDay(Clock()).AddDate(0, 0, 1)), nil
	case "now":
		return DateTimeVal(Clock()), nil
	case "date":
		return builtinDate(args)
	case "datetime":
		return builtinDateTime(args)
	case "duration":
		return builtinDuration(args)
	case "period":
		return builtinPeriod(args)
	case "format":
		return builtinFormat(args)
	case "toUpperCase":
		return builtinStringTransform(args, strings.ToUpper)
	case "toLowerCase":
		return builtinStringTransform(args, strings.ToLower)
	case "trim":
		return builtinStringTransform(args, strings.TrimSpace)
	default:
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, fmt.Sprintf("unknown function %q", name), nil)
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func builtinDate(args []Value) (Value, error) {
	if len(args) < 1 || args[0].Kind != KindString {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "date() requires a string argument", nil)
	}
	layout := "2006-01-02"
	if len(args) >= 2 {
		if args[1].Kind != KindString {
			return Value{}, util.NewQueryError(util.KindBadFunctionBody, "date() format argument must be a string", nil)
		}
		layout = goLayoutFromPattern(args[1].S)
	}
	t, err := time.Parse(layout, args[0].S)
	if err != nil {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "date(): "+err.Error(), err)
	}
	return DateVal(t), nil
}

func builtinDateTime(args []Value) (Value, error) {
	if len(args) < 1 || args[0].Kind != KindString {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "datetime() requires a string argument", nil)
	}
	layout := "2006-01-02T15:04:05"
	if len(args) >= 2 {
		if args[1].Kind != KindString {
			return Value{}, util.NewQueryError(util.KindBadFunctionBody, "datetime() format argument must be a string", nil)
		}
		layout = goLayoutFromPattern(args[1].S)
	}
	t, err := time.Parse(layout, args[0].S)
	if err != nil {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "datetime(): "+err.Error(), err)
	}
	return DateTimeVal(t), nil
}

func builtinDuration(args []Value) (Value, error) {
	if len(args) != 1 || args[0].Kind != KindString {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "duration() requires a single string argument", nil)
	}
	d, err := duration.Parse(args[0].S)
	if err != nil {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "duration(): "+err.Error(), err)
	}
	total := time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds*float64(time.Second))
	return DurationVal(total), nil
}

func builtinPeriod(args []Value) (Value, error) {
	if len(args) != 1 || args[0].Kind != KindString {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "period() requires a single string argument", nil)
	}
	d, err := duration.Parse(args[0].S)
	if err != nil {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "period(): "+err.Error(), err)
	}
	return PeriodVal(Period{
		Years:  int(d.Years),
		Months: int(d.Months),
		Days:   int(d.Days) + int(d.Weeks)*7,
	}), nil
}

// builtinStringTransform backs the restricted subset of user-function
// bodies that apply a string transform to their single argument, e.g.
// v.toUpperCase().
func builtinStringTransform(args []Value, transform func(string) string) (Value, error) {
	if len(args) != 1 || args[0].Kind != KindString {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "string-transform function requires a single string argument", nil)
	}
	return StringVal(transform(args[0].S)), nil
}

func builtinFormat(args []Value) (Value, error) {
	if len(args) != 2 || args[1].Kind != KindString {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "format() requires (date-or-datetime, pattern)", nil)
	}
	if args[0].Kind != KindDate && args[0].Kind != KindDateTime {
		return Value{}, util.NewQueryError(util.KindBadFunctionBody, "format() requires a date or datetime first argument", nil)
	}
	return StringVal(args[0].T.Format(goLayoutFromPattern(args[1].S))), nil
}
