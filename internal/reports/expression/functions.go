package expression

import (
	"math"
	"time"
)

const maxRangeLen = 100000

func builtinFunctions() map[string]Function {
	return map[string]Function{
		"today":            fnToday,
		"now":              fnNow,
		"len":              fnLen,
		"sum":              fnSum,
		"min":              fnExtreme(-1),
		"max":              fnExtreme(1),
		"abs":              fnAbs,
		"round":            fnRound,
		"range":            fnRange,
		"zip":              fnZip,
		"enumerate":        fnEnumerate,
		"last_monday":      dateFunc(lastMonday),
		"last_sunday":      dateFunc(func(t time.Time) time.Time { return lastMonday(t).AddDate(0, 0, 6) }),
		"month_start":      dateFunc(monthStart),
		"month_end":        dateFunc(func(t time.Time) time.Time { return monthStart(t).AddDate(0, 1, -1) }),
		"last_month_start": dateFunc(func(t time.Time) time.Time { return monthStart(t).AddDate(0, -1, 0) }),
		"last_month_end":   dateFunc(func(t time.Time) time.Time { return monthStart(t).AddDate(0, 0, -1) }),
	}
}

func arg(args []Value, kwargs map[string]Value, i int, name string, def Value) Value {
	if i < len(args) {
		return args[i]
	}
	if v, ok := kwargs[name]; ok {
		return v
	}
	return def
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// lastMonday returns the Monday of the previous calendar week
func lastMonday(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return truncateDay(t).AddDate(0, 0, -offset-7)
}

func dateFunc(fn func(time.Time) time.Time) Function {
	return func(env CallEnv, args []Value, _ map[string]Value) (Value, error) {
		if len(args) > 0 {
			return Null(), evalError("date helpers take no arguments")
		}
		return StringValue(fn(env.Now).Format("2006-01-02")), nil
	}
}

func fnToday(env CallEnv, _ []Value, _ map[string]Value) (Value, error) {
	return StringValue(env.Now.Format("2006-01-02")), nil
}

func fnNow(env CallEnv, _ []Value, _ map[string]Value) (Value, error) {
	return StringValue(env.Now.Format("2006-01-02 15:04:05")), nil
}

func fnLen(_ CallEnv, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 1 {
		return Null(), evalError("len() takes exactly one argument")
	}
	n, ok := args[0].Len()
	if !ok {
		return Null(), evalError("object of type %s has no len()", args[0].kind)
	}
	return IntValue(int64(n)), nil
}

// sumValues adds numeric values, staying integral while every operand is
func sumValues(values []Value, start Value) (Value, error) {
	total := start
	for _, v := range values {
		n, ok := toNumber(v)
		if !ok {
			return Null(), evalError("unsupported operand type for sum: %s", v.kind)
		}
		var err error
		if total, err = arith("+", total, n); err != nil {
			return Null(), err
		}
	}
	return total, nil
}

func fnSum(_ CallEnv, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) == 0 || args[0].kind != KindList {
		return Null(), evalError("sum() requires a list")
	}
	return sumValues(args[0].list, arg(args, kwargs, 1, "start", IntValue(0)))
}

func extremeOf(values []Value, sign int) (Value, error) {
	if len(values) == 0 {
		return Null(), evalError("min/max of empty sequence")
	}
	best := values[0]
	for _, v := range values[1:] {
		c, ok := Compare(v, best)
		if !ok {
			return Null(), evalError("cannot compare %s and %s", v.kind, best.kind)
		}
		if c*sign > 0 {
			best = v
		}
	}
	return best, nil
}

func fnExtreme(sign int) Function {
	return func(_ CallEnv, args []Value, _ map[string]Value) (Value, error) {
		if len(args) == 1 && args[0].kind == KindList {
			return extremeOf(args[0].list, sign)
		}
		return extremeOf(args, sign)
	}
}

func fnAbs(_ CallEnv, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 1 {
		return Null(), evalError("abs() takes exactly one argument")
	}
	return absValue(args[0])
}

func absValue(v Value) (Value, error) {
	switch v.kind {
	case KindInt:
		if v.i < 0 {
			return IntValue(-v.i), nil
		}
		return v, nil
	case KindFloat:
		return FloatValue(math.Abs(v.f)), nil
	}
	return Null(), evalError("bad operand type for abs(): %s", v.kind)
}

// fnRound follows Python: without ndigits it returns an int using
// round-half-to-even, with ndigits it returns a float.
func fnRound(_ CallEnv, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) == 0 {
		return Null(), evalError("round() requires a number")
	}
	x, ok := toNumber(args[0])
	if !ok {
		return Null(), evalError("round() requires a number, got %s", args[0].kind)
	}
	digits := arg(args, kwargs, 1, "ndigits", Null())
	if digits.IsNull() {
		if x.kind == KindInt {
			return x, nil
		}
		return IntValue(int64(math.RoundToEven(x.f))), nil
	}
	if digits.kind != KindInt {
		return Null(), evalError("ndigits must be an integer")
	}
	f, _ := x.AsFloat()
	p := math.Pow10(int(digits.i))
	return FloatValue(math.RoundToEven(f*p) / p), nil
}

func fnRange(_ CallEnv, args []Value, _ map[string]Value) (Value, error) {
	var start, stop, step int64 = 0, 0, 1
	for _, a := range args {
		if a.kind != KindInt {
			return Null(), evalError("range() arguments must be integers")
		}
	}
	switch len(args) {
	case 1:
		stop = args[0].i
	case 2:
		start, stop = args[0].i, args[1].i
	case 3:
		start, stop, step = args[0].i, args[1].i, args[2].i
	default:
		return Null(), evalError("range() takes 1 to 3 arguments")
	}
	if step == 0 {
		return Null(), evalError("range() step must not be zero")
	}
	var items []Value
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		if len(items) >= maxRangeLen {
			return Null(), evalError("range() exceeds %d items", maxRangeLen)
		}
		items = append(items, IntValue(i))
	}
	return ListValue(items), nil
}

func fnZip(_ CallEnv, args []Value, _ map[string]Value) (Value, error) {
	if len(args) == 0 {
		return ListValue(nil), nil
	}
	shortest := -1
	for _, a := range args {
		if a.kind != KindList {
			return Null(), evalError("zip() arguments must be lists")
		}
		if shortest < 0 || len(a.list) < shortest {
			shortest = len(a.list)
		}
	}
	out := make([]Value, shortest)
	for i := range out {
		row := make([]Value, len(args))
		for j, a := range args {
			row[j] = a.list[i]
		}
		out[i] = ListValue(row)
	}
	return ListValue(out), nil
}

func fnEnumerate(_ CallEnv, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) == 0 || args[0].kind != KindList {
		return Null(), evalError("enumerate() requires a list")
	}
	start := arg(args, kwargs, 1, "start", IntValue(0))
	if start.kind != KindInt {
		return Null(), evalError("enumerate() start must be an integer")
	}
	out := make([]Value, len(args[0].list))
	for i, v := range args[0].list {
		out[i] = ListValue([]Value{IntValue(start.i + int64(i)), v})
	}
	return ListValue(out), nil
}
