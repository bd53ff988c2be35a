package expression

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"
)

func builtinFilters() map[string]Filter {
	return map[string]Filter{
		// report filters
		"sum_by":          filterSumBy,
		"avg_by":          filterAvgBy,
		"count_by":        filterCountBy,
		"group_by":        filterGroupBy,
		"sort_by":         filterSortBy,
		"unique":          filterUnique,
		"pluck":           filterPluck,
		"currency":        filterCurrency,
		"percentage":      filterPercentage,
		"round_num":       filterRoundNum,
		"date_format":     filterDateFormat,
		"truncate_text":   filterTruncateText,
		"status_label":    filterStatusLabel,
		"default_if_none": filterDefaultIfNone,
		"coalesce":        filterCoalesce,

		// general purpose
		"length":  filterLength,
		"count":   filterLength,
		"default": filterDefault,
		"d":       filterDefault,
		"first":   filterFirst,
		"last":    filterLast,
		"join":    filterJoin,
		"upper":   stringFilter(strings.ToUpper),
		"lower":   stringFilter(strings.ToLower),
		"title":   stringFilter(titleCase),
		"trim":    stringFilter(strings.TrimSpace),
		"int":     filterInt,
		"float":   filterFloat,
		"string": func(_ CallEnv, in Value, _ []Value, _ map[string]Value) (Value, error) {
			return StringValue(in.String()), nil
		},
		"abs":   func(_ CallEnv, in Value, _ []Value, _ map[string]Value) (Value, error) { return absValue(in) },
		"round": filterRound,
		"sum":   filterSum,
		"min":   func(_ CallEnv, in Value, _ []Value, _ map[string]Value) (Value, error) { return extremeOf(in.list, -1) },
		"max":   func(_ CallEnv, in Value, _ []Value, _ map[string]Value) (Value, error) { return extremeOf(in.list, 1) },
	}
}

// DefaultStatusLabels are used by status_label when no mapping is given
var DefaultStatusLabels = map[string]string{
	"active":      "Active",
	"inactive":    "Inactive",
	"pending":     "Pending",
	"approved":    "Approved",
	"rejected":    "Rejected",
	"completed":   "Completed",
	"cancelled":   "Cancelled",
	"canceled":    "Cancelled",
	"failed":      "Failed",
	"draft":       "Draft",
	"in_progress": "In Progress",
	"processing":  "Processing",
	"paid":        "Paid",
	"unpaid":      "Unpaid",
	"overdue":     "Overdue",
}

// toNumber returns v as Int or Float, parsing numeric strings
func toNumber(v Value) (Value, bool) {
	switch v.kind {
	case KindInt, KindFloat:
		return v, true
	case KindBool:
		return IntValue(intOf(v)), true
	case KindString:
		s := strings.TrimSpace(v.s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return IntValue(i), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return FloatValue(f), true
		}
	}
	return Null(), false
}

func requireList(name string, in Value) ([]Value, error) {
	switch in.kind {
	case KindList:
		return in.list, nil
	case KindNull:
		return nil, nil
	}
	return nil, evalError("%s expects a list, got %s", name, in.kind)
}

func fieldArg(name string, args []Value, kwargs map[string]Value) (string, error) {
	f := arg(args, kwargs, 0, "field", Null())
	if f.kind != KindString || f.s == "" {
		return "", evalError("%s requires a field name", name)
	}
	return f.s, nil
}

// field reads a possibly dotted key from a map item
func field(item Value, path string) Value {
	cur := item
	for _, part := range strings.Split(path, ".") {
		if cur.kind != KindMap {
			return Null()
		}
		v, ok := cur.m.Get(part)
		if !ok {
			return Null()
		}
		cur = v
	}
	return cur
}

func filterSumBy(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	items, err := requireList("sum_by", in)
	if err != nil {
		return Null(), err
	}
	name, err := fieldArg("sum_by", args, kwargs)
	if err != nil {
		return Null(), err
	}
	var values []Value
	for _, item := range items {
		if n, ok := toNumber(field(item, name)); ok {
			values = append(values, n)
		}
	}
	return sumValues(values, IntValue(0))
}

func filterAvgBy(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	items, err := requireList("avg_by", in)
	if err != nil {
		return Null(), err
	}
	name, err := fieldArg("avg_by", args, kwargs)
	if err != nil {
		return Null(), err
	}
	var total float64
	var n int
	for _, item := range items {
		if v, ok := toNumber(field(item, name)); ok {
			f, _ := v.AsFloat()
			total += f
			n++
		}
	}
	if n == 0 {
		return FloatValue(0), nil
	}
	return FloatValue(total / float64(n)), nil
}

// filterCountBy returns value counts per field value, or with a third
// argument the number of items whose field equals it.
func filterCountBy(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	items, err := requireList("count_by", in)
	if err != nil {
		return Null(), err
	}
	name, err := fieldArg("count_by", args, kwargs)
	if err != nil {
		return Null(), err
	}
	if _, hasValue := kwargs["value"]; len(args) > 1 || hasValue {
		match := arg(args, kwargs, 1, "value", Null())
		var n int64
		for _, item := range items {
			if Equal(field(item, name), match) {
				n++
			}
		}
		return IntValue(n), nil
	}
	counts := NewMap()
	for _, item := range items {
		key := field(item, name).String()
		cur, _ := counts.Get(key)
		counts.Set(key, IntValue(cur.i+1))
	}
	return MapValue(counts), nil
}

func filterGroupBy(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	items, err := requireList("group_by", in)
	if err != nil {
		return Null(), err
	}
	name, err := fieldArg("group_by", args, kwargs)
	if err != nil {
		return Null(), err
	}
	groups := NewMap()
	for _, item := range items {
		key := field(item, name).String()
		cur, _ := groups.Get(key)
		groups.Set(key, ListValue(append(cur.list, item)))
	}
	return MapValue(groups), nil
}

func filterSortBy(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	items, err := requireList("sort_by", in)
	if err != nil {
		return Null(), err
	}
	name, err := fieldArg("sort_by", args, kwargs)
	if err != nil {
		return Null(), err
	}
	reverse := arg(args, kwargs, 1, "reverse", BoolValue(false)).Truthy()
	out := append([]Value(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := field(out[i], name), field(out[j], name)
		// nulls sort last in either direction
		if a.IsNull() || b.IsNull() {
			return !a.IsNull() && b.IsNull()
		}
		c, ok := Compare(a, b)
		if !ok {
			c = strings.Compare(a.String(), b.String())
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	return ListValue(out), nil
}

func filterUnique(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	items, err := requireList("unique", in)
	if err != nil {
		return Null(), err
	}
	name := arg(args, kwargs, 0, "field", Null())
	var out []Value
	for _, item := range items {
		v := item
		if name.kind == KindString {
			v = field(item, name.s)
		}
		dup := false
		for _, seen := range out {
			if Equal(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return ListValue(out), nil
}

func filterPluck(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	items, err := requireList("pluck", in)
	if err != nil {
		return Null(), err
	}
	name, err := fieldArg("pluck", args, kwargs)
	if err != nil {
		return Null(), err
	}
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = field(item, name)
	}
	return ListValue(out), nil
}

// groupedDecimal formats f with thousands separators and fixed decimals
func groupedDecimal(f float64, decimals int) string {
	s := strconv.FormatFloat(math.Abs(f), 'f', decimals, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	n, err := strconv.ParseInt(intPart, 10, 64)
	if err == nil {
		intPart = humanize.Comma(n)
	}
	if frac != "" {
		intPart += "." + frac
	}
	if f < 0 && strings.Trim(s, "0.") != "" {
		return "-" + intPart
	}
	return intPart
}

func intArg(v Value, name string) (int, error) {
	if v.kind != KindInt {
		return 0, evalError("%s must be an integer", name)
	}
	return int(v.i), nil
}

func filterCurrency(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if in.IsNull() {
		return StringValue(""), nil
	}
	n, ok := toNumber(in)
	if !ok {
		return Null(), evalError("currency expects a number, got %s", in.kind)
	}
	symbol := arg(args, kwargs, 0, "symbol", StringValue("$")).String()
	decimals, err := intArg(arg(args, kwargs, 1, "decimals", IntValue(2)), "decimals")
	if err != nil {
		return Null(), err
	}
	f, _ := n.AsFloat()
	s := groupedDecimal(f, decimals)
	if strings.HasPrefix(s, "-") {
		return StringValue("-" + symbol + s[1:]), nil
	}
	return StringValue(symbol + s), nil
}

// filterPercentage renders a ratio as a percentage: 0.125 -> "12.5%"
func filterPercentage(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if in.IsNull() {
		return StringValue(""), nil
	}
	n, ok := toNumber(in)
	if !ok {
		return Null(), evalError("percentage expects a number, got %s", in.kind)
	}
	decimals, err := intArg(arg(args, kwargs, 0, "decimals", IntValue(1)), "decimals")
	if err != nil {
		return Null(), err
	}
	f, _ := n.AsFloat()
	return StringValue(strconv.FormatFloat(f*100, 'f', decimals, 64) + "%"), nil
}

func filterRoundNum(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	n, ok := toNumber(in)
	if !ok {
		return Null(), evalError("round_num expects a number, got %s", in.kind)
	}
	decimals, err := intArg(arg(args, kwargs, 0, "decimals", IntValue(2)), "decimals")
	if err != nil {
		return Null(), err
	}
	f, _ := n.AsFloat()
	p := math.Pow10(decimals)
	rounded := math.Round(f*p) / p
	if decimals <= 0 {
		return IntValue(int64(rounded)), nil
	}
	return FloatValue(rounded), nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseDate accepts the date and datetime forms produced by templates and drivers
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func filterDateFormat(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if in.IsNull() {
		return StringValue(""), nil
	}
	layout := arg(args, kwargs, 0, "format", StringValue("%Y-%m-%d")).String()
	t, ok := ParseDate(strings.TrimSpace(in.String()))
	if !ok {
		return Null(), evalError("date_format cannot parse %q", in.String())
	}
	return StringValue(strftime.Format(layout, t)), nil
}

func filterTruncateText(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if in.IsNull() {
		return StringValue(""), nil
	}
	length, err := intArg(arg(args, kwargs, 0, "length", IntValue(50)), "length")
	if err != nil {
		return Null(), err
	}
	suffix := arg(args, kwargs, 1, "suffix", StringValue("...")).String()
	runes := []rune(in.String())
	if len(runes) <= length {
		return StringValue(string(runes)), nil
	}
	return StringValue(string(runes[:max(length, 0)]) + suffix), nil
}

func filterStatusLabel(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if in.IsNull() {
		return StringValue(""), nil
	}
	key := in.String()
	if mapping := arg(args, kwargs, 0, "mapping", Null()); mapping.kind == KindMap {
		if v, ok := mapping.m.Get(key); ok {
			return v, nil
		}
	}
	if label, ok := DefaultStatusLabels[strings.ToLower(key)]; ok {
		return StringValue(label), nil
	}
	return StringValue(titleCase(strings.ReplaceAll(key, "_", " "))), nil
}

func filterDefaultIfNone(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	if in.IsNull() {
		return arg(args, kwargs, 0, "default", StringValue("")), nil
	}
	return in, nil
}

func filterCoalesce(_ CallEnv, in Value, args []Value, _ map[string]Value) (Value, error) {
	if !in.IsNull() {
		return in, nil
	}
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return Null(), nil
}

// filterDefault follows Jinja: none and undefined take the default, and
// with boolean=true so does any falsy value.
func filterDefault(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	def := arg(args, kwargs, 0, "default_value", StringValue(""))
	if in.IsNull() || (arg(args, kwargs, 1, "boolean", BoolValue(false)).Truthy() && !in.Truthy()) {
		return def, nil
	}
	return in, nil
}

func filterLength(_ CallEnv, in Value, _ []Value, _ map[string]Value) (Value, error) {
	if in.IsNull() {
		return IntValue(0), nil
	}
	n, ok := in.Len()
	if !ok {
		return Null(), evalError("object of type %s has no length", in.kind)
	}
	return IntValue(int64(n)), nil
}

func filterFirst(_ CallEnv, in Value, _ []Value, _ map[string]Value) (Value, error) {
	if n, _ := in.Len(); n == 0 {
		return Null(), nil
	}
	return getItem(in, IntValue(0), false)
}

func filterLast(_ CallEnv, in Value, _ []Value, _ map[string]Value) (Value, error) {
	if n, _ := in.Len(); n == 0 {
		return Null(), nil
	}
	return getItem(in, IntValue(-1), false)
}

func filterJoin(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	items, err := requireList("join", in)
	if err != nil {
		return Null(), err
	}
	sep := arg(args, kwargs, 0, "d", StringValue("")).String()
	attr := arg(args, kwargs, 1, "attribute", Null())
	parts := make([]string, len(items))
	for i, item := range items {
		if attr.kind == KindString {
			item = field(item, attr.s)
		}
		parts[i] = item.String()
	}
	return StringValue(strings.Join(parts, sep)), nil
}

func stringFilter(fn func(string) string) Filter {
	return func(_ CallEnv, in Value, _ []Value, _ map[string]Value) (Value, error) {
		return StringValue(fn(in.String())), nil
	}
}

func titleCase(s string) string {
	runes := []rune(strings.ToLower(s))
	upper := true
	for i, r := range runes {
		if unicode.IsLetter(r) {
			if upper {
				runes[i] = unicode.ToUpper(r)
			}
			upper = false
		} else {
			upper = true
		}
	}
	return string(runes)
}

func filterInt(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	def := arg(args, kwargs, 0, "default", IntValue(0))
	n, ok := toNumber(in)
	if !ok {
		return def, nil
	}
	if n.kind == KindFloat {
		return IntValue(int64(n.f)), nil
	}
	return n, nil
}

func filterFloat(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	def := arg(args, kwargs, 0, "default", FloatValue(0))
	n, ok := toNumber(in)
	if !ok {
		return def, nil
	}
	f, _ := n.AsFloat()
	return FloatValue(f), nil
}

// filterRound follows Jinja: always returns a float, method common|ceil|floor
func filterRound(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	n, ok := toNumber(in)
	if !ok {
		return Null(), evalError("round expects a number, got %s", in.kind)
	}
	precision, err := intArg(arg(args, kwargs, 0, "precision", IntValue(0)), "precision")
	if err != nil {
		return Null(), err
	}
	f, _ := n.AsFloat()
	p := math.Pow10(precision)
	switch method := arg(args, kwargs, 1, "method", StringValue("common")).String(); method {
	case "common":
		return FloatValue(math.Round(f*p) / p), nil
	case "ceil":
		return FloatValue(math.Ceil(f*p) / p), nil
	case "floor":
		return FloatValue(math.Floor(f*p) / p), nil
	default:
		return Null(), evalError("unknown rounding method %q", method)
	}
}

func filterSum(_ CallEnv, in Value, args []Value, kwargs map[string]Value) (Value, error) {
	items, err := requireList("sum", in)
	if err != nil {
		return Null(), err
	}
	if attr := arg(args, kwargs, 0, "attribute", Null()); attr.kind == KindString {
		return filterSumBy(CallEnv{}, in, []Value{attr}, nil)
	}
	return sumValues(items, arg(args, kwargs, 1, "start", IntValue(0)))
}
