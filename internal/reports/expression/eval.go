package expression

import (
	"math"
	"strconv"
	"strings"
)

type node interface {
	eval(e *env) (Value, error)
}

type env struct {
	ctx    Context
	engine *Engine
}

type kwarg struct {
	name string
	val  node
}

type (
	literalNode struct{ v Value }
	nameNode    struct{ name string }
	attrNode    struct {
		obj  node
		name string
	}
	indexNode struct{ obj, key node }
	sliceNode struct{ obj, lo, hi node }
	callNode  struct {
		fn     node
		args   []node
		kwargs []kwarg
	}
	filterNode struct {
		obj    node
		name   string
		args   []node
		kwargs []kwarg
	}
	testNode struct {
		obj    node
		name   string
		negate bool
		args   []node
	}
	unaryNode struct {
		op string
		x  node
	}
	binaryNode struct {
		op   string
		l, r node
	}
	compareNode struct {
		first node
		ops   []string
		rest  []node
	}
	condNode struct{ cond, then, els node }
	listNode struct{ items []node }
	dictNode struct{ keys, vals []node }
)

func (n literalNode) eval(*env) (Value, error) { return n.v, nil }

func (n nameNode) eval(e *env) (Value, error) {
	if v, ok := e.ctx[n.name]; ok {
		return v, nil
	}
	return Null(), undefinedError("'%s' is undefined", n.name)
}

func (n attrNode) eval(e *env) (Value, error) {
	obj, err := n.obj.eval(e)
	if err != nil {
		return Null(), err
	}
	return getItem(obj, StringValue(n.name), true)
}

func (n indexNode) eval(e *env) (Value, error) {
	obj, err := n.obj.eval(e)
	if err != nil {
		return Null(), err
	}
	key, err := n.key.eval(e)
	if err != nil {
		return Null(), err
	}
	return getItem(obj, key, false)
}

func getItem(obj, key Value, attr bool) (Value, error) {
	switch obj.kind {
	case KindMap:
		k := key.String()
		if v, ok := obj.m.Get(k); ok {
			return v, nil
		}
		return Null(), undefinedError("map has no key '%s'", k)
	case KindList, KindString:
		idx := key
		if attr {
			i, err := strconv.ParseInt(key.s, 10, 64)
			if err != nil {
				return Null(), undefinedError("%s has no attribute '%s'", obj.kind, key.s)
			}
			idx = IntValue(i)
		}
		if idx.kind != KindInt {
			return Null(), evalError("%s indices must be integers, not %s", obj.kind, idx.kind)
		}
		n, _ := obj.Len()
		i := int(idx.i)
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return Null(), evalError("index %d out of range", idx.i)
		}
		if obj.kind == KindString {
			return StringValue(string([]rune(obj.s)[i])), nil
		}
		return obj.list[i], nil
	case KindNull:
		return Null(), undefinedError("cannot read '%s' of none", key.String())
	}
	return Null(), undefinedError("%s has no attribute '%s'", obj.kind, key.String())
}

func (n sliceNode) eval(e *env) (Value, error) {
	obj, err := n.obj.eval(e)
	if err != nil {
		return Null(), err
	}
	length, ok := obj.Len()
	if !ok || obj.kind == KindMap {
		return Null(), evalError("%s is not sliceable", obj.kind)
	}
	bound := func(b node, def int) (int, error) {
		if b == nil {
			return def, nil
		}
		v, err := b.eval(e)
		if err != nil {
			return 0, err
		}
		if v.kind != KindInt {
			return 0, evalError("slice indices must be integers")
		}
		i := int(v.i)
		if i < 0 {
			i += length
		}
		return min(max(i, 0), length), nil
	}
	lo, err := bound(n.lo, 0)
	if err != nil {
		return Null(), err
	}
	hi, err := bound(n.hi, length)
	if err != nil {
		return Null(), err
	}
	if hi < lo {
		hi = lo
	}
	if obj.kind == KindString {
		return StringValue(string([]rune(obj.s)[lo:hi])), nil
	}
	return ListValue(append([]Value(nil), obj.list[lo:hi]...)), nil
}

func (e *env) evalArgs(args []node, kwargs []kwarg) ([]Value, map[string]Value, error) {
	vals := make([]Value, len(args))
	for i, a := range args {
		v, err := a.eval(e)
		if err != nil {
			return nil, nil, err
		}
		vals[i] = v
	}
	var kw map[string]Value
	if len(kwargs) > 0 {
		kw = make(map[string]Value, len(kwargs))
		for _, k := range kwargs {
			v, err := k.val.eval(e)
			if err != nil {
				return nil, nil, err
			}
			kw[k.name] = v
		}
	}
	return vals, kw, nil
}

func (n callNode) eval(e *env) (Value, error) {
	switch fn := n.fn.(type) {
	case nameNode:
		f, ok := e.engine.functions[fn.name]
		if !ok {
			return Null(), undefinedError("function '%s' is undefined", fn.name)
		}
		args, kw, err := e.evalArgs(n.args, n.kwargs)
		if err != nil {
			return Null(), err
		}
		return f(e.engine.callEnv(), args, kw)
	case attrNode:
		obj, err := fn.obj.eval(e)
		if err != nil {
			return Null(), err
		}
		args, _, err := e.evalArgs(n.args, n.kwargs)
		if err != nil {
			return Null(), err
		}
		return callMethod(obj, fn.name, args)
	}
	return Null(), evalError("expression is not callable")
}

// Filters that tolerate an undefined input and treat it as none
var undefinedTolerant = map[string]bool{"default": true, "default_if_none": true, "coalesce": true, "d": true}

func (n filterNode) eval(e *env) (Value, error) {
	f, ok := e.engine.filters[n.name]
	if !ok {
		return Null(), undefinedError("filter '%s' is undefined", n.name)
	}
	in, err := n.obj.eval(e)
	if err != nil {
		if !(undefinedTolerant[n.name] && isUndefined(err)) {
			return Null(), err
		}
		in = Null()
	}
	args, kw, err := e.evalArgs(n.args, n.kwargs)
	if err != nil {
		return Null(), err
	}
	return f(e.engine.callEnv(), in, args, kw)
}

func (n testNode) eval(e *env) (Value, error) {
	v, err := n.obj.eval(e)
	defined := true
	if err != nil {
		if !isUndefined(err) {
			return Null(), err
		}
		defined = false
	}
	args, _, err := e.evalArgs(n.args, nil)
	if err != nil {
		return Null(), err
	}
	var result bool
	switch n.name {
	case "defined":
		result = defined
	case "undefined":
		result = !defined
	default:
		if !defined {
			return Null(), undefinedError("cannot test undefined value with '%s'", n.name)
		}
		result, err = applyTest(n.name, v, args)
		if err != nil {
			return Null(), err
		}
	}
	if n.negate {
		result = !result
	}
	return BoolValue(result), nil
}

func applyTest(name string, v Value, args []Value) (bool, error) {
	switch name {
	case "none":
		return v.kind == KindNull, nil
	case "number":
		return v.IsNumber(), nil
	case "string":
		return v.kind == KindString, nil
	case "mapping":
		return v.kind == KindMap, nil
	case "sequence", "iterable":
		return v.kind == KindList || v.kind == KindString || v.kind == KindMap, nil
	case "boolean":
		return v.kind == KindBool, nil
	case "even", "odd":
		if v.kind != KindInt {
			return false, evalError("'%s' test requires an integer", name)
		}
		return (v.i%2 == 0) == (name == "even"), nil
	case "divisibleby":
		if v.kind != KindInt || len(args) != 1 || args[0].kind != KindInt || args[0].i == 0 {
			return false, evalError("'divisibleby' test requires a non-zero integer argument")
		}
		return v.i%args[0].i == 0, nil
	case "true":
		return v.kind == KindBool && v.b, nil
	case "false":
		return v.kind == KindBool && !v.b, nil
	}
	return false, undefinedError("test '%s' is undefined", name)
}

func (n unaryNode) eval(e *env) (Value, error) {
	x, err := n.x.eval(e)
	if err != nil {
		return Null(), err
	}
	switch n.op {
	case "not":
		return BoolValue(!x.Truthy()), nil
	case "-":
		switch x.kind {
		case KindInt:
			return IntValue(-x.i), nil
		case KindFloat:
			return FloatValue(-x.f), nil
		}
	case "+":
		if x.IsNumber() {
			return x, nil
		}
	}
	return Null(), evalError("bad operand type for unary %s: %s", n.op, x.kind)
}

func (n binaryNode) eval(e *env) (Value, error) {
	l, err := n.l.eval(e)
	if err != nil {
		return Null(), err
	}
	switch n.op {
	case "and":
		if !l.Truthy() {
			return l, nil
		}
		return n.r.eval(e)
	case "or":
		if l.Truthy() {
			return l, nil
		}
		return n.r.eval(e)
	}
	r, err := n.r.eval(e)
	if err != nil {
		return Null(), err
	}
	return arith(n.op, l, r)
}

func arith(op string, l, r Value) (Value, error) {
	if op == "~" {
		return StringValue(l.String() + r.String()), nil
	}
	if op == "+" {
		switch {
		case l.kind == KindString && r.kind == KindString:
			return StringValue(l.s + r.s), nil
		case l.kind == KindList && r.kind == KindList:
			out := make([]Value, 0, len(l.list)+len(r.list))
			return ListValue(append(append(out, l.list...), r.list...)), nil
		}
	}
	if op == "*" && l.kind == KindString && r.kind == KindInt {
		if r.i < 0 || r.i > 10000 {
			return Null(), evalError("invalid string repeat count %d", r.i)
		}
		return StringValue(strings.Repeat(l.s, int(r.i))), nil
	}
	if !l.IsNumeric() || !r.IsNumeric() {
		return Null(), evalError("unsupported operand types for %s: %s and %s", op, l.kind, r.kind)
	}
	if l.kind != KindFloat && r.kind != KindFloat {
		a, b := intOf(l), intOf(r)
		switch op {
		case "+":
			return IntValue(a + b), nil
		case "-":
			return IntValue(a - b), nil
		case "*":
			return IntValue(a * b), nil
		case "//":
			if b == 0 {
				return Null(), evalError("integer division by zero")
			}
			q := a / b
			if (a%b != 0) && ((a < 0) != (b < 0)) {
				q--
			}
			return IntValue(q), nil
		case "%":
			if b == 0 {
				return Null(), evalError("integer modulo by zero")
			}
			m := a % b
			if m != 0 && ((m < 0) != (b < 0)) {
				m += b
			}
			return IntValue(m), nil
		case "**":
			if b >= 0 && b <= 63 {
				result := int64(1)
				for i := int64(0); i < b; i++ {
					result *= a
				}
				return IntValue(result), nil
			}
		}
	}
	a, _ := l.AsFloat()
	b, _ := r.AsFloat()
	switch op {
	case "+":
		return FloatValue(a + b), nil
	case "-":
		return FloatValue(a - b), nil
	case "*":
		return FloatValue(a * b), nil
	case "/":
		if b == 0 {
			return Null(), evalError("division by zero")
		}
		return FloatValue(a / b), nil
	case "//":
		if b == 0 {
			return Null(), evalError("float floor division by zero")
		}
		return FloatValue(math.Floor(a / b)), nil
	case "%":
		if b == 0 {
			return Null(), evalError("float modulo")
		}
		m := math.Mod(a, b)
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return FloatValue(m), nil
	case "**":
		return FloatValue(math.Pow(a, b)), nil
	}
	return Null(), evalError("unknown operator %s", op)
}

func intOf(v Value) int64 {
	if v.kind == KindBool {
		if v.b {
			return 1
		}
		return 0
	}
	return v.i
}

func (n compareNode) eval(e *env) (Value, error) {
	left, err := n.first.eval(e)
	if err != nil {
		return Null(), err
	}
	for i, op := range n.ops {
		right, err := n.rest[i].eval(e)
		if err != nil {
			return Null(), err
		}
		ok, err := compareOp(op, left, right)
		if err != nil {
			return Null(), err
		}
		if !ok {
			return BoolValue(false), nil
		}
		left = right
	}
	return BoolValue(true), nil
}

func compareOp(op string, l, r Value) (bool, error) {
	switch op {
	case "==":
		return Equal(l, r), nil
	case "!=":
		return !Equal(l, r), nil
	case "in", "not in":
		found, err := contains(r, l)
		if err != nil {
			return false, err
		}
		return found == (op == "in"), nil
	}
	c, ok := Compare(l, r)
	if !ok {
		return false, evalError("'%s' not supported between %s and %s", op, l.kind, r.kind)
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, evalError("unknown comparison %s", op)
}

func contains(container, item Value) (bool, error) {
	switch container.kind {
	case KindString:
		if item.kind != KindString {
			return false, evalError("'in <string>' requires string as left operand")
		}
		return strings.Contains(container.s, item.s), nil
	case KindList:
		for _, v := range container.list {
			if Equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case KindMap:
		_, ok := container.m.Get(item.String())
		return ok, nil
	}
	return false, evalError("argument of type %s is not iterable", container.kind)
}

func (n condNode) eval(e *env) (Value, error) {
	c, err := n.cond.eval(e)
	if err != nil {
		return Null(), err
	}
	if c.Truthy() {
		return n.then.eval(e)
	}
	return n.els.eval(e)
}

func (n listNode) eval(e *env) (Value, error) {
	items := make([]Value, len(n.items))
	for i, item := range n.items {
		v, err := item.eval(e)
		if err != nil {
			return Null(), err
		}
		items[i] = v
	}
	return ListValue(items), nil
}

func (n dictNode) eval(e *env) (Value, error) {
	m := NewMap()
	for i := range n.keys {
		k, err := n.keys[i].eval(e)
		if err != nil {
			return Null(), err
		}
		v, err := n.vals[i].eval(e)
		if err != nil {
			return Null(), err
		}
		m.Set(k.String(), v)
	}
	return MapValue(m), nil
}

// callMethod supports the handful of Python-style methods templates commonly use
func callMethod(obj Value, name string, args []Value) (Value, error) {
	switch obj.kind {
	case KindMap:
		switch name {
		case "items":
			items := make([]Value, 0, obj.m.Len())
			for _, k := range obj.m.keys {
				items = append(items, ListValue([]Value{StringValue(k), obj.m.vals[k]}))
			}
			return ListValue(items), nil
		case "keys":
			keys := make([]Value, 0, obj.m.Len())
			for _, k := range obj.m.keys {
				keys = append(keys, StringValue(k))
			}
			return ListValue(keys), nil
		case "values":
			vals := make([]Value, 0, obj.m.Len())
			for _, k := range obj.m.keys {
				vals = append(vals, obj.m.vals[k])
			}
			return ListValue(vals), nil
		case "get":
			if len(args) == 0 {
				return Null(), evalError("get() requires a key")
			}
			if v, ok := obj.m.Get(args[0].String()); ok {
				return v, nil
			}
			if len(args) > 1 {
				return args[1], nil
			}
			return Null(), nil
		}
	case KindString:
		switch name {
		case "upper":
			return StringValue(strings.ToUpper(obj.s)), nil
		case "lower":
			return StringValue(strings.ToLower(obj.s)), nil
		case "strip":
			return StringValue(strings.TrimSpace(obj.s)), nil
		case "startswith", "endswith":
			if len(args) != 1 {
				return Null(), evalError("%s() takes one argument", name)
			}
			if name == "startswith" {
				return BoolValue(strings.HasPrefix(obj.s, args[0].String())), nil
			}
			return BoolValue(strings.HasSuffix(obj.s, args[0].String())), nil
		case "replace":
			if len(args) != 2 {
				return Null(), evalError("replace() takes two arguments")
			}
			return StringValue(strings.ReplaceAll(obj.s, args[0].String(), args[1].String())), nil
		case "split":
			var parts []string
			if len(args) == 0 {
				parts = strings.Fields(obj.s)
			} else {
				parts = strings.Split(obj.s, args[0].String())
			}
			out := make([]Value, len(parts))
			for i, p := range parts {
				out[i] = StringValue(p)
			}
			return ListValue(out), nil
		}
	}
	return Null(), undefinedError("%s has no method '%s'", obj.kind, name)
}

func collectNames(n node, out map[string]struct{}) {
	switch t := n.(type) {
	case nameNode:
		out[t.name] = struct{}{}
	case attrNode:
		collectNames(t.obj, out)
	case indexNode:
		collectNames(t.obj, out)
		collectNames(t.key, out)
	case sliceNode:
		collectNames(t.obj, out)
		if t.lo != nil {
			collectNames(t.lo, out)
		}
		if t.hi != nil {
			collectNames(t.hi, out)
		}
	case callNode:
		if a, ok := t.fn.(attrNode); ok {
			collectNames(a.obj, out)
		}
		for _, a := range t.args {
			collectNames(a, out)
		}
		for _, k := range t.kwargs {
			collectNames(k.val, out)
		}
	case filterNode:
		collectNames(t.obj, out)
		for _, a := range t.args {
			collectNames(a, out)
		}
		for _, k := range t.kwargs {
			collectNames(k.val, out)
		}
	case testNode:
		collectNames(t.obj, out)
		for _, a := range t.args {
			collectNames(a, out)
		}
	case unaryNode:
		collectNames(t.x, out)
	case binaryNode:
		collectNames(t.l, out)
		collectNames(t.r, out)
	case compareNode:
		collectNames(t.first, out)
		for _, r := range t.rest {
			collectNames(r, out)
		}
	case condNode:
		collectNames(t.cond, out)
		collectNames(t.then, out)
		collectNames(t.els, out)
	case listNode:
		for _, item := range t.items {
			collectNames(item, out)
		}
	case dictNode:
		for i := range t.keys {
			collectNames(t.keys[i], out)
			collectNames(t.vals[i], out)
		}
	}
}
