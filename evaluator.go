// evaluator.go — pure expression evaluation against a scope stack.
//
// eval is a function of (scope, node) dispatching on the node head. The
// only side effects live behind two doors: `measure` resolves (and records)
// its target qubits, and user function calls may emit instructions through
// the function visitor. Everything else is a pure computation over Values.
//
// Numeric promotion: int op int stays integral; one float promotes to
// float; one complex promotes to complex. Bit-vector operators are
// element-wise; `!` on a bit vector means "none set". Power on integers
// stays integral for non-negative exponents.
package quasar

import (
	"math"
	"math/cmplx"
)

func (vis *Visitor) eval(sc *Scope, n *Node) (Value, error) {
	switch n.Head {
	case HIntegerLiteral:
		return intVal(n.I), nil
	case HFloatLiteral:
		return floatVal(n.F), nil
	case HComplexLiteral:
		return complexVal(n.C), nil
	case HBooleanLiteral:
		return boolVal(n.I != 0), nil
	case HStringLiteral:
		return Value{Tag: VStr, S: n.S}, nil
	case HIrrationalLiteral:
		return floatVal(n.F), nil
	case HHardwareQubit:
		q, err := vis.hardwareQubit(int(n.I))
		if err != nil {
			return Value{}, err
		}
		return qubitsVal([]int{q}), nil
	case HIdentifier:
		return vis.evalIdentifier(sc, n.S)
	case HIndexedIdentifier:
		return vis.evalIndexed(sc, n)
	case HRange:
		return vis.evalRange(sc, n)
	case HArrayLiteral:
		out := make([]Value, len(n.Kids))
		for i, k := range n.Kids {
			v, err := vis.eval(sc, k)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return arrVal(out), nil
	case HBinaryOp:
		l, err := vis.eval(sc, n.Kids[0])
		if err != nil {
			return Value{}, err
		}
		// Short-circuit logical operators.
		if n.S == "&&" || n.S == "||" {
			lt, err := l.isTruthy()
			if err != nil {
				return Value{}, err
			}
			if (n.S == "&&" && !lt) || (n.S == "||" && lt) {
				return boolVal(lt), nil
			}
			r, err := vis.eval(sc, n.Kids[1])
			if err != nil {
				return Value{}, err
			}
			rt, err := r.isTruthy()
			if err != nil {
				return Value{}, err
			}
			return boolVal(rt), nil
		}
		r, err := vis.eval(sc, n.Kids[1])
		if err != nil {
			return Value{}, err
		}
		return evalBinary(n.S, l, r)
	case HUnaryOp:
		v, err := vis.eval(sc, n.Kids[0])
		if err != nil {
			return Value{}, err
		}
		return evalUnary(n.S, v)
	case HCast:
		t, err := vis.resolveType(sc, n.Kids[0])
		if err != nil {
			return Value{}, err
		}
		v, err := vis.eval(sc, n.Kids[1])
		if err != nil {
			return Value{}, err
		}
		if t.Kind == BoolT {
			// bool(x) ≡ x > 0
			truthy, err := v.isTruthy()
			if err != nil {
				return Value{}, err
			}
			return boolVal(truthy), nil
		}
		return coerceToType(v, t)
	case HMeasure:
		if _, err := vis.measureTargets(sc, n.Kids[0]); err != nil {
			return Value{}, err
		}
		// Measurement outcomes do not feed back into classical storage;
		// the expression value is a boolean placeholder.
		return boolVal(false), nil
	case HFunctionCall:
		return vis.evalCall(sc, n)
	}
	return Value{}, elabErrf("cannot evaluate %s node", n.Head)
}

func (vis *Visitor) evalIdentifier(sc *Scope, name string) (Value, error) {
	if v, ok := sc.Lookup(name); ok {
		if v.Val.Tag == VNone {
			return Value{}, elabErrf("variable %q used before assignment", name)
		}
		return v.Val, nil
	}
	if q, ok := vis.qubits.Lookup(name); ok {
		return qubitsVal(q), nil
	}
	return Value{}, elabErrf("unknown variable %q", name)
}

// evalRange materializes a range triple. A stop of -1 survives here as
// written; index normalization substitutes the declared size minus one.
func (vis *Visitor) evalRange(sc *Scope, n *Node) (Value, error) {
	var parts [3]int64
	for i := 0; i < 3; i++ {
		v, err := vis.eval(sc, n.Kids[i])
		if err != nil {
			return Value{}, err
		}
		parts[i], err = v.asInt()
		if err != nil {
			return Value{}, err
		}
	}
	return Value{Tag: VRange, R: RangeVal{Start: parts[0], Step: parts[1], Stop: parts[2]}}, nil
}

// indexPositions flattens one index node (scalar, range, or set) into the
// concrete positions it selects within a container of the given size, and
// reports whether the index was a slice (range or set) rather than a
// scalar. Negative positions count from the end, so the parser's
// missing-stop sentinel (-1) lands on size-1.
func (vis *Visitor) indexPositions(sc *Scope, idx *Node, size int) ([]int, bool, error) {
	norm := func(i int64) (int, error) {
		if i < 0 {
			i += int64(size)
		}
		if i < 0 || i >= int64(size) {
			return 0, elabErrf("index %d out of range for size %d", i, size)
		}
		return int(i), nil
	}
	v, err := vis.eval(sc, idx)
	if err != nil {
		return nil, false, err
	}
	switch v.Tag {
	case VRange:
		r := v.R
		if r.Start < 0 {
			r.Start += int64(size)
		}
		if r.Stop < 0 {
			r.Stop += int64(size)
		}
		if r.Step == 0 {
			return nil, false, elabErrf("range step must be nonzero")
		}
		var out []int
		for _, i := range (RangeVal{Start: r.Start, Step: r.Step, Stop: r.Stop}).collect() {
			p, err := norm(i)
			if err != nil {
				return nil, false, err
			}
			out = append(out, p)
		}
		return out, true, nil
	case VArr:
		out := make([]int, len(v.Arr))
		for i, x := range v.Arr {
			iv, err := x.asInt()
			if err != nil {
				return nil, false, err
			}
			out[i], err = norm(iv)
			if err != nil {
				return nil, false, err
			}
		}
		return out, true, nil
	default:
		iv, err := v.asInt()
		if err != nil {
			return nil, false, err
		}
		p, err := norm(iv)
		if err != nil {
			return nil, false, err
		}
		return []int{p}, false, nil
	}
}

func (vis *Visitor) evalIndexed(sc *Scope, n *Node) (Value, error) {
	name := n.Kids[0].S
	indices := n.Kids[1:]

	if q, ok := vis.qubits.Lookup(name); ok {
		if len(indices) != 1 {
			return Value{}, elabErrf("qubit register %q takes a single index", name)
		}
		pos, _, err := vis.indexPositions(sc, indices[0], len(q))
		if err != nil {
			return Value{}, err
		}
		out := make([]int, len(pos))
		for i, p := range pos {
			out[i] = q[p]
		}
		return qubitsVal(out), nil
	}

	v, ok := sc.Lookup(name)
	if !ok {
		return Value{}, elabErrf("unknown variable %q", name)
	}
	return vis.indexValue(sc, v.Val, indices)
}

// indexValue applies successive index groups to a classical value.
func (vis *Visitor) indexValue(sc *Scope, val Value, indices []*Node) (Value, error) {
	for _, idx := range indices {
		switch val.Tag {
		case VArr:
			pos, slice, err := vis.indexPositions(sc, idx, len(val.Arr))
			if err != nil {
				return Value{}, err
			}
			if !slice {
				val = val.Arr[pos[0]]
			} else {
				out := make([]Value, len(pos))
				for i, p := range pos {
					out[i] = val.Arr[p]
				}
				val = arrVal(out)
			}
		case VBits:
			pos, slice, err := vis.indexPositions(sc, idx, len(val.Bits))
			if err != nil {
				return Value{}, err
			}
			if !slice {
				val = boolVal(val.Bits[pos[0]])
			} else {
				out := make([]bool, len(pos))
				for i, p := range pos {
					out[i] = val.Bits[p]
				}
				val = bitsVal(out)
			}
		case VInt:
			// Bit extraction by most-significant-bit offset.
			w := widthOrDefault(val)
			pos, slice, err := vis.indexPositions(sc, idx, w)
			if err != nil {
				return Value{}, err
			}
			if !slice {
				b, err := intBit(val, pos[0])
				if err != nil {
					return Value{}, err
				}
				val = boolVal(b)
			} else {
				out := make([]bool, len(pos))
				for i, p := range pos {
					out[i], err = intBit(val, p)
					if err != nil {
						return Value{}, err
					}
				}
				val = bitsVal(out)
			}
		default:
			return Value{}, elabErrf("cannot index %s", val)
		}
	}
	return val, nil
}

// ─────────────────────────── operators ───────────────────────────

func evalBinary(op string, l, r Value) (Value, error) {
	// Element-wise bit-vector operators.
	if l.Tag == VBits && r.Tag == VBits && isBitwiseOp(op) {
		if len(l.Bits) != len(r.Bits) {
			return Value{}, elabErrf("bit vector widths differ: %d vs %d", len(l.Bits), len(r.Bits))
		}
		out := make([]bool, len(l.Bits))
		for i := range out {
			switch op {
			case "&":
				out[i] = l.Bits[i] && r.Bits[i]
			case "|":
				out[i] = l.Bits[i] || r.Bits[i]
			case "^":
				out[i] = l.Bits[i] != r.Bits[i]
			}
		}
		return bitsVal(out), nil
	}
	if l.Tag == VBits && isShiftOp(op) {
		k, err := r.asInt()
		if err != nil {
			return Value{}, err
		}
		return shiftBits(l, op, k), nil
	}

	if l.Tag == VComplex || r.Tag == VComplex {
		lc, err := l.asComplex()
		if err != nil {
			return Value{}, err
		}
		rc, err := r.asComplex()
		if err != nil {
			return Value{}, err
		}
		return complexBinary(op, lc, rc)
	}

	if l.Tag == VFloat || r.Tag == VFloat {
		lf, err := l.asFloat()
		if err != nil {
			return Value{}, err
		}
		rf, err := r.asFloat()
		if err != nil {
			return Value{}, err
		}
		return floatBinary(op, lf, rf)
	}

	li, err := l.asInt()
	if err != nil {
		return Value{}, err
	}
	ri, err := r.asInt()
	if err != nil {
		return Value{}, err
	}
	return intBinary(op, li, ri)
}

func isBitwiseOp(op string) bool { return op == "&" || op == "|" || op == "^" }
func isShiftOp(op string) bool   { return op == "<<" || op == ">>" }

func shiftBits(v Value, op string, k int64) Value {
	n := len(v.Bits)
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		var src int
		if op == "<<" {
			src = i + int(k)
		} else {
			src = i - int(k)
		}
		if src >= 0 && src < n {
			out[i] = v.Bits[src]
		}
	}
	return bitsVal(out)
}

func intBinary(op string, l, r int64) (Value, error) {
	switch op {
	case "+":
		return intVal(l + r), nil
	case "-":
		return intVal(l - r), nil
	case "*":
		return intVal(l * r), nil
	case "/":
		// Division always yields a real number, so pow(1/2) means a half
		// application rather than pow(0).
		if r == 0 {
			return Value{}, elabErrf("division by zero")
		}
		if l%r == 0 {
			return intVal(l / r), nil
		}
		return floatVal(float64(l) / float64(r)), nil
	case "%":
		if r == 0 {
			return Value{}, elabErrf("modulo by zero")
		}
		return intVal(l % r), nil
	case "**":
		if r >= 0 {
			out := int64(1)
			for i := int64(0); i < r; i++ {
				out *= l
			}
			return intVal(out), nil
		}
		return floatVal(math.Pow(float64(l), float64(r))), nil
	case "<<":
		return intVal(l << uint(r)), nil
	case ">>":
		return intVal(l >> uint(r)), nil
	case "&":
		return intVal(l & r), nil
	case "|":
		return intVal(l | r), nil
	case "^":
		return intVal(l ^ r), nil
	case "==":
		return boolVal(l == r), nil
	case "!=":
		return boolVal(l != r), nil
	case "<":
		return boolVal(l < r), nil
	case "<=":
		return boolVal(l <= r), nil
	case ">":
		return boolVal(l > r), nil
	case ">=":
		return boolVal(l >= r), nil
	}
	return Value{}, elabErrf("unsupported integer operator %q", op)
}

func floatBinary(op string, l, r float64) (Value, error) {
	switch op {
	case "+":
		return floatVal(l + r), nil
	case "-":
		return floatVal(l - r), nil
	case "*":
		return floatVal(l * r), nil
	case "/":
		return floatVal(l / r), nil
	case "%":
		return floatVal(math.Mod(l, r)), nil
	case "**":
		return floatVal(math.Pow(l, r)), nil
	case "==":
		return boolVal(l == r), nil
	case "!=":
		return boolVal(l != r), nil
	case "<":
		return boolVal(l < r), nil
	case "<=":
		return boolVal(l <= r), nil
	case ">":
		return boolVal(l > r), nil
	case ">=":
		return boolVal(l >= r), nil
	}
	return Value{}, elabErrf("unsupported float operator %q", op)
}

func complexBinary(op string, l, r complex128) (Value, error) {
	switch op {
	case "+":
		return complexVal(l + r), nil
	case "-":
		return complexVal(l - r), nil
	case "*":
		return complexVal(l * r), nil
	case "/":
		return complexVal(l / r), nil
	case "**":
		return complexVal(cmplx.Pow(l, r)), nil
	case "==":
		return boolVal(l == r), nil
	case "!=":
		return boolVal(l != r), nil
	}
	return Value{}, elabErrf("unsupported complex operator %q", op)
}

func evalUnary(op string, v Value) (Value, error) {
	switch op {
	case "-":
		switch v.Tag {
		case VInt:
			out := v
			out.I = -out.I
			return out, nil
		case VFloat:
			return floatVal(-v.F), nil
		case VComplex:
			return complexVal(-v.C), nil
		}
		return Value{}, elabErrf("cannot negate %s", v)
	case "!":
		if v.Tag == VBits {
			// "none set" on a bit vector.
			for _, b := range v.Bits {
				if b {
					return boolVal(false), nil
				}
			}
			return boolVal(true), nil
		}
		truthy, err := v.isTruthy()
		if err != nil {
			return Value{}, err
		}
		return boolVal(!truthy), nil
	case "~":
		switch v.Tag {
		case VBits:
			out := make([]bool, len(v.Bits))
			for i, b := range v.Bits {
				out[i] = !b
			}
			return bitsVal(out), nil
		case VInt:
			out := v
			out.I = truncateToWidth(^v.I, widthOrDefault(v), v.U)
			return out, nil
		}
		return Value{}, elabErrf("cannot complement %s", v)
	}
	return Value{}, elabErrf("unsupported unary operator %q", op)
}

func widthOrDefault(v Value) int {
	if v.W > 0 {
		return v.W
	}
	return defaultIntSize
}

// evalCall dispatches a function-call expression: builtins first, then user
// functions elaborated in a fresh function visitor.
func (vis *Visitor) evalCall(sc *Scope, n *Node) (Value, error) {
	name := n.Kids[0].S
	args := n.Kids[1]
	if fn, ok := builtinFuncs[name]; ok {
		return vis.callBuiltin(sc, name, fn, args)
	}
	return vis.callFunction(sc, name, args)
}
