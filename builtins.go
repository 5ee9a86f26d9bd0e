// builtins.go — the closed set of builtin classical functions.
//
// Every builtin has a fixed arity. Scalar builtins receive their arguments
// evaluated and flattened to scalars; sizeof is the one exception and
// receives its first argument unflattened so it can inspect array shape.
package quasar

import "math"

type builtinFunc struct {
	arity int
	fn    func(args []Value) (Value, error)
}

func unaryMath(f func(float64) float64) builtinFunc {
	return builtinFunc{arity: 1, fn: func(args []Value) (Value, error) {
		x, err := args[0].asFloat()
		if err != nil {
			return Value{}, err
		}
		return floatVal(f(x)), nil
	}}
}

var builtinFuncs = map[string]builtinFunc{
	"arccos":  unaryMath(math.Acos),
	"arcsin":  unaryMath(math.Asin),
	"arctan":  unaryMath(math.Atan),
	"ceiling": unaryMath(math.Ceil),
	"cos":     unaryMath(math.Cos),
	"exp":     unaryMath(math.Exp),
	"floor":   unaryMath(math.Floor),
	"log":     unaryMath(math.Log),
	"sin":     unaryMath(math.Sin),
	"sqrt":    unaryMath(math.Sqrt),
	"tan":     unaryMath(math.Tan),

	"mod": {arity: 2, fn: func(args []Value) (Value, error) {
		if args[0].Tag == VInt && args[1].Tag == VInt {
			if args[1].I == 0 {
				return Value{}, elabErrf("mod by zero")
			}
			return intVal(args[0].I % args[1].I), nil
		}
		a, err := args[0].asFloat()
		if err != nil {
			return Value{}, err
		}
		b, err := args[1].asFloat()
		if err != nil {
			return Value{}, err
		}
		return floatVal(math.Mod(a, b)), nil
	}},

	"pow": {arity: 2, fn: func(args []Value) (Value, error) {
		return evalBinary("**", args[0], args[1])
	}},

	"popcount": {arity: 1, fn: func(args []Value) (Value, error) {
		switch args[0].Tag {
		case VBits:
			var n int64
			for _, b := range args[0].Bits {
				if b {
					n++
				}
			}
			return intVal(n), nil
		case VInt:
			var n int64
			for u := uint64(args[0].I); u != 0; u &= u - 1 {
				n++
			}
			return intVal(n), nil
		}
		return Value{}, elabErrf("popcount expects an integer or bit vector")
	}},

	"rotl": {arity: 2, fn: func(args []Value) (Value, error) { return rotateBits(args[0], args[1], true) }},
	"rotr": {arity: 2, fn: func(args []Value) (Value, error) { return rotateBits(args[0], args[1], false) }},

	// sizeof is dispatched specially in callBuiltin: its first argument is
	// passed unflattened so array shape stays inspectable.
	"sizeof": {arity: -1},
}

func rotateBits(v, by Value, left bool) (Value, error) {
	k, err := by.asInt()
	if err != nil {
		return Value{}, err
	}
	switch v.Tag {
	case VBits:
		n := int64(len(v.Bits))
		if n == 0 {
			return v, nil
		}
		out := make([]bool, n)
		for i := int64(0); i < n; i++ {
			src := i + k
			if !left {
				src = i - k
			}
			out[i] = v.Bits[((src%n)+n)%n]
		}
		return bitsVal(out), nil
	case VInt:
		w := widthOrDefault(v)
		k = ((k % int64(w)) + int64(w)) % int64(w)
		u := uint64(v.I) & widthMask(w)
		var r uint64
		if left {
			r = (u<<uint(k) | u>>uint(int64(w)-k)) & widthMask(w)
		} else {
			r = (u>>uint(k) | u<<uint(int64(w)-k)) & widthMask(w)
		}
		out := v
		out.I = truncateToWidth(int64(r), w, v.U)
		return out, nil
	}
	return Value{}, elabErrf("rotate expects an integer or bit vector")
}

func widthMask(w int) uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(w)) - 1
}

// callBuiltin evaluates the argument nodes and applies a builtin. sizeof is
// handled here because its first argument must not be flattened.
func (vis *Visitor) callBuiltin(sc *Scope, name string, fn builtinFunc, args *Node) (Value, error) {
	if name == "sizeof" {
		return vis.callSizeof(sc, args)
	}
	if len(args.Kids) != fn.arity {
		return Value{}, elabErrf("builtin %s expects %d argument(s), got %d", name, fn.arity, len(args.Kids))
	}
	vals := make([]Value, len(args.Kids))
	for i, a := range args.Kids {
		v, err := vis.eval(sc, a)
		if err != nil {
			return Value{}, err
		}
		vals[i] = v
	}
	return fn.fn(vals)
}

func (vis *Visitor) callSizeof(sc *Scope, args *Node) (Value, error) {
	if len(args.Kids) < 1 || len(args.Kids) > 2 {
		return Value{}, elabErrf("sizeof expects 1 or 2 arguments, got %d", len(args.Kids))
	}
	v, err := vis.eval(sc, args.Kids[0])
	if err != nil {
		return Value{}, err
	}
	dim := int64(0)
	if len(args.Kids) == 2 {
		dv, err := vis.eval(sc, args.Kids[1])
		if err != nil {
			return Value{}, err
		}
		dim, err = dv.asInt()
		if err != nil {
			return Value{}, err
		}
	}
	for d := int64(0); d < dim; d++ {
		if v.Tag != VArr || len(v.Arr) == 0 {
			return Value{}, elabErrf("sizeof dimension %d out of range", dim)
		}
		v = v.Arr[0]
	}
	switch v.Tag {
	case VArr:
		return intVal(int64(len(v.Arr))), nil
	case VBits:
		return intVal(int64(len(v.Bits))), nil
	}
	return Value{}, elabErrf("sizeof expects an array or bit vector")
}
