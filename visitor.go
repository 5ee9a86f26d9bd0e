// visitor.go — statement-level elaboration of the syntax tree.
//
// OVERVIEW
// --------
// The Visitor owns the registries the program builds up: input bindings,
// the classical scope chain, the gate registry (seeded from the builtin
// set), the function registry, the qubit allocator, and the output
// instruction and result lists. Visiting the root program node walks every
// statement in source order; loops and conditionals unroll completely, gate
// definitions precompile to templates, and gate calls lower through the
// engine in gatecall.go.
//
// Specialized child visitors share handles into their parent:
//   - the for-loop body shares the registries and sees the induction
//     variable through a child scope that is dropped on completion;
//   - a function call builds a fresh visitor with its own classical scope
//     and qubit space, then remaps emitted instructions into caller
//     coordinates and copies mutated array arguments back;
//   - a gate definition builds a fresh visitor whose qubit parameters are
//     pre-allocated at indices 0..k-1 and whose parameters are free
//     symbols; its body becomes the gate's template.
//
// Elaboration is single-threaded and synchronous; a failure anywhere
// aborts with the first error and no partial circuit escapes.
package quasar

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// QubitTable is the global qubit allocator: it maps register names (and
// element aliases name[i]) to contiguous integer index lists.
type QubitTable struct {
	names map[string][]int
	count int
}

func newQubitTable() *QubitTable {
	return &QubitTable{names: make(map[string][]int)}
}

// Declare extends the allocator by size indices under name and registers
// each element alias.
func (t *QubitTable) Declare(name string, size int) error {
	if _, exists := t.names[name]; exists {
		return elabErrf("qubit register %q already declared", name)
	}
	if size <= 0 {
		return elabErrf("qubit register %q must have positive size, got %d", name, size)
	}
	indices := make([]int, size)
	for i := range indices {
		indices[i] = t.count + i
		t.names[fmt.Sprintf("%s[%d]", name, i)] = []int{t.count + i}
	}
	t.names[name] = indices
	t.count += size
	return nil
}

func (t *QubitTable) Lookup(name string) ([]int, bool) {
	q, ok := t.names[name]
	return q, ok
}

func (t *QubitTable) Count() int { return t.count }

// control-flow signals travel as errors and are absorbed by the loop and
// function handlers.
type loopSignal struct{ kind string }

func (s *loopSignal) Error() string { return s.kind + " outside loop" }

var (
	breakSignal    = &loopSignal{"break"}
	continueSignal = &loopSignal{"continue"}
)

type returnValue struct{ val Value }

func (r *returnValue) Error() string { return "return outside def" }

// gateDefState holds in-progress gate-definition elaboration.
type gateDefState struct {
	free map[string]bool
	body []templateInstr
}

// funcState marks function-body elaboration and carries the declared return
// type. Qubit remapping on exit is done by callFunction, which keeps the
// caller-side index map itself.
type funcState struct {
	returnType *ClassicalType
}

// Visitor elaborates a parsed program into a Circuit.
type Visitor struct {
	inputs map[string]any
	global *Scope
	gates  map[string]*GateDef
	funcs  map[string]*FuncDef

	qubits       *QubitTable
	instructions []Instruction
	results      []Result
	measured     []int
	verbatim     bool

	gatedef *gateDefState
	infunc  *funcState
}

// FuncDef is a registered subroutine: argument declaration nodes, body
// statements kept as syntax, and the optional return type node. Bodies are
// re-elaborated per call site in a fresh scope.
type FuncDef struct {
	Name    string
	Args    []*Node
	Body    []*Node
	RetType *Node
}

// NewVisitor creates a top-level visitor with the given input bindings.
func NewVisitor(inputs map[string]any) *Visitor {
	return &Visitor{
		inputs: inputs,
		global: NewScope(nil),
		gates:  make(map[string]*GateDef),
		funcs:  make(map[string]*FuncDef),
		qubits: newQubitTable(),
	}
}

// BuildProgram parses source text and elaborates it against the supplied
// input bindings, producing the circuit IR.
func BuildProgram(src string, inputs map[string]any) (*Circuit, error) {
	root, err := Parse(src)
	if err != nil {
		return nil, err
	}
	vis := NewVisitor(inputs)
	if err := vis.Visit(root); err != nil {
		return nil, err
	}
	return vis.Circuit(), nil
}

// Visit elaborates a parsed program node.
func (vis *Visitor) Visit(root *Node) error {
	err := vis.visitStmt(vis.global, root)
	switch err {
	case nil:
		return nil
	case breakSignal, continueSignal:
		return elabErrf("%s", err.Error())
	}
	if _, ok := err.(*returnValue); ok {
		return elabErrf("return outside def")
	}
	return err
}

// Circuit returns the elaborated output.
func (vis *Visitor) Circuit() *Circuit {
	return &Circuit{
		QubitCount:   vis.qubits.Count(),
		Instructions: vis.instructions,
		Results:      vis.results,
		Measured:     vis.measured,
		Verbatim:     vis.verbatim,
	}
}

// ─────────────────────────── statement dispatch ───────────────────────────

func (vis *Visitor) visitAll(sc *Scope, kids []*Node) error {
	for _, k := range kids {
		if err := vis.visitStmt(sc, k); err != nil {
			return err
		}
	}
	return nil
}

func (vis *Visitor) visitStmt(sc *Scope, n *Node) error {
	if vis.gatedef != nil {
		return vis.visitGateBodyStmt(sc, n)
	}
	switch n.Head {
	case HProgram:
		return vis.visitAll(sc, n.Kids)
	case HScope:
		return vis.visitAll(NewScope(sc), n.Kids)
	case HVersion, HEnd:
		return nil
	case HInclude:
		if n.Kids[0].S == "stdgates.inc" {
			return nil // the builtin registry already carries the standard gates
		}
		return elabErrf("cannot include %q: include resolution is not supported", n.Kids[0].S)
	case HInput:
		return vis.visitInput(sc, n)
	case HOutput:
		return elabErrf("output variables are not supported")
	case HClassicalDeclaration:
		return vis.visitDeclaration(sc, n, false)
	case HConstDeclaration:
		return vis.visitDeclaration(sc, n, true)
	case HClassicalAssignment:
		return vis.visitAssignment(sc, n)
	case HQubitDeclaration:
		return vis.visitQubitDeclaration(sc, n)
	case HGateDefinition:
		return vis.visitGateDefinition(sc, n)
	case HFunctionDefinition:
		def := &FuncDef{Name: n.Kids[0].S, Args: n.Kids[1].Kids}
		rest := n.Kids[2:]
		if len(rest) == 2 {
			def.RetType = rest[0]
			def.Body = rest[1].Kids
		} else {
			def.Body = rest[0].Kids
		}
		vis.funcs[def.Name] = def
		return nil
	case HFunctionCall:
		_, err := vis.evalCall(sc, n)
		return err
	case HGateCall, HPowerMod, HInverseMod, HControlMod, HNegCtrlMod:
		mods, call, err := vis.foldModifiers(sc, n)
		if err != nil {
			return err
		}
		return vis.emitGateCall(sc, call, mods)
	case HFor:
		return vis.visitFor(sc, n)
	case HWhile:
		return vis.visitWhile(sc, n)
	case HIf:
		return vis.visitIf(sc, n)
	case HSwitch:
		return vis.visitSwitch(sc, n)
	case HBreak:
		return breakSignal
	case HContinue:
		return continueSignal
	case HReturn:
		if vis.infunc == nil {
			return elabErrf("return outside def")
		}
		val := Value{Tag: VNone}
		if len(n.Kids) == 1 {
			v, err := vis.eval(sc, n.Kids[0])
			if err != nil {
				return err
			}
			val = v
		}
		return &returnValue{val: val}
	case HMeasure:
		_, err := vis.measureTargets(sc, n.Kids[0])
		return err
	case HBox:
		// timing hints are ignored; the contents elaborate normally
		return vis.visitStmt(sc, n.Kids[0])
	case HPragma:
		return vis.visitPragma(sc, n)
	}
	return elabErrf("unsupported statement %s", n.Head)
}

// visitGateBodyStmt restricts gate bodies to gate calls and scopes.
func (vis *Visitor) visitGateBodyStmt(sc *Scope, n *Node) error {
	switch n.Head {
	case HScope:
		return vis.visitAll(sc, n.Kids)
	case HGateCall, HPowerMod, HInverseMod, HControlMod, HNegCtrlMod:
		mods, call, err := vis.foldModifiers(sc, n)
		if err != nil {
			return err
		}
		instrs, err := vis.lowerGateCall(sc, call, mods)
		if err != nil {
			return err
		}
		return vis.appendTemplates(sc, instrs)
	}
	return elabErrf("only gate calls may appear in a gate body, got %s", n.Head)
}

// ─────────────────────────── declarations & assignment ───────────────────────────

// resolveType concretizes a classical_type node: size or shape expressions
// kept as kids evaluate now.
func (vis *Visitor) resolveType(sc *Scope, n *Node) (*ClassicalType, error) {
	t := *n.T
	if t.Kind == ArrayT {
		elem, err := vis.resolveType(sc, n.Kids[0])
		if err != nil {
			return nil, err
		}
		t.Elem = elem
		t.Shape = nil
		for _, dim := range n.Kids[1:] {
			if dim.Head == HNDims {
				for i := int64(0); i < dim.I; i++ {
					t.Shape = append(t.Shape, -1)
				}
				continue
			}
			v, err := vis.eval(sc, dim)
			if err != nil {
				return nil, err
			}
			d, err := v.asInt()
			if err != nil {
				return nil, err
			}
			t.Shape = append(t.Shape, int(d))
		}
		return &t, nil
	}
	if len(n.Kids) == 1 {
		v, err := vis.eval(sc, n.Kids[0])
		if err != nil {
			return nil, err
		}
		size, err := v.asInt()
		if err != nil {
			return nil, err
		}
		if size <= 0 {
			return nil, elabErrf("type size must be positive, got %d", size)
		}
		t.Size = int(size)
	}
	return &t, nil
}

func (vis *Visitor) visitDeclaration(sc *Scope, n *Node, isConst bool) error {
	ty, err := vis.resolveType(sc, n.Kids[0])
	if err != nil {
		return err
	}
	decl := n.Kids[1]
	var name string
	if decl.Head == HClassicalAssignment {
		name = decl.Kids[0].S
	} else {
		name = decl.S
	}
	if _, exists := sc.table[name]; exists {
		return elabErrf("variable %q already declared in this scope", name)
	}
	v := &Variable{Name: name, Type: ty, Val: defaultValue(ty)}
	sc.Define(v)
	if decl.Head == HClassicalAssignment {
		if err := vis.visitAssignment(sc, decl); err != nil {
			return err
		}
	} else if isConst {
		return elabErrf("const declaration of %q requires an initializer", name)
	}
	if isConst {
		v.Const = true
	}
	return nil
}

func (vis *Visitor) visitAssignment(sc *Scope, n *Node) error {
	lhs, rhs := n.Kids[0], n.Kids[1]

	// Measurement results do not propagate into classical storage; the
	// assignment resolves the measured qubits and stops there.
	if rhs.Head == HMeasure {
		_, err := vis.measureTargets(sc, rhs.Kids[0])
		return err
	}

	var name string
	switch lhs.Head {
	case HIdentifier:
		name = lhs.S
	case HIndexedIdentifier:
		name = lhs.Kids[0].S
	default:
		return elabErrf("invalid assignment target")
	}
	v, ok := sc.Lookup(name)
	if !ok {
		return elabErrf("unknown variable %q", name)
	}
	if v.Const {
		return elabErrf("cannot assign to const variable %q", name)
	}

	val, err := vis.eval(sc, rhs)
	if err != nil {
		return err
	}
	if op := n.S; op != "=" {
		cur, err := vis.eval(sc, lhs)
		if err != nil {
			return err
		}
		val, err = evalBinary(op[:len(op)-1], cur, val)
		if err != nil {
			return err
		}
	}

	if lhs.Head == HIdentifier {
		coerced, err := coerceToType(val, v.Type)
		if err != nil {
			return err
		}
		v.Val = coerced
		return nil
	}
	return vis.writeIndexed(sc, v, lhs.Kids[1:], val)
}

// writeIndexed stores a value through an indexed left-hand side, with
// scalar-to-slice broadcasting.
func (vis *Visitor) writeIndexed(sc *Scope, v *Variable, indices []*Node, val Value) error {
	return vis.writeIndexedValue(sc, &v.Val, indices, val)
}

func (vis *Visitor) writeIndexedValue(sc *Scope, dst *Value, indices []*Node, val Value) error {
	idx := indices[0]
	rest := indices[1:]
	switch dst.Tag {
	case VArr:
		pos, _, err := vis.indexPositions(sc, idx, len(dst.Arr))
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			if len(pos) != 1 {
				return elabErrf("cannot slice through an intermediate array dimension on assignment")
			}
			return vis.writeIndexedValue(sc, &dst.Arr[pos[0]], rest, val)
		}
		for i, p := range pos {
			elem, err := sliceElement(val, i, len(pos))
			if err != nil {
				return err
			}
			dst.Arr[p] = elem
		}
		return nil
	case VBits:
		pos, _, err := vis.indexPositions(sc, idx, len(dst.Bits))
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			return elabErrf("cannot index through a bit element")
		}
		for i, p := range pos {
			elem, err := sliceElement(val, i, len(pos))
			if err != nil {
				return err
			}
			b, err := elem.isTruthy()
			if err != nil {
				return err
			}
			dst.Bits[p] = b
		}
		return nil
	case VInt:
		w := widthOrDefault(*dst)
		pos, _, err := vis.indexPositions(sc, idx, w)
		if err != nil {
			return err
		}
		if len(rest) > 0 {
			return elabErrf("cannot index through an integer bit")
		}
		for i, p := range pos {
			elem, err := sliceElement(val, i, len(pos))
			if err != nil {
				return err
			}
			b, err := elem.isTruthy()
			if err != nil {
				return err
			}
			if err := setIntBit(dst, p, b); err != nil {
				return err
			}
		}
		return nil
	}
	return elabErrf("cannot assign through index into %s", *dst)
}

// sliceElement picks the i-th element of a slice-assignment source,
// broadcasting scalars across the whole slice.
func sliceElement(val Value, i, n int) (Value, error) {
	switch val.Tag {
	case VArr:
		if len(val.Arr) != n {
			return Value{}, elabErrf("cannot assign %d element(s) to %d position(s)", len(val.Arr), n)
		}
		return val.Arr[i], nil
	case VBits:
		if len(val.Bits) == n {
			return boolVal(val.Bits[i]), nil
		}
		if n == 1 {
			return val, nil
		}
		return Value{}, elabErrf("cannot assign %d bit(s) to %d position(s)", len(val.Bits), n)
	default:
		return val, nil
	}
}

// ─────────────────────────── input binding ───────────────────────────

func (vis *Visitor) visitInput(sc *Scope, n *Node) error {
	ty, err := vis.resolveType(sc, n.Kids[0])
	if err != nil {
		return err
	}
	name := n.Kids[1].S
	raw, ok := vis.inputs[name]
	if !ok {
		return elabErrf("missing input value for variable %q", name)
	}
	val, err := goValue(raw)
	if err != nil {
		return pkgerrors.Wrapf(err, "input %q", name)
	}
	coerced, err := coerceToType(val, ty)
	if err != nil {
		return pkgerrors.Wrapf(err, "input %q", name)
	}
	sc.Define(&Variable{Name: name, Type: ty, Val: coerced, Const: true})
	return nil
}

// goValue lifts a host Go value from the input-binding map into a Value.
func goValue(raw any) (Value, error) {
	switch x := raw.(type) {
	case int:
		return intVal(int64(x)), nil
	case int64:
		return intVal(x), nil
	case uint64:
		return intVal(int64(x)), nil
	case float64:
		return floatVal(x), nil
	case float32:
		return floatVal(float64(x)), nil
	case bool:
		return boolVal(x), nil
	case string:
		return Value{Tag: VStr, S: x}, nil
	case complex128:
		return complexVal(x), nil
	case []any:
		out := make([]Value, len(x))
		for i, e := range x {
			v, err := goValue(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return arrVal(out), nil
	case []int:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = intVal(int64(e))
		}
		return arrVal(out), nil
	case []float64:
		out := make([]Value, len(x))
		for i, e := range x {
			out[i] = floatVal(e)
		}
		return arrVal(out), nil
	}
	return Value{}, elabErrf("unsupported input value of type %T", raw)
}

// ─────────────────────────── qubits & targets ───────────────────────────

func (vis *Visitor) visitQubitDeclaration(sc *Scope, n *Node) error {
	if vis.infunc != nil {
		return elabErrf("qubit declarations are not allowed inside def")
	}
	name := n.Kids[0].S
	size := 1
	if len(n.Kids) == 2 {
		v, err := vis.eval(sc, n.Kids[1])
		if err != nil {
			return err
		}
		s, err := v.asInt()
		if err != nil {
			return err
		}
		size = int(s)
	}
	return vis.qubits.Declare(name, size)
}

// hardwareQubit resolves $k, extending the allocator when needed.
func (vis *Visitor) hardwareQubit(k int) (int, error) {
	if k < 0 {
		return 0, elabErrf("hardware qubit index must be non-negative")
	}
	if k >= vis.qubits.count {
		vis.qubits.count = k + 1
	}
	return k, nil
}

// resolveTargetLists evaluates each target expression of a qubit_targets
// node to its integer index list.
func (vis *Visitor) resolveTargetLists(sc *Scope, targets *Node) ([][]int, error) {
	out := make([][]int, 0, len(targets.Kids))
	for _, t := range targets.Kids {
		q, err := vis.resolveQubits(sc, t)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (vis *Visitor) resolveQubits(sc *Scope, n *Node) ([]int, error) {
	v, err := vis.eval(sc, n)
	if err != nil {
		return nil, err
	}
	if v.Tag != VQubits {
		return nil, elabErrf("expected a qubit target, got %s", v)
	}
	return v.Q, nil
}

// flattenTargets concatenates a target list into one index sequence.
func (vis *Visitor) flattenTargets(sc *Scope, targets *Node) ([]int, error) {
	lists, err := vis.resolveTargetLists(sc, targets)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, l := range lists {
		out = append(out, l...)
	}
	return out, nil
}

// measureTargets resolves measured qubits and records them in source order.
func (vis *Visitor) measureTargets(sc *Scope, targets *Node) ([]int, error) {
	if vis.gatedef != nil {
		return nil, elabErrf("measure is not allowed inside a gate body")
	}
	q, err := vis.flattenTargets(sc, targets)
	if err != nil {
		return nil, err
	}
	vis.measured = append(vis.measured, q...)
	return q, nil
}

// ─────────────────────────── control flow ───────────────────────────

func (vis *Visitor) visitFor(sc *Scope, n *Node) error {
	ty, err := vis.resolveType(sc, n.Kids[0])
	if err != nil {
		return err
	}
	name := n.Kids[1].S
	items, err := vis.forItems(sc, n.Kids[2])
	if err != nil {
		return err
	}

	loopScope := NewScope(sc)
	v := &Variable{Name: name, Type: ty}
	loopScope.Define(v)
	defer loopScope.Remove(name)

	for _, item := range items {
		coerced, err := coerceToType(item, ty)
		if err != nil {
			return err
		}
		v.Val = coerced
		err = vis.visitAll(loopScope, n.Kids[3].Kids)
		if err == breakSignal {
			return nil
		}
		if err == continueSignal {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (vis *Visitor) forItems(sc *Scope, iter *Node) ([]Value, error) {
	v, err := vis.eval(sc, iter)
	if err != nil {
		return nil, err
	}
	switch v.Tag {
	case VRange:
		ints := v.R.collect()
		out := make([]Value, len(ints))
		for i, x := range ints {
			out[i] = intVal(x)
		}
		return out, nil
	case VArr:
		return v.Arr, nil
	case VBits:
		out := make([]Value, len(v.Bits))
		for i, b := range v.Bits {
			out[i] = boolVal(b)
		}
		return out, nil
	}
	return nil, elabErrf("cannot iterate over %s", v)
}

func (vis *Visitor) visitWhile(sc *Scope, n *Node) error {
	for {
		cond, err := vis.eval(sc, n.Kids[0])
		if err != nil {
			return err
		}
		truthy, err := cond.isTruthy()
		if err != nil {
			return err
		}
		if !truthy {
			return nil
		}
		err = vis.visitAll(NewScope(sc), n.Kids[1].Kids)
		if err == breakSignal {
			return nil
		}
		if err == continueSignal {
			continue
		}
		if err != nil {
			return err
		}
	}
}

func (vis *Visitor) visitIf(sc *Scope, n *Node) error {
	cond, err := vis.eval(sc, n.Kids[0])
	if err != nil {
		return err
	}
	truthy, err := cond.isTruthy()
	if err != nil {
		return err
	}
	if truthy {
		return vis.visitStmt(sc, n.Kids[1])
	}
	if len(n.Kids) == 3 {
		return vis.visitStmt(sc, n.Kids[2].Kids[0])
	}
	return nil
}

func (vis *Visitor) visitSwitch(sc *Scope, n *Node) error {
	subject, err := vis.eval(sc, n.Kids[0])
	if err != nil {
		return err
	}
	si, err := subject.asInt()
	if err != nil {
		return err
	}
	var deflt *Node
	for _, arm := range n.Kids[1:] {
		if arm.Head == HDefault {
			deflt = arm.Kids[0]
			continue
		}
		for _, label := range arm.Kids[0].Kids {
			lv, err := vis.eval(sc, label)
			if err != nil {
				return err
			}
			li, err := lv.asInt()
			if err != nil {
				return err
			}
			if li == si {
				return vis.visitStmt(sc, arm.Kids[1])
			}
		}
	}
	if deflt != nil {
		return vis.visitStmt(sc, deflt)
	}
	return nil
}

// ─────────────────────────── gate definitions ───────────────────────────

func (vis *Visitor) visitGateDefinition(sc *Scope, n *Node) error {
	name := n.Kids[0].S
	params := make([]string, len(n.Kids[1].Kids))
	free := make(map[string]bool, len(params))
	for i, p := range n.Kids[1].Kids {
		params[i] = p.S
		free[p.S] = true
	}
	qubitParams := make([]string, len(n.Kids[2].Kids))
	child := &Visitor{
		inputs:  vis.inputs,
		global:  NewScope(sc),
		gates:   vis.gates,
		funcs:   vis.funcs,
		qubits:  newQubitTable(),
		gatedef: &gateDefState{free: free},
	}
	for i, q := range n.Kids[2].Kids {
		qubitParams[i] = q.S
		if err := child.qubits.Declare(q.S, 1); err != nil {
			return err
		}
	}
	if err := child.visitAll(child.global, n.Kids[3].Kids); err != nil {
		return pkgerrors.Wrapf(err, "gate %s", name)
	}
	vis.gates[name] = &GateDef{
		Name:        name,
		Params:      params,
		QubitParams: qubitParams,
		Body:        child.gatedef.body,
	}
	return nil
}

// ─────────────────────────── function calls ───────────────────────────

// callFunction elaborates a user function body in a fresh visitor, remaps
// emitted instructions into caller coordinates, and copies mutated array
// arguments back by structural path.
func (vis *Visitor) callFunction(sc *Scope, name string, args *Node) (Value, error) {
	def, ok := vis.funcs[name]
	if !ok {
		return Value{}, elabErrf("unknown function %q", name)
	}
	if len(args.Kids) != len(def.Args) {
		return Value{}, elabErrf("function %s expects %d argument(s), got %d", name, len(def.Args), len(args.Kids))
	}
	if vis.gatedef != nil {
		return Value{}, elabErrf("function calls are not allowed inside a gate body")
	}

	child := &Visitor{
		inputs: vis.inputs,
		global: NewScope(vis.rootScope()),
		gates:  vis.gates,
		funcs:  vis.funcs,
		qubits: newQubitTable(),
		infunc: &funcState{},
	}

	// Qubit remapping: callee-local index → caller index.
	var qubitMap []int
	type writeBack struct {
		callerLHS *Node
		childVar  string
	}
	var writeBacks []writeBack

	for i, decl := range def.Args {
		arg := args.Kids[i]
		switch decl.Head {
		case HQubitDeclaration:
			callerQ, err := vis.resolveQubits(sc, arg)
			if err != nil {
				return Value{}, pkgerrors.Wrapf(err, "call to %s", name)
			}
			size := 1
			if len(decl.Kids) == 2 {
				v, err := vis.eval(sc, decl.Kids[1])
				if err != nil {
					return Value{}, err
				}
				s, err := v.asInt()
				if err != nil {
					return Value{}, err
				}
				size = int(s)
			}
			if len(callerQ) != size {
				return Value{}, elabErrf("function %s: qubit argument %q expects %d qubit(s), got %d", name, decl.Kids[0].S, size, len(callerQ))
			}
			if err := child.qubits.Declare(decl.Kids[0].S, size); err != nil {
				return Value{}, err
			}
			qubitMap = append(qubitMap, callerQ...)
		case HClassicalDeclaration:
			ty, err := vis.resolveType(sc, decl.Kids[0])
			if err != nil {
				return Value{}, err
			}
			val, err := vis.eval(sc, arg)
			if err != nil {
				return Value{}, pkgerrors.Wrapf(err, "call to %s", name)
			}
			coerced, err := coerceToType(val, ty)
			if err != nil {
				return Value{}, pkgerrors.Wrapf(err, "call to %s", name)
			}
			argName := decl.Kids[1].S
			child.global.Define(&Variable{Name: argName, Type: ty, Val: coerced})
			if decl.S == "mutable" {
				if arg.Head != HIdentifier && arg.Head != HIndexedIdentifier {
					return Value{}, elabErrf("function %s: mutable argument %q needs an assignable caller value", name, argName)
				}
				writeBacks = append(writeBacks, writeBack{callerLHS: arg, childVar: argName})
			}
		default:
			return Value{}, elabErrf("function %s: unsupported argument declaration", name)
		}
	}

	if def.RetType != nil {
		rt, err := vis.resolveType(sc, def.RetType)
		if err != nil {
			return Value{}, err
		}
		child.infunc.returnType = rt
	}

	ret := Value{Tag: VNone}
	err := child.visitAll(child.global, def.Body)
	if rv, ok := err.(*returnValue); ok {
		ret = rv.val
		err = nil
	}
	if err != nil {
		return Value{}, pkgerrors.Wrapf(err, "call to %s", name)
	}
	if child.infunc.returnType != nil && ret.Tag != VNone {
		ret, err = coerceToType(ret, child.infunc.returnType)
		if err != nil {
			return Value{}, pkgerrors.Wrapf(err, "return from %s", name)
		}
	}

	// Inline the callee's instructions at the call site, remapped into
	// caller coordinates.
	for _, ins := range child.instructions {
		mapped := Instruction{Op: ins.Op, Targets: make([]int, len(ins.Targets))}
		for j, t := range ins.Targets {
			if t < 0 || t >= len(qubitMap) {
				return Value{}, elabErrf("function %s: qubit %d escapes the argument mapping", name, t)
			}
			mapped.Targets[j] = qubitMap[t]
		}
		vis.instructions = append(vis.instructions, mapped)
	}
	for _, m := range child.measured {
		if m >= 0 && m < len(qubitMap) {
			vis.measured = append(vis.measured, qubitMap[m])
		}
	}

	// Copy-back for mutable array arguments.
	for _, wb := range writeBacks {
		cv, _ := child.global.Lookup(wb.childVar)
		if err := vis.assignValue(sc, wb.callerLHS, cv.Val); err != nil {
			return Value{}, pkgerrors.Wrapf(err, "write-back from %s", name)
		}
	}

	return ret, nil
}

// assignValue writes an already-evaluated value through an lvalue node.
func (vis *Visitor) assignValue(sc *Scope, lhs *Node, val Value) error {
	var name string
	switch lhs.Head {
	case HIdentifier:
		name = lhs.S
	case HIndexedIdentifier:
		name = lhs.Kids[0].S
	default:
		return elabErrf("invalid assignment target")
	}
	v, ok := sc.Lookup(name)
	if !ok {
		return elabErrf("unknown variable %q", name)
	}
	if v.Const {
		return elabErrf("cannot assign to const variable %q", name)
	}
	if lhs.Head == HIdentifier {
		coerced, err := coerceToType(val, v.Type)
		if err != nil {
			return err
		}
		v.Val = coerced
		return nil
	}
	return vis.writeIndexed(sc, v, lhs.Kids[1:], val)
}

// rootScope walks to the outermost classical scope (global constants).
func (vis *Visitor) rootScope() *Scope {
	s := vis.global
	for s.parent != nil {
		s = s.parent
	}
	return s
}
