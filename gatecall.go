// gatecall.go — the gate-call engine: argument binding, modifier lowering,
// target broadcasting, and call-site remapping.
//
// Gate bodies are stored as templates: lists of parametric instructions
// whose numeric parameters are expression trees that may reference free
// parameters by name, and whose qubit targets are indices into the
// definition's qubit parameter list. A call site substitutes evaluated
// arguments for the free parameters, lowers the modifier chain
// (pow/inv/ctrl/negctrl, applied innermost-first), broadcasts over
// register-valued targets, and remaps template-local indices to concrete
// qubit indices.
//
// Exponents fold algebraically: pow(x) multiplies the accumulated exponent,
// inv negates it and reverses the instruction sequence. ctrl/negctrl
// prepend a control qubit and extend the control bit pattern; a controlled
// gphase keeps its controls out of the target list (it is not promoted to a
// higher-qubit phase).
package quasar

// templateInstr is one parametric instruction of a gate template. Targets
// hold template-local qubit indices with any control qubits already
// prepended (Ctrl holds their bit pattern). A gphase instruction has nil
// Targets: it covers every allocated qubit at emission time.
type templateInstr struct {
	Name    string
	Params  []*Node
	Targets []int
	Ctrl    []int
	Pow     float64
}

func (ti templateInstr) clone() templateInstr {
	out := ti
	out.Params = append([]*Node(nil), ti.Params...)
	out.Targets = append([]int(nil), ti.Targets...)
	out.Ctrl = append([]int(nil), ti.Ctrl...)
	return out
}

// GateDef is a registered gate definition: parameter names, qubit parameter
// names, and the pre-elaborated template body.
type GateDef struct {
	Name        string
	Params      []string
	QubitParams []string
	Body        []templateInstr
}

// modifier is one lowered entry of a gate-modifier chain, outer-to-inner.
type modifier struct {
	head Head
	pow  float64
}

// foldModifiers walks modifier statement wrappers down to the inner gate
// call, evaluating modifier arguments. ctrl(k)/negctrl(k) replicate into k
// single layers after range-checking k.
func (vis *Visitor) foldModifiers(sc *Scope, n *Node) ([]modifier, *Node, error) {
	var mods []modifier
	for {
		switch n.Head {
		case HPowerMod:
			v, err := vis.eval(sc, n.Kids[0])
			if err != nil {
				return nil, nil, err
			}
			x, err := v.asFloat()
			if err != nil {
				return nil, nil, elabErrf("pow modifier requires a numeric argument")
			}
			mods = append(mods, modifier{head: HPowerMod, pow: x})
			n = n.Kids[1]
		case HInverseMod:
			mods = append(mods, modifier{head: HInverseMod})
			n = n.Kids[0]
		case HControlMod, HNegCtrlMod:
			count := int64(1)
			inner := n.Kids[0]
			if len(n.Kids) == 2 {
				v, err := vis.eval(sc, n.Kids[0])
				if err != nil {
					return nil, nil, err
				}
				if v.Tag != VInt {
					return nil, nil, elabErrf("ctrl/negctrl count must be an integer")
				}
				count = v.I
				if count <= 0 {
					return nil, nil, elabErrf("ctrl/negctrl count must be positive, got %d", count)
				}
				inner = n.Kids[1]
			}
			for i := int64(0); i < count; i++ {
				mods = append(mods, modifier{head: n.Head})
			}
			n = inner
		case HGateCall:
			return mods, n, nil
		default:
			return nil, nil, elabErrf("expected gate call under modifier chain, got %s", n.Head)
		}
	}
}

func controlCount(mods []modifier) int {
	n := 0
	for _, m := range mods {
		if m.head == HControlMod || m.head == HNegCtrlMod {
			n++
		}
	}
	return n
}

// expandCall binds a gate call's classical arguments into the gate template
// and lowers the modifier chain. The returned instructions live in an
// extended local index space: 0..k-1 are the template's qubit parameters,
// k..k+nctrl-1 are the call's control positions (outermost first).
func (vis *Visitor) expandCall(name string, argNodes []*Node, mods []modifier) ([]templateInstr, int, error) {
	nctrl := controlCount(mods)

	var body []templateInstr
	var k int
	switch {
	case name == "gphase":
		if len(argNodes) != 1 {
			return nil, 0, elabErrf("gphase expects 1 parameter, got %d", len(argNodes))
		}
		body = []templateInstr{{Name: "gphase", Params: []*Node{argNodes[0]}, Pow: 1}}
	default:
		if def, ok := vis.gates[name]; ok {
			if len(argNodes) != len(def.Params) {
				return nil, 0, elabErrf("gate %s expects %d parameter(s), got %d", name, len(def.Params), len(argNodes))
			}
			bind := make(map[string]*Node, len(def.Params))
			for i, p := range def.Params {
				bind[p] = argNodes[i]
			}
			k = len(def.QubitParams)
			body = make([]templateInstr, len(def.Body))
			for i, ti := range def.Body {
				c := ti.clone()
				for j, p := range c.Params {
					c.Params[j] = substNode(p, bind)
				}
				body[i] = c
			}
		} else if spec, ok := builtinGates[name]; ok {
			if len(argNodes) != spec.Params {
				return nil, 0, elabErrf("gate %s expects %d parameter(s), got %d", name, spec.Params, len(argNodes))
			}
			k = spec.Qubits
			targets := make([]int, k)
			for i := range targets {
				targets[i] = i
			}
			body = []templateInstr{{Name: name, Params: append([]*Node(nil), argNodes...), Targets: targets, Pow: 1}}
		} else {
			return nil, 0, elabErrf("unknown gate %q", name)
		}
	}

	// Lower modifiers innermost-first; the innermost control consumes the
	// control position closest to the gate targets.
	ctrlPos := nctrl - 1
	for i := len(mods) - 1; i >= 0; i-- {
		switch mods[i].head {
		case HPowerMod:
			for j := range body {
				body[j].Pow *= mods[i].pow
			}
		case HInverseMod:
			for j := range body {
				body[j].Pow = -body[j].Pow
			}
			for a, b := 0, len(body)-1; a < b; a, b = a+1, b-1 {
				body[a], body[b] = body[b], body[a]
			}
		case HControlMod, HNegCtrlMod:
			bit := 1
			if mods[i].head == HNegCtrlMod {
				bit = 0
			}
			local := k + ctrlPos
			ctrlPos--
			for j := range body {
				body[j].Ctrl = append([]int{bit}, body[j].Ctrl...)
				if body[j].Name != "gphase" {
					body[j].Targets = append([]int{local}, body[j].Targets...)
				}
			}
		}
	}
	return body, k + nctrl, nil
}

// substNode deep-copies a node, replacing identifier leaves found in bind.
func substNode(n *Node, bind map[string]*Node) *Node {
	if n == nil {
		return nil
	}
	if n.Head == HIdentifier {
		if rep, ok := bind[n.S]; ok {
			return rep
		}
	}
	out := &Node{Head: n.Head, I: n.I, F: n.F, C: n.C, S: n.S, T: n.T}
	if len(n.Kids) > 0 {
		out.Kids = make([]*Node, len(n.Kids))
		for i, kid := range n.Kids {
			out.Kids[i] = substNode(kid, bind)
		}
	}
	return out
}

// referencesAny reports whether the tree mentions any identifier in names.
func referencesAny(n *Node, names map[string]bool) bool {
	if n == nil {
		return false
	}
	if n.Head == HIdentifier && names[n.S] {
		return true
	}
	for _, kid := range n.Kids {
		if referencesAny(kid, names) {
			return true
		}
	}
	return false
}

// foldParam constant-folds a template parameter expression. Subtrees that
// do not mention a free parameter are evaluated now and replaced by literal
// nodes, so stored gate bodies never carry unresolved variable references.
func (vis *Visitor) foldParam(sc *Scope, n *Node, free map[string]bool) (*Node, error) {
	if !referencesAny(n, free) {
		v, err := vis.eval(sc, n)
		if err != nil {
			return nil, err
		}
		switch v.Tag {
		case VInt:
			return intNode(v.I), nil
		case VFloat:
			return floatNode(v.F), nil
		case VBool:
			if v.B {
				return intNode(1), nil
			}
			return intNode(0), nil
		}
		return nil, elabErrf("gate parameter must be numeric, got %s", v)
	}
	out := &Node{Head: n.Head, I: n.I, F: n.F, C: n.C, S: n.S, T: n.T}
	out.Kids = make([]*Node, len(n.Kids))
	for i, kid := range n.Kids {
		f, err := vis.foldParam(sc, kid, free)
		if err != nil {
			return nil, err
		}
		out.Kids[i] = f
	}
	return out, nil
}

// lowerGateCall resolves a gate call completely: modifier folding already
// done by the caller. It returns the broadcast-expanded instruction list
// with targets mapped through the call-site target lists (concrete indices
// at top level, definition-local indices inside a gate body).
func (vis *Visitor) lowerGateCall(sc *Scope, call *Node, mods []modifier) ([]templateInstr, error) {
	name := call.Kids[0].S
	args := call.Kids[1].Kids
	targetLists, err := vis.resolveTargetLists(sc, call.Kids[2])
	if err != nil {
		return nil, err
	}

	body, localCount, err := vis.expandCall(name, args, mods)
	if err != nil {
		return nil, err
	}
	nc := controlCount(mods)
	k := localCount - nc

	if name == "gphase" {
		// gphase has no positional qubit parameters; any named targets
		// beyond the control positions are ignored (it acts globally).
		if len(targetLists) < nc {
			return nil, elabErrf("gphase modifier chain needs %d control target(s), got %d", nc, len(targetLists))
		}
		targetLists = targetLists[:nc]
	} else if len(targetLists) != localCount {
		return nil, elabErrf("gate %s expects %d qubit target(s), got %d", name, localCount, len(targetLists))
	}

	// Broadcast: all non-unit-length targets must agree on a common length.
	bcast := 1
	for _, lst := range targetLists {
		if len(lst) == 0 {
			return nil, elabErrf("empty qubit target in gate call %s", name)
		}
		if len(lst) > 1 {
			if bcast > 1 && len(lst) != bcast {
				return nil, elabErrf("gate %s target lengths do not broadcast: %d vs %d", name, bcast, len(lst))
			}
			bcast = len(lst)
		}
	}

	pick := func(pos, cp int) int {
		lst := targetLists[pos]
		if len(lst) == 1 {
			return lst[0]
		}
		return lst[cp]
	}
	// Local index j < k is the template's j-th qubit parameter, found at
	// call position nc+j; local k+p is control position p.
	posOf := func(local int) int {
		if local < k {
			return nc + local
		}
		return local - k
	}

	var out []templateInstr
	for c := 0; c < bcast; c++ {
		for _, ti := range body {
			mapped := ti.clone()
			for j, local := range mapped.Targets {
				pos := posOf(local)
				if pos >= len(targetLists) {
					return nil, elabErrf("gate %s: internal target mapping out of range", name)
				}
				mapped.Targets[j] = pick(pos, c)
			}
			out = append(out, mapped)
		}
	}
	return out, nil
}

// emitGateCall converts lowered template instructions into concrete IR
// instructions: parameters evaluate to real numbers, gphase expands over
// every allocated qubit, and control wrappers are applied.
func (vis *Visitor) emitGateCall(sc *Scope, call *Node, mods []modifier) error {
	instrs, err := vis.lowerGateCall(sc, call, mods)
	if err != nil {
		return err
	}
	for _, ti := range instrs {
		ins, err := vis.templateToInstruction(sc, ti)
		if err != nil {
			return err
		}
		vis.instructions = append(vis.instructions, ins)
	}
	return nil
}

func (vis *Visitor) templateToInstruction(sc *Scope, ti templateInstr) (Instruction, error) {
	params := make([]float64, len(ti.Params))
	for i, pn := range ti.Params {
		v, err := vis.eval(sc, pn)
		if err != nil {
			return Instruction{}, err
		}
		params[i], err = v.asFloat()
		if err != nil {
			return Instruction{}, elabErrf("gate parameter did not resolve to a real number")
		}
	}

	var op Operator
	var targets []int
	if ti.Name == "gphase" {
		op = GPhase{Angle: params[0] * ti.Pow}
		targets = make([]int, vis.qubits.Count())
		for i := range targets {
			targets[i] = i
		}
	} else {
		op = Gate{Name: ti.Name, Params: params, Power: ti.Pow}
		targets = append([]int(nil), ti.Targets...)
	}
	if len(ti.Ctrl) > 0 {
		op = Control{Op: op, Bits: append([]int(nil), ti.Ctrl...)}
	}
	for _, t := range targets {
		if t < 0 || t >= vis.qubits.Count() {
			return Instruction{}, elabErrf("qubit target %d out of range [0, %d)", t, vis.qubits.Count())
		}
	}
	return Instruction{Op: op, Targets: targets}, nil
}

// appendTemplates folds parameters and appends lowered instructions to the
// gate body being built (gate-definition elaboration).
func (vis *Visitor) appendTemplates(sc *Scope, instrs []templateInstr) error {
	if vis.gatedef == nil {
		return elabErrf("internal: appendTemplates outside gate definition")
	}
	for _, ti := range instrs {
		folded := ti.clone()
		for i, pn := range folded.Params {
			f, err := vis.foldParam(sc, pn, vis.gatedef.free)
			if err != nil {
				return err
			}
			folded.Params[i] = f
		}
		vis.gatedef.body = append(vis.gatedef.body, folded)
	}
	return nil
}
