// pragma.go — elaboration of `#pragma braket` directives.
//
// Result pragmas append Result records in source order; unitary pragmas
// emit matrix instructions; noise pragmas emit channel instructions after
// validating qubit and parameter arity against the channel registry.
// Matrices evaluate eagerly to complex entries and must be square with a
// power-of-two dimension matching their targets.
package quasar

func (vis *Visitor) visitPragma(sc *Scope, n *Node) error {
	if vis.gatedef != nil || vis.infunc != nil {
		return elabErrf("pragmas are only allowed at the top level")
	}
	switch n.S {
	case "verbatim":
		vis.verbatim = true
		return nil
	case "result":
		return vis.resultPragma(sc, n)
	case "unitary":
		return vis.unitaryPragma(sc, n)
	case "noise":
		return vis.noisePragma(sc, n)
	}
	return elabErrf("unknown pragma kind %q", n.S)
}

func (vis *Visitor) resultPragma(sc *Scope, n *Node) error {
	kind := resultKinds[n.Kids[0].S]
	switch kind {
	case StateVectorResult:
		vis.results = append(vis.results, Result{Kind: kind})
		return nil
	case ProbabilityResult, DensityMatrixResult:
		var targets []int
		if len(n.Kids) == 2 {
			t, err := vis.flattenTargets(sc, n.Kids[1])
			if err != nil {
				return err
			}
			targets = t
		}
		if err := vis.checkTargets(targets); err != nil {
			return err
		}
		vis.results = append(vis.results, Result{Kind: kind, Targets: targets})
		return nil
	case AmplitudeResult:
		var states []string
		for _, s := range n.Kids[1:] {
			if err := vis.checkBasisState(s.S); err != nil {
				return err
			}
			states = append(states, s.S)
		}
		vis.results = append(vis.results, Result{Kind: kind, States: states})
		return nil
	default: // expectation, variance, sample
		obs, targets, err := vis.evalObservable(sc, n.Kids[1])
		if err != nil {
			return err
		}
		if len(n.Kids) == 3 {
			t, err := vis.flattenTargets(sc, n.Kids[2])
			if err != nil {
				return err
			}
			targets = t
		}
		if err := vis.checkObservableArity(obs, targets); err != nil {
			return err
		}
		vis.results = append(vis.results, Result{Kind: kind, Targets: targets, Obs: obs})
		return nil
	}
}

// evalObservable builds an Observable from factor nodes, collecting any
// per-factor parenthesized targets in order.
func (vis *Visitor) evalObservable(sc *Scope, n *Node) (*Observable, []int, error) {
	obs := &Observable{}
	var targets []int
	sawFactorTargets := false
	for _, factor := range n.Kids {
		switch factor.Head {
		case HHermitian:
			if len(n.Kids) > 1 {
				return nil, nil, elabErrf("hermitian observables cannot appear in tensor products")
			}
			m, err := vis.evalMatrix(sc, factor.Kids[0])
			if err != nil {
				return nil, nil, err
			}
			if err := checkHermitian(m); err != nil {
				return nil, nil, err
			}
			obs.Matrix = m
			if len(factor.Kids) == 2 {
				t, err := vis.flattenTargets(sc, factor.Kids[1])
				if err != nil {
					return nil, nil, err
				}
				targets = append(targets, t...)
				sawFactorTargets = true
			}
		default:
			obs.Names = append(obs.Names, factor.S)
			if len(factor.Kids) == 1 {
				t, err := vis.flattenTargets(sc, factor.Kids[0])
				if err != nil {
					return nil, nil, err
				}
				targets = append(targets, t...)
				sawFactorTargets = true
			}
		}
	}
	if !sawFactorTargets {
		targets = nil
	}
	return obs, targets, nil
}

func (vis *Visitor) checkObservableArity(obs *Observable, targets []int) error {
	if err := vis.checkTargets(targets); err != nil {
		return err
	}
	if targets == nil {
		return nil
	}
	want := len(obs.Names)
	if obs.Matrix != nil {
		want = log2(len(obs.Matrix))
	}
	if len(targets) != want {
		return elabErrf("observable covers %d qubit(s) but %d target(s) given", want, len(targets))
	}
	return nil
}

func (vis *Visitor) unitaryPragma(sc *Scope, n *Node) error {
	m, err := vis.evalMatrix(sc, n.Kids[0])
	if err != nil {
		return err
	}
	targets, err := vis.flattenTargets(sc, n.Kids[1])
	if err != nil {
		return err
	}
	if err := vis.checkTargets(targets); err != nil {
		return err
	}
	if len(m) != 1<<uint(len(targets)) {
		return elabErrf("unitary pragma: %dx%d matrix does not fit %d target qubit(s)", len(m), len(m), len(targets))
	}
	vis.instructions = append(vis.instructions, Instruction{
		Op:      Unitary{Matrix: m},
		Targets: targets,
	})
	return nil
}

func (vis *Visitor) noisePragma(sc *Scope, n *Node) error {
	channel := n.Kids[0].S
	spec, ok := noiseChannels[channel]
	if !ok {
		return elabErrf("unknown noise channel %q", channel)
	}
	targets, err := vis.flattenTargets(sc, n.Kids[2])
	if err != nil {
		return err
	}
	if err := vis.checkTargets(targets); err != nil {
		return err
	}

	if channel == "kraus" {
		matrices := make([][][]complex128, 0, len(n.Kids[1].Kids))
		for _, mn := range n.Kids[1].Kids {
			m, err := vis.evalMatrix(sc, mn)
			if err != nil {
				return err
			}
			matrices = append(matrices, m)
		}
		if len(matrices) == 0 {
			return elabErrf("kraus channel needs at least one matrix")
		}
		dim := len(matrices[0])
		for _, m := range matrices {
			if len(m) != dim {
				return elabErrf("kraus matrices must share one dimension")
			}
		}
		if dim != 1<<uint(len(targets)) {
			return elabErrf("kraus channel: %dx%d matrices do not fit %d target qubit(s)", dim, dim, len(targets))
		}
		vis.instructions = append(vis.instructions, Instruction{
			Op:      Kraus{Matrices: matrices},
			Targets: targets,
		})
		return nil
	}

	if len(targets) != spec.Qubits {
		return elabErrf("noise channel %s expects %d target qubit(s), got %d", channel, spec.Qubits, len(targets))
	}
	if len(n.Kids[1].Kids) != spec.Params {
		return elabErrf("noise channel %s expects %d parameter(s), got %d", channel, spec.Params, len(n.Kids[1].Kids))
	}
	params := make([]float64, spec.Params)
	for i, a := range n.Kids[1].Kids {
		v, err := vis.eval(sc, a)
		if err != nil {
			return err
		}
		params[i], err = v.asFloat()
		if err != nil {
			return err
		}
	}
	vis.instructions = append(vis.instructions, Instruction{
		Op:      Noise{Channel: channel, Params: params},
		Targets: targets,
	})
	return nil
}

// ─────────────────────────── matrix helpers ───────────────────────────

// evalMatrix evaluates an array-literal of rows into a square complex
// matrix with a power-of-two dimension.
func (vis *Visitor) evalMatrix(sc *Scope, n *Node) ([][]complex128, error) {
	v, err := vis.eval(sc, n)
	if err != nil {
		return nil, err
	}
	if v.Tag != VArr {
		return nil, elabErrf("expected a matrix literal")
	}
	out := make([][]complex128, len(v.Arr))
	for i, row := range v.Arr {
		if row.Tag != VArr {
			return nil, elabErrf("matrix row %d is not a list", i)
		}
		out[i] = make([]complex128, len(row.Arr))
		for j, entry := range row.Arr {
			c, err := entry.asComplex()
			if err != nil {
				return nil, elabErrf("matrix entry (%d,%d) is not numeric", i, j)
			}
			out[i][j] = c
		}
	}
	dim := len(out)
	if dim == 0 || dim&(dim-1) != 0 {
		return nil, elabErrf("matrix dimension %d is not a power of two", dim)
	}
	for i, row := range out {
		if len(row) != dim {
			return nil, elabErrf("matrix row %d has %d entries, want %d", i, len(row), dim)
		}
	}
	return out, nil
}

func checkHermitian(m [][]complex128) error {
	for i := range m {
		for j := range m {
			c := m[j][i]
			if m[i][j] != complex(real(c), -imag(c)) {
				return elabErrf("hermitian observable matrix is not Hermitian")
			}
		}
	}
	return nil
}

func (vis *Visitor) checkTargets(targets []int) error {
	for _, t := range targets {
		if t < 0 || t >= vis.qubits.Count() {
			return elabErrf("qubit target %d out of range [0, %d)", t, vis.qubits.Count())
		}
	}
	return nil
}

func (vis *Visitor) checkBasisState(s string) error {
	if len(s) != vis.qubits.Count() {
		return elabErrf("basis state %q does not cover %d qubit(s)", s, vis.qubits.Count())
	}
	for _, c := range s {
		if c != '0' && c != '1' {
			return elabErrf("basis state %q is not a bitstring", s)
		}
	}
	return nil
}

func log2(n int) int {
	k := 0
	for n > 1 {
		n >>= 1
		k++
	}
	return k
}
