// visitor_test.go — end-to-end elaboration scenarios.
package quasar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, src string, inputs map[string]any) *Circuit {
	t.Helper()
	circ, err := BuildProgram(src, inputs)
	require.NoError(t, err, "source:\n%s", src)
	return circ
}

func buildErr(t *testing.T, src string, inputs map[string]any) *ElabError {
	t.Helper()
	_, err := BuildProgram(src, inputs)
	require.Error(t, err, "source:\n%s", src)
	var ee *ElabError
	require.ErrorAs(t, err, &ee)
	return ee
}

func gateOf(t *testing.T, ins Instruction) Gate {
	t.Helper()
	g, ok := ins.Op.(Gate)
	require.True(t, ok, "instruction is %T, want Gate", ins.Op)
	return g
}

func controlOf(t *testing.T, ins Instruction) Control {
	t.Helper()
	c, ok := ins.Op.(Control)
	require.True(t, ok, "instruction is %T, want Control", ins.Op)
	return c
}

// Scenario: power/control/inverse composition over user-defined gates.
func TestPowerControlInverseComposition(t *testing.T) {
	src := `
gate x a { U(π, 0, π) a; }
gate cx c, a { pow(1) @ ctrl @ x c, a; }
qubit q1;
qubit q2;
pow(1/2) @ x q1;
pow(1/2) @ x q1;
cx q1, q2;
s q1;
s q1;
inv @ z q1;
`
	circ := build(t, src, nil)
	require.Equal(t, 2, circ.QubitCount)
	require.Len(t, circ.Instructions, 6)

	for _, i := range []int{0, 1} {
		g := gateOf(t, circ.Instructions[i])
		require.Equal(t, "U", g.Name)
		require.InDelta(t, 0.5, g.Power, 1e-12)
		require.InDelta(t, math.Pi, g.Params[0], 1e-12)
		require.Equal(t, []int{0}, circ.Instructions[i].Targets)
	}

	c := controlOf(t, circ.Instructions[2])
	require.Equal(t, []int{1}, c.Bits)
	inner, ok := c.Op.(Gate)
	require.True(t, ok)
	require.Equal(t, "U", inner.Name)
	require.InDelta(t, 1.0, inner.Power, 1e-12)
	require.Equal(t, []int{0, 1}, circ.Instructions[2].Targets)

	for _, i := range []int{3, 4} {
		g := gateOf(t, circ.Instructions[i])
		require.Equal(t, "s", g.Name)
		require.InDelta(t, 1.0, g.Power, 1e-12)
	}
	g := gateOf(t, circ.Instructions[5])
	require.Equal(t, "z", g.Name)
	require.InDelta(t, -1.0, g.Power, 1e-12)
}

// Scenario: every noise channel plus two kraus blocks, literal targets.
func TestNoisePragmas(t *testing.T) {
	src := `
qubit[2] qs;
#pragma braket noise bit_flip(.5) qs[1]
#pragma braket noise phase_flip(.5) qs[0]
#pragma braket noise pauli_channel(.1, .2, .3) qs[0]
#pragma braket noise depolarizing(.5) qs[0]
#pragma braket noise two_qubit_depolarizing(.9) qs
#pragma braket noise two_qubit_depolarizing(.7) qs[1], qs[0]
#pragma braket noise two_qubit_dephasing(.6) qs
#pragma braket noise amplitude_damping(.2) qs[0]
#pragma braket noise generalized_amplitude_damping(.2, .3) qs[1]
#pragma braket noise phase_damping(.4) qs[0]
#pragma braket noise kraus([[0.9486832980505138, 0], [0, 0.9486832980505138]], [[0, 0.31622776601683794], [0.31622776601683794, 0]]) qs[0]
#pragma braket noise kraus([[0.9486832980505138, 0, 0, 0], [0, 0.9486832980505138, 0, 0], [0, 0, 0.9486832980505138, 0], [0, 0, 0, 0.9486832980505138]], [[0, 0.31622776601683794, 0, 0], [0.31622776601683794, 0, 0, 0], [0, 0, 0, 0.31622776601683794], [0, 0, 0.31622776601683794, 0]]) qs[0], qs[1]
`
	circ := build(t, src, nil)
	require.Len(t, circ.Instructions, 12)

	wantTargets := [][]int{
		{1}, {0}, {0}, {0}, {0, 1}, {1, 0}, {0, 1}, {0}, {1}, {0}, {0}, {0, 1},
	}
	for i, want := range wantTargets {
		assert.Equal(t, want, circ.Instructions[i].Targets, "instruction %d", i)
	}

	n, ok := circ.Instructions[0].Op.(Noise)
	require.True(t, ok)
	require.Equal(t, "bit_flip", n.Channel)
	require.Equal(t, []float64{0.5}, n.Params)

	n, ok = circ.Instructions[2].Op.(Noise)
	require.True(t, ok)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, n.Params)

	k, ok := circ.Instructions[10].Op.(Kraus)
	require.True(t, ok)
	require.Len(t, k.Matrices, 2)
	require.Len(t, k.Matrices[0], 2)

	k, ok = circ.Instructions[11].Op.(Kraus)
	require.True(t, ok)
	require.Len(t, k.Matrices[0], 4)
}

// Scenario: unitary pragmas interleaved with gates, and a global phase.
func TestUnitaryPragmaAndGPhase(t *testing.T) {
	src := `
qubit[3] q;
x q[0];
h q[1];
#pragma braket unitary([[1, 0], [0, 0.70710678 + 0.70710678im]]) q[0]
ti q[0];
#pragma braket unitary([[0.70710678im, 0.70710678im], [0.70710678im, -0.70710678im]]) q[1]
gphase(-π/2) q[1];
h q[1];
#pragma braket unitary([[1, 0, 0, 0, 0, 0, 0, 0], [0, 1, 0, 0, 0, 0, 0, 0], [0, 0, 1, 0, 0, 0, 0, 0], [0, 0, 0, 1, 0, 0, 0, 0], [0, 0, 0, 0, 1, 0, 0, 0], [0, 0, 0, 0, 0, 1, 0, 0], [0, 0, 0, 0, 0, 0, 0, 1], [0, 0, 0, 0, 0, 0, 1, 0]]) q
`
	circ := build(t, src, nil)
	require.Equal(t, 3, circ.QubitCount)
	require.Len(t, circ.Instructions, 8)

	require.Equal(t, "x", gateOf(t, circ.Instructions[0]).Name)
	require.Equal(t, "h", gateOf(t, circ.Instructions[1]).Name)

	u, ok := circ.Instructions[2].Op.(Unitary)
	require.True(t, ok)
	require.Len(t, u.Matrix, 2)
	require.InDelta(t, 0.70710678, real(u.Matrix[1][1]), 1e-9)
	require.InDelta(t, 0.70710678, imag(u.Matrix[1][1]), 1e-9)
	require.Equal(t, []int{0}, circ.Instructions[2].Targets)

	require.Equal(t, "ti", gateOf(t, circ.Instructions[3]).Name)

	u, ok = circ.Instructions[4].Op.(Unitary)
	require.True(t, ok)
	require.InDelta(t, -0.70710678, imag(u.Matrix[1][1]), 1e-9)

	// gphase covers every allocated qubit.
	gp, ok := circ.Instructions[5].Op.(GPhase)
	require.True(t, ok)
	require.InDelta(t, -math.Pi/2, gp.Angle, 1e-12)
	require.Equal(t, []int{0, 1, 2}, circ.Instructions[5].Targets)

	require.Equal(t, "h", gateOf(t, circ.Instructions[6]).Name)

	u, ok = circ.Instructions[7].Op.(Unitary)
	require.True(t, ok)
	require.Len(t, u.Matrix, 8)
	require.Equal(t, []int{0, 1, 2}, circ.Instructions[7].Targets)
}

// Scenario: the ripple-carry adder with input bindings and three
// probability results in source order.
func TestRippleCarryAdder(t *testing.T) {
	src := `
OPENQASM 3;
input uint[4] a_in;
input uint[4] b_in;
gate majority a, b, c {
    cnot c, b;
    cnot c, a;
    ccnot a, b, c;
}
gate unmaj a, b, c {
    ccnot a, b, c;
    cnot c, a;
    cnot a, b;
}
qubit cin;
qubit[4] a;
qubit[4] b;
qubit cout;
for int i in [0:3] {
    if (bool(a_in[i])) { x a[i]; }
    if (bool(b_in[i])) { x b[i]; }
}
majority cin, b[3], a[3];
for int i in [3:-1:1] { majority a[i], b[i-1], a[i-1]; }
cnot a[0], cout;
for int i in [1:3] { unmaj a[i], b[i-1], a[i-1]; }
unmaj cin, b[3], a[3];
#pragma braket result probability cout, b
#pragma braket result probability cout
#pragma braket result probability b
`
	circ := build(t, src, map[string]any{"a_in": 3, "b_in": 7})
	require.Equal(t, 10, circ.QubitCount)

	// 5 set-bit x gates (popcount 3 + popcount 7) plus 4 majority and 4
	// unmaj expansions (3 instructions each) plus the carry cnot.
	require.Len(t, circ.Instructions, 5+12+1+12)

	require.Len(t, circ.Results, 3)
	require.Equal(t, ProbabilityResult, circ.Results[0].Kind)
	require.Equal(t, []int{9, 5, 6, 7, 8}, circ.Results[0].Targets)
	require.Equal(t, []int{9}, circ.Results[1].Targets)
	require.Equal(t, []int{5, 6, 7, 8}, circ.Results[2].Targets)
}

// Scenario: const folding into a gate-definition modifier.
func TestConstPowInGateBody(t *testing.T) {
	src := `
qubit q1;
qubit q2;
gate cx c, a { ctrl @ x c, a; }
int[8] two = 2;
gate cxx c, a { pow(two) @ cx c, a; }
cxx q1, q2;
`
	circ := build(t, src, nil)
	require.Len(t, circ.Instructions, 1)
	c := controlOf(t, circ.Instructions[0])
	g, ok := c.Op.(Gate)
	require.True(t, ok)
	require.Equal(t, "x", g.Name)
	require.InDelta(t, 2.0, g.Power, 1e-12)
	require.Equal(t, []int{0, 1}, circ.Instructions[0].Targets)
}

// Scenario: a declared input with no binding names the variable.
func TestMissingInputBinding(t *testing.T) {
	ee := buildErr(t, "input int[8] n;", map[string]any{})
	require.Contains(t, ee.Msg, `"n"`)
}

func TestBroadcastLaw(t *testing.T) {
	circ := build(t, "qubit[3] q;\nh q;\n", nil)
	require.Len(t, circ.Instructions, 3)
	for i, ins := range circ.Instructions {
		require.Equal(t, "h", gateOf(t, ins).Name)
		require.Equal(t, []int{i}, ins.Targets)
	}
}

func TestBroadcastTwoQubit(t *testing.T) {
	// A unit-length target replicates against a register target.
	circ := build(t, "qubit[2] q;\nqubit a;\ncnot q, a;\n", nil)
	require.Len(t, circ.Instructions, 2)
	require.Equal(t, []int{0, 2}, circ.Instructions[0].Targets)
	require.Equal(t, []int{1, 2}, circ.Instructions[1].Targets)

	buildErr(t, "qubit[2] q;\nqubit[3] r;\ncnot q, r;\n", nil)
}

func TestPowModifierComposition(t *testing.T) {
	circ := build(t, "qubit q;\npow(2) @ pow(3) @ x q;\npow(1) @ x q;\ninv @ inv @ s q;\n", nil)
	require.InDelta(t, 6.0, gateOf(t, circ.Instructions[0]).Power, 1e-12)
	require.InDelta(t, 1.0, gateOf(t, circ.Instructions[1]).Power, 1e-12)
	require.InDelta(t, 1.0, gateOf(t, circ.Instructions[2]).Power, 1e-12)
}

func TestControlModifierCounts(t *testing.T) {
	circ := build(t, "qubit[3] q;\nctrl(2) @ x q[0], q[1], q[2];\nnegctrl @ x q[0], q[1];\n", nil)
	c := controlOf(t, circ.Instructions[0])
	require.Equal(t, []int{1, 1}, c.Bits)
	require.Equal(t, []int{0, 1, 2}, circ.Instructions[0].Targets)

	c = controlOf(t, circ.Instructions[1])
	require.Equal(t, []int{0}, c.Bits)
	require.Equal(t, []int{0, 1}, circ.Instructions[1].Targets)

	buildErr(t, "qubit[2] q;\nctrl(1.5) @ x q[0], q[1];\n", nil)
	buildErr(t, "qubit[2] q;\nctrl(0) @ x q[0], q[1];\n", nil)
}

func TestRangeLaw(t *testing.T) {
	src := "qubit q;\nfor int i in [0:2:8] { rx(i) q; }\n"
	circ := build(t, src, nil)
	require.Len(t, circ.Instructions, 5)
	for i, want := range []float64{0, 2, 4, 6, 8} {
		require.InDelta(t, want, gateOf(t, circ.Instructions[i]).Params[0], 1e-12)
	}
}

func TestRangeMissingStopOnRegister(t *testing.T) {
	circ := build(t, "qubit[4] q;\nh q[2:];\n", nil)
	require.Len(t, circ.Instructions, 2)
	require.Equal(t, []int{2}, circ.Instructions[0].Targets)
	require.Equal(t, []int{3}, circ.Instructions[1].Targets)
}

func TestScopeHygieneAfterFor(t *testing.T) {
	ee := buildErr(t, "qubit q;\nfor int i in [0:1] { h q; }\nrx(i) q;\n", nil)
	require.Contains(t, ee.Msg, `"i"`)
}

func TestConstImmutability(t *testing.T) {
	ee := buildErr(t, "const int[8] n = 4;\nn = 5;\n", nil)
	require.Contains(t, ee.Msg, "const")

	// Const values fold anywhere afterwards.
	circ := build(t, "const int[8] n = 4;\nqubit q;\nrx(n) q;\n", nil)
	require.InDelta(t, 4.0, gateOf(t, circ.Instructions[0]).Params[0], 1e-12)
}

func TestWhileLoopUnrolls(t *testing.T) {
	src := `
qubit q;
int[8] n = 0;
while (n < 3) {
    h q;
    n = n + 1;
}
`
	circ := build(t, src, nil)
	require.Len(t, circ.Instructions, 3)
}

func TestBreakAndContinue(t *testing.T) {
	src := `
qubit q;
for int i in [0:9] {
    if (i == 2) { break; }
    h q;
}
for int i in [0:3] {
    if (i == 1) { continue; }
    x q;
}
`
	circ := build(t, src, nil)
	require.Len(t, circ.Instructions, 2+3)
}

func TestSwitchStatement(t *testing.T) {
	src := `
qubit q;
int[8] n = 2;
switch (n) {
    case 0, 1 { h q; }
    case 2 { x q; }
    default { y q; }
}
`
	circ := build(t, src, nil)
	require.Len(t, circ.Instructions, 1)
	require.Equal(t, "x", gateOf(t, circ.Instructions[0]).Name)
}

func TestMeasureRecordsTargets(t *testing.T) {
	src := "qubit[2] q;\nbit[2] b;\nh q[0];\nb = measure q;\nmeasure q[0];\n"
	circ := build(t, src, nil)
	require.Equal(t, []int{0, 1, 0}, circ.Measured)
	// Measurement never feeds back: only the h instruction exists.
	require.Len(t, circ.Instructions, 1)
}

func TestFunctionCallReturnValue(t *testing.T) {
	src := `
def doubler(int[8] x) -> int[8] { return x * 2; }
qubit q;
int[8] y = doubler(3);
rx(y) q;
`
	circ := build(t, src, nil)
	require.InDelta(t, 6.0, gateOf(t, circ.Instructions[0]).Params[0], 1e-12)
}

func TestFunctionQubitRemapping(t *testing.T) {
	src := `
qubit[3] q;
def flip(qubit a) { x a; }
flip(q[2]);
flip(q[0]);
`
	circ := build(t, src, nil)
	require.Len(t, circ.Instructions, 2)
	require.Equal(t, []int{2}, circ.Instructions[0].Targets)
	require.Equal(t, []int{0}, circ.Instructions[1].Targets)
}

func TestFunctionMutableArrayWriteBack(t *testing.T) {
	src := `
def bump(mutable array[int[8], 2] a) { a[0] = a[0] + 1; }
array[int[8], 2] arr = {1, 2};
bump(arr);
qubit q;
rx(arr[0]) q;
`
	circ := build(t, src, nil)
	require.InDelta(t, 2.0, gateOf(t, circ.Instructions[0]).Params[0], 1e-12)
}

func TestFunctionReadonlyArrayStaysPut(t *testing.T) {
	src := `
def peek(readonly array[int[8], 2] a) -> int[8] { return a[1]; }
array[int[8], 2] arr = {1, 9};
qubit q;
rx(peek(arr)) q;
`
	circ := build(t, src, nil)
	require.InDelta(t, 9.0, gateOf(t, circ.Instructions[0]).Params[0], 1e-12)
}

func TestInputBitstringBinding(t *testing.T) {
	src := `
input bit[4] flags;
qubit q;
if (flags[0]) { x q; }
if (flags[1]) { y q; }
`
	circ := build(t, src, map[string]any{"flags": "1010"})
	require.Len(t, circ.Instructions, 1)
	require.Equal(t, "x", gateOf(t, circ.Instructions[0]).Name)
}

func TestUintBitOrderMSBFirst(t *testing.T) {
	src := `
input uint[4] u;
qubit q;
if (u[0]) { x q; }
if (u[3]) { y q; }
`
	// 1 = 0b0001: bit 0 (most significant) clear, bit 3 (least) set.
	circ := build(t, src, map[string]any{"u": 1})
	require.Len(t, circ.Instructions, 1)
	require.Equal(t, "y", gateOf(t, circ.Instructions[0]).Name)
}

func TestHardwareQubits(t *testing.T) {
	circ := build(t, "h $2;\ncnot $0, $1;\n", nil)
	require.Equal(t, 3, circ.QubitCount)
	require.Equal(t, []int{2}, circ.Instructions[0].Targets)
	require.Equal(t, []int{0, 1}, circ.Instructions[1].Targets)
}

func TestResultPragmas(t *testing.T) {
	src := `
qubit[2] q;
h q[0];
#pragma braket result state_vector
#pragma braket result probability
#pragma braket result density_matrix q[0]
#pragma braket result amplitude "00", "11"
#pragma braket result expectation x @ y q[0], q[1]
#pragma braket result variance hermitian([[1, 0], [0, -1]]) q[0]
#pragma braket result sample x(q[1])
`
	circ := build(t, src, nil)
	require.Len(t, circ.Results, 7)

	require.Equal(t, StateVectorResult, circ.Results[0].Kind)
	require.Equal(t, ProbabilityResult, circ.Results[1].Kind)
	require.Nil(t, circ.Results[1].Targets)
	require.Equal(t, []int{0}, circ.Results[2].Targets)
	require.Equal(t, []string{"00", "11"}, circ.Results[3].States)

	exp := circ.Results[4]
	require.Equal(t, ExpectationResult, exp.Kind)
	require.Equal(t, []string{"x", "y"}, exp.Obs.Names)
	require.Equal(t, []int{0, 1}, exp.Targets)

	vr := circ.Results[5]
	require.Equal(t, VarianceResult, vr.Kind)
	require.NotNil(t, vr.Obs.Matrix)
	require.Equal(t, []int{0}, vr.Targets)

	sm := circ.Results[6]
	require.Equal(t, SampleResult, sm.Kind)
	require.Equal(t, []string{"x"}, sm.Obs.Names)
	require.Equal(t, []int{1}, sm.Targets)
}

func TestVerbatimPragma(t *testing.T) {
	circ := build(t, "qubit q;\n#pragma braket verbatim\nh q;\n", nil)
	require.True(t, circ.Verbatim)
	require.Len(t, circ.Instructions, 1)
}

func TestIndexSanityInvariant(t *testing.T) {
	src := `
qubit[4] q;
h q;
cnot q[0], q[3];
#pragma braket unitary([[1, 0], [0, 1]]) q[2]
#pragma braket noise bit_flip(.1) q[1]
`
	circ := build(t, src, nil)
	for i, ins := range circ.Instructions {
		for _, tgt := range ins.Targets {
			require.GreaterOrEqual(t, tgt, 0, "instruction %d", i)
			require.Less(t, tgt, circ.QubitCount, "instruction %d", i)
		}
	}
}

func TestElaborationErrors(t *testing.T) {
	cases := map[string]string{
		"unknown gate":        "qubit q;\nfrobnicate q;\n",
		"gate arity":          "qubit q;\ncnot q;\n",
		"unknown function":    "int[8] x = nosuch(1);\n",
		"output unsupported":  "output int[8] r;\n",
		"bad include":         "include \"other.inc\";\n",
		"duplicate register":  "qubit q;\nqubit q;\n",
		"uninitialized read":  "int[8] x;\nqubit q;\nrx(x) q;\n",
		"amplitude width":     "qubit[2] q;\n#pragma braket result amplitude \"0\"\n",
		"unitary dimensions":  "qubit[2] q;\n#pragma braket unitary([[1, 0], [0, 1]]) q\n",
		"noise target arity":  "qubit[2] q;\n#pragma braket noise bit_flip(.5) q\n",
		"noise param arity":   "qubit q;\n#pragma braket noise bit_flip(.5, .5) q[0]\n",
		"qubit inside def":    "def f() { qubit q; }\nf();\n",
		"gphase extra parens": "qubit q;\ngphase(1, 2) q;\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildProgram(src, nil)
			require.Error(t, err)
		})
	}
}

func TestIncludeStdgatesIsNoOp(t *testing.T) {
	circ := build(t, "OPENQASM 3;\ninclude \"stdgates.inc\";\nqubit q;\nh q;\n", nil)
	require.Len(t, circ.Instructions, 1)
}

func TestGPhaseInGateBody(t *testing.T) {
	src := `
qubit[2] q;
gate ph(t) a { gphase(t) a; }
ph(0.25) q[0];
`
	circ := build(t, src, nil)
	require.Len(t, circ.Instructions, 1)
	gp, ok := circ.Instructions[0].Op.(GPhase)
	require.True(t, ok)
	require.InDelta(t, 0.25, gp.Angle, 1e-12)
	require.Equal(t, []int{0, 1}, circ.Instructions[0].Targets)
}

func TestGateParameterExpressionFolding(t *testing.T) {
	src := `
qubit q;
gate halfrot(t) a { rx(t / 2) a; ry(t * 2) a; }
halfrot(π) q;
`
	circ := build(t, src, nil)
	require.Len(t, circ.Instructions, 2)
	require.InDelta(t, math.Pi/2, gateOf(t, circ.Instructions[0]).Params[0], 1e-12)
	require.InDelta(t, 2*math.Pi, gateOf(t, circ.Instructions[1]).Params[0], 1e-12)
}

func TestCompoundAssignment(t *testing.T) {
	src := `
qubit q;
int[8] n = 1;
n += 4;
n *= 2;
n -= 3;
rx(n) q;
`
	circ := build(t, src, nil)
	require.InDelta(t, 7.0, gateOf(t, circ.Instructions[0]).Params[0], 1e-12)
}

func TestIndexedAssignmentBroadcast(t *testing.T) {
	src := `
qubit q;
bit[4] b;
b[1:2] = 1;
if (b[1]) { x q; }
if (b[2]) { y q; }
if (b[0]) { z q; }
`
	circ := build(t, src, nil)
	require.Len(t, circ.Instructions, 2)
	require.Equal(t, "x", gateOf(t, circ.Instructions[0]).Name)
	require.Equal(t, "y", gateOf(t, circ.Instructions[1]).Name)
}
