// parser_test.go
package quasar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string) *Node {
	t.Helper()
	root, err := Parse(src)
	require.NoError(t, err, "Parse(%q)", src)
	require.Equal(t, HProgram, root.Head)
	return root
}

func parseErr(t *testing.T, src string) *ParseError {
	t.Helper()
	_, err := Parse(src)
	require.Error(t, err, "Parse(%q) should fail", src)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	return pe
}

func TestParseVersionAndInclude(t *testing.T) {
	root := parse(t, "OPENQASM 3.0;\ninclude \"stdgates.inc\";\n")
	require.Len(t, root.Kids, 2)
	require.Equal(t, HVersion, root.Kids[0].Head)
	require.Equal(t, "3.0", root.Kids[0].S)
	require.Equal(t, HInclude, root.Kids[1].Head)
	require.Equal(t, "stdgates.inc", root.Kids[1].Kids[0].S)
}

func TestParseGateCallShapes(t *testing.T) {
	root := parse(t, "rx(0.5) q[0];")
	call := root.Kids[0]
	require.Equal(t, HGateCall, call.Head)
	require.Equal(t, "rx", call.Kids[0].S)
	require.Len(t, call.Kids[1].Kids, 1)
	require.Equal(t, HIndexedIdentifier, call.Kids[2].Kids[0].Head)

	root = parse(t, "cnot q1, q2;")
	call = root.Kids[0]
	require.Equal(t, HGateCall, call.Head)
	require.Len(t, call.Kids[2].Kids, 2)
}

func TestParsePrecedence(t *testing.T) {
	root := parse(t, "int[8] x = 1 + 2 * 3;")
	asn := root.Kids[0].Kids[1]
	require.Equal(t, HClassicalAssignment, asn.Head)
	sum := asn.Kids[1]
	require.Equal(t, HBinaryOp, sum.Head)
	require.Equal(t, "+", sum.S)
	require.Equal(t, "*", sum.Kids[1].S)

	// ** is right-associative and binds tighter than unary minus.
	root = parse(t, "int[8] y = -2 ** 2;")
	neg := root.Kids[0].Kids[1].Kids[1]
	require.Equal(t, HUnaryOp, neg.Head)
	require.Equal(t, "-", neg.S)
	require.Equal(t, "**", neg.Kids[0].S)

	root = parse(t, "int[8] z = 2 ** 3 ** 2;")
	pow := root.Kids[0].Kids[1].Kids[1]
	require.Equal(t, "**", pow.S)
	require.Equal(t, "**", pow.Kids[1].S)
}

func TestParseRangeMissingStop(t *testing.T) {
	root := parse(t, "a[2:] = 1;")
	lhs := root.Kids[0].Kids[0]
	require.Equal(t, HIndexedIdentifier, lhs.Head)
	rng := lhs.Kids[1]
	require.Equal(t, HRange, rng.Head)
	require.Equal(t, int64(2), rng.Kids[0].I)
	require.Equal(t, int64(1), rng.Kids[1].I)
	require.Equal(t, int64(-1), rng.Kids[2].I)

	root = parse(t, "a[1:2:8] = 0;")
	rng = root.Kids[0].Kids[0].Kids[1]
	require.Equal(t, int64(2), rng.Kids[1].I)
	require.Equal(t, int64(8), rng.Kids[2].I)
}

func TestParseModifierChain(t *testing.T) {
	root := parse(t, "pow(2) @ inv @ ctrl @ x c, a;")
	p := root.Kids[0]
	require.Equal(t, HPowerMod, p.Head)
	require.Equal(t, int64(2), p.Kids[0].I)
	inv := p.Kids[1]
	require.Equal(t, HInverseMod, inv.Head)
	ctrl := inv.Kids[0]
	require.Equal(t, HControlMod, ctrl.Head)
	require.Equal(t, HGateCall, ctrl.Kids[0].Head)
}

func TestParseIrrationalAndComplex(t *testing.T) {
	root := parse(t, "rx(π) q; ry(-π/2) q; rz(2im) q;")
	pi := root.Kids[0].Kids[1].Kids[0]
	require.Equal(t, HIrrationalLiteral, pi.Head)
	require.InDelta(t, math.Pi, pi.F, 1e-12)
	im := root.Kids[2].Kids[1].Kids[0]
	require.Equal(t, HComplexLiteral, im.Head)
	require.Equal(t, complex(0, 2), im.C)
}

func TestParseDeclarations(t *testing.T) {
	root := parse(t, "const int[8] n = 4; bit[3] b; qubit[2] q; input uint[4] a_in;")
	require.Equal(t, HConstDeclaration, root.Kids[0].Head)
	require.Equal(t, HClassicalDeclaration, root.Kids[1].Head)
	require.Equal(t, BitT, root.Kids[1].Kids[0].T.Kind)
	require.Equal(t, 3, root.Kids[1].Kids[0].T.Size)
	require.Equal(t, HQubitDeclaration, root.Kids[2].Head)
	require.Equal(t, HInput, root.Kids[3].Head)
	require.Equal(t, UintT, root.Kids[3].Kids[0].T.Kind)
}

func TestParseControlFlow(t *testing.T) {
	src := `
for int i in [0:3] { h q; }
while (x < 4) { x = x + 1; }
if (n > 0) { x q; } else { y q; }
switch (n) { case 0, 1 { h q; } default { x q; } }
`
	root := parse(t, src)
	require.Equal(t, HFor, root.Kids[0].Head)
	require.Equal(t, HRange, root.Kids[0].Kids[2].Head)
	require.Equal(t, HWhile, root.Kids[1].Head)
	require.Equal(t, HIf, root.Kids[2].Head)
	require.Len(t, root.Kids[2].Kids, 3)
	sw := root.Kids[3]
	require.Equal(t, HSwitch, sw.Head)
	require.Equal(t, HCase, sw.Kids[1].Head)
	require.Len(t, sw.Kids[1].Kids[0].Kids, 2)
	require.Equal(t, HDefault, sw.Kids[2].Head)
}

func TestParseGateAndFunctionDefinitions(t *testing.T) {
	root := parse(t, "gate foo(a, b) p, q { rx(a) p; }\ndef f(int[8] x) -> int[8] { return x; }")
	g := root.Kids[0]
	require.Equal(t, HGateDefinition, g.Head)
	require.Len(t, g.Kids[1].Kids, 2)
	require.Len(t, g.Kids[2].Kids, 2)
	f := root.Kids[1]
	require.Equal(t, HFunctionDefinition, f.Head)
	require.Len(t, f.Kids, 4)
	require.Equal(t, HClassicalType, f.Kids[2].Head)
}

func TestParseMeasureForms(t *testing.T) {
	root := parse(t, "measure q; b = measure q; measure q[0] -> b[0];")
	require.Equal(t, HMeasure, root.Kids[0].Head)
	require.Equal(t, HClassicalAssignment, root.Kids[1].Head)
	require.Equal(t, HMeasure, root.Kids[1].Kids[1].Head)
	arrow := root.Kids[2]
	require.Equal(t, HClassicalAssignment, arrow.Head)
	require.Equal(t, HMeasure, arrow.Kids[1].Head)
	require.Equal(t, HIndexedIdentifier, arrow.Kids[0].Head)
}

func TestParsePragmas(t *testing.T) {
	root := parse(t, "#pragma braket result state_vector")
	pr := root.Kids[0]
	require.Equal(t, HPragma, pr.Head)
	require.Equal(t, "result", pr.S)
	require.Equal(t, "state_vector", pr.Kids[0].S)

	root = parse(t, "#pragma braket result probability q[0], q[1]")
	pr = root.Kids[0]
	require.Len(t, pr.Kids[1].Kids, 2)

	root = parse(t, `#pragma braket result amplitude "00", "11"`)
	pr = root.Kids[0]
	require.Equal(t, "00", pr.Kids[1].S)
	require.Equal(t, "11", pr.Kids[2].S)

	root = parse(t, "#pragma braket result expectation x @ y q[0], q[1]")
	pr = root.Kids[0]
	require.Equal(t, HObservable, pr.Kids[1].Head)
	require.Len(t, pr.Kids[1].Kids, 2)
	require.Equal(t, "x", pr.Kids[1].Kids[0].S)
	require.Len(t, pr.Kids[2].Kids, 2)

	root = parse(t, "#pragma braket unitary([[1, 0], [0, 1]]) q[0]")
	pr = root.Kids[0]
	require.Equal(t, "unitary", pr.S)
	require.Equal(t, HArrayLiteral, pr.Kids[0].Head)

	root = parse(t, "#pragma braket noise bit_flip(.5) q[1]")
	pr = root.Kids[0]
	require.Equal(t, "noise", pr.S)
	require.Equal(t, "bit_flip", pr.Kids[0].S)
	require.Len(t, pr.Kids[1].Kids, 1)

	root = parse(t, "#pragma braket verbatim")
	require.Equal(t, "verbatim", root.Kids[0].S)
}

func TestParsePragmaStopsAtLineEnd(t *testing.T) {
	root := parse(t, "#pragma braket result state_vector\nh q;")
	require.Len(t, root.Kids, 2)
	require.Equal(t, HGateCall, root.Kids[1].Head)
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"h q",                          // missing semicolon
		"gate g a { h a;",              // unmatched brace
		"reset q;",                     // reserved keyword
		"barrier q;",                   // reserved keyword
		"#pragma braket frobnicate",    // unknown pragma kind
		"#pragma openqasm result",      // wrong namespace
		"OPENQASM 2;",                  // unsupported version
		"int[8 x = 1;",                 // malformed type
		"pow @ x q;",                   // pow without argument
		"#pragma braket result energy", // unknown result type
	}
	for _, src := range cases {
		pe := parseErr(t, src)
		require.GreaterOrEqual(t, pe.Offset, 0, "source %q", src)
	}
}

func TestNodeEqual(t *testing.T) {
	a, err := Parse("rx(0.5) q[0];")
	require.NoError(t, err)
	b, err := Parse("rx(0.5) q[0];")
	require.NoError(t, err)
	c, err := Parse("rx(0.25) q[0];")
	require.NoError(t, err)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}
