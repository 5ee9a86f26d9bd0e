// circuit.go — the elaborated circuit intermediate representation.
//
// OVERVIEW
// --------
// This module defines the output of the front-end: a flat, ordered sequence
// of instructions over integer-indexed qubits, plus the list of result
// requests collected from `#pragma braket result …` lines. Downstream
// numerical simulators consume this IR; nothing in this package evolves
// state vectors or density matrices.
//
// An Instruction pairs an Operator with its concrete qubit targets. The
// Operator variants form a closed set:
//
//	Gate    — a named gate from the builtin registry, parameters resolved
//	          to float64, with an algebraic exponent (pow/inv folding).
//	Control — a wrapped operator plus a per-qubit control bit pattern;
//	          control qubits are prepended to the instruction targets in
//	          pattern order.
//	Unitary — an explicit unitary matrix from a `unitary(…)` pragma.
//	Noise   — a named noise channel with float parameters.
//	Kraus   — a noise channel given as explicit Kraus matrices.
//	GPhase  — a global phase over all allocated qubits.
//
// Invariants (enforced by the visitor, relied upon by consumers):
//   - every target index is in [0, QubitCount)
//   - every Gate parameter is a concrete float64 (no free parameters)
//   - Control.Bits has one entry per control modifier; each entry matches a
//     prepended control qubit, except for a controlled GPhase, whose
//     targets carry no control qubits
package quasar

// Operator is the payload of an Instruction. The closed set of
// implementations lives in this file; consumers switch on the concrete type.
type Operator interface {
	// OperatorName returns the registry name for named operators and a
	// stable tag ("unitary", "kraus", "gphase") for the structural ones.
	OperatorName() string
}

// Gate is a named gate with fully-resolved parameters.
//
// Power carries the algebraic exponent accumulated from pow/inv modifiers:
// 1 is the plain gate, -1 its adjoint, 0.5 a half application. Downstream
// kernels apply the exponent to the registry matrix.
type Gate struct {
	Name   string
	Params []float64
	Power  float64
}

func (g Gate) OperatorName() string { return g.Name }

// Control wraps an operator with control qubits. Bits[i] is the activation
// value (1 for ctrl, 0 for negctrl) of the i-th prepended control qubit.
// A controlled gphase keeps its targets unchanged: it is not promoted to a
// higher-qubit phase, so no control qubit is prepended.
type Control struct {
	Op   Operator
	Bits []int
}

func (c Control) OperatorName() string { return c.Op.OperatorName() }

// Unitary is an explicit matrix operator from a `unitary` pragma.
type Unitary struct {
	Matrix [][]complex128
}

func (Unitary) OperatorName() string { return "unitary" }

// Noise is a named noise channel application.
type Noise struct {
	Channel string
	Params  []float64
}

func (n Noise) OperatorName() string { return n.Channel }

// Kraus is a noise channel given by explicit Kraus matrices.
type Kraus struct {
	Matrices [][][]complex128
}

func (Kraus) OperatorName() string { return "kraus" }

// GPhase is a global phase over every allocated qubit.
type GPhase struct {
	Angle float64
}

func (GPhase) OperatorName() string { return "gphase" }

// Instruction applies an operator to an ordered list of qubit indices.
// For Control-wrapped operators the control qubits come first, in bit
// pattern order, followed by the wrapped operator's own targets.
type Instruction struct {
	Op      Operator
	Targets []int
}

// ResultKind enumerates the result-request variants.
type ResultKind int

const (
	StateVectorResult ResultKind = iota
	AmplitudeResult
	ProbabilityResult
	DensityMatrixResult
	ExpectationResult
	VarianceResult
	SampleResult
)

var resultKindNames = [...]string{
	"state_vector", "amplitude", "probability", "density_matrix",
	"expectation", "variance", "sample",
}

func (k ResultKind) String() string {
	if int(k) < len(resultKindNames) {
		return resultKindNames[k]
	}
	return "unknown"
}

// Observable is the measured operator of an expectation/variance/sample
// request: either a tensor product of named single-qubit operators
// (x, y, z, i, h) or an explicit Hermitian matrix. Exactly one of Names
// and Matrix is set.
type Observable struct {
	Names  []string
	Matrix [][]complex128
}

// Result is a single result request in source order.
//
// Targets is nil when the request covers all qubits (probability and
// density_matrix with no target list, observables with no qubit list).
// States carries the basis-state bitstrings of an amplitude request.
type Result struct {
	Kind    ResultKind
	Targets []int
	States  []string
	Obs     *Observable
}

// Circuit is the complete front-end output.
//
// Measured records the qubit indices named by `measure` statements, in
// source order, for downstream samplers. Verbatim is set when the source
// carried a `#pragma braket verbatim` line.
type Circuit struct {
	QubitCount   int
	Instructions []Instruction
	Results      []Result
	Measured     []int
	Verbatim     bool
}
