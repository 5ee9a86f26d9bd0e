// stdgates.go — builtin gate and noise-channel registries.
//
// The front-end only needs name → arity information: the unitary matrices
// themselves live in the downstream simulator's gate library. A gate spec
// records how many qubit targets and how many classical parameters a named
// gate takes; the gate-call engine validates calls against it and emits
// Gate operators by name.
package quasar

// gateSpec describes a builtin gate's call shape.
type gateSpec struct {
	Qubits int
	Params int
}

// builtinGates is the standard gate set. `gphase` is absent: it is handled
// structurally (it targets every allocated qubit).
var builtinGates = map[string]gateSpec{
	// one-qubit, parameter-free
	"i": {1, 0}, "h": {1, 0}, "x": {1, 0}, "y": {1, 0}, "z": {1, 0},
	"s": {1, 0}, "si": {1, 0}, "t": {1, 0}, "ti": {1, 0},
	"v": {1, 0}, "vi": {1, 0},

	// one-qubit, parameterized
	"rx": {1, 1}, "ry": {1, 1}, "rz": {1, 1},
	"phaseshift": {1, 1},
	"gpi":        {1, 1}, "gpi2": {1, 1},
	"prx": {1, 2},
	"U":   {1, 3},

	// two-qubit
	"cnot": {2, 0}, "cy": {2, 0}, "cz": {2, 0}, "cv": {2, 0},
	"swap": {2, 0}, "iswap": {2, 0}, "ecr": {2, 0},
	"pswap": {2, 1}, "xy": {2, 1}, "xx": {2, 1}, "yy": {2, 1}, "zz": {2, 1},
	"cphaseshift": {2, 1}, "cphaseshift00": {2, 1},
	"cphaseshift01": {2, 1}, "cphaseshift10": {2, 1},
	"ms": {2, 3},

	// three-qubit
	"ccnot": {3, 0}, "cswap": {3, 0},
}

// noiseSpec describes a noise channel's call shape. A Params of -1 means
// variadic (kraus takes one matrix per operator).
type noiseSpec struct {
	Qubits int
	Params int
}

var noiseChannels = map[string]noiseSpec{
	"bit_flip":                      {1, 1},
	"phase_flip":                    {1, 1},
	"pauli_channel":                 {1, 3},
	"depolarizing":                  {1, 1},
	"two_qubit_depolarizing":        {2, 1},
	"two_qubit_dephasing":           {2, 1},
	"amplitude_damping":             {1, 1},
	"generalized_amplitude_damping": {1, 2},
	"phase_damping":                 {1, 1},
	"kraus":                         {0, -1},
}
