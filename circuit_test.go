// circuit_test.go
package quasar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperatorNames(t *testing.T) {
	require.Equal(t, "rx", Gate{Name: "rx"}.OperatorName())
	require.Equal(t, "rx", Control{Op: Gate{Name: "rx"}, Bits: []int{1}}.OperatorName())
	require.Equal(t, "unitary", Unitary{}.OperatorName())
	require.Equal(t, "bit_flip", Noise{Channel: "bit_flip"}.OperatorName())
	require.Equal(t, "kraus", Kraus{}.OperatorName())
	require.Equal(t, "gphase", GPhase{}.OperatorName())
}

func TestResultKindNames(t *testing.T) {
	require.Equal(t, "state_vector", StateVectorResult.String())
	require.Equal(t, "amplitude", AmplitudeResult.String())
	require.Equal(t, "probability", ProbabilityResult.String())
	require.Equal(t, "density_matrix", DensityMatrixResult.String())
	require.Equal(t, "expectation", ExpectationResult.String())
	require.Equal(t, "variance", VarianceResult.String())
	require.Equal(t, "sample", SampleResult.String())
}

func TestNestedControlBits(t *testing.T) {
	// Control wrappers flatten their bit patterns in modifier order.
	circ, err := BuildProgram("qubit[3] q;\nctrl @ negctrl @ x q[0], q[1], q[2];\n", nil)
	require.NoError(t, err)
	require.Len(t, circ.Instructions, 1)
	c, ok := circ.Instructions[0].Op.(Control)
	require.True(t, ok)
	require.Equal(t, []int{1, 0}, c.Bits)
	require.Equal(t, []int{0, 1, 2}, circ.Instructions[0].Targets)
}
