package aggregator

import (
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
)

// dummyCircuit stands in for the transfer circuit on unused batch slots. It
// carries the same public input count and commitment shape as the transfer
// circuit, padded to the same constraint count.
type dummyCircuit struct {
	nbConstraints int
	SecretInput   frontend.Variable `gnark:",secret"`
	PublicInputs  frontend.Variable `gnark:",public"`
}

func (c dummyCircuit) Define(api frontend.API) error {
	res := api.Mul(c.SecretInput, c.SecretInput)
	for i := 2; i < c.nbConstraints; i++ {
		res = api.Mul(res, c.SecretInput)
	}
	api.AssertIsEqual(c.SecretInput, res)
	return nil
}

// DummyPlaceholder function returns the placeholder of a dummy circuit for
// the constraint.ConstraintSystem provided.
func DummyPlaceholder(mainCircuit constraint.ConstraintSystem) dummyCircuit {
	return dummyCircuit{nbConstraints: mainCircuit.GetNbConstraints()}
}

// DummyAssignment function returns the assignment of a dummy circuit.
func DummyAssignment() dummyCircuit {
	return dummyCircuit{PublicInputs: 0, SecretInput: 1}
}
