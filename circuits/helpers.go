package circuits

import (
	"bytes"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/veilpay/rollup/log"
)

// FrontendError function is an in-circuit function to print an error message
// and an error trace, making the circuit fail.
func FrontendError(api frontend.API, msg string, trace error) {
	err := fmt.Errorf("%s", msg)
	if err != nil {
		err = fmt.Errorf("%w: %v", err, trace)
	}
	api.Println(err.Error())
	api.AssertIsEqual(1, 0)
}

// BigIntArrayToN pads the big.Int array to n elements, if needed,
// with zeros.
func BigIntArrayToN(arr []*big.Int, n int) []*big.Int {
	bigArr := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		if i < len(arr) {
			bigArr[i] = arr[i]
		} else {
			bigArr[i] = big.NewInt(0)
		}
	}
	return bigArr
}

// BoolToBigInt returns 1 when b is true or 0 otherwise
func BoolToBigInt(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

// EncodeProof serializes a proof to raw bytes for transport and storage.
func EncodeProof(proof groth16.Proof) ([]byte, error) {
	buf := bytes.Buffer{}
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode proof: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeProof deserializes a proof of the provided curve from raw bytes.
func DecodeProof(curve ecc.ID, data []byte) (groth16.Proof, error) {
	proof := groth16.NewProof(curve)
	if _, err := proof.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return proof, nil
}

// StoreConstraintSystem stores the constraint system in a file.
func StoreConstraintSystem(cs constraint.ConstraintSystem, filepath string) error {
	fd, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer fd.Close()
	if _, err := cs.WriteTo(fd); err != nil {
		return err
	}
	log.Debugw("constraint system written", "file", filepath)
	return nil
}

// StoreProvingKey stores the proving key in a file.
func StoreProvingKey(pkey groth16.ProvingKey, filepath string) error {
	fd, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer fd.Close()
	if _, err := pkey.WriteRawTo(fd); err != nil {
		return err
	}
	log.Debugw("proving key written", "file", filepath)
	return nil
}

// StoreVerificationKey stores the verification key in a file.
func StoreVerificationKey(vkey groth16.VerifyingKey, filepath string) error {
	fd, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer fd.Close()
	if _, err := vkey.WriteRawTo(fd); err != nil {
		return err
	}
	log.Debugw("verification key written", "file", filepath)
	return nil
}

// StoreProof stores the proof in a file.
func StoreProof(proof groth16.Proof, filepath string) error {
	proofFd, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer proofFd.Close()
	if _, err := proof.WriteTo(proofFd); err != nil {
		return err
	}
	log.Debugw("proof written", "file", filepath)
	return nil
}

// StoreWitness stores the witness in a file.
func StoreWitness(witness witness.Witness, filepath string) error {
	witnessFd, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer witnessFd.Close()
	bWitness, err := witness.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := witnessFd.Write(bWitness); err != nil {
		return err
	}
	return nil
}

// LoadConstraintSystem reads a stored constraint system of the provided curve
// from a file.
func LoadConstraintSystem(curve ecc.ID, filepath string) (constraint.ConstraintSystem, error) {
	fd, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	ccs := groth16.NewCS(curve)
	if _, err := ccs.ReadFrom(fd); err != nil {
		return nil, fmt.Errorf("error reading constraint system from %s: %w", filepath, err)
	}
	return ccs, nil
}

// LoadProvingKey reads a stored proving key of the provided curve from a
// file.
func LoadProvingKey(curve ecc.ID, filepath string) (groth16.ProvingKey, error) {
	fd, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	pk := groth16.NewProvingKey(curve)
	if _, err := pk.ReadFrom(fd); err != nil {
		return nil, fmt.Errorf("error reading proving key from %s: %w", filepath, err)
	}
	return pk, nil
}

// LoadVerificationKey reads a stored verification key of the provided curve
// from a file.
func LoadVerificationKey(curve ecc.ID, filepath string) (groth16.VerifyingKey, error) {
	fd, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	vk := groth16.NewVerifyingKey(curve)
	if _, err := vk.ReadFrom(fd); err != nil {
		return nil, fmt.Errorf("error reading verification key from %s: %w", filepath, err)
	}
	return vk, nil
}
