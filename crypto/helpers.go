package crypto

import "math/big"

const SerializedFieldSize = 32 // bytes

// BigIntToFFBytes returns the 32-byte big-endian form of the field element
// representation of input. Values are reduced into the field first so the
// bytes always round-trip through a circuit witness unchanged.
func BigIntToFFBytes(input, base *big.Int) []byte {
	b := BigToFF(base, input).Bytes()
	for len(b) < SerializedFieldSize {
		b = append([]byte{0}, b...)
	}
	return b
}

// BigToFF function returns the finite field representation of the big.Int
// provided. It uses the curve scalar field to represent the provided number.
func BigToFF(baseField, iv *big.Int) *big.Int {
	z := big.NewInt(0)
	if c := iv.Cmp(baseField); c == 0 {
		return z
	} else if c != 1 && iv.Cmp(z) != -1 {
		return iv
	}
	return z.Mod(iv, baseField)
}
