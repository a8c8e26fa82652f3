package types

import (
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// BigInt is a big.Int wrapper which marshals JSON to a string representation
// of the big number.
type BigInt big.Int

func (i *BigInt) String() string {
	return (*big.Int)(i).String()
}

// SetString interprets s as a base 10 number and sets i to that value.
func (i *BigInt) SetString(s string) (*BigInt, bool) {
	bi, ok := (*big.Int)(i).SetString(s, 10)
	return (*BigInt)(bi), ok
}

// MarshalText implements the encoding.TextMarshaler interface.
func (i *BigInt) MarshalText() ([]byte, error) {
	return (*big.Int)(i).MarshalText()
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (i *BigInt) UnmarshalText(data []byte) error {
	return (*big.Int)(i).UnmarshalText(data)
}

// MarshalCBOR implements the cbor.Marshaler interface.
func (i *BigInt) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(i.Bytes())
}

// UnmarshalCBOR implements the cbor.Unmarshaler interface.
func (i *BigInt) UnmarshalCBOR(data []byte) error {
	var buf []byte
	if err := cbor.Unmarshal(data, &buf); err != nil {
		return err
	}
	i.SetBytes(buf)
	return nil
}

// Bytes returns the absolute value of i as a big-endian byte slice.
func (i *BigInt) Bytes() []byte {
	return (*big.Int)(i).Bytes()
}

// SetBytes interprets buf as big-endian unsigned integer and sets i to that
// value.
func (i *BigInt) SetBytes(buf []byte) *BigInt {
	return (*BigInt)((*big.Int)(i).SetBytes(buf))
}

// MathBigInt converts i to a math/big *big.Int.
func (i *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(i)
}

// Equal helps us with go-cmp.
func (i *BigInt) Equal(j *BigInt) bool {
	if i == nil || j == nil {
		return i == j
	}
	return i.MathBigInt().Cmp(j.MathBigInt()) == 0
}

// Add sets i to the sum x+y and returns i.
func (i *BigInt) Add(x, y *BigInt) *BigInt {
	return (*BigInt)(i.MathBigInt().Add(x.MathBigInt(), y.MathBigInt()))
}

// Sub sets i to the difference x-y and returns i.
func (i *BigInt) Sub(x, y *BigInt) *BigInt {
	return (*BigInt)(i.MathBigInt().Sub(x.MathBigInt(), y.MathBigInt()))
}
