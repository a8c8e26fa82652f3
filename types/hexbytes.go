package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
)

// HexBytes is a []byte which encodes as hexadecimal in json, as opposed to the
// base64 default.
type HexBytes []byte

func (b HexBytes) String() string {
	return "0x" + hex.EncodeToString(b)
}

// SetString decodes a hex string, with or without the 0x prefix, into b.
func (b *HexBytes) SetString(s string) error {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	dec, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*b = dec
	return nil
}

// BigInt interprets b as a big-endian unsigned integer.
func (b HexBytes) BigInt() *BigInt {
	return (*BigInt)(new(big.Int).SetBytes(b))
}

// Equal reports whether b and c hold the same bytes.
func (b HexBytes) Equal(c HexBytes) bool {
	return bytes.Equal(b, c)
}

func (b HexBytes) MarshalJSON() ([]byte, error) {
	enc := make([]byte, hex.EncodedLen(len(b))+4)
	enc[0] = '"'
	enc[1], enc[2] = '0', 'x'
	hex.Encode(enc[3:], b)
	enc[len(enc)-1] = '"'
	return enc, nil
}

func (b *HexBytes) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid JSON string: %q", data)
	}
	data = data[1 : len(data)-1]
	if len(data) >= 2 && data[0] == '0' && (data[1] == 'x' || data[1] == 'X') {
		data = data[2:]
	}
	dec := make([]byte, hex.DecodedLen(len(data)))
	if _, err := hex.Decode(dec, data); err != nil {
		return err
	}
	*b = dec
	return nil
}
