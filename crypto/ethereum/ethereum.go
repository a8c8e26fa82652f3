// Package ethereum provides secp256k1 signing keys and helpers used for the
// sequencer's operator attestation on batch artifacts.
package ethereum

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilpay/rollup/types"
	"github.com/veilpay/rollup/util"
)

// SignatureLength is the size in bytes of a serialized signature.
const SignatureLength = ethcrypto.SignatureLength

// SignKeys holds an ECDSA secp256k1 key pair.
type SignKeys struct {
	Public  ecdsa.PublicKey
	Private ecdsa.PrivateKey
}

// NewSignKeys creates an empty key pair.
func NewSignKeys() *SignKeys {
	return &SignKeys{}
}

// Generate creates a fresh random key pair.
func (k *SignKeys) Generate() error {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return err
	}
	k.Private = *key
	k.Public = key.PublicKey
	return nil
}

// AddHexKey imports a private key from its hex form, with or without the 0x
// prefix.
func (k *SignKeys) AddHexKey(privHex string) error {
	key, err := ethcrypto.HexToECDSA(util.TrimHex(privHex))
	if err != nil {
		return err
	}
	k.Private = *key
	k.Public = key.PublicKey
	return nil
}

// HexString returns the compressed public key and the private key in hex.
func (k *SignKeys) HexString() (string, string) {
	pubHex := fmt.Sprintf("%x", k.PublicKey())
	privHex := fmt.Sprintf("%x", ethcrypto.FromECDSA(&k.Private))
	return pubHex, privHex
}

// PublicKey returns the compressed public key.
func (k *SignKeys) PublicKey() types.HexBytes {
	return ethcrypto.CompressPubkey(&k.Public)
}

// Address returns the Ethereum address derived from the public key.
func (k *SignKeys) Address() ethcommon.Address {
	return ethcrypto.PubkeyToAddress(k.Public)
}

// AddressString returns the checksummed string form of the address.
func (k *SignKeys) AddressString() string {
	return k.Address().String()
}

// SignEthereum signs the message with the Ethereum personal-message prefix.
func (k *SignKeys) SignEthereum(message []byte) ([]byte, error) {
	if k.Private.D == nil {
		return nil, errors.New("no private key available")
	}
	return ethcrypto.Sign(Hash(message), &k.Private)
}

// Hash hashes data prepending the Ethereum signed-message prefix.
func Hash(data []byte) []byte {
	prefix := fmt.Sprintf("\u0019Ethereum Signed Message:\n%d", len(data))
	return HashRaw(append([]byte(prefix), data...))
}

// HashRaw is a keccak256 hash with no prefix.
func HashRaw(data []byte) []byte {
	return ethcrypto.Keccak256(data)
}

// AddrFromPublicKey derives the address of a compressed or uncompressed
// public key.
func AddrFromPublicKey(pub []byte) (ethcommon.Address, error) {
	var pubKey *ecdsa.PublicKey
	var err error
	switch len(pub) {
	case 33:
		pubKey, err = ethcrypto.DecompressPubkey(pub)
	case 65:
		pubKey, err = ethcrypto.UnmarshalPubkey(pub)
	default:
		return ethcommon.Address{}, fmt.Errorf("invalid public key length %d", len(pub))
	}
	if err != nil {
		return ethcommon.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pubKey), nil
}

// AddrFromSignature recovers the address that signed message.
func AddrFromSignature(message, signature []byte) (ethcommon.Address, error) {
	pub, err := ethcrypto.SigToPub(Hash(message), signature)
	if err != nil {
		return ethcommon.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
