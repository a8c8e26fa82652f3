package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"

	bls12377fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/twistededwards"
)

// SpendKey is the secret scalar that authorizes spending every note bound to
// its owner key. Knowledge of the scalar is the only spend credential.
type SpendKey struct {
	scalar *big.Int
}

// GenSpendKey generates a new random spend key.
func GenSpendKey() (*SpendKey, error) {
	params := twistededwards.GetEdwardsCurve()
	k, err := rand.Int(rand.Reader, &params.Order)
	if err != nil {
		return nil, fmt.Errorf("could not generate spend key: %w", err)
	}
	return &SpendKey{scalar: k}, nil
}

// SpendKeyFromBigInt restores a spend key from its scalar form.
func SpendKeyFromBigInt(k *big.Int) *SpendKey {
	return &SpendKey{scalar: new(big.Int).Set(k)}
}

// BigInt returns the scalar of the spend key.
func (sk *SpendKey) BigInt() *big.Int {
	return new(big.Int).Set(sk.scalar)
}

// OwnerKey derives the public owner key sk·G on the twisted Edwards curve
// embedded in the BLS12-377 scalar field. Notes are committed to this key and
// the transfer circuit recomputes it from the spend key.
func (sk *SpendKey) OwnerKey() *OwnerKey {
	params := twistededwards.GetEdwardsCurve()
	var p twistededwards.PointAffine
	p.ScalarMultiplication(&params.Base, sk.scalar)
	return &OwnerKey{
		X: p.X.BigInt(new(big.Int)),
		Y: p.Y.BigInt(new(big.Int)),
	}
}

// OwnerKey is the public key a note is bound to, a point on the embedded
// twisted Edwards curve.
type OwnerKey struct {
	X *big.Int
	Y *big.Int
}

// SentinelOwner returns the owner key of sentinel slots, the identity point
// (0, 1) of the curve. Absent transfer slots are treated as zero-value notes
// bound to this key.
func SentinelOwner() *OwnerKey {
	return &OwnerKey{X: big.NewInt(0), Y: big.NewInt(1)}
}

// Note is the opening of one value commitment.
type Note struct {
	Owner *OwnerKey
	Value uint64
	Salt  *big.Int
}

// NewNote builds a note for the given owner with a fresh random salt.
func NewNote(owner *OwnerKey, value uint64) *Note {
	salt, err := rand.Int(rand.Reader, bls12377fr.Modulus())
	if err != nil {
		panic(err)
	}
	return &Note{Owner: owner, Value: value, Salt: salt}
}

// Commitment computes cm = MiMC(ownerX, ownerY, value, salt), the only form
// of the note the ledger ever records.
func (n *Note) Commitment() *big.Int {
	return HashBLS12377(n.Owner.X, n.Owner.Y, new(big.Int).SetUint64(n.Value), n.Salt)
}

// Nullifier computes nf = MiMC(cm, sk), the one-time marker published when a
// note is spent. Sentinel slots declare a literal zero instead, which no real
// note can produce.
func Nullifier(commitment *big.Int, sk *SpendKey) *big.Int {
	return HashBLS12377(commitment, sk.scalar)
}
