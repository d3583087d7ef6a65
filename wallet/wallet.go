package wallet

import (
	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/crypto"
)

// Wallet holds a key pair and provides operation-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// Address returns the hex-encoded ed25519 public key, which is the
// wallet's address throughout the engine.
func (w *Wallet) Address() string {
	return w.pub.Hex()
}

// NewOp creates a signed operation. nonce must be one above the
// account's current nonce; value is the attached native amount and must
// be zero for non-payable operation types.
func (w *Wallet) NewOp(typ core.OpType, nonce, value uint64, payload any) (*core.Operation, error) {
	op, err := core.NewOperation(typ, w.pub.Hex(), nonce, value, payload)
	if err != nil {
		return nil, err
	}
	op.Sign(w.priv)
	return op, nil
}
