package crypto_test

import (
	"testing"

	"github.com/artgrid/artgrid/crypto"
)

// TestSignVerify checks a signature binds key and data.
func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("canvas 7 pixel 12 color 9")
	sig := crypto.Sign(priv, data)

	if err := crypto.Verify(pub, data, sig); err != nil {
		t.Errorf("verify: %v", err)
	}
	if err := crypto.Verify(pub, []byte("tampered"), sig); err == nil {
		t.Error("tampered data must not verify")
	}
	otherPriv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if err := crypto.Verify(otherPriv.Public(), data, sig); err == nil {
		t.Error("foreign key must not verify")
	}
	if err := crypto.Verify(pub, data, "zz"); err == nil {
		t.Error("non-hex signature must not verify")
	}
}

// TestHexRoundtrip checks keys survive hex encoding.
func TestHexRoundtrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	gotPub, err := crypto.PubKeyFromHex(pub.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if gotPub.Hex() != pub.Hex() {
		t.Error("public key hex roundtrip changed the key")
	}
	gotPriv, err := crypto.PrivKeyFromHex(priv.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if gotPriv.Public().Hex() != pub.Hex() {
		t.Error("private key hex roundtrip changed the key")
	}

	if _, err := crypto.PubKeyFromHex("abcd"); err == nil {
		t.Error("short pubkey should be rejected")
	}
}

// TestHashDeterministic checks the hash is stable and content sensitive.
func TestHashDeterministic(t *testing.T) {
	a := crypto.Hash([]byte("x"))
	b := crypto.Hash([]byte("x"))
	c := crypto.Hash([]byte("y"))
	if a != b {
		t.Error("same input hashed differently")
	}
	if a == c {
		t.Error("different inputs collided")
	}
	if len(a) != 64 {
		t.Errorf("hex length: %d", len(a))
	}
}
