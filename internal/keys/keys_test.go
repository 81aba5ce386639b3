package keys

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// fakeSigner signs by hashing the message with a secret, which is enough to be
// deterministic and message dependent.
type fakeSigner struct {
	addr   common.Address
	secret []byte
	err    error
	calls  int
}

func (s *fakeSigner) Address(context.Context) (common.Address, error) {
	return s.addr, s.err
}

func (s *fakeSigner) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	s.calls++
	return crypto.Keccak256(s.secret, msg), nil
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{
		addr:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		secret: []byte("seed"),
	}
}

func TestDeriveKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("fixed nonce is reproducible", func(t *testing.T) {
		a, err := DeriveKeys(ctx, newFakeSigner(), FixedNonce("v1"))
		if err != nil {
			t.Fatalf("DeriveKeys failed: %v", err)
		}
		b, err := DeriveKeys(ctx, newFakeSigner(), FixedNonce("v1"))
		if err != nil {
			t.Fatalf("DeriveKeys failed: %v", err)
		}
		if !bytes.Equal(a.Serialize(), b.Serialize()) {
			t.Errorf("same signer and nonce should give the same keys")
		}
		if !a.Valid() {
			t.Errorf("derived keys should satisfy pub = priv*G")
		}
		if a.ViewPrivateKey.Equal(&a.SpendPrivateKey) {
			t.Errorf("view and spend keys must differ")
		}
	})

	t.Run("different nonce gives different keys", func(t *testing.T) {
		a, _ := DeriveKeys(ctx, newFakeSigner(), FixedNonce("v1"))
		b, _ := DeriveKeys(ctx, newFakeSigner(), FixedNonce("v2"))
		if a.ViewPrivateKey.Equal(&b.ViewPrivateKey) {
			t.Errorf("nonce should salt the derivation")
		}
	})

	t.Run("no account", func(t *testing.T) {
		s := newFakeSigner()
		s.addr = common.Address{}
		if _, err := DeriveKeys(ctx, s, FixedNonce("v1")); !errors.Is(err, ErrNoAccount) {
			t.Errorf("expected ErrNoAccount, got %v", err)
		}
		if s.calls != 0 {
			t.Errorf("no signature should be requested without an account")
		}

		s = newFakeSigner()
		s.err = errors.New("locked")
		if _, err := DeriveKeys(ctx, s, FixedNonce("v1")); !errors.Is(err, ErrNoAccount) {
			t.Errorf("expected ErrNoAccount, got %v", err)
		}
	})
}

func TestZeroScalar(t *testing.T) {
	mod := fr.Modulus()
	digest := make([]byte, 32)
	mod.FillBytes(digest)
	if _, err := scalarFromDigest(digest); !errors.Is(err, ErrZeroScalar) {
		t.Errorf("digest equal to r should be rejected, got %v", err)
	}
	if _, err := scalarFromDigest(make([]byte, 32)); !errors.Is(err, ErrZeroScalar) {
		t.Errorf("zero digest should be rejected, got %v", err)
	}
}

func TestSerialization(t *testing.T) {
	k, err := DeriveKeys(context.Background(), newFakeSigner(), FixedNonce("v1"))
	if err != nil {
		t.Fatalf("DeriveKeys failed: %v", err)
	}
	data := k.Serialize()
	if len(data) != SerializedLen {
		t.Fatalf("expected %d bytes, got %d", SerializedLen, len(data))
	}
	back, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if back.Address != k.Address || !back.SpendPrivateKey.Equal(&k.SpendPrivateKey) {
		t.Errorf("round trip mismatch")
	}

	t.Run("mismatched public key", func(t *testing.T) {
		other, _ := DeriveKeys(context.Background(), newFakeSigner(), FixedNonce("other"))
		bad := append([]byte(nil), data...)
		vP := other.ViewPublicKey.Bytes()
		copy(bad[common.AddressLength+fr.Bytes:], vP[:])
		if _, err := Deserialize(bad); !errors.Is(err, ErrKeyMismatch) {
			t.Errorf("expected ErrKeyMismatch, got %v", err)
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		if _, err := Deserialize(data[:100]); !errors.Is(err, ErrInvalidEncoding) {
			t.Errorf("expected ErrInvalidEncoding, got %v", err)
		}
	})
}

func TestPublicKeys(t *testing.T) {
	k, _ := DeriveKeys(context.Background(), newFakeSigner(), FixedNonce("v1"))
	pub := k.ExportPublicKeys()
	s := pub.Hex()
	if len(s) != 2+2*PublicKeysLen {
		t.Errorf("unexpected hex length %d", len(s))
	}
	back, err := ParsePublicKeys(s)
	if err != nil {
		t.Fatalf("ParsePublicKeys failed: %v", err)
	}
	if !back.ViewPublicKey.Equal(&k.ViewPublicKey) || !back.SpendPublicKey.Equal(&k.SpendPublicKey) {
		t.Errorf("public key round trip mismatch")
	}
	if _, err := ParsePublicKeys("0x1234"); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("expected ErrInvalidEncoding, got %v", err)
	}
}

func TestSeal(t *testing.T) {
	plain := []byte("serialized keys")
	sealed, err := Seal(plain, []byte("correct horse"), LightScrypt)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !IsSealed(sealed) {
		t.Errorf("sealed blob not recognised")
	}
	if IsSealed(plain) {
		t.Errorf("raw bytes mistaken for a sealed blob")
	}
	got, err := Open(sealed, []byte("correct horse"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Open returned %q", got)
	}
	if _, err := Open(sealed, []byte("battery staple")); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("expected ErrWrongPassphrase, got %v", err)
	}
}
