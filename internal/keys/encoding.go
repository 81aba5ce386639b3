package keys

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	pointLen = bn254.SizeOfG1AffineCompressed

	// SerializedLen is address + view priv + view pub + spend priv + spend pub.
	SerializedLen = common.AddressLength + 2*fr.Bytes + 2*pointLen
	// PublicKeysLen is view pub + spend pub, compressed.
	PublicKeysLen = 2 * pointLen
)

var (
	ErrInvalidEncoding = errors.New("keys: invalid key encoding")
	ErrKeyMismatch     = errors.New("keys: public key does not match private key")
)

// Serialize encodes k in a fixed 148-byte layout.
func (k *WalletKeys) Serialize() []byte {
	out := make([]byte, 0, SerializedLen)
	vp, vP := k.ViewPrivateKey.Bytes(), k.ViewPublicKey.Bytes()
	sp, sP := k.SpendPrivateKey.Bytes(), k.SpendPublicKey.Bytes()
	out = append(out, k.Address.Bytes()...)
	out = append(out, vp[:]...)
	out = append(out, vP[:]...)
	out = append(out, sp[:]...)
	out = append(out, sP[:]...)
	return out
}

// Deserialize decodes Serialize output and checks both key pairs.
func Deserialize(b []byte) (*WalletKeys, error) {
	if len(b) != SerializedLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidEncoding, len(b))
	}
	k := &WalletKeys{Address: common.BytesToAddress(b[:common.AddressLength])}
	off := common.AddressLength
	for _, part := range []struct {
		priv *fr.Element
		pub  *bn254.G1Affine
	}{
		{&k.ViewPrivateKey, &k.ViewPublicKey},
		{&k.SpendPrivateKey, &k.SpendPublicKey},
	} {
		if err := part.priv.SetBytesCanonical(b[off : off+fr.Bytes]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		off += fr.Bytes
		if _, err := part.pub.SetBytes(b[off : off+pointLen]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		off += pointLen
	}
	if !k.Valid() {
		return nil, ErrKeyMismatch
	}
	return k, nil
}

// PublicKeys is what a recipient shares so others can pay them.
type PublicKeys struct {
	ViewPublicKey  bn254.G1Affine
	SpendPublicKey bn254.G1Affine
}

// Bytes returns view || spend, both compressed.
func (p PublicKeys) Bytes() [PublicKeysLen]byte {
	var out [PublicKeysLen]byte
	v, s := p.ViewPublicKey.Bytes(), p.SpendPublicKey.Bytes()
	copy(out[:pointLen], v[:])
	copy(out[pointLen:], s[:])
	return out
}

// Hex returns the 0x-prefixed 64-byte encoding.
func (p PublicKeys) Hex() string {
	b := p.Bytes()
	return hexutil.Encode(b[:])
}

func (p PublicKeys) String() string { return p.Hex() }

// ParsePublicKeys decodes the output of PublicKeys.Hex.
func ParsePublicKeys(s string) (PublicKeys, error) {
	var p PublicKeys
	b, err := hexutil.Decode(s)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if len(b) != PublicKeysLen {
		return p, fmt.Errorf("%w: length %d", ErrInvalidEncoding, len(b))
	}
	if _, err := p.ViewPublicKey.SetBytes(b[:pointLen]); err != nil {
		return p, fmt.Errorf("%w: view key: %v", ErrInvalidEncoding, err)
	}
	if _, err := p.SpendPublicKey.SetBytes(b[pointLen:]); err != nil {
		return p, fmt.Errorf("%w: spend key: %v", ErrInvalidEncoding, err)
	}
	return p, nil
}
