// seal.go - Passphrase encryption of the persisted key blob.

package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// ScryptParams sets the cost of the passphrase KDF.
type ScryptParams struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

var (
	// StandardScrypt needs about 256MB and up to two seconds per unlock.
	StandardScrypt = ScryptParams{N: 1 << 18, R: 8, P: 1}
	// LightScrypt is for tests and constrained devices.
	LightScrypt = ScryptParams{N: 1 << 12, R: 8, P: 6}

	ErrWrongPassphrase = errors.New("keys: wrong passphrase or corrupt sealed keys")
)

const (
	sealVersion  = 1
	scryptKeyLen = 32
	saltLen      = 32
	nonceLen     = 12
)

type sealedBlob struct {
	Version    int          `json:"version"`
	KDF        ScryptParams `json:"kdf"`
	Salt       string       `json:"salt"`
	Nonce      string       `json:"nonce"`
	CipherText string       `json:"ciphertext"`
}

func gcmFor(passphrase, salt []byte, params ScryptParams) (cipher.AEAD, error) {
	key, err := scrypt.Key(passphrase, salt, params.N, params.R, params.P, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext under passphrase and returns a JSON blob.
func Seal(plaintext, passphrase []byte, params ScryptParams) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := gcmFor(passphrase, salt, params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealedBlob{
		Version:    sealVersion,
		KDF:        params,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		CipherText: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	})
}

// Open reverses Seal.
func Open(sealed, passphrase []byte) ([]byte, error) {
	var blob sealedBlob
	if err := json.Unmarshal(sealed, &blob); err != nil {
		return nil, fmt.Errorf("failed to parse sealed keys: %w", err)
	}
	if blob.Version != sealVersion {
		return nil, fmt.Errorf("unsupported sealed keys version %d", blob.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(blob.CipherText)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	gcm, err := gcmFor(passphrase, salt, blob.KDF)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}

// IsSealed reports whether data looks like a Seal blob rather than raw keys.
func IsSealed(data []byte) bool {
	var blob sealedBlob
	return json.Unmarshal(data, &blob) == nil && blob.Version == sealVersion
}
