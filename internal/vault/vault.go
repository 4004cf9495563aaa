// Package vault encrypts tenant gateway credentials at rest.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
)

const v1Prefix = "v1:"

var (
	ErrInvalidKeyLength = errors.New("vault_invalid_key_length")
	ErrMalformedToken   = errors.New("vault_malformed_token")
	ErrEncryptFailed    = errors.New("vault_encrypt_failed")
	ErrDecryptFailed    = errors.New("vault_decrypt_failed")
)

// Vault performs envelope encryption of credential strings. A v1 token is
// "v1:" + base64(nonce) + "." + base64(ciphertext||tag) under AES-GCM.
// Tokens without the prefix are legacy blobs: bare base64 of an ECB-mode
// encryption with no nonce, kept decryptable for secrets stored before
// the v1 scheme existed.
type Vault struct {
	block cipher.Block
	gcm   cipher.AEAD
}

// New builds a Vault from a raw AES key. Key length is validated here so a
// misconfigured deployment fails at startup, not on first use.
func New(key []byte) (*Vault, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{block: block, gcm: gcm}, nil
}

// Encrypt returns a v1 token for the plaintext. Blank input is treated as
// "no secret configured" and passed through unchanged.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if strings.TrimSpace(plaintext) == "" {
		return plaintext, nil
	}

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Join(ErrEncryptFailed, err)
	}

	ciphertext := v.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return v1Prefix +
		base64.StdEncoding.EncodeToString(nonce) +
		"." +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt accepts both v1 and legacy tokens.
func (v *Vault) Decrypt(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return token, nil
	}
	if strings.HasPrefix(token, v1Prefix) {
		return v.decryptV1(token)
	}
	return v.decryptLegacy(token)
}

func (v *Vault) decryptV1(token string) (string, error) {
	parts := strings.SplitN(strings.TrimPrefix(token, v1Prefix), ".", 2)
	if len(parts) != 2 {
		return "", ErrMalformedToken
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrMalformedToken
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformedToken
	}
	if len(nonce) != v.gcm.NonceSize() {
		return "", ErrMalformedToken
	}

	plaintext, err := v.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Join(ErrDecryptFailed, err)
	}
	return string(plaintext), nil
}

func (v *Vault) decryptLegacy(token string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrMalformedToken
	}
	size := v.block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%size != 0 {
		return "", ErrMalformedToken
	}

	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += size {
		v.block.Decrypt(plaintext[i:i+size], ciphertext[i:i+size])
	}
	return string(unpadPKCS7(plaintext, size)), nil
}

// legacyEncrypt reproduces the pre-v1 storage format. Only tests need it;
// production writes always use Encrypt.
func (v *Vault) legacyEncrypt(plaintext string) string {
	size := v.block.BlockSize()
	padded := padPKCS7([]byte(plaintext), size)
	ciphertext := make([]byte, len(padded))
	for i := 0; i < len(padded); i += size {
		v.block.Encrypt(ciphertext[i:i+size], padded[i:i+size])
	}
	return base64.StdEncoding.EncodeToString(ciphertext)
}

func padPKCS7(data []byte, size int) []byte {
	pad := size - len(data)%size
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func unpadPKCS7(data []byte, size int) []byte {
	if len(data) == 0 {
		return data
	}
	pad := int(data[len(data)-1])
	if pad <= 0 || pad > size || pad > len(data) {
		return data
	}
	return data[:len(data)-pad]
}
