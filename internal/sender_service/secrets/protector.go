// Package secrets decrypts provider credentials stored by the admin side.
//
// Stored form: base64(nonce[12] | tag[16] | ciphertext), AES-256-GCM keyed with
// SHA-256 of the master key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/profiqo/golang_services/internal/core_domain"
)

const (
	nonceSize       = 12
	tagSize         = 16
	MinMasterKeyLen = 32
)

var (
	ErrMasterKeyTooShort = fmt.Errorf("crypto master key must be at least %d characters", MinMasterKeyLen)
	ErrMalformedSecret   = errors.New("malformed encrypted secret")
)

// AESGCMProtector encrypts and decrypts secrets with a key derived from the master key.
type AESGCMProtector struct {
	aead cipher.AEAD
}

func NewAESGCMProtector(masterKey string) (*AESGCMProtector, error) {
	if len(strings.TrimSpace(masterKey)) < MinMasterKeyLen {
		return nil, ErrMasterKeyTooShort
	}
	key := sha256.Sum256([]byte(masterKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESGCMProtector{aead: aead}, nil
}

// Encrypt returns the stored form of plaintext.
func (p *AESGCMProtector) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := p.aead.Seal(nil, nonce, []byte(plaintext), nil) // ciphertext | tag
	ctLen := len(sealed) - tagSize

	buf := make([]byte, 0, nonceSize+len(sealed))
	buf = append(buf, nonce...)
	buf = append(buf, sealed[ctLen:]...)
	buf = append(buf, sealed[:ctLen]...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (p *AESGCMProtector) Decrypt(stored string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(stored))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSecret, err)
	}
	if len(data) < nonceSize+tagSize {
		return "", ErrMalformedSecret
	}
	nonce := data[:nonceSize]
	tag := data[nonceSize : nonceSize+tagSize]
	ct := data[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	pt, err := p.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(pt), nil
}

// WhatsappCredential decrypts a connection's credential blob. Any failure is permanent.
func (p *AESGCMProtector) WhatsappCredential(stored string) (core_domain.WhatsappCredential, error) {
	var cred core_domain.WhatsappCredential
	if strings.TrimSpace(stored) == "" {
		return cred, core_domain.Permanent("whatsapp credential missing", nil)
	}
	plain, err := p.Decrypt(stored)
	if err != nil {
		return cred, core_domain.Permanent("whatsapp credential undecryptable", err)
	}
	if err := json.Unmarshal([]byte(plain), &cred); err != nil {
		return cred, core_domain.Permanent("whatsapp credential is not valid json", err)
	}
	if cred.AccessToken == "" || cred.PhoneNumberID == "" {
		return cred, core_domain.Permanent("whatsapp credential incomplete", nil)
	}
	return cred, nil
}
