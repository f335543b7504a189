package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	nonceSize  = 12
	tagSize    = 16
	keySize    = 32
	iterations = 210000

	// used only when no secret is configured and fallback is allowed
	fallbackSecret = "nimbus-dev-insecure-secret"
)

// ErrIntegrity is returned when the authentication tag of a stored blob does not verify
var ErrIntegrity = fmt.Errorf("vault: ciphertext integrity check failed")

// Vault encrypts VPS root passwords at rest. The stored blob layout is
// salt || nonce || tag || ciphertext. A fresh salt is drawn per call and the
// key is derived from the configured secret with PBKDF2, so no key material
// is retained between calls and concurrent use is safe.
type Vault struct {
	Options
	secret   string
	fallback bool
}

// Options provides initialization parameters for Vault
type Options struct {
	Secret string
	Logger *zap.Logger

	// AllowFallback permits a deterministic built-in secret when Secret is
	// empty. Must stay false in production deployments.
	AllowFallback bool
}

// New returns a Vault, refusing to start without a secret unless fallback is allowed
func New(option Options) (*Vault, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	v := &Vault{
		Options: option,
		secret:  option.Secret,
	}
	if option.Secret == "" {
		if !option.AllowFallback {
			return nil, fmt.Errorf("no vault secret configured and fallback is not allowed")
		}
		v.secret = fallbackSecret
		v.fallback = true
	}
	return v, nil
}

func (v *Vault) warnFallback() {
	if v.fallback {
		v.Logger.Warn("Vault is using the built-in fallback secret; credentials are NOT protected")
	}
}

func (v *Vault) deriveKey(salt []byte) []byte {
	return pbkdf2.Key([]byte(v.secret), salt, iterations, keySize, sha256.New)
}

// Encrypt seals the plaintext into a salt || nonce || tag || ciphertext blob
func (v *Vault) Encrypt(plaintext string) ([]byte, error) {
	v.warnFallback()

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, extErrors.Wrap(err, "Cannot generate salt")
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, extErrors.Wrap(err, "Cannot generate nonce")
	}

	aead, err := v.newAEAD(salt)
	if err != nil {
		return nil, err
	}

	// Seal appends the tag after the ciphertext; the stored layout wants it in front
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	blob := make([]byte, 0, saltSize+nonceSize+tagSize+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Decrypt opens a blob produced by Encrypt, failing with ErrIntegrity when the tag does not verify
func (v *Vault) Decrypt(blob []byte) (string, error) {
	v.warnFallback()

	if len(blob) < saltSize+nonceSize+tagSize {
		return "", ErrIntegrity
	}
	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	tag := blob[saltSize+nonceSize : saltSize+nonceSize+tagSize]
	ciphertext := blob[saltSize+nonceSize+tagSize:]

	aead, err := v.newAEAD(salt)
	if err != nil {
		return "", err
	}

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

func (v *Vault) newAEAD(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.deriveKey(salt))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize GCM")
	}
	return aead, nil
}
