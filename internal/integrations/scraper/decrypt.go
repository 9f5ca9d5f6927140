package scraper

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// Wire format of a downloaded blob, byte-for-byte compatible with the
// scraper's own encryption:
//
//	salt(32) || nonce(12) || ciphertext || gcm_tag(16)
//
// Key: PBKDF2-SHA256 over the user's scraper password, 600_000 iterations,
// 32-byte output. Changing any of these constants breaks interoperability.
const (
	saltLen       = 32
	nonceLen      = 12
	keyLen        = 32
	tagLen        = 16
	kdfIterations = 600_000
)

// DecryptOutput authenticates and decrypts a downloaded result blob.
// A wrong password or a tampered blob yields an error, never garbage.
func DecryptOutput(password string, encrypted []byte) ([]byte, error) {
	if len(encrypted) < saltLen+nonceLen+tagLen {
		return nil, errors.New("encrypted payload too short")
	}

	salt := encrypted[:saltLen]
	nonce := encrypted[saltLen : saltLen+nonceLen]
	// GCM в Go сам ждёт тег в хвосте ciphertext
	sealed := encrypted[saltLen+nonceLen:]

	key := pbkdf2.Key([]byte(password), salt, kdfIterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "new gcm")
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt scraper output")
	}
	return plaintext, nil
}

// EncryptOutput is the inverse of DecryptOutput, producing the same wire
// format. The real producer is the scraper itself; this one backs the fake
// client and fixtures.
func EncryptOutput(password string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "read salt")
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "read nonce")
	}

	key := pbkdf2.Key([]byte(password), salt, kdfIterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "new gcm")
	}

	out := make([]byte, 0, saltLen+nonceLen+len(plaintext)+tagLen)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}
