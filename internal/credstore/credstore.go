package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"

	"github.com/pkg/errors"
)

const ivLen = 12

// Store encrypts/decrypts the user's scraper password at rest.
// AES-256-GCM; stored value is hex(ciphertext || tag) plus a hex IV.
// Ключ задаётся явно при создании — никаких чтений env внутри.
type Store struct {
	key []byte
}

// New expects a 64-char hex string (32 bytes).
func New(hexKey string) (*Store, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "decode encryption key")
	}
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes (64 hex chars)")
	}
	return &Store{key: key}, nil
}

func (s *Store) Encrypt(plaintext string) (ciphertextHex, ivHex string, err error) {
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", "", errors.Wrap(err, "read iv")
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", "", err
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), hex.EncodeToString(iv), nil
}

func (s *Store) Decrypt(ciphertextHex, ivHex string) (string, error) {
	sealed, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", errors.Wrap(err, "decode ciphertext")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", errors.Wrap(err, "decode iv")
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", errors.Wrap(err, "decrypt credential")
	}
	return string(plain), nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "new gcm")
	}
	return gcm, nil
}
