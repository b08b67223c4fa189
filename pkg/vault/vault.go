package vault

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

/*
Vault encrypts and decrypts application secrets with a symmetric Fernet key.
Ciphertexts are wrapped in an extra layer of standard base64 so they travel
safely through JSON payloads and database columns.
*/
type Vault struct {
	keys []*fernet.Key
}

/*
New builds a Vault from the url-safe base64 key it is handed at startup.
*/
func New(encodedKey string) (*Vault, error) {
	key, err := fernet.DecodeKey(encodedKey)

	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}

	return &Vault{keys: []*fernet.Key{key}}, nil
}

func (vault *Vault) Encrypt(plaintext string) (string, error) {
	token, err := fernet.EncryptAndSign([]byte(plaintext), vault.keys[0])

	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	return base64.StdEncoding.EncodeToString(token), nil
}

func (vault *Vault) Decrypt(ciphertext string) (string, error) {
	token, err := base64.StdEncoding.DecodeString(ciphertext)

	if err != nil {
		return "", fmt.Errorf("failed to decode secret: %w", err)
	}

	// A zero ttl disables expiry; stored secrets have no lifetime.
	plaintext := fernet.VerifyAndDecrypt(token, 0, vault.keys)

	if plaintext == nil {
		return "", errors.New("failed to verify secret")
	}

	return string(plaintext), nil
}

/*
IsEncrypted reports whether the value is a ciphertext produced by this
vault's key. It attempts a decrypt and swallows the failure, which keeps
re-encryption of already encrypted values from double-wrapping them.
*/
func (vault *Vault) IsEncrypted(value string) bool {
	if value == "" {
		return false
	}

	_, err := vault.Decrypt(value)
	return err == nil
}

/*
GenerateKey mints a fresh Fernet key encoded as url-safe base64, suitable
for the FERNET_KEY setting.
*/
func GenerateKey() (string, error) {
	key := &fernet.Key{}

	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}

	return key.Encode(), nil
}
