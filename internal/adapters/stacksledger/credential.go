package stacksledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// KeyCredential signs custody API payloads with a shared secret key.
// The testnet custody service authenticates requests with an HMAC-SHA256
// signature over the canonical request body.
type KeyCredential struct {
	key []byte
}

// NewKeyCredential parses a hex-encoded secret key.
func NewKeyCredential(hexKey string) (*KeyCredential, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("signing key is empty")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signing key is not valid hex: %w", err)
	}
	return &KeyCredential{key: key}, nil
}

// Sign produces an HMAC-SHA256 signature over the payload.
func (c *KeyCredential) Sign(payload []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, c.key)
	if _, err := mac.Write(payload); err != nil {
		return nil, err
	}
	return mac.Sum(nil), nil
}
