package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Signer produces the API-Sign header for private endpoints:
// base64(HMAC-SHA512(secret, path + SHA256(nonce + body))).
type Signer struct {
	key    string
	secret []byte
}

func NewSigner(key, secret string) (*Signer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("api key is required")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("api secret is not base64: %w", err)
	}
	if len(decoded) == 0 {
		return nil, errors.New("api secret is required")
	}
	return &Signer{key: key, secret: decoded}, nil
}

func (s *Signer) Key() string {
	return s.key
}

func (s *Signer) Sign(path string, nonce uint64, body string) string {
	inner := sha256.Sum256([]byte(strconv.FormatUint(nonce, 10) + body))
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
