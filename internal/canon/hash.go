package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// the key algorithm to change without colliding with older entries.
const (
	DomainPlan  = "quill/plan/v1"
	DomainModel = "quill/model/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The separator keeps
// domain and data from running into each other.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the hex digest of v's canonical form under domain.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canon: %s: %w", domain, err)
	}
	return hashWithDomain(domain, data), nil
}

// MustHash is Hash for values known to be encodable.
func MustHash(domain string, v any) string {
	h, err := Hash(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}
