package scene

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Domain prefixes for content ids recorded in the ledger. The version
// suffix leaves room for changing the encoding.
const (
	DomainAssembly = "scenebridge/assembly/v1"
	DomainInstance = "scenebridge/instance/v1"
	DomainFrame    = "scenebridge/frame/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator keeps domain and data unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes the JSON encoding of parts under domain.
func ContentHash(domain string, parts ...any) (string, error) {
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("ContentHash: failed to marshal: %w", err)
	}
	return hashWithDomain(domain, data), nil
}

// MustContentHash is like ContentHash but panics on error.
// Use only when parts are known to be encodable.
func MustContentHash(domain string, parts ...any) string {
	h, err := ContentHash(domain, parts...)
	if err != nil {
		panic(err)
	}
	return h
}
