package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainInstanceKey = "procrecon/instance-key/v1"
	DomainCandidate   = "procrecon/candidate/v1"
	DomainCatalog     = "procrecon/catalog/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator - CRITICAL for security
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// KeyID returns a short, stable identifier for an instance key, suitable for
// display and file names.
func KeyID(k InstanceKey) string {
	return "inst_" + hashWithDomain(DomainInstanceKey, []byte(k.String()))[:16]
}

// CandidateIDFromEmail derives the candidate id for an email identity signal.
// The address is trimmed and lowercased first so that casing never splits
// one person into two identities.
func CandidateIDFromEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return ""
	}
	return "cand_" + hashWithDomain(DomainCandidate, []byte(normalized))[:24]
}

// CandidateIDFromName derives the candidate id for a full-name identity
// signal. Case and inner whitespace are folded.
func CandidateIDFromName(name string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(name)), " ")
	if normalized == "" {
		return ""
	}
	return "cand_" + hashWithDomain(DomainCandidate, []byte("name\x00"+normalized))[:24]
}

// Fingerprint computes the content hash of a canonical-JSON-compatible value
// under the given domain.
func Fingerprint(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}
