package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// FingerprintFields are the inputs that define a deadline record's identity.
type FingerprintFields struct {
	OwnerID    string
	Source     string
	CaseRef    string
	Domain     string
	Act        string
	RulesetID  string
	Type       string
	Quantity   int
	EndISO     string
	DisplayDay string
	Title      string
}

// Fingerprint hashes the identity fields. Equal fields always give the same
// value; changing any field changes it.
func Fingerprint(f FingerprintFields) string {
	parts := []string{
		f.OwnerID,
		f.Source,
		strings.TrimSpace(f.CaseRef),
		strings.ToLower(strings.TrimSpace(f.Domain)),
		strings.ToLower(strings.TrimSpace(f.Act)),
		f.RulesetID,
		f.Type,
		strconv.Itoa(f.Quantity),
		f.EndISO,
		f.DisplayDay,
		NormalizeTitle(f.Title),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// NormalizeTitle lowercases and collapses whitespace.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
