// Package fingerprint derives a stable identifier for the page state the
// agent is currently looking at. The fingerprint is used as a macro cache
// key and as a loop-detection signal; it is recomputed every step and never
// stored on its own.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

const (
	maxFormLabels  = 10
	maxButtonTexts = 5
	hexLen         = 32
)

// Compute maps observable page attributes to a deterministic identifier.
// Label and button samples are lower-cased, sorted and bounded before
// hashing so that incidental DOM ordering does not change the result.
// Equal logical states yield equal fingerprints; uniqueness across wholly
// different states is probabilistic but more than sufficient at 128 bits.
func Compute(hostname, path, heading string, formLabels, buttonTexts []string) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(hostname)),
		normalizePath(path),
		strings.ToLower(strings.TrimSpace(heading)),
		joinSample(formLabels, maxFormLabels),
		joinSample(buttonTexts, maxButtonTexts),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "||")))
	return hex.EncodeToString(sum[:])[:hexLen]
}

func normalizePath(path string) string {
	p := strings.ToLower(strings.TrimSpace(path))
	if p == "" {
		return "/"
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func joinSample(values []string, limit int) string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			cleaned = append(cleaned, v)
		}
	}
	sort.Strings(cleaned)
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return strings.Join(cleaned, "|")
}
