package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// TaskHash is the truncated one-way identifier of a task. It is a distinct
// type rather than a plain string so raw task text cannot be smuggled into
// an evaluation record or a log line by accident. Sixteen hex characters
// tolerates collisions: evaluations need correlation, not uniqueness.
type TaskHash string

// TaskHashLen is the exact length of a TaskHash in hex characters.
const TaskHashLen = 16

// HashTask derives a TaskHash from raw task text. Deterministic: identical
// input always yields the same hash. The raw text is never retained.
func HashTask(raw string) TaskHash {
	sum := sha256.Sum256([]byte(raw))
	return TaskHash(hex.EncodeToString(sum[:])[:TaskHashLen])
}

// Valid reports whether h has the expected truncated-hex shape.
func (h TaskHash) Valid() bool {
	if len(h) != TaskHashLen {
		return false
	}
	for _, r := range h {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// MaxKeywords caps any keyword list attached to an evaluation record.
const MaxKeywords = 10

// sensitiveTerms is the denylist screened against every keyword. Matching is
// case-insensitive substring so "api_key" and "PASSWORD123" are both caught.
var sensitiveTerms = []string{
	"password",
	"passwd",
	"pwd",
	"secret",
	"key",
	"token",
	"credential",
	"auth",
	"bearer",
	"private",
}

// FilterKeywords lowercases, dedupes, drops sensitive terms silently, and
// caps the result at MaxKeywords. One bad keyword must not fail the whole
// record, so dropped terms are never reported as errors.
func FilterKeywords(keywords []string) []string {
	var out []string
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		if containsSensitiveTerm(kw) {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}

func containsSensitiveTerm(kw string) bool {
	for _, term := range sensitiveTerms {
		if strings.Contains(kw, term) {
			return true
		}
	}
	return false
}

// privateTagRegex matches <private>...</private> blocks (non-greedy, dotall).
var privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

// StripPrivateTags removes all <private>...</private> blocks from content.
func StripPrivateTags(content string) string {
	return strings.TrimSpace(privateTagRegex.ReplaceAllString(content, ""))
}

// HasOnlyPrivateContent returns true if nothing useful remains after
// stripping private blocks and whitespace.
func HasOnlyPrivateContent(content string) bool {
	return StripPrivateTags(content) == ""
}
