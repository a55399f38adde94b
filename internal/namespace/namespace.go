package namespace

import (
	"strings"

	"github.com/rand/mnemosyne-sub002/internal/models"
)

// Kind classifies the owner of a scope.
type Kind string

const (
	KindGlobal  Kind = "global"
	KindProject Kind = "project"
	KindSession Kind = "session"
	KindTeam    Kind = "team"
	KindAgent   Kind = "agent"
	KindMember  Kind = "member"
)

var validKinds = map[Kind]bool{
	KindGlobal:  true,
	KindProject: true,
	KindSession: true,
	KindTeam:    true,
	KindAgent:   true,
	KindMember:  true,
}

// MaxLength bounds the raw scope string accepted at the boundary.
const MaxLength = 200

// Scope is the parsed form of a namespace string such as
// "project:myapp:frontend:components". Raw strings are parsed once at the
// boundary; internal components only ever see Scope values.
type Scope struct {
	Kind Kind
	Name string
	Path []string
}

// Parse validates and parses a raw namespace string. Malformed input is a
// *models.ValidationError: empty strings, oversized strings, control or
// path-traversal characters, unknown kinds, and empty segments are all
// rejected rather than sanitized.
func Parse(raw string) (Scope, error) {
	if raw == "" {
		return Scope{}, &models.ValidationError{Field: "namespace", Reason: "must not be empty"}
	}
	if len(raw) > MaxLength {
		return Scope{}, &models.ValidationError{Field: "namespace", Reason: "exceeds maximum length"}
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return Scope{}, &models.ValidationError{Field: "namespace", Reason: "contains control characters"}
		}
	}
	if strings.Contains(raw, "..") || strings.ContainsAny(raw, `/\`) {
		return Scope{}, &models.ValidationError{Field: "namespace", Reason: "contains path traversal characters"}
	}

	segs := strings.Split(raw, ":")
	kind := Kind(segs[0])
	if !validKinds[kind] {
		return Scope{}, &models.ValidationError{Field: "namespace", Reason: "unknown scope kind: " + segs[0]}
	}

	if kind == KindGlobal {
		// global carries no name; any further segments are the sub-path.
		for _, s := range segs[1:] {
			if s == "" {
				return Scope{}, &models.ValidationError{Field: "namespace", Reason: "empty path segment"}
			}
		}
		return Scope{Kind: kind, Path: append([]string(nil), segs[1:]...)}, nil
	}

	if len(segs) < 2 || segs[1] == "" {
		return Scope{}, &models.ValidationError{Field: "namespace", Reason: string(kind) + " scope requires a name"}
	}
	for _, s := range segs[2:] {
		if s == "" {
			return Scope{}, &models.ValidationError{Field: "namespace", Reason: "empty path segment"}
		}
	}

	return Scope{Kind: kind, Name: segs[1], Path: append([]string(nil), segs[2:]...)}, nil
}

// MustParse is for tests and compile-time constants.
func MustParse(raw string) Scope {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the canonical form, suitable for storage.
func (s Scope) String() string {
	parts := []string{string(s.Kind)}
	if s.Kind != KindGlobal {
		parts = append(parts, s.Name)
	}
	parts = append(parts, s.Path...)
	return strings.Join(parts, ":")
}

// Contains reports whether candidate falls under this scope: same kind and
// name, with this scope's path a prefix of the candidate's. A query for
// project:myapp includes project:myapp:frontend but never project:otherapp.
func (s Scope) Contains(candidate Scope) bool {
	if s.Kind != candidate.Kind || s.Name != candidate.Name {
		return false
	}
	if len(s.Path) > len(candidate.Path) {
		return false
	}
	for i, seg := range s.Path {
		if candidate.Path[i] != seg {
			return false
		}
	}
	return true
}

// IsZero reports whether the scope is unset.
func (s Scope) IsZero() bool {
	return s.Kind == ""
}
