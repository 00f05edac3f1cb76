package certificate

import "strings"

// Readiness is the completion-precondition verdict for a draft document.
type Readiness struct {
	OK      bool     `json:"ok"`
	Missing []string `json:"missing,omitempty"`
}

// Evaluate computes whether a payload satisfies the completion
// preconditions of its kind. Pure function: the required-field list comes
// from the kind strategy table, and signature paths are checked through the
// compatibility layer so either representation satisfies the requirement.
// Filling a missing field can only move OK from false to true for an
// otherwise unchanged payload.
func Evaluate(kind KindSpec, p Payload) Readiness {
	var missing []string
	for _, path := range kind.RequiredFields {
		if isSignaturePath(path) {
			role := strings.TrimPrefix(path, "signatures.")
			if !IsSigned(p, role) {
				missing = append(missing, path)
			}
			continue
		}
		if !p.HasValue(path) {
			missing = append(missing, path)
		}
	}
	return Readiness{OK: len(missing) == 0, Missing: missing}
}

func isSignaturePath(path string) bool {
	return strings.HasPrefix(path, "signatures.")
}
