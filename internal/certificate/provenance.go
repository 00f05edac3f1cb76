package certificate

import "encoding/json"

// Field provenance sources. Anything other than manual came from an
// upstream record at document-creation time.
const (
	SourceManual = "manual"
	SourceJob    = "job"
	SourceClient = "client"
	SourceQuote  = "quote"
	SourceSite   = "site"
)

// ProvenanceEntry records where a field value came from and whether it is
// locked against manual edits. Entries are created once at prefill time and
// mutated only by an explicit unlock; a field is never auto-relocked.
type ProvenanceEntry struct {
	Source string `json:"source"`
	Locked bool   `json:"locked"`
}

// ProvenanceMap maps dotted payload paths to their provenance.
type ProvenanceMap map[string]ProvenanceEntry

// ParseProvenance decodes the stored provenance column.
func ParseProvenance(raw []byte) (ProvenanceMap, error) {
	if len(raw) == 0 {
		return ProvenanceMap{}, nil
	}
	var m ProvenanceMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = ProvenanceMap{}
	}
	return m, nil
}

// Marshal encodes the provenance map for storage.
func (m ProvenanceMap) Marshal() ([]byte, error) {
	return json.Marshal(map[string]ProvenanceEntry(m))
}

// RecordPrefill registers a field copied from an upstream record.
func (m ProvenanceMap) RecordPrefill(path, source string, locked bool) {
	m[path] = ProvenanceEntry{Source: source, Locked: locked}
}

// IsLocked reports whether a manual edit to the path must be rejected:
// true only for locked fields whose value did not originate manually.
func (m ProvenanceMap) IsLocked(path string) bool {
	entry, ok := m[path]
	return ok && entry.Locked && entry.Source != SourceManual
}

// Unlock releases a locked field for manual editing. No-op for unknown
// paths.
func (m ProvenanceMap) Unlock(path string) {
	entry, ok := m[path]
	if !ok {
		return
	}
	entry.Locked = false
	m[path] = entry
}

// LockedPaths returns every path currently rejecting manual edits.
func (m ProvenanceMap) LockedPaths() []string {
	var paths []string
	for path := range m {
		if m.IsLocked(path) {
			paths = append(paths, path)
		}
	}
	return paths
}

// LabelFor maps a source tag to its display label.
func LabelFor(source string) string {
	switch source {
	case SourceManual:
		return "Entered manually"
	case SourceJob:
		return "From job record"
	case SourceClient:
		return "From client record"
	case SourceQuote:
		return "From accepted quote"
	case SourceSite:
		return "From site record"
	}
	return "Unknown source"
}
