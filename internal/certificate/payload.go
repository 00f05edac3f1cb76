package certificate

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// Payload is a decoded certificate payload: nested JSON sections keyed by
// dotted paths (overview, installation, inspection, assessment,
// declarations, signatures).
type Payload map[string]any

// ParsePayload decodes a stored JSON payload column. A nil or empty column
// decodes to an empty payload.
func ParsePayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// Marshal encodes the payload for storage.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(map[string]any(p))
}

// Clone deep-copies the payload via a JSON round trip.
func (p Payload) Clone() Payload {
	raw, err := p.Marshal()
	if err != nil {
		return Payload{}
	}
	out, err := ParsePayload(raw)
	if err != nil {
		return Payload{}
	}
	return out
}

// GetPath returns the value at a dotted path, or nil if any segment is
// absent or not an object.
func (p Payload) GetPath(path string) any {
	segments := strings.Split(path, ".")
	var current any = map[string]any(p)
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return current
}

// SetPath writes a value at a dotted path, creating intermediate objects.
// A non-object intermediate value is replaced.
func (p Payload) SetPath(path string, value any) {
	segments := strings.Split(path, ".")
	current := map[string]any(p)
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[seg] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

// HasValue reports whether the path holds a populated value. Nil, empty
// strings and empty objects count as absent.
func (p Payload) HasValue(path string) bool {
	v := p.GetPath(path)
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// DiffPaths returns the sorted leaf paths whose values differ between two
// payloads, including paths present on only one side.
func DiffPaths(old, new Payload) []string {
	set := map[string]struct{}{}
	collectLeafDiffs("", map[string]any(old), map[string]any(new), set)
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func collectLeafDiffs(prefix string, old, new map[string]any, out map[string]struct{}) {
	keys := map[string]struct{}{}
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range new {
		keys[k] = struct{}{}
	}
	for k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		ov, oldHas := old[k]
		nv, newHas := new[k]
		om, oIsMap := ov.(map[string]any)
		nm, nIsMap := nv.(map[string]any)
		switch {
		case oIsMap && nIsMap:
			collectLeafDiffs(path, om, nm, out)
		case oldHas != newHas || !reflect.DeepEqual(ov, nv):
			out[path] = struct{}{}
		}
	}
}
