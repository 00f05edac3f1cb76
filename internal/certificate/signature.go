// signature.go
//
// Certificate lifecycle and draft reconciliation engine for the ampline job-management platform
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of ampline-certsvc.
// ampline-certsvc is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// ampline-certsvc is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with ampline-certsvc.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package certificate

import "time"

// Signer roles. Each certificate carries both before it can complete.
const (
	RoleEngineer = "engineer"
	RoleClient   = "client"
)

// Signature capture methods for the structured representation.
const (
	MethodTyped = "typed"
	MethodDrawn = "drawn"
)

// Two consumers read signature data: the legacy PDF renderer reads the flat
// name/signatureText/signedAtISO triple, and the cross-application exchange
// format reads the structured object under "v2". This layer writes both in
// lock-step so neither can drift when a signature is captured.

// SignatureInput is the canonical capture of one signer.
type SignatureInput struct {
	SignedBy  string
	Method    string
	TypedName string
	ImageData string
}

// SignatureView is the display-preferred reading of a role's signature.
type SignatureView struct {
	SignedBy  string
	Method    string
	Rendering string
	SignedAt  string
}

// WriteSignature stores both representations for a role with a fresh
// timestamp. Calling it again re-signs: both representations are replaced
// together, never one without the other.
func WriteSignature(p Payload, role string, in SignatureInput, now time.Time) {
	stamp := now.UTC().Format(time.RFC3339)
	rendering := in.TypedName
	if rendering == "" {
		rendering = in.SignedBy
	}
	method := in.Method
	if method == "" {
		method = MethodTyped
	}

	base := "signatures." + role
	p.SetPath(base+".name", in.SignedBy)
	p.SetPath(base+".signatureText", rendering)
	p.SetPath(base+".signedAtISO", stamp)

	v2 := map[string]any{
		"schema":       CurrentDataVersion,
		"method":       method,
		"signedByName": in.SignedBy,
		"signedAtISO":  stamp,
	}
	if method == MethodDrawn && in.ImageData != "" {
		v2["imageData"] = in.ImageData
	} else {
		v2["typedName"] = rendering
	}
	p.SetPath(base+".v2", v2)
}

// IsSigned reports whether the role is signed: true when either the legacy
// or the structured representation carries a timestamp.
func IsSigned(p Payload, role string) bool {
	base := "signatures." + role
	return p.HasValue(base+".signedAtISO") || p.HasValue(base+".v2.signedAtISO")
}

// ReadSignature returns the display form, preferring the structured
// representation and falling back to the legacy triple. Returns false when
// the role is unsigned.
func ReadSignature(p Payload, role string) (SignatureView, bool) {
	if !IsSigned(p, role) {
		return SignatureView{}, false
	}
	base := "signatures." + role
	view := SignatureView{}

	if p.HasValue(base + ".v2.signedAtISO") {
		view.SignedAt, _ = p.GetPath(base + ".v2.signedAtISO").(string)
		view.SignedBy, _ = p.GetPath(base + ".v2.signedByName").(string)
		view.Method, _ = p.GetPath(base + ".v2.method").(string)
		if img, ok := p.GetPath(base + ".v2.imageData").(string); ok && img != "" {
			view.Rendering = img
		} else {
			view.Rendering, _ = p.GetPath(base + ".v2.typedName").(string)
		}
		if view.Rendering != "" {
			return view, true
		}
	}

	view.SignedAt, _ = p.GetPath(base + ".signedAtISO").(string)
	view.SignedBy, _ = p.GetPath(base + ".name").(string)
	view.Method = MethodTyped
	view.Rendering, _ = p.GetPath(base + ".signatureText").(string)
	return view, true
}

// MigrateSignatures lifts legacy-only signatures into the structured shape.
// Called when a document stored at dataVersion < 2 is loaded for editing.
// Returns true when the payload was changed.
func MigrateSignatures(p Payload) bool {
	changed := false
	for _, role := range []string{RoleEngineer, RoleClient} {
		base := "signatures." + role
		if !p.HasValue(base+".signedAtISO") || p.HasValue(base+".v2.signedAtISO") {
			continue
		}
		name, _ := p.GetPath(base + ".name").(string)
		text, _ := p.GetPath(base + ".signatureText").(string)
		stamp, _ := p.GetPath(base + ".signedAtISO").(string)
		if text == "" {
			text = name
		}
		p.SetPath(base+".v2", map[string]any{
			"schema":       CurrentDataVersion,
			"method":       MethodTyped,
			"typedName":    text,
			"signedByName": name,
			"signedAtISO":  stamp,
		})
		changed = true
	}
	return changed
}
