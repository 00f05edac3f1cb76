// Package certificate holds the pure domain logic of the compliance
// certificate engine: the per-kind strategy table, payload path helpers,
// the dual-representation signature layer, readiness evaluation and field
// provenance. Everything here operates on decoded JSON payloads and has no
// knowledge of the database or transport.
package certificate

// Document lifecycle statuses. Monotonic forward; void is reachable from
// draft or completed and is terminal.
const (
	StatusDraft     = "draft"
	StatusCompleted = "completed"
	StatusIssued    = "issued"
	StatusVoid      = "void"
)

// CurrentDataVersion is the payload schema revision written by this
// service. Version 1 payloads carry only the legacy signature triple;
// version 2 adds the structured signature alongside it.
const CurrentDataVersion = 2

// ReviewPolicy values for KindSpec.
const (
	ReviewNone     = "none"
	ReviewRequired = "required"
)

// KindSpec describes one certificate kind: which payload paths must be
// populated before completion, whether completion is gated on human review,
// and which extra payload sections the kind carries.
type KindSpec struct {
	Tag            string
	Name           string
	NumberPrefix   string
	RequiredFields []string
	ReviewPolicy   string
	ExtraSections  []string
}

// ReviewRequired reports whether completion of this kind is gated on an
// approved review.
func (k KindSpec) RequiresReview() bool {
	return k.ReviewPolicy == ReviewRequired
}

// Kinds is the closed set of certificate kinds. New kinds are added here;
// the evaluator and review gate never branch on kind tags directly.
var Kinds = map[string]KindSpec{
	"EIC": {
		Tag:          "EIC",
		Name:         "Electrical Installation Certificate",
		NumberPrefix: "EIC",
		RequiredFields: []string{
			"overview.jobReference",
			"overview.description",
			"installation.address",
			"declarations.extentOfWork",
			"signatures.engineer",
			"signatures.client",
		},
		ReviewPolicy: ReviewNone,
	},
	"EICR": {
		Tag:          "EICR",
		Name:         "Electrical Installation Condition Report",
		NumberPrefix: "EICR",
		RequiredFields: []string{
			"overview.jobReference",
			"overview.description",
			"installation.address",
			"assessment.overallCondition",
			"assessment.nextInspectionDue",
			"signatures.engineer",
			"signatures.client",
		},
		ReviewPolicy:  ReviewRequired,
		ExtraSections: []string{"assessment"},
	},
	"MWC": {
		Tag:          "MWC",
		Name:         "Minor Electrical Installation Works Certificate",
		NumberPrefix: "MWC",
		RequiredFields: []string{
			"overview.description",
			"installation.address",
			"declarations.extentOfWork",
			"signatures.engineer",
			"signatures.client",
		},
		ReviewPolicy: ReviewNone,
	},
}

// KindOf looks up the strategy for a kind tag.
func KindOf(tag string) (KindSpec, bool) {
	k, ok := Kinds[tag]
	return k, ok
}

// Editable reports whether the normal field-edit path may write to a
// document in the given status. Issued and void documents are immutable.
func Editable(status string) bool {
	return status == StatusDraft
}

// Voidable reports whether void is a legal transition from the given
// status. Voiding an issued certificate is not permitted; amend and
// reissue are the sanctioned paths for issued documents.
func Voidable(status string) bool {
	return status == StatusDraft || status == StatusCompleted
}
