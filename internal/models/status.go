// Package models defines core data structures for projects, chapters,
// paragraphs, and the correction review lifecycle.
package models

// CorrectionStatus tracks a paragraph through the correction review
// lifecycle. Values are stored and serialized as integers.
type CorrectionStatus int

const (
	StatusNotGenerated CorrectionStatus = iota // no correction exists yet
	StatusGenerated                            // correction produced, awaiting review
	StatusReviewed                             // manual edit saved, no final decision
	StatusAccepted                             // correction approved
	StatusNotRequired                          // approved without a correction
	StatusRejected                             // correction dismissed
)

// Valid reports whether s is a known lifecycle value.
func (s CorrectionStatus) Valid() bool {
	return s >= StatusNotGenerated && s <= StatusRejected
}

func (s CorrectionStatus) String() string {
	switch s {
	case StatusNotGenerated:
		return "notGenerated"
	case StatusGenerated:
		return "generated"
	case StatusReviewed:
		return "reviewed"
	case StatusAccepted:
		return "accepted"
	case StatusNotRequired:
		return "notRequired"
	case StatusRejected:
		return "rejected"
	}
	return "unknown"
}

// NeedsReview reports whether sequential review should stop at a paragraph
// in this status. Reviewed, accepted, notRequired, and rejected paragraphs
// are skipped.
func (s CorrectionStatus) NeedsReview() bool {
	return s == StatusNotGenerated || s == StatusGenerated
}

// Action is a review operation applied to a single paragraph.
type Action int

const (
	ActionSave Action = iota
	ActionGenerate
	ActionApprove
	ActionReject
	ActionClear
)

func (a Action) String() string {
	switch a {
	case ActionSave:
		return "save"
	case ActionGenerate:
		return "generate"
	case ActionApprove:
		return "approve"
	case ActionReject:
		return "reject"
	case ActionClear:
		return "clear"
	}
	return "unknown"
}

// Allowed reports whether an action is legal for a paragraph in the given
// status. The HTTP handlers and the review session both consult this table;
// the rules live nowhere else. All statuses may be revisited: generate acts
// as regenerate outside notGenerated, and clear resets any paragraph. Only
// approve and reject require that a correction pass has happened.
func Allowed(s CorrectionStatus, a Action) bool {
	if !s.Valid() {
		return false
	}
	switch a {
	case ActionSave, ActionGenerate, ActionClear:
		return true
	case ActionApprove, ActionReject:
		return s != StatusNotGenerated
	}
	return false
}
