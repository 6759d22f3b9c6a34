package models

// State classifies the outcome of one match request.
type State string

const (
	// StateNoMatch means no candidate was found.
	StateNoMatch State = "no_match"
	// StateSingleExactMatch means exactly one candidate with confidence >= 90.
	StateSingleExactMatch State = "single_exact_match"
	// StateSingleFuzzyMatch means the submission was queued pending resolution.
	StateSingleFuzzyMatch State = "single_fuzzy_match"
	// StateMultipleMatch means candidates are returned for disambiguation.
	StateMultipleMatch State = "multiple_match"
	// StateConflictDetected means an ambiguous match includes a candidate that
	// already carries this (sor, sorid) pair.
	StateConflictDetected State = "conflict_detected"
	// StateAlreadyOnFile means a row already exists for (sor, sorid) and the
	// submission was applied as an attribute update.
	StateAlreadyOnFile State = "already_on_file"
)

// ExactMatchThreshold is the confidence at or above which a single candidate
// is treated as an exact match.
const ExactMatchThreshold = 90

// Result is the outcome of one match or search request.
type Result struct {
	State State `json:"-"`

	// Status is the HTTP-equivalent classification of the outcome.
	Status int `json:"-"`

	ReferenceID string `json:"referenceId,omitempty"`

	// Candidates is populated for multiple-match outcomes.
	Candidates []Candidate `json:"candidates,omitempty"`

	// MatchRequest is the opaque handle of a submission queued pending
	// resolution.
	MatchRequest int64 `json:"matchRequest,omitempty"`
}
