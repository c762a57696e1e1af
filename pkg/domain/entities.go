// Package domain defines the persistent entities, change payloads, and
// validation primitives shared by the mellon reconciliation core.
package domain

import "time"

// EntityType identifies the type of record stored in the document store.
type EntityType string

// Supported entity type identifiers used in audit records and persistence buckets.
const (
	// EntityTeam identifies a team aggregate document.
	EntityTeam EntityType = "team"
	// EntityUser identifies a user (account) document.
	EntityUser EntityType = "user"
)

// Action indicates the type of modification performed on a document.
type Action string

// Change actions enumerate the write classifications produced by the trigger
// pipeline and captured in the audit trail.
const (
	// ActionCreate indicates a document was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a document was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine write acceptance and logging.
const (
	// SeverityBlock rejects the candidate write.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows the write.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Name and description bounds enforced on every non-delete team write.
const (
	MaxTeamNameLength        = 32
	MaxTeamDescriptionLength = 512
)

// Base contains common fields for all stored documents.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemberEntry is the per-member record embedded in a team's members map.
// Email is a cached copy of the member's account email and may be stale until
// the next reconciliation repairs it.
type MemberEntry struct {
	Email string `json:"email"`
	Admin bool   `json:"admin"`
}

// Team is the aggregate document written by external actors and reconciled by
// this core. Members maps member (account) identifiers to their entries.
type Team struct {
	Base
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Members     map[string]MemberEntry `json:"members"`
}

// TeamSummary is the denormalized copy of team data embedded in each member's
// user document. Admin is a pointer so that "never set" is distinguishable
// from false; the reconciler defaults it from the team-side entry on first
// write and preserves it afterwards.
type TeamSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Admin       *bool  `json:"admin,omitempty"`
}

// User is the per-account document. Teams maps team identifiers to the
// denormalized summaries maintained exclusively by the reconciler.
type User struct {
	Base
	Email string                 `json:"email"`
	Teams map[string]TeamSummary `json:"teams"`
}

// CandidateTeam carries the loosely-typed fields of a team write awaiting
// validation. Name and Description stay untyped until the validation gate has
// confirmed they are strings; trigger payloads are not trusted to be
// well-formed.
type CandidateTeam struct {
	ID          string
	Name        any
	Description any
	Members     map[string]MemberEntry
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

