package core

import (
	"encoding/json"

	"mellon/pkg/domain"
)

// TeamEvent is the classified form of a raw team document change. Exactly one
// of the create/update/delete shapes holds: a create has no before document, a
// delete has no after document, and an update has both.
type TeamEvent struct {
	TeamID    string
	Action    domain.Action
	Before    domain.Team
	HasBefore bool
	Candidate domain.CandidateTeam
}

// IsCreate reports whether the event describes a document creation.
func (e TeamEvent) IsCreate() bool { return e.Action == domain.ActionCreate }

// IsDelete reports whether the event describes a document deletion.
func (e TeamEvent) IsDelete() bool { return e.Action == domain.ActionDelete }

// Classify derives the change action from the definedness of the before and
// after snapshots and decodes both sides. The after side decodes loosely into
// a candidate so that documents written with wrong field types still reach
// the validation gate instead of failing the pipeline.
func Classify(change domain.TeamChange) TeamEvent {
	event := TeamEvent{TeamID: change.TeamID}

	switch {
	case !change.After.Defined():
		// both-absent is not reachable from the trigger mechanism and
		// degrades to a no-op delete
		event.Action = domain.ActionDelete
	case !change.Before.Defined():
		event.Action = domain.ActionCreate
	default:
		event.Action = domain.ActionUpdate
	}

	if change.Before.Defined() {
		var before domain.Team
		if err := json.Unmarshal(change.Before.Raw(), &before); err == nil {
			event.Before = before
			event.HasBefore = true
		}
		event.Before.ID = change.TeamID
	}

	if change.After.Defined() {
		event.Candidate = decodeCandidate(change.TeamID, change.After.Raw())
	}
	event.Candidate.ID = change.TeamID

	return event
}

// decodeCandidate extracts the validated fields without committing to their
// types. A document whose name or description is not a string must fail the
// gate, not the decoder.
func decodeCandidate(teamID string, raw json.RawMessage) domain.CandidateTeam {
	candidate := domain.CandidateTeam{ID: teamID}
	var loose struct {
		Name        any                           `json:"name"`
		Description any                           `json:"description"`
		Members     map[string]domain.MemberEntry `json:"members"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return candidate
	}
	candidate.Name = loose.Name
	candidate.Description = loose.Description
	candidate.Members = loose.Members
	return candidate
}
