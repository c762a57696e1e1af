package core

import (
	"context"
	"fmt"
	"strings"

	"mellon/pkg/domain"
)

// TeamNameRule blocks teams whose name is missing, not a string, empty,
// longer than the limit, or contains a newline.
type TeamNameRule struct{}

// NewTeamNameRule constructs the name validation rule.
func NewTeamNameRule() TeamNameRule { return TeamNameRule{} }

// Name identifies the rule in violation reports.
func (TeamNameRule) Name() string { return "team_name" }

// Evaluate checks the candidate's name field.
func (r TeamNameRule) Evaluate(_ context.Context, candidate domain.CandidateTeam) (domain.Result, error) {
	name, ok := candidate.Name.(string)
	if !ok {
		return blocking(r.Name(), candidate.ID, "name must be a string"), nil
	}
	switch {
	case name == "":
		return blocking(r.Name(), candidate.ID, "name must not be empty"), nil
	case len(name) > domain.MaxTeamNameLength:
		return blocking(r.Name(), candidate.ID, fmt.Sprintf("name exceeds %d characters", domain.MaxTeamNameLength)), nil
	case strings.Contains(name, "\n"):
		return blocking(r.Name(), candidate.ID, "name must not contain a newline"), nil
	}
	return domain.Result{}, nil
}

// TeamDescriptionRule blocks teams whose description is missing, not a
// string, empty, or longer than the limit.
type TeamDescriptionRule struct{}

// NewTeamDescriptionRule constructs the description validation rule.
func NewTeamDescriptionRule() TeamDescriptionRule { return TeamDescriptionRule{} }

// Name identifies the rule in violation reports.
func (TeamDescriptionRule) Name() string { return "team_description" }

// Evaluate checks the candidate's description field.
func (r TeamDescriptionRule) Evaluate(_ context.Context, candidate domain.CandidateTeam) (domain.Result, error) {
	description, ok := candidate.Description.(string)
	if !ok {
		return blocking(r.Name(), candidate.ID, "description must be a string"), nil
	}
	switch {
	case description == "":
		return blocking(r.Name(), candidate.ID, "description must not be empty"), nil
	case len(description) > domain.MaxTeamDescriptionLength:
		return blocking(r.Name(), candidate.ID, fmt.Sprintf("description exceeds %d characters", domain.MaxTeamDescriptionLength)), nil
	}
	return domain.Result{}, nil
}

func blocking(rule, teamID, message string) domain.Result {
	return domain.Result{Violations: []domain.Violation{{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityTeam,
		EntityID: teamID,
	}}}
}

// NewDefaultRulesEngine returns a rules engine preloaded with the team
// document validation rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewTeamNameRule())
	engine.Register(NewTeamDescriptionRule())
	return engine
}
