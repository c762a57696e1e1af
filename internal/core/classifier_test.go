package core_test

import (
	"testing"

	"mellon/internal/core"
	"mellon/pkg/domain"
)

func TestClassifyCreate(t *testing.T) {
	change := domain.TeamChange{
		TeamID: "team-1",
		Before: domain.UndefinedChangePayload(),
		After:  domain.NewChangePayload([]byte(`{"name":"Alpha","description":"first","members":{"u1":{"email":"a@example.com","admin":true}}}`)),
	}
	event := core.Classify(change)
	if !event.IsCreate() || event.IsDelete() {
		t.Fatalf("expected create, got action %q", event.Action)
	}
	if event.HasBefore {
		t.Fatalf("create must not carry a before document")
	}
	if event.Candidate.ID != "team-1" {
		t.Fatalf("candidate id = %q", event.Candidate.ID)
	}
	if name, _ := event.Candidate.Name.(string); name != "Alpha" {
		t.Fatalf("candidate name = %v", event.Candidate.Name)
	}
	entry, ok := event.Candidate.Members["u1"]
	if !ok || entry.Email != "a@example.com" || !entry.Admin {
		t.Fatalf("unexpected member entry %+v", entry)
	}
}

func TestClassifyUpdate(t *testing.T) {
	change := domain.TeamChange{
		TeamID: "team-1",
		Before: domain.NewChangePayload([]byte(`{"name":"Alpha","description":"first","members":{}}`)),
		After:  domain.NewChangePayload([]byte(`{"name":"Beta","description":"second","members":{}}`)),
	}
	event := core.Classify(change)
	if event.Action != domain.ActionUpdate {
		t.Fatalf("expected update, got %q", event.Action)
	}
	if !event.HasBefore {
		t.Fatalf("update must decode the before document")
	}
	if event.Before.Name != "Alpha" || event.Before.ID != "team-1" {
		t.Fatalf("unexpected before %+v", event.Before)
	}
}

func TestClassifyDelete(t *testing.T) {
	change := domain.TeamChange{
		TeamID: "team-1",
		Before: domain.NewChangePayload([]byte(`{"name":"Alpha","description":"first","members":{"u1":{"email":"a@example.com"}}}`)),
		After:  domain.UndefinedChangePayload(),
	}
	event := core.Classify(change)
	if !event.IsDelete() {
		t.Fatalf("expected delete, got %q", event.Action)
	}
	if len(event.Before.Members) != 1 {
		t.Fatalf("before members = %+v", event.Before.Members)
	}
}

func TestClassifyBothAbsentIsNoopDelete(t *testing.T) {
	event := core.Classify(domain.TeamChange{TeamID: "team-1"})
	if !event.IsDelete() {
		t.Fatalf("both-absent pair must classify as delete, got %q", event.Action)
	}
	if event.HasBefore || len(event.Before.Members) != 0 {
		t.Fatalf("no-op delete must carry no members")
	}
}

func TestClassifyKeepsWrongTypesForTheGate(t *testing.T) {
	change := domain.TeamChange{
		TeamID: "team-1",
		Before: domain.UndefinedChangePayload(),
		After:  domain.NewChangePayload([]byte(`{"name":42,"description":null,"members":{}}`)),
	}
	event := core.Classify(change)
	if _, ok := event.Candidate.Name.(string); ok {
		t.Fatalf("numeric name must not decode as string")
	}
	if event.Candidate.Description != nil {
		t.Fatalf("null description should stay nil, got %v", event.Candidate.Description)
	}
}

func TestClassifyUndecodableAfterStillCarriesTeamID(t *testing.T) {
	change := domain.TeamChange{
		TeamID: "team-1",
		Before: domain.UndefinedChangePayload(),
		After:  domain.NewChangePayload([]byte(`{broken`)),
	}
	event := core.Classify(change)
	if event.Candidate.ID != "team-1" {
		t.Fatalf("candidate id = %q", event.Candidate.ID)
	}
	if event.Candidate.Name != nil {
		t.Fatalf("broken payload must yield no name")
	}
}
