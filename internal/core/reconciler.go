package core

import (
	"context"

	"mellon/pkg/domain"
)

// ReconcileOutcome summarizes what one reconciliation pass did to the store.
type ReconcileOutcome struct {
	TeamID    string
	Action    domain.Action
	Modified  bool
	Rewritten bool
	Updated   []string
	Removed   []string
	Pruned    []string
	Repaired  []string
	Deferred  []string
}

// reconcile applies one classified team event inside a single store
// transaction. All member reads happen before any write, matching the
// read-then-write discipline of the underlying transactional model. The
// transaction body may re-execute on conflict, so every mutable structure is
// rebuilt from the event on each attempt.
func (s *Service) reconcile(ctx context.Context, event TeamEvent) (ReconcileOutcome, error) {
	var outcome ReconcileOutcome

	err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		teamName := ""
		teamDescription := ""
		if !event.IsDelete() {
			teamName, _ = event.Candidate.Name.(string)
			teamDescription, _ = event.Candidate.Description.(string)
		}

		current := event.Candidate.Members
		if event.IsDelete() {
			current = nil
		}
		previous := event.Before.Members
		if event.IsCreate() {
			previous = nil
		}

		diff := DiffMembership(previous, current, s.memberCap)

		modified := diff.Modified
		if event.IsCreate() {
			modified = true
		}
		if !event.IsDelete() && event.HasBefore {
			if teamName != event.Before.Name || teamDescription != event.Before.Description {
				modified = true
			}
		}

		attempt := ReconcileOutcome{
			TeamID:   event.TeamID,
			Action:   event.Action,
			Deferred: diff.Deferred,
		}

		fetched := make(map[string]fetchedUser, len(diff.FetchIDs))
		for _, id := range diff.FetchIDs {
			user, ok, err := tx.GetUser(id)
			if err != nil {
				return err
			}
			fetched[id] = fetchedUser{user: user, exists: ok}
		}
		removedDocs := make(map[string]bool, len(diff.Removed))
		for _, id := range diff.Removed {
			_, ok, err := tx.GetUser(id)
			if err != nil {
				return err
			}
			removedDocs[id] = ok
		}

		for _, id := range diff.Removed {
			if !removedDocs[id] {
				continue
			}
			if err := tx.RemoveUserTeam(id, event.TeamID); err != nil {
				return err
			}
			attempt.Removed = append(attempt.Removed, id)
		}

		for _, id := range diff.FetchIDs {
			record := fetched[id]
			if !record.exists {
				delete(diff.Current, id)
				modified = true
				attempt.Pruned = append(attempt.Pruned, id)
				continue
			}

			entry := diff.Current[id]
			summary := domain.TeamSummary{Name: teamName, Description: teamDescription}
			if existing, ok := record.user.Teams[event.TeamID]; ok && existing.Admin != nil {
				summary.Admin = existing.Admin
			} else {
				admin := entry.Admin
				summary.Admin = &admin
			}
			if err := tx.SetUserTeam(id, event.TeamID, summary); err != nil {
				return err
			}
			attempt.Updated = append(attempt.Updated, id)

			if entry.Email != record.user.Email {
				entry.Email = record.user.Email
				diff.Current[id] = entry
				modified = true
				attempt.Repaired = append(attempt.Repaired, id)
			}
		}

		attempt.Modified = modified

		if !event.IsDelete() && modified {
			rewritten := domain.Team{
				Base:        domain.Base{ID: event.TeamID},
				Name:        teamName,
				Description: teamDescription,
				Members:     diff.Current,
			}
			// The doc currently persisted is the after snapshot that
			// triggered this pass. Rewriting an identical doc would
			// re-trigger the pipeline forever on teams that stay above the
			// member cap, so the write only happens when reconciliation
			// actually changed the aggregate.
			persisted := domain.Team{
				Base:        domain.Base{ID: event.TeamID},
				Name:        teamName,
				Description: teamDescription,
				Members:     event.Candidate.Members,
			}
			if !sameAggregate(persisted, rewritten) {
				if err := tx.PutTeam(rewritten); err != nil {
					return err
				}
				attempt.Rewritten = true
			}
		}

		outcome = attempt
		return nil
	})
	if err != nil {
		return ReconcileOutcome{}, err
	}
	return outcome, nil
}

type fetchedUser struct {
	user   domain.User
	exists bool
}

// sameAggregate reports whether two team documents carry the same name,
// description, and membership.
func sameAggregate(a, b domain.Team) bool {
	if a.Name != b.Name || a.Description != b.Description {
		return false
	}
	if len(a.Members) != len(b.Members) {
		return false
	}
	for id, entry := range a.Members {
		if other, ok := b.Members[id]; !ok || other != entry {
			return false
		}
	}
	return true
}
