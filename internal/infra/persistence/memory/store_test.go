package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"mellon/pkg/domain"
)

func TestPutAndGetTeam(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.PutTeam(domain.Team{
			Base:        domain.Base{ID: "t1"},
			Name:        "Alpha",
			Description: "first",
			Members:     map[string]domain.MemberEntry{"u1": {Email: "a@example.com"}},
		})
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	team, ok := store.GetTeam("t1")
	if !ok || team.Name != "Alpha" {
		t.Fatalf("get = %+v, %v", team, ok)
	}
	if team.CreatedAt.IsZero() || team.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not stamped: %+v", team.Base)
	}
}

func TestReadAfterWriteRejected(t *testing.T) {
	store := NewStore()
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if err := tx.DeleteTeam("t1"); err != nil {
			return err
		}
		_, _, err := tx.GetTeam("t1")
		return err
	})
	if !errors.Is(err, domain.ErrReadAfterWrite) {
		t.Fatalf("err = %v", err)
	}
}

func TestConflictRetriesAndCommits(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateUser(domain.User{Base: domain.Base{ID: "u1"}, Email: "old@example.com"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	attempts := 0
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		attempts++
		if _, _, err := tx.GetUser("u1"); err != nil {
			return err
		}
		if attempts == 1 {
			// concurrent writer invalidates the read set before commit
			if err := store.RunInTransaction(ctx, func(inner domain.Transaction) error {
				return inner.SetUserTeam("u1", "t9", domain.TeamSummary{Name: "Nine"})
			}); err != nil {
				return err
			}
		}
		return tx.SetUserTeam("u1", "t1", domain.TeamSummary{Name: "Alpha"})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want a retry", attempts)
	}
	user, _ := store.GetUser("u1")
	if _, ok := user.Teams["t1"]; !ok {
		t.Fatalf("retried write lost: %+v", user.Teams)
	}
	if _, ok := user.Teams["t9"]; !ok {
		t.Fatalf("concurrent write lost: %+v", user.Teams)
	}
}

func TestConflictBudgetExhausted(t *testing.T) {
	store := NewStore(WithMaxAttempts(2))
	ctx := context.Background()
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateUser(domain.User{Base: domain.Base{ID: "u1"}})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, _, err := tx.GetUser("u1"); err != nil {
			return err
		}
		// every attempt races with another committed write
		if err := store.RunInTransaction(ctx, func(inner domain.Transaction) error {
			return inner.SetUserTeam("u1", "tx", domain.TeamSummary{})
		}); err != nil {
			return err
		}
		return tx.DeleteUser("u1")
	})
	if !errors.Is(err, domain.ErrTransactionConflict) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateUserFailsWhenPresent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seed := func() error {
		return store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, err := tx.CreateUser(domain.User{Base: domain.Base{ID: "u1"}})
			return err
		})
	}
	if err := seed(); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := seed(); err == nil {
		t.Fatalf("second create must fail")
	}
}

func TestSetUserTeamCreatesAbsentDocument(t *testing.T) {
	store := NewStore()
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		admin := true
		return tx.SetUserTeam("ghost", "t1", domain.TeamSummary{Name: "Alpha", Admin: &admin})
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	user, ok := store.GetUser("ghost")
	if !ok {
		t.Fatalf("merge write must create the document")
	}
	summary := user.Teams["t1"]
	if summary.Name != "Alpha" || summary.Admin == nil || !*summary.Admin {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRemoveUserTeam(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.SetUserTeam("u1", "t1", domain.TeamSummary{Name: "Alpha"}); err != nil {
			return err
		}
		return tx.SetUserTeam("u1", "t2", domain.TeamSummary{Name: "Beta"})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.RemoveUserTeam("u1", "t1")
	}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	user, _ := store.GetUser("u1")
	if _, ok := user.Teams["t1"]; ok {
		t.Fatalf("t1 entry not removed")
	}
	if _, ok := user.Teams["t2"]; !ok {
		t.Fatalf("t2 entry lost")
	}
	// removing from an absent document is a no-op
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.RemoveUserTeam("nobody", "t1")
	}); err != nil {
		t.Fatalf("no-op remove: %v", err)
	}
	if _, ok := store.GetUser("nobody"); ok {
		t.Fatalf("no-op remove must not create a document")
	}
}

func TestTeamWriteHookReceivesBeforeAndAfter(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	var changes []domain.TeamChange
	store.OnTeamWrite(func(change domain.TeamChange) {
		changes = append(changes, change)
	})

	put := func(name string) {
		t.Helper()
		if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.PutTeam(domain.Team{Base: domain.Base{ID: "t1"}, Name: name})
		}); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}
	put("Alpha")
	put("Beta")
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteTeam("t1")
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// deleting an absent document fires no event
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteTeam("t1")
	}); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	if len(changes) != 3 {
		t.Fatalf("events = %d", len(changes))
	}
	if changes[0].Before.Defined() || !changes[0].After.Defined() {
		t.Fatalf("create event = %+v", changes[0])
	}
	if !changes[1].Before.Defined() || !changes[1].After.Defined() {
		t.Fatalf("update event = %+v", changes[1])
	}
	if !changes[2].Before.Defined() || changes[2].After.Defined() {
		t.Fatalf("delete event = %+v", changes[2])
	}
	var before domain.Team
	if err := json.Unmarshal(changes[1].Before.Raw(), &before); err != nil {
		t.Fatalf("decode before: %v", err)
	}
	if before.Name != "Alpha" {
		t.Fatalf("before snapshot = %+v", before)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(WithNowFunc(func() time.Time { return now }))
	ctx := context.Background()
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.PutTeam(domain.Team{Base: domain.Base{ID: "t1"}, Name: "Alpha"}); err != nil {
			return err
		}
		_, err := tx.CreateUser(domain.User{Base: domain.Base{ID: "u1"}, Email: "a@example.com"})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snapshot := store.ExportState()
	restored := NewStore()
	restored.ImportState(snapshot)

	team, ok := restored.GetTeam("t1")
	if !ok || team.Name != "Alpha" || !team.CreatedAt.Equal(now) {
		t.Fatalf("restored team = %+v, %v", team, ok)
	}
	if _, ok := restored.GetUser("u1"); !ok {
		t.Fatalf("restored user missing")
	}
}

func TestViewListsAreSorted(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, id := range []string{"b", "a", "c"} {
			if err := tx.PutTeam(domain.Team{Base: domain.Base{ID: id}, Name: id}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := store.View(ctx, func(view domain.TransactionView) error {
		teams := view.ListTeams()
		if len(teams) != 3 || teams[0].ID != "a" || teams[2].ID != "c" {
			t.Fatalf("teams = %+v", teams)
		}
		if _, ok := view.FindTeam("b"); !ok {
			t.Fatalf("find miss")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
