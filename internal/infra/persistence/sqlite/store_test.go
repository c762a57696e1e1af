package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"mellon/pkg/domain"
)

func TestStatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.PutTeam(domain.Team{
			Base:        domain.Base{ID: "t1"},
			Name:        "Alpha",
			Description: "first",
			Members:     map[string]domain.MemberEntry{"u1": {Email: "a@example.com", Admin: true}},
		}); err != nil {
			return err
		}
		_, err := tx.CreateUser(domain.User{Base: domain.Base{ID: "u1"}, Email: "a@example.com"})
		return err
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	team, ok := reopened.GetTeam("t1")
	if !ok || team.Name != "Alpha" || !team.Members["u1"].Admin {
		t.Fatalf("team after reopen = %+v, %v", team, ok)
	}
	user, ok := reopened.GetUser("u1")
	if !ok || user.Email != "a@example.com" {
		t.Fatalf("user after reopen = %+v, %v", user, ok)
	}
}

func TestDeletesAreSnapshotted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.PutTeam(domain.Team{Base: domain.Base{ID: "t1"}, Name: "Alpha"})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteTeam("t1")
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if _, ok := reopened.GetTeam("t1"); ok {
		t.Fatalf("deleted team survived a reopen")
	}
}

func TestNestedDirectoriesCreated(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "dir", "state.db"))
	if err != nil {
		t.Fatalf("open with nested dirs: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Path() == "" {
		t.Fatalf("path must be reported")
	}
}

func TestTeamWriteHookStillFires(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()

	fired := 0
	store.OnTeamWrite(func(domain.TeamChange) { fired++ })
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.PutTeam(domain.Team{Base: domain.Base{ID: "t1"}, Name: "Alpha"})
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if fired != 1 {
		t.Fatalf("hook fired %d times", fired)
	}
}
