package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mellon/internal/blob"
	"mellon/internal/core"
	"mellon/internal/infra/persistence/memory"
	"mellon/internal/infra/trigger"
	"mellon/pkg/domain"
)

// pipeline wires store, dispatcher, and service the way the daemon does,
// with asynchronous delivery.
type pipeline struct {
	store      *memory.Store
	svc        *core.Service
	dispatcher *trigger.Dispatcher
	archive    *core.Archive
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	store := memory.NewStore()
	archive, err := core.NewArchive(blob.NewMemory())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	svc, err := core.NewService(store, core.WithArchive(archive))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	dispatcher := trigger.NewDispatcher(svc.HandleTeamChange)
	dispatcher.Attach(store)
	t.Cleanup(dispatcher.Close)
	return &pipeline{store: store, svc: svc, dispatcher: dispatcher, archive: archive}
}

// settle waits for the dispatcher to run out of work. Follow-up deliveries
// from aggregate rewrites are enqueued while their parent delivery is still
// in flight, so one drain covers the whole cascade.
func (p *pipeline) settle(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		p.dispatcher.Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline did not settle")
	}
}

func TestEndToEndLifecycle(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("u%d", i)
		if _, err := p.svc.OnAccountCreated(ctx, id, id+"@example.com"); err != nil {
			t.Fatalf("account %s: %v", id, err)
		}
	}

	writeTeam := func(members map[string]domain.MemberEntry) {
		t.Helper()
		err := p.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.PutTeam(domain.Team{
				Base:        domain.Base{ID: "t1"},
				Name:        "Alpha",
				Description: "integration team",
				Members:     members,
			})
		})
		if err != nil {
			t.Fatalf("write team: %v", err)
		}
		p.settle(t)
	}

	// create with two members, one of them with a stale email
	writeTeam(map[string]domain.MemberEntry{
		"u1": {Email: "u1@example.com", Admin: true},
		"u2": {Email: "stale@example.com"},
	})

	team, ok := p.store.GetTeam("t1")
	if !ok {
		t.Fatalf("team missing after create")
	}
	if got := team.Members["u2"].Email; got != "u2@example.com" {
		t.Fatalf("email not repaired: %q", got)
	}
	for _, id := range []string{"u1", "u2"} {
		user, _ := p.store.GetUser(id)
		if summary, ok := user.Teams["t1"]; !ok || summary.Name != "Alpha" {
			t.Fatalf("user %s summary = %+v", id, user.Teams)
		}
	}

	// swap u2 for u3
	writeTeam(map[string]domain.MemberEntry{
		"u1": {Email: "u1@example.com", Admin: true},
		"u3": {Email: "u3@example.com"},
	})

	u2, _ := p.store.GetUser("u2")
	if _, ok := u2.Teams["t1"]; ok {
		t.Fatalf("u2 kept its summary after removal")
	}
	u3, _ := p.store.GetUser("u3")
	if _, ok := u3.Teams["t1"]; !ok {
		t.Fatalf("u3 not denormalized")
	}

	// delete the team
	if err := p.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteTeam("t1")
	}); err != nil {
		t.Fatalf("delete team: %v", err)
	}
	p.settle(t)

	if _, ok := p.store.GetTeam("t1"); ok {
		t.Fatalf("team survived delete")
	}
	for _, id := range []string{"u1", "u3"} {
		user, _ := p.store.GetUser(id)
		if _, ok := user.Teams["t1"]; ok {
			t.Fatalf("user %s kept summary after team delete", id)
		}
	}

	// every reconciliation pass left an archive record
	infos, err := p.archive.History(ctx, "t1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(infos) == 0 {
		t.Fatalf("no archived outcomes")
	}
}

func TestInvalidWriteRemediatedAsync(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	err := p.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.PutTeam(domain.Team{Base: domain.Base{ID: "bad"}, Name: "ok", Description: ""})
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	p.settle(t)

	if _, ok := p.store.GetTeam("bad"); ok {
		t.Fatalf("invalid create not deleted")
	}
}
