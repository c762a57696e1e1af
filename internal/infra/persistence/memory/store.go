// Package memory provides the in-memory document store implementation used
// for tests and as the transactional engine embedded by the durable drivers.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mellon/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultMaxAttempts = 5

type versioned[T any] struct {
	doc     T
	version uint64
}

type state struct {
	teams map[string]versioned[domain.Team]
	users map[string]versioned[domain.User]
}

func newState() state {
	return state{
		teams: make(map[string]versioned[domain.Team]),
		users: make(map[string]versioned[domain.User]),
	}
}

func (s state) clone() state {
	cloned := newState()
	for k, v := range s.teams {
		cloned.teams[k] = versioned[domain.Team]{doc: CloneTeam(v.doc), version: v.version}
	}
	for k, v := range s.users {
		cloned.users[k] = versioned[domain.User]{doc: CloneUser(v.doc), version: v.version}
	}
	return cloned
}

// CloneTeam deep-copies a team document, including its members map.
func CloneTeam(t domain.Team) domain.Team {
	cp := t
	if t.Members != nil {
		cp.Members = make(map[string]domain.MemberEntry, len(t.Members))
		for k, v := range t.Members {
			cp.Members[k] = v
		}
	}
	return cp
}

// CloneUser deep-copies a user document, including its teams map and the
// admin pointers inside each summary.
func CloneUser(u domain.User) domain.User {
	cp := u
	if u.Teams != nil {
		cp.Teams = make(map[string]domain.TeamSummary, len(u.Teams))
		for k, v := range u.Teams {
			cp.Teams[k] = cloneSummary(v)
		}
	}
	return cp
}

func cloneSummary(s domain.TeamSummary) domain.TeamSummary {
	cp := s
	if s.Admin != nil {
		admin := *s.Admin
		cp.Admin = &admin
	}
	return cp
}

// Snapshot captures a point-in-time clone of the store state for durable
// persistence. Document versions are not part of the snapshot; they only
// order commits within one process.
type Snapshot struct {
	Teams map[string]domain.Team `json:"teams"`
	Users map[string]domain.User `json:"users"`
}

// Store is an in-memory document store with per-document versions and
// optimistic-concurrency transactions. A transaction body runs against a
// cloned snapshot; at commit the versions of every document it read are
// re-validated and the body is re-executed on mismatch.
type Store struct {
	mu          sync.RWMutex
	state       state
	nowFn       func() time.Time
	maxAttempts int

	hookMu        sync.RWMutex
	teamWriteHook func(domain.TeamChange)
}

// Option configures a Store.
type Option func(*Store)

// WithNowFunc overrides the store's time source.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// WithMaxAttempts bounds how often a conflicting transaction is re-executed
// before RunInTransaction gives up with ErrTransactionConflict.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state:       newState(),
		nowFn:       func() time.Time { return time.Now().UTC() },
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnTeamWrite registers the change-trigger hook invoked once per committed
// team document write, after the owning transaction has released the store
// lock. The hook receives the before/after snapshots of the document.
func (s *Store) OnTeamWrite(fn func(domain.TeamChange)) {
	s.hookMu.Lock()
	s.teamWriteHook = fn
	s.hookMu.Unlock()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Teams: make(map[string]domain.Team, len(s.state.teams)),
		Users: make(map[string]domain.User, len(s.state.users)),
	}
	for k, v := range s.state.teams {
		snap.Teams[k] = CloneTeam(v.doc)
	}
	for k, v := range s.state.users {
		snap.Users[k] = CloneUser(v.doc)
	}
	return snap
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newState()
	for k, v := range snap.Teams {
		st.teams[k] = versioned[domain.Team]{doc: CloneTeam(v), version: 1}
	}
	for k, v := range snap.Users {
		st.users[k] = versioned[domain.User]{doc: CloneUser(v), version: 1}
	}
	s.state = st
}

type readKey struct {
	entity domain.EntityType
	id     string
}

type teamWrite struct {
	id  string
	doc *domain.Team // nil means delete
}

type userWriteKind int

const (
	userWriteCreate userWriteKind = iota
	userWriteDelete
	userWriteMergeSummary
	userWriteRemoveSummary
)

type userWrite struct {
	kind    userWriteKind
	id      string
	doc     domain.User
	teamID  string
	summary domain.TeamSummary
}

type transaction struct {
	base       state
	now        time.Time
	reads      map[readKey]uint64
	wrote      bool
	teamWrites []teamWrite
	userWrites []userWrite
}

func (tx *transaction) recordRead(entity domain.EntityType, id string, version uint64) {
	tx.reads[readKey{entity: entity, id: id}] = version
}

// GetTeam reads a team document from the transaction snapshot.
func (tx *transaction) GetTeam(id string) (domain.Team, bool, error) {
	if tx.wrote {
		return domain.Team{}, false, domain.ErrReadAfterWrite
	}
	v, ok := tx.base.teams[id]
	tx.recordRead(domain.EntityTeam, id, v.version)
	if !ok {
		return domain.Team{}, false, nil
	}
	return CloneTeam(v.doc), true, nil
}

// GetUser reads a user document from the transaction snapshot.
func (tx *transaction) GetUser(id string) (domain.User, bool, error) {
	if tx.wrote {
		return domain.User{}, false, domain.ErrReadAfterWrite
	}
	v, ok := tx.base.users[id]
	tx.recordRead(domain.EntityUser, id, v.version)
	if !ok {
		return domain.User{}, false, nil
	}
	return CloneUser(v.doc), true, nil
}

// PutTeam overwrites the team document's name, description, and members.
func (tx *transaction) PutTeam(team domain.Team) error {
	if team.ID == "" {
		return fmt.Errorf("team id required")
	}
	tx.wrote = true
	doc := CloneTeam(team)
	tx.teamWrites = append(tx.teamWrites, teamWrite{id: team.ID, doc: &doc})
	return nil
}

// DeleteTeam removes a team document; absent documents are a no-op.
func (tx *transaction) DeleteTeam(id string) error {
	if id == "" {
		return fmt.Errorf("team id required")
	}
	tx.wrote = true
	tx.teamWrites = append(tx.teamWrites, teamWrite{id: id})
	return nil
}

// CreateUser stores a new user document.
func (tx *transaction) CreateUser(user domain.User) (domain.User, error) {
	if user.ID == "" {
		return domain.User{}, fmt.Errorf("user id required")
	}
	v, exists := tx.base.users[user.ID]
	tx.recordRead(domain.EntityUser, user.ID, v.version)
	if exists {
		return domain.User{}, fmt.Errorf("user %q already exists", user.ID)
	}
	tx.wrote = true
	if user.Teams == nil {
		user.Teams = map[string]domain.TeamSummary{}
	}
	user.CreatedAt = tx.now
	user.UpdatedAt = tx.now
	tx.userWrites = append(tx.userWrites, userWrite{kind: userWriteCreate, id: user.ID, doc: CloneUser(user)})
	return CloneUser(user), nil
}

// DeleteUser removes a user document; absent documents are a no-op.
func (tx *transaction) DeleteUser(id string) error {
	if id == "" {
		return fmt.Errorf("user id required")
	}
	tx.wrote = true
	tx.userWrites = append(tx.userWrites, userWrite{kind: userWriteDelete, id: id})
	return nil
}

// SetUserTeam merge-writes one team summary onto a user document.
func (tx *transaction) SetUserTeam(userID, teamID string, summary domain.TeamSummary) error {
	if userID == "" || teamID == "" {
		return fmt.Errorf("user id and team id required")
	}
	tx.wrote = true
	tx.userWrites = append(tx.userWrites, userWrite{
		kind:    userWriteMergeSummary,
		id:      userID,
		teamID:  teamID,
		summary: cloneSummary(summary),
	})
	return nil
}

// RemoveUserTeam deletes one team entry from a user document.
func (tx *transaction) RemoveUserTeam(userID, teamID string) error {
	if userID == "" || teamID == "" {
		return fmt.Errorf("user id and team id required")
	}
	tx.wrote = true
	tx.userWrites = append(tx.userWrites, userWrite{kind: userWriteRemoveSummary, id: userID, teamID: teamID})
	return nil
}

// RunInTransaction executes fn atomically. On read-set conflict the body is
// re-executed against a fresh snapshot, up to the configured attempt budget.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.RLock()
		base := s.state.clone()
		s.mu.RUnlock()

		tx := &transaction{
			base:  base,
			now:   s.nowFn(),
			reads: make(map[readKey]uint64),
		}
		if err := fn(tx); err != nil {
			return err
		}

		s.mu.Lock()
		if s.conflicts(tx) {
			s.mu.Unlock()
			if attempt >= s.maxAttempts {
				return fmt.Errorf("commit after %d attempts: %w", attempt, domain.ErrTransactionConflict)
			}
			continue
		}
		changes := s.apply(tx)
		s.mu.Unlock()

		s.deliver(changes)
		return nil
	}
}

func (s *Store) conflicts(tx *transaction) bool {
	for key, version := range tx.reads {
		var live uint64
		switch key.entity {
		case domain.EntityTeam:
			live = s.state.teams[key.id].version
		case domain.EntityUser:
			live = s.state.users[key.id].version
		}
		if live != version {
			return true
		}
	}
	return false
}

// apply installs the transaction's buffered writes into committed state and
// builds the trigger deliveries for every team document write. Must be called
// with the store lock held.
func (s *Store) apply(tx *transaction) []domain.TeamChange {
	for _, w := range tx.userWrites {
		live, exists := s.state.users[w.id]
		switch w.kind {
		case userWriteCreate:
			s.state.users[w.id] = versioned[domain.User]{doc: w.doc, version: live.version + 1}
		case userWriteDelete:
			if exists {
				delete(s.state.users, w.id)
			}
		case userWriteMergeSummary:
			doc := live.doc
			if !exists {
				doc = domain.User{Base: domain.Base{ID: w.id, CreatedAt: tx.now}}
			}
			if doc.Teams == nil {
				doc.Teams = map[string]domain.TeamSummary{}
			}
			doc.Teams[w.teamID] = w.summary
			doc.UpdatedAt = tx.now
			s.state.users[w.id] = versioned[domain.User]{doc: doc, version: live.version + 1}
		case userWriteRemoveSummary:
			if !exists {
				continue
			}
			doc := live.doc
			if doc.Teams != nil {
				delete(doc.Teams, w.teamID)
			}
			doc.UpdatedAt = tx.now
			s.state.users[w.id] = versioned[domain.User]{doc: doc, version: live.version + 1}
		}
	}

	var changes []domain.TeamChange
	for _, w := range tx.teamWrites {
		live, exists := s.state.teams[w.id]
		before := domain.UndefinedChangePayload()
		if exists {
			before = mustPayload(live.doc)
		}
		if w.doc == nil {
			if exists {
				delete(s.state.teams, w.id)
			}
			if !exists {
				// deleting an absent document is a no-op and fires no trigger
				continue
			}
			changes = append(changes, domain.TeamChange{TeamID: w.id, Before: before, After: domain.UndefinedChangePayload()})
			continue
		}
		doc := *w.doc
		doc.CreatedAt = live.doc.CreatedAt
		if !exists {
			doc.CreatedAt = tx.now
		}
		doc.UpdatedAt = tx.now
		s.state.teams[w.id] = versioned[domain.Team]{doc: doc, version: live.version + 1}
		changes = append(changes, domain.TeamChange{TeamID: w.id, Before: before, After: mustPayload(doc)})
	}
	return changes
}

func mustPayload(v any) domain.ChangePayload {
	payload, err := domain.NewChangePayloadFromValue(v)
	if err != nil {
		panic(fmt.Errorf("memory: encode change payload: %w", err))
	}
	return payload
}

func (s *Store) deliver(changes []domain.TeamChange) {
	if len(changes) == 0 {
		return
	}
	s.hookMu.RLock()
	hook := s.teamWriteHook
	s.hookMu.RUnlock()
	if hook == nil {
		return
	}
	for _, change := range changes {
		hook(change)
	}
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(storeView{state: &snapshot})
}

type storeView struct {
	state *state
}

// FindTeam retrieves a team by ID from the snapshot.
func (v storeView) FindTeam(id string) (domain.Team, bool) {
	t, ok := v.state.teams[id]
	if !ok {
		return domain.Team{}, false
	}
	return CloneTeam(t.doc), true
}

// FindUser retrieves a user by ID from the snapshot.
func (v storeView) FindUser(id string) (domain.User, bool) {
	u, ok := v.state.users[id]
	if !ok {
		return domain.User{}, false
	}
	return CloneUser(u.doc), true
}

// ListTeams returns all teams ordered by ID.
func (v storeView) ListTeams() []domain.Team {
	out := make([]domain.Team, 0, len(v.state.teams))
	for _, t := range v.state.teams {
		out = append(out, CloneTeam(t.doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListUsers returns all users ordered by ID.
func (v storeView) ListUsers() []domain.User {
	out := make([]domain.User, 0, len(v.state.users))
	for _, u := range v.state.users {
		out = append(out, CloneUser(u.doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetTeam retrieves a team by ID from committed state.
func (s *Store) GetTeam(id string) (domain.Team, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.teams[id]
	if !ok {
		return domain.Team{}, false
	}
	return CloneTeam(t.doc), true
}

// GetUser retrieves a user by ID from committed state.
func (s *Store) GetUser(id string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.users[id]
	if !ok {
		return domain.User{}, false
	}
	return CloneUser(u.doc), true
}

// ListTeams returns all teams from committed state ordered by ID.
func (s *Store) ListTeams() []domain.Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Team, 0, len(s.state.teams))
	for _, t := range s.state.teams {
		out = append(out, CloneTeam(t.doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListUsers returns all users from committed state ordered by ID.
func (s *Store) ListUsers() []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.User, 0, len(s.state.users))
	for _, u := range s.state.users {
		out = append(out, CloneUser(u.doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
