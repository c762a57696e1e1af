package core

import (
	"context"
	"errors"

	"mellon/pkg/domain"
)

// ErrEmailRequired is returned by LookupAccountByEmail for an empty address.
var ErrEmailRequired = errors.New("core: email address required")

// OnAccountCreated provisions the user document stub for a new account: an
// empty teams mapping plus the account's email.
func (s *Service) OnAccountCreated(ctx context.Context, accountID, email string) (domain.User, error) {
	var created domain.User
	err := s.observe(ctx, "account_created", domain.EntityUser, domain.ActionCreate, accountID, func(ctx context.Context) (string, error) {
		return "", s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			user, err := tx.CreateUser(domain.User{
				Base:  domain.Base{ID: accountID},
				Email: email,
				Teams: map[string]domain.TeamSummary{},
			})
			if err != nil {
				return err
			}
			created = user
			return nil
		})
	})
	if err != nil {
		return domain.User{}, err
	}
	return created, nil
}

// OnAccountDeleted removes the account's user document. Deleting an absent
// document is a no-op.
//
// TODO: also remove the account from the member maps of teams it belonged
// to; until then those entries are only pruned when the team is next written.
func (s *Service) OnAccountDeleted(ctx context.Context, accountID string) error {
	return s.observe(ctx, "account_deleted", domain.EntityUser, domain.ActionDelete, accountID, func(ctx context.Context) (string, error) {
		return "", s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.DeleteUser(accountID)
		})
	})
}

// Ping is the liveness probe.
func (s *Service) Ping() string { return "pong!" }

// LookupAccountByEmail resolves an email address to an account ID. It
// returns the empty string when no account matches. Ties on duplicate
// addresses resolve to the lowest account ID.
func (s *Service) LookupAccountByEmail(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", ErrEmailRequired
	}
	var accountID string
	err := s.observe(ctx, "lookup_account", domain.EntityUser, "", "", func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, func(view domain.TransactionView) error {
			for _, user := range view.ListUsers() {
				if user.Email == email {
					accountID = user.ID
					return nil
				}
			}
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return accountID, nil
}
