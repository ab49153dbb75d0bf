package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quizdesk/internal/auth"
)

// demoPassword is shared by every local demo account.
const demoPassword = "quizdesk-demo"

type demoAccount struct {
	email string
	role  auth.Role
}

// demoAccounts returns the accounts available in local development.
func demoAccounts() []demoAccount {
	return []demoAccount{
		{email: "admin@lge.com", role: auth.RoleAdmin},
		{email: "john.doe@lge.com", role: auth.RoleUser},
		{email: "sarah.j@lge.com", role: auth.RoleUser},
	}
}

// seedDemoAccounts registers the demo accounts with the in-memory provider and
// creates their profiles.
func seedDemoAccounts(ctx context.Context, provider *auth.MemoryProvider, profiles auth.ProfileRepository, logger *slog.Logger) error {
	if provider == nil {
		return errors.New("seed demo accounts: memory provider required")
	}

	now := time.Now().UTC()
	for _, account := range demoAccounts() {
		identity, err := provider.AddUser(account.email, demoPassword, true)
		if err != nil {
			return fmt.Errorf("seed %s: %w", account.email, err)
		}
		profile := auth.Profile{ID: identity.ID, Email: identity.Email, Role: account.role, CreatedAt: now}
		if _, err := profiles.CreateProfile(ctx, profile); err != nil {
			return fmt.Errorf("seed profile %s: %w", account.email, err)
		}
		logger.Info("seeded demo account", "email", account.email, "role", account.role)
	}
	return nil
}
