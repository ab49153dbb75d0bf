package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"quizdesk/internal/auth"
)

func TestSeedDemoAccounts(t *testing.T) {
	ctx := context.Background()
	provider := auth.NewMemoryProvider("test-secret")
	profiles := auth.NewInMemoryRepository(nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := seedDemoAccounts(ctx, provider, profiles, logger); err != nil {
		t.Fatalf("seedDemoAccounts returned error: %v", err)
	}

	for _, account := range demoAccounts() {
		session, err := provider.SignInWithPassword(ctx, account.email, demoPassword)
		if err != nil {
			t.Fatalf("expected %s to sign in: %v", account.email, err)
		}
		profile, err := profiles.FindProfile(ctx, session.User.ID)
		if err != nil || profile == nil {
			t.Fatalf("expected profile for %s, got %v, %v", account.email, profile, err)
		}
		if profile.Role != account.role {
			t.Fatalf("expected role %q for %s, got %q", account.role, account.email, profile.Role)
		}
	}
}

func TestSeedDemoAccountsRequiresMemoryProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := seedDemoAccounts(context.Background(), nil, auth.NewInMemoryRepository(nil), logger); err == nil {
		t.Fatal("expected error without memory provider")
	}
}
