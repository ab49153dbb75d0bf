package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quizdesk/internal/auth"
	"quizdesk/internal/storage"
)

func testFactory(t *testing.T, provider auth.Provider, store storage.Store, profiles auth.ProfileRepository, created *atomic.Int32) Factory {
	t.Helper()
	return func(clientID string) (*Manager, error) {
		if created != nil {
			created.Add(1)
		}
		client := newTestClient(provider, store, clientID)
		return NewManager(client, profiles, WithLogger(discardLogger())), nil
	}
}

type sweeperStub struct {
	calls atomic.Int32
}

func (s *sweeperStub) DeleteExpired(ctx context.Context) (int64, error) {
	s.calls.Add(1)
	return 0, nil
}

func TestRegistryGetCreatesAndRestoresOnce(t *testing.T) {
	var created atomic.Int32
	registry := NewRegistry(testFactory(t, &providerStub{}, storage.NewMemoryStore(), &profileRepoStub{}, &created), WithRegistryLogger(discardLogger()))
	defer registry.CloseAll()

	var wg sync.WaitGroup
	managers := make([]*Manager, 8)
	for i := range managers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			manager, err := registry.Get(context.Background(), "browser-1")
			if err != nil {
				t.Errorf("get failed: %v", err)
				return
			}
			managers[i] = manager
		}(i)
	}
	wg.Wait()

	for _, manager := range managers {
		if manager != managers[0] {
			t.Fatal("expected every caller to share one manager")
		}
	}
	if created.Load() != 1 {
		t.Fatalf("expected one manager to be created, got %d", created.Load())
	}
	if _, ok := managers[0].Snapshot().State.(Unauthenticated); !ok {
		t.Fatalf("expected restored manager, got %s", managers[0].Snapshot().State.Name())
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one live manager, got %d", registry.Len())
	}
}

func TestRegistryRestoresPersistedSession(t *testing.T) {
	provider, repo, identity := seededProvider(t, auth.RoleUser)
	store := storage.NewMemoryStore()
	registry := NewRegistry(testFactory(t, provider, store, repo, nil))
	defer registry.CloseAll()

	manager, err := registry.Get(context.Background(), "browser-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if _, err := manager.SignIn(context.Background(), identity.Email, testPassword); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	awaitSettled(t, manager)

	if !registry.Evict("browser-1") {
		t.Fatal("expected manager to be evicted")
	}

	restored, err := registry.Get(context.Background(), "browser-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if restored == manager {
		t.Fatal("expected a fresh manager after eviction")
	}
	user, ok := awaitSettled(t, restored).User()
	if !ok || user.Identity.ID != identity.ID {
		t.Fatalf("expected restored user %s, got %+v", identity.ID, restored.Snapshot())
	}
}

func TestRegistryGetPropagatesFactoryError(t *testing.T) {
	registry := NewRegistry(func(clientID string) (*Manager, error) {
		return nil, errors.New("store unavailable")
	})

	if _, err := registry.Get(context.Background(), "browser-1"); err == nil {
		t.Fatal("expected factory error")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected no managers, got %d", registry.Len())
	}
}

func TestRegistrySweepEvictsIdleManagers(t *testing.T) {
	registry := NewRegistry(testFactory(t, &providerStub{}, storage.NewMemoryStore(), &profileRepoStub{}, nil), WithIdleTTL(time.Minute))
	defer registry.CloseAll()

	now := time.Now()
	registry.now = func() time.Time { return now }

	idle, err := registry.Get(context.Background(), "idle")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	now = now.Add(45 * time.Second)
	if _, err := registry.Get(context.Background(), "active"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	now = now.Add(30 * time.Second)

	if removed := registry.Sweep(); removed != 1 {
		t.Fatalf("expected 1 idle manager, got %d", removed)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected 1 live manager, got %d", registry.Len())
	}
	if _, err := idle.SignIn(context.Background(), "jane.doe@lge.com", testPassword); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected evicted manager to be closed, got %v", err)
	}
}

func TestRegistryEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	registry := NewRegistry(testFactory(t, &providerStub{}, storage.NewMemoryStore(), &profileRepoStub{}, nil),
		WithMaxManagers(2),
		WithRegistryLogger(discardLogger()),
	)
	defer registry.CloseAll()

	now := time.Now()
	registry.now = func() time.Time { return now }

	oldest, err := registry.Get(context.Background(), "browser-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := registry.Get(context.Background(), "browser-2"); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := registry.Get(context.Background(), "browser-3"); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if registry.Len() != 2 {
		t.Fatalf("expected the cap to hold 2 managers, got %d", registry.Len())
	}
	if _, ok := registry.lookup("browser-1"); ok {
		t.Fatal("expected the least recently used manager to be evicted")
	}
	if _, err := oldest.SignIn(context.Background(), "jane.doe@lge.com", testPassword); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected evicted manager to be closed, got %v", err)
	}
}

func TestRegistryRunSweepsStorageUntilCancelled(t *testing.T) {
	sweeper := &sweeperStub{}
	registry := NewRegistry(testFactory(t, &providerStub{}, storage.NewMemoryStore(), &profileRepoStub{}, nil),
		WithStorageSweeper(sweeper),
		WithRegistryLogger(discardLogger()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- registry.Run(ctx, 10*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for sweeper.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("storage sweeper was never called")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
