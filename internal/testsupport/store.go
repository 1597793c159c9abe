package testsupport

import (
	"context"
	"testing"

	"sharepipe/internal/config"
	"sharepipe/internal/shares"
)

// MustOpenStore opens a shares.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *shares.Store {
	t.Helper()

	store, err := shares.Open(cfg)
	if err != nil {
		t.Fatalf("shares.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewShare creates a share for tests using the provided store.
func NewShare(t testing.TB, store *shares.Store, id, userID, url, platform string, tier shares.UserTier) *shares.Share {
	t.Helper()

	share, err := store.NewShare(context.Background(), id, userID, url, platform, tier)
	if err != nil {
		t.Fatalf("store.NewShare: %v", err)
	}
	return share
}
