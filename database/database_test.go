package database

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *IdentityStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "identities.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store *IdentityStore, seasonID string, entries ...UserRecord) {
	t.Helper()
	if err := store.SeedSeason(seasonID, entries); err != nil {
		t.Fatalf("seed %v: %v", seasonID, err)
	}
}

func TestResolve(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, "2025E", UserRecord{DisplayName: "Ann", ExternalID: "ext-1"})

	rec, err := store.Resolve("2025E", "ext-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.DisplayName != "Ann" || rec.SeasonID != "2025E" || rec.Verified() {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := store.Resolve("2025E", "ext-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Resolve("2030X", "ext-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown season, got %v", err)
	}
}

func TestBind(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, "2025E", UserRecord{DisplayName: "Ann", ExternalID: "ext-1"})

	if err := store.Bind("2025E", "ext-1", "plat-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	rec, err := store.Resolve("2025E", "ext-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.PlatformID != "plat-1" || !rec.Verified() || rec.BoundAt.IsZero() {
		t.Fatalf("unexpected record after bind: %+v", rec)
	}

	// Re-binding the same account is a no-op success
	if err := store.Bind("2025E", "ext-1", "plat-1"); err != nil {
		t.Fatalf("re-bind same account: %v", err)
	}

	// A different account must never steal the binding
	if err := store.Bind("2025E", "ext-1", "plat-2"); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}

	if err := store.Bind("2025E", "ext-missing", "plat-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBindConcurrent(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, "2025E", UserRecord{DisplayName: "Ann", ExternalID: "ext-1"})

	const claimants = 16
	var wg sync.WaitGroup
	errs := make([]error, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Bind("2025E", "ext-1", string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrAlreadyBound):
		default:
			t.Fatalf("unexpected bind error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winning bind, got %v", won)
	}
}

func TestSeedPreservesBinding(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, "2025E", UserRecord{DisplayName: "Ann", ExternalID: "ext-1"})
	if err := store.Bind("2025E", "ext-1", "plat-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	// Re-seed with a corrected display name
	seed(t, store, "2025E", UserRecord{DisplayName: "Ann B", ExternalID: "ext-1"})

	rec, err := store.Resolve("2025E", "ext-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.DisplayName != "Ann B" {
		t.Fatalf("expected refreshed display name, got %q", rec.DisplayName)
	}
	if rec.PlatformID != "plat-1" {
		t.Fatalf("re-seed must not touch the binding, got %q", rec.PlatformID)
	}
}

func TestFindByPlatformID(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, "2025E",
		UserRecord{DisplayName: "Ann", ExternalID: "ext-1"},
		UserRecord{DisplayName: "Bo", ExternalID: "ext-2"},
	)
	if err := store.Bind("2025E", "ext-2", "plat-2"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	rec, err := store.FindByPlatformID("2025E", "plat-2")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.ExternalID != "ext-2" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := store.FindByPlatformID("2025E", "plat-unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifiedRecords(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, "2025E",
		UserRecord{DisplayName: "Ann", ExternalID: "ext-1"},
		UserRecord{DisplayName: "Bo", ExternalID: "ext-2"},
		UserRecord{DisplayName: "Cyd", ExternalID: "ext-3"},
	)
	if err := store.Bind("2025E", "ext-1", "plat-1"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := store.Bind("2025E", "ext-3", "plat-3"); err != nil {
		t.Fatalf("bind: %v", err)
	}

	recs, err := store.VerifiedRecords("2025E")
	if err != nil {
		t.Fatalf("verified records: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 verified records, got %v", len(recs))
	}
	for _, r := range recs {
		if !r.Verified() {
			t.Fatalf("unverified record in result: %+v", r)
		}
	}
}
