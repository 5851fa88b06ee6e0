// Package kvtest provides a conformance test suite for kv.Full
// implementations.
//
// All backends (memory, badgerkv) should pass these tests. The suite
// verifies the behavioral contract of the three capability levels,
// catching regressions when backend code changes.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    kvtest.RunConformanceSuite(t, func(t *testing.T) kv.Full[string] {
//	        return memory.New[string]()
//	    })
//	}
//
// The factory receives *testing.T so it can call t.TempDir() for
// backends that need filesystem paths and t.Cleanup for teardown.
package kvtest

import (
	"testing"

	"github.com/marmos91/pixstore/pkg/kv"
)

// StoreFactory creates a fresh store instance for each test.
type StoreFactory func(t *testing.T) kv.Full[string]

// RunConformanceSuite runs the full conformance test suite against the
// provided store factory. Each test gets a fresh store for isolation.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("PlainOps", func(t *testing.T) {
		runPlainOpsTests(t, factory)
	})

	t.Run("VersionedOps", func(t *testing.T) {
		runVersionedOpsTests(t, factory)
	})

	t.Run("ConditionalOps", func(t *testing.T) {
		runConditionalOpsTests(t, factory)
	})
}

// ============================================================================
// Plain Store
// ============================================================================

func runPlainOpsTests(t *testing.T, factory StoreFactory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("SetThenGet", func(t *testing.T) { testSetThenGet(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("DeleteMissing", func(t *testing.T) { testDeleteMissing(t, factory) })
	t.Run("Has", func(t *testing.T) { testHas(t, factory) })
	t.Run("BatchOps", func(t *testing.T) { testBatchOps(t, factory) })
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	value, found, err := store.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Error("Get() found = true, want false for missing key")
	}
	if value != "" {
		t.Errorf("Get() value = %q, want zero value", value)
	}
}

func testSetThenGet(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Set(ctx, "greeting", "hello", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	value, found, err := store.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !found {
		t.Fatal("Get() found = false, want true")
	}
	if value != "hello" {
		t.Errorf("Get() value = %q, want %q", value, "hello")
	}
}

func testOverwrite(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Set(ctx, "k", "first", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Set(ctx, "k", "second", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	value, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "second" {
		t.Errorf("Get() value = %q, want %q", value, "second")
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Set(ctx, "k", "v", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	_, found, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if found {
		t.Error("Get() found = true after Delete(), want false")
	}
}

func testDeleteMissing(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete() on missing key failed: %v", err)
	}
}

func testHas(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	found, err := store.Has(ctx, "k")
	if err != nil {
		t.Fatalf("Has() failed: %v", err)
	}
	if found {
		t.Error("Has() = true for missing key, want false")
	}

	if err := store.Set(ctx, "k", "v", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	found, err = store.Has(ctx, "k")
	if err != nil {
		t.Fatalf("Has() failed: %v", err)
	}
	if !found {
		t.Error("Has() = false after Set(), want true")
	}
}

func testBatchOps(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	err := store.SetMany(ctx, map[string]string{
		"a": "1",
		"b": "2",
		"c": "3",
	}, nil)
	if err != nil {
		t.Fatalf("SetMany() failed: %v", err)
	}

	// Missing keys are simply absent from the result.
	values, err := store.GetMany(ctx, []string{"a", "c", "missing"})
	if err != nil {
		t.Fatalf("GetMany() failed: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("GetMany() returned %d values, want 2", len(values))
	}
	if values["a"] != "1" || values["c"] != "3" {
		t.Errorf("GetMany() = %v, want a=1 c=3", values)
	}

	if err := store.DeleteMany(ctx, []string{"a", "b", "missing"}); err != nil {
		t.Fatalf("DeleteMany() failed: %v", err)
	}

	found, err := store.Has(ctx, "c")
	if err != nil {
		t.Fatalf("Has() failed: %v", err)
	}
	if !found {
		t.Error("Has(c) = false, want true after partial DeleteMany")
	}
	found, err = store.Has(ctx, "a")
	if err != nil {
		t.Fatalf("Has() failed: %v", err)
	}
	if found {
		t.Error("Has(a) = true, want false after DeleteMany")
	}
}

// ============================================================================
// Versioned Store
// ============================================================================

func runVersionedOpsTests(t *testing.T, factory StoreFactory) {
	t.Run("GetVersionedMissing", func(t *testing.T) { testGetVersionedMissing(t, factory) })
	t.Run("VersionChangesOnWrite", func(t *testing.T) { testVersionChangesOnWrite(t, factory) })
	t.Run("VersionChangesOnSameValueWrite", func(t *testing.T) { testVersionChangesOnSameValueWrite(t, factory) })
	t.Run("CASWritten", func(t *testing.T) { testCASWritten(t, factory) })
	t.Run("CASConflict", func(t *testing.T) { testCASConflict(t, factory) })
	t.Run("CASNotFound", func(t *testing.T) { testCASNotFound(t, factory) })
	t.Run("CASLostRace", func(t *testing.T) { testCASLostRace(t, factory) })
}

func testGetVersionedMissing(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	got, err := store.GetVersioned(ctx, "missing")
	if err != nil {
		t.Fatalf("GetVersioned() failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetVersioned() = %v, want nil for missing key", got)
	}
}

func testVersionChangesOnWrite(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Set(ctx, "k", "v1", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	first, err := store.GetVersioned(ctx, "k")
	if err != nil {
		t.Fatalf("GetVersioned() failed: %v", err)
	}

	if err := store.Set(ctx, "k", "v2", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	second, err := store.GetVersioned(ctx, "k")
	if err != nil {
		t.Fatalf("GetVersioned() failed: %v", err)
	}

	if first.Version == second.Version {
		t.Errorf("version unchanged across writes: %q", first.Version)
	}
	if second.Value != "v2" {
		t.Errorf("Value = %q, want %q", second.Value, "v2")
	}
}

func testVersionChangesOnSameValueWrite(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Set(ctx, "k", "same", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	first, err := store.GetVersioned(ctx, "k")
	if err != nil {
		t.Fatalf("GetVersioned() failed: %v", err)
	}

	// Writing the identical value must still produce a new version.
	if err := store.Set(ctx, "k", "same", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	second, err := store.GetVersioned(ctx, "k")
	if err != nil {
		t.Fatalf("GetVersioned() failed: %v", err)
	}

	if first.Version == second.Version {
		t.Errorf("version unchanged across same-value writes: %q", first.Version)
	}
}

func testCASWritten(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Set(ctx, "k", "v1", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	current, err := store.GetVersioned(ctx, "k")
	if err != nil {
		t.Fatalf("GetVersioned() failed: %v", err)
	}

	result, err := store.SetIfVersion(ctx, "k", "v2", current.Version, nil)
	if err != nil {
		t.Fatalf("SetIfVersion() failed: %v", err)
	}
	if result.Outcome != kv.CASWritten {
		t.Fatalf("Outcome = %v, want CASWritten", result.Outcome)
	}
	if result.Version == "" || result.Version == current.Version {
		t.Errorf("CAS result version %q should be a fresh token", result.Version)
	}

	value, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "v2" {
		t.Errorf("Get() value = %q, want %q", value, "v2")
	}
}

func testCASConflict(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Set(ctx, "k", "v1", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	stale, err := store.GetVersioned(ctx, "k")
	if err != nil {
		t.Fatalf("GetVersioned() failed: %v", err)
	}

	// Another writer moves the key forward.
	if err := store.Set(ctx, "k", "v2", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	result, err := store.SetIfVersion(ctx, "k", "lost", stale.Version, nil)
	if err != nil {
		t.Fatalf("SetIfVersion() failed: %v", err)
	}
	if result.Outcome != kv.CASConflict {
		t.Fatalf("Outcome = %v, want CASConflict", result.Outcome)
	}

	// The conflicting write must not be applied.
	value, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "v2" {
		t.Errorf("Get() value = %q, want %q after conflict", value, "v2")
	}
}

func testCASNotFound(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	result, err := store.SetIfVersion(ctx, "missing", "v", kv.Version("1"), nil)
	if err != nil {
		t.Fatalf("SetIfVersion() failed: %v", err)
	}
	if result.Outcome != kv.CASNotFound {
		t.Fatalf("Outcome = %v, want CASNotFound", result.Outcome)
	}
}

func testCASLostRace(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Set(ctx, "k", "v1", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	read, err := store.GetVersioned(ctx, "k")
	if err != nil {
		t.Fatalf("GetVersioned() failed: %v", err)
	}

	// First CAS wins; replay with the same expected version loses.
	first, err := store.SetIfVersion(ctx, "k", "winner", read.Version, nil)
	if err != nil {
		t.Fatalf("SetIfVersion() failed: %v", err)
	}
	if first.Outcome != kv.CASWritten {
		t.Fatalf("first Outcome = %v, want CASWritten", first.Outcome)
	}

	second, err := store.SetIfVersion(ctx, "k", "loser", read.Version, nil)
	if err != nil {
		t.Fatalf("SetIfVersion() failed: %v", err)
	}
	if second.Outcome != kv.CASConflict {
		t.Fatalf("second Outcome = %v, want CASConflict", second.Outcome)
	}
}

// ============================================================================
// Conditional Store
// ============================================================================

func runConditionalOpsTests(t *testing.T, factory StoreFactory) {
	t.Run("SetIfNotExists", func(t *testing.T) { testSetIfNotExists(t, factory) })
	t.Run("SetIfNotExistsSkips", func(t *testing.T) { testSetIfNotExistsSkips(t, factory) })
	t.Run("SetIfExists", func(t *testing.T) { testSetIfExists(t, factory) })
	t.Run("SetIfExistsSkips", func(t *testing.T) { testSetIfExistsSkips(t, factory) })
	t.Run("ConditionalWriteBumpsVersion", func(t *testing.T) { testConditionalWriteBumpsVersion(t, factory) })
}

func testSetIfNotExists(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	written, err := store.SetIfNotExists(ctx, "k", "v", nil)
	if err != nil {
		t.Fatalf("SetIfNotExists() failed: %v", err)
	}
	if !written {
		t.Fatal("SetIfNotExists() = false, want true for absent key")
	}

	value, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "v" {
		t.Errorf("Get() value = %q, want %q", value, "v")
	}
}

func testSetIfNotExistsSkips(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Set(ctx, "k", "original", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	written, err := store.SetIfNotExists(ctx, "k", "replacement", nil)
	if err != nil {
		t.Fatalf("SetIfNotExists() failed: %v", err)
	}
	if written {
		t.Fatal("SetIfNotExists() = true, want false for present key")
	}

	value, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "original" {
		t.Errorf("Get() value = %q, want untouched %q", value, "original")
	}
}

func testSetIfExists(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Set(ctx, "k", "v1", nil); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	written, err := store.SetIfExists(ctx, "k", "v2", nil)
	if err != nil {
		t.Fatalf("SetIfExists() failed: %v", err)
	}
	if !written {
		t.Fatal("SetIfExists() = false, want true for present key")
	}

	value, _, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if value != "v2" {
		t.Errorf("Get() value = %q, want %q", value, "v2")
	}
}

func testSetIfExistsSkips(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	written, err := store.SetIfExists(ctx, "missing", "v", nil)
	if err != nil {
		t.Fatalf("SetIfExists() failed: %v", err)
	}
	if written {
		t.Fatal("SetIfExists() = true, want false for absent key")
	}

	found, err := store.Has(ctx, "missing")
	if err != nil {
		t.Fatalf("Has() failed: %v", err)
	}
	if found {
		t.Error("Has() = true, key must not be created by a skipped write")
	}
}

func testConditionalWriteBumpsVersion(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if _, err := store.SetIfNotExists(ctx, "k", "v1", nil); err != nil {
		t.Fatalf("SetIfNotExists() failed: %v", err)
	}
	first, err := store.GetVersioned(ctx, "k")
	if err != nil {
		t.Fatalf("GetVersioned() failed: %v", err)
	}

	if _, err := store.SetIfExists(ctx, "k", "v2", nil); err != nil {
		t.Fatalf("SetIfExists() failed: %v", err)
	}
	second, err := store.GetVersioned(ctx, "k")
	if err != nil {
		t.Fatalf("GetVersioned() failed: %v", err)
	}

	if first.Version == second.Version {
		t.Errorf("version unchanged across conditional writes: %q", first.Version)
	}
}
