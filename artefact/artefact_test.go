package artefact_test

import (
	"sort"
	"testing"

	"github.com/foundry-build/forge/artefact"
)

func TestNewHasEmptyCurrentPrebuilds(t *testing.T) {
	t.Parallel()
	store := artefact.New()
	if got := store.Paths(artefact.CurrentPrebuilds); len(got) != 0 {
		t.Errorf("expected no current prebuilds, got %v", got)
	}
}

func TestResetClearsCollections(t *testing.T) {
	t.Parallel()
	store := artefact.New()
	store.Set(artefact.AllSource, []string{"a.f90"})
	store.AddCurrentPrebuilds("a.123.o")

	store.Reset()

	if got := store.Paths(artefact.AllSource); len(got) != 0 {
		t.Errorf("expected all_source to be cleared, got %v", got)
	}
	if got := store.Paths(artefact.CurrentPrebuilds); len(got) != 0 {
		t.Errorf("expected CURRENT_PREBUILDS to be cleared, got %v", got)
	}
}

func TestAddCurrentPrebuildsMerges(t *testing.T) {
	t.Parallel()
	store := artefact.New()
	store.AddCurrentPrebuilds("a.1.o")
	store.AddCurrentPrebuilds("b.2.o")

	got := sortedCopy(store.Paths(artefact.CurrentPrebuilds))
	want := []string{"a.1.o", "b.2.o"}
	if !equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSuffixFilter(t *testing.T) {
	t.Parallel()
	store := artefact.New()
	store.Set(artefact.AllSource, []string{"a.f90", "b.x90", "c.F90", "d.x90"})

	get := artefact.SuffixFilter(artefact.AllSource, ".x90")
	got := sortedCopy(get(store))
	want := []string{"b.x90", "d.x90"}
	if !equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCollectionConcatDedupes(t *testing.T) {
	t.Parallel()
	store := artefact.New()
	store.Set(artefact.PreprocessedX90, []string{"a.x90"})
	store.Set(artefact.AllSource, []string{"a.x90", "b.x90"})

	get := artefact.CollectionConcat(
		artefact.PreprocessedX90,
		artefact.SuffixFilter(artefact.AllSource, ".x90"),
	)

	got := sortedCopy(get(store))
	want := []string{"a.x90", "b.x90"}
	if !equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
