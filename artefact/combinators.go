package artefact

import "strings"

// Getter is a pure function of a Store that selects a list of paths from
// it. Getters compose: CollectionConcat combines several into one.
type Getter func(store *Store) []string

// CollectionGetter returns a Getter that is the identity function over a
// single named collection.
func CollectionGetter(name string) Getter {
	return func(store *Store) []string {
		return store.Paths(name)
	}
}

// SuffixFilter returns a Getter that selects members of a collection whose
// path ends with suffix.
func SuffixFilter(name, suffix string) Getter {
	return func(store *Store) []string {
		var out []string
		for _, p := range store.Paths(name) {
			if strings.HasSuffix(p, suffix) {
				out = append(out, p)
			}
		}
		return out
	}
}

// CollectionConcat returns a Getter that is the union of several items,
// each of which is either a collection name (string) or another Getter.
// Passing a bare name is sugar for CollectionGetter(name).
func CollectionConcat(items ...any) Getter {
	getters := make([]Getter, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			getters = append(getters, CollectionGetter(v))
		case Getter:
			getters = append(getters, v)
		default:
			panic("artefact: CollectionConcat item must be a string or a Getter")
		}
	}

	return func(store *Store) []string {
		seen := make(map[string]struct{})
		var out []string
		for _, get := range getters {
			for _, p := range get(store) {
				if _, ok := seen[p]; ok {
					continue
				}
				seen[p] = struct{}{}
				out = append(out, p)
			}
		}
		return out
	}
}
