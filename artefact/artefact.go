// Package artefact implements forge's artefact store: the typed, named
// collections a pipeline's steps pass between each other.
//
// A Store is process-local and written only from the main goroutine; steps
// running inside a parallel.Map worker never see a live *Store, only the
// plain values handed to them by their caller, which is how this package
// realises the "workers never mutate shared state" rule without needing a
// mutex.
package artefact

// Well-known collection names, matching the set every step in this system
// reads from or writes to.
const (
	AllSource        = "all_source"
	PreprocessedX90  = "preprocessed_x90"
	PsycloneOutput   = "psyclone_output"
	BuildTrees       = "BUILD_TREES"
	ObjectFiles      = "OBJECT_FILES"
	CurrentPrebuilds = "CURRENT_PREBUILDS"
)

// Store is a process-local mapping from collection name to collection
// value. Collections are untyped at the store level (any); callers know
// the concrete type for the name they're reading, exactly as the
// collection name constants above document.
type Store struct {
	collections map[string]any
}

// New creates an empty Store with CURRENT_PREBUILDS initialised to an
// empty set, matching the state a fresh pipeline run starts from.
func New() *Store {
	return &Store{
		collections: map[string]any{
			CurrentPrebuilds: map[string]struct{}{},
		},
	}
}

// Reset clears every collection back to the state New returns, run at the
// start of every Run() invocation.
func (s *Store) Reset() {
	s.collections = map[string]any{
		CurrentPrebuilds: map[string]struct{}{},
	}
}

// Get returns the raw value stored under name, and whether it was present.
func (s *Store) Get(name string) (any, bool) {
	v, ok := s.collections[name]
	return v, ok
}

// Set stores value under name, overwriting whatever was there.
func (s *Store) Set(name string, value any) {
	s.collections[name] = value
}

// Paths returns the collection at name as a slice of paths, or an empty
// slice if the collection is absent or empty. Collections may be stored as
// either []string or map[string]struct{} (a set); both are accepted so
// step authors can pick whichever is natural for their step.
func (s *Store) Paths(name string) []string {
	v, ok := s.collections[name]
	if !ok {
		return nil
	}
	switch collection := v.(type) {
	case []string:
		out := make([]string, len(collection))
		copy(out, collection)
		return out
	case map[string]struct{}:
		out := make([]string, 0, len(collection))
		for p := range collection {
			out = append(out, p)
		}
		return out
	default:
		return nil
	}
}

// AddCurrentPrebuilds marks paths as current prebuilds, so housekeeping
// knows not to sweep them. This is the only collection any step besides
// the owner of CURRENT_PREBUILDS is expected to merge into rather than
// overwrite.
func (s *Store) AddCurrentPrebuilds(paths ...string) {
	raw, ok := s.collections[CurrentPrebuilds]
	if !ok {
		raw = map[string]struct{}{}
	}
	current, ok := raw.(map[string]struct{})
	if !ok {
		current = map[string]struct{}{}
	}
	for _, p := range paths {
		current[p] = struct{}{}
	}
	s.collections[CurrentPrebuilds] = current
}

// CurrentPrebuildSet returns the set of paths currently marked current.
func (s *Store) CurrentPrebuildSet() map[string]struct{} {
	raw, ok := s.collections[CurrentPrebuilds]
	if !ok {
		return map[string]struct{}{}
	}
	current, ok := raw.(map[string]struct{})
	if !ok {
		return map[string]struct{}{}
	}
	out := make(map[string]struct{}, len(current))
	for p := range current {
		out[p] = struct{}{}
	}
	return out
}
