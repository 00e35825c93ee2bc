package vela

// StatementCache holds translated statements keyed by the shape of the
// command they were built from. Implementations are safe for concurrent
// use; reads of cached entries must not block each other.
type StatementCache interface {
	// Load returns the cached value for key.
	Load(key string) (any, bool)

	// LoadOrBuild returns the cached value for key, calling build at most
	// once per key across concurrent callers when it is missing.
	LoadOrBuild(key string, build func() (any, error)) (any, error)

	// Len returns the number of cached entries.
	Len() int

	// Clear removes all entries.
	Clear()
}
