package db

import (
	"testing"
)

// OpenTest opens an isolated in-memory store for a test and closes it
// on cleanup.
func OpenTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
