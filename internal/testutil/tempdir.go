// Package testutil collects small helpers shared across the storage
// kernel's test suites, grounded on the teacher's common/testutil.
package testutil

import (
	"os"
	"testing"
)

// TempDir creates a temporary directory for a durable store or
// database test and arranges for its removal at test end.
func TempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "tuplgo-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}
