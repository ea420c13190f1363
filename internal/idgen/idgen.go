// Package idgen provides an injectable Sync Group id source, per spec
// section 9's design note that UUID generation should be a testable
// collaborator rather than a hardcoded call site.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Source returns a freshly generated, UUID-shaped group id.
type Source func() string

// UUID is the production Source, backed by google/uuid.
func UUID() string {
	return uuid.NewString()
}

// Sequential returns a deterministic Source for tests: successive calls
// yield "test-group-1", "test-group-2", and so on.
func Sequential() Source {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("test-group-%d", n)
	}
}
